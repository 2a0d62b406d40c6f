// proctorctl - control client for the proctord daemon
//
//	proctorctl ping             Check daemon liveness
//	proctorctl status           Show daemon and session status
//	proctorctl stop [-reason s] End the active session
//	proctorctl verify [-db p]   Verify the audit trail hash chain
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"proctord/internal/audit"
	"proctord/internal/config"
	"proctord/internal/ipc"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "ping":
		cmdPing(args)
	case "status":
		cmdStatus(args)
	case "stop":
		cmdStop(args)
	case "verify":
		cmdVerify(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `proctorctl - control client for the proctord daemon

Usage:
  proctorctl ping               Check daemon liveness
  proctorctl status [-json]     Show daemon and session status
  proctorctl stop [-reason s]   End the active session
  proctorctl verify [-db path]  Verify the audit trail hash chain

Options:
  -socket path   Daemon socket (default: platform runtime dir)
  -timeout dur   Request timeout (default 10s)
`)
}

// dialFlags parses shared connection flags and returns a connected client.
func dialFlags(fs *flag.FlagSet, args []string) *ipc.Client {
	socket := fs.String("socket", config.SocketPath(), "daemon socket path")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	client, err := ipc.Dial(*socket, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		fmt.Fprintln(os.Stderr, "Is proctord running?")
		os.Exit(1)
	}
	return client
}

func cmdPing(args []string) {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	client := dialFlags(fs, args)
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "print raw JSON")
	client := dialFlags(fs, args)
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if *asJSON {
		out, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	fmt.Printf("proctord %s, up %s\n", status.Version, status.Uptime.Round(time.Second))
	if status.Session == nil {
		fmt.Println("No active session.")
		return
	}

	s := status.Session
	fmt.Printf("Session:    %s\n", s.ID)
	fmt.Printf("State:      %s\n", s.State)
	fmt.Printf("Violations: %d/%d\n", s.ViolationCount, s.ViolationLimit)
	if !s.StartedAt.IsZero() {
		fmt.Printf("Started:    %s\n", s.StartedAt.Format(time.RFC3339))
	}
	for _, name := range s.Detectors {
		fmt.Printf("Detector:   %s\n", name)
	}
}

func cmdStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	reason := fs.String("reason", "operator request", "stop reason recorded in the audit trail")
	client := dialFlags(fs, args)
	defer client.Close()

	resp, err := client.StopSession(*reason)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if !resp.Success {
		fmt.Fprintln(os.Stderr, "Error:", resp.Error)
		os.Exit(1)
	}

	fmt.Println("Session stopped.")
	if resp.ReportPath != "" {
		fmt.Println("Report:", resp.ReportPath)
	}
}

// cmdVerify recomputes the audit hash chain offline. It opens the database
// directly rather than going through the daemon, so it also works on trails
// copied off the machine for review.
func cmdVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	db := fs.String("db", filepath.Join(config.DataDir(), "audit.db"), "audit database path")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	store, err := audit.Open(*db)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Verify(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Audit trail FAILED verification:", err)
		os.Exit(1)
	}
	fmt.Println("Audit trail verified: hash chain intact.")
}
