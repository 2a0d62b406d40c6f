// proctord - integrity monitoring daemon for remote assessments
//
// The daemon runs one proctored session at a time: it acquires display
// capture through the desktop portal, launches the signal detectors, feeds
// the violation ledger, and writes the session report when the session
// ends. Local control goes over a unix socket (see proctorctl).
//
// Exit codes:
//
//	0  session ended normally
//	1  startup or configuration failure
//	2  session terminated for integrity violations
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proctord/internal/audit"
	"proctord/internal/capability"
	"proctord/internal/config"
	"proctord/internal/event"
	"proctord/internal/identity"
	"proctord/internal/ipc"
	"proctord/internal/logging"
	"proctord/internal/session"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to config file (default: platform config dir)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("proctord", version)
		return 0
	}

	cfg, created, err := config.LoadOrCreate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintln(os.Stderr, "prepare data directories:", err)
		return 1
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "setup logging:", err)
		return 1
	}
	defer logger.Close()

	watchPath := *configPath
	if watchPath == "" {
		watchPath = config.ConfigPath()
	}

	log := logger.WithComponent("daemon")
	if created {
		log.Info("wrote default configuration", "path", watchPath)
	}

	// Watch the config file; a reload applies to the next daemon run, so
	// changes are only logged here.
	loader := config.NewLoader(watchPath)
	if _, err := loader.Load(); err == nil {
		loader.OnChange(func(*config.Config) {
			log.Info("configuration changed, restart to apply")
		})
		if err := loader.Watch(); err != nil {
			log.Warn("config watch unavailable", "error", err)
		}
		defer loader.Close()
	}

	store, err := audit.Open(cfg.Storage.AuditPath)
	if err != nil {
		log.Error("open audit store", "error", err)
		return 1
	}
	sink := audit.NewAsyncSink(store, cfg.Storage.AuditQueueSize, logger.Logger)
	defer sink.Close()

	var comparator identity.Comparator
	if cfg.Identity.Enabled {
		comparator = identity.NewHTTPComparator(cfg.Identity.VerifyURL,
			cfg.Identity.DistanceThreshold,
			time.Duration(cfg.Identity.TimeoutSec)*time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	var doneOnce sync.Once
	closeDone := func() { doneOnce.Do(func() { close(done) }) }

	provider := capability.NewHostProvider(logger.Logger)
	sess := session.New(session.SettingsFromConfig(cfg), provider, comparator, sink,
		session.Callbacks{
			OnWarning: func(w event.Warning) {
				log.Warn("integrity warning",
					"severity", w.Severity,
					"type", w.ViolationType,
					"count", w.ViolationCount,
					"message", w.Message,
				)
			},
			OnTerminate: closeDone,
		}, logger.Logger)

	handler := &daemonHandler{
		startedAt: time.Now(),
		session:   sess,
		done:      closeDone,
	}
	server := ipc.NewServer(ipc.ServerConfig{
		SocketPath:     cfg.IPC.SocketPath,
		MaxConnections: cfg.IPC.MaxConnections,
		RequestTimeout: time.Duration(cfg.IPC.TimeoutSec) * time.Second,
	}, handler, logger.Logger)

	if err := server.Start(ctx); err != nil {
		log.Error("start control socket", "error", err)
		return 1
	}
	defer server.Stop()

	if err := sess.Start(ctx); err != nil {
		log.Error("start session", "error", err)
		return 1
	}
	log.Info("proctord running", "version", version, "session_id", sess.ID())

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case <-done:
	}

	if err := sess.Stop(); err != nil {
		log.Error("stop session", "error", err)
	}

	if sess.Terminated() {
		log.Warn("session ended by integrity termination",
			"report", sess.ReportPath())
		return 2
	}
	log.Info("session ended", "report", sess.ReportPath())
	return 0
}

// setupLogging builds the logger from the daemon configuration.
func setupLogging(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    int64(cfg.Logging.MaxSizeMB),
		MaxAge:     cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

// daemonHandler serves the control socket.
type daemonHandler struct {
	startedAt time.Time
	session   *session.Session
	done      func()
}

func (h *daemonHandler) Status() ipc.StatusResponse {
	resp := ipc.StatusResponse{
		Version:   version,
		StartedAt: h.startedAt,
		Uptime:    time.Since(h.startedAt),
	}

	status := h.session.Status()
	resp.Session = &ipc.SessionInfo{
		ID:             status.ID,
		State:          status.State,
		StartedAt:      status.StartedAt,
		ViolationCount: status.ViolationCount,
		ViolationLimit: status.ViolationLimit,
		Detectors:      status.Detectors,
	}
	return resp
}

func (h *daemonHandler) StopSession(reason string) ipc.StopSessionResponse {
	if err := h.session.Stop(); err != nil {
		return ipc.StopSessionResponse{Success: false, Error: err.Error()}
	}
	h.done()
	return ipc.StopSessionResponse{
		Success:    true,
		ReportPath: h.session.ReportPath(),
	}
}
