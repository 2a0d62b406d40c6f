//go:build linux

package capability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// xdg-desktop-portal constants for the ScreenCast interface.
const (
	portalDest           = "org.freedesktop.portal.Desktop"
	portalPath           = "/org/freedesktop/portal/desktop"
	screenCastInterface  = "org.freedesktop.portal.ScreenCast"
	requestInterface     = "org.freedesktop.portal.Request"
	sessionInterface     = "org.freedesktop.portal.Session"
	responseSignalMember = "Response"
	closedSignalMember   = "Closed"

	// SelectSources source type: 1 = monitor (whole screen).
	sourceTypeMonitor = uint32(1)
)

// PortalDisplay is a display-capture handle backed by the
// org.freedesktop.portal.ScreenCast D-Bus interface. The portal emits a
// Session Closed signal when the user stops sharing from desktop UI, which
// is surfaced through Done.
type PortalDisplay struct {
	conn    *dbus.Conn
	session dbus.ObjectPath
	logger  *slog.Logger

	done      chan struct{}
	signals   chan *dbus.Signal
	closeOnce sync.Once
}

// CapturePortalDisplay negotiates a full-monitor screen-cast session with
// the desktop portal. It blocks until the user has granted (or denied) the
// share dialog.
func CapturePortalDisplay(ctx context.Context, logger *slog.Logger) (*PortalDisplay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	d := &PortalDisplay{
		conn:   conn,
		logger: logger.With("component", "portal_display"),
		done:   make(chan struct{}),
	}

	sessionToken := portalToken()
	results, err := d.portalCall(ctx, "CreateSession", map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(portalToken()),
		"session_handle_token": dbus.MakeVariant(sessionToken),
	})
	if err != nil {
		return nil, fmt.Errorf("create screencast session: %w", err)
	}

	sessionHandle, ok := results["session_handle"].Value().(string)
	if !ok || sessionHandle == "" {
		return nil, fmt.Errorf("portal returned no session handle")
	}
	d.session = dbus.ObjectPath(sessionHandle)

	if _, err := d.portalCall(ctx, "SelectSources", map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(portalToken()),
		"types":        dbus.MakeVariant(sourceTypeMonitor),
		"multiple":     dbus.MakeVariant(false),
	}, d.session); err != nil {
		return nil, fmt.Errorf("select sources: %w", err)
	}

	if _, err := d.portalCall(ctx, "Start", map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(portalToken()),
	}, d.session, ""); err != nil {
		return nil, fmt.Errorf("start screencast: %w", err)
	}

	if err := d.watchClosed(); err != nil {
		d.Close()
		return nil, err
	}

	d.logger.Info("screen capture started", "path", string(d.session))
	return d, nil
}

// Done is closed when the portal session ends for any reason.
func (d *PortalDisplay) Done() <-chan struct{} {
	return d.done
}

// Close terminates the portal session and deregisters the Closed-signal
// watcher from the shared bus connection. Idempotent.
func (d *PortalDisplay) Close() error {
	d.closeOnce.Do(func() {
		if d.session != "" {
			obj := d.conn.Object(portalDest, d.session)
			if call := obj.Call(sessionInterface+".Close", 0); call.Err != nil {
				d.logger.Debug("portal session close", "error", call.Err)
			}
		}
		if d.signals != nil {
			d.conn.RemoveSignal(d.signals)
		}
		close(d.done)
	})
	return nil
}

// portalCall invokes a ScreenCast method and waits for the matching
// Request.Response signal, returning its results vardict.
func (d *PortalDisplay) portalCall(ctx context.Context, method string, options map[string]dbus.Variant, args ...interface{}) (map[string]dbus.Variant, error) {
	signals := make(chan *dbus.Signal, 8)
	d.conn.Signal(signals)
	defer d.conn.RemoveSignal(signals)

	if err := d.conn.AddMatchSignal(
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseSignalMember),
	); err != nil {
		return nil, fmt.Errorf("match request signal: %w", err)
	}

	callArgs := append(args, options)
	obj := d.conn.Object(portalDest, portalPath)

	var request dbus.ObjectPath
	if err := obj.CallWithContext(ctx, screenCastInterface+"."+method, 0, callArgs...).Store(&request); err != nil {
		return nil, err
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil, fmt.Errorf("signal channel closed")
			}
			if sig.Path != request || len(sig.Body) < 2 {
				continue
			}
			code, _ := sig.Body[0].(uint32)
			if code != 0 {
				// 1 = cancelled by user, 2 = other failure.
				return nil, fmt.Errorf("%s: %w", method, ErrDenied)
			}
			results, _ := sig.Body[1].(map[string]dbus.Variant)
			return results, nil
		}
	}
}

// watchClosed subscribes to the Session Closed signal and closes done when
// it fires.
func (d *PortalDisplay) watchClosed() error {
	if err := d.conn.AddMatchSignal(
		dbus.WithMatchInterface(sessionInterface),
		dbus.WithMatchMember(closedSignalMember),
		dbus.WithMatchObjectPath(d.session),
	); err != nil {
		return fmt.Errorf("match closed signal: %w", err)
	}

	signals := make(chan *dbus.Signal, 8)
	d.conn.Signal(signals)
	d.signals = signals

	// The watcher ends with the capture: Close deregisters the channel and
	// closes done, so the goroutine never outlives the handle on the shared
	// bus connection.
	go func() {
		for {
			select {
			case <-d.done:
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if sig.Path == d.session && sig.Name == sessionInterface+"."+closedSignalMember {
					d.logger.Info("screen capture ended by host")
					d.Close()
					return
				}
			}
		}
	}()

	return nil
}

func portalToken() string {
	var b [8]byte
	rand.Read(b[:])
	return "proctord_" + hex.EncodeToString(b[:])
}
