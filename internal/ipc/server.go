package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"log/slog"
)

// PeerCredentials identifies the process on the other end of a socket.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// Handler serves IPC requests. Implementations must be safe for concurrent
// use; each client connection is served on its own goroutine.
type Handler interface {
	// Status returns the daemon and session status.
	Status() StatusResponse

	// StopSession ends the active session, if any.
	StopSession(reason string) StopSessionResponse
}

// ServerConfig holds IPC server settings.
type ServerConfig struct {
	SocketPath     string
	MaxConnections int
	RequestTimeout time.Duration
}

// Server is the daemon's control socket listener.
type Server struct {
	config  ServerConfig
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      chan struct{}
}

// NewServer creates an IPC server.
func NewServer(cfg ServerConfig, handler Handler, logger *slog.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 8
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		handler: handler,
		logger:  logger.With("component", "ipc_server"),
		sem:     make(chan struct{}, cfg.MaxConnections),
	}
}

// Start binds the socket and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("ipc: server already running")
	}

	// A stale socket from a crashed daemon blocks the bind.
	if err := os.Remove(s.config.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.config.SocketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.listener = listener
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	s.logger.Info("control socket listening", "path", s.config.SocketPath)
	return nil
}

// Stop closes the listener and waits for active connections to finish.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	err := listener.Close()
	s.wg.Wait()
	os.Remove(s.config.SocketPath)
	return err
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.logger.Warn("connection limit reached, rejecting client")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.serveConn(ctx, conn)
		}()
	}
}

// serveConn handles one client connection.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	ok, err := VerifyPeerIsCurrentUser(conn)
	if err != nil {
		s.logger.Warn("peer credential check failed", "error", err)
		return
	}
	if !ok {
		s.logger.Warn("rejecting client from different user")
		msg := NewErrorMessage(0, ErrPermissionDenied, "permission denied")
		_ = msg.Write(conn)
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(s.config.RequestTimeout))
		req, err := ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && !os.IsTimeout(err) {
				s.logger.Debug("read request failed", "error", err)
			}
			return
		}

		resp := s.dispatch(req)

		_ = conn.SetWriteDeadline(time.Now().Add(s.config.RequestTimeout))
		if err := resp.Write(conn); err != nil {
			s.logger.Debug("write response failed", "error", err)
			return
		}
	}
}

// dispatch routes one request to the handler.
func (s *Server) dispatch(req *Message) *Message {
	switch req.Header.Type {
	case MsgPing:
		return NewMessage(MsgPong, req.Header.RequestID, nil)

	case MsgStatusRequest:
		resp, err := NewResponse(MsgStatusResponse, req.Header.RequestID, s.handler.Status())
		if err != nil {
			return NewErrorMessage(req.Header.RequestID, ErrInternalError, err.Error())
		}
		return resp

	case MsgStopSession:
		var stopReq StopSessionRequest
		if len(req.Payload) > 0 {
			if err := Decode(req.Payload, &stopReq); err != nil {
				return NewErrorMessage(req.Header.RequestID, ErrInvalidRequest, err.Error())
			}
		}
		resp, err := NewResponse(MsgStopSessionResp, req.Header.RequestID,
			s.handler.StopSession(stopReq.Reason))
		if err != nil {
			return NewErrorMessage(req.Header.RequestID, ErrInternalError, err.Error())
		}
		return resp

	default:
		return NewErrorMessage(req.Header.RequestID, ErrInvalidRequest,
			fmt.Sprintf("unknown message type: 0x%04x", uint16(req.Header.Type)))
	}
}
