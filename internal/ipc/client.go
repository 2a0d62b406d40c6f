package ipc

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client talks to the daemon's control socket.
type Client struct {
	conn    net.Conn
	timeout time.Duration

	mu        sync.Mutex
	requestID uint32
}

// Dial connects to the daemon socket at path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to daemon: %w", err)
	}

	return &Client{conn: conn, timeout: timeout}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// roundTrip sends one request and reads its response.
func (c *Client) roundTrip(msgType MessageType, payload any) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestID++
	reqID := c.requestID

	var data []byte
	if payload != nil {
		var err error
		data, err = Encode(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := NewMessage(msgType, reqID, data).Write(c.conn); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	resp, err := ReadMessage(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.Header.Type == MsgError {
		var errResp ErrorResponse
		if err := Decode(resp.Payload, &errResp); err != nil {
			return nil, errors.New("daemon returned an unreadable error")
		}
		return nil, fmt.Errorf("daemon error %d: %s", errResp.Code, errResp.Message)
	}

	return resp, nil
}

// Ping checks daemon liveness.
func (c *Client) Ping() error {
	resp, err := c.roundTrip(MsgPing, nil)
	if err != nil {
		return err
	}
	if resp.Header.Type != MsgPong {
		return fmt.Errorf("unexpected response type: 0x%04x", uint16(resp.Header.Type))
	}
	return nil
}

// Status fetches the daemon and session status.
func (c *Client) Status() (*StatusResponse, error) {
	resp, err := c.roundTrip(MsgStatusRequest, nil)
	if err != nil {
		return nil, err
	}

	var status StatusResponse
	if err := Decode(resp.Payload, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// StopSession asks the daemon to end the active session.
func (c *Client) StopSession(reason string) (*StopSessionResponse, error) {
	resp, err := c.roundTrip(MsgStopSession, &StopSessionRequest{Reason: reason})
	if err != nil {
		return nil, err
	}

	var stop StopSessionResponse
	if err := Decode(resp.Payload, &stop); err != nil {
		return nil, fmt.Errorf("decode stop response: %w", err)
	}
	return &stop, nil
}
