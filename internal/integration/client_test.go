package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"queryflow/pkg/types"
)

// frame is a message received on the notification socket.
type frame struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	Event     types.Event `json:"event"`
}

// notificationClient subscribes to one session's notifications.
type notificationClient struct {
	conn   *websocket.Conn
	frames chan frame
	done   chan struct{}

	mu       sync.Mutex
	closeErr error
}

func dialNotifications(ctx context.Context, serverURL, sessionID string) (*notificationClient, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	c := &notificationClient{
		conn:   conn,
		frames: make(chan frame, 100),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *notificationClient) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.closeErr = err
			c.mu.Unlock()
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		select {
		case c.frames <- f:
		default:
		}
	}
}

// next returns the next frame or fails the test after timeout.
func (c *notificationClient) next(t *testing.T, timeout time.Duration) frame {
	t.Helper()
	select {
	case f := <-c.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("no frame within %v", timeout)
		return frame{}
	}
}

// waitFor skips frames until match accepts one.
func (c *notificationClient) waitFor(t *testing.T, timeout time.Duration, match func(frame) bool) frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-c.frames:
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatalf("expected frame not received within %v", timeout)
			return frame{}
		}
	}
}

// closed waits for the server to close the socket and returns the close code.
func (c *notificationClient) closed(timeout time.Duration) (int, error) {
	select {
	case <-c.done:
	case <-time.After(timeout):
		return 0, errors.New("socket still open")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var ce *websocket.CloseError
	if errors.As(c.closeErr, &ce) {
		return ce.Code, nil
	}
	return 0, c.closeErr
}

func (c *notificationClient) Close() error {
	return c.conn.Close()
}
