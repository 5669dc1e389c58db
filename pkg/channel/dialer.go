package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/killallgit/atelier/pkg/logger"
)

// Conn is an established push socket.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a push socket for one project.
type Dialer interface {
	Dial(ctx context.Context, projectID, token string) (Conn, error)
}

// WSDialer dials the backend's chat socket, retrying a bounded number of
// times with exponential backoff.
type WSDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Attempts         int
	InitialBackoff   time.Duration
}

func NewWSDialer(wsURL string, handshakeTimeout time.Duration, attempts int) *WSDialer {
	return &WSDialer{
		URL:              wsURL,
		HandshakeTimeout: handshakeTimeout,
		Attempts:         attempts,
		InitialBackoff:   250 * time.Millisecond,
	}
}

func (d *WSDialer) Dial(ctx context.Context, projectID, token string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid push url %q: %w", d.URL, err)
	}
	q := u.Query()
	q.Set("token", token)
	q.Set("project_id", projectID)
	u.RawQuery = q.Encode()
	target := u.String()

	log := logger.WithComponent("channel")
	dialer := &websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	attempt := 0

	op := func() (*websocket.Conn, error) {
		attempt++
		conn, resp, err := dialer.DialContext(ctx, target, nil)
		if err == nil {
			return conn, nil
		}
		log.Debug("Dial attempt %d for project %s failed: %v", attempt, projectID, err)
		if resp != nil {
			err = fmt.Errorf("dial failed: %w (status %s)", err, resp.Status)
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	if d.InitialBackoff > 0 {
		b.InitialInterval = d.InitialBackoff
	}
	attempts := d.Attempts
	if attempts < 1 {
		attempts = 1
	}

	conn, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
	)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn serialises writers; gorilla allows one concurrent writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
