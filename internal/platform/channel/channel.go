// Package channel is the push side of the sync engine: a websocket
// subscription to the backend's metric stream. It decodes frames and hands
// them to a handler in delivery order. It never reconnects on its own.
package channel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultPingInterval is how often the keepalive "ping" frame is written.
const DefaultPingInterval = 25 * time.Second

const writeWait = 5 * time.Second

// Handler receives every well-formed message.
type Handler func(Message)

// Conn abstracts a websocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Options configure Dial.
type Options struct {
	// URL is the stream endpoint, e.g. ws://host/v1/metrics/stream.
	URL string
	// Token is sent as the "token" query parameter.
	Token        string
	PingInterval time.Duration
	Dialer       *gorillawebsocket.Dialer
}

// Channel is one open subscription.
type Channel struct {
	conn    Conn
	handler Handler
	logger  zerolog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
}

// Dial opens the stream and starts the read and keepalive pumps.
func Dial(ctx context.Context, opts Options, handler Handler, logger zerolog.Logger) (*Channel, error) {
	target, err := StreamURL(opts.URL, opts.Token)
	if err != nil {
		return nil, err
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = gorillawebsocket.DefaultDialer
	}

	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial metric stream: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial metric stream: %w", err)
	}

	interval := opts.PingInterval
	if interval == 0 {
		interval = DefaultPingInterval
	}
	return newChannel(&gorillaConnAdapter{ws}, interval, handler, logger), nil
}

func newChannel(conn Conn, pingInterval time.Duration, handler Handler, logger zerolog.Logger) *Channel {
	c := &Channel{
		conn:    conn,
		handler: handler,
		logger:  logger.With().Str("component", "channel").Logger(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readPump()
	if pingInterval > 0 {
		go c.pingPump(pingInterval)
	}
	c.logger.Debug().Msg("metric stream open")
	return c
}

// Done is closed once the read pump has exited, either because the peer
// went away or because Close was called.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read pump, or nil after a local Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the pumps and closes the socket. It is safe to call more than
// once. Frames read after Close are not delivered.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stop)

		c.writeMu.Lock()
		_ = c.conn.WriteMessage(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.conn.Close()
		c.logger.Debug().Msg("metric stream closed")
	})
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) readPump() {
	defer close(c.done)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			if !c.isClosed() {
				c.logger.Info().Err(err).Msg("metric stream ended")
			}
			return
		}

		msg, err := Decode(frame)
		if err != nil {
			if !errors.Is(err, ErrKeepalive) {
				c.logger.Debug().Err(err).Int("bytes", len(frame)).Msg("dropping frame")
			}
			continue
		}
		if c.isClosed() {
			return
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *Channel) pingPump(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteMessage(gorillawebsocket.TextMessage, []byte("ping"))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("keepalive write failed")
				return
			}
		}
	}
}

// StreamURL appends the credential to the stream endpoint.
func StreamURL(base, token string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", errors.New("stream url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	if messageType == gorillawebsocket.CloseMessage {
		return a.conn.WriteControl(messageType, data, time.Now().Add(writeWait))
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
