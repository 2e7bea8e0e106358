package jetstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// ErrTransport marks failures of the connection itself: dial, read, close
// frames and undecodable envelopes. They are always worth a reconnect.
var ErrTransport = errors.New("jetstream transport")

// Subscriber opens a stream of events starting at cursor (nil means the
// live edge).
type Subscriber interface {
	Subscribe(ctx context.Context, cursor *int64) (Stream, error)
}

// Stream yields events one at a time. Next blocks until an event arrives,
// the context is done, or the connection fails.
type Stream interface {
	Next(ctx context.Context) (Event, error)
	Close() error
}

// Options configures a Client.
type Options struct {
	// Endpoint is the subscribe URL, e.g.
	// wss://jetstream2.us-east.bsky.network/subscribe
	Endpoint string
	// WantedCollections filters commits server-side.
	WantedCollections []string
	// WantedDIDs filters by repository; empty means all.
	WantedDIDs []string
	// HandshakeTimeout bounds the WebSocket upgrade. Default 10s.
	HandshakeTimeout time.Duration
	// ReadTimeout is the longest silence tolerated before the connection is
	// considered dead. Default 60s.
	ReadTimeout time.Duration
	// MaxMessageSize caps a single frame. Default 1 MiB.
	MaxMessageSize int64
	// UserAgent is sent on the upgrade request.
	UserAgent string
}

// Client dials Jetstream with gorilla/websocket.
type Client struct {
	opts   Options
	dialer websocket.Dialer
}

var _ Subscriber = (*Client)(nil)

// NewClient validates opts and returns a Client.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("endpoint scheme must be ws or wss, got %q", u.Scheme)
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 1 << 20
	}
	return &Client{
		opts: opts,
		dialer: websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}, nil
}

// SubscribeURL builds the subscribe URL for cursor.
func (c *Client) SubscribeURL(cursor *int64) string {
	u, _ := url.Parse(c.opts.Endpoint) // validated in NewClient
	q := u.Query()
	for _, col := range c.opts.WantedCollections {
		q.Add("wantedCollections", col)
	}
	for _, did := range c.opts.WantedDIDs {
		q.Add("wantedDids", did)
	}
	if cursor != nil {
		q.Set("cursor", strconv.FormatInt(*cursor, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Subscribe dials the endpoint. ctx bounds only the dial and handshake.
func (c *Client) Subscribe(ctx context.Context, cursor *int64) (Stream, error) {
	header := http.Header{}
	if c.opts.UserAgent != "" {
		header.Set("User-Agent", c.opts.UserAgent)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.SubscribeURL(cursor), header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial failed (HTTP %d): %w", ErrTransport, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	conn.SetReadLimit(c.opts.MaxMessageSize)

	s := &stream{conn: conn, readTimeout: c.opts.ReadTimeout}
	// Any frame, including pings, proves the peer is alive.
	conn.SetPingHandler(func(data string) error {
		s.extendDeadline()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	return s, nil
}

type stream struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

func (s *stream) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
}

// Next reads one event. Cancelling ctx interrupts a blocked read.
func (s *stream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		s.extendDeadline()
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Event{}, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Event{}, fmt.Errorf("%w: closed by server: %w", ErrTransport, err)
			}
			return Event{}, fmt.Errorf("%w: read: %w", ErrTransport, err)
		}
		if typ != websocket.TextMessage {
			// Jetstream only sends binary frames when zstd compression was
			// requested, which this client never does.
			continue
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return Event{}, fmt.Errorf("%w: decode envelope: %w", ErrTransport, err)
		}
		return ev, nil
	}
}

// Close sends a close frame and releases the connection. Safe to call twice.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
