package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

var (
	// ErrInvalidAddress is returned for relay addresses that are not absolute http(s) URLs
	ErrInvalidAddress = errors.New("invalid relay address")
	// ErrNotFound is returned when the relay does not know the channel
	ErrNotFound = errors.New("event source not found")
)

// State is the connection state of the relay client
type State string

const (
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateErrored    State = "errored"
)

// DefaultRetryFloor is the pause between failed reconnect attempts when the
// relay sent no retry hint. A dropped connection is always retried at once.
const DefaultRetryFloor = time.Second

// Handler receives decoded relay events
type Handler func(headers map[string]string, body string)

// Callbacks are invoked as the connection progresses. All are optional
// except OnEvent.
type Callbacks struct {
	OnConnecting   func(address string)
	OnConnected    func()
	OnDisconnected func(err error)
	OnError        func(err error)
	OnEvent        Handler
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for the stream
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRetryFloor sets the pause between failed reconnect attempts
func WithRetryFloor(d time.Duration) Option {
	return func(c *Client) { c.retryFloor = d }
}

// WithUserAgent sets the User-Agent header of stream requests
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// Client is a long-lived subscription to a webhook relay event stream
type Client struct {
	address    string
	cb         Callbacks
	http       *http.Client
	logger     *slog.Logger
	retryFloor time.Duration
	userAgent  string

	mu          sync.Mutex
	state       State
	dropConn    context.CancelFunc
	retryHint   time.Duration
	lastEventID string

	done chan struct{}
}

// ValidateAddress checks that address is an absolute http(s) URL
func ValidateAddress(address string) error {
	u, err := url.Parse(address)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAddress, address, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidAddress, address)
	}
	return nil
}

// Connect subscribes to the relay at address. It returns once the first
// handshake has succeeded; events are then delivered from a background
// goroutine until ctx is cancelled. A failed first handshake is terminal
// and reported through OnError and the returned error. Later drops are
// reconnected transparently.
func Connect(ctx context.Context, address string, cb Callbacks, opts ...Option) (*Client, error) {
	if err := ValidateAddress(address); err != nil {
		return nil, err
	}
	if cb.OnEvent == nil {
		return nil, errors.New("relay: OnEvent callback is required")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second

	c := &Client{
		address:    address,
		cb:         cb,
		http:       &http.Client{Transport: transport},
		logger:     slog.Default(),
		retryFloor: DefaultRetryFloor,
		state:      StateConnecting,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cb.OnConnecting != nil {
		cb.OnConnecting(address)
	}

	body, err := c.open(ctx)
	if err != nil {
		c.setState(StateErrored)
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return nil, err
	}
	c.connected()

	go c.loop(ctx, body)

	return c, nil
}

// State returns the current connection state
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Address returns the relay address
func (c *Client) Address() string {
	return c.address
}

// Reconnect drops the live connection; the client reconnects immediately.
// Used after the machine wakes up, when the old socket may be half-open.
func (c *Client) Reconnect() {
	c.mu.Lock()
	drop := c.dropConn
	c.mu.Unlock()
	if drop != nil {
		c.logger.Debug("Dropping relay connection on request")
		drop()
	}
}

// Wait blocks until the client has stopped, which happens when the context
// passed to Connect is cancelled
func (c *Client) Wait() {
	<-c.done
}

// Done is closed when the client has stopped
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) connected() {
	c.setState(StateConnected)
	if c.cb.OnConnected != nil {
		c.cb.OnConnected()
	}
}

// open performs one handshake and returns the streaming body
func (c *Client) open(ctx context.Context) (io.ReadCloser, error) {
	connCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.address, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.mu.Lock()
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to %s: %w", c.address, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, c.address)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected status from %s: %s", c.address, resp.Status)
	}

	c.mu.Lock()
	c.dropConn = cancel
	c.mu.Unlock()

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (c *Client) loop(ctx context.Context, body io.ReadCloser) {
	defer close(c.done)

	parser := &streamParser{
		onEvent: c.dispatch,
		onRetry: func(d time.Duration) {
			c.mu.Lock()
			c.retryHint = d
			c.mu.Unlock()
		},
		onID: func(id string) {
			c.mu.Lock()
			c.lastEventID = id
			c.mu.Unlock()
		},
	}

	for {
		err := parser.parse(body)
		body.Close()

		c.mu.Lock()
		c.dropConn = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			c.logger.Debug("Relay client stopped")
			return
		}

		c.setState(StateConnecting)
		c.logger.Debug("Relay connection dropped, reconnecting", "error", err)
		if c.cb.OnDisconnected != nil {
			c.cb.OnDisconnected(err)
		}

		body = c.reconnect(ctx)
		if body == nil {
			return
		}
		c.connected()
	}
}

// reconnect retries the handshake until it succeeds or ctx is cancelled.
// The first attempt is immediate.
func (c *Client) reconnect(ctx context.Context) io.ReadCloser {
	var delay time.Duration
	for {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}

		body, err := c.open(ctx)
		if err == nil {
			return body
		}
		if ctx.Err() != nil {
			return nil
		}

		delay = c.retryDelay()
		c.logger.Warn("Relay reconnect failed", "error", err, "retry_in", delay)
	}
}

func (c *Client) retryDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.retryHint > c.retryFloor {
		return c.retryHint
	}
	return c.retryFloor
}

func (c *Client) dispatch(ev Event) {
	if ev.Name != "" && ev.Name != "message" {
		c.logger.Debug("Ignoring relay event", "event", ev.Name)
		return
	}

	headers, body, err := DecodeEnvelope([]byte(ev.Data))
	if err != nil {
		c.logger.Warn("Dropping undecodable relay message", "error", err)
		return
	}
	c.cb.OnEvent(headers, body)
}

// cancelOnClose releases the request context together with the body
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
