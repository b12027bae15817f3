/*Package realtime is the client of the API's websocket channel.

The server pushes JSON messages of the form

	{"event": "notification", "data": {...}}

which are dispatched to the handlers registered for the event. The client reconnects with
capped exponential backoff and reports the state of the connection, so the gateway's
connectivity monitor learns about lost and restored network.
*/
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/relabs-tech/gateway/core/logger"
)

// TokenSource provides the access credential for the handshake
type TokenSource interface {
	AccessToken() string
}

// StatusReporter is told whenever the connection goes up or down
type StatusReporter interface {
	SetOnline(online bool)
}

// Message is a message on the channel
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the data of the message into v
func (m *Message) Decode(v interface{}) error {
	return json.Unmarshal(m.Data, v)
}

// Handler handles a message
type Handler func(ctx context.Context, m Message)

// ErrNotConnected is returned by Send while there is no connection
var ErrNotConnected = errors.New("realtime: not connected")

// HandshakeError is returned when the server answered the upgrade request with a status other
// than 101. The server is reachable in that case, the channel is just not open.
type HandshakeError struct {
	Status int
	err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed with status %d: %v", e.Status, e.err)
}

func (e *HandshakeError) Unwrap() error {
	return e.err
}

// Builder is a builder helper for the Client
type Builder struct {
	// URL is the websocket URL, mandatory
	URL string
	// Tokens optionally provides the bearer credential
	Tokens TokenSource
	// Status is optionally told about connection changes
	Status StatusReporter
	Dialer *websocket.Dialer
	// MinBackoff defaults to 500ms, MaxBackoff to 30s
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client is the realtime channel client
type Client struct {
	url        string
	tokens     TokenSource
	status     StatusReporter
	dialer     *websocket.Dialer
	minBackoff time.Duration
	maxBackoff time.Duration

	handlersMux sync.RWMutex
	handlers    map[string][]Handler

	connMux sync.Mutex
	conn    *websocket.Conn
}

// New returns a new client. It panics if the URL is missing.
func New(b *Builder) *Client {
	if b.URL == "" {
		panic("realtime: URL is missing")
	}
	c := &Client{
		url:        b.URL,
		tokens:     b.Tokens,
		status:     b.Status,
		dialer:     b.Dialer,
		minBackoff: b.MinBackoff,
		maxBackoff: b.MaxBackoff,
		handlers:   map[string][]Handler{},
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.minBackoff <= 0 {
		c.minBackoff = 500 * time.Millisecond
	}
	if c.maxBackoff < c.minBackoff {
		c.maxBackoff = 30 * time.Second
		if c.maxBackoff < c.minBackoff {
			c.maxBackoff = c.minBackoff
		}
	}
	return c
}

// Handle registers h for event. The event "*" receives all messages.
func (c *Client) Handle(event string, h Handler) {
	c.handlersMux.Lock()
	defer c.handlersMux.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// Run keeps the connection up until ctx is cancelled. It always returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	rlog := logger.FromContext(ctx)
	backoff := c.minBackoff
	for {
		connected, err := c.connectAndRead(ctx)
		if ctx.Err() != nil {
			c.report(false)
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		var herr *HandshakeError
		if !errors.As(err, &herr) {
			c.report(false)
		}
		rlog.WithError(err).Warnf("realtime channel down, reconnecting in %v", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// connectAndRead dials and reads messages until the connection fails. connected reports
// whether the handshake succeeded.
func (c *Client) connectAndRead(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			c.report(true)
			return false, &HandshakeError{Status: resp.StatusCode, err: err}
		}
		return false, err
	}
	c.report(true)
	c.setConn(conn)
	defer c.setConn(nil)
	logger.FromContext(ctx).Infoln("realtime channel connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return true, err
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil || m.Event == "" {
			logger.FromContext(ctx).Debugln("ignoring invalid realtime message")
			continue
		}
		c.dispatch(ctx, m)
	}
}

func (c *Client) dispatch(ctx context.Context, m Message) {
	c.handlersMux.RLock()
	handlers := append(append([]Handler(nil), c.handlers[m.Event]...), c.handlers["*"]...)
	c.handlersMux.RUnlock()
	for _, h := range handlers {
		h(ctx, m)
	}
}

// Send writes a message to the channel
func (c *Client) Send(ctx context.Context, event string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(Message{Event: event, Data: raw})
	if err != nil {
		return err
	}
	c.connMux.Lock()
	defer c.connMux.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Connected returns true while the connection is up
func (c *Client) Connected() bool {
	c.connMux.Lock()
	defer c.connMux.Unlock()
	return c.conn != nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMux.Lock()
	defer c.connMux.Unlock()
	c.conn = conn
}

func (c *Client) report(online bool) {
	if c.status != nil {
		c.status.SetOnline(online)
	}
}
