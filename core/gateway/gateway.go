/*Package gateway is the single path every API call of the client takes.

A Gateway annotates requests with credentials and client metadata, parks them in an
offline queue while the network is unreachable, serves read requests from a short-lived
response cache when the network fails, refreshes expired credentials exactly once for any
number of concurrent 401 responses, and rejects failures with a normalized *Error.

A Gateway is created with a Builder:

	gw, err := gateway.New(ctx, &gateway.Builder{
		BaseURL: "https://api.example.com/api",
		Store:   kvstore.NewMemory(0),
	})

and used through Do:

	res, err := gw.Do(ctx, &gateway.Request{Method: http.MethodGet, URL: "/connections/stats"})

*/
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/relabs-tech/gateway/core/kvstore"
	"github.com/relabs-tech/gateway/core/logger"
	"github.com/relabs-tech/gateway/core/schema"
	"github.com/relabs-tech/gateway/core/syncer"
)

// DefaultTimeout is the wall-clock limit of a single network call
const DefaultTimeout = 30 * time.Second

// Builder is a builder helper for the Gateway
type Builder struct {
	// BaseURL is the base URL of the API. Mandatory.
	BaseURL string
	// Store persists credentials and the response cache. Defaults to an in-memory store.
	Store kvstore.Store
	// HTTPClient is used for all calls. Its Timeout is overwritten by Timeout.
	HTTPClient *http.Client
	// Timeout of a single network call, defaults to DefaultTimeout
	Timeout time.Duration
	// CacheTTL is the freshness window of cached responses, defaults to DefaultCacheTTL
	CacheTTL time.Duration
	// RefreshPath defaults to DefaultRefreshPath
	RefreshPath string
	Device      Device
	// Timezone is an IANA name. Defaults to the local zone.
	Timezone string
	// Connectivity is the network monitor. Defaults to a monitor which reports online.
	Connectivity *Connectivity
	// Registrar is the optional out-of-band replay channel for queued requests
	Registrar syncer.Registrar
	// OnLogout is called with the login surface after the session was logged out
	OnLogout func(ctx context.Context, loginPath string)
	// Section optionally reports the section of the client the user is in, like "/admin/users"
	Section func() string
	// Clock defaults to time.Now
	Clock func() time.Time
}

// Gateway is the API gateway. It is safe for concurrent use.
type Gateway struct {
	baseURL      string
	client       *http.Client
	session      *Session
	cache        *responseCache
	queue        *offlineQueue
	auth         *authCoordinator
	connectivity *Connectivity
	registrar    syncer.Registrar
	validator    *schema.Validator
	device       Device
	timezone     string
	refreshPath  string
	onLogout     func(ctx context.Context, loginPath string)
	section      func() string
	now          func() time.Time
}

// New creates a gateway and restores the persisted credentials from the store
func New(ctx context.Context, b *Builder) (*Gateway, error) {
	if b.BaseURL == "" {
		return nil, errors.New("gateway: BaseURL is mandatory")
	}
	store := b.Store
	if store == nil {
		store = kvstore.NewMemory(0)
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := &http.Client{}
	if b.HTTPClient != nil {
		c := *b.HTTPClient
		client = &c
	}
	client.Timeout = timeout

	validator, err := schema.Auth()
	if err != nil {
		return nil, fmt.Errorf("gateway: cannot load auth schemas: %w", err)
	}
	session, err := loadSession(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g := &Gateway{
		baseURL:      strings.TrimSuffix(b.BaseURL, "/"),
		client:       client,
		session:      session,
		connectivity: b.Connectivity,
		registrar:    b.Registrar,
		validator:    validator,
		device:       b.Device,
		timezone:     resolveTimezone(b.Timezone),
		refreshPath:  b.RefreshPath,
		onLogout:     b.OnLogout,
		section:      b.Section,
		now:          b.Clock,
	}
	if g.connectivity == nil {
		g.connectivity = NewConnectivity(true)
	}
	if g.refreshPath == "" {
		g.refreshPath = DefaultRefreshPath
	}
	if g.now == nil {
		g.now = time.Now
	}
	ttl := b.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	g.cache = &responseCache{store: store, ttl: ttl, now: g.now}
	g.auth = &authCoordinator{g: g}
	g.queue = &offlineQueue{online: g.connectivity.Online, dispatch: g.dispatch}

	drainCtx := logger.ContextWithRequestID(context.Background(), "offline-queue")
	g.connectivity.Subscribe(func(online bool) {
		if online {
			go g.queue.drain(drainCtx)
		}
	})
	return g, nil
}

// MustNew is like New but panics on error
func MustNew(ctx context.Context, b *Builder) *Gateway {
	g, err := New(ctx, b)
	if err != nil {
		panic(err)
	}
	return g
}

// Do sends req through the gateway. Failures are returned as *Error.
func (g *Gateway) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, _ = logger.ContextWithLogger(ctx)
	c, err := newCall(req)
	if err != nil {
		return nil, err
	}
	if !req.NoQueue {
		if p, pending := g.queue.admit(ctx, c); p != nil {
			register(ctx, g.registrar, p, pending, g.now)
			return g.queue.wait(ctx, p)
		}
	}
	return g.dispatch(ctx, c)
}

// dispatch sends c, replaying it once after a credential refresh
func (g *Gateway) dispatch(ctx context.Context, c *call) (*Response, error) {
	rlog := logger.FromContext(ctx)
	for {
		res, err := g.roundTrip(ctx, c)
		if err != nil {
			if c.cacheable() && ctx.Err() == nil {
				if entry, ok := g.cache.get(ctx, c.req.URL); ok {
					rlog.Debugf("%s %s: network failed, serving cached response", c.method, c.req.URL)
					return entry.response(), nil
				}
			}
			return nil, networkError(err)
		}

		if res.Status == http.StatusUnauthorized {
			if c.retried || c.req.NoRefresh {
				return nil, normalizeResponse(res.Status, res.Header, res.Body, g.now())
			}
			if err := g.auth.recover(ctx, c); err != nil {
				return nil, err
			}
			c.retried = true
			continue
		}

		if res.Status < 200 || res.Status >= 300 {
			return nil, normalizeResponse(res.Status, res.Header, res.Body, g.now())
		}
		if c.cacheable() {
			g.cache.put(ctx, c.req.URL, res)
		}
		return res, nil
	}
}

// roundTrip performs a single network call. An error means no response was received.
func (g *Gateway) roundTrip(ctx context.Context, c *call) (*Response, error) {
	var body io.Reader
	if len(c.body) > 0 {
		body = bytes.NewReader(c.body)
	}
	req, err := http.NewRequestWithContext(ctx, c.method, g.url(c.req.URL), body)
	if err != nil {
		return nil, err
	}
	g.annotate(ctx, req, c)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	latency := g.now().Sub(c.issuedAt)
	logger.FromContext(ctx).Debugf("%s %s: %d in %v", c.method, c.req.URL, resp.StatusCode, latency)
	return &Response{
		Status:  resp.StatusCode,
		Header:  resp.Header,
		Body:    data,
		Latency: latency,
	}, nil
}

func (g *Gateway) url(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return g.baseURL + "/" + strings.TrimPrefix(u, "/")
}

// Login installs fresh credentials and ends a logged-out state
func (g *Gateway) Login(ctx context.Context, creds Credentials) error {
	return g.auth.loggedIn(func() error {
		return g.session.Save(ctx, creds)
	})
}

// Logout clears all credentials and calls the logout hook with the login surface of the
// current role
func (g *Gateway) Logout(ctx context.Context) {
	loginPath := g.loginPath()
	g.auth.loggedOut()
	g.clearSession(ctx)
	g.redirect(ctx, loginPath)
}

func (g *Gateway) loginPath() string {
	var section string
	if g.section != nil {
		section = g.section()
	}
	return LoginPath(g.session.Role(), section)
}

func (g *Gateway) clearSession(ctx context.Context) {
	if err := g.session.Clear(ctx); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot clear credentials")
	}
}

func (g *Gateway) redirect(ctx context.Context, loginPath string) {
	logger.FromContext(ctx).Infoln("logged out, redirecting to", loginPath)
	if g.onLogout != nil {
		g.onLogout(ctx, loginPath)
	}
}

// Session returns the credential holder
func (g *Gateway) Session() *Session {
	return g.session
}

// Connectivity returns the network monitor
func (g *Gateway) Connectivity() *Connectivity {
	return g.connectivity
}

// ClearCache removes all cached responses and returns how many were removed
func (g *Gateway) ClearCache(ctx context.Context) (int, error) {
	return g.cache.clear(ctx)
}

// SweepCache removes the expired cached responses and returns how many were removed
func (g *Gateway) SweepCache(ctx context.Context) (int, error) {
	return g.cache.sweep(ctx)
}

// Stats is a snapshot of the gateway's internal state
type Stats struct {
	QueueState string `json:"queueState"`
	Pending    int    `json:"pending"`
	AuthState  string `json:"authState"`
	Refreshes  int    `json:"refreshes"`
	Online     bool   `json:"online"`
}

// Stats returns a snapshot of the gateway's internal state
func (g *Gateway) Stats() Stats {
	return Stats{
		QueueState: g.queue.currentState().String(),
		Pending:    g.queue.len(),
		AuthState:  g.auth.currentState().String(),
		Refreshes:  g.auth.refreshCount(),
		Online:     g.connectivity.Online(),
	}
}
