package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gateway/core/access"
	"github.com/relabs-tech/gateway/core/kvstore"
)

var signingKey = []byte("test-signing-key")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 17, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testAPI is a router-backed API server recording the requests it saw
type testAPI struct {
	*mux.Router
	server *httptest.Server

	mu       sync.Mutex
	requests []*http.Request
}

func newTestAPI(t *testing.T) *testAPI {
	api := &testAPI{Router: mux.NewRouter()}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.requests = append(api.requests, r.Clone(context.Background()))
		api.mu.Unlock()
		api.Router.ServeHTTP(w, r)
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (a *testAPI) URL() string {
	return a.server.URL + "/api"
}

// paths returns the paths of all recorded requests in arrival order
func (a *testAPI) paths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	paths := make([]string, len(a.requests))
	for i, r := range a.requests {
		paths[i] = r.URL.Path
	}
	return paths
}

func (a *testAPI) count(path string) int {
	n := 0
	for _, p := range a.paths() {
		if p == path {
			n++
		}
	}
	return n
}

func (a *testAPI) last() *http.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.requests) == 0 {
		return nil
	}
	return a.requests[len(a.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func mustSign(t *testing.T, subject string, role access.Role, ttl time.Duration) string {
	token, err := access.Sign(signingKey, subject, subject+"@example.com", role, ttl)
	require.NoError(t, err)
	return token
}

func newTestGateway(t *testing.T, baseURL string, modify func(b *Builder)) *Gateway {
	b := &Builder{
		BaseURL:  baseURL,
		Store:    kvstore.NewMemory(0),
		Timeout:  5 * time.Second,
		Timezone: "Europe/Berlin",
		Device:   Device{Width: 390, Height: 844, PixelRatio: 3},
	}
	if modify != nil {
		modify(b)
	}
	g, err := New(context.Background(), b)
	require.NoError(t, err)
	return g
}
