package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/relabs-tech/gateway/core/logger"
)

// Connectivity tracks whether the network is reachable and notifies subscribers on every
// transition
type Connectivity struct {
	mu          sync.Mutex
	online      bool
	subscribers []func(online bool)
}

// NewConnectivity returns a monitor with the given initial state
func NewConnectivity(online bool) *Connectivity {
	return &Connectivity{online: online}
}

// Online returns the current state
func (c *Connectivity) Online() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// SetOnline reports the state of the network. Subscribers are called only when the state
// changes.
func (c *Connectivity) SetOnline(online bool) {
	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	subscribers := make([]func(bool), len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(online)
	}
}

// Subscribe registers fn for state transitions
func (c *Connectivity) Subscribe(fn func(online bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Probe sends a HEAD request to url every interval and reports the outcome until ctx is
// cancelled. Any response counts as online.
func (c *Connectivity) Probe(ctx context.Context, client *http.Client, url string, interval time.Duration) {
	rlog := logger.FromContext(ctx)
	probe := func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			rlog.WithError(err).Errorln("invalid probe url")
			return
		}
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				c.SetOnline(false)
			}
			return
		}
		resp.Body.Close()
		c.SetOnline(true)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	probe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
