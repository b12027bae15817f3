package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queuedCall(i int) *call {
	return &call{req: &Request{URL: fmt.Sprintf("/items/%d", i)}, method: "GET"}
}

func TestDrainStopsWhenNetworkDrops(t *testing.T) {
	var online atomic.Bool
	var mu sync.Mutex
	var replayed []string
	q := &offlineQueue{online: online.Load}
	q.dispatch = func(ctx context.Context, c *call) (*Response, error) {
		mu.Lock()
		replayed = append(replayed, c.req.URL)
		n := len(replayed)
		mu.Unlock()
		if n == 2 {
			online.Store(false)
		}
		return &Response{Status: 200}, nil
	}

	ctx := context.Background()
	var entries []*pendingCall
	for i := 0; i < 4; i++ {
		p, pending := q.admit(ctx, queuedCall(i))
		require.NotNil(t, p)
		assert.Equal(t, i+1, pending)
		entries = append(entries, p)
	}
	assert.Equal(t, queueQueuing, q.currentState())

	online.Store(true)
	q.drain(ctx)
	assert.Equal(t, []string{"/items/0", "/items/1"}, replayed)
	assert.Equal(t, queueQueuing, q.currentState())
	assert.Equal(t, 2, q.len())

	// new requests line up behind the remaining ones even while online
	online.Store(true)
	p, _ := q.admit(ctx, queuedCall(4))
	require.NotNil(t, p)
	entries = append(entries, p)

	q.drain(ctx)
	assert.Equal(t, []string{"/items/0", "/items/1", "/items/2", "/items/3", "/items/4"}, replayed)
	assert.Equal(t, queueArmed, q.currentState())
	for _, e := range entries {
		res, err := q.wait(ctx, e)
		require.NoError(t, err)
		assert.Equal(t, 200, res.Status)
	}

	p, _ = q.admit(ctx, queuedCall(5))
	assert.Nil(t, p)
}

func TestDrainOfEmptyQueueArms(t *testing.T) {
	q := &offlineQueue{online: func() bool { return true }, state: queueQueuing}
	q.drain(context.Background())
	assert.Equal(t, queueArmed, q.currentState())
}

func TestArrivalsDuringDrainGoToTheTail(t *testing.T) {
	q := &offlineQueue{online: func() bool { return false }}
	ctx := context.Background()
	var entries []*pendingCall
	for i := 0; i < 3; i++ {
		p, _ := q.admit(ctx, queuedCall(i))
		require.NotNil(t, p)
		entries = append(entries, p)
	}
	q.online = func() bool { return true }

	var replayed []string
	var states []queueState
	q.dispatch = func(ctx context.Context, c *call) (*Response, error) {
		replayed = append(replayed, c.req.URL)
		states = append(states, q.currentState())
		if c.req.URL == "/items/0" {
			for i := 3; i < 5; i++ {
				p, pending := q.admit(ctx, queuedCall(i))
				require.NotNil(t, p, "arrival during drain must be queued")
				assert.Equal(t, i, pending)
				entries = append(entries, p)
			}
		}
		return &Response{Status: 200}, nil
	}

	q.drain(ctx)
	assert.Equal(t, []string{"/items/0", "/items/1", "/items/2", "/items/3", "/items/4"}, replayed)
	for _, s := range states {
		assert.Equal(t, queueDraining, s)
	}
	assert.Equal(t, queueArmed, q.currentState())
	assert.Equal(t, 0, q.len())
	for _, e := range entries {
		_, err := q.wait(ctx, e)
		assert.NoError(t, err)
	}
}
