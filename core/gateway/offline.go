// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relabs-tech/gateway/core/logger"
	"github.com/relabs-tech/gateway/core/syncer"
)

type queueState int

const (
	queueArmed queueState = iota
	queueQueuing
	queueDraining
)

func (s queueState) String() string {
	switch s {
	case queueQueuing:
		return "queuing"
	case queueDraining:
		return "draining"
	}
	return "armed"
}

type result struct {
	res *Response
	err error
}

// pendingCall is an entry of the offline queue. done is buffered so the drain never blocks
// on a caller which stopped waiting.
type pendingCall struct {
	id   uuid.UUID
	ctx  context.Context
	call *call
	done chan result
}

// offlineQueue parks requests while the network is unreachable and replays them in FIFO
// order once it is back
type offlineQueue struct {
	online   func() bool
	dispatch func(ctx context.Context, c *call) (*Response, error)

	mu      sync.Mutex
	state   queueState
	pending []*pendingCall
}

// admit queues c if the network is unreachable or earlier requests are still waiting for
// replay. It returns nil if c should be dispatched right away.
func (q *offlineQueue) admit(ctx context.Context, c *call) (*pendingCall, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state == queueArmed && q.online() {
		return nil, 0
	}
	p := &pendingCall{
		id:   uuid.New(),
		ctx:  context.WithoutCancel(ctx),
		call: c,
		done: make(chan result, 1),
	}
	q.pending = append(q.pending, p)
	if q.state == queueArmed {
		q.state = queueQueuing
		logger.FromContext(ctx).Infoln("network unreachable, queuing requests")
	}
	return p, len(q.pending)
}

// wait blocks until p was replayed or ctx is done. A caller which stops waiting does not
// remove its entry, the request is still replayed.
func (q *offlineQueue) wait(ctx context.Context, p *pendingCall) (*Response, error) {
	select {
	case r := <-p.done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, networkError(ctx.Err())
	}
}

// drain replays all queued requests in order. It returns when the queue is empty, or when
// the network drops again in which case the queue goes back to queuing.
func (q *offlineQueue) drain(ctx context.Context) {
	rlog := logger.FromContext(ctx)
	q.mu.Lock()
	if q.state == queueDraining {
		q.mu.Unlock()
		return
	}
	if len(q.pending) == 0 {
		q.state = queueArmed
		q.mu.Unlock()
		return
	}
	q.state = queueDraining
	rlog.Infof("network restored, replaying %d queued requests", len(q.pending))
	q.mu.Unlock()

	replayed := 0
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.state = queueArmed
			q.mu.Unlock()
			rlog.Infof("offline queue drained, %d requests replayed", replayed)
			return
		}
		if !q.online() {
			q.state = queueQueuing
			left := len(q.pending)
			q.mu.Unlock()
			rlog.Infof("network lost while draining, %d requests left", left)
			return
		}
		p := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		res, err := q.dispatch(p.ctx, p.call)
		p.done <- result{res: res, err: err}
		replayed++
	}
}

func (q *offlineQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *offlineQueue) currentState() queueState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// register announces p to the out-of-band replay channel. Failures are only logged.
func register(ctx context.Context, registrar syncer.Registrar, p *pendingCall, pending int, queuedAt func() time.Time) {
	if registrar == nil {
		return
	}
	err := registrar.Register(ctx, syncer.Registration{
		ID:       p.id,
		Tag:      syncer.Tag,
		Method:   p.call.method,
		URL:      p.call.req.URL,
		Pending:  pending,
		QueuedAt: queuedAt(),
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnln("cannot register background sync for", p.call.method, p.call.req.URL)
	}
}
