package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/modlog/pkg/log"
	"github.com/cuemby/modlog/pkg/metrics"
	"github.com/cuemby/modlog/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults for the caller wait
const (
	DefaultBudget       = 10 * time.Second
	DefaultPollInterval = 5 * time.Second
	DefaultQueueSize    = 64
)

// Request is one mutation waiting for the worker
type Request struct {
	ID       string
	Caller   string
	Mutation *types.Mutation
	Enqueued time.Time
}

// Applier performs mutations. It is only ever called from the worker
// goroutine, one request at a time.
type Applier interface {
	Apply(ctx context.Context, req *Request) *types.Outcome
}

// ApplierFunc adapts a function to Applier
type ApplierFunc func(ctx context.Context, req *Request) *types.Outcome

// Apply calls f
func (f ApplierFunc) Apply(ctx context.Context, req *Request) *types.Outcome {
	return f(ctx, req)
}

// Config tunes the bridge
type Config struct {
	Budget       time.Duration
	PollInterval time.Duration
	QueueSize    int
}

// Bridge serializes mutations from many callers through one worker.
// Requests are applied in arrival order. Each request gets its own
// single-slot reply channel, filed under the caller's identity, so a reply
// that arrives after its caller gave up is dropped without blocking.
type Bridge struct {
	applier Applier
	cfg     Config
	logger  zerolog.Logger

	intake chan *Request

	mu      sync.Mutex
	pending map[string]map[string]chan *types.Outcome
	stopped bool

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a bridge. Call Start to run the worker.
func New(applier Applier, cfg Config) *Bridge {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.PollInterval <= 0 || cfg.PollInterval > cfg.Budget {
		cfg.PollInterval = min(DefaultPollInterval, cfg.Budget)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Bridge{
		applier: applier,
		cfg:     cfg,
		logger:  log.WithComponent("bridge"),
		intake:  make(chan *Request, cfg.QueueSize),
		pending: make(map[string]map[string]chan *types.Outcome),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start runs the worker loop
func (b *Bridge) Start() {
	go b.run()
	metrics.RegisterComponent("bridge", true, "running")
	b.logger.Info().
		Dur("budget", b.cfg.Budget).
		Int("queue_size", b.cfg.QueueSize).
		Msg("Mutation worker started")
}

// Stop signals the worker, waits up to timeout for it to finish the
// current mutation, then answers every request still queued or waiting
// with types.ErrBridgeStopped.
func (b *Bridge) Stop(timeout time.Duration) error {
	var err error
	b.stopOnce.Do(func() {
		close(b.stopCh)

		select {
		case <-b.doneCh:
		case <-time.After(timeout):
			err = fmt.Errorf("mutation worker did not stop within %s", timeout)
		}

		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		dropped := b.drain()
		metrics.UpdateComponent("bridge", false, "stopped")
		b.logger.Info().Int("dropped", dropped).Msg("Mutation worker stopped")
	})
	return err
}

// Done is closed once the worker goroutine has returned. After a Stop that
// timed out it closes when the mutation in flight finishes.
func (b *Bridge) Done() <-chan struct{} {
	return b.doneCh
}

// Submit queues m on behalf of caller and waits for the outcome. The wait
// is bounded by the configured budget; on expiry a *types.TimeoutError is
// returned and the request is abandoned, although the worker may still
// apply it. Cancelling ctx abandons the wait the same way.
func (b *Bridge) Submit(ctx context.Context, caller string, m *types.Mutation) (*types.Outcome, error) {
	req := &Request{
		ID:       uuid.NewString(),
		Caller:   caller,
		Mutation: m,
		Enqueued: time.Now(),
	}

	slot, err := b.register(req)
	if err != nil {
		return nil, err
	}

	deadline := time.NewTimer(b.cfg.Budget)
	defer deadline.Stop()

	select {
	case b.intake <- req:
		metrics.BridgeQueueDepth.Set(float64(len(b.intake)))
	case <-b.stopCh:
		b.unregister(req)
		return nil, types.ErrBridgeStopped
	case <-deadline.C:
		return nil, b.timeout(req)
	case <-ctx.Done():
		b.unregister(req)
		return nil, ctx.Err()
	}

	poll := time.NewTicker(b.cfg.PollInterval)
	defer poll.Stop()

	for {
		select {
		case out := <-slot:
			return out, out.Err
		case <-poll.C:
			b.logger.Debug().
				Str("request", req.ID).
				Str("caller", caller).
				Dur("waited", time.Since(req.Enqueued)).
				Msg("Still waiting for mutation worker")
		case <-deadline.C:
			return nil, b.timeout(req)
		case <-ctx.Done():
			b.unregister(req)
			return nil, ctx.Err()
		}
	}
}

// QueueDepth returns the number of requests waiting for the worker
func (b *Bridge) QueueDepth() int {
	return len(b.intake)
}

// Pending returns the number of callers' requests still awaiting a reply
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, slots := range b.pending {
		n += len(slots)
	}
	return n
}

func (b *Bridge) run() {
	defer close(b.doneCh)
	for {
		select {
		case req := <-b.intake:
			metrics.BridgeQueueDepth.Set(float64(len(b.intake)))
			b.deliver(req, b.apply(req))
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bridge) apply(req *Request) (out *types.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("request", req.ID).
				Interface("panic", r).
				Msg("Mutation panicked")
			out = &types.Outcome{Kind: req.Mutation.Kind, Err: fmt.Errorf("mutation panicked: %v", r)}
		}
	}()

	out = b.applier.Apply(context.Background(), req)
	if out == nil {
		out = &types.Outcome{Kind: req.Mutation.Kind, Err: errors.New("mutation produced no outcome")}
	}
	return out
}

func (b *Bridge) register(req *Request) (chan *types.Outcome, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, types.ErrBridgeStopped
	}
	slots := b.pending[req.Caller]
	if slots == nil {
		slots = make(map[string]chan *types.Outcome)
		b.pending[req.Caller] = slots
	}
	slot := make(chan *types.Outcome, 1)
	slots[req.ID] = slot
	return slot, nil
}

func (b *Bridge) unregister(req *Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.take(req.Caller, req.ID)
}

// take removes and returns a slot. Callers hold b.mu.
func (b *Bridge) take(caller, id string) chan *types.Outcome {
	slots := b.pending[caller]
	slot, ok := slots[id]
	if !ok {
		return nil
	}
	delete(slots, id)
	if len(slots) == 0 {
		delete(b.pending, caller)
	}
	return slot
}

// deliver hands out to the request's slot. A slot that is gone belongs to
// a caller that stopped waiting.
func (b *Bridge) deliver(req *Request, out *types.Outcome) {
	b.mu.Lock()
	slot := b.take(req.Caller, req.ID)
	b.mu.Unlock()

	if slot == nil {
		b.logger.Debug().
			Str("request", req.ID).
			Str("caller", req.Caller).
			Msg("Dropped reply for abandoned request")
		return
	}
	select {
	case slot <- out:
	default:
	}
}

func (b *Bridge) timeout(req *Request) error {
	b.unregister(req)
	metrics.BridgeTimeouts.Inc()
	waited := time.Since(req.Enqueued)
	b.logger.Warn().
		Str("request", req.ID).
		Str("caller", req.Caller).
		Str("kind", string(req.Mutation.Kind)).
		Dur("waited", waited).
		Msg("No response from mutation worker")
	return &types.TimeoutError{RequestID: req.ID, Waited: waited}
}

// drain answers queued and waiting requests after the worker is gone
func (b *Bridge) drain() int {
	stopped := &types.Outcome{Err: types.ErrBridgeStopped}
	n := 0
	for empty := false; !empty; {
		select {
		case req := <-b.intake:
			b.deliver(req, stopped)
			n++
		default:
			empty = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for caller, slots := range b.pending {
		for id, slot := range slots {
			select {
			case slot <- stopped:
			default:
			}
			delete(slots, id)
			n++
		}
		delete(b.pending, caller)
	}
	metrics.BridgeQueueDepth.Set(0)
	return n
}
