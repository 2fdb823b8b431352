package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultMaxBytes is the eviction budget when none is configured.
const DefaultMaxBytes int64 = 500_000_000

// State is the evictor's scan state.
type State int32

const (
	Idle State = iota
	Evicting
)

func (s State) String() string {
	if s == Evicting {
		return "evicting"
	}
	return "idle"
}

// EvictorOptions configures an Evictor.
type EvictorOptions struct {
	// MaxBytes is the budget; zero or less means DefaultMaxBytes.
	MaxBytes int64
	Logger   *slog.Logger
	// OnEvict runs after an entry's directory is removed, for stores that keep
	// entry data outside the cache tree. Its errors are logged, not returned.
	OnEvict func(ctx context.Context, e Entry) error
}

// EvictReport describes one eviction run.
type EvictReport struct {
	Before  int64    `json:"before"`
	After   int64    `json:"after"`
	Evicted []string `json:"evicted"`
}

// Evictor deletes least recently accessed entries until the cache fits its
// budget.
type Evictor struct {
	store    *Store
	maxBytes int64
	logger   *slog.Logger
	onEvict  func(context.Context, Entry) error

	mu    sync.Mutex // held for a whole scan-and-delete run
	state atomic.Int32

	requests chan struct{}

	lifeMu  sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEvictor returns an evictor for store. Call Start to run it in the
// background or Run to evict synchronously.
func NewEvictor(store *Store, opts EvictorOptions) *Evictor {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Evictor{
		store:    store,
		maxBytes: opts.MaxBytes,
		logger:   opts.Logger,
		onEvict:  opts.OnEvict,
		requests: make(chan struct{}, 1),
	}
}

// MaxBytes returns the budget.
func (ev *Evictor) MaxBytes() int64 { return ev.maxBytes }

// State reports whether a run is in progress.
func (ev *Evictor) State() State { return State(ev.state.Load()) }

// Start launches the worker. It returns an error if already started.
func (ev *Evictor) Start(ctx context.Context) error {
	ev.lifeMu.Lock()
	defer ev.lifeMu.Unlock()
	if ev.started {
		return errors.New("evictor already started")
	}
	ctx, ev.cancel = context.WithCancel(ctx)
	ev.started = true
	ev.wg.Add(1)
	go ev.loop(ctx)
	return nil
}

// Request asks the worker for a run. Requests made while one is already
// pending are coalesced into it. Request never blocks.
func (ev *Evictor) Request() {
	select {
	case ev.requests <- struct{}{}:
	default:
	}
}

// Close stops the worker and waits for an in-flight run to finish.
func (ev *Evictor) Close() {
	ev.lifeMu.Lock()
	if !ev.started {
		ev.lifeMu.Unlock()
		return
	}
	ev.started = false
	ev.cancel()
	ev.lifeMu.Unlock()
	ev.wg.Wait()
}

func (ev *Evictor) loop(ctx context.Context) {
	defer ev.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ev.requests:
			if _, err := ev.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				ev.logger.Warn("cache eviction failed", "error", err)
			}
		}
	}
}

// Run evicts oldest entries while the cache exceeds its budget. It stops when
// the cache fits or no entry is left to evict.
func (ev *Evictor) Run(ctx context.Context) (EvictReport, error) {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	ev.state.Store(int32(Evicting))
	defer ev.state.Store(int32(Idle))

	var rep EvictReport
	size, err := ev.store.TotalSize()
	if err != nil {
		return rep, err
	}
	rep.Before = size
	for size > ev.maxBytes {
		if err := ctx.Err(); err != nil {
			rep.After = size
			return rep, err
		}
		e, ok, err := ev.store.Oldest()
		if err != nil {
			return rep, err
		}
		if !ok {
			ev.logger.Warn("cache over budget with no entries left to evict", "bytes", size, "max", ev.maxBytes)
			break
		}
		if err := ev.store.Delete(e); err != nil {
			return rep, err
		}
		rep.Evicted = append(rep.Evicted, e.ID)
		ev.logger.Debug("evicted cache entry", "id", e.ID)
		if ev.onEvict != nil {
			if err := ev.onEvict(ctx, e); err != nil {
				ev.logger.Warn("evict hook failed", "id", e.ID, "error", err)
			}
		}
		if size, err = ev.store.TotalSize(); err != nil {
			return rep, fmt.Errorf("after evicting %s: %w", e.ID, err)
		}
	}
	rep.After = size
	if len(rep.Evicted) > 0 {
		ev.logger.Info("cache eviction complete", "evicted", len(rep.Evicted), "before", rep.Before, "after", rep.After)
	}
	return rep, nil
}
