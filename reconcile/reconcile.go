// Package reconcile holds the machinery shared by the cart and wishlist
// reconcilers: an owner-scoped in-memory mirror guarded by a session
// generation, and the outcomes their operations report.
package reconcile

import (
	"context"
	"sync"

	"my-teddy/session"
)

// State of a reconciler
type State int

const (
	Unauthenticated State = iota
	Loading
	Ready
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Outcome of a reconciler operation. Operations never return errors; failures
// are reported to the user through notices and summarized here.
type Outcome int

const (
	// OK means the remote store confirmed the change and the mirror was updated.
	OK Outcome = iota
	// Noop means nothing was sent to the remote store.
	Noop
	// NoOwner means there was no owner for a mutating call.
	NoOwner
	// Duplicate means the entry was already present.
	Duplicate
	// Failed means the remote store rejected the call; the mirror is unchanged.
	Failed
	// Stale means the owner changed while the call was in flight and its
	// result was discarded.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Noop:
		return "noop"
	case NoOwner:
		return "unauthenticated"
	case Duplicate:
		return "duplicate"
	case Failed:
		return "failed"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// View is a consistent copy of a mirror
type View[T any] struct {
	Owner      string
	Present    bool
	Generation uint64
	State      State
	// Loaded is true once a fetch for this generation has been applied.
	Loaded bool
	Items  []T
}

// Mirror is the owner-scoped in-memory copy of remote state. The zero value
// is an empty, unauthenticated mirror.
type Mirror[T any] struct {
	mu      sync.RWMutex
	owner   string
	present bool
	gen     uint64
	state   State
	loaded  bool
	items   []T
}

// Reset applies an owner change and reports whether a load should be issued.
// The items are always emptied so no previous owner's data survives. Changes
// older than the one already applied are ignored.
func (m *Mirror[T]) Reset(c session.Change) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.Generation <= m.gen {
		return false
	}
	m.gen = c.Generation
	m.owner, m.present = c.Owner, c.Present
	m.items = nil
	m.loaded = false
	if !c.Present {
		m.state = Unauthenticated
		return false
	}
	m.state = Loading
	return true
}

// Generation last applied by Reset
func (m *Mirror[T]) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gen
}

// Snapshot returns a copy of the mirror
func (m *Mirror[T]) Snapshot() View[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]T, len(m.items))
	copy(items, m.items)
	return View[T]{
		Owner:      m.owner,
		Present:    m.present,
		Generation: m.gen,
		State:      m.state,
		Loaded:     m.loaded,
		Items:      items,
	}
}

// Apply replaces the items when gen is still current and reports whether it
// did. A result for an older generation is discarded.
func (m *Mirror[T]) Apply(gen uint64, items []T) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.present {
		return false
	}
	m.items = items
	m.loaded = true
	m.state = Ready
	return true
}

// Read calls fn with the current items under a read lock. fn must not retain
// or modify the slice.
func (m *Mirror[T]) Read(fn func(items []T)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.items)
}

// Loads runs background fetches that outlive the call that started them.
// Close cancels outstanding fetches and waits for them.
type Loads struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoads returns a runner whose fetches are cancelled by Close
func NewLoads() *Loads {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loads{ctx: ctx, cancel: cancel}
}

// Go runs fn in its own goroutine. fn receives a context cancelled by Close.
func (l *Loads) Go(fn func(ctx context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn(l.ctx)
	}()
}

// Wait blocks until every started fetch has returned
func (l *Loads) Wait() { l.wg.Wait() }

// Close cancels outstanding fetches and waits for them
func (l *Loads) Close() {
	l.cancel()
	l.wg.Wait()
}
