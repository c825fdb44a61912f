package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rahul/switchboard/internal/observability"
)

// Options configures a Manager.
type Options struct {
	// Enabled reports whether a capability may be loaded. Nil allows all.
	Enabled func(ID) bool
	// AlwaysResident capabilities survive every Release.
	AlwaysResident []ID
	// LoadTimeout bounds a single Factory.Build call.
	LoadTimeout time.Duration
	Logger      *observability.Logger
}

// Manager is the capability resource manager. Every capability has its own
// slot and lock, so loads of different capabilities never wait on each
// other, while concurrent Acquire calls for the same capability share one
// Factory.Build.
type Manager struct {
	factory     Factory
	enabled     func(ID) bool
	pinned      Set
	loadTimeout time.Duration
	logger      *observability.Logger

	// slots is populated once in NewManager and never mutated.
	slots map[ID]*slot

	teardowns sync.WaitGroup
	closed    atomic.Bool
}

type slot struct {
	mu       sync.Mutex
	provider *Provider
	inflight *pendingLoad
}

type pendingLoad struct {
	done     chan struct{}
	provider *Provider
	err      error
}

func NewManager(factory Factory, opts Options) *Manager {
	if opts.Enabled == nil {
		opts.Enabled = func(ID) bool { return true }
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 2 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	m := &Manager{
		factory:     factory,
		enabled:     opts.Enabled,
		pinned:      NewSet(opts.AlwaysResident...),
		loadTimeout: opts.LoadTimeout,
		logger:      opts.Logger.With("resources"),
		slots:       make(map[ID]*slot, len(All)),
	}
	for _, id := range All {
		m.slots[id] = &slot{}
	}
	return m
}

// Init warms the always-resident capabilities. Failures are returned but
// leave the manager usable; a later Acquire retries the load.
func (m *Manager) Init(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range m.pinned.Sorted() {
		if !m.enabled(id) {
			continue
		}
		wg.Add(1)
		go func(id ID) {
			defer wg.Done()
			lease, err := m.Acquire(ctx, id)
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			lease.Release()
		}(id)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Acquire returns a lease on the provider for id, building it on first use.
// The caller must Release the lease when its step is done. Errors are
// always *LoadError.
func (m *Manager) Acquire(ctx context.Context, id ID) (*Lease, error) {
	if m.closed.Load() {
		return nil, &LoadError{ID: id, Kind: ErrClosed}
	}
	s, ok := m.slots[id]
	if !ok {
		return nil, &LoadError{ID: id, Kind: ErrUnknown}
	}
	if !m.enabled(id) {
		return nil, &LoadError{ID: id, Kind: ErrDisabled}
	}

	for {
		s.mu.Lock()
		if p := s.provider; p != nil {
			p.retain()
			s.mu.Unlock()
			return m.lease(p), nil
		}
		l := s.inflight
		if l == nil {
			l = &pendingLoad{done: make(chan struct{})}
			s.inflight = l
			go m.load(id, s, l)
		}
		s.mu.Unlock()

		select {
		case <-l.done:
			if l.err != nil {
				return nil, l.err
			}
			// Loop to take the reference under the slot lock; if the
			// provider was evicted in between, a fresh load starts.
		case <-ctx.Done():
			return nil, &LoadError{ID: id, Kind: ErrLoadTimeout, Err: ctx.Err()}
		}
	}
}

func (m *Manager) lease(p *Provider) *Lease {
	return &Lease{Provider: p, release: m.releaseLease}
}

func (m *Manager) releaseLease(p *Provider) {
	if p.drop() {
		m.teardown(p)
	}
}

// load runs detached from any single caller so that one caller giving up
// does not fail the others waiting on the same build.
func (m *Manager) load(id ID, s *slot, l *pendingLoad) {
	ctx, cancel := context.WithTimeout(context.Background(), m.loadTimeout)
	defer cancel()

	start := time.Now()
	h, err := m.build(ctx, id)
	if err != nil {
		err = m.classify(ctx, id, err)
	}

	s.mu.Lock()
	if err == nil {
		if m.closed.Load() {
			err = &LoadError{ID: id, Kind: ErrClosed}
			closeHandle(h)
		} else {
			p := &Provider{ID: id, Handle: h, LoadedAt: time.Now()}
			s.provider = p
			l.provider = p
		}
	}
	l.err = err
	s.inflight = nil
	s.mu.Unlock()
	close(l.done)

	m.logger.LogCapability(string(id), "load", time.Since(start), err)
}

func (m *Manager) build(ctx context.Context, id ID) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	h, err = m.factory.Build(ctx, id)
	if err == nil && h == nil {
		err = errors.New("factory returned no handle")
	}
	return h, err
}

func (m *Manager) classify(ctx context.Context, id ID, err error) error {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &LoadError{ID: id, Kind: ErrLoadTimeout, Err: err}
	}
	return &LoadError{ID: id, Kind: ErrLoadFailed, Err: err}
}

// Release evicts every resident provider whose id is neither in keep nor
// always-resident, and returns the evicted ids. Teardown happens in the
// background once outstanding leases are returned.
func (m *Manager) Release(keep Set) []ID {
	var evicted []ID
	for _, id := range All {
		if keep.Has(id) || m.pinned.Has(id) {
			continue
		}
		if m.evictSlot(id) {
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (m *Manager) evictSlot(id ID) bool {
	s := m.slots[id]
	s.mu.Lock()
	p := s.provider
	s.provider = nil
	s.mu.Unlock()
	if p == nil {
		return false
	}
	if p.evict() {
		m.teardown(p)
	}
	return true
}

func (m *Manager) teardown(p *Provider) {
	m.teardowns.Add(1)
	go func() {
		defer m.teardowns.Done()
		start := time.Now()
		err := closeHandle(p.Handle)
		m.logger.LogCapability(string(p.ID), "unload", time.Since(start), err)
	}()
}

func closeHandle(h Handle) error {
	if c, ok := h.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Active lists the resident capabilities in All order.
func (m *Manager) Active() []ID {
	var out []ID
	for _, id := range All {
		s := m.slots[id]
		s.mu.Lock()
		if s.provider != nil {
			out = append(out, id)
		}
		s.mu.Unlock()
	}
	return out
}

// Pinned reports the always-resident set.
func (m *Manager) Pinned() []ID { return m.pinned.Sorted() }

// Shutdown evicts everything, pinned providers included, and waits for
// teardowns to finish or ctx to expire. Acquire fails afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	for _, id := range All {
		m.evictSlot(id)
	}

	done := make(chan struct{})
	go func() {
		m.teardowns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
