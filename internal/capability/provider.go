package capability

import (
	"sync"
	"time"
)

// Provider is a resident capability backend. It is owned by the Manager;
// callers only see it through a Lease.
type Provider struct {
	ID       ID
	Handle   Handle
	LoadedAt time.Time

	mu       sync.Mutex
	refs     int
	evicted  bool
	tornDown bool
}

// retain adds a reference. Called with the owning slot locked.
func (p *Provider) retain() {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
}

// drop removes a reference and reports whether the provider is now due
// for teardown.
func (p *Provider) drop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refs > 0 {
		p.refs--
	}
	return p.claimTeardown()
}

// evict marks the provider as no longer resident and reports whether it
// is due for teardown.
func (p *Provider) evict() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evicted = true
	return p.claimTeardown()
}

func (p *Provider) claimTeardown() bool {
	if p.evicted && p.refs == 0 && !p.tornDown {
		p.tornDown = true
		return true
	}
	return false
}

// Refs reports the number of outstanding leases.
func (p *Provider) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// Lease is a borrowed reference to a provider, valid until Release.
type Lease struct {
	Provider *Provider

	once    sync.Once
	release func(*Provider)
}

func (l *Lease) Handle() Handle { return l.Provider.Handle }

// Release returns the reference. Safe to call more than once.
func (l *Lease) Release() {
	l.once.Do(func() {
		if l.release != nil {
			l.release(l.Provider)
		}
	})
}
