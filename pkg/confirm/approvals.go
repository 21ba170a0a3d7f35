package confirm

import (
	"sync"
	"time"
)

// Approvals is the pre-approved correlation set stage 5 consults for
// high-risk tools. The out-of-band approval flow (admin API resolving gate
// entries) populates it; the pipeline consumes entries one-shot so an
// approval authorizes exactly one dispatch.
type Approvals struct {
	mu  sync.Mutex
	set map[string]time.Time // correlation → expiry
	ttl time.Duration
	now func() time.Time
}

// NewApprovals creates the set. Entries expire after ttl; zero selects
// DefaultTimeout.
func NewApprovals(ttl time.Duration) *Approvals {
	if ttl <= 0 {
		ttl = DefaultTimeout
	}
	return &Approvals{
		set: make(map[string]time.Time),
		ttl: ttl,
		now: time.Now,
	}
}

// SetClock replaces the wall clock. Test hook.
func (a *Approvals) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Approve marks a correlation as pre-approved until the TTL elapses.
func (a *Approvals) Approve(correlation string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set[correlation] = a.now().Add(a.ttl)
}

// Consume removes and returns whether the correlation was pre-approved
// and unexpired. Expired entries are dropped on contact.
func (a *Approvals) Consume(correlation string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	expiry, ok := a.set[correlation]
	if !ok {
		return false
	}
	delete(a.set, correlation)
	return a.now().Before(expiry)
}
