// Package confirm tracks pending high-risk confirmations and the
// pre-approved correlation set that pipeline stage 5 consults.
//
// The gate holds one entry per outstanding confirmation. An entry resolves
// exactly once — approve, deny, or deadline timeout — and its timer is
// cancelled on every resolution path. Shutdown resolves everything as
// timeout.
package confirm

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Outcome is the resolution of one confirmation request.
type Outcome string

// Confirmation outcomes.
const (
	OutcomeApproved Outcome = "approved"
	OutcomeDenied   Outcome = "denied"
	OutcomeTimeout  Outcome = "timeout"
)

// DefaultTimeout bounds how long a confirmation may stay pending.
const DefaultTimeout = 300 * time.Second

// Pending describes one outstanding confirmation for listing.
type Pending struct {
	ConfirmationID string    `json:"confirmation_id"`
	ToolName       string    `json:"tool_name"`
	SessionID      string    `json:"session_id,omitempty"`
	RequestedAt    time.Time `json:"requested_at"`
	Deadline       time.Time `json:"deadline"`
}

type entry struct {
	info     Pending
	result   chan Outcome
	timer    *time.Timer
	resolved bool
}

// Gate owns the pending confirmation map. One mutex guards the map and
// the timer set.
type Gate struct {
	mu      sync.Mutex
	pending map[string]*entry
	timeout time.Duration
}

// NewGate creates a gate. A zero timeout selects DefaultTimeout.
func NewGate(timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gate{
		pending: make(map[string]*entry),
		timeout: timeout,
	}
}

// Request registers a pending confirmation and returns a channel that
// receives exactly one Outcome. sessionID scopes the entry for bulk
// cancellation when the session is destroyed; it may be empty.
// Duplicate confirmation ids fail.
func (g *Gate) Request(id, tool, sessionID string) (<-chan Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.pending[id]; exists {
		return nil, fmt.Errorf("confirmation %q is already pending", id)
	}

	now := time.Now()
	e := &entry{
		info: Pending{
			ConfirmationID: id,
			ToolName:       tool,
			SessionID:      sessionID,
			RequestedAt:    now,
			Deadline:       now.Add(g.timeout),
		},
		result: make(chan Outcome, 1),
	}
	e.timer = time.AfterFunc(g.timeout, func() {
		g.resolve(id, OutcomeTimeout)
	})
	g.pending[id] = e
	return e.result, nil
}

// Approve resolves the confirmation as approved. Returns false if the id
// is unknown or already resolved (first resolution wins, others no-op).
func (g *Gate) Approve(id string) bool {
	return g.resolve(id, OutcomeApproved)
}

// Deny resolves the confirmation as denied.
func (g *Gate) Deny(id string) bool {
	return g.resolve(id, OutcomeDenied)
}

// CancelAll resolves every pending confirmation as timeout. Called on
// shutdown.
func (g *Gate) CancelAll() {
	for _, id := range g.pendingIDs("") {
		g.resolve(id, OutcomeTimeout)
	}
}

// CancelForSession resolves every confirmation scoped to sessionID as
// timeout. Called on session destruction.
func (g *Gate) CancelForSession(sessionID string) {
	if sessionID == "" {
		return
	}
	for _, id := range g.pendingIDs(sessionID) {
		g.resolve(id, OutcomeTimeout)
	}
}

// Pending lists outstanding confirmations ordered by request time.
func (g *Gate) Pending() []Pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Pending, 0, len(g.pending))
	for _, e := range g.pending {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}

// Get returns the pending entry for id.
func (g *Gate) Get(id string) (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.pending[id]
	if !ok {
		return Pending{}, false
	}
	return e.info, true
}

// resolve removes the entry, stops its timer, and delivers the outcome.
// Every resolution path funnels through here, which is what guarantees
// timer cancellation and first-wins semantics.
func (g *Gate) resolve(id string, outcome Outcome) bool {
	g.mu.Lock()
	e, ok := g.pending[id]
	if !ok || e.resolved {
		g.mu.Unlock()
		return false
	}
	e.resolved = true
	delete(g.pending, id)
	e.timer.Stop()
	g.mu.Unlock()

	e.result <- outcome
	return true
}

// pendingIDs snapshots pending ids, optionally filtered by session.
func (g *Gate) pendingIDs(sessionID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.pending))
	for id, e := range g.pending {
		if sessionID == "" || e.info.SessionID == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}
