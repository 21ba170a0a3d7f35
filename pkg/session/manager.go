// Package session holds the host-trusted session records that bind a live
// container to its group and source identity. The container identity on
// the transport is the lookup key for every inbound wire message; a frame
// with no session behind it is dead on arrival.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the host-trusted record of one live container. All fields are
// set at creation and read-only afterwards; the router holds read-only
// references.
type Session struct {
	SessionID   string    `json:"session_id"`
	ContainerID string    `json:"container_id"`
	Group       string    `json:"group"`
	Source      string    `json:"source"`
	StartedAt   time.Time `json:"started_at"`
}

// BucketEvictor frees a session's rate-limit bucket. Implemented by
// ratelimit.SessionLimiter.
type BucketEvictor interface {
	Evict(sessionID string)
}

// ConfirmationCanceller cancels pending confirmations scoped to a session.
// Implemented by confirm.Gate.
type ConfirmationCanceller interface {
	CancelForSession(sessionID string)
}

// Manager maps container identities to sessions. Create and destroy hold
// the manager-wide lock; lookups take the shared lock.
type Manager struct {
	mu          sync.RWMutex
	byContainer map[string]*Session
	bySource    map[string]*Session

	limiter BucketEvictor
	gate    ConfirmationCanceller
}

// NewManager creates a session manager. limiter and gate receive cleanup
// calls on session destruction; either may be nil.
func NewManager(limiter BucketEvictor, gate ConfirmationCanceller) *Manager {
	return &Manager{
		byContainer: make(map[string]*Session),
		bySource:    make(map[string]*Session),
		limiter:     limiter,
		gate:        gate,
	}
}

// Params are the host-supplied identity fields for a new session.
type Params struct {
	ContainerID string
	Group       string
	Source      string
}

// Create registers a session for a freshly spawned container. One session
// per live container: a duplicate container identity fails.
func (m *Manager) Create(p Params) (*Session, error) {
	if p.ContainerID == "" || p.Group == "" || p.Source == "" {
		return nil, fmt.Errorf("session requires container id, group, and source")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byContainer[p.ContainerID]; exists {
		return nil, fmt.Errorf("container %q already has a session", p.ContainerID)
	}
	if _, exists := m.bySource[p.Source]; exists {
		return nil, fmt.Errorf("source %q already has a session", p.Source)
	}

	s := &Session{
		SessionID:   uuid.New().String(),
		ContainerID: p.ContainerID,
		Group:       p.Group,
		Source:      p.Source,
		StartedAt:   time.Now(),
	}
	m.byContainer[p.ContainerID] = s
	m.bySource[p.Source] = s
	return s, nil
}

// Lookup resolves the session for a transport-supplied container identity.
func (m *Manager) Lookup(containerID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byContainer[containerID]
	return s, ok
}

// Destroy removes the session, frees its rate-limit bucket, and cancels
// its pending confirmations.
func (m *Manager) Destroy(containerID string) error {
	m.mu.Lock()
	s, ok := m.byContainer[containerID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("no session for container %q", containerID)
	}
	delete(m.byContainer, containerID)
	delete(m.bySource, s.Source)
	m.mu.Unlock()

	if m.limiter != nil {
		m.limiter.Evict(s.SessionID)
	}
	if m.gate != nil {
		m.gate.CancelForSession(s.SessionID)
	}
	return nil
}

// List returns a snapshot of live sessions ordered by start time.
func (m *Manager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Session, 0, len(m.byContainer))
	for _, s := range m.byContainer {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// SessionInfoBySource serves the get_session_info intrinsic.
func (m *Manager) SessionInfoBySource(source string) (map[string]any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySource[source]
	if !ok {
		return nil, false
	}
	return map[string]any{
		"session_id":   s.SessionID,
		"container_id": s.ContainerID,
		"group":        s.Group,
		"source":       s.Source,
		"started_at":   s.StartedAt.UTC().Format(time.RFC3339),
	}, true
}
