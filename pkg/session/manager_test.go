package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvictor struct {
	evicted []string
}

func (f *fakeEvictor) Evict(sessionID string) {
	f.evicted = append(f.evicted, sessionID)
}

type fakeCanceller struct {
	cancelled []string
}

func (f *fakeCanceller) CancelForSession(sessionID string) {
	f.cancelled = append(f.cancelled, sessionID)
}

func testParams() Params {
	return Params{ContainerID: "ctr-1", Group: "tenants-a", Source: "agent-1"}
}

func TestCreate_AndLookup(t *testing.T) {
	m := NewManager(nil, nil)

	s, err := m.Create(testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, s.SessionID)
	assert.Equal(t, "tenants-a", s.Group)
	assert.False(t, s.StartedAt.IsZero())

	got, ok := m.Lookup("ctr-1")
	require.True(t, ok)
	assert.Equal(t, s.SessionID, got.SessionID)

	_, ok = m.Lookup("ghost")
	assert.False(t, ok)
}

func TestCreate_RequiresAllFields(t *testing.T) {
	m := NewManager(nil, nil)

	for _, p := range []Params{
		{Group: "g", Source: "s"},
		{ContainerID: "c", Source: "s"},
		{ContainerID: "c", Group: "g"},
	} {
		_, err := m.Create(p)
		assert.Error(t, err)
	}
}

func TestCreate_OneSessionPerContainer(t *testing.T) {
	m := NewManager(nil, nil)

	_, err := m.Create(testParams())
	require.NoError(t, err)

	_, err = m.Create(testParams())
	require.Error(t, err)

	// Same source under a different container id is also rejected: the
	// source is an identity too.
	p := testParams()
	p.ContainerID = "ctr-2"
	_, err = m.Create(p)
	require.Error(t, err)
}

func TestDestroy_FreesResources(t *testing.T) {
	evictor := &fakeEvictor{}
	canceller := &fakeCanceller{}
	m := NewManager(evictor, canceller)

	s, err := m.Create(testParams())
	require.NoError(t, err)

	require.NoError(t, m.Destroy("ctr-1"))

	assert.Equal(t, []string{s.SessionID}, evictor.evicted)
	assert.Equal(t, []string{s.SessionID}, canceller.cancelled)

	_, ok := m.Lookup("ctr-1")
	assert.False(t, ok)

	// The identity is reusable after destruction.
	_, err = m.Create(testParams())
	assert.NoError(t, err)
}

func TestDestroy_UnknownContainer(t *testing.T) {
	m := NewManager(nil, nil)
	assert.Error(t, m.Destroy("ghost"))
}

func TestList(t *testing.T) {
	m := NewManager(nil, nil)

	for _, p := range []Params{
		{ContainerID: "c1", Group: "g", Source: "s1"},
		{ContainerID: "c2", Group: "g", Source: "s2"},
	} {
		_, err := m.Create(p)
		require.NoError(t, err)
	}

	list := m.List()
	assert.Len(t, list, 2)
}

func TestSessionInfoBySource(t *testing.T) {
	m := NewManager(nil, nil)
	s, err := m.Create(testParams())
	require.NoError(t, err)

	info, ok := m.SessionInfoBySource("agent-1")
	require.True(t, ok)
	assert.Equal(t, s.SessionID, info["session_id"])
	assert.Equal(t, "tenants-a", info["group"])
	assert.Equal(t, "ctr-1", info["container_id"])

	_, ok = m.SessionInfoBySource("ghost")
	assert.False(t, ok)
}
