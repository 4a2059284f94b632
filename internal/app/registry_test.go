package app

import (
	"testing"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steppingClock() func() time.Time {
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestRegistryRegisterLookupSnapshot(t *testing.T) {
	r := NewRegistry()
	r.now = steppingClock()

	bob, alice := &fakeConn{}, &fakeConn{}
	assert.Nil(t, r.Register(domain.Identity{ID: "bob", Name: "Bob"}, bob))
	assert.Nil(t, r.Register(domain.Identity{ID: "alice"}, alice))

	got, ok := r.Lookup("bob")
	require.True(t, ok)
	assert.Same(t, bob, got)
	_, ok = r.Lookup("carol")
	assert.False(t, ok)

	assert.Equal(t, []domain.PresenceEntry{
		{ID: "bob", Name: "Bob"},
		{ID: "alice", Name: domain.UnknownUserName},
	}, r.Snapshot())
	assert.Equal(t, 2, r.Len())
}

func TestRegistryReplaceReturnsPrevious(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeConn{}, &fakeConn{}

	r.Register(domain.Identity{ID: "alice"}, first)
	prev := r.Register(domain.Identity{ID: "alice"}, second)

	assert.Same(t, first, prev)
	assert.False(t, first.isClosed(), "registry never closes handles")
	assert.Equal(t, 1, r.Len())
	got, _ := r.Lookup("alice")
	assert.Same(t, second, got)
}

func TestRegistryReleaseIgnoresStaleHandle(t *testing.T) {
	r := NewRegistry()
	first, second := &fakeConn{}, &fakeConn{}
	r.Register(domain.Identity{ID: "alice"}, first)
	r.Register(domain.Identity{ID: "alice"}, second)

	assert.False(t, r.Release("alice", first))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Release("alice", second))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Release("alice", second))
}

func TestRegistrySnapshotTracksEveryMutation(t *testing.T) {
	r := NewRegistry()
	r.now = steppingClock()
	ids := []domain.UserID{"a", "b", "c", "d"}
	for _, id := range ids {
		r.Register(domain.Identity{ID: id, Name: string(id)}, &fakeConn{})
	}
	require.True(t, r.Unregister("b"))
	assert.False(t, r.Unregister("b"))
	r.Register(domain.Identity{ID: "b", Name: "b"}, &fakeConn{})
	require.True(t, r.Unregister("d"))

	var got []domain.UserID
	for _, e := range r.Snapshot() {
		got = append(got, e.ID)
	}
	assert.Equal(t, []domain.UserID{"a", "c", "b"}, got)

	ident, ok := r.Identity("c")
	require.True(t, ok)
	assert.Equal(t, "c", ident.Name)
}
