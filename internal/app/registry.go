package app

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/rs/zerolog/log"
)

// Connection is a live transport bound to one identity.
type Connection struct {
	Identity    domain.Identity
	Conn        core.SignalConnection
	ConnectedAt time.Time
}

// Registry maps identity to its single live connection.
// It never closes the handles it stores.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]*Connection
	now   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[domain.UserID]*Connection),
		now:   time.Now,
	}
}

// Register binds conn to the identity. An existing entry is overwritten and
// its handle returned so the caller can decide what to do with it.
func (r *Registry) Register(id domain.Identity, conn core.SignalConnection) (prev core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[id.ID]; ok {
		prev = old.Conn
	}
	r.conns[id.ID] = &Connection{Identity: id, Conn: conn, ConnectedAt: r.now()}
	log.Info().Str("module", "app.registry").Str("user", string(id.ID)).Bool("replaced", prev != nil).Msg("registered connection")
	return prev
}

func (r *Registry) Unregister(id domain.UserID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; !ok {
		return false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("unregistered connection")
	return true
}

// Release unregisters id only while conn is still its current handle.
// A superseded handle closing late must not evict its replacement.
func (r *Registry) Release(id domain.UserID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.conns[id]
	if !ok || entry.Conn != conn {
		return false
	}
	delete(r.conns, id)
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("released connection")
	return true
}

func (r *Registry) Lookup(id domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Identity(id domain.UserID) (domain.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[id]; ok {
		return e.Identity, true
	}
	return domain.Identity{}, false
}

// Live returns every connection ordered by connect time, then id.
func (r *Registry) Live() []Connection {
	r.mu.RLock()
	out := make([]Connection, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, *e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].Identity.ID < out[j].Identity.ID
	})
	return out
}

// Snapshot is the presence view derived from Live.
func (r *Registry) Snapshot() []domain.PresenceEntry {
	return snapshotOf(r.Live())
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func snapshotOf(live []Connection) []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(live))
	for _, c := range live {
		out = append(out, domain.PresenceEntry{ID: c.Identity.ID, Name: c.Identity.DisplayName()})
	}
	return out
}
