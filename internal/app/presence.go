package app

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Broadcast triggers.
const (
	TriggerRegister   = "register"
	TriggerUnregister = "unregister"
	TriggerReconcile  = "reconcile"
)

// PresenceSink receives the full, unpersonalized snapshot on every broadcast.
// Implementations must not block.
type PresenceSink interface {
	PublishPresence(entries []domain.PresenceEntry)
}

// Presence pushes the online list, minus the recipient itself, to every live connection.
type Presence struct {
	registry *Registry
	sinks    []PresenceSink
	out      deliverer
	metrics  *metrics.Metrics
}

func NewPresence(registry *Registry, policy Policy, m *metrics.Metrics, sinks ...PresenceSink) *Presence {
	return &Presence{
		registry: registry,
		sinks:    sinks,
		out:      deliverer{policy: policy},
		metrics:  m,
	}
}

// Broadcast recomputes the snapshot and pushes it. Failed pushes are ignored;
// the next broadcast (at the latest the reconciliation tick) heals the view.
// It returns the number of connections that accepted the push.
func (p *Presence) Broadcast(trigger string) int {
	live := p.registry.Live()
	all := snapshotOf(live)

	delivered := 0
	for _, c := range live {
		msg := core.OnlineUsersMessage{Type: core.TypeOnlineUsers, Users: excluding(all, c.Identity.ID)}
		if err := p.out.send(c.Identity.ID, c.Conn, msg); err == nil {
			delivered++
		}
	}
	for _, s := range p.sinks {
		s.PublishPresence(all)
	}

	p.metrics.SetOnline(len(live))
	p.metrics.PresenceBroadcast(trigger)
	log.Debug().Str("module", "app.presence").Str("trigger", trigger).Int("online", len(live)).Int("delivered", delivered).Msg("presence broadcast")
	return delivered
}

// ViewFor is the personalized online list of one identity.
func (p *Presence) ViewFor(id domain.UserID) []domain.PresenceEntry {
	return excluding(p.registry.Snapshot(), id)
}

func excluding(all []domain.PresenceEntry, id domain.UserID) []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(all))
	for _, e := range all {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}
