package orch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Intercom/internal/app"
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ErrSuperseded is returned for frames read from a handle that is no longer
// the identity's current connection.
var ErrSuperseded = errors.New("connection superseded")

// Orchestrator serializes every event that touches the registry or the
// session table: connect, disconnect, inbound frames and reconciliation ticks.
type Orchestrator struct {
	mu sync.Mutex

	Registry *app.Registry
	Sessions *app.SessionTracker
	Presence *app.Presence
	Router   *app.Router
	Metrics  *metrics.Metrics

	// Interval is the reconciliation period. Zero disables the loop.
	Interval time.Duration
}

// Connect registers an authenticated connection. A previous connection of the
// same identity is closed and its sessions are torn down.
func (o *Orchestrator) Connect(id domain.Identity, conn core.SignalConnection) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.Registry.Register(id, conn)
	if prev != nil && prev != conn {
		log.Info().Str("module", "orch").Str("user", string(id.ID)).Msg("closing superseded connection")
		prev.Close()
		o.Router.Abandon(id.ID)
	}
	o.Presence.Broadcast(app.TriggerRegister)
	o.syncMetrics()
}

// Disconnect unregisters conn if it is still current and reports whether it
// was. Safe to call more than once.
func (o *Orchestrator) Disconnect(id domain.UserID, conn core.SignalConnection) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.Registry.Release(id, conn) {
		return false
	}
	o.Router.Abandon(id)
	o.Presence.Broadcast(app.TriggerUnregister)
	o.syncMetrics()
	return true
}

// OnFrame routes one inbound frame. The error is informational.
func (o *Orchestrator) OnFrame(id domain.UserID, conn core.SignalConnection, data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cur, ok := o.Registry.Lookup(id)
	if !ok || cur != conn {
		return ErrSuperseded
	}
	sender, _ := o.Registry.Identity(id)
	err := o.Router.Dispatch(sender, data)
	o.syncMetrics()
	return err
}

// Reconcile expires stale ringing sessions and rebroadcasts presence.
func (o *Orchestrator) Reconcile() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n := o.Router.Expire(); n > 0 {
		log.Info().Str("module", "orch").Int("expired", n).Msg("ringing sessions expired")
	}
	o.Presence.Broadcast(app.TriggerReconcile)
	o.syncMetrics()
}

// Run ticks Reconcile every Interval until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(o.Interval)
	defer ticker.Stop()
	log.Info().Str("module", "orch").Dur("interval", o.Interval).Msg("reconciliation loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "orch").Msg("reconciliation loop stopped")
			return nil
		case <-ticker.C:
			o.Reconcile()
		}
	}
}

// Shutdown closes every live connection. Read pumps unregister them afterwards.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	live := o.Registry.Live()
	o.mu.Unlock()
	for _, c := range live {
		c.Conn.Close()
	}
	log.Info().Str("module", "orch").Int("closed", len(live)).Msg("connections closed")
}

// Online is the personalized presence view of id.
func (o *Orchestrator) Online(id domain.UserID) []domain.PresenceEntry {
	return o.Presence.ViewFor(id)
}

// CallOf returns id's current session, if any, and its projected state.
func (o *Orchestrator) CallOf(id domain.UserID) (app.CallSession, domain.CallState, bool) {
	s, ok := o.Sessions.Of(id)
	if !ok {
		return app.CallSession{}, domain.CallIdle, false
	}
	return s, s.StateFor(id), true
}

func (o *Orchestrator) syncMetrics() {
	o.Metrics.SetActiveCalls(o.Sessions.Len())
}
