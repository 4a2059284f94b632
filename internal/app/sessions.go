package app

import (
	"sync"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/rs/zerolog/log"
)

type SessionPhase int

const (
	// PhaseRinging is Calling on the initiator's side and Incoming on the callee's.
	PhaseRinging SessionPhase = iota + 1
	PhaseOngoing
)

func (p SessionPhase) String() string {
	switch p {
	case PhaseRinging:
		return "ringing"
	case PhaseOngoing:
		return "ongoing"
	}
	return "idle"
}

// CallSession exists only while its pair is not Idle.
type CallSession struct {
	Pair        domain.Pair
	Phase       SessionPhase
	InitiatorID domain.UserID
	StartedAt   time.Time
	AnsweredAt  time.Time
}

// StateFor projects the session onto one participant.
func (s CallSession) StateFor(id domain.UserID) domain.CallState {
	if !s.Pair.Has(id) {
		return domain.CallIdle
	}
	switch s.Phase {
	case PhaseRinging:
		if id == s.InitiatorID {
			return domain.CallCalling
		}
		return domain.CallIncoming
	case PhaseOngoing:
		return domain.CallOngoing
	}
	return domain.CallIdle
}

type StartVerdict int

const (
	StartOK StartVerdict = iota
	// StartCalleeBusy: the callee is already in a session (with anyone, including the caller).
	StartCalleeBusy
	// StartCallerEngaged: the caller is in a session with a third party.
	StartCallerEngaged
)

// SessionTracker is the authoritative call-lifecycle record, keyed by pair.
// Every identity belongs to at most one session.
type SessionTracker struct {
	mu     sync.RWMutex
	byPair map[domain.Pair]*CallSession
	byUser map[domain.UserID]domain.Pair

	ringTimeout time.Duration
	now         func() time.Time
}

func NewSessionTracker(ringTimeout time.Duration) *SessionTracker {
	return &SessionTracker{
		byPair:      make(map[domain.Pair]*CallSession),
		byUser:      make(map[domain.UserID]domain.Pair),
		ringTimeout: ringTimeout,
		now:         time.Now,
	}
}

func (t *SessionTracker) CanStart(caller, callee domain.UserID) StartVerdict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.canStartLocked(caller, callee)
}

func (t *SessionTracker) canStartLocked(caller, callee domain.UserID) StartVerdict {
	if _, ok := t.byPair[domain.PairOf(caller, callee)]; ok {
		return StartCalleeBusy
	}
	if _, ok := t.byUser[callee]; ok {
		return StartCalleeBusy
	}
	if _, ok := t.byUser[caller]; ok {
		return StartCallerEngaged
	}
	return StartOK
}

// Begin moves the pair from Idle to Ringing with caller as initiator.
func (t *SessionTracker) Begin(caller, callee domain.UserID) (CallSession, error) {
	pair := domain.PairOf(caller, callee)
	t.mu.Lock()
	defer t.mu.Unlock()
	if v := t.canStartLocked(caller, callee); v != StartOK {
		return CallSession{}, domain.InvalidTransition("pair or participant not idle", pair)
	}
	s := &CallSession{Pair: pair, Phase: PhaseRinging, InitiatorID: caller, StartedAt: t.now()}
	t.byPair[pair] = s
	t.byUser[caller] = pair
	t.byUser[callee] = pair
	log.Info().Str("module", "app.sessions").Str("caller", string(caller)).Str("callee", string(callee)).Msg("session ringing")
	return *s, nil
}

// Answer moves a ringing session to Ongoing. Only the callee may answer.
func (t *SessionTracker) Answer(answerer, initiator domain.UserID) (CallSession, error) {
	pair := domain.PairOf(answerer, initiator)
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byPair[pair]
	if !ok {
		return CallSession{}, domain.InvalidTransition("answer without pending session", pair)
	}
	if s.Phase != PhaseRinging {
		return CallSession{}, domain.InvalidTransition("answer on "+s.Phase.String()+" session", pair)
	}
	if s.InitiatorID == answerer {
		return CallSession{}, domain.InvalidTransition("initiator cannot answer", pair)
	}
	s.Phase = PhaseOngoing
	s.AnsweredAt = t.now()
	log.Info().Str("module", "app.sessions").Str("answerer", string(answerer)).Str("caller", string(initiator)).Msg("session ongoing")
	return *s, nil
}

// Active returns the session for the pair, if any.
func (t *SessionTracker) Active(a, b domain.UserID) (CallSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.byPair[domain.PairOf(a, b)]; ok {
		return *s, true
	}
	return CallSession{}, false
}

// Of returns the session the identity participates in, if any.
func (t *SessionTracker) Of(id domain.UserID) (CallSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pair, ok := t.byUser[id]
	if !ok {
		return CallSession{}, false
	}
	return *t.byPair[pair], true
}

func (t *SessionTracker) StateOf(id domain.UserID) domain.CallState {
	s, ok := t.Of(id)
	if !ok {
		return domain.CallIdle
	}
	return s.StateFor(id)
}

// End destroys the pair's session. Ending an Idle pair is a no-op.
func (t *SessionTracker) End(a, b domain.UserID) (CallSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endLocked(domain.PairOf(a, b))
}

// EndAllFor destroys every session id takes part in.
func (t *SessionTracker) EndAllFor(id domain.UserID) []CallSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	pair, ok := t.byUser[id]
	if !ok {
		return nil
	}
	s, _ := t.endLocked(pair)
	return []CallSession{s}
}

// ExpireRinging ends ringing sessions older than the ring timeout.
func (t *SessionTracker) ExpireRinging() []CallSession {
	if t.ringTimeout <= 0 {
		return nil
	}
	cutoff := t.now().Add(-t.ringTimeout)
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []CallSession
	for pair, s := range t.byPair {
		if s.Phase == PhaseRinging && s.StartedAt.Before(cutoff) {
			ended, _ := t.endLocked(pair)
			out = append(out, ended)
		}
	}
	return out
}

func (t *SessionTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byPair)
}

func (t *SessionTracker) endLocked(pair domain.Pair) (CallSession, bool) {
	s, ok := t.byPair[pair]
	if !ok {
		return CallSession{}, false
	}
	delete(t.byPair, pair)
	delete(t.byUser, pair.A)
	delete(t.byUser, pair.B)
	log.Info().Str("module", "app.sessions").Str("a", string(pair.A)).Str("b", string(pair.B)).Str("phase", s.Phase.String()).Msg("session ended")
	return *s, true
}
