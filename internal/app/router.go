package app

import (
	"github.com/dkeye/Intercom/internal/core"
	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Call-state reasons pushed alongside idle transitions.
const (
	ReasonEnded        = "ended"
	ReasonDisconnected = "disconnected"
	ReasonTimeout      = "timeout"
	ReasonUndelivered  = "undelivered"
)

// Router decodes client frames and relays them between identities.
//
// Delivery is at-most-once and fire-and-forget: a frame for an unreachable or
// backlogged recipient is dropped without telling the sender. Nothing is retried.
//
// Router is not safe for concurrent use; callers serialize Dispatch, Abandon and
// Expire (see orch.Orchestrator).
type Router struct {
	registry *Registry
	sessions *SessionTracker
	out      deliverer
	metrics  *metrics.Metrics
}

func NewRouter(registry *Registry, sessions *SessionTracker, policy Policy, m *metrics.Metrics) *Router {
	return &Router{
		registry: registry,
		sessions: sessions,
		out:      deliverer{policy: policy},
		metrics:  m,
	}
}

// Dispatch handles one frame from sender. The returned error says why the frame
// was dropped; it is for logs and metrics only and never reaches a client.
func (r *Router) Dispatch(sender domain.Identity, data []byte) error {
	in, err := core.DecodeInbound(data)
	if err != nil {
		r.metrics.Frame("invalid", metrics.OutcomeDropped, domain.TextCode(err))
		return err
	}
	outcome, err := r.route(sender, in)
	if err != nil {
		reason := domain.TextCode(err)
		if reason == "" {
			reason = "undelivered"
		}
		r.metrics.Frame(in.Type.Label(), metrics.OutcomeDropped, reason)
		return err
	}
	r.metrics.Frame(in.Type.Label(), outcome, "")
	return nil
}

func (r *Router) route(sender domain.Identity, in core.Inbound) (string, error) {
	if in.Type.Routable() && in.RecipientID == sender.ID {
		return "", domain.MalformedFrame("recipient is sender", nil)
	}
	switch in.Type {
	case core.TypePing:
		return metrics.OutcomeReplied, r.reply(sender.ID, core.PongMessage{Type: core.TypePong})
	case core.TypeOffer:
		return r.handleOffer(sender, in)
	case core.TypeAnswer:
		return r.handleAnswer(sender, in)
	case core.TypeCandidate:
		return r.handleCandidate(sender, in)
	case core.TypeEndCall:
		return r.handleEndCall(sender, in)
	case core.TypeChat:
		return r.handleChat(sender, in)
	case core.TypeBusy:
		return metrics.OutcomeForwarded, r.forward(in.RecipientID, core.SignalMessage{Type: core.TypeBusy, SenderID: sender.ID})
	default:
		return "", domain.UnknownType(string(in.Type))
	}
}

func (r *Router) handleOffer(sender domain.Identity, in core.Inbound) (string, error) {
	switch r.sessions.CanStart(sender.ID, in.RecipientID) {
	case StartCalleeBusy:
		log.Info().Str("module", "app.router").Str("user", string(sender.ID)).Str("peer", string(in.RecipientID)).Msg("offer rejected: busy")
		return metrics.OutcomeReplied, r.reply(sender.ID, core.SignalMessage{Type: core.TypeBusy, SenderID: in.RecipientID})
	case StartCallerEngaged:
		r.pushStateOf(sender.ID, "")
		return "", domain.InvalidTransition("caller already in a call", domain.PairOf(sender.ID, in.RecipientID))
	}

	conn, ok := r.registry.Lookup(in.RecipientID)
	if !ok {
		return "", domain.RecipientUnreachable(in.RecipientID)
	}
	session, err := r.sessions.Begin(sender.ID, in.RecipientID)
	if err != nil {
		return "", err
	}
	err = r.out.send(in.RecipientID, conn, core.OfferMessage{
		Type:       core.TypeOffer,
		SDP:        in.SDP,
		CallerID:   sender.ID,
		CallerName: sender.DisplayName(),
	})
	if err != nil {
		// The callee never saw the offer; nothing is ringing.
		r.sessions.End(sender.ID, in.RecipientID)
		_ = r.reply(sender.ID, core.CallStateMessage{Type: core.TypeCallState, PeerID: in.RecipientID, State: domain.CallIdle, Reason: ReasonUndelivered})
		return "", err
	}
	r.pushSession(session, "")
	return metrics.OutcomeForwarded, nil
}

func (r *Router) handleAnswer(sender domain.Identity, in core.Inbound) (string, error) {
	session, err := r.sessions.Answer(sender.ID, in.RecipientID)
	if err != nil {
		return "", err
	}
	err = r.forward(in.RecipientID, core.AnswerMessage{Type: core.TypeAnswer, SDP: in.SDP, AnswererID: sender.ID})
	r.pushSession(session, "")
	return metrics.OutcomeForwarded, err
}

func (r *Router) handleCandidate(sender domain.Identity, in core.Inbound) (string, error) {
	// Late candidates after teardown are expected.
	if _, ok := r.sessions.Active(sender.ID, in.RecipientID); !ok {
		return "", domain.InvalidTransition("candidate outside session", domain.PairOf(sender.ID, in.RecipientID))
	}
	return metrics.OutcomeForwarded, r.forward(in.RecipientID, core.CandidateMessage{
		Type:      core.TypeCandidate,
		Candidate: in.Candidate,
		SenderID:  sender.ID,
	})
}

func (r *Router) handleEndCall(sender domain.Identity, in core.Inbound) (string, error) {
	// The session goes away whether or not the peer hears about it.
	ended, hadSession := r.sessions.End(sender.ID, in.RecipientID)
	err := r.forward(in.RecipientID, core.SignalMessage{Type: core.TypeEndCall, SenderID: sender.ID})
	if hadSession {
		r.pushIdle(ended.Pair, ReasonEnded)
	}
	return metrics.OutcomeForwarded, err
}

func (r *Router) handleChat(sender domain.Identity, in core.Inbound) (string, error) {
	s, ok := r.sessions.Active(sender.ID, in.RecipientID)
	if !ok || s.Phase != PhaseOngoing {
		return "", domain.InvalidTransition("chat outside ongoing call", domain.PairOf(sender.ID, in.RecipientID))
	}
	return metrics.OutcomeForwarded, r.forward(in.RecipientID, core.ChatMessage{
		Type:        core.TypeChat,
		Text:        in.Text,
		Timestamp:   in.Timestamp,
		RecipientID: in.RecipientID,
		SenderID:    sender.ID,
		SenderName:  sender.DisplayName(),
	})
}

// Abandon tears down every session of an identity whose transport went away
// (closed or superseded). Peers get end-call as if the identity had hung up.
func (r *Router) Abandon(id domain.UserID) {
	for _, s := range r.sessions.EndAllFor(id) {
		peer := s.Pair.Other(id)
		_ = r.forward(peer, core.SignalMessage{Type: core.TypeEndCall, SenderID: id})
		r.pushIdle(s.Pair, ReasonDisconnected)
		log.Info().Str("module", "app.router").Str("user", string(id)).Str("peer", string(peer)).Msg("session abandoned")
	}
}

// Expire ends ringing sessions past the ring timeout and tells both sides.
func (r *Router) Expire() int {
	expired := r.sessions.ExpireRinging()
	for _, s := range expired {
		_ = r.forward(s.Pair.A, core.SignalMessage{Type: core.TypeEndCall, SenderID: s.Pair.B})
		_ = r.forward(s.Pair.B, core.SignalMessage{Type: core.TypeEndCall, SenderID: s.Pair.A})
		r.pushIdle(s.Pair, ReasonTimeout)
		log.Info().Str("module", "app.router").Str("caller", string(s.InitiatorID)).Msg("ringing session expired")
	}
	return len(expired)
}

func (r *Router) forward(to domain.UserID, v any) error {
	conn, ok := r.registry.Lookup(to)
	if !ok {
		return domain.RecipientUnreachable(to)
	}
	return r.out.send(to, conn, v)
}

func (r *Router) reply(to domain.UserID, v any) error {
	conn, ok := r.registry.Lookup(to)
	if !ok {
		return nil
	}
	return r.out.send(to, conn, v)
}

func (r *Router) pushSession(s CallSession, reason string) {
	for _, id := range []domain.UserID{s.Pair.A, s.Pair.B} {
		_ = r.reply(id, core.CallStateMessage{Type: core.TypeCallState, PeerID: s.Pair.Other(id), State: s.StateFor(id), Reason: reason})
	}
}

func (r *Router) pushIdle(pair domain.Pair, reason string) {
	for _, id := range []domain.UserID{pair.A, pair.B} {
		_ = r.reply(id, core.CallStateMessage{Type: core.TypeCallState, PeerID: pair.Other(id), State: domain.CallIdle, Reason: reason})
	}
}

func (r *Router) pushStateOf(id domain.UserID, reason string) {
	msg := core.CallStateMessage{Type: core.TypeCallState, State: domain.CallIdle, Reason: reason}
	if s, ok := r.sessions.Of(id); ok {
		msg.PeerID = s.Pair.Other(id)
		msg.State = s.StateFor(id)
	}
	_ = r.reply(id, msg)
}
