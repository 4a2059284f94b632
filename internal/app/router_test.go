package app

import (
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	"github.com/dkeye/Intercom/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var displayNames = map[string]string{"alice": "Alice", "bob": "Bob", "carol": "Carol"}

type routerHarness struct {
	reg      *Registry
	sessions *SessionTracker
	router   *Router
	metrics  *metrics.Metrics
	conns    map[string]*fakeConn
}

func newRouterHarness(t *testing.T, ids ...string) *routerHarness {
	t.Helper()
	h := &routerHarness{
		reg:      NewRegistry(),
		sessions: NewSessionTracker(0),
		metrics:  metrics.New(),
		conns:    map[string]*fakeConn{},
	}
	h.router = NewRouter(h.reg, h.sessions, SimplePolicy{}, h.metrics)
	for _, id := range ids {
		h.connect(id)
	}
	return h
}

func (h *routerHarness) connect(id string) *fakeConn {
	c := &fakeConn{}
	h.conns[id] = c
	h.reg.Register(domain.Identity{ID: domain.UserID(id), Name: displayNames[id]}, c)
	return c
}

func (h *routerHarness) send(t *testing.T, from, frame string) error {
	t.Helper()
	sender, ok := h.reg.Identity(domain.UserID(from))
	require.True(t, ok, "%s not connected", from)
	return h.router.Dispatch(sender, []byte(frame))
}

func (h *routerHarness) frames(typ, outcome, reason string) float64 {
	return testutil.ToFloat64(h.metrics.FramesCounter().WithLabelValues(typ, outcome, reason))
}

func TestRouterOfferAnswerEndScenario(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	alice, bob := h.conns["alice"], h.conns["bob"]

	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	assert.Equal(t, map[string]any{"type": "offer", "sdp": "X", "callerId": "alice", "callerName": "Alice"}, bob.last(t, "offer"))
	assert.Equal(t, domain.CallCalling, h.sessions.StateOf("alice"))
	assert.Equal(t, domain.CallIncoming, h.sessions.StateOf("bob"))
	assert.Equal(t, map[string]any{"type": "call-state", "peerId": "bob", "state": "calling"}, alice.last(t, "call-state"))
	assert.Equal(t, map[string]any{"type": "call-state", "peerId": "alice", "state": "incoming"}, bob.last(t, "call-state"))

	require.NoError(t, h.send(t, "bob", `{"type":"answer","sdp":"Y","recipientId":"alice"}`))
	assert.Equal(t, map[string]any{"type": "answer", "sdp": "Y", "answererId": "bob"}, alice.last(t, "answer"))
	assert.Equal(t, domain.CallOngoing, h.sessions.StateOf("alice"))
	assert.Equal(t, domain.CallOngoing, h.sessions.StateOf("bob"))

	require.NoError(t, h.send(t, "alice", `{"type":"end-call","recipientId":"bob"}`))
	assert.Equal(t, map[string]any{"type": "end-call", "senderId": "alice"}, bob.last(t, "end-call"))
	assert.Equal(t, domain.CallIdle, h.sessions.StateOf("alice"))
	assert.Equal(t, domain.CallIdle, h.sessions.StateOf("bob"))
	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, map[string]any{"type": "call-state", "peerId": "alice", "state": "idle", "reason": "ended"}, bob.last(t, "call-state"))

	assert.Equal(t, 1.0, h.frames("offer", metrics.OutcomeForwarded, ""))
	assert.Equal(t, 1.0, h.frames("answer", metrics.OutcomeForwarded, ""))
}

func TestRouterOfferToBusyCallee(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob", "carol")
	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))

	require.NoError(t, h.send(t, "carol", `{"type":"offer","sdp":"Z","recipientId":"bob"}`))
	assert.Equal(t, map[string]any{"type": "busy", "senderId": "bob"}, h.conns["carol"].last(t, "busy"))
	assert.Len(t, h.conns["bob"].ofType(t, "offer"), 1, "busy callee never sees the second offer")
	assert.Equal(t, domain.CallIdle, h.sessions.StateOf("carol"))

	require.NoError(t, h.send(t, "carol", `{"type":"offer","sdp":"Z","recipientId":"alice"}`))
	assert.Len(t, h.conns["carol"].ofType(t, "busy"), 2)
	assert.Equal(t, 2.0, h.frames("offer", metrics.OutcomeReplied, ""))
}

func TestRouterEngagedCallerIsResynced(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob", "carol")
	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	h.conns["alice"].reset()

	err := h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"carol"}`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeInvalidTransition))
	assert.Empty(t, h.conns["carol"].ofType(t, "offer"))
	assert.Equal(t, map[string]any{"type": "call-state", "peerId": "bob", "state": "calling"}, h.conns["alice"].last(t, "call-state"))
}

func TestRouterOfferToUnreachableCreatesNoSession(t *testing.T) {
	h := newRouterHarness(t, "alice")
	err := h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"ghost"}`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeRecipientUnreachable))
	assert.Equal(t, 0, h.sessions.Len())
	assert.Empty(t, h.conns["alice"].messages(t), "nothing is surfaced to the sender")
}

func TestRouterUndeliveredOfferLeavesNoSession(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob", "carol")
	bob := h.conns["bob"]
	bob.setFull(true)

	err := h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`)
	require.Error(t, err)
	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, map[string]any{"type": "call-state", "peerId": "bob", "state": "idle", "reason": "undelivered"}, h.conns["alice"].last(t, "call-state"))
	assert.Equal(t, 1.0, h.frames("offer", metrics.OutcomeDropped, "undelivered"))

	bob.setFull(false)
	require.NoError(t, h.send(t, "carol", `{"type":"offer","sdp":"Y","recipientId":"bob"}`))
	assert.Equal(t, "carol", bob.last(t, "offer")["callerId"])
	assert.Empty(t, h.conns["carol"].ofType(t, "busy"))
}

func TestRouterRejectsSelfAddressedFrames(t *testing.T) {
	h := newRouterHarness(t, "alice")
	err := h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"alice"}`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeMalformedFrame))
	assert.Equal(t, 0, h.sessions.Len())
}

func TestRouterPingNeverTouchesState(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	h.conns["alice"].reset()
	h.conns["bob"].reset()

	require.NoError(t, h.send(t, "alice", `{"type":"ping"}`))
	assert.Equal(t, []map[string]any{{"type": "pong"}}, h.conns["alice"].messages(t))
	assert.Empty(t, h.conns["bob"].messages(t))
	assert.Equal(t, domain.CallCalling, h.sessions.StateOf("alice"))
	assert.Equal(t, 2, h.reg.Len())
	assert.Equal(t, 1.0, h.frames("ping", metrics.OutcomeReplied, ""))
}

func TestRouterCandidateOnlyWithinSession(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	candidate := `{"type":"candidate","candidate":{"candidate":"c1"},"recipientId":"bob"}`

	err := h.send(t, "alice", candidate)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeInvalidTransition))
	assert.Empty(t, h.conns["bob"].ofType(t, "candidate"))

	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	require.NoError(t, h.send(t, "alice", candidate))
	got := h.conns["bob"].last(t, "candidate")
	assert.Equal(t, "alice", got["senderId"])
	assert.Equal(t, map[string]any{"candidate": "c1"}, got["candidate"])
}

func TestRouterChatOnlyWhileOngoing(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	chat := `{"type":"chat","text":"hi","timestamp":"2024-01-01T10:00:00Z","recipientId":"bob"}`

	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	err := h.send(t, "alice", chat)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeInvalidTransition))
	assert.Empty(t, h.conns["bob"].ofType(t, "chat"))

	require.NoError(t, h.send(t, "bob", `{"type":"answer","sdp":"Y","recipientId":"alice"}`))
	require.NoError(t, h.send(t, "alice", chat))
	assert.Equal(t, map[string]any{
		"type":        "chat",
		"text":        "hi",
		"timestamp":   "2024-01-01T10:00:00Z",
		"recipientId": "bob",
		"senderId":    "alice",
		"senderName":  "Alice",
	}, h.conns["bob"].last(t, "chat"))
}

func TestRouterEndCallIsUnconditional(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	require.NoError(t, h.send(t, "bob", `{"type":"answer","sdp":"Y","recipientId":"alice"}`))

	// bob vanished from the registry without the session being torn down.
	h.reg.Unregister("bob")
	err := h.send(t, "alice", `{"type":"end-call","recipientId":"bob"}`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeRecipientUnreachable))
	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, domain.CallIdle, h.sessions.StateOf("alice"))
}

func TestRouterAnswerWithoutOfferIsDropped(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	err := h.send(t, "bob", `{"type":"answer","sdp":"Y","recipientId":"alice"}`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeInvalidTransition))
	assert.Empty(t, h.conns["alice"].messages(t))
	assert.Equal(t, 0, h.sessions.Len())
}

func TestRouterBusyIsForwardOnly(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	require.NoError(t, h.send(t, "bob", `{"type":"busy","recipientId":"alice"}`))
	assert.Equal(t, map[string]any{"type": "busy", "senderId": "bob"}, h.conns["alice"].last(t, "busy"))
	assert.Equal(t, 0, h.sessions.Len())
}

func TestRouterDropsUnknownAndMalformed(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")

	err := h.send(t, "alice", `{"type":"dance","recipientId":"bob"}`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeUnknownType))

	err = h.send(t, "alice", `{{{`)
	assert.True(t, domain.HasTextCode(err, domain.TextCodeMalformedFrame))

	assert.Empty(t, h.conns["alice"].messages(t))
	assert.Empty(t, h.conns["bob"].messages(t))
	assert.Equal(t, 1.0, h.frames("unknown", metrics.OutcomeDropped, domain.TextCodeUnknownType))
	assert.Equal(t, 1.0, h.frames("invalid", metrics.OutcomeDropped, domain.TextCodeMalformedFrame))
}

func TestRouterUnknownTypesShareOneSeries(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	require.NoError(t, h.send(t, "alice", `{"type":"ping"}`))
	before := testutil.CollectAndCount(h.metrics.FramesCounter())

	for i := 0; i < 100; i++ {
		err := h.send(t, "alice", fmt.Sprintf(`{"type":"junk-%d","recipientId":"bob"}`, i))
		require.Error(t, err)
	}

	assert.Equal(t, before+1, testutil.CollectAndCount(h.metrics.FramesCounter()))
	assert.Equal(t, 100.0, h.frames("unknown", metrics.OutcomeDropped, domain.TextCodeUnknownType))
}

func TestRouterAbandonNotifiesPeer(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))

	h.reg.Unregister("bob")
	h.router.Abandon("bob")

	assert.Equal(t, 0, h.sessions.Len())
	assert.Equal(t, map[string]any{"type": "end-call", "senderId": "bob"}, h.conns["alice"].last(t, "end-call"))
	assert.Equal(t, map[string]any{"type": "call-state", "peerId": "bob", "state": "idle", "reason": "disconnected"}, h.conns["alice"].last(t, "call-state"))
}

func TestRouterExpireNotifiesBothSides(t *testing.T) {
	h := newRouterHarness(t, "alice", "bob")
	h.sessions.ringTimeout = 1
	require.NoError(t, h.send(t, "alice", `{"type":"offer","sdp":"X","recipientId":"bob"}`))
	started, _ := h.sessions.Of("alice")
	h.sessions.now = func() time.Time { return started.StartedAt.Add(time.Second) }

	assert.Equal(t, 1, h.router.Expire())
	assert.Equal(t, map[string]any{"type": "end-call", "senderId": "alice"}, h.conns["bob"].last(t, "end-call"))
	assert.Equal(t, map[string]any{"type": "end-call", "senderId": "bob"}, h.conns["alice"].last(t, "end-call"))
	assert.Equal(t, "timeout", h.conns["alice"].last(t, "call-state")["reason"])
	assert.Equal(t, 0, h.sessions.Len())
}
