package core

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/dkeye/Intercom/internal/domain"
)

type MessageType string

const (
	TypeOffer       MessageType = "offer"
	TypeAnswer      MessageType = "answer"
	TypeCandidate   MessageType = "candidate"
	TypeEndCall     MessageType = "end-call"
	TypeBusy        MessageType = "busy"
	TypeChat        MessageType = "chat"
	TypePing        MessageType = "ping"
	TypePong        MessageType = "pong"
	TypeOnlineUsers MessageType = "online-users"
	TypeCallState   MessageType = "call-state"
)

// Inbound is a decoded client frame. Sender fields are never read from the
// client; the router injects them from the authenticated identity.
type Inbound struct {
	Type        MessageType     `json:"type"`
	RecipientID domain.UserID   `json:"recipientId"`
	SDP         string          `json:"sdp"`
	Candidate   json.RawMessage `json:"candidate"`
	Text        string          `json:"text"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// DecodeInbound parses and validates one frame.
// Unknown types decode successfully; dispatching them is the router's call.
func DecodeInbound(data []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Inbound{}, domain.MalformedFrame("undecodable payload", err)
	}
	in.Type = MessageType(strings.TrimSpace(string(in.Type)))
	if in.Type == "" {
		return Inbound{}, domain.MalformedFrame("missing type", nil)
	}
	if err := in.validate(); err != nil {
		return Inbound{}, err
	}
	return in, nil
}

func (in Inbound) validate() error {
	switch in.Type {
	case TypeOffer, TypeAnswer:
		if in.SDP == "" {
			return domain.MalformedFrame("missing sdp", nil)
		}
	case TypeCandidate:
		if isEmptyJSON(in.Candidate) {
			return domain.MalformedFrame("missing candidate", nil)
		}
	case TypeChat:
		if in.Text == "" {
			return domain.MalformedFrame("missing text", nil)
		}
		if isEmptyJSON(in.Timestamp) {
			return domain.MalformedFrame("missing timestamp", nil)
		}
	case TypePing:
		return nil
	default:
		if !in.Type.Routable() {
			return nil
		}
	}
	if in.RecipientID == "" {
		return domain.MalformedFrame("missing recipientId", nil)
	}
	return nil
}

// PeekType reads only the type field. It returns "" when data is not a JSON object.
func PeekType(data []byte) MessageType {
	var env struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return MessageType(strings.TrimSpace(string(env.Type)))
}

// Routable reports whether frames of this type are addressed to a peer.
func (t MessageType) Routable() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeEndCall, TypeBusy, TypeChat:
		return true
	}
	return false
}

// Label is the metrics label for t. Client-chosen types collapse to "unknown".
func (t MessageType) Label() string {
	switch {
	case t == "":
		return "invalid"
	case t.Routable(), t == TypePing, t == TypePong:
		return string(t)
	}
	return "unknown"
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`))
}

// Outbound frames. Field names are part of the client contract.

type OfferMessage struct {
	Type       MessageType   `json:"type"`
	SDP        string        `json:"sdp"`
	CallerID   domain.UserID `json:"callerId"`
	CallerName string        `json:"callerName"`
}

type AnswerMessage struct {
	Type       MessageType   `json:"type"`
	SDP        string        `json:"sdp"`
	AnswererID domain.UserID `json:"answererId"`
}

type CandidateMessage struct {
	Type      MessageType     `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	SenderID  domain.UserID   `json:"senderId"`
}

// SignalMessage covers end-call and busy, which carry nothing but the sender.
type SignalMessage struct {
	Type     MessageType   `json:"type"`
	SenderID domain.UserID `json:"senderId"`
}

type ChatMessage struct {
	Type        MessageType     `json:"type"`
	Text        string          `json:"text"`
	Timestamp   json.RawMessage `json:"timestamp"`
	RecipientID domain.UserID   `json:"recipientId"`
	SenderID    domain.UserID   `json:"senderId"`
	SenderName  string          `json:"senderName"`
}

type PongMessage struct {
	Type MessageType `json:"type"`
}

type OnlineUsersMessage struct {
	Type  MessageType            `json:"type"`
	Users []domain.PresenceEntry `json:"users"`
}

type CallStateMessage struct {
	Type   MessageType      `json:"type"`
	PeerID domain.UserID    `json:"peerId,omitempty"`
	State  domain.CallState `json:"state"`
	Reason string           `json:"reason,omitempty"`
}
