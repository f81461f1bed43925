package models

import "encoding/json"

// SignalType represents the type of WebRTC signaling message
type SignalType string

const (
	SignalTypeJoinRoom   SignalType = "join-room"
	SignalTypeUserJoined SignalType = "user-joined"
	SignalTypeUserLeft   SignalType = "user-left"
	SignalTypeOffer      SignalType = "offer"
	SignalTypeAnswer     SignalType = "answer"
	SignalTypeCandidate  SignalType = "candidate"
	SignalTypeChat       SignalType = "chat-message"
	SignalTypeError      SignalType = "error"
)

// ClientSignalTypes are the types a participant may send to the hub.
var ClientSignalTypes = []SignalType{
	SignalTypeJoinRoom,
	SignalTypeOffer,
	SignalTypeAnswer,
	SignalTypeCandidate,
	SignalTypeChat,
}

// Directed reports whether messages of this type are addressed to a single
// participant through the To field.
func (t SignalType) Directed() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate:
		return true
	}
	return false
}

// SignalMessage is the tagged union exchanged between participants and the
// hub. Session descriptions and candidates stay raw so the hub forwards them
// without decoding.
type SignalMessage struct {
	Type      SignalType      `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	PeerID    string          `json:"peerId,omitempty"`
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Text      string          `json:"text,omitempty"`
	SenderID  string          `json:"senderId,omitempty"`
	Error     string          `json:"error,omitempty"`
}
