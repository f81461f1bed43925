// Package peer drives the participant side of a call: one negotiation state
// machine per remote participant, fed by signaling messages from the relay.
//
// Every link processes its events on its own goroutine in arrival order.
// Handling an inbound message only enqueues work, so a slow negotiation on
// one link never delays another.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/video-relay/internal/models"
	"github.com/mossy-p/video-relay/internal/speaker"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// LocalID identifies the local participant in active speaker events.
const LocalID = "local"

var (
	ErrAlreadyJoined = errors.New("session already joined a room")
	ErrNotJoined     = errors.New("session has not joined a room")
	ErrClosed        = errors.New("session closed")
)

// LinkState is the negotiation state of one PeerLink.
type LinkState int

const (
	StateIdle LinkState = iota
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Signaler delivers messages to the relay. Send must not block.
type Signaler interface {
	Send(msg models.SignalMessage) error
}

// Config holds transport settings for new links.
type Config struct {
	ICEServers []webrtc.ICEServer
	// SpeakerInterval is the active speaker sampling period.
	SpeakerInterval time.Duration
	// LogLevel applies to pion's internal loggers.
	LogLevel logging.LogLevel
	// IncludeLoopback gathers 127.0.0.1 candidates, for same-host calls.
	IncludeLoopback bool
}

// DefaultConfig uses Google's public STUN server, like most browser demos.
func DefaultConfig() Config {
	return Config{
		ICEServers:      []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		SpeakerInterval: 50 * time.Millisecond,
		LogLevel:        logging.LogLevelWarn,
	}
}

// Hooks are the callbacks into the surrounding UI. All are optional and may
// be invoked from any goroutine.
type Hooks struct {
	OnStream        func(peerID string, stream *RemoteStream)
	OnStreamRemoved func(peerID string)
	OnLinkState     func(peerID string, state LinkState)
	OnChat          func(senderID, text string)
	OnActiveSpeaker func(peerID string)
	// OnRoomError receives join refusals from the relay.
	OnRoomError func(reason string)
}

type Option func(*Manager)

// WithPeerConnectionFactory replaces the pion-backed transport factory.
func WithPeerConnectionFactory(f PeerConnectionFactory) Option {
	return func(m *Manager) { m.newPC = f }
}

func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// WithMediaSource shares an existing local capture with the manager.
func WithMediaSource(src *MediaSource) Option {
	return func(m *Manager) { m.media = src }
}

// Manager owns every PeerLink of one local participant.
type Manager struct {
	cfg      Config
	sig      Signaler
	newPC    PeerConnectionFactory
	hooks    Hooks
	media    *MediaSource
	detector *speaker.Detector

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu     sync.Mutex
	links  map[string]*Link
	roomID string
	closed bool
}

func New(cfg Config, sig Signaler, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:   cfg,
		sig:   sig,
		links: make(map[string]*Link),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.media == nil {
		m.media = NewMediaSource()
	}
	if m.newPC == nil {
		f, err := NewAPIFactory(cfg)
		if err != nil {
			return nil, err
		}
		m.newPC = f
	}

	m.detector = speaker.NewDetector(cfg.SpeakerInterval, func(id string) {
		if m.hooks.OnActiveSpeaker != nil {
			m.hooks.OnActiveSpeaker(id)
		}
	})
	m.detector.Add(LocalID, m.media.Meter())
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.unsubscribe = m.media.subscribe(m.onLocalTrack)
	return m, nil
}

// onLocalTrack binds a newly captured track to every existing link. Links
// created from now on pick it up in setup.
func (m *Manager) onLocalTrack(track webrtc.TrackLocal) {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()

	for _, l := range links {
		l := l
		l.enqueue(func() { l.addLocalTrack(track) })
	}
}

// Media returns the local capture shared by all links.
func (m *Manager) Media() *MediaSource {
	return m.media
}

// Join asks the relay to add this participant to roomID. Existing members
// will offer to us; we offer to members who join later.
func (m *Manager) Join(roomID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.roomID != "" {
		m.mu.Unlock()
		return ErrAlreadyJoined
	}
	m.roomID = roomID
	m.mu.Unlock()

	if err := m.sig.Send(models.SignalMessage{Type: models.SignalTypeJoinRoom, RoomID: roomID}); err != nil {
		m.mu.Lock()
		m.roomID = ""
		m.mu.Unlock()
		return err
	}

	go m.detector.Run(m.ctx)
	log.Printf("Joining room %s", roomID)
	return nil
}

// SendChat broadcasts text to the other members of the room.
func (m *Manager) SendChat(text string) error {
	m.mu.Lock()
	joined, closed := m.roomID != "", m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !joined {
		return ErrNotJoined
	}
	return m.sig.Send(models.SignalMessage{Type: models.SignalTypeChat, Text: text})
}

// HandleMessage processes one message from the relay. It never blocks on
// negotiation.
func (m *Manager) HandleMessage(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeUserJoined:
		m.handleUserJoined(msg.PeerID)
	case models.SignalTypeOffer:
		m.handleOffer(msg.From, msg.Offer)
	case models.SignalTypeAnswer:
		m.handleAnswer(msg.From, msg.Answer)
	case models.SignalTypeCandidate:
		m.handleCandidate(msg.From, msg.Candidate)
	case models.SignalTypeUserLeft:
		m.CloseLink(msg.PeerID)
	case models.SignalTypeChat:
		if m.hooks.OnChat != nil {
			m.hooks.OnChat(msg.SenderID, msg.Text)
		}
	case models.SignalTypeError:
		log.Printf("Relay refused request: %s", msg.Error)
		if m.hooks.OnRoomError != nil {
			m.hooks.OnRoomError(msg.Error)
		}
	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

func (m *Manager) handleUserJoined(peerID string) {
	if peerID == "" {
		return
	}
	l, created := m.linkFor(peerID, StateOffering)
	if !created {
		// Already linked; a repeated notification changes nothing.
		return
	}
	l.enqueue(l.startOffer)
}

func (m *Manager) handleOffer(from string, raw json.RawMessage) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		log.Printf("Dropping malformed offer from %s: %v", from, err)
		return
	}
	l, _ := m.linkFor(from, StateAnswering)
	if l == nil {
		return
	}
	l.enqueue(func() { l.acceptOffer(desc) })
}

func (m *Manager) handleAnswer(from string, raw json.RawMessage) {
	l := m.link(from)
	if l == nil {
		log.Printf("Dropping answer from unknown peer %s", from)
		return
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		log.Printf("Dropping malformed answer from %s: %v", from, err)
		return
	}
	l.enqueue(func() { l.acceptAnswer(desc) })
}

func (m *Manager) handleCandidate(from string, raw json.RawMessage) {
	l := m.link(from)
	if l == nil {
		log.Printf("Dropping candidate from unknown peer %s", from)
		return
	}
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		log.Printf("Dropping malformed candidate from %s: %v", from, err)
		return
	}
	l.enqueue(func() { l.addRemoteCandidate(cand) })
}

// linkFor returns the link for peerID, creating it in state when absent.
// It returns nil once the manager is closed.
func (m *Manager) linkFor(peerID string, state LinkState) (*Link, bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}
	if l, ok := m.links[peerID]; ok {
		m.mu.Unlock()
		return l, false
	}
	l := newLink(m, peerID, state)
	m.links[peerID] = l
	m.detector.Add(peerID, l.meter)
	m.mu.Unlock()

	m.notifyState(peerID, state)
	return l, true
}

func (m *Manager) link(peerID string) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[peerID]
}

// CloseLink tears down the link to peerID in whatever state it is in.
func (m *Manager) CloseLink(peerID string) {
	m.mu.Lock()
	l, ok := m.links[peerID]
	if ok {
		delete(m.links, peerID)
	}
	m.mu.Unlock()

	if ok {
		m.teardown(l)
	}
}

// removeLink tears l down unless it has already been replaced or removed.
func (m *Manager) removeLink(l *Link, reason string) {
	m.mu.Lock()
	cur, ok := m.links[l.peerID]
	if ok && cur == l {
		delete(m.links, l.peerID)
	}
	m.mu.Unlock()

	if ok && cur == l {
		log.Printf("Closing link to %s: %s", l.peerID, reason)
		m.teardown(l)
	}
}

func (m *Manager) teardown(l *Link) {
	if !l.close() {
		return
	}
	m.detector.Remove(l.peerID, l.meter)
	if l.streamAnnounced() && m.hooks.OnStreamRemoved != nil {
		m.hooks.OnStreamRemoved(l.peerID)
	}
	m.notifyState(l.peerID, StateClosed)
}

// Leave tears down every link and stops speaker detection. The caller
// closes the signaling channel, which the relay reports to the room.
func (m *Manager) Leave() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[string]*Link)
	m.mu.Unlock()

	m.cancel()
	m.unsubscribe()
	for _, l := range links {
		m.teardown(l)
	}
}

// Peers returns the remote ids that currently have a link.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// LinkState reports the state of the link to peerID.
func (m *Manager) LinkState(peerID string) (LinkState, bool) {
	l := m.link(peerID)
	if l == nil {
		return StateClosed, false
	}
	return l.State(), true
}

func (m *Manager) notifyState(peerID string, state LinkState) {
	if m.hooks.OnLinkState != nil {
		m.hooks.OnLinkState(peerID, state)
	}
}
