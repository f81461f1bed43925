package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/mossy-p/video-relay/internal/models"
	"github.com/mossy-p/video-relay/internal/speaker"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var errLinkClosed = errors.New("link closed")

// Link is the negotiation and media session with one remote participant.
// Fields below the worker comment are only touched from the link's queue.
type Link struct {
	m      *Manager
	peerID string
	queue  *taskQueue
	meter  *speaker.Meter
	stream *RemoteStream
	// offerer marks the side that sent the first offer. When both sides
	// offer at once it keeps its offer and the other side rolls back.
	offerer bool

	mu        sync.Mutex
	state     LinkState
	closed    bool
	announced bool
	pc        PeerConnection

	// worker
	hasRemote     bool
	localSent     bool
	offerPending  bool
	needsOffer    bool
	bound         map[webrtc.TrackLocal]bool
	pendingRemote []webrtc.ICECandidateInit
	pendingLocal  []webrtc.ICECandidateInit
}

func newLink(m *Manager, peerID string, state LinkState) *Link {
	return &Link{
		m:       m,
		peerID:  peerID,
		queue:   newTaskQueue(),
		meter:   speaker.NewMeter(),
		stream:  newRemoteStream(peerID),
		offerer: state == StateOffering,
		state:   state,
		bound:   make(map[webrtc.TrackLocal]bool),
	}
}

func (l *Link) PeerID() string {
	return l.peerID
}

func (l *Link) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Link) streamAnnounced() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.announced
}

// enqueue runs fn on the link's worker unless the link is closed by then.
func (l *Link) enqueue(fn func()) {
	l.queue.push(func() {
		if l.isClosed() {
			return
		}
		fn()
	})
}

// setup creates the transport and binds the current local tracks. The
// offerer also asks for any media kind it does not send itself.
func (l *Link) setup(offerer bool) error {
	pc, err := l.m.newPC()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		pc.Close()
		return errLinkClosed
	}
	l.pc = pc
	l.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		l.enqueue(func() { l.sendLocalCandidate(init) })
	})
	pc.OnConnectionStateChange(l.onConnectionState)
	pc.OnTrack(l.onTrack)

	for _, track := range l.m.media.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			return fmt.Errorf("add track %s: %w", track.ID(), err)
		}
		l.bound[track] = true
	}
	if offerer {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if l.m.media.HasKind(kind) {
				continue
			}
			if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				return fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
	}
	return nil
}

func (l *Link) startOffer() {
	if err := l.setup(true); err != nil {
		l.fail("setup", err)
		return
	}
	l.offer()
}

// offer sends a fresh local offer. It is used for the first negotiation and
// for every renegotiation after local tracks changed.
func (l *Link) offer() {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.fail("create offer", err)
		return
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.fail("set local offer", err)
		return
	}

	raw, err := json.Marshal(offer)
	if err != nil {
		l.fail("encode offer", err)
		return
	}
	if l.isClosed() {
		return
	}
	l.send(models.SignalMessage{Type: models.SignalTypeOffer, To: l.peerID, Offer: raw})
	l.offerPending = true
	l.needsOffer = false
	l.localSent = true
	l.flushLocal()
}

// addLocalTrack binds a track captured after the link was set up and
// renegotiates. Before setup there is nothing to do: setup reads the
// current track set.
func (l *Link) addLocalTrack(track webrtc.TrackLocal) {
	if l.pc == nil || l.bound[track] {
		return
	}
	if _, err := l.pc.AddTrack(track); err != nil {
		l.fail("add late track", err)
		return
	}
	l.bound[track] = true
	l.renegotiate()
}

// renegotiate offers now, or once the outstanding offer has been answered.
func (l *Link) renegotiate() {
	if l.offerPending {
		l.needsOffer = true
		return
	}
	l.offer()
}

func (l *Link) acceptOffer(desc webrtc.SessionDescription) {
	if l.pc == nil {
		if err := l.setup(false); err != nil {
			l.fail("setup", err)
			return
		}
	}

	if l.offerPending {
		// Both sides renegotiated at once.
		if l.offerer {
			log.Printf("Ignoring colliding offer from %s", l.peerID)
			return
		}
		if err := l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			l.fail("rollback local offer", err)
			return
		}
		l.offerPending = false
		l.needsOffer = true
	}

	if err := l.pc.SetRemoteDescription(desc); err != nil {
		l.fail("set remote offer", err)
		return
	}
	l.hasRemote = true
	l.flushRemote()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		l.fail("create answer", err)
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		l.fail("set local answer", err)
		return
	}

	raw, err := json.Marshal(answer)
	if err != nil {
		l.fail("encode answer", err)
		return
	}
	if l.isClosed() {
		return
	}
	l.send(models.SignalMessage{Type: models.SignalTypeAnswer, To: l.peerID, Answer: raw})
	l.localSent = true
	l.flushLocal()

	if l.needsOffer {
		l.offer()
	}
}

// acceptAnswer applies the answer to our outstanding offer, first or
// renegotiated.
func (l *Link) acceptAnswer(desc webrtc.SessionDescription) {
	if !l.offerPending || l.pc == nil {
		log.Printf("Ignoring unexpected answer from %s in state %s", l.peerID, l.State())
		return
	}
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		l.fail("set remote answer", err)
		return
	}
	l.offerPending = false
	l.hasRemote = true
	l.flushRemote()

	if l.needsOffer {
		l.offer()
	}
}

// addRemoteCandidate holds candidates until a remote description exists.
func (l *Link) addRemoteCandidate(c webrtc.ICECandidateInit) {
	if !l.hasRemote {
		l.pendingRemote = append(l.pendingRemote, c)
		return
	}
	l.applyCandidate(c)
}

func (l *Link) flushRemote() {
	pending := l.pendingRemote
	l.pendingRemote = nil
	for _, c := range pending {
		l.applyCandidate(c)
	}
}

func (l *Link) applyCandidate(c webrtc.ICECandidateInit) {
	// Other candidates may still connect, so a bad one only gets logged.
	if err := l.pc.AddICECandidate(c); err != nil {
		log.Printf("Failed to add ICE candidate from %s: %v", l.peerID, err)
	}
}

// sendLocalCandidate holds candidates until our description went out.
func (l *Link) sendLocalCandidate(c webrtc.ICECandidateInit) {
	if !l.localSent {
		l.pendingLocal = append(l.pendingLocal, c)
		return
	}
	raw, err := json.Marshal(c)
	if err != nil {
		log.Printf("Failed to encode ICE candidate: %v", err)
		return
	}
	l.send(models.SignalMessage{Type: models.SignalTypeCandidate, To: l.peerID, Candidate: raw})
}

func (l *Link) flushLocal() {
	pending := l.pendingLocal
	l.pendingLocal = nil
	for _, c := range pending {
		l.sendLocalCandidate(c)
	}
}

func (l *Link) send(msg models.SignalMessage) {
	if err := l.m.sig.Send(msg); err != nil {
		log.Printf("Failed to send %s to %s: %v", msg.Type, l.peerID, err)
	}
}

func (l *Link) fail(stage string, err error) {
	if errors.Is(err, errLinkClosed) {
		return
	}
	log.Printf("Negotiation with %s failed (%s): %v", l.peerID, stage, err)
	l.m.removeLink(l, "negotiation failed")
}

func (l *Link) onConnectionState(s webrtc.PeerConnectionState) {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		l.mu.Lock()
		changed := !l.closed && l.state != StateConnected
		if changed {
			l.state = StateConnected
		}
		l.mu.Unlock()
		if changed {
			log.Printf("Connected to %s", l.peerID)
			l.m.notifyState(l.peerID, StateConnected)
		}
	case webrtc.PeerConnectionStateFailed:
		// Never tear down from inside a pion callback.
		go l.m.removeLink(l, "connection failed")
	}
}

func (l *Link) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	if l.stream.addTrack(track) {
		l.mu.Lock()
		announce := !l.closed
		l.announced = announce
		l.mu.Unlock()
		if announce && l.m.hooks.OnStream != nil {
			l.m.hooks.OnStream(l.peerID, l.stream)
		}
	}

	var levelID uint8
	if track.Kind() == webrtc.RTPCodecTypeAudio && receiver != nil {
		for _, ext := range receiver.GetParameters().HeaderExtensions {
			if ext.URI == sdp.AudioLevelURI {
				levelID = uint8(ext.ID)
			}
		}
	}
	go l.readTrack(track, levelID)
}

// readTrack pumps RTP until the transport closes.
func (l *Link) readTrack(track *webrtc.TrackRemote, levelID uint8) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if levelID != 0 {
			if energy, ok := audioEnergy(pkt.GetExtension(levelID)); ok {
				l.meter.Observe(energy)
			}
		}
		l.stream.deliver(track, pkt)
	}
}

// close reports whether this call performed the teardown.
func (l *Link) close() bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.closed = true
	l.state = StateClosed
	pc := l.pc
	l.mu.Unlock()

	l.queue.stop()
	l.stream.close()
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Printf("Failed to close connection to %s: %v", l.peerID, err)
		}
	}
	return true
}
