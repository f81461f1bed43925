package peer

import (
	"errors"
	"sync"

	"github.com/mossy-p/video-relay/internal/speaker"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// MediaSource is the local capture shared by every link. The same track
// objects are bound to every peer connection, so muting here is observed by
// all of them.
type MediaSource struct {
	mu      sync.RWMutex
	tracks  []*webrtc.TrackLocalStaticSample
	enabled map[webrtc.RTPCodecType]bool
	meter   *speaker.Meter

	listeners    map[int]func(webrtc.TrackLocal)
	nextListener int
}

func NewMediaSource() *MediaSource {
	return &MediaSource{
		enabled: map[webrtc.RTPCodecType]bool{
			webrtc.RTPCodecTypeAudio: true,
			webrtc.RTPCodecTypeVideo: true,
		},
		meter:     speaker.NewMeter(),
		listeners: make(map[int]func(webrtc.TrackLocal)),
	}
}

// AddTrack registers a captured track. New links carry it from the start;
// existing links are told through the subscribed managers.
func (s *MediaSource) AddTrack(track *webrtc.TrackLocalStaticSample) {
	s.mu.Lock()
	s.tracks = append(s.tracks, track)
	listeners := make([]func(webrtc.TrackLocal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(track)
	}
}

// subscribe registers fn for tracks added later. The returned func removes it.
func (s *MediaSource) subscribe(fn func(webrtc.TrackLocal)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Tracks returns the current local track set.
func (s *MediaSource) Tracks() []webrtc.TrackLocal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]webrtc.TrackLocal, len(s.tracks))
	for i, t := range s.tracks {
		out[i] = t
	}
	return out
}

// HasKind reports whether a local track of kind exists.
func (s *MediaSource) HasKind(kind webrtc.RTPCodecType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tracks {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// SetEnabled mutes or unmutes every local track of kind.
func (s *MediaSource) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	s.mu.Lock()
	s.enabled[kind] = enabled
	s.mu.Unlock()
}

func (s *MediaSource) Enabled(kind webrtc.RTPCodecType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled[kind]
}

// WriteSample delivers a captured sample to every local track of kind.
// Samples for a disabled kind are dropped.
func (s *MediaSource) WriteSample(kind webrtc.RTPCodecType, sample media.Sample) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.enabled[kind] {
		return nil
	}
	var errs []error
	for _, t := range s.tracks {
		if t.Kind() != kind {
			continue
		}
		if err := t.WriteSample(sample); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReportLevel feeds the local audio energy, in [0, 1], to speaker
// detection. Reports while audio is muted count as silence.
func (s *MediaSource) ReportLevel(energy float64) {
	if !s.Enabled(webrtc.RTPCodecTypeAudio) {
		energy = 0
	}
	s.meter.Observe(energy)
}

// Meter is the local participant's speaker meter.
func (s *MediaSource) Meter() *speaker.Meter {
	return s.meter
}

// RemoteStream is the media received from one remote participant. The
// session manager reads every track and hands packets to the subscriber
// installed with OnPacket.
type RemoteStream struct {
	PeerID string

	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
	sink   func(track *webrtc.TrackRemote, pkt *rtp.Packet)
	closed bool
}

func newRemoteStream(peerID string) *RemoteStream {
	return &RemoteStream{PeerID: peerID}
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*webrtc.TrackRemote(nil), s.tracks...)
}

// OnPacket installs the consumer of received RTP packets.
func (s *RemoteStream) OnPacket(fn func(track *webrtc.TrackRemote, pkt *rtp.Packet)) {
	s.mu.Lock()
	s.sink = fn
	s.mu.Unlock()
}

// addTrack reports whether this was the stream's first track.
func (s *RemoteStream) addTrack(t *webrtc.TrackRemote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
	return len(s.tracks) == 1
}

func (s *RemoteStream) deliver(t *webrtc.TrackRemote, pkt *rtp.Packet) {
	s.mu.Lock()
	sink, closed := s.sink, s.closed
	s.mu.Unlock()
	if sink != nil && !closed {
		sink(t, pkt)
	}
}

func (s *RemoteStream) close() {
	s.mu.Lock()
	s.closed = true
	s.sink = nil
	s.mu.Unlock()
}

// audioEnergy converts an RFC 6464 level (0 loudest, 127 silent, in -dBov)
// to an energy in [0, 1].
func audioEnergy(ext []byte) (float64, bool) {
	var lvl rtp.AudioLevelExtension
	if err := lvl.Unmarshal(ext); err != nil {
		return 0, false
	}
	return float64(127-lvl.Level) / 127, true
}
