package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaSourceKindsAndMute(t *testing.T) {
	src := NewMediaSource()
	assert.False(t, src.HasKind(webrtc.RTPCodecTypeAudio))
	assert.Empty(t, src.Tracks())

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	require.NoError(t, err)
	src.AddTrack(audio)

	assert.True(t, src.HasKind(webrtc.RTPCodecTypeAudio))
	assert.False(t, src.HasKind(webrtc.RTPCodecTypeVideo))
	assert.Len(t, src.Tracks(), 1)

	// Unbound tracks accept samples and drop them.
	sample := media.Sample{Data: []byte{0xf8, 0xff, 0xfe}, Duration: 20 * time.Millisecond}
	assert.NoError(t, src.WriteSample(webrtc.RTPCodecTypeAudio, sample))

	src.SetEnabled(webrtc.RTPCodecTypeAudio, false)
	assert.False(t, src.Enabled(webrtc.RTPCodecTypeAudio))
	assert.True(t, src.Enabled(webrtc.RTPCodecTypeVideo))
	assert.NoError(t, src.WriteSample(webrtc.RTPCodecTypeAudio, sample))
}

func TestReportLevelWhileMutedIsSilence(t *testing.T) {
	src := NewMediaSource()
	src.ReportLevel(0.9)
	level, ok := src.Meter().Level()
	require.True(t, ok)
	assert.InDelta(t, 0.9, level, 1e-9)

	src.SetEnabled(webrtc.RTPCodecTypeAudio, false)
	src.ReportLevel(0.9)
	level, _ = src.Meter().Level()
	assert.InDelta(t, 0.63, level, 1e-9)
}

func TestAudioEnergy(t *testing.T) {
	for _, tc := range []struct {
		name  string
		level uint8
		want  float64
	}{
		{"loudest", 0, 1},
		{"silent", 127, 0},
		{"middle", 127 - 127/2, float64(127/2) / 127},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := rtp.AudioLevelExtension{Level: tc.level}.Marshal()
			require.NoError(t, err)
			got, ok := audioEnergy(raw)
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}

	_, ok := audioEnergy(nil)
	assert.False(t, ok)
}

func TestRemoteStreamDelivery(t *testing.T) {
	s := newRemoteStream("B")
	var got []*rtp.Packet
	s.OnPacket(func(_ *webrtc.TrackRemote, pkt *rtp.Packet) { got = append(got, pkt) })

	assert.True(t, s.addTrack(nil))
	assert.False(t, s.addTrack(nil))
	assert.Len(t, s.Tracks(), 2)

	s.deliver(nil, &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}})
	s.close()
	s.deliver(nil, &rtp.Packet{Header: rtp.Header{SequenceNumber: 2}})

	require.Len(t, got, 1)
	assert.Equal(t, uint16(1), got[0].SequenceNumber)
}

func TestTaskQueueRunsInOrder(t *testing.T) {
	q := newTaskQueue()
	defer q.stop()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.push(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 100
	}, time.Second, 5*time.Millisecond)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestTaskQueueStopDiscardsPending(t *testing.T) {
	q := newTaskQueue()
	release, started := make(chan struct{}), make(chan struct{})
	q.push(func() {
		close(started)
		<-release
	})
	ran := make(chan struct{}, 1)
	q.push(func() { ran <- struct{}{} })

	<-started
	q.stop()
	close(release)

	assert.False(t, q.push(func() {}))
	select {
	case <-ran:
		t.Fatal("queued task ran after stop")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMediaSourceNotifiesSubscribers(t *testing.T) {
	src := NewMediaSource()
	var got []webrtc.TrackLocal
	unsubscribe := src.subscribe(func(track webrtc.TrackLocal) {
		got = append(got, track)
	})

	first := opusTrack(t)
	src.AddTrack(first)
	require.Len(t, got, 1)
	assert.Same(t, first, got[0])

	unsubscribe()
	src.AddTrack(opusTrack(t))
	assert.Len(t, got, 1)
	assert.Len(t, src.Tracks(), 2)
}
