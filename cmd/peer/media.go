package main

import (
	"context"
	"log"
	"time"

	"github.com/mossy-p/video-relay/internal/peer"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	frameDuration = 20 * time.Millisecond
	// syntheticLevel is the energy reported for the synthetic source while
	// unmuted, so the local participant takes part in speaker detection.
	syntheticLevel = 0.2
)

// opusSilence is one Opus frame that decodes to 20ms of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// addSyntheticAudio registers a local audio track on src.
func addSyntheticAudio(src *peer.MediaSource) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "roompeer",
	)
	if err != nil {
		return err
	}
	src.AddTrack(track)
	return nil
}

// pumpSynthetic writes one silent frame per interval until ctx is done.
func pumpSynthetic(ctx context.Context, src *peer.MediaSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := src.WriteSample(webrtc.RTPCodecTypeAudio, media.Sample{Data: opusSilence, Duration: frameDuration}); err != nil {
				log.Printf("Failed to write synthetic audio: %v", err)
			}
			src.ReportLevel(syntheticLevel)
		}
	}
}
