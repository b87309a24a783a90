package media

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

// Handle owns the acquired local tracks. The device is claimed once;
// attaching the handle to additional peer connections reuses the same
// tracks.
type Handle struct {
	log logging.LeveledLogger

	mu           sync.Mutex
	audioTracks  []webrtc.TrackLocal
	videoTracks  []webrtc.TrackLocal
	audioSenders map[*webrtc.RTPSender]webrtc.TrackLocal
	videoSenders map[*webrtc.RTPSender]webrtc.TrackLocal
	audioEnabled bool
	videoEnabled bool
	closers      []func() error
	released     bool
}

// NewHandle wraps already-acquired tracks. closers run once on Release.
func NewHandle(tracks []webrtc.TrackLocal, closers []func() error, log logging.LeveledLogger) *Handle {
	h := &Handle{
		log:          log,
		audioSenders: make(map[*webrtc.RTPSender]webrtc.TrackLocal),
		videoSenders: make(map[*webrtc.RTPSender]webrtc.TrackLocal),
		audioEnabled: true,
		videoEnabled: true,
		closers:      closers,
	}
	for _, track := range tracks {
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			h.audioTracks = append(h.audioTracks, track)
		} else {
			h.videoTracks = append(h.videoTracks, track)
		}
	}
	return h
}

// Attach adds the handle's tracks to a consumer peer connection and records
// the resulting senders so enable toggles reach every consumer.
func (h *Handle) Attach(pc *webrtc.PeerConnection) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return fmt.Errorf("media handle already released")
	}

	for _, track := range h.audioTracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		h.audioSenders[sender] = track
		if !h.audioEnabled {
			sender.ReplaceTrack(nil)
		}
	}
	for _, track := range h.videoTracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		h.videoSenders[sender] = track
		if !h.videoEnabled {
			sender.ReplaceTrack(nil)
		}
	}
	return nil
}

// SetAudioEnabled toggles microphone delivery. Implemented with
// RTPSender.ReplaceTrack, which swaps the payload source in place: the
// transceiver direction never changes, so no offer/answer exchange occurs.
func (h *Handle) SetAudioEnabled(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.audioEnabled == enabled {
		return nil
	}
	h.audioEnabled = enabled
	return h.gate(h.audioSenders, enabled)
}

// SetVideoEnabled toggles camera delivery without renegotiation.
func (h *Handle) SetVideoEnabled(enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.videoEnabled == enabled {
		return nil
	}
	h.videoEnabled = enabled
	return h.gate(h.videoSenders, enabled)
}

func (h *Handle) gate(senders map[*webrtc.RTPSender]webrtc.TrackLocal, enabled bool) error {
	for sender, track := range senders {
		var err error
		if enabled {
			err = sender.ReplaceTrack(track)
		} else {
			err = sender.ReplaceTrack(nil)
		}
		if err != nil {
			return fmt.Errorf("replace track: %w", err)
		}
	}
	return nil
}

func (h *Handle) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioEnabled
}

func (h *Handle) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoEnabled
}

// HasAudio reports whether the handle carries a microphone track.
func (h *Handle) HasAudio() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.audioTracks) > 0
}

// HasVideo reports whether the handle carries a camera track.
func (h *Handle) HasVideo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.videoTracks) > 0
}

// Release stops every track and frees the devices. Idempotent.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return
	}
	h.released = true
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()

	for _, close := range closers {
		if err := close(); err != nil {
			h.log.Warnf("failed to stop media track: %v", err)
		}
	}
}
