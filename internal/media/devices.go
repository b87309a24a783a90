package media

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera driver
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// Acquirer opens local media sources.
type Acquirer interface {
	Acquire(ctx context.Context, constraints Constraints) (*Handle, error)
}

// DeviceManager acquires camera and microphone tracks through the registered
// capture drivers, encoding with VP8 and Opus.
type DeviceManager struct {
	log      logging.LeveledLogger
	selector *mediadevices.CodecSelector
}

func NewDeviceManager(log logging.LeveledLogger) (*DeviceManager, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = 500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)
	return &DeviceManager{log: log, selector: selector}, nil
}

// RegisterCodecs makes the selector's codecs available to a peer
// connection's media engine. Must run before the peer connection is built.
func (m *DeviceManager) RegisterCodecs(engine *webrtc.MediaEngine) {
	m.selector.Populate(engine)
}

// Acquire claims the requested devices. The context bounds how long device
// startup may take; the claim is released if the caller gave up in the
// meantime.
func (m *DeviceManager) Acquire(ctx context.Context, constraints Constraints) (*Handle, error) {
	constraints = constraints.withDefaults()
	if !constraints.Audio && !constraints.Video {
		return nil, fmt.Errorf("%w: no sources requested", ErrDeviceUnavailable)
	}

	msc := mediadevices.MediaStreamConstraints{Codec: m.selector}
	if constraints.Video {
		msc.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(constraints.Width)
			c.Height = prop.Int(constraints.Height)
			c.FrameRate = prop.Float(constraints.FrameRate)
		}
	}
	if constraints.Audio {
		msc.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(constraints.SampleRate)
			c.ChannelCount = prop.Int(constraints.ChannelCount)
		}
	}

	type result struct {
		stream mediadevices.MediaStream
		err    error
	}
	resultCh := make(chan result, 1)
	go func() {
		stream, err := mediadevices.GetUserMedia(msc)
		resultCh <- result{stream, err}
	}()

	select {
	case <-ctx.Done():
		// Device startup outlived the caller; free the claim when it lands.
		go func() {
			if r := <-resultCh; r.err == nil {
				for _, track := range r.stream.GetTracks() {
					track.Close()
				}
			}
		}()
		return nil, ctx.Err()
	case r := <-resultCh:
		if r.err != nil {
			return nil, classifyAcquireError(r.err)
		}
		return m.wrap(r.stream), nil
	}
}

func (m *DeviceManager) wrap(stream mediadevices.MediaStream) *Handle {
	deviceTracks := stream.GetTracks()
	tracks := make([]webrtc.TrackLocal, 0, len(deviceTracks))
	closers := make([]func() error, 0, len(deviceTracks))
	for _, track := range deviceTracks {
		track.OnEnded(func(err error) {
			if err != nil {
				m.log.Warnf("media track ended: %v", err)
			}
		})
		tracks = append(tracks, track)
		closers = append(closers, track.Close)
	}
	return NewHandle(tracks, closers, m.log)
}

func classifyAcquireError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	case strings.Contains(msg, "failed to find") || strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	default:
		return fmt.Errorf("acquire media: %w", err)
	}
}
