// Package media acquires and manages the local audio and video sources for a
// consultation. A Handle can feed any number of consumers (local preview,
// the outgoing session) from a single device claim, and muting gates track
// delivery at the RTP sender so the session is never renegotiated.
package media

import "errors"

var (
	// ErrMediaAccessDenied is returned when the user declines device
	// permission.
	ErrMediaAccessDenied = errors.New("media access denied")

	// ErrDeviceUnavailable is returned when no capture device satisfies the
	// requested constraints.
	ErrDeviceUnavailable = errors.New("no media device matches the requested constraints")
)

// Constraints selects which sources to open and their capture parameters.
// Zero values fall back to the package defaults.
type Constraints struct {
	Audio bool
	Video bool

	Width     int
	Height    int
	FrameRate float32

	SampleRate   int
	ChannelCount int
}

func (c Constraints) withDefaults() Constraints {
	if c.Width == 0 {
		c.Width = 640
	}
	if c.Height == 0 {
		c.Height = 480
	}
	if c.FrameRate == 0 {
		c.FrameRate = 30
	}
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.ChannelCount == 0 {
		c.ChannelCount = 1
	}
	return c
}
