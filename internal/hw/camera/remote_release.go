package camera

import (
	"context"
	"time"

	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/hw/gpio"
)

// Lines is the part of gpio.Driver a trigger needs.
type Lines interface {
	SetupPin(pin int, mode gpio.PinMode) error
	WritePin(pin int, level gpio.Level) error
}

// RemoteRelease triggers a DSLR through its 3-pin remote connector (Nikon
// MC-DC1 style: GND, FOCUS, SHUTTER; lines are active LOW). With the camera
// in continuous auto-exposure-bracketing mode, holding SHUTTER for Brackets
// times the per-exposure hold fires the whole bracket that becomes one HDR
// probe.
type RemoteRelease struct {
	gpio         Lines
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration
	shutterDelay time.Duration
	brackets     int
}

// NewRemoteRelease configures both lines as outputs, released (HIGH).
func NewRemoteRelease(g Lines, s Settings) *RemoteRelease {
	_ = g.SetupPin(s.FocusPin, gpio.Output)
	_ = g.SetupPin(s.ShutterPin, gpio.Output)
	_ = g.WritePin(s.FocusPin, gpio.High)
	_ = g.WritePin(s.ShutterPin, gpio.High)

	brackets := s.Brackets
	if brackets <= 0 {
		brackets = 1
	}
	return &RemoteRelease{
		gpio:         g,
		focusPin:     s.FocusPin,
		shutterPin:   s.ShutterPin,
		focusDelay:   s.FocusDelay,
		shutterDelay: s.ShutterDelay,
		brackets:     brackets,
	}
}

// HoldTime is how long SHUTTER stays pressed for one probe.
func (r *RemoteRelease) HoldTime() time.Duration {
	return r.shutterDelay * time.Duration(r.brackets)
}

// Capture runs FOCUS -> wait -> SHUTTER -> hold for the bracket -> release.
// Both lines are released even when ctx is cancelled mid-bracket.
func (r *RemoteRelease) Capture(ctx context.Context) (err error) {
	debug.Printf("Camera: capturing %d-exposure bracket (focus=%d, shutter=%d)", r.brackets, r.focusPin, r.shutterPin)

	debug.Verbose("Camera: FOCUS pin %d -> LOW", r.focusPin)
	if err := r.gpio.WritePin(r.focusPin, gpio.Low); err != nil {
		return err
	}
	defer func() {
		debug.Verbose("Camera: FOCUS pin %d -> HIGH", r.focusPin)
		if werr := r.gpio.WritePin(r.focusPin, gpio.High); err == nil {
			err = werr
		}
	}()

	if err := sleep(ctx, r.focusDelay); err != nil {
		return err
	}

	debug.Verbose("Camera: SHUTTER pin %d -> LOW for %v", r.shutterPin, r.HoldTime())
	if err := r.gpio.WritePin(r.shutterPin, gpio.Low); err != nil {
		return err
	}
	holdErr := sleep(ctx, r.HoldTime())

	debug.Verbose("Camera: SHUTTER pin %d -> HIGH", r.shutterPin)
	if err := r.gpio.WritePin(r.shutterPin, gpio.High); err != nil {
		return err
	}
	if holdErr != nil {
		return holdErr
	}

	debug.Print("Camera: bracket captured")
	return nil
}
