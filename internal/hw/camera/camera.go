package camera

import (
	"context"
	"fmt"
	"time"
)

// Camera fires the exposures that make up one sky probe.
type Camera interface {
	// Capture takes one probe (a full exposure bracket) and returns once the
	// camera has been released.
	Capture(ctx context.Context) error
}

// Settings are the trigger parameters shared by camera implementations.
type Settings struct {
	FocusPin     int
	ShutterPin   int
	FocusDelay   time.Duration // time for autofocus / metering
	ShutterDelay time.Duration // shutter hold per exposure
	Brackets     int           // exposures per probe; <= 0 means 1
}

// New selects a camera implementation by config type name.
func New(kind string, d Lines, s Settings) (Camera, error) {
	switch kind {
	case "nikon_d90_gpio", "remote_release_gpio":
		return NewRemoteRelease(d, s), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", kind)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
