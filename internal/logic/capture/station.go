package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/hw/camera"
	"github.com/cjeanneret/skydb/internal/sky"
)

// MinInterval is the shortest delay between probes; capture directories
// are named to the second.
const MinInterval = time.Second

// Station is a fixed sky camera taking HDR probes at a regular interval into
// a dataset laid out as root/YYYYMMDD/HHMMSS/.
type Station struct {
	camera camera.Camera
	root   string

	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// Params defines a timelapse run.
type Params struct {
	Interval      time.Duration // delay between the starts of two probes
	Count         int           // probes to take; 0 = until ctx is cancelled
	PostShotDelay time.Duration // settle time after each bracket
	Location      *time.Location // zone of directory names; nil = local time
}

// Shot describes one completed probe.
type Shot struct {
	N   int
	At  time.Time
	Dir string
}

// NewStation returns a station writing under root.
func NewStation(c camera.Camera, root string) *Station {
	return &Station{
		camera: c,
		root:   root,
		now:    time.Now,
		wait:   wait,
	}
}

func wait(ctx context.Context, d time.Duration) error {
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

// Run captures probes until Count is reached or ctx is done. For each probe
// it reserves the capture directory, fires the camera and calls onShot (which
// may be nil). Probe starts are scheduled from the first one so a slow bracket
// does not accumulate drift. It returns the number of probes taken.
func (s *Station) Run(ctx context.Context, p Params, onShot func(Shot)) (int, error) {
	if p.Interval < MinInterval {
		return 0, fmt.Errorf("capture interval %v is below %v", p.Interval, MinInterval)
	}
	if p.Count < 0 {
		return 0, fmt.Errorf("capture count must be >= 0, got %d", p.Count)
	}

	debug.Section("Timelapse")
	debug.Value("Dataset root", s.root)
	debug.Value("Interval", p.Interval)
	debug.Value("Count", p.Count)

	start := s.now()
	taken := 0
	for n := 1; p.Count == 0 || n <= p.Count; n++ {
		if err := ctx.Err(); err != nil {
			return taken, err
		}

		at := s.now()
		if p.Location != nil {
			at = at.In(p.Location)
		}
		dir := sky.ProbeDir(s.root, at)
		if _, err := os.Stat(dir); err == nil {
			return taken, fmt.Errorf("probe %d: %w: %s", n, os.ErrExist, dir)
		} else if !errors.Is(err, os.ErrNotExist) {
			return taken, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return taken, fmt.Errorf("probe %d: %w", n, err)
		}

		if err := s.camera.Capture(ctx); err != nil {
			return taken, fmt.Errorf("probe %d: %w", n, err)
		}
		taken++
		debug.Shot(n, dir)
		if onShot != nil {
			onShot(Shot{N: n, At: at, Dir: dir})
		}

		if err := s.wait(ctx, p.PostShotDelay); err != nil {
			return taken, err
		}
		if p.Count != 0 && n == p.Count {
			break
		}

		next := start.Add(time.Duration(n) * p.Interval)
		debug.Live("Next probe at %s", next.Format(time.TimeOnly))
		if err := s.wait(ctx, next.Sub(s.now())); err != nil {
			return taken, err
		}
	}

	debug.Info("Timelapse complete: %d probes", taken)
	return taken, nil
}
