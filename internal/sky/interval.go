package sky

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Interval is one day of captures.
type Interval struct {
	Path   string
	Date   time.Time
	Probes []*Probe // sorted by capture time
}

// Name returns the interval's directory name (YYYYMMDD).
func (iv *Interval) Name() string { return filepath.Base(iv.Path) }

// RefTimes returns the capture time of every probe, in probe order.
func (iv *Interval) RefTimes() []time.Time {
	out := make([]time.Time, len(iv.Probes))
	for i, p := range iv.Probes {
		out[i] = p.Time
	}
	return out
}

// ClosestProbe returns the probe whose time of day is nearest to h:m:s. Ties
// go to the earliest probe. Distances do not wrap around midnight.
func (iv *Interval) ClosestProbe(h, m, s int) (*Probe, error) {
	if len(iv.Probes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProbes, iv.Path)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || s < 0 || s > 59 {
		return nil, fmt.Errorf("invalid time of day %02d:%02d:%02d", h, m, s)
	}
	target := h*3600 + m*60 + s

	best, bestDist := 0, -1
	for i, p := range iv.Probes {
		ph, pm, ps := p.Time.Clock()
		d := ph*3600 + pm*60 + ps - target
		if d < 0 {
			d = -d
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = i, d
		}
	}
	return iv.Probes[best], nil
}

// SunVisibility returns the fraction of probes in which the sun is visible,
// loading probes concurrently. An empty interval yields 0.
func (iv *Interval) SunVisibility(ctx context.Context, threshold float64) (float64, error) {
	if len(iv.Probes) == 0 {
		return 0, nil
	}
	var visible atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range iv.Probes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ok, err := p.SunVisible(threshold)
			if err != nil {
				return err
			}
			if ok {
				visible.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return float64(visible.Load()) / float64(len(iv.Probes)), nil
}
