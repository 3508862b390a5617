// Package warp simulates a small camera translation along the optical axis of
// a lat-long environment map. Occlusions are not modelled: the scene is
// treated as a unit sphere around the original camera.
//
// The closed form follows Gardner et al., "Learning to Predict Indoor
// Illumination from a Single Image" (SIGGRAPH Asia 2017), eq. 3.
package warp

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/golang/geo/r3"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/envmap"
)

var (
	// ErrUnsupportedLayout is returned for maps that are not latlong.
	ErrUnsupportedLayout = errors.New("unsupported environment map layout")
	// ErrInvalidParameter is returned for an interpolation order outside [0, 5].
	ErrInvalidParameter = errors.New("invalid warp parameter")
	// ErrNonFinite is returned when Options.RejectNonFinite is set and the
	// transform produces NaN or Inf.
	ErrNonFinite = errors.New("non-finite warp result")
)

// Image is what the engine needs from an environment map.
type Image interface {
	Format() envmap.Layout
	Resolution() envmap.Resolution
	WorldCoordinates() (*envmap.WorldCoords, error)
	World2Image(dirs []r3.Vector) (u, v []float64, err error)
	// Duplicate returns an independent copy to resample; img itself is
	// never written.
	Duplicate() envmap.Resampler
}

// Options configures an Engine.
type Options struct {
	CacheCapacity   int  // resolutions kept; <= 0 means DefaultCacheCapacity
	Workers         int  // parallel rows; <= 0 means GOMAXPROCS
	RejectNonFinite bool // fail with ErrNonFinite instead of emitting NaN pixels
}

// Engine warps environment maps, reusing world coordinates across calls.
// It is safe for concurrent use.
type Engine struct {
	cache           *Cache
	workers         int
	rejectNonFinite bool
}

// NewEngine creates an engine with its own cache.
func NewEngine(opts Options) (*Engine, error) {
	cache, err := NewCache(opts.CacheCapacity)
	if err != nil {
		return nil, err
	}
	return NewEngineWithCache(cache, opts), nil
}

// NewEngineWithCache creates an engine sharing an existing cache.
func NewEngineWithCache(cache *Cache, opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		cache:           cache,
		workers:         workers,
		rejectNonFinite: opts.RejectNonFinite,
	}
}

// Cache returns the engine's world-coordinate cache.
func (e *Engine) Cache() *Cache { return e.cache }

// Warp returns a copy of img as seen from a camera moved by −sin(nadir) along
// z. order selects the interpolation kernel (0 nearest, 1 linear, ... 5).
// img is never modified; the result has the same layout and resolution.
func (e *Engine) Warp(img Image, nadir float64, order int) (*envmap.EnvironmentMap, error) {
	if img.Format() != envmap.LatLong {
		return nil, fmt.Errorf("%w: %q (warp requires %q)", ErrUnsupportedLayout, img.Format(), envmap.LatLong)
	}
	if !envmap.ValidOrder(order) {
		return nil, fmt.Errorf("%w: interpolation order %d not in [0, %d]", ErrInvalidParameter, order, envmap.MaxOrder)
	}
	if e.rejectNonFinite && (math.IsNaN(nadir) || math.IsInf(nadir, 0)) {
		return nil, fmt.Errorf("%w: nadir %v", ErrNonFinite, nadir)
	}

	wc, err := e.cache.Get(img)
	if err != nil {
		return nil, err
	}

	zOffset := ZOffset(nadir)
	debug.Verbose("Warp %s: nadir=%.4f rad, zOffset=%.4f, order=%d", img.Resolution(), nadir, zOffset, order)

	src, err := e.warpRays(wc, zOffset)
	if err != nil {
		return nil, err
	}

	u, v, err := img.World2Image(src)
	if err != nil {
		return nil, err
	}
	return img.Duplicate().Interpolate(u, v, order)
}

// warpRays applies WarpRay to every direction, one row per task.
func (e *Engine) warpRays(wc *envmap.WorldCoords, zOffset float64) ([]r3.Vector, error) {
	res := wc.Resolution
	out := make([]r3.Vector, len(wc.Dirs))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for row := 0; row < res.Height; row++ {
		g.Go(func() error {
			for i := row * res.Width; i < (row+1)*res.Width; i++ {
				w := WarpRay(wc.Dirs[i], zOffset)
				if e.rejectNonFinite && !finite(w) {
					return fmt.Errorf("%w: pixel %d (row %d)", ErrNonFinite, i, row)
				}
				out[i] = w
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func finite(v r3.Vector) bool {
	for _, f := range [3]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

var defaultEngine = sync.OnceValue(func() *Engine {
	cache, _ := NewCache(DefaultCacheCapacity)
	return NewEngineWithCache(cache, Options{})
})

// Default returns the process-wide engine used by Warp.
func Default() *Engine { return defaultEngine() }

// Warp warps img with the process-wide engine.
func Warp(img Image, nadir float64, order int) (*envmap.EnvironmentMap, error) {
	return Default().Warp(img, nadir, order)
}
