package sky

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"gonum.org/v1/gonum/floats"

	"github.com/cjeanneret/skydb/internal/envmap"
	"github.com/cjeanneret/skydb/internal/imageio"
)

// ErrNoLight is returned when a probe has no positive finite radiance.
var ErrNoLight = errors.New("probe has no light")

// Probe is a single environment map capture.
type Probe struct {
	Path   string
	Layout envmap.Layout
	Time   time.Time
}

// Direction is a direction in the camera frame: elevation above the
// horizon (y up) and azimuth from the forward axis (-z) towards +x.
type Direction struct {
	Elevation s1.Angle
	Azimuth   s1.Angle
}

// DirectionOf converts a vector to elevation and azimuth.
func DirectionOf(v r3.Vector) Direction {
	n := v.Normalize()
	return Direction{
		Elevation: s1.Angle(math.Asin(math.Max(-1, math.Min(1, n.Y)))),
		Azimuth:   s1.Angle(math.Atan2(n.X, -n.Z)),
	}
}

// Vector returns the unit vector pointing in d.
func (d Direction) Vector() r3.Vector {
	el, az := d.Elevation.Radians(), d.Azimuth.Radians()
	return r3.Vector{
		X: math.Cos(el) * math.Sin(az),
		Y: math.Sin(el),
		Z: -math.Cos(el) * math.Cos(az),
	}
}

func (d Direction) String() string {
	return fmt.Sprintf("elevation %.2f°, azimuth %.2f°", d.Elevation.Degrees(), d.Azimuth.Degrees())
}

// DateTime parses the capture time from the probe's path.
func (p *Probe) DateTime() (time.Time, error) {
	return ParseProbeTime(p.Path, p.Time.Location())
}

// EnvironmentMap loads the probe from disk.
func (p *Probe) EnvironmentMap() (*envmap.EnvironmentMap, error) {
	return imageio.Load(p.Path, p.Layout)
}

// SunVisible reports whether any sample exceeds threshold
// (DefaultSunThreshold when threshold <= 0).
func (p *Probe) SunVisible(threshold float64) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultSunThreshold
	}
	m, err := p.EnvironmentMap()
	if err != nil {
		return false, err
	}
	return maxFinite(m.Data) > threshold, nil
}

func maxFinite(data []float64) float64 {
	if !floats.HasNaN(data) {
		return floats.Max(data)
	}
	best := math.Inf(-1)
	for _, x := range data {
		if x > best {
			best = x
		}
	}
	return best
}

// SunPosition returns the direction of the brightest pixel.
func (p *Probe) SunPosition() (Direction, error) {
	m, err := p.EnvironmentMap()
	if err != nil {
		return Direction{}, err
	}
	return SunPosition(m)
}

// SunPosition returns the direction of the brightest valid pixel of m.
func SunPosition(m *envmap.EnvironmentMap) (Direction, error) {
	wc, err := m.WorldCoordinates()
	if err != nil {
		return Direction{}, err
	}
	lum := make([]float64, len(wc.Dirs))
	for i := range lum {
		l := m.Luminance(i/m.Width, i%m.Width)
		if !wc.Valid[i] || math.IsNaN(l) {
			l = math.Inf(-1)
		}
		lum[i] = l
	}
	i := floats.MaxIdx(lum)
	if math.IsInf(lum[i], -1) || lum[i] <= 0 {
		return Direction{}, ErrNoLight
	}
	return DirectionOf(wc.Dirs[i]), nil
}

// MeanLightVector returns the luminance- and solid-angle-weighted mean
// direction of the probe.
func (p *Probe) MeanLightVector() (Direction, error) {
	m, err := p.EnvironmentMap()
	if err != nil {
		return Direction{}, err
	}
	return MeanLightVector(m)
}

// MeanLightVector returns the luminance- and solid-angle-weighted mean
// direction of m.
func MeanLightVector(m *envmap.EnvironmentMap) (Direction, error) {
	wc, err := m.WorldCoordinates()
	if err != nil {
		return Direction{}, err
	}
	sa, err := m.SolidAngles()
	if err != nil {
		return Direction{}, err
	}
	var sum r3.Vector
	for i, d := range wc.Dirs {
		l := m.Luminance(i/m.Width, i%m.Width)
		if !wc.Valid[i] || math.IsNaN(l) || math.IsInf(l, 0) || l <= 0 {
			continue
		}
		sum = sum.Add(d.Mul(l * sa[i]))
	}
	if sum.Norm() == 0 {
		return Direction{}, ErrNoLight
	}
	return DirectionOf(sum), nil
}
