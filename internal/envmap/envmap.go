// Package envmap holds floating-point environment maps and the projections
// between image space and unit-sphere directions.
package envmap

import (
	"errors"
	"fmt"
	"math"
)

// Layout names the projection an environment map is stored in.
type Layout string

const (
	// LatLong is the equirectangular layout: u spans longitude, v spans latitude.
	LatLong Layout = "latlong"
	// Angular is the light-probe layout: a disc where radius is proportional to
	// the angle from the forward (-z) axis.
	Angular Layout = "angular"
)

// ErrUnknownLayout is returned for layout tags this package cannot project.
var ErrUnknownLayout = errors.New("unknown environment map layout")

// ParseLayout converts a layout tag ("latlong", "angular") to a Layout.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LatLong, Angular:
		return Layout(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownLayout, s)
	}
}

// Resolution is an image size in pixels.
type Resolution struct {
	Height int
	Width  int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Height, r.Width)
}

// Pixels returns Height*Width.
func (r Resolution) Pixels() int {
	return r.Height * r.Width
}

// EnvironmentMap is a Height x Width x Channels grid of linear radiance values,
// stored row-major with interleaved channels.
type EnvironmentMap struct {
	Layout   Layout
	Height   int
	Width    int
	Channels int
	Data     []float64
}

// New allocates a zeroed environment map.
func New(layout Layout, height, width, channels int) (*EnvironmentMap, error) {
	if _, err := ParseLayout(string(layout)); err != nil {
		return nil, err
	}
	if height <= 0 || width <= 0 || channels <= 0 {
		return nil, fmt.Errorf("environment map dimensions must be positive, got %dx%dx%d", height, width, channels)
	}
	if width > math.MaxInt/height/channels {
		return nil, fmt.Errorf("environment map %dx%dx%d overflows int", height, width, channels)
	}
	return &EnvironmentMap{
		Layout:   layout,
		Height:   height,
		Width:    width,
		Channels: channels,
		Data:     make([]float64, height*width*channels),
	}, nil
}

// Format returns the layout tag.
func (e *EnvironmentMap) Format() Layout { return e.Layout }

// Resolution returns the map's size.
func (e *EnvironmentMap) Resolution() Resolution {
	return Resolution{Height: e.Height, Width: e.Width}
}

// Index returns the offset of channel c of pixel (row, col) in Data.
func (e *EnvironmentMap) Index(row, col, c int) int {
	return (row*e.Width+col)*e.Channels + c
}

// At returns channel c of pixel (row, col).
func (e *EnvironmentMap) At(row, col, c int) float64 {
	return e.Data[e.Index(row, col, c)]
}

// Set writes channel c of pixel (row, col).
func (e *EnvironmentMap) Set(row, col, c int, v float64) {
	e.Data[e.Index(row, col, c)] = v
}

// Pixel returns the channels of pixel (row, col). The slice aliases Data.
func (e *EnvironmentMap) Pixel(row, col int) []float64 {
	i := e.Index(row, col, 0)
	return e.Data[i : i+e.Channels]
}

// Luminance returns the Rec. 709 luminance of pixel (row, col); single-channel
// maps return the channel itself.
func (e *EnvironmentMap) Luminance(row, col int) float64 {
	p := e.Pixel(row, col)
	if e.Channels < 3 {
		return p[0]
	}
	return 0.2126*p[0] + 0.7152*p[1] + 0.0722*p[2]
}

// Copy returns an independent duplicate.
func (e *EnvironmentMap) Copy() *EnvironmentMap {
	out := *e
	out.Data = make([]float64, len(e.Data))
	copy(out.Data, e.Data)
	return &out
}

// Resampler is an image that can be resampled in place, as Interpolate does.
type Resampler interface {
	Interpolate(u, v []float64, order int) (*EnvironmentMap, error)
}

// Duplicate is Copy behind the Resampler interface.
func (e *EnvironmentMap) Duplicate() Resampler { return e.Copy() }
