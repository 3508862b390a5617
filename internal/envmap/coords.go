package envmap

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// WorldCoords holds the unit-sphere direction of every pixel of a given
// resolution, row-major. Pixels outside the projection's domain are marked
// invalid (their direction is the zero vector).
type WorldCoords struct {
	Resolution Resolution
	Dirs       []r3.Vector
	Valid      []bool
}

// ImageCoordinates returns the normalized (u, v) of every pixel centre.
func ImageCoordinates(res Resolution) (u, v []float64) {
	n := res.Pixels()
	u = make([]float64, n)
	v = make([]float64, n)
	for row := 0; row < res.Height; row++ {
		vv := (float64(row) + 0.5) / float64(res.Height)
		for col := 0; col < res.Width; col++ {
			i := row*res.Width + col
			u[i] = (float64(col) + 0.5) / float64(res.Width)
			v[i] = vv
		}
	}
	return u, v
}

// WorldCoordinates computes the direction of every pixel centre.
func (e *EnvironmentMap) WorldCoordinates() (*WorldCoords, error) {
	return worldCoordinates(e.Layout, e.Resolution())
}

func worldCoordinates(layout Layout, res Resolution) (*WorldCoords, error) {
	toWorld, err := image2world(layout)
	if err != nil {
		return nil, err
	}
	u, v := ImageCoordinates(res)
	wc := &WorldCoords{
		Resolution: res,
		Dirs:       make([]r3.Vector, len(u)),
		Valid:      make([]bool, len(u)),
	}
	for i := range u {
		wc.Dirs[i], wc.Valid[i] = toWorld(u[i], v[i])
	}
	return wc, nil
}

// World2Image projects directions to normalized image coordinates. Directions
// need not be exactly unit length; non-finite input yields non-finite output.
func (e *EnvironmentMap) World2Image(dirs []r3.Vector) (u, v []float64, err error) {
	toImage, err := world2image(e.Layout)
	if err != nil {
		return nil, nil, err
	}
	u = make([]float64, len(dirs))
	v = make([]float64, len(dirs))
	for i, d := range dirs {
		u[i], v[i] = toImage(d)
	}
	return u, v, nil
}

func image2world(layout Layout) (func(u, v float64) (r3.Vector, bool), error) {
	switch layout {
	case LatLong:
		return latlong2world, nil
	case Angular:
		return angular2world, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
	}
}

func world2image(layout Layout) (func(d r3.Vector) (u, v float64), error) {
	switch layout {
	case LatLong:
		return world2latlong, nil
	case Angular:
		return world2angular, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, layout)
	}
}

func latlong2world(u, v float64) (r3.Vector, bool) {
	theta := math.Pi * (2*u - 1)
	phi := math.Pi * v
	return r3.Vector{
		X: math.Sin(phi) * math.Sin(theta),
		Y: math.Cos(phi),
		Z: -math.Sin(phi) * math.Cos(theta),
	}, true
}

func world2latlong(d r3.Vector) (u, v float64) {
	n := d.Norm()
	// clamp guards acos against round-off just outside [-1, 1]
	y := math.Max(-1, math.Min(1, d.Y/n))
	u = (1 + math.Atan2(d.X, -d.Z)/math.Pi) / 2
	v = math.Acos(y) / math.Pi
	return u, v
}

func angular2world(u, v float64) (r3.Vector, bool) {
	uu := 2*u - 1
	vv := 2*v - 1
	r := math.Hypot(uu, vv)
	if r > 1 {
		return r3.Vector{}, false
	}
	theta := math.Pi * r
	phi := math.Atan2(vv, uu)
	return r3.Vector{
		X: math.Sin(theta) * math.Cos(phi),
		Y: -math.Sin(theta) * math.Sin(phi),
		Z: -math.Cos(theta),
	}, true
}

func world2angular(d r3.Vector) (u, v float64) {
	n := d.Norm()
	x, y, z := d.X/n, d.Y/n, d.Z/n
	rxy := math.Hypot(x, y)
	if rxy < 1e-12 {
		if z > 0 {
			// straight backwards maps to the disc rim; pick its rightmost point
			return 1, 0.5
		}
		return 0.5, 0.5
	}
	rho := math.Acos(math.Max(-1, math.Min(1, -z))) / (2 * math.Pi * rxy)
	return 0.5 + rho*x, 0.5 - rho*y
}
