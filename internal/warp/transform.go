package warp

import (
	"math"

	"github.com/golang/geo/r3"
)

// ZOffset returns the virtual camera displacement along the z axis for a
// nadir angle in radians.
func ZOffset(nadir float64) float64 {
	return -math.Sin(nadir)
}

// Radicand returns zOffset²(z²−1) + 1 clamped at zero. It is non-negative
// analytically whenever |zOffset| ≤ 1; the clamp absorbs round-off.
// NaN inputs stay NaN.
func Radicand(z, zOffset float64) float64 {
	r := zOffset*zOffset*(z*z-1) + 1
	if r < 0 {
		return 0
	}
	return r
}

// Distance returns the positive t at which the ray t·d + (0, 0, zOffset)
// meets the unit sphere, for a unit direction d with z component z.
func Distance(z, zOffset float64) float64 {
	return -z*zOffset + math.Sqrt(Radicand(z, zOffset))
}

// WarpRay maps a unit direction seen from the origin to the direction seen
// from a camera moved to (0, 0, zOffset), pointing at the same sphere point.
// The result is the sphere point itself, which is what World2Image expects.
func WarpRay(d r3.Vector, zOffset float64) r3.Vector {
	t := Distance(d.Z, zOffset)
	return r3.Vector{X: d.X * t, Y: d.Y * t, Z: d.Z*t + zOffset}
}
