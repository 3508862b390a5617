package envmap

import (
	"fmt"
	"math"
	"runtime"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"
)

// MaxOrder is the highest supported interpolation order.
const MaxOrder = 5

// Resampling kernels by interpolation order. Order 0 (nearest neighbour) has
// no kernel. Every kernel is interpolating: it is 1 at 0 and 0 at other integers.
var kernels = [MaxOrder + 1]*draw.Kernel{
	1: draw.BiLinear,
	2: {Support: 1.5, At: quadratic},
	3: draw.CatmullRom,
	4: {Support: 2, At: lanczos(2)},
	5: {Support: 3, At: lanczos(3)},
}

// quadratic is Dodgson's interpolating quadratic kernel.
func quadratic(t float64) float64 {
	if t <= 0.5 {
		return 1 - 2*t*t
	}
	return t*t - 2.5*t + 1.5
}

func lanczos(a float64) func(t float64) float64 {
	return func(t float64) float64 {
		if t == 0 {
			return 1
		}
		x := math.Pi * t
		return a * math.Sin(x) * math.Sin(x/a) / (x * x)
	}
}

// ValidOrder reports whether order selects a supported kernel.
func ValidOrder(order int) bool {
	return order >= 0 && order <= MaxOrder
}

// Interpolate replaces the map's pixels with samples of the current content at
// the normalized coordinates (u[i], v[i]), one per pixel in row-major order,
// and returns the map. order selects the kernel: 0 nearest, 1 linear,
// 2 quadratic, 3 cubic, 4-5 Lanczos.
//
// Columns wrap for the latlong layout (longitude is periodic) and clamp
// otherwise; rows clamp. Non-finite coordinates produce NaN pixels.
func (e *EnvironmentMap) Interpolate(u, v []float64, order int) (*EnvironmentMap, error) {
	data, err := e.sample(u, v, order, e.Resolution())
	if err != nil {
		return nil, err
	}
	e.Data = data
	return e, nil
}

// sample reads e at (u, v) and returns a fresh buffer for an image of size out.
func (e *EnvironmentMap) sample(u, v []float64, order int, out Resolution) ([]float64, error) {
	if !ValidOrder(order) {
		return nil, fmt.Errorf("interpolation order must be in [0, %d], got %d", MaxOrder, order)
	}
	n := out.Pixels()
	if len(u) != n || len(v) != n {
		return nil, fmt.Errorf("expected %d sample coordinates, got u=%d v=%d", n, len(u), len(v))
	}

	dst := make([]float64, n*e.Channels)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for row := 0; row < out.Height; row++ {
		g.Go(func() error {
			for col := 0; col < out.Width; col++ {
				i := row*out.Width + col
				px := u[i]*float64(e.Width) - 0.5
				py := v[i]*float64(e.Height) - 0.5
				e.sampleAt(px, py, order, dst[i*e.Channels:(i+1)*e.Channels])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return dst, nil
}

// sampleAt writes the value at pixel-space position (px, py) into out.
func (e *EnvironmentMap) sampleAt(px, py float64, order int, out []float64) {
	if !isFinite(px) || !isFinite(py) {
		for c := range out {
			out[c] = math.NaN()
		}
		return
	}

	if order == 0 {
		row := e.clampRow(int(math.Floor(py + 0.5)))
		col := e.wrapCol(int(math.Floor(px + 0.5)))
		copy(out, e.Pixel(row, col))
		return
	}

	k := kernels[order]
	for c := range out {
		out[c] = 0
	}
	var wsum float64
	y0, y1 := taps(py, k.Support)
	x0, x1 := taps(px, k.Support)
	for y := y0; y <= y1; y++ {
		wy := k.At(math.Abs(py - float64(y)))
		if wy == 0 {
			continue
		}
		row := e.clampRow(y)
		for x := x0; x <= x1; x++ {
			w := wy * k.At(math.Abs(px-float64(x)))
			if w == 0 {
				continue
			}
			p := e.Pixel(row, e.wrapCol(x))
			for c := range out {
				out[c] += w * p[c]
			}
			wsum += w
		}
	}
	if wsum != 0 {
		for c := range out {
			out[c] /= wsum
		}
	}
}

// taps returns the integer positions strictly inside the kernel support around p.
func taps(p, support float64) (lo, hi int) {
	return int(math.Floor(p-support)) + 1, int(math.Ceil(p+support)) - 1
}

func (e *EnvironmentMap) clampRow(row int) int {
	if row < 0 {
		return 0
	}
	if row >= e.Height {
		return e.Height - 1
	}
	return row
}

func (e *EnvironmentMap) wrapCol(col int) int {
	if e.Layout == LatLong {
		return ((col % e.Width) + e.Width) % e.Width
	}
	if col < 0 {
		return 0
	}
	if col >= e.Width {
		return e.Width - 1
	}
	return col
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
