package imageio

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/cjeanneret/skydb/internal/envmap"
)

// ToneMapOptions controls the Reinhard 2002 global operator.
type ToneMapOptions struct {
	Key   float64 // middle-grey key; 0 means 0.18
	Gamma float64 // display gamma; 0 means DefaultGamma
}

func (o ToneMapOptions) withDefaults() ToneMapOptions {
	if o.Key <= 0 {
		o.Key = 0.18
	}
	if o.Gamma <= 0 {
		o.Gamma = DefaultGamma
	}
	return o
}

// ToneMap maps radiance to a displayable 16-bit image using Reinhard et al.
// 2002 (global operator with burn-out at the brightest scaled luminance),
// followed by gamma encoding. NaN pixels come out black.
func ToneMap(m *envmap.EnvironmentMap, opts ToneMapOptions) *image.NRGBA64 {
	opts = opts.withDefaults()
	const delta = 1e-6

	n := m.Height * m.Width
	lum := make([]float64, n)
	logs := make([]float64, n)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := y*m.Width + x
			l := m.Luminance(y, x)
			if math.IsNaN(l) || l < 0 {
				l = 0
			}
			lum[i] = l
			logs[i] = math.Log(delta + l)
		}
	}
	logAvg := math.Exp(stat.Mean(logs, nil))
	scale := opts.Key / logAvg
	white := scale * floats.Max(lum)
	white2 := white * white
	if white2 == 0 {
		white2 = 1
	}

	out := image.NewNRGBA64(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			i := y*m.Width + x
			var ratio float64
			if lum[i] > 0 {
				l := scale * lum[i]
				ratio = l * (1 + l/white2) / (1 + l) / lum[i]
			}
			p := m.Pixel(y, x)
			var rgb [3]uint16
			for c := range rgb {
				v := p[0]
				if c < len(p) {
					v = p[c]
				}
				rgb[c] = encode(v*ratio, opts.Gamma)
			}
			out.SetNRGBA64(x, y, color.NRGBA64{R: rgb[0], G: rgb[1], B: rgb[2], A: 0xffff})
		}
	}
	return out
}

func encode(v, gamma float64) uint16 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	return uint16(math.Round(math.Pow(v, 1/gamma) * 0xffff))
}

// Thumbnail returns a tone-mapped preview scaled to the given width with
// Catmull-Rom filtering, keeping the aspect ratio.
func Thumbnail(m *envmap.EnvironmentMap, width int, opts ToneMapOptions) image.Image {
	full := ToneMap(m, opts)
	if width <= 0 || width >= m.Width {
		return full
	}
	height := int(math.Max(1, math.Round(float64(m.Height)*float64(width)/float64(m.Width))))
	dst := image.NewNRGBA64(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), full, full.Bounds(), draw.Src, nil)
	return dst
}
