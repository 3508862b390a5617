// Package imageio loads and stores environment maps: Portable Float Maps for
// HDR radiance, and the usual raster formats for previews.
package imageio

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // JPEG decoder registration
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // BMP decoder registration
	_ "golang.org/x/image/tiff" // TIFF decoder registration
	_ "golang.org/x/image/webp" // WebP decoder registration

	"github.com/cjeanneret/skydb/internal/envmap"
)

// DefaultGamma is the display gamma assumed for LDR files.
const DefaultGamma = 2.2

// Load reads an environment map. ".pfm" files are read as linear radiance;
// any other format registered with image.Decode is linearized with
// DefaultGamma into [0, 1].
func Load(path string, layout envmap.Layout) (*envmap.EnvironmentMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var m *envmap.EnvironmentMap
	if strings.EqualFold(filepath.Ext(path), ".pfm") {
		m, err = DecodePFM(f, layout)
	} else {
		m, err = DecodeImage(f, layout)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return m, nil
}

// DecodeImage decodes a raster image into a 3-channel linear map.
func DecodeImage(r io.Reader, layout envmap.Layout) (*envmap.EnvironmentMap, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	m, err := envmap.New(layout, b.Dy(), b.Dx(), 3)
	if err != nil {
		return nil, err
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			p := m.Pixel(y, x)
			p[0] = linearize(c.R)
			p[1] = linearize(c.G)
			p[2] = linearize(c.B)
		}
	}
	return m, nil
}

func linearize(v uint16) float64 {
	return math.Pow(float64(v)/0xffff, DefaultGamma)
}

// Save writes m to path, choosing the format from the extension: ".pfm"
// stores radiance losslessly, ".png" stores a tone-mapped 16-bit preview.
func Save(path string, m *envmap.EnvironmentMap, opts ToneMapOptions) error {
	return writeFile(path, func(w io.Writer) error {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pfm":
			return EncodePFM(w, m)
		case ".png":
			return png.Encode(w, ToneMap(m, opts))
		default:
			return fmt.Errorf("unsupported output format %q (use .pfm or .png)", filepath.Ext(path))
		}
	})
}

// SaveThumbnail writes a PNG preview of m scaled to width.
func SaveThumbnail(path string, m *envmap.EnvironmentMap, width int, opts ToneMapOptions) error {
	return writeFile(path, func(w io.Writer) error {
		return png.Encode(w, Thumbnail(m, width, opts))
	})
}

// writeFile creates path and its parents, and removes the file again if
// encode or close fails.
func writeFile(path string, encode func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	err = encode(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
