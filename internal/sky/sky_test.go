package sky

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/golang/geo/s1"
	"go.uber.org/multierr"

	"github.com/cjeanneret/skydb/internal/envmap"
	"github.com/cjeanneret/skydb/internal/imageio"
)

func newMap(t *testing.T, h, w int) *envmap.EnvironmentMap {
	t.Helper()
	m, err := envmap.New(envmap.LatLong, h, w, 3)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func setPixel(m *envmap.EnvironmentMap, row, col int, v float64) {
	copy(m.Pixel(row, col), []float64{v, v, v})
}

func writeProbe(t *testing.T, root string, at time.Time, m *envmap.EnvironmentMap) string {
	t.Helper()
	path := filepath.Join(ProbeDir(root, at), "envmap.pfm")
	if err := imageio.Save(path, m, imageio.ToneMapOptions{}); err != nil {
		t.Fatalf("write probe: %v", err)
	}
	return path
}

func at(s string) time.Time {
	t, err := time.Parse("20060102 150405", s)
	if err != nil {
		panic(err)
	}
	return t
}

func latLongOpts() Options { return Options{Layout: envmap.LatLong} }

func TestOpen_IndexesIntervals(t *testing.T) {
	root := t.TempDir()
	m := newMap(t, 2, 4)
	writeProbe(t, root, at("20240622 160000"), m)
	writeProbe(t, root, at("20240622 080000"), m)
	writeProbe(t, root, at("20240621 120000"), m)
	if err := os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := Open(root, latLongOpts())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if db.Skipped != nil {
		t.Errorf("unexpected skipped entries: %v", db.Skipped)
	}
	if len(db.Intervals) != 2 {
		t.Fatalf("intervals = %d, want 2", len(db.Intervals))
	}
	if db.Intervals[0].Name() != "20240621" {
		t.Errorf("first interval = %s, want 20240621", db.Intervals[0].Name())
	}
	if db.Probes() != 3 {
		t.Errorf("probes = %d, want 3", db.Probes())
	}

	iv, err := db.Interval("20240622")
	if err != nil {
		t.Fatal(err)
	}
	times := iv.RefTimes()
	if len(times) != 2 || !times[0].Before(times[1]) {
		t.Errorf("RefTimes = %v, want two sorted times", times)
	}
	if want := time.Date(2024, 6, 22, 0, 0, 0, 0, time.UTC); !iv.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", iv.Date, want)
	}
	if _, err := db.Interval("19990101"); !errors.Is(err, ErrNoInterval) {
		t.Errorf("missing interval err = %v, want ErrNoInterval", err)
	}
}

func TestOpen_SkipsMalformedEntries(t *testing.T) {
	root := t.TempDir()
	m := newMap(t, 2, 4)
	writeProbe(t, root, at("20240621 120000"), m)

	bad := filepath.Join(root, "not-a-date", "120000")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	nested := filepath.Join(root, "20240621", "extra", "deeper")
	if err := imageio.Save(filepath.Join(nested, "envmap.pfm"), m, imageio.ToneMapOptions{}); err != nil {
		t.Fatal(err)
	}

	db, err := Open(root, latLongOpts())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := len(multierr.Errors(db.Skipped)); got != 2 {
		t.Errorf("skipped = %d (%v), want 2", got, db.Skipped)
	}
	if db.Probes() != 1 {
		t.Errorf("probes = %d, want 1", db.Probes())
	}
	var found bool
	for _, e := range multierr.Errors(db.Skipped) {
		if errors.Is(e, ErrBadPath) {
			found = true
		}
	}
	if !found {
		t.Error("expected an ErrBadPath among skipped entries")
	}
}

func TestOpen_Errors(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "missing"), Options{}); err == nil {
		t.Error("expected error for missing root")
	}
	if _, err := Open(t.TempDir(), Options{ProbeGlob: "["}); err == nil {
		t.Error("expected error for bad glob")
	}
}

func TestOpen_Defaults(t *testing.T) {
	root := t.TempDir()
	writeProbe(t, root, at("20240621 120000"), newMap(t, 2, 4))
	db, err := Open(root, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if got := db.Intervals[0].Probes[0].Layout; got != envmap.Angular {
		t.Errorf("default layout = %s, want angular", got)
	}
}

func TestClosestProbe(t *testing.T) {
	iv := &Interval{Path: "20240621"}
	for _, s := range []string{"080000", "120000", "160000"} {
		iv.Probes = append(iv.Probes, &Probe{Time: at("20240621 " + s)})
	}

	tests := []struct {
		name    string
		h, m, s int
		want    int
	}{
		{"exact", 12, 0, 0, 1},
		{"nearer later", 13, 0, 0, 1},
		{"tie goes to first", 10, 0, 0, 0},
		{"before all", 0, 0, 0, 0},
		{"after all, no wrap", 23, 59, 59, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := iv.ClosestProbe(tt.h, tt.m, tt.s)
			if err != nil {
				t.Fatal(err)
			}
			if p != iv.Probes[tt.want] {
				t.Errorf("got %v, want probe %d", p.Time, tt.want)
			}
		})
	}

	if _, err := iv.ClosestProbe(24, 0, 0); err == nil {
		t.Error("expected error for hour 24")
	}
	empty := &Interval{Path: "x"}
	if _, err := empty.ClosestProbe(12, 0, 0); !errors.Is(err, ErrNoProbes) {
		t.Errorf("err = %v, want ErrNoProbes", err)
	}
}

func TestParseProbeTime(t *testing.T) {
	got, err := ParseProbeTime(filepath.Join("data", "20130619", "102639", "envmap.exr"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := time.Date(2013, 6, 19, 10, 26, 39, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	for _, p := range []string{
		"envmap.exr",
		filepath.Join("20130619", "envmap.exr"),
		filepath.Join("20131319", "102639", "envmap.exr"),
		filepath.Join("20130619", "1026", "envmap.exr"),
	} {
		if _, err := ParseProbeTime(p, nil); !errors.Is(err, ErrBadPath) {
			t.Errorf("ParseProbeTime(%q) err = %v, want ErrBadPath", p, err)
		}
	}
}

func TestProbe_DateTime(t *testing.T) {
	root := t.TempDir()
	path := writeProbe(t, root, at("20240621 093015"), newMap(t, 2, 4))
	p := &Probe{Path: path}
	got, err := p.DateTime()
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(at("20240621 093015")) {
		t.Errorf("DateTime = %v", got)
	}
	if got := ProbeDir(root, got); got != filepath.Dir(path) {
		t.Errorf("ProbeDir = %s, want %s", got, filepath.Dir(path))
	}
}

func TestSunVisibility(t *testing.T) {
	root := t.TempDir()
	sunny := newMap(t, 2, 4)
	setPixel(sunny, 0, 1, 8000)
	cloudy := newMap(t, 2, 4)
	setPixel(cloudy, 0, 1, 300)

	writeProbe(t, root, at("20240621 090000"), sunny)
	writeProbe(t, root, at("20240621 100000"), cloudy)
	writeProbe(t, root, at("20240621 110000"), cloudy)
	writeProbe(t, root, at("20240621 120000"), sunny)

	db, err := Open(root, latLongOpts())
	if err != nil {
		t.Fatal(err)
	}
	iv := db.Intervals[0]

	vis, err := iv.SunVisibility(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if vis != 0.5 {
		t.Errorf("visibility = %v, want 0.5", vis)
	}
	vis, _ = iv.SunVisibility(context.Background(), 100)
	if vis != 1 {
		t.Errorf("visibility at threshold 100 = %v, want 1", vis)
	}

	empty := &Interval{}
	if vis, err := empty.SunVisibility(context.Background(), 0); err != nil || vis != 0 {
		t.Errorf("empty interval = %v, %v; want 0, nil", vis, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := iv.SunVisibility(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v, want context.Canceled", err)
	}
}

func TestSunPosition_BrightestPixel(t *testing.T) {
	m := newMap(t, 8, 16)
	setPixel(m, 2, 12, 10)
	setPixel(m, 6, 3, 2)

	d, err := SunPosition(m)
	if err != nil {
		t.Fatal(err)
	}
	// pixel centre (u, v) = (12.5/16, 2.5/8)
	if math.Abs(d.Elevation.Degrees()-33.75) > 1e-9 {
		t.Errorf("elevation = %v, want 33.75", d.Elevation.Degrees())
	}
	if math.Abs(d.Azimuth.Degrees()-101.25) > 1e-9 {
		t.Errorf("azimuth = %v, want 101.25", d.Azimuth.Degrees())
	}

	if _, err := SunPosition(newMap(t, 2, 4)); !errors.Is(err, ErrNoLight) {
		t.Errorf("dark map err = %v, want ErrNoLight", err)
	}
}

func TestMeanLightVector(t *testing.T) {
	m := newMap(t, 8, 16)
	setPixel(m, 2, 12, 10)
	mean, err := MeanLightVector(m)
	if err != nil {
		t.Fatal(err)
	}
	sun, _ := SunPosition(m)
	if a := mean.Vector().Angle(sun.Vector()); a.Degrees() > 1e-6 {
		t.Errorf("single light: mean differs from source by %v", a)
	}

	// two equal lights at the same elevation, 90° apart: mean halfway between
	two := newMap(t, 2, 8)
	setPixel(two, 0, 4, 1)
	setPixel(two, 0, 6, 1)
	mean, err = MeanLightVector(two)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mean.Azimuth.Degrees()-67.5) > 1e-6 {
		t.Errorf("azimuth = %v, want 67.5", mean.Azimuth.Degrees())
	}

	if _, err := MeanLightVector(newMap(t, 2, 4)); !errors.Is(err, ErrNoLight) {
		t.Errorf("dark map err = %v, want ErrNoLight", err)
	}
}

func TestDirection_VectorRoundTrip(t *testing.T) {
	for _, v := range []r3.Vector{
		{X: 0, Y: 0, Z: -1},
		{X: 1, Y: 0, Z: 0},
		{X: 0.3, Y: 0.8, Z: 0.2},
	} {
		got := DirectionOf(v).Vector()
		if a := got.Angle(v.Normalize()); a.Radians() > 1e-12 {
			t.Errorf("%v round trip off by %v", v, a)
		}
	}
	if d := DirectionOf(r3.Vector{X: 1}); math.Abs(d.Azimuth.Degrees()-90) > 1e-12 {
		t.Errorf("+x azimuth = %v, want 90", d.Azimuth.Degrees())
	}
}

func TestEphemeris_SolsticeNoon(t *testing.T) {
	noon := time.Date(2024, 6, 21, 12, 0, 0, 0, time.UTC)

	south := Ephemeris(noon, Site{Latitude: 46.8, Longitude: 0, Heading: s1.Angle(math.Pi)})
	if math.Abs(south.Elevation.Degrees()-66.6) > 1 {
		t.Errorf("elevation = %v, want ~66.6", south.Elevation.Degrees())
	}
	if math.Abs(south.Azimuth.Degrees()) > 3 {
		t.Errorf("camera facing south: azimuth = %v, want ~0", south.Azimuth.Degrees())
	}

	north := Ephemeris(noon, Site{Latitude: 46.8, Longitude: 0})
	if math.Abs(math.Abs(north.Azimuth.Degrees())-180) > 3 {
		t.Errorf("camera facing north: azimuth = %v, want ~±180", north.Azimuth.Degrees())
	}
}

func TestSunError(t *testing.T) {
	site := Site{Latitude: 46.8, Longitude: -71.2, Heading: s1.Angle(math.Pi)}
	when := at("20240621 170000")
	exp := Ephemeris(when, site)

	const h, w = 64, 128
	m := newMap(t, h, w)
	u := (exp.Azimuth.Radians()/math.Pi + 1) / 2
	v := (math.Pi/2 - exp.Elevation.Radians()) / math.Pi
	setPixel(m, int(v*h), int(u*w), 1e5)

	root := t.TempDir()
	p := &Probe{Path: writeProbe(t, root, when, m), Layout: envmap.LatLong, Time: when}
	got, err := SunError(p, site)
	if err != nil {
		t.Fatal(err)
	}
	if got.Degrees() > 3 {
		t.Errorf("sun error = %v°, want < 3° (one pixel)", got.Degrees())
	}
}
