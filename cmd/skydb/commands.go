package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/golang/geo/s1"
	"go.uber.org/multierr"

	"github.com/cjeanneret/skydb/internal/config"
	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/envmap"
	"github.com/cjeanneret/skydb/internal/hw/camera"
	"github.com/cjeanneret/skydb/internal/hw/gpio"
	"github.com/cjeanneret/skydb/internal/imageio"
	"github.com/cjeanneret/skydb/internal/logic/capture"
	"github.com/cjeanneret/skydb/internal/sky"
	"github.com/cjeanneret/skydb/internal/warp"
	"github.com/cjeanneret/skydb/internal/web"
)

// app carries what every command needs.
type app struct {
	cfg       *config.Config
	engine    *warp.Engine
	out       io.Writer
	newDriver func(mock bool) (gpio.Driver, error)
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	engine, err := warp.NewEngine(warp.Options{
		CacheCapacity:   cfg.Warp.CacheCapacity,
		Workers:         cfg.Warp.Workers,
		RejectNonFinite: cfg.Warp.RejectNonFinite,
	})
	if err != nil {
		return nil, fmt.Errorf("create warp engine: %w", err)
	}
	return &app{cfg: cfg, engine: engine, out: out, newDriver: gpio.NewDriver}, nil
}

func (a *app) openDB() (*sky.DB, error) {
	layout, err := envmap.ParseLayout(a.cfg.Dataset.Layout)
	if err != nil {
		return nil, err
	}
	debug.Step(1, "Indexing dataset "+a.cfg.Dataset.Root)
	return sky.Open(a.cfg.Dataset.Root, sky.Options{
		ProbeGlob: a.cfg.Dataset.ProbeGlob,
		Layout:    layout,
		Location:  a.cfg.Location(),
	})
}

func (a *app) site() sky.Site {
	return sky.Site{
		Latitude:  a.cfg.Site.Latitude,
		Longitude: a.cfg.Site.Longitude,
		Heading:   s1.Angle(a.cfg.HeadingRad()),
	}
}

func (a *app) toneMap() imageio.ToneMapOptions {
	return imageio.ToneMapOptions{Key: a.cfg.Output.ToneMapKey, Gamma: a.cfg.Output.Gamma}
}

// index prints one line per interval, then the entries that were skipped.
func (a *app) index() error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tPROBES\tFIRST\tLAST")
	for _, iv := range db.Intervals {
		first, last := "-", "-"
		if n := len(iv.Probes); n > 0 {
			first = iv.Probes[0].Time.Format(time.TimeOnly)
			last = iv.Probes[n-1].Time.Format(time.TimeOnly)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", iv.Name(), len(iv.Probes), first, last)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d intervals, %d probes\n", len(db.Intervals), db.Probes())
	for _, err := range multierr.Errors(db.Skipped) {
		fmt.Fprintf(a.out, "skipped: %v\n", err)
	}
	return nil
}

func closestProbe(db *sky.DB, date, clock string) (*sky.Probe, error) {
	if date == "" || clock == "" {
		return nil, errors.New("-date and -time are required")
	}
	t, err := time.Parse("150405", clock)
	if err != nil {
		return nil, fmt.Errorf("time must be HHMMSS, got %q", clock)
	}
	iv, err := db.Interval(date)
	if err != nil {
		return nil, err
	}
	return iv.ClosestProbe(t.Hour(), t.Minute(), t.Second())
}

func (a *app) closest(date, clock string) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	p, err := closestProbe(db, date, clock)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\n", p.Time.Format(time.RFC3339), p.Path)
	return nil
}

// outputName names a warped probe after its capture time and nadir angle.
func outputName(p *sky.Probe, nadirDeg float64, format string) string {
	return fmt.Sprintf("%s_%s_nadir%s.%s",
		p.Time.Format("20060102"), p.Time.Format("150405"),
		strconv.FormatFloat(nadirDeg, 'f', -1, 64), format)
}

// warp loads the probe closest to req, converts it to latlong if needed and
// writes the warped map. An empty outPath writes under output.dir together
// with a PNG thumbnail.
func (a *app) warp(ctx context.Context, db *sky.DB, req web.WarpRequest, outPath string) (web.WarpResult, error) {
	p, err := closestProbe(db, req.Date, req.Time)
	if err != nil {
		return web.WarpResult{}, err
	}
	debug.Live("Warping %s (nadir %g°, order %d)", p.Path, req.NadirDeg, req.Order)

	m, err := p.EnvironmentMap()
	if err != nil {
		return web.WarpResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return web.WarpResult{}, err
	}
	if m.Layout != envmap.LatLong {
		debug.Verbose("Converting %s %s to latlong, height %d", m.Layout, m.Resolution(), a.cfg.Warp.LatLongHeight)
		if m, err = m.Convert(envmap.LatLong, a.cfg.Warp.LatLongHeight, req.Order); err != nil {
			return web.WarpResult{}, fmt.Errorf("convert %s: %w", p.Path, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return web.WarpResult{}, err
	}

	warped, err := a.engine.Warp(m, req.NadirDeg*math.Pi/180, req.Order)
	if err != nil {
		return web.WarpResult{}, fmt.Errorf("warp %s: %w", p.Path, err)
	}

	res := web.WarpResult{Probe: p.Path}
	if outPath == "" {
		name := outputName(p, req.NadirDeg, a.cfg.Output.Format)
		thumb := strings.TrimSuffix(name, filepath.Ext(name)) + "_thumb.png"
		outPath = filepath.Join(a.cfg.Output.Dir, name)
		if err := imageio.SaveThumbnail(filepath.Join(a.cfg.Output.Dir, thumb), warped, a.cfg.Output.ThumbnailWidth, a.toneMap()); err != nil {
			return web.WarpResult{}, err
		}
		res.Thumbnail = thumb
	}
	if err := imageio.Save(outPath, warped, a.toneMap()); err != nil {
		return web.WarpResult{}, err
	}
	res.Output = filepath.Base(outPath)
	debug.Info("Warped %s -> %s", p.Path, outPath)
	return res, nil
}

func (a *app) warpCommand(ctx context.Context, req web.WarpRequest, outPath string) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	res, err := a.warp(ctx, db, req, outPath)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = filepath.Join(a.cfg.Output.Dir, res.Output)
	}
	fmt.Fprintln(a.out, outPath)
	return nil
}

// sun reports the interval's sun visibility and, with a time of day, how far
// the closest probe's brightest pixel lies from the ephemeris sun.
func (a *app) sun(ctx context.Context, date, clock string) error {
	if date == "" {
		return errors.New("-date is required")
	}
	db, err := a.openDB()
	if err != nil {
		return err
	}
	iv, err := db.Interval(date)
	if err != nil {
		return err
	}
	vis, err := iv.SunVisibility(ctx, a.cfg.Sun.Threshold)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: sun visible in %.1f%% of %d probes (threshold %g)\n",
		iv.Name(), vis*100, len(iv.Probes), a.cfg.Sun.Threshold)

	if clock == "" {
		return nil
	}
	p, err := closestProbe(db, date, clock)
	if err != nil {
		return err
	}
	expected := sky.Ephemeris(p.Time, a.site())
	sunErr, err := sky.SunError(p, a.site())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: ephemeris %s, detected sun off by %.2f°\n",
		p.Time.Format(time.RFC3339), expected, sunErr.Degrees())
	return nil
}

// capture runs the timelapse station until capture.count probes are taken or
// the process is interrupted.
func (a *app) capture(ctx context.Context) error {
	debug.Value("Mock GPIO", a.cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	driver, err := a.newDriver(a.cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver: %w", err))
		}
	}()

	debug.Step(2, "Initializing camera")
	cam, err := camera.New(a.cfg.Camera.Type, driver, camera.Settings{
		FocusPin:     a.cfg.Camera.FocusPin,
		ShutterPin:   a.cfg.Camera.ShutterPin,
		FocusDelay:   a.cfg.FocusDelay(),
		ShutterDelay: a.cfg.ShutterDelay(),
		Brackets:     a.cfg.Camera.Brackets,
	})
	if err != nil {
		return err
	}
	debug.PrintStruct("Camera config", a.cfg.Camera)

	station := capture.NewStation(cam, a.cfg.Dataset.Root)
	n, err := station.Run(ctx, capture.Params{
		Interval:      a.cfg.CaptureInterval(),
		Count:         a.cfg.Capture.Count,
		PostShotDelay: a.cfg.PostShotDelay(),
		Location:      a.cfg.Location(),
	}, func(sh capture.Shot) {
		fmt.Fprintf(a.out, "%d\t%s\n", sh.N, sh.Dir)
	})
	if errors.Is(err, context.Canceled) {
		fmt.Fprintf(a.out, "stopped after %d probes\n", n)
		return nil
	}
	return err
}
