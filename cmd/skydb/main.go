package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/cjeanneret/skydb/internal/config"
	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/envmap"
	"github.com/cjeanneret/skydb/internal/web"
)

const usage = `usage: skydb [flags] <command>

commands:
  index     list the dataset's intervals
  closest   print the probe closest to -date/-time
  warp      warp the probe closest to -date/-time by -nadir_deg
  sun       sun visibility for -date; with -time, compare the probe's sun to the ephemeris
  capture   run the timelapse station

With -web the status page and HTTP API are served instead.

flags:
`

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	date := flag.String("date", "", "interval date YYYYMMDD")
	clock := flag.String("time", "", "time of day HHMMSS")
	nadirDeg := flag.Float64("nadir_deg", 0, "override warp nadir angle in degrees (-90, 90)")
	order := flag.Int("order", 0, "override interpolation order (0-5)")
	out := flag.String("out", "", "output file for warp (.png or .pfm); default under output.dir")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Only flags given on the command line override the config
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if err := validateCLIOverrides(*nadirDeg, *order, *date, *clock); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, set, *nadirDeg, *order)

	// Initialize debug system
	debug.InitWithFile(cfg.Defaults.DebugLevel, debug.FileConfig{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer debug.Sync()
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	debug.PrintStruct("Warp config", cfg.Warp)

	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}

	if port := webPort.port(); port > 0 {
		if err := serve(ctx, a, port); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	req := web.WarpRequest{Date: *date, Time: *clock, NadirDeg: cfg.Warp.NadirDeg, Order: cfg.Warp.Order}
	switch cmd := flag.Arg(0); cmd {
	case "index":
		err = a.index()
	case "closest":
		err = a.closest(req.Date, req.Time)
	case "warp":
		err = a.warpCommand(ctx, req, *out)
	case "sun":
		err = a.sun(ctx, req.Date, req.Time)
	case "capture":
		err = a.capture(ctx)
	case "":
		flag.Usage()
		os.Exit(2)
	default:
		log.Fatalf("unknown command %q (see -h)", cmd)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}

// serve runs the web server until ctx is cancelled, teeing the debug log
// into the status stream.
func serve(ctx context.Context, a *app, port int) error {
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	db, err := a.openDB()
	if err != nil {
		return err
	}
	staticFS, err := web.StaticFS()
	if err != nil {
		return err
	}

	formDefaults := web.FormConfig{
		NadirDeg: a.cfg.Warp.NadirDeg,
		Order:    a.cfg.Warp.Order,
		MaxOrder: envmap.MaxOrder,
	}
	runWarp := func(ctx context.Context, req web.WarpRequest) (web.WarpResult, error) {
		return a.warp(ctx, db, req, "")
	}
	handlers := web.NewHandlers(broadcaster, db, runWarp, formDefaults, staticFS)
	srv := web.NewServer(fmt.Sprintf(":%d", port), handlers, a.cfg.Output.Dir)
	return srv.Run(ctx)
}

// validateCLIOverrides checks the override flags. Empty date and time are
// allowed here; commands that need them report their absence.
func validateCLIOverrides(nadirDeg float64, order int, date, clock string) error {
	if err := config.ValidateNadirDeg(nadirDeg); err != nil {
		return fmt.Errorf("nadir_deg: %w", err)
	}
	if !envmap.ValidOrder(order) {
		return fmt.Errorf("order must be between 0 and %d, got %d", envmap.MaxOrder, order)
	}
	if date != "" {
		if _, err := time.Parse("20060102", date); err != nil {
			return fmt.Errorf("date must be YYYYMMDD, got %q", date)
		}
	}
	if clock != "" {
		if _, err := time.Parse("150405", clock); err != nil {
			return fmt.Errorf("time must be HHMMSS, got %q", clock)
		}
	}
	return nil
}

// applyOverrides mutates cfg with the flags present in set.
func applyOverrides(cfg *config.Config, set map[string]bool, nadirDeg float64, order int) {
	if set["nadir_deg"] {
		cfg.Warp.NadirDeg = nadirDeg
	}
	if set["order"] {
		cfg.Warp.Order = order
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
