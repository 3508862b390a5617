package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // embedded zone database

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// DatasetConfig locates the sky probe dataset.
type DatasetConfig struct {
	Root      string `yaml:"root"`       // directory holding YYYYMMDD/HHMMSS/ folders
	ProbeGlob string `yaml:"probe_glob"` // probe file pattern (default "envmap.*")
	Layout    string `yaml:"layout"`     // probe layout: "angular" or "latlong"
	Timezone  string `yaml:"timezone"`   // IANA zone of folder names (default "UTC")
}

// WarpConfig tunes the nadir warping engine.
type WarpConfig struct {
	CacheCapacity   int     `yaml:"cache_capacity"`    // resolutions kept in the world-coordinate cache
	Workers         int     `yaml:"workers"`           // parallel rows; 0 = GOMAXPROCS
	RejectNonFinite bool    `yaml:"reject_non_finite"` // fail instead of emitting NaN pixels
	NadirDeg        float64 `yaml:"nadir_deg"`         // default nadir angle (-90, 90)
	Order           int     `yaml:"order"`             // default interpolation order 0-5
	LatLongHeight   int     `yaml:"latlong_height"`    // height used when converting probes to latlong
}

// SunConfig holds sun detection parameters.
type SunConfig struct {
	Threshold float64 `yaml:"threshold"` // radiance above which the sun is visible
}

// SiteConfig places the camera on Earth.
type SiteConfig struct {
	Latitude   float64 `yaml:"latitude"`    // degrees, north positive
	Longitude  float64 `yaml:"longitude"`   // degrees, east positive
	HeadingDeg float64 `yaml:"heading_deg"` // compass bearing of the camera's forward axis
}

// OutputConfig controls written images.
type OutputConfig struct {
	Dir            string  `yaml:"dir"`             // output directory
	Format         string  `yaml:"format"`          // "png" or "pfm"
	ToneMapKey     float64 `yaml:"tonemap_key"`     // Reinhard key (default 0.18)
	Gamma          float64 `yaml:"gamma"`           // display gamma (default 2.2)
	ThumbnailWidth int     `yaml:"thumbnail_width"` // web preview width in pixels
}

// CameraConfig describes how to communicate with the camera.
// Type selects a concrete implementation (e.g., "nikon_d90_gpio").
type CameraConfig struct {
	Type            string `yaml:"type"`               // e.g., "nikon_d90_gpio"
	FocusPin        int    `yaml:"focus_pin"`          // GPIO pin for FOCUS line
	ShutterPin      int    `yaml:"shutter_pin"`        // GPIO pin for SHUTTER line
	FocusDelayMs    int    `yaml:"focus_delay_ms"`     // autofocus delay (ms)
	ShutterDelayMs  int    `yaml:"shutter_delay_ms"`   // shutter hold time (ms)
	PostShotDelayMs int    `yaml:"post_shot_delay_ms"` // settle time after a shot (ms)
	Brackets        int    `yaml:"brackets"`           // exposures per HDR probe (camera in AEB burst mode)
}

// CaptureConfig schedules the timelapse station.
type CaptureConfig struct {
	IntervalS int `yaml:"interval_s"` // seconds between probes
	Count     int `yaml:"count"`      // probes to take; 0 = until stopped
}

// LoggingConfig enables the rotating log file.
type LoggingConfig struct {
	File       string `yaml:"file"` // empty = console only
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// DefaultsConfig contains generic runtime parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset"`
	Warp     WarpConfig     `yaml:"warp"`
	Sun      SunConfig      `yaml:"sun"`
	Site     SiteConfig     `yaml:"site"`
	Output   OutputConfig   `yaml:"output"`
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
	Logging  LoggingConfig  `yaml:"logging"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// "configs" directory and does not climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("config path %q escapes the working directory", path)
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Default returns a configuration usable on a development machine: mock
// GPIO, dataset under data/sky, PNG output.
func Default() *Config {
	cfg := &Config{
		Dataset: DatasetConfig{Root: filepath.Join("data", "sky")},
		Camera:  CameraConfig{Type: "nikon_d90_gpio", FocusPin: 24, ShutterPin: 25},
		Defaults: DefaultsConfig{
			DebugLevel: 1,
			MockGPIO:   true,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dataset.ProbeGlob == "" {
		c.Dataset.ProbeGlob = "envmap.*"
	}
	if c.Dataset.Layout == "" {
		c.Dataset.Layout = "angular"
	}
	if c.Dataset.Timezone == "" {
		c.Dataset.Timezone = "UTC"
	}
	if c.Warp.CacheCapacity <= 0 {
		c.Warp.CacheCapacity = 8
	}
	if c.Warp.LatLongHeight <= 0 {
		c.Warp.LatLongHeight = 512
	}
	if c.Sun.Threshold <= 0 {
		c.Sun.Threshold = 5000
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "out"
	}
	if c.Output.Format == "" {
		c.Output.Format = "png"
	}
	if c.Output.ToneMapKey <= 0 {
		c.Output.ToneMapKey = 0.18
	}
	if c.Output.Gamma <= 0 {
		c.Output.Gamma = 2.2
	}
	if c.Output.ThumbnailWidth <= 0 {
		c.Output.ThumbnailWidth = 512
	}
	if c.Capture.IntervalS <= 0 {
		c.Capture.IntervalS = 60
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 10
	}

	// Default values for camera delays
	if c.Camera.FocusDelayMs <= 0 {
		c.Camera.FocusDelayMs = 500 // 500ms for autofocus
	}
	if c.Camera.ShutterDelayMs <= 0 {
		c.Camera.ShutterDelayMs = 200 // 200ms shutter hold
	}
	if c.Camera.PostShotDelayMs <= 0 {
		c.Camera.PostShotDelayMs = 300 // 300ms settle after the shot
	}
	if c.Camera.Brackets <= 0 {
		c.Camera.Brackets = 1
	}
}

// Validate checks ranges and enumerations. Defaults must already be applied.
func (c *Config) Validate() error {
	if c.Camera.Type == "" {
		return fmt.Errorf("camera.type is required")
	}
	if c.Dataset.Root == "" {
		return fmt.Errorf("dataset.root is required")
	}
	switch c.Dataset.Layout {
	case "angular", "latlong":
	default:
		return fmt.Errorf("dataset.layout must be angular or latlong, got %q", c.Dataset.Layout)
	}
	if _, err := filepath.Match(c.Dataset.ProbeGlob, ""); err != nil {
		return fmt.Errorf("dataset.probe_glob %q: %w", c.Dataset.ProbeGlob, err)
	}
	if _, err := time.LoadLocation(c.Dataset.Timezone); err != nil {
		return fmt.Errorf("dataset.timezone: %w", err)
	}
	if err := ValidateNadirDeg(c.Warp.NadirDeg); err != nil {
		return fmt.Errorf("warp.nadir_deg: %w", err)
	}
	if c.Warp.Order < 0 || c.Warp.Order > 5 {
		return fmt.Errorf("warp.order must be between 0 and 5, got %d", c.Warp.Order)
	}
	if c.Warp.Workers < 0 {
		return fmt.Errorf("warp.workers must be >= 0, got %d", c.Warp.Workers)
	}
	if c.Site.Latitude < -90 || c.Site.Latitude > 90 {
		return fmt.Errorf("site.latitude must be between -90 and 90, got %.4f", c.Site.Latitude)
	}
	if c.Site.Longitude < -180 || c.Site.Longitude > 180 {
		return fmt.Errorf("site.longitude must be between -180 and 180, got %.4f", c.Site.Longitude)
	}
	switch c.Output.Format {
	case "png", "pfm":
	default:
		return fmt.Errorf("output.format must be png or pfm, got %q", c.Output.Format)
	}
	if c.Camera.Brackets > 9 {
		return fmt.Errorf("camera.brackets must be between 1 and 9, got %d", c.Camera.Brackets)
	}
	if c.Capture.Count < 0 {
		return fmt.Errorf("capture.count must be >= 0, got %d", c.Capture.Count)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// ValidateNadirDeg accepts finite angles strictly between -90 and 90 degrees.
func ValidateNadirDeg(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) || deg <= -90 || deg >= 90 {
		return fmt.Errorf("nadir must be a finite angle in (-90, 90) degrees, got %g", deg)
	}
	return nil
}

// SaveTo writes the configuration as YAML, creating parent directories.
func (c *Config) SaveTo(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Location returns the time zone of dataset folder names.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Dataset.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NadirRad returns the default nadir angle in radians.
func (c *Config) NadirRad() float64 {
	return c.Warp.NadirDeg * math.Pi / 180
}

// HeadingRad returns the camera heading in radians.
func (c *Config) HeadingRad() float64 {
	return c.Site.HeadingDeg * math.Pi / 180
}

// CaptureInterval returns the delay between two probes.
func (c *Config) CaptureInterval() time.Duration {
	return time.Duration(c.Capture.IntervalS) * time.Second
}

// FocusDelay returns the autofocus delay duration.
func (c *Config) FocusDelay() time.Duration {
	return time.Duration(c.Camera.FocusDelayMs) * time.Millisecond
}

// ShutterDelay returns the shutter hold duration.
func (c *Config) ShutterDelay() time.Duration {
	return time.Duration(c.Camera.ShutterDelayMs) * time.Millisecond
}

// PostShotDelay returns the settle time after a shot.
func (c *Config) PostShotDelay() time.Duration {
	return time.Duration(c.Camera.PostShotDelayMs) * time.Millisecond
}
