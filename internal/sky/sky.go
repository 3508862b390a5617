// Package sky indexes a dataset of sky probes laid out as
// root/YYYYMMDD/HHMMSS/envmap.*, one directory per day (an interval) and one
// per capture.
package sky

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/envmap"
)

const (
	// DefaultProbeGlob matches probe files inside capture directories.
	DefaultProbeGlob = "envmap.*"
	// DefaultSunThreshold is the radiance above which the sun counts as visible.
	DefaultSunThreshold = 5000.0

	dateLayout = "20060102"
	timeLayout = "150405"
)

var (
	// ErrNoProbes is returned when an interval holds no probe.
	ErrNoProbes = errors.New("interval has no probes")
	// ErrNoInterval is returned when no interval matches a date.
	ErrNoInterval = errors.New("no interval for date")
	// ErrBadPath is returned for paths that do not follow YYYYMMDD/HHMMSS/file.
	ErrBadPath = errors.New("probe path does not match YYYYMMDD/HHMMSS/file")
)

// Options controls how a dataset is indexed.
type Options struct {
	ProbeGlob string         // default DefaultProbeGlob
	Layout    envmap.Layout  // layout of the probe files; default angular
	Location  *time.Location // time zone of directory names; default UTC
}

func (o Options) withDefaults() Options {
	if o.ProbeGlob == "" {
		o.ProbeGlob = DefaultProbeGlob
	}
	if o.Layout == "" {
		o.Layout = envmap.Angular
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// DB is an indexed sky dataset.
type DB struct {
	Root      string
	Intervals []*Interval // sorted by date

	// Skipped collects the non-fatal problems met while indexing (malformed
	// directory names, unreadable sub-trees). Use multierr.Errors to list them.
	Skipped error
}

// Open indexes every sub-directory of root as an interval. Entries that do
// not parse are skipped and recorded in DB.Skipped; only an unreadable root
// or an invalid glob fails the call.
func Open(root string, opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if _, err := filepath.Match(opts.ProbeGlob, ""); err != nil {
		return nil, fmt.Errorf("probe glob %q: %w", opts.ProbeGlob, err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("open sky dataset: %w", err)
	}

	db := &DB{Root: abs}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		iv, err := openInterval(filepath.Join(abs, e.Name()), opts)
		db.Skipped = multierr.Append(db.Skipped, err)
		if iv != nil {
			db.Intervals = append(db.Intervals, iv)
		}
	}
	sort.Slice(db.Intervals, func(i, j int) bool {
		return db.Intervals[i].Date.Before(db.Intervals[j].Date)
	})

	debug.Verbose("Indexed %s: %d intervals, %d skipped", abs, len(db.Intervals), len(multierr.Errors(db.Skipped)))
	for _, err := range multierr.Errors(db.Skipped) {
		debug.Trace("skipped: %v", err)
	}
	return db, nil
}

// Interval returns the interval for a YYYYMMDD date.
func (db *DB) Interval(date string) (*Interval, error) {
	for _, iv := range db.Intervals {
		if iv.Name() == date {
			return iv, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoInterval, date)
}

// Probes returns the number of probes across all intervals.
func (db *DB) Probes() int {
	n := 0
	for _, iv := range db.Intervals {
		n += len(iv.Probes)
	}
	return n
}

// openInterval may return an interval together with the errors of the probes
// it had to skip.
func openInterval(path string, opts Options) (*Interval, error) {
	date, err := time.ParseInLocation(dateLayout, filepath.Base(path), opts.Location)
	if err != nil {
		return nil, fmt.Errorf("interval %s: %w", path, err)
	}
	iv := &Interval{Path: path, Date: date}

	var errs error
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = multierr.Append(errs, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(opts.ProbeGlob, d.Name()); !ok {
			return nil
		}
		t, err := ParseProbeTime(p, opts.Location)
		if err != nil {
			errs = multierr.Append(errs, err)
			return nil
		}
		iv.Probes = append(iv.Probes, &Probe{Path: p, Layout: opts.Layout, Time: t})
		return nil
	})
	if walkErr != nil {
		return nil, multierr.Append(errs, walkErr)
	}
	sort.SliceStable(iv.Probes, func(i, j int) bool {
		return iv.Probes[i].Time.Before(iv.Probes[j].Time)
	})
	return iv, errs
}

// ParseProbeTime reads the capture time from a .../YYYYMMDD/HHMMSS/file path.
func ParseProbeTime(path string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	clean := filepath.Clean(path)
	timeDir := filepath.Dir(clean)
	dateDir := filepath.Dir(timeDir)
	stamp := filepath.Base(dateDir) + filepath.Base(timeDir)
	if len(stamp) != len(dateLayout)+len(timeLayout) {
		return time.Time{}, fmt.Errorf("%w: %s", ErrBadPath, path)
	}
	t, err := time.ParseInLocation(dateLayout+timeLayout, stamp, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrBadPath, path, err)
	}
	return t, nil
}

// ProbeDir returns the capture directory for a probe taken at t.
func ProbeDir(root string, t time.Time) string {
	return filepath.Join(root, t.Format(dateLayout), t.Format(timeLayout))
}
