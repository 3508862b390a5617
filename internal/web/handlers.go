package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/skydb/internal/debug"
	"github.com/cjeanneret/skydb/internal/envmap"
	"github.com/cjeanneret/skydb/internal/sky"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

// DefaultCooldown is the minimum delay between the end of one warp job and
// the start of the next.
const DefaultCooldown = 5 * time.Second

// WarpRequest asks for the probe closest to Date/Time, warped by NadirDeg.
type WarpRequest struct {
	Date     string  `json:"date"` // YYYYMMDD
	Time     string  `json:"time"` // HHMMSS
	NadirDeg float64 `json:"nadir_deg"`
	Order    int     `json:"order"`
}

// WarpResult describes a finished warp job.
type WarpResult struct {
	Probe     string `json:"probe"`
	Output    string `json:"output"`              // file name under the output directory
	Thumbnail string `json:"thumbnail,omitempty"` // PNG preview under the output directory
}

// RunWarpFunc runs a warp job. It is called from POST /warp in a goroutine.
type RunWarpFunc func(ctx context.Context, req WarpRequest) (WarpResult, error)

// FormConfig holds default values for the warp form (from config).
type FormConfig struct {
	NadirDeg float64 `json:"nadir_deg"`
	Order    int     `json:"order"`
	MaxOrder int     `json:"max_order"`
}

// IntervalSummary is one row of GET /intervals.
type IntervalSummary struct {
	Date   string `json:"date"`
	Probes int    `json:"probes"`
	First  string `json:"first,omitempty"`
	Last   string `json:"last,omitempty"`
}

// ProbeSummary is the body of GET /probes/closest.
type ProbeSummary struct {
	Path string `json:"path"`
	Time string `json:"time"`
}

// ValidateWarpRequest checks every field of a warp request.
func ValidateWarpRequest(r WarpRequest) error {
	if _, err := time.Parse("20060102", r.Date); err != nil {
		return fmt.Errorf("date must be YYYYMMDD, got %q", r.Date)
	}
	if _, err := parseClock(r.Time); err != nil {
		return err
	}
	if math.IsNaN(r.NadirDeg) || math.IsInf(r.NadirDeg, 0) || r.NadirDeg <= -90 || r.NadirDeg >= 90 {
		return fmt.Errorf("nadir_deg must be a finite angle in (-90, 90), got %g", r.NadirDeg)
	}
	if !envmap.ValidOrder(r.Order) {
		return fmt.Errorf("order must be between 0 and %d, got %d", envmap.MaxOrder, r.Order)
	}
	return nil
}

// parseClock parses HHMMSS.
func parseClock(s string) (time.Time, error) {
	t, err := time.Parse("150405", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time must be HHMMSS, got %q", s)
	}
	return t, nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster  *StatusBroadcaster
	DB           *sky.DB
	RunWarp      RunWarpFunc
	FormDefaults FormConfig
	Cooldown     time.Duration

	ctx       context.Context
	runningMu sync.Mutex
	running   bool
	lastDone  time.Time
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If runWarp is nil, POST /warp returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, db *sky.DB, runWarp RunWarpFunc, formDefaults FormConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster:  broadcaster,
		DB:           db,
		RunWarp:      runWarp,
		FormDefaults: formDefaults,
		Cooldown:     DefaultCooldown,
		ctx:          context.Background(),
		staticFS:     staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Verbose("web: encode response: %v", err)
	}
}

// HandleConfig returns the form default values (from config) as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.FormDefaults)
}

// HandleIntervals lists the dataset's days with their probe counts.
func (h *Handlers) HandleIntervals(w http.ResponseWriter, r *http.Request) {
	out := []IntervalSummary{}
	if h.DB != nil {
		for _, iv := range h.DB.Intervals {
			s := IntervalSummary{Date: iv.Name(), Probes: len(iv.Probes)}
			if n := len(iv.Probes); n > 0 {
				s.First = iv.Probes[0].Time.Format(time.TimeOnly)
				s.Last = iv.Probes[n-1].Time.Format(time.TimeOnly)
			}
			out = append(out, s)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleClosest handles GET /probes/closest?date=YYYYMMDD&time=HHMMSS.
func (h *Handlers) HandleClosest(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil {
		http.Error(w, "dataset not loaded", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	clock, err := parseClock(q.Get("time"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	iv, err := h.DB.Interval(q.Get("date"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	p, err := iv.ClosestProbe(clock.Hour(), clock.Minute(), clock.Second())
	if errors.Is(err, sky.ErrNoProbes) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ProbeSummary{Path: p.Path, Time: p.Time.Format(time.RFC3339)})
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleWarp handles POST /warp. The job runs in the background and reports
// on the status stream; only one job runs at a time.
func (h *Handlers) HandleWarp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req WarpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := ValidateWarpRequest(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.RunWarp == nil {
		http.Error(w, "warp not configured", http.StatusServiceUnavailable)
		return
	}

	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		http.Error(w, "warp already in progress", http.StatusConflict)
		return
	}
	if !h.lastDone.IsZero() && time.Since(h.lastDone) < h.Cooldown {
		h.runningMu.Unlock()
		http.Error(w, "too many requests, retry shortly", http.StatusTooManyRequests)
		return
	}
	h.running = true
	h.runningMu.Unlock()

	go func() {
		defer func() {
			h.runningMu.Lock()
			h.running = false
			h.lastDone = time.Now()
			h.runningMu.Unlock()
		}()

		res, err := h.RunWarp(h.ctx, req)
		if err != nil {
			h.Broadcaster.Broadcast("error", "Warp failed: "+err.Error())
			debug.Error(fmt.Errorf("warp failed: %w", err))
			return
		}
		h.Broadcaster.Publish(StatusEvent{Kind: KindWarp, Level: "info", Msg: "Warp complete", Data: res})
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
