package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/skydb/internal/sky"
)

// ---------- ValidateWarpRequest ----------

func TestValidateWarpRequest_Valid(t *testing.T) {
	cases := []struct {
		name string
		r    WarpRequest
	}{
		{"typical", WarpRequest{"20240621", "120000", 10, 1}},
		{"negative_nadir", WarpRequest{"20240621", "000000", -45, 0}},
		{"max_order", WarpRequest{"20241231", "235959", 89.9, 5}},
		{"zero_nadir", WarpRequest{"20240101", "120000", 0, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateWarpRequest(tc.r); err != nil {
				t.Errorf("expected valid, got: %v", err)
			}
		})
	}
}

func TestValidateWarpRequest_Invalid(t *testing.T) {
	cases := []struct {
		name string
		r    WarpRequest
	}{
		{"empty_date", WarpRequest{"", "120000", 10, 1}},
		{"bad_date", WarpRequest{"2024-06-21", "120000", 10, 1}},
		{"month_13", WarpRequest{"20241321", "120000", 10, 1}},
		{"bad_time", WarpRequest{"20240621", "12:00", 10, 1}},
		{"hour_24", WarpRequest{"20240621", "240000", 10, 1}},
		{"nadir_NaN", WarpRequest{"20240621", "120000", math.NaN(), 1}},
		{"nadir_+Inf", WarpRequest{"20240621", "120000", math.Inf(1), 1}},
		{"nadir_-Inf", WarpRequest{"20240621", "120000", math.Inf(-1), 1}},
		{"nadir_90", WarpRequest{"20240621", "120000", 90, 1}},
		{"nadir_-90", WarpRequest{"20240621", "120000", -90, 1}},
		{"order_negative", WarpRequest{"20240621", "120000", 10, -1}},
		{"order_6", WarpRequest{"20240621", "120000", 10, 6}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateWarpRequest(tc.r); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- Handler helpers ----------

func testDB() *sky.DB {
	at := func(h, m int) time.Time { return time.Date(2024, 6, 21, h, m, 0, 0, time.UTC) }
	probe := func(h, m int) *sky.Probe {
		t := at(h, m)
		return &sky.Probe{Path: filepath.Join(sky.ProbeDir("/data", t), "envmap.exr"), Time: t}
	}
	return &sky.DB{
		Root: "/data",
		Intervals: []*sky.Interval{
			{Path: "/data/20240620"},
			{Path: "/data/20240621", Date: at(0, 0), Probes: []*sky.Probe{probe(9, 0), probe(12, 0), probe(15, 30)}},
		},
	}
}

func newTestHandlers(runWarp RunWarpFunc) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		testDB(),
		runWarp,
		FormConfig{NadirDeg: 12.5, Order: 1, MaxOrder: 5},
		staticFS,
	)
}

func noopWarp(_ context.Context, req WarpRequest) (WarpResult, error) {
	return WarpResult{Probe: "p", Output: req.Date + "_" + req.Time + ".png"}, nil
}

func validWarpJSON() []byte {
	data, _ := json.Marshal(WarpRequest{"20240621", "120000", 10, 1})
	return data
}

func postWarp(h *Handlers, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/warp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.HandleWarp(w, req)
	return w
}

// waitIdle waits for the background job to clear the running flag.
func waitIdle(t *testing.T, h *Handlers) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.runningMu.Lock()
		running := h.running
		h.runningMu.Unlock()
		if !running {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("warp job did not finish")
}

// ---------- HandleWarp ----------

func TestHandleWarp_ValidPost(t *testing.T) {
	h := newTestHandlers(noopWarp)
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := postWarp(h, validWarpJSON())
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "started" {
		t.Errorf("response status = %q, want \"started\"", resp["status"])
	}

	evt := recv(t, ch)
	if evt.Kind != KindWarp {
		t.Fatalf("kind = %q, want %q (msg %q)", evt.Kind, KindWarp, evt.Msg)
	}
	data, _ := evt.Data.(map[string]any)
	if data["output"] != "20240621_120000.png" {
		t.Errorf("data = %#v", evt.Data)
	}
	waitIdle(t, h)
}

func TestHandleWarp_FailureBroadcast(t *testing.T) {
	h := newTestHandlers(func(context.Context, WarpRequest) (WarpResult, error) {
		return WarpResult{}, errors.New("probe unreadable")
	})
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	evt := recv(t, ch)
	if evt.Level != "error" || !strings.Contains(evt.Msg, "probe unreadable") {
		t.Errorf("event = %+v, want error mentioning the cause", evt)
	}
	waitIdle(t, h)
}

func TestHandleWarp_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(noopWarp)
	req := httptest.NewRequest(http.MethodGet, "/warp", nil)
	w := httptest.NewRecorder()

	h.HandleWarp(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleWarp_InvalidJSON(t *testing.T) {
	h := newTestHandlers(noopWarp)
	if w := postWarp(h, []byte("not json")); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleWarp_InvalidRequest(t *testing.T) {
	h := newTestHandlers(noopWarp)
	data, _ := json.Marshal(WarpRequest{"20240621", "120000", 95, 1})
	if w := postWarp(h, data); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleWarp_OversizedBody(t *testing.T) {
	h := newTestHandlers(noopWarp)
	big := strings.Repeat("x", 2<<20) // 2 MB
	if w := postWarp(h, []byte(big)); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d (oversized body)", w.Code, http.StatusBadRequest)
	}
}

func TestHandleWarp_NilRunner(t *testing.T) {
	h := newTestHandlers(nil)
	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleWarp_Concurrent(t *testing.T) {
	started := make(chan struct{})
	blocking := make(chan struct{})
	slowWarp := func(context.Context, WarpRequest) (WarpResult, error) {
		close(started)
		<-blocking
		return WarpResult{}, nil
	}
	h := newTestHandlers(slowWarp)

	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	<-started

	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusConflict {
		t.Errorf("concurrent request: status = %d, want %d", w.Code, http.StatusConflict)
	}

	close(blocking)
	waitIdle(t, h)
}

func TestHandleWarp_RateLimiting(t *testing.T) {
	h := newTestHandlers(noopWarp)

	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	waitIdle(t, h)

	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusTooManyRequests {
		t.Errorf("rate-limited request: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	h.runningMu.Lock()
	h.Cooldown = 0
	h.runningMu.Unlock()
	if w := postWarp(h, validWarpJSON()); w.Code != http.StatusAccepted {
		t.Errorf("after cooldown: status = %d, want %d", w.Code, http.StatusAccepted)
	}
	waitIdle(t, h)
}

// ---------- Dataset endpoints ----------

func TestHandleIntervals(t *testing.T) {
	h := newTestHandlers(noopWarp)
	w := httptest.NewRecorder()
	h.HandleIntervals(w, httptest.NewRequest(http.MethodGet, "/intervals", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var got []IntervalSummary
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []IntervalSummary{
		{Date: "20240620"},
		{Date: "20240621", Probes: 3, First: "09:00:00", Last: "15:30:00"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d intervals, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("interval %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHandleIntervals_NoDataset(t *testing.T) {
	h := newTestHandlers(noopWarp)
	h.DB = nil
	w := httptest.NewRecorder()
	h.HandleIntervals(w, httptest.NewRequest(http.MethodGet, "/intervals", nil))
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestHandleClosest(t *testing.T) {
	cases := []struct {
		name   string
		query  string
		status int
		time   string
	}{
		{"nearest_morning", "date=20240621&time=100000", http.StatusOK, "2024-06-21T09:00:00Z"},
		{"tie_goes_first", "date=20240621&time=103000", http.StatusOK, "2024-06-21T09:00:00Z"},
		{"afternoon", "date=20240621&time=230000", http.StatusOK, "2024-06-21T15:30:00Z"},
		{"bad_time", "date=20240621&time=25", http.StatusBadRequest, ""},
		{"unknown_date", "date=20230101&time=100000", http.StatusNotFound, ""},
		{"empty_interval", "date=20240620&time=100000", http.StatusNotFound, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(noopWarp)
			w := httptest.NewRecorder()
			h.HandleClosest(w, httptest.NewRequest(http.MethodGet, "/probes/closest?"+tc.query, nil))
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tc.status, w.Body.String())
			}
			if tc.status != http.StatusOK {
				return
			}
			var p ProbeSummary
			if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if p.Time != tc.time {
				t.Errorf("time = %s, want %s", p.Time, tc.time)
			}
		})
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(noopWarp)
	w := httptest.NewRecorder()
	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var fc FormConfig
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fc != (FormConfig{NadirDeg: 12.5, Order: 1, MaxOrder: 5}) {
		t.Errorf("config = %+v", fc)
	}
}

// ---------- ServeIndex / routes ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(noopWarp)
	w := httptest.NewRecorder()
	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServer_Routes(t *testing.T) {
	out := t.TempDir()
	if err := os.WriteFile(filepath.Join(out, "warped.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewServer(":0", newTestHandlers(noopWarp), out).Mux())
	defer srv.Close()

	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/", http.StatusOK},
		{http.MethodGet, "/config", http.StatusOK},
		{http.MethodGet, "/intervals", http.StatusOK},
		{http.MethodGet, "/static/index.html", http.StatusOK},
		{http.MethodGet, "/outputs/warped.png", http.StatusOK},
		{http.MethodGet, "/outputs/missing.png", http.StatusNotFound},
		{http.MethodGet, "/warp", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s %s: status = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.status)
		}
	}
}

func TestStaticFS_HasIndex(t *testing.T) {
	sfs, err := StaticFS()
	if err != nil {
		t.Fatal(err)
	}
	f, err := sfs.Open("index.html")
	if err != nil {
		t.Fatalf("embedded index.html: %v", err)
	}
	f.Close()
}
