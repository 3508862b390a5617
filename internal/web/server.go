package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/skydb/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr      string
	handlers  *Handlers
	outputDir string
}

// NewServer creates a server for addr. Warp outputs under outputDir are
// served at /outputs/ when outputDir is set.
func NewServer(addr string, handlers *Handlers, outputDir string) *Server {
	return &Server{
		addr:      addr,
		handlers:  handlers,
		outputDir: outputDir,
	}
}

// StaticFS returns the embedded front-end.
func StaticFS() (fs.FS, error) {
	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("web: static fs: %w", err)
	}
	return sub, nil
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /warp", s.handlers.HandleWarp)
	mux.HandleFunc("GET /config", s.handlers.HandleConfig)
	mux.HandleFunc("GET /intervals", s.handlers.HandleIntervals)
	mux.HandleFunc("GET /probes/closest", s.handlers.HandleClosest)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	if s.outputDir != "" {
		mux.Handle("GET /outputs/", http.StripPrefix("/outputs/", http.FileServer(http.Dir(s.outputDir))))
	}
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully. Background warp jobs inherit ctx.
func (s *Server) Run(ctx context.Context) error {
	s.handlers.ctx = ctx
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
