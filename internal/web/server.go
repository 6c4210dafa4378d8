// Package web provides an HTTP status server for the roast-probe daemon.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/sweeney/roast-probe/internal/status"
)

// Event stream pacing.
const (
	DefaultEventInterval = 250 * time.Millisecond
	keepaliveInterval    = 15 * time.Second
)

// Server serves the status page, its JSON views and a live telemetry stream.
type Server struct {
	http    *http.Server
	tracker *status.Tracker

	// EventInterval is the minimum gap between /events messages.
	EventInterval time.Duration

	// Cancelled on Shutdown so open event streams end instead of holding it up.
	base   context.Context
	cancel context.CancelFunc
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker) *Server {
	s := &Server{tracker: tracker, EventInterval: DefaultEventInterval}
	s.base, s.cancel = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /index.html", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /telemetry.json", s.handleTelemetry)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.base },
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.http.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.http.Serve(ln)
}

// Shutdown ends open event streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, s.tracker.Snapshot())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, status.FormatJSON(s.tracker.Snapshot()))
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, formatTelemetry(s.tracker.Snapshot()))
}

func writeJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// handleEvents streams the telemetry JSON as server-sent events: the current
// values on connect, then on every change, at most once per EventInterval.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")

	ctx := r.Context()
	changes, stop := s.tracker.Changes()
	defer stop()

	interval := s.EventInterval
	if interval <= 0 {
		interval = DefaultEventInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	send := func() bool {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", formatTelemetry(s.tracker.Snapshot())); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-changes:
			if limiter.Wait(ctx) != nil || !send() {
				return
			}
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
