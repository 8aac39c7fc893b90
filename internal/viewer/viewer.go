// Package viewer is the list-and-detail surface over the event store.
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"notification-inspector/internal/events"
	"notification-inspector/internal/logging"
	"notification-inspector/internal/status"
)

// Exporter writes a snapshot somewhere durable.
type Exporter func(ctx context.Context, snap events.Snapshot) (string, error)

type Server struct {
	store  *events.Store
	status *status.Tracker
	export Exporter
	log    *logging.Logger
}

// Status is the body of GET /status.
type Status struct {
	State     status.ConnectionState `json:"state"`
	Enabled   bool                   `json:"enabled"`
	Connected bool                   `json:"connected"`
	Count     int                    `json:"count"`
}

func New(store *events.Store, st *status.Tracker, export Exporter, log *logging.Logger) *Server {
	return &Server{store: store, status: st, export: export, log: log}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /events", s.list)
	mux.HandleFunc("DELETE /events", s.clear)
	mux.HandleFunc("GET /events/stream", s.stream)
	mux.HandleFunc("GET /events/{id}", s.detail)
	mux.HandleFunc("GET /status", s.statusHandler)
	mux.HandleFunc("POST /export", s.exportHandler)
	return mux
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.log.Info("viewer listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("key"); key != "" {
		e, ok := s.store.FindByKey(key)
		if !ok {
			writeError(w, http.StatusNotFound, "no event with key "+strconv.Quote(key))
			return
		}
		s.writeEvent(w, r, e)
		return
	}

	snap := s.store.Snapshot()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n < len(snap.Events) {
			snap.Events = snap.Events[:n]
		}
	}
	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, ListText(snap.Events, time.Now()))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) detail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "event id must be an integer")
		return
	}
	e, ok := s.store.FindByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("event %d not found", id))
		return
	}
	s.writeEvent(w, r, e)
}

func (s *Server) writeEvent(w http.ResponseWriter, r *http.Request, e events.Event) {
	if wantsText(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, e.DebugString())
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	s.store.Clear()
	s.log.Info("events cleared")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := Status{State: status.Disabled, Count: s.store.Count()}
	if s.status != nil {
		st.State = s.status.State()
		st.Enabled = s.status.Enabled.Get()
		st.Connected = s.status.Connected.Get()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	if s.export == nil {
		writeError(w, http.StatusNotImplemented, "export not configured")
		return
	}
	snap := s.store.Snapshot()
	path, err := s.export(r.Context(), snap)
	if err != nil {
		s.log.Error("export failed", "err", err)
		writeError(w, http.StatusInternalServerError, "export failed: "+err.Error())
		return
	}
	s.log.Info("events exported", "path", path, "count", len(snap.Events))
	writeJSON(w, http.StatusOK, map[string]any{"path": path, "count": len(snap.Events)})
}

// stream pushes a full snapshot as a server-sent event on every change.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.store.Watch(r.Context(), func(snap events.Snapshot) {
		b, err := json.Marshal(snap)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Version, b)
		flusher.Flush()
	})
}

// ListText renders one line per event for terminal use.
func ListText(evts []events.Event, now time.Time) string {
	if len(evts) == 0 {
		return "no notifications captured\n"
	}
	var b strings.Builder
	for _, e := range evts {
		fmt.Fprintf(&b, "#%-5d %s  %-7s  %-28s  %s  (%s)\n",
			e.ID, e.FormatCaptureTime(), e.Type, truncate(e.Package, 28), truncate(e.Summary(), 60),
			humanize.RelTime(e.CaptureTime, now, "ago", "from now"))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func wantsText(r *http.Request) bool {
	if r.URL.Query().Get("format") == "text" {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Accept"), "text/plain")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
