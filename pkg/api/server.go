// Package api exposes the ledger and unit summaries over read-only HTTP and
// a websocket stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/srodi/waitlens/pkg/types"
	"github.com/srodi/waitlens/pkg/units"
)

// Store is the read side of the ledger.
type Store interface {
	Capacity() int
	Len() int
	IDs() []uint32
	Lookup(id uint32) (types.StatsRecord, bool)
	Counters() types.LedgerCounters
}

// Unit couples a reducer with how its values are scaled.
type Unit struct {
	Reducer *units.Reducer
	Scale   string
}

// Options wires a Server.
type Options struct {
	InstanceID string
	Store      Store
	Units      []Unit
	// QueueDrops reports events the dispatcher dropped; optional.
	QueueDrops     func() uint64
	StreamInterval time.Duration
	Log            *slog.Logger
}

// Server serves the API.
type Server struct {
	opts     Options
	units    map[string]Unit
	hub      *Hub
	log      *slog.Logger
	router   *mux.Router
	upgrader websocket.Upgrader
}

// NewServer builds the router; nothing listens until Start.
func NewServer(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.StreamInterval <= 0 {
		opts.StreamInterval = 2 * time.Second
	}
	s := &Server{
		opts:  opts,
		units: make(map[string]Unit, len(opts.Units)),
		hub:   NewHub(opts.Log),
		log:   opts.Log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	for _, u := range opts.Units {
		s.units[u.Reducer.Table().Name()] = u
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/subjects", s.listSubjects).Methods(http.MethodGet)
	api.HandleFunc("/subjects/{pid:[0-9]+}", s.getSubject).Methods(http.MethodGet)
	api.HandleFunc("/counters", s.counters).Methods(http.MethodGet)
	api.HandleFunc("/units", s.listUnits).Methods(http.MethodGet)
	api.HandleFunc("/units/{table}", s.listUnitRecords).Methods(http.MethodGet)
	api.HandleFunc("/units/{table}/{id:[0-9]+}", s.getUnit).Methods(http.MethodGet)
	api.HandleFunc("/summary/{table}", s.getSummary).Methods(http.MethodGet)
	api.HandleFunc("/stream", s.stream)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	// a method mismatch inside the subrouter would otherwise fall through to
	// the root NotFoundHandler
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the API, the hub and the summary stream on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.hub.Run(ctx)
	go s.publish(ctx)

	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting http server", "address", ln.Addr().String(), "instance", s.opts.InstanceID)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
