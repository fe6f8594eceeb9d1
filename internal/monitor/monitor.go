package monitor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phuslu/log"

	"nuha.dev/whereabouts/internal/store"
)

// Monitor serves a read-only JSON status page for operators. It never
// touches the tracking protocol.
type Monitor struct {
	addr  string
	store *store.Store
	stats *Stats
	log   log.Logger
}

type status struct {
	Identities  int64 `json:"identities"`
	Connections int64 `json:"connections"`
	Failures    int64 `json:"failures"`
	Reaped      int64 `json:"reaped"`
}

func New(addr string, st *store.Store, stats *Stats) *Monitor {
	m := &Monitor{addr: addr, store: st, stats: stats}
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "monitor").Value()
	return m
}

func (m *Monitor) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", m.getStatus)
	return r
}

func (m *Monitor) getStatus(w http.ResponseWriter, r *http.Request) {
	count, err := m.store.Count(r.Context())
	if err != nil {
		m.log.Error().Err(err).Msg("counting identities")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s := status{
		Identities:  count,
		Connections: m.stats.Connections.Load(),
		Failures:    m.stats.Failures.Load(),
		Reaped:      m.stats.Reaped.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s); err != nil {
		m.log.Error().Err(err).Msg("writing status")
	}
}

// Run blocks serving the status endpoint.
func (m *Monitor) Run() error {
	m.log.Info().Msgf("starting monitor on %s", m.addr)
	srv := &http.Server{
		Addr:         m.addr,
		Handler:      m.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
