// Package api is the thin REST surface over the competition orchestration
// core: starting and cancelling competitions, reading their current state
// and recent event history, and reading a meta-market's live odds.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/events"
	"github.com/ocx/backend/internal/market"
)

// CompetitionStore is the read surface the router needs for GET
// /competitions/{id}. Implemented by internal/database.DurableStore.
type CompetitionStore interface {
	GetCompetition(ctx context.Context, id string) (*core.Competition, error)
}

// CompetitionStarter is the subset of internal/competition.Manager the
// router drives.
type CompetitionStarter interface {
	Start(ctx context.Context, competitionID, marketID string) error
	Cancel(competitionID string) error
	ActiveCount() int
}

// New builds the router. bus may be nil, in which case
// /competitions/{id}/events always returns an empty history.
func New(mgr CompetitionStarter, store CompetitionStore, engine *market.Engine, bus *events.Bus) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/health", handleHealth(mgr)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	comp := r.PathPrefix("/api/v1/competitions/{id}").Subrouter()
	comp.HandleFunc("", handleGetCompetition(store)).Methods(http.MethodGet)
	comp.HandleFunc("/start", handleStart(mgr)).Methods(http.MethodPost)
	comp.HandleFunc("/cancel", handleCancel(mgr)).Methods(http.MethodPost)
	comp.HandleFunc("/events", handleEvents(bus)).Methods(http.MethodGet)

	r.HandleFunc("/api/v1/markets/{id}", handleGetMarket(engine)).Methods(http.MethodGet)

	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request", "method", r.Method, "path", r.URL.Path, "elapsed_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func handleHealth(mgr CompetitionStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"active_contests": mgr.ActiveCount(),
		})
	}
}

func handleGetCompetition(store CompetitionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		comp, err := store.GetCompetition(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, comp)
	}
}

func handleStart(mgr CompetitionStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		marketID := r.URL.Query().Get("market_id")
		if err := mgr.Start(r.Context(), id, marketID); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
	}
}

func handleCancel(mgr CompetitionStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := mgr.Cancel(id); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

func handleEvents(bus *events.Bus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if bus == nil {
			writeJSON(w, http.StatusOK, []interface{}{})
			return
		}
		writeJSON(w, http.StatusOK, bus.History(events.HistoryFilter{CompetitionID: id}))
	}
}

func handleGetMarket(engine *market.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		m, err := engine.Get(id)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
