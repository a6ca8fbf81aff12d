package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/events"
	"github.com/ocx/backend/internal/market"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	comp *core.Competition
	err  error
}

func (f *fakeStore) GetCompetition(ctx context.Context, id string) (*core.Competition, error) {
	return f.comp, f.err
}

type fakeManager struct {
	startErr  error
	cancelErr error
	active    int
	started   string
}

func (f *fakeManager) Start(ctx context.Context, competitionID, marketID string) error {
	f.started = competitionID
	return f.startErr
}

func (f *fakeManager) Cancel(competitionID string) error { return f.cancelErr }
func (f *fakeManager) ActiveCount() int                  { return f.active }

func TestHandleHealth(t *testing.T) {
	mgr := &fakeManager{active: 2}
	router := New(mgr, &fakeStore{}, market.NewEngine(), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active_contests":2`)
}

func TestHandleGetCompetition_NotFound(t *testing.T) {
	store := &fakeStore{err: core.ErrNotFound("competition %q", "c1")}
	router := New(&fakeManager{}, store, market.NewEngine(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/competitions/c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetCompetition_Found(t *testing.T) {
	store := &fakeStore{comp: &core.Competition{ID: "c1", Name: "Round 1"}}
	router := New(&fakeManager{}, store, market.NewEngine(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/competitions/c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Round 1")
}

func TestHandleStart_SuccessAndConflict(t *testing.T) {
	mgr := &fakeManager{}
	router := New(mgr, &fakeStore{}, market.NewEngine(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/competitions/c1/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "c1", mgr.started)

	mgr.startErr = core.ErrNotFound("competition %q", "c1")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestHandleEvents_NilBusReturnsEmpty(t *testing.T) {
	router := New(&fakeManager{}, &fakeStore{}, market.NewEngine(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/competitions/c1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandleEvents_FiltersByCompetition(t *testing.T) {
	bus := events.NewBus(10, time.Minute)
	bus.Emit("competition.started", "c1", map[string]interface{}{})
	bus.Emit("competition.started", "other-comp", map[string]interface{}{})

	router := New(&fakeManager{}, &fakeStore{}, market.NewEngine(), bus)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/competitions/c1/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "c1")
	assert.NotContains(t, rec.Body.String(), "other-comp")
}

func TestHandleGetMarket_NotFound(t *testing.T) {
	router := New(&fakeManager{}, &fakeStore{}, market.NewEngine(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/markets/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
