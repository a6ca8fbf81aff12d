package market

import (
	"context"
	"testing"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompetitionLookup struct {
	status   core.CompetitionStatus
	winnerID string
	endedAt  time.Time
	err      error
}

func (f *fakeCompetitionLookup) LookupOutcome(ctx context.Context, competitionID string) (core.CompetitionStatus, string, time.Time, error) {
	return f.status, f.winnerID, f.endedAt, f.err
}

type fakePortfolioLookup struct {
	portfolios map[string]*core.VirtualPortfolio
}

func (f *fakePortfolioLookup) PortfoliosForMarket(ctx context.Context, marketID string) (map[string]*core.VirtualPortfolio, error) {
	return f.portfolios, nil
}

func TestAutoResolver_ResolvesStaleCompletedCompetition(t *testing.T) {
	e := NewEngine()
	m := twoAgentMarket(t, e)

	lookup := &fakeCompetitionLookup{status: core.CompetitionCompleted, winnerID: "agent1", endedAt: time.Now().Add(-26 * time.Hour)}
	portfolios := &fakePortfolioLookup{portfolios: map[string]*core.VirtualPortfolio{}}

	r := NewAutoResolver(e, lookup, portfolios, 25, 30)
	r.Sweep(context.Background())

	resolved, err := e.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MarketResolved, resolved.Status)
	assert.Equal(t, "agent1", resolved.ResolvedOutcome)
}

func TestAutoResolver_CancelsStaleCancelledCompetition(t *testing.T) {
	e := NewEngine()
	m := twoAgentMarket(t, e)

	lookup := &fakeCompetitionLookup{status: core.CompetitionCancelled, endedAt: time.Now().Add(-26 * time.Hour)}
	portfolios := &fakePortfolioLookup{portfolios: map[string]*core.VirtualPortfolio{}}

	r := NewAutoResolver(e, lookup, portfolios, 25, 30)
	r.Sweep(context.Background())

	cancelled, err := e.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MarketCancelled, cancelled.Status)
}

func TestAutoResolver_SkipsNotYetStale(t *testing.T) {
	e := NewEngine()
	m := twoAgentMarket(t, e)

	lookup := &fakeCompetitionLookup{status: core.CompetitionCompleted, winnerID: "agent1", endedAt: time.Now().Add(-1 * time.Hour)}
	portfolios := &fakePortfolioLookup{portfolios: map[string]*core.VirtualPortfolio{}}

	r := NewAutoResolver(e, lookup, portfolios, 25, 30)
	r.Sweep(context.Background())

	stillOpen, err := e.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MarketOpen, stillOpen.Status)
}

func TestAutoResolver_SkipsStillRunningCompetition(t *testing.T) {
	e := NewEngine()
	m := twoAgentMarket(t, e)

	lookup := &fakeCompetitionLookup{status: core.CompetitionRunning, endedAt: time.Time{}}
	portfolios := &fakePortfolioLookup{portfolios: map[string]*core.VirtualPortfolio{}}

	r := NewAutoResolver(e, lookup, portfolios, 25, 30)
	r.Sweep(context.Background())

	stillOpen, err := e.Get(m.ID)
	require.NoError(t, err)
	assert.Equal(t, core.MarketOpen, stillOpen.Status)
}
