package rating

import (
	"context"
	"testing"

	"github.com/ocx/backend/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	agents  map[string]*core.Agent
	history []*core.EloHistory
}

func newFakeStore() *fakeStore {
	return &fakeStore{agents: make(map[string]*core.Agent)}
}

func (f *fakeStore) GetAgent(ctx context.Context, agentID string) (*core.Agent, error) {
	a, ok := f.agents[agentID]
	if !ok {
		return nil, core.ErrNotFound("agent %q not found", agentID)
	}
	return a, nil
}

func (f *fakeStore) UpdateAgentRating(ctx context.Context, agentID string, rating, deviation, volatility float64) error {
	a, ok := f.agents[agentID]
	if !ok {
		return core.ErrNotFound("agent %q not found", agentID)
	}
	a.Rating, a.Deviation, a.Volatility = rating, deviation, volatility
	return nil
}

func (f *fakeStore) InsertEloHistory(ctx context.Context, h *core.EloHistory) error {
	f.history = append(f.history, h)
	return nil
}

func TestService_ApplyCompetitionResult_UpdatesRatingsAndHistory(t *testing.T) {
	store := newFakeStore()
	store.agents["a1"] = &core.Agent{ID: "a1", Rating: 1500, Deviation: 200, Volatility: 0.06}
	store.agents["a2"] = &core.Agent{ID: "a2", Rating: 1500, Deviation: 200, Volatility: 0.06}
	store.agents["a3"] = &core.Agent{ID: "a3", Rating: 1500, Deviation: 200, Volatility: 0.06}

	svc := NewService(store, nil, 0.5)
	svc.ApplyCompetitionResult(context.Background(), "comp-1", "coding", []ParticipantStanding{
		{AgentID: "a1", FinalRank: 1},
		{AgentID: "a2", FinalRank: 2},
		{AgentID: "a3", FinalRank: 3},
	})

	assert.Greater(t, store.agents["a1"].Rating, 1500.0)
	assert.Less(t, store.agents["a3"].Rating, 1500.0)
	require.Len(t, store.history, 3)
}

func TestService_ApplyCompetitionResult_SkipsOnSingleParticipant(t *testing.T) {
	store := newFakeStore()
	store.agents["a1"] = &core.Agent{ID: "a1", Rating: 1500, Deviation: 200, Volatility: 0.06}

	svc := NewService(store, nil, 0.5)
	svc.ApplyCompetitionResult(context.Background(), "comp-1", "coding", []ParticipantStanding{
		{AgentID: "a1", FinalRank: 1},
	})

	assert.Equal(t, 1500.0, store.agents["a1"].Rating)
	assert.Empty(t, store.history)
}

func TestService_ApplyCompetitionResult_ToleratesMissingAgent(t *testing.T) {
	store := newFakeStore()
	store.agents["a1"] = &core.Agent{ID: "a1", Rating: 1500, Deviation: 200, Volatility: 0.06}

	svc := NewService(store, nil, 0.5)
	svc.ApplyCompetitionResult(context.Background(), "comp-1", "coding", []ParticipantStanding{
		{AgentID: "a1", FinalRank: 1},
		{AgentID: "missing", FinalRank: 2},
	})

	require.Len(t, store.history, 1)
	assert.Equal(t, "a1", store.history[0].AgentID)
}
