package competition

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/dispatch"
	"github.com/ocx/backend/internal/rating"
	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu         sync.Mutex
	statuses   map[string]core.CompetitionStatus
	agents     map[string]*core.Agent
	events     []*core.Event
	transErr   error
}

func newFakeStore(competitionID string, status core.CompetitionStatus, agents ...*core.Agent) *fakeStore {
	s := &fakeStore{
		statuses: map[string]core.CompetitionStatus{competitionID: status},
		agents:   make(map[string]*core.Agent),
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *fakeStore) GetCompetition(ctx context.Context, id string) (*core.Competition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[id]
	if !ok {
		return nil, core.ErrNotFound("competition %q", id)
	}
	return &core.Competition{ID: id, Status: status, TaskIDs: []string{"t1"}, DomainTag: "coding"}, nil
}

func (s *fakeStore) ListParticipants(ctx context.Context, competitionID string) ([]core.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Participant, 0, len(s.agents))
	for id := range s.agents {
		out = append(out, core.Participant{CompetitionID: competitionID, AgentID: id})
	}
	return out, nil
}

func (s *fakeStore) GetAgent(ctx context.Context, agentID string) (*core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[agentID]
	if !ok {
		return nil, core.ErrNotFound("agent %q", agentID)
	}
	return a, nil
}

func (s *fakeStore) InsertEvent(ctx context.Context, ev *core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) TransitionCompetition(ctx context.Context, id string, from, to core.CompetitionStatus) error {
	if s.transErr != nil {
		return s.transErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses[id] != from {
		return core.ErrState("competition %q is %q, not %q", id, s.statuses[id], from)
	}
	s.statuses[id] = to
	return nil
}

func (s *fakeStore) status(id string) core.CompetitionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

type fakeSnapshotStore struct {
	mu      sync.Mutex
	saved   []*core.Snapshot
	deleted []string
}

func (f *fakeSnapshotStore) SaveSnapshot(ctx context.Context, snap *core.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, snap)
	return nil
}

func (f *fakeSnapshotStore) DeleteSnapshot(ctx context.Context, competitionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, competitionID)
	return nil
}

func (f *fakeSnapshotStore) ListSnapshots(ctx context.Context) ([]*core.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved, nil
}

// fakeDispatcher returns a canned result per agent, or a default if unset.
type fakeDispatcher struct {
	mu       sync.Mutex
	perAgent map[string]*dispatch.TurnResult
	calls    int
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, agent *core.Agent, payload *dispatch.TurnPayload) *dispatch.TurnResult {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if res, ok := f.perAgent[agent.ID]; ok {
		return res
	}
	return &dispatch.TurnResult{Kind: core.TurnOK, Response: &dispatch.TurnResponse{Done: true}, CompletedAt: time.Now()}
}

type fakeRater struct {
	mu        sync.Mutex
	called    bool
	standings []rating.ParticipantStanding
}

func (f *fakeRater) ApplyCompetitionResult(ctx context.Context, competitionID, domainTag string, standings []rating.ParticipantStanding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	f.standings = standings
}

type fakeMarketResolver struct {
	mu            sync.Mutex
	resolvedID    string
	resolvedWin   string
	cancelledID   string
}

func (f *fakeMarketResolver) ResolveMarket(marketID, winningOutcomeID string, portfolios map[string]*core.VirtualPortfolio) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolvedID = marketID
	f.resolvedWin = winningOutcomeID
	return nil
}

func (f *fakeMarketResolver) CancelMarket(marketID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledID = marketID
	return nil
}

type fakePortfolios struct{}

func (fakePortfolios) PortfoliosForMarket(ctx context.Context, marketID string) (map[string]*core.VirtualPortfolio, error) {
	return map[string]*core.VirtualPortfolio{}, nil
}

type fakeEmitter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeEmitter) Emit(eventType, competitionID string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func quickTask() *core.Task {
	return &core.Task{ID: "t1", ScoringMethod: core.ScoreByTime, MaxScore: 100, TimeLimitSec: 5}
}

func TestController_HappyPath_CompletesAndRatesAndEmits(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionRunning,
		&core.Agent{ID: "agent1", Kind: core.AgentKindWebhook},
		&core.Agent{ID: "agent2", Kind: core.AgentKindWebhook},
	)
	snaps := &fakeSnapshotStore{}
	disp := &fakeDispatcher{perAgent: map[string]*dispatch.TurnResult{
		"agent1": {Kind: core.TurnOK, Response: &dispatch.TurnResponse{Done: true}, CompletedAt: time.Now()},
		"agent2": {Kind: core.TurnOK, Response: &dispatch.TurnResponse{Done: true}, CompletedAt: time.Now()},
	}}
	rater := &fakeRater{}
	market := &fakeMarketResolver{}
	emitter := &fakeEmitter{}

	ctrl := NewController(Config{
		Competition:  &core.Competition{ID: "c1", Status: core.CompetitionRunning, DomainTag: "coding"},
		Participants: []core.Participant{{AgentID: "agent1"}, {AgentID: "agent2"}},
		Tasks:        []*core.Task{quickTask()},
		MarketID:     "m1",
		Store:        store,
		Snapshots:    snaps,
		Dispatcher:   disp,
		Rater:        rater,
		Market:       market,
		Portfolios:   fakePortfolios{},
		Emitter:      emitter,
	})

	ctrl.Run(context.Background())

	assert.Equal(t, core.CompetitionCompleted, store.status("c1"))
	assert.True(t, rater.called)
	assert.Equal(t, "m1", market.resolvedID)
	assert.Contains(t, emitter.events, "competition:start")
	assert.Contains(t, emitter.events, "competition:end")
	assert.Contains(t, emitter.events, "leaderboard:update")
	assert.NotEmpty(t, snaps.deleted)
}

func TestController_FatalErrorRemovesAgentButKeepsScore(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionRunning,
		&core.Agent{ID: "agent1", Kind: core.AgentKindWebhook},
		&core.Agent{ID: "agent2", Kind: core.AgentKindWebhook},
	)
	disp := &fakeDispatcher{perAgent: map[string]*dispatch.TurnResult{
		"agent1": {Kind: core.TurnTimeout, ErrorMessage: "timed out", CompletedAt: time.Now()},
		"agent2": {Kind: core.TurnOK, Response: &dispatch.TurnResponse{Done: true}, CompletedAt: time.Now()},
	}}

	ctrl := NewController(Config{
		Competition:  &core.Competition{ID: "c1", Status: core.CompetitionRunning},
		Participants: []core.Participant{{AgentID: "agent1"}, {AgentID: "agent2"}},
		Tasks:        []*core.Task{quickTask(), quickTask()},
		Store:        store,
		Snapshots:    &fakeSnapshotStore{},
		Dispatcher:   disp,
		Rater:        &fakeRater{},
		Emitter:      &fakeEmitter{},
	})

	ctrl.Run(context.Background())

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.True(t, ctrl.fatallyErrored["agent1"])
	assert.False(t, ctrl.fatallyErrored["agent2"])
	assert.Contains(t, ctrl.leaderboard, "agent1")
	assert.Equal(t, 0.0, ctrl.leaderboard["agent1"].TotalScore)
}

func TestController_Cancel_TransitionsToCancelledAndCancelsMarket(t *testing.T) {
	store := newFakeStore("c1", core.CompetitionRunning, &core.Agent{ID: "agent1", Kind: core.AgentKindWebhook})
	market := &fakeMarketResolver{}

	blockCh := make(chan struct{})
	disp := &blockingDispatcher{block: blockCh}

	ctrl := NewController(Config{
		Competition:  &core.Competition{ID: "c1", Status: core.CompetitionRunning},
		Participants: []core.Participant{{AgentID: "agent1"}},
		Tasks:        []*core.Task{{ID: "t1", ScoringMethod: core.ScoreByTime, MaxScore: 100, TimeLimitSec: 5}},
		MarketID:     "m1",
		Store:        store,
		Snapshots:    &fakeSnapshotStore{},
		Dispatcher:   disp,
		Rater:        &fakeRater{},
		Market:       market,
		Emitter:      &fakeEmitter{},
	})

	done := make(chan struct{})
	go func() {
		ctrl.Run(context.Background())
		close(done)
	}()

	ctrl.Cancel()
	close(blockCh)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not finish after cancel")
	}

	assert.Equal(t, core.CompetitionCancelled, store.status("c1"))
	assert.Equal(t, "m1", market.cancelledID)
}

type blockingDispatcher struct{ block chan struct{} }

func (b *blockingDispatcher) Dispatch(ctx context.Context, agent *core.Agent, payload *dispatch.TurnPayload) *dispatch.TurnResult {
	select {
	case <-b.block:
	case <-ctx.Done():
	}
	return &dispatch.TurnResult{Kind: core.TurnOK, Response: &dispatch.TurnResponse{Done: false}, CompletedAt: time.Now()}
}
