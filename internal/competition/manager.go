package competition

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ocx/backend/internal/core"
)

// Manager is the process-wide scheduler: it admits new competitions up to a
// fixed concurrency cap, owns every active Controller, and reconciles
// snapshots left behind by a crashed prior process on startup.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Controller

	maxConcurrent int

	store      Store
	snapshots  SnapshotStore
	tasks      TaskResolver
	dispatcher Dispatcher
	rater      RatingUpdater
	market     MarketResolver
	portfolios PortfolioLookup
	emitter    Emitter

	logger *log.Logger
}

// NewManager builds a Manager. maxConcurrent bounds how many competitions may
// run at once (config.SchedulerConfig.MaxConcurrentCompetitions owns
// defaulting a zero value before it reaches here); the caller is typically
// cmd/server wiring up every concrete adapter the interfaces above describe.
func NewManager(maxConcurrent int, store Store, snapshots SnapshotStore, tasks TaskResolver, dispatcher Dispatcher, rater RatingUpdater, market MarketResolver, portfolios PortfolioLookup, emitter Emitter) *Manager {
	return &Manager{
		active:        make(map[string]*Controller),
		maxConcurrent: maxConcurrent,
		store:         store,
		snapshots:     snapshots,
		tasks:         tasks,
		dispatcher:    dispatcher,
		rater:         rater,
		market:        market,
		portfolios:    portfolios,
		emitter:       emitter,
		logger:        log.New(log.Writer(), "[SCHEDULER] ", log.LstdFlags),
	}
}

// Start admits competitionID into the scheduler: validates capacity and
// participant count, resolves its tasks, performs the lobby→running
// transition, and launches its Controller in its own goroutine. marketID may
// be empty if the competition has no linked meta-market.
func (m *Manager) Start(ctx context.Context, competitionID, marketID string) error {
	m.mu.Lock()
	if len(m.active) >= m.maxConcurrent {
		m.mu.Unlock()
		return core.ErrCapacity("scheduler at capacity (%d active)", m.maxConcurrent)
	}
	if _, exists := m.active[competitionID]; exists {
		m.mu.Unlock()
		return core.ErrDuplicate("competition %q is already active", competitionID)
	}
	m.mu.Unlock()

	comp, err := m.store.GetCompetition(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("load competition: %w", err)
	}
	if comp.Status != core.CompetitionLobby {
		return core.ErrState("competition %q is %q, not lobby", competitionID, comp.Status)
	}

	participants, err := m.store.ListParticipants(ctx, competitionID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	if len(participants) < core.MinParticipants {
		return core.ErrValidation("competition %q needs at least %d participants, has %d", competitionID, core.MinParticipants, len(participants))
	}

	tasks, err := m.tasks.MustResolveAll(comp.TaskIDs)
	if err != nil {
		return fmt.Errorf("resolve tasks: %w", err)
	}
	if len(tasks) == 0 {
		return core.ErrValidation("competition %q declares no tasks", competitionID)
	}

	if err := m.store.TransitionCompetition(ctx, competitionID, core.CompetitionLobby, core.CompetitionRunning); err != nil {
		return fmt.Errorf("transition to running: %w", err)
	}

	ctrl := NewController(Config{
		Competition:  comp,
		Participants: participants,
		Tasks:        tasks,
		MarketID:     marketID,
		Store:        m.store,
		Snapshots:    m.snapshots,
		Dispatcher:   m.dispatcher,
		Rater:        m.rater,
		Market:       m.market,
		Portfolios:   m.portfolios,
		Emitter:      m.emitter,
	})

	m.mu.Lock()
	m.active[competitionID] = ctrl
	m.mu.Unlock()

	go func() {
		ctrl.Run(ctx)
		m.mu.Lock()
		delete(m.active, competitionID)
		m.mu.Unlock()
	}()

	return nil
}

// Cancel requests cancellation of an active competition. Returns
// core.KindNotFound if it isn't currently active.
func (m *Manager) Cancel(competitionID string) error {
	m.mu.Lock()
	ctrl, ok := m.active[competitionID]
	m.mu.Unlock()
	if !ok {
		return core.ErrNotFound("competition %q is not active", competitionID)
	}
	ctrl.Cancel()
	return nil
}

// CancelAll requests cancellation of every active competition, e.g. on
// graceful shutdown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.active))
	for _, ctrl := range m.active {
		controllers = append(controllers, ctrl)
	}
	m.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Cancel()
	}
}

// GetActive returns the running Controller for a competition, if any.
func (m *Manager) GetActive(competitionID string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.active[competitionID]
	return ctrl, ok
}

// ActiveCount reports how many competitions are currently running.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// RecoverAtStartup reconciles snapshots left behind by a crashed prior
// process: a competition can't resume mid-way because dispatched turn
// results aren't durable, so every snapshot found is treated as abandoned —
// its competition row is forced to cancelled and the snapshot is deleted.
func (m *Manager) RecoverAtStartup(ctx context.Context) error {
	snaps, err := m.snapshots.ListSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}

	for _, snap := range snaps {
		if err := m.store.TransitionCompetition(ctx, snap.CompetitionID, core.CompetitionRunning, core.CompetitionCancelled); err != nil {
			// It may have been recorded mid-lobby (snapshotted right after
			// start before the running transition landed); try that too.
			if tErr := m.store.TransitionCompetition(ctx, snap.CompetitionID, core.CompetitionLobby, core.CompetitionCancelled); tErr != nil {
				m.logger.Printf("recovery: competition %q already settled, leaving as-is", snap.CompetitionID)
			}
		}
		if err := m.snapshots.DeleteSnapshot(ctx, snap.CompetitionID); err != nil {
			m.logger.Printf("recovery: failed to delete snapshot for %q: %v", snap.CompetitionID, err)
		}
		m.logger.Printf("recovery: cancelled abandoned competition %q (last turn index %d)", snap.CompetitionID, snap.TurnIndex)
	}

	return nil
}
