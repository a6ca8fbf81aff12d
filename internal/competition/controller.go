// Package competition runs the per-competition state machine: a turn loop
// that dispatches each active participant through each declared task up to
// its time limit, scores every response, rebuilds and publishes the
// leaderboard, and settles rating and meta-market state on completion or
// cancellation.
package competition

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/dispatch"
	"github.com/ocx/backend/internal/rating"
	"github.com/ocx/backend/internal/scoring"
)

// Controller drives one competition's lifecycle from running to completed or
// cancelled. One Controller instance exists per active competition; it is
// constructed and owned by a Manager.
type Controller struct {
	competition *core.Competition
	tasks       []*core.Task
	marketID    string // empty if no linked meta-market

	store      Store
	snapshots  SnapshotStore
	dispatcher Dispatcher
	rater      RatingUpdater
	market     MarketResolver
	portfolios PortfolioLookup
	emitter    Emitter
	logger     *log.Logger

	mu             sync.Mutex
	leaderboard    map[string]*core.LeaderboardEntry
	active         map[string]bool
	fatallyErrored map[string]bool
	turnIndex      int

	cancelCh   chan struct{}
	cancelOnce sync.Once
	doneCh     chan struct{}
	cancelled  bool
}

// Config bundles everything a Controller needs beyond the competition row
// itself.
type Config struct {
	Competition *core.Competition
	Participants []core.Participant
	Tasks        []*core.Task
	MarketID     string

	Store      Store
	Snapshots  SnapshotStore
	Dispatcher Dispatcher
	Rater      RatingUpdater
	Market     MarketResolver
	Portfolios PortfolioLookup
	Emitter    Emitter
}

// NewController builds a Controller ready to Run. The competition row must
// already be in CompetitionRunning status; the Manager is responsible for
// performing that transition before construction.
func NewController(cfg Config) *Controller {
	leaderboard := make(map[string]*core.LeaderboardEntry, len(cfg.Participants))
	active := make(map[string]bool, len(cfg.Participants))
	for _, p := range cfg.Participants {
		leaderboard[p.AgentID] = &core.LeaderboardEntry{AgentID: p.AgentID}
		active[p.AgentID] = true
	}

	return &Controller{
		competition:    cfg.Competition,
		tasks:          cfg.Tasks,
		marketID:       cfg.MarketID,
		store:          cfg.Store,
		snapshots:      cfg.Snapshots,
		dispatcher:     cfg.Dispatcher,
		rater:          cfg.Rater,
		market:         cfg.Market,
		portfolios:     cfg.Portfolios,
		emitter:        cfg.Emitter,
		logger:         log.New(log.Writer(), "[COMPETITION] ", log.LstdFlags),
		leaderboard:    leaderboard,
		active:         active,
		fatallyErrored: make(map[string]bool, len(cfg.Participants)),
		cancelCh:       make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// Run drives the competition from start to finish. It blocks until the
// competition completes or is cancelled; callers that want to run it in the
// background should invoke Run in its own goroutine (the Manager does this).
func (c *Controller) Run(ctx context.Context) {
	defer close(c.doneCh)

	c.publish("competition:start", map[string]interface{}{
		"competition_id": c.competition.ID,
		"task_count":     len(c.tasks),
	})
	c.snapshot(ctx)

	for _, task := range c.tasks {
		if c.isCancelled() {
			break
		}
		c.resetActiveForTask()
		c.runTask(ctx, task)
		c.snapshot(ctx)
		if c.isCancelled() {
			break
		}
	}

	if c.isCancelled() {
		c.finalizeCancelled(ctx)
		return
	}
	c.finalizeCompleted(ctx)
}

// Cancel requests that the competition stop after its current turn wave
// finishes. Safe to call multiple times and from any goroutine.
func (c *Controller) Cancel() {
	c.cancelOnce.Do(func() {
		c.mu.Lock()
		c.cancelled = true
		c.mu.Unlock()
		close(c.cancelCh)
	})
}

// Wait blocks until Run has returned.
func (c *Controller) Wait() {
	<-c.doneCh
}

func (c *Controller) isCancelled() bool {
	select {
	case <-c.cancelCh:
		return true
	default:
		return false
	}
}

// resetActiveForTask reactivates every agent that hasn't fatally errored, so
// a fresh task starts every eligible participant "still active" again; Done
// from a prior task does not carry forward.
func (c *Controller) resetActiveForTask() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for agentID := range c.leaderboard {
		if !c.fatallyErrored[agentID] {
			c.active[agentID] = true
		}
	}
}

// runTask repeats turn waves against every still-active participant until
// either every participant has signalled Done or the task's time limit
// elapses.
func (c *Controller) runTask(ctx context.Context, task *core.Task) {
	deadline := time.Now().Add(time.Duration(task.TimeLimitSec) * time.Second)
	taskScores := make(map[string]float64)
	participated := make(map[string]bool)

	for {
		if c.isCancelled() {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		agentIDs := c.currentlyActive()
		if len(agentIDs) == 0 {
			break
		}

		c.mu.Lock()
		c.turnIndex++
		turnIndex := c.turnIndex
		c.mu.Unlock()

		turnCtx, cancel := context.WithTimeout(ctx, remaining)
		results := c.dispatchWave(turnCtx, task, turnIndex, agentIDs)
		cancel()

		for agentID, res := range results {
			participated[agentID] = true
			elapsedSec := float64(res.result.ElapsedMS) / 1000.0
			score := scoring.Score(task, res.result, elapsedSec)
			taskScores[agentID] += score
			c.mu.Lock()
			if entry := c.leaderboard[agentID]; entry != nil {
				entry.TotalScore += score
			}
			c.mu.Unlock()

			c.recordTurn(agentID, task.ID, turnIndex, res.result, score)
			c.applyTurnOutcome(agentID, res.result)
		}

		c.rebuildLeaderboard()
		c.publishLeaderboard()
	}

	c.closeOutTask(taskScores, participated)
}

type dispatchOutcome struct {
	result *dispatch.TurnResult
}

// dispatchWave sends one turn to every listed agent in parallel and collects
// their results.
func (c *Controller) dispatchWave(ctx context.Context, task *core.Task, turnIndex int, agentIDs []string) map[string]dispatchOutcome {
	type pair struct {
		agentID string
		out     dispatchOutcome
	}
	ch := make(chan pair, len(agentIDs))
	var wg sync.WaitGroup

	for _, agentID := range agentIDs {
		agentID := agentID
		wg.Add(1)
		go func() {
			defer wg.Done()
			agent, err := c.store.GetAgent(ctx, agentID)
			if err != nil {
				ch <- pair{agentID, dispatchOutcome{&dispatch.TurnResult{
					Kind:         core.TurnTransportError,
					ErrorMessage: err.Error(),
					CompletedAt:  time.Now(),
				}}}
				return
			}
			payload := &dispatch.TurnPayload{
				Version:       1,
				CompetitionID: c.competition.ID,
				TaskID:        task.ID,
				TurnIndex:     turnIndex,
				SystemPrompt:  task.SystemPrompt,
				TaskPrompt:    task.TaskPrompt,
				StartURL:      task.StartURL,
				TimeLimitSec:  task.TimeLimitSec,
			}
			res := c.dispatcher.Dispatch(ctx, agent, payload)
			ch <- pair{agentID, dispatchOutcome{res}}
		}()
	}

	wg.Wait()
	close(ch)

	out := make(map[string]dispatchOutcome, len(agentIDs))
	for p := range ch {
		out[p.agentID] = p.out
	}
	return out
}

func (c *Controller) currentlyActive() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.active))
	for agentID, isActive := range c.active {
		if isActive && !c.fatallyErrored[agentID] {
			out = append(out, agentID)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Controller) recordTurn(agentID, taskID string, turnIndex int, result *dispatch.TurnResult, score float64) {
	ev := &core.Event{
		CompetitionID: c.competition.ID,
		TaskID:        taskID,
		AgentID:       agentID,
		TurnIndex:     turnIndex,
		Kind:          result.Kind,
		RawResponse:   result.RawResponse,
		ErrorMessage:  result.ErrorMessage,
		Score:         score,
		ElapsedMS:     result.ElapsedMS,
		CreatedAt:     time.Now(),
	}
	if err := c.store.InsertEvent(context.Background(), ev); err != nil {
		c.logger.Printf("failed to persist event for %s/%s: %v", c.competition.ID, agentID, err)
	}
}

// applyTurnOutcome updates an agent's active/fatallyErrored state from one
// turn's result: a non-OK result kind permanently removes the agent from all
// future turns (its accumulated score is preserved), while a well-formed
// response with Done set retires it only for the remainder of this task.
func (c *Controller) applyTurnOutcome(agentID string, result *dispatch.TurnResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if result.Kind != core.TurnOK {
		c.fatallyErrored[agentID] = true
		c.active[agentID] = false
		return
	}
	if result.Response != nil && result.Response.Done {
		c.active[agentID] = false
	}
}

// closeOutTask credits every participant who took at least one turn this
// task with a completed event, and the sole strict top scorer (ties award
// nobody) with a won event.
func (c *Controller) closeOutTask(taskScores map[string]float64, participated map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var winner string
	var winnerScore float64
	tie := false
	for agentID := range participated {
		entry := c.leaderboard[agentID]
		if entry == nil {
			continue
		}
		entry.EventsCompleted++

		score := taskScores[agentID]
		switch {
		case winner == "" || score > winnerScore:
			winner, winnerScore, tie = agentID, score, false
		case score == winnerScore:
			tie = true
		}
	}
	if winner != "" && !tie {
		if entry := c.leaderboard[winner]; entry != nil {
			entry.EventsWon++
		}
	}
}

func (c *Controller) rebuildLeaderboard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]*core.LeaderboardEntry, 0, len(c.leaderboard))
	for _, e := range c.leaderboard {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		return entries[i].AgentID < entries[j].AgentID
	})
	for i, e := range entries {
		e.Rank = i + 1
	}
}

func (c *Controller) publishLeaderboard() {
	c.mu.Lock()
	entries := make([]*core.LeaderboardEntry, 0, len(c.leaderboard))
	for _, e := range c.leaderboard {
		entries = append(entries, e)
	}
	c.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })

	c.publish("leaderboard:update", map[string]interface{}{
		"competition_id": c.competition.ID,
		"leaderboard":    entries,
	})
}

func (c *Controller) publish(eventType string, data map[string]interface{}) {
	if c.emitter == nil {
		return
	}
	c.emitter.Emit(eventType, c.competition.ID, data)
}

func (c *Controller) snapshot(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	c.mu.Lock()
	turnIndex := c.turnIndex
	c.mu.Unlock()

	status := core.CompetitionRunning
	if c.isCancelled() {
		status = core.CompetitionCancelled
	}
	snap := &core.Snapshot{
		CompetitionID: c.competition.ID,
		Name:          c.competition.Name,
		Status:        status,
		TurnIndex:     turnIndex,
		PersistedAt:   time.Now(),
	}
	if err := c.snapshots.SaveSnapshot(ctx, snap); err != nil {
		c.logger.Printf("failed to snapshot competition %s: %v", c.competition.ID, err)
	}
}

func (c *Controller) standings() []rating.ParticipantStanding {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]*core.LeaderboardEntry, 0, len(c.leaderboard))
	for _, e := range c.leaderboard {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })

	out := make([]rating.ParticipantStanding, len(entries))
	for i, e := range entries {
		out[i] = rating.ParticipantStanding{AgentID: e.AgentID, FinalScore: e.TotalScore, FinalRank: e.Rank}
	}
	return out
}

func (c *Controller) finalizeCompleted(ctx context.Context) {
	standings := c.standings()

	if err := c.store.TransitionCompetition(ctx, c.competition.ID, core.CompetitionRunning, core.CompetitionCompleted); err != nil {
		c.logger.Printf("failed to transition competition %s to completed: %v", c.competition.ID, err)
	}

	if c.rater != nil {
		c.rater.ApplyCompetitionResult(ctx, c.competition.ID, c.competition.DomainTag, standings)
	}

	if c.marketID != "" && c.market != nil && len(standings) > 0 {
		winner := standings[0].AgentID
		portfolios := map[string]*core.VirtualPortfolio{}
		if c.portfolios != nil {
			if p, err := c.portfolios.PortfoliosForMarket(ctx, c.marketID); err == nil {
				portfolios = p
			} else {
				c.logger.Printf("failed to load portfolios for market %s: %v", c.marketID, err)
			}
		}
		if err := c.market.ResolveMarket(c.marketID, winner, portfolios); err != nil {
			c.logger.Printf("failed to resolve market %s: %v", c.marketID, err)
		}
	}

	c.publish("competition:end", map[string]interface{}{
		"competition_id": c.competition.ID,
		"outcome":        "completed",
		"standings":      standings,
	})
	c.snapshotFinal(ctx)
}

func (c *Controller) finalizeCancelled(ctx context.Context) {
	if err := c.store.TransitionCompetition(ctx, c.competition.ID, core.CompetitionRunning, core.CompetitionCancelled); err != nil {
		c.logger.Printf("failed to transition competition %s to cancelled: %v", c.competition.ID, err)
	}

	if c.marketID != "" && c.market != nil {
		if err := c.market.CancelMarket(c.marketID); err != nil {
			c.logger.Printf("failed to cancel market %s: %v", c.marketID, err)
		}
	}

	c.publish("competition:end", map[string]interface{}{
		"competition_id": c.competition.ID,
		"outcome":        "cancelled",
	})
	c.snapshotFinal(ctx)
}

// snapshotFinal deletes the durable snapshot once a competition reaches a
// terminal state; there is nothing left to reconcile after a crash.
func (c *Controller) snapshotFinal(ctx context.Context) {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.DeleteSnapshot(ctx, c.competition.ID); err != nil {
		c.logger.Printf("failed to delete snapshot for competition %s: %v", c.competition.ID, err)
	}
}
