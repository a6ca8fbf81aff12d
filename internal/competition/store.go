package competition

import (
	"context"

	"github.com/ocx/backend/internal/core"
	"github.com/ocx/backend/internal/dispatch"
	"github.com/ocx/backend/internal/rating"
)

// Store is the persistence surface the controller and manager need: reading
// a competition row and its joined participants/agents, and performing the
// conditional state transitions that make at-most-one-start and
// at-most-one-completion hold under concurrent callers. Implemented by
// internal/database.DurableStore.
type Store interface {
	GetCompetition(ctx context.Context, id string) (*core.Competition, error)
	ListParticipants(ctx context.Context, competitionID string) ([]core.Participant, error)
	GetAgent(ctx context.Context, agentID string) (*core.Agent, error)
	InsertEvent(ctx context.Context, ev *core.Event) error

	// TransitionCompetition performs `UPDATE ... SET status = to WHERE id =
	// ? AND status = from`, returning a core.KindState error if no row
	// matched (the row was already in a different state).
	TransitionCompetition(ctx context.Context, id string, from, to core.CompetitionStatus) error
}

// SnapshotStore is the durable snapshot log used for crash recovery.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *core.Snapshot) error
	DeleteSnapshot(ctx context.Context, competitionID string) error
	ListSnapshots(ctx context.Context) ([]*core.Snapshot, error)
}

// TaskResolver resolves a competition's declared task ids against the
// catalogue. Implemented by internal/catalog.TaskRegistry.
type TaskResolver interface {
	MustResolveAll(ids []string) ([]*core.Task, error)
}

// Dispatcher sends one turn to one agent. Implemented by
// internal/dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, agent *core.Agent, payload *dispatch.TurnPayload) *dispatch.TurnResult
}

// RatingUpdater applies a completed competition's standings to the rating
// system. Implemented by internal/rating.Service.
type RatingUpdater interface {
	ApplyCompetitionResult(ctx context.Context, competitionID, domainTag string, standings []rating.ParticipantStanding)
}

// MarketResolver is the subset of market.Engine the controller needs at
// competition end: resolving the linked meta-market to the winning agent, or
// cancelling it if the competition itself was cancelled.
type MarketResolver interface {
	ResolveMarket(marketID, winningOutcomeID string, portfolios map[string]*core.VirtualPortfolio) error
	CancelMarket(marketID string) error
}

// PortfolioLookup fetches every VirtualPortfolio holding a position in a
// market, so its bets can be settled at resolution time. Implemented by
// internal/database.DurableStore.
type PortfolioLookup interface {
	PortfoliosForMarket(ctx context.Context, marketID string) (map[string]*core.VirtualPortfolio, error)
}

// Emitter publishes a competition lifecycle or leaderboard event. Implemented
// by internal/events.Bus and internal/events.DistributedBus.
type Emitter interface {
	Emit(eventType, competitionID string, data map[string]interface{})
}
