package market

import (
	"context"
	"log"
	"time"

	"github.com/ocx/backend/internal/core"
)

// CompetitionLookup is the narrow read surface the auto-resolver needs from
// the durable store: a competition's current status, its winner (when
// completed), and when it ended (zero if still running).
type CompetitionLookup interface {
	LookupOutcome(ctx context.Context, competitionID string) (status core.CompetitionStatus, winnerAgentID string, endedAt time.Time, err error)
}

// PortfolioLookup loads every virtual portfolio with an active bet in a
// market, the set ResolveMarket needs to settle.
type PortfolioLookup interface {
	PortfoliosForMarket(ctx context.Context, marketID string) (map[string]*core.VirtualPortfolio, error)
}

// AutoResolver is the periodic safety net for spec.md §4.6: markets whose
// linked competition ended more than StaleMarketHours ago but were never
// resolved by the event-driven competition:end path get swept up here.
// Grounded on the prior ghostpool.maintainPool background-maintainer
// goroutine's plain ticker-loop idiom.
type AutoResolver struct {
	engine     *Engine
	lookup     CompetitionLookup
	portfolios PortfolioLookup
	staleAfter time.Duration
	interval   time.Duration
	logger     *log.Logger
}

// NewAutoResolver builds a resolver. staleAfterHours and intervalMin come
// from config.MarketConfig.
func NewAutoResolver(engine *Engine, lookup CompetitionLookup, portfolios PortfolioLookup, staleAfterHours, intervalMin int) *AutoResolver {
	return &AutoResolver{
		engine:     engine,
		lookup:     lookup,
		portfolios: portfolios,
		staleAfter: time.Duration(staleAfterHours) * time.Hour,
		interval:   time.Duration(intervalMin) * time.Minute,
		logger:     log.New(log.Writer(), "[MARKET-RESOLVER] ", log.LstdFlags),
	}
}

// Start launches the sweep loop on its own goroutine and returns at once;
// the loop stops when ctx is cancelled.
func (r *AutoResolver) Start(ctx context.Context) {
	go r.loop(ctx)
}

func (r *AutoResolver) loop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one pass over every open or locked market, resolving or
// cancelling those whose linked competition ended more than staleAfter ago.
// Exported so it can be driven directly in tests without waiting on a
// ticker.
func (r *AutoResolver) Sweep(ctx context.Context) {
	for _, marketID := range r.engine.OpenMarketIDs() {
		competitionID, err := r.engine.CompetitionIDFor(marketID)
		if err != nil {
			continue
		}

		status, winnerID, endedAt, err := r.lookup.LookupOutcome(ctx, competitionID)
		if err != nil {
			r.logger.Printf("lookup competition %s for market %s: %v", competitionID, marketID, err)
			continue
		}
		if endedAt.IsZero() || time.Since(endedAt) < r.staleAfter {
			continue
		}

		switch status {
		case core.CompetitionCancelled:
			if err := r.engine.CancelMarket(marketID); err != nil {
				r.logger.Printf("auto-cancel market %s: %v", marketID, err)
			} else {
				r.logger.Printf("auto-cancelled stale market %s (competition %s cancelled)", marketID, competitionID)
			}
		case core.CompetitionCompleted:
			if winnerID == "" {
				continue
			}
			portfolios, err := r.portfolios.PortfoliosForMarket(ctx, marketID)
			if err != nil {
				r.logger.Printf("load portfolios for market %s: %v", marketID, err)
				continue
			}
			if err := r.engine.ResolveMarket(marketID, winnerID, portfolios); err != nil {
				r.logger.Printf("auto-resolve market %s: %v", marketID, err)
			} else {
				r.logger.Printf("auto-resolved stale market %s (winner %s)", marketID, winnerID)
			}
		default:
			continue
		}
	}
}
