// Package market implements the virtual-portfolio sandbox and the
// CPMM-backed meta-markets layered over each competition: one prediction
// market per competition, one binary YES/NO sub-market per participating
// agent outcome.
package market

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ocx/backend/internal/core"
)

// seedLiquidity is the notional total reserve seeded into each outcome's
// pool at market creation, chosen so a MaxBetSize-sized bet (1000 by
// default) moves an even pool's price by about five points rather than
// swamping the pool.
const seedLiquidity = 20000.0

// marketState is one meta-market's mutable pool state. Grounded on
// internal/escrow/gate.go's shape: a single mutex guards every mutation to
// the market (and its per-outcome pools) the way the gate's mutex guarded
// its held-item map, rather than taking a lock per outcome.
type marketState struct {
	mu     sync.Mutex
	market *core.MetaMarket
	pools  map[string]*pool // outcomeID -> pool
}

// Engine owns every meta-market for the process and the virtual portfolios
// betting against them.
type Engine struct {
	mu      sync.RWMutex
	markets map[string]*marketState
	logger  *log.Logger
}

// NewEngine constructs an empty market engine.
func NewEngine() *Engine {
	return &Engine{
		markets: make(map[string]*marketState),
		logger:  log.New(log.Writer(), "[MARKET] ", log.LstdFlags),
	}
}

// CreatePortfolio seeds a fresh sandbox portfolio for one agent in one
// competition at the configured starting balance.
func CreatePortfolio(agentID, competitionID string, startingBalance float64) *core.VirtualPortfolio {
	return &core.VirtualPortfolio{
		AgentID:         agentID,
		CompetitionID:   competitionID,
		StartingBalance: startingBalance,
		CurrentBalance:  startingBalance,
	}
}

// NewMarket seeds a new meta-market for a competition from the
// participating agents' current ELO ratings and registers it with the
// engine.
func (e *Engine) NewMarket(competitionID string, agentElos map[string]float64, displayNames map[string]string) *core.MetaMarket {
	outcomes, odds := SeedMarketFromElo(agentElos, displayNames)

	pools := make(map[string]*pool, len(outcomes))
	for _, o := range outcomes {
		p := AmericanOddsToImpliedProbability(odds[o.OutcomeID])
		seeded := seedPool(p, seedLiquidity)
		pools[o.OutcomeID] = &seeded
	}

	m := &core.MetaMarket{
		ID:            uuid.NewString(),
		CompetitionID: competitionID,
		Status:        core.MarketOpen,
		Outcomes:      outcomes,
		CurrentOdds:   odds,
		CreatedAt:     time.Now(),
	}

	e.mu.Lock()
	e.markets[m.ID] = &marketState{market: m, pools: pools}
	e.mu.Unlock()

	return m
}

// Get returns the current snapshot of a meta-market.
func (e *Engine) Get(marketID string) (*core.MetaMarket, error) {
	ms, err := e.lookup(marketID)
	if err != nil {
		return nil, err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	snapshot := *ms.market
	return &snapshot, nil
}

func (e *Engine) lookup(marketID string) (*marketState, error) {
	e.mu.RLock()
	ms, ok := e.markets[marketID]
	e.mu.RUnlock()
	if !ok {
		return nil, core.ErrNotFound("market %q not found", marketID)
	}
	return ms, nil
}

// Lock transitions a market open -> locked, called when its competition
// starts so odds stop drifting mid-competition.
func (e *Engine) Lock(marketID string) error {
	ms, err := e.lookup(marketID)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.market.Status != core.MarketOpen {
		return core.ErrState("market %q is not open", marketID)
	}
	ms.market.Status = core.MarketLocked
	ms.market.LockedAt = time.Now()
	return nil
}

// CancelMarket transitions a market to cancelled, used when its linked
// competition is cancelled instead of completed.
func (e *Engine) CancelMarket(marketID string) error {
	ms, err := e.lookup(marketID)
	if err != nil {
		return err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.market.Status == core.MarketResolved || ms.market.Status == core.MarketCancelled {
		return core.ErrState("market %q already settled", marketID)
	}
	ms.market.Status = core.MarketCancelled
	return nil
}

// PlaceBet is the atomic, single-lock critical section: it prices the bet
// against the outcome's CPMM pool, debits the portfolio, upserts the
// position with a running average cost, and appends the bet record.
func (e *Engine) PlaceBet(portfolio *core.VirtualPortfolio, marketID, outcomeID string, side core.BetSide, amount, maxSize float64) (*core.MetaBet, error) {
	if amount <= 0 {
		return nil, core.ErrValidation("bet amount must be positive")
	}
	if amount > maxSize {
		return nil, core.ErrValidation("bet amount %.2f exceeds max bet size %.2f", amount, maxSize)
	}
	if amount > portfolio.CurrentBalance {
		return nil, core.ErrValidation("bet amount %.2f exceeds portfolio balance %.2f", amount, portfolio.CurrentBalance)
	}
	if side != core.SideYes && side != core.SideNo {
		return nil, core.ErrValidation("invalid bet side %q", side)
	}

	ms, err := e.lookup(marketID)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.market.Status != core.MarketOpen {
		return nil, core.ErrState("market %q is not open", marketID)
	}
	p, ok := ms.pools[outcomeID]
	if !ok {
		return nil, core.ErrValidation("outcome %q does not exist in market %q", outcomeID, marketID)
	}

	shares, newY, newN := computeShares(p.Y, p.N, amount, side)
	p.Y, p.N = newY, newN
	ms.market.CurrentOdds[outcomeID] = AmericanOddsFromExpected(impliedProbability(p.Y, p.N))
	ms.market.TotalVolume += amount
	ms.market.TotalBets++

	portfolio.CurrentBalance -= amount
	upsertPosition(portfolio, marketID, outcomeID, shares, amount)

	bet := core.MetaBet{
		ID:              uuid.NewString(),
		UserID:          portfolio.AgentID,
		MarketID:        marketID,
		OutcomeID:       outcomeID,
		Amount:          amount,
		OddsAtBet:       ms.market.CurrentOdds[outcomeID],
		PotentialPayout: shares,
		Status:          core.BetActive,
		CreatedAt:       time.Now(),
	}
	portfolio.Bets = append(portfolio.Bets, bet)

	return &bet, nil
}

// upsertPosition adds to an existing position's running average cost or
// appends a new one.
func upsertPosition(portfolio *core.VirtualPortfolio, marketID, outcomeID string, shares, amount float64) {
	for i := range portfolio.Positions {
		pos := &portfolio.Positions[i]
		if pos.MarketID == marketID && pos.OutcomeID == outcomeID {
			totalCost := pos.AverageCost*pos.Shares + amount
			pos.Shares += shares
			pos.AverageCost = totalCost / pos.Shares
			return
		}
	}
	portfolio.Positions = append(portfolio.Positions, core.Position{
		MarketID:    marketID,
		OutcomeID:   outcomeID,
		Shares:      shares,
		AverageCost: amount / shares,
	})
}

// ResolveMarket settles a market on a winning outcome, paying out winning
// bets' shares into the owning portfolio's balance and marking every bet
// won or lost. Losing bets pay zero. Positions in the resolved market are
// left in place as a historical record; only balances and bet status
// change.
func (e *Engine) ResolveMarket(marketID, winningOutcomeID string, portfolios map[string]*core.VirtualPortfolio) error {
	ms, err := e.lookup(marketID)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.market.Status == core.MarketResolved || ms.market.Status == core.MarketCancelled {
		return core.ErrState("market %q already settled", marketID)
	}

	ms.market.Status = core.MarketResolved
	ms.market.ResolvedOutcome = winningOutcomeID
	ms.market.ResolvedAt = time.Now()

	for _, portfolio := range portfolios {
		for i := range portfolio.Bets {
			bet := &portfolio.Bets[i]
			if bet.MarketID != marketID || bet.Status != core.BetActive {
				continue
			}
			won := betWon(bet.OutcomeID, winningOutcomeID)
			if won {
				payout := bet.PotentialPayout
				portfolio.CurrentBalance += payout
				portfolio.RealizedPnL += payout - bet.Amount
				bet.Status = core.BetWon
			} else {
				portfolio.RealizedPnL -= bet.Amount
				bet.Status = core.BetLost
			}
		}
	}

	return nil
}

// betWon reports whether a bet on outcomeID against the YES side of the
// resolved market matches the winning outcome. Each outcome is its own
// binary sub-market: YES on the winning outcome wins, YES on any other
// outcome loses (and, symmetrically, NO on the winning outcome loses).
func betWon(outcomeID, winningOutcomeID string) bool {
	return outcomeID == winningOutcomeID
}

// ProfitPercent is the change in a portfolio's cash balance relative to its
// starting balance, the input to FinalScore's profit term. Stakes in
// still-active bets count as spent; open positions are not valued.
func ProfitPercent(portfolio *core.VirtualPortfolio) float64 {
	if portfolio.StartingBalance == 0 {
		return 0
	}
	return (portfolio.CurrentBalance - portfolio.StartingBalance) / portfolio.StartingBalance
}

// calibrationForecasts collects a portfolio's settled bets into the
// forecast pairs BrierScore operates on.
func calibrationForecasts(portfolio *core.VirtualPortfolio) []resolvedForecast {
	var out []resolvedForecast
	for _, b := range portfolio.Bets {
		if b.Status != core.BetWon && b.Status != core.BetLost {
			continue
		}
		forecast := AmericanOddsToImpliedProbability(b.OddsAtBet)
		outcome := 0.0
		if b.Status == core.BetWon {
			outcome = 1.0
		}
		out = append(out, resolvedForecast{Forecast: forecast, Outcome: outcome})
	}
	return out
}

// PortfolioScore is the composite final score (spec.md §4.6) for one
// portfolio: profit 60%, calibration 25%, activity 15%, clamped to
// [0, 1000].
func PortfolioScore(portfolio *core.VirtualPortfolio) float64 {
	profitPct := ProfitPercent(portfolio)
	brier := BrierScore(calibrationForecasts(portfolio))
	return FinalScore(profitPct, brier, len(portfolio.Bets))
}

// BrierScore is the exported entry point over a portfolio's settled bets;
// kept alongside the unexported forecast-pair computation so tests can
// exercise either directly.
func BrierScore(forecasts []resolvedForecast) float64 {
	return brierScore(forecasts)
}

// OpenMarketIDs lists every market currently in the open or locked state,
// the auto-resolver's sweep set.
func (e *Engine) OpenMarketIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []string
	for id, ms := range e.markets {
		ms.mu.Lock()
		if ms.market.Status == core.MarketOpen || ms.market.Status == core.MarketLocked {
			ids = append(ids, id)
		}
		ms.mu.Unlock()
	}
	return ids
}

// CompetitionIDFor returns the competition a market belongs to, used by the
// auto-resolver to look up that competition's current status.
func (e *Engine) CompetitionIDFor(marketID string) (string, error) {
	ms, err := e.lookup(marketID)
	if err != nil {
		return "", err
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.market.CompetitionID, nil
}
