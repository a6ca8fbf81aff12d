package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ocx/backend/internal/core"
)

// SaveMarket records a meta-market's link to its competition as an open
// market row, so the link survives a restart even though the engine's live
// odds/pool state does not. Nothing in this module calls it; while no
// market row exists, PortfoliosForMarket reports the market as not found.
func (ds *DurableStore) SaveMarket(ctx context.Context, marketID, competitionID string) error {
	row := marketRow{
		MarketID:      marketID,
		CompetitionID: competitionID,
		Status:        string(core.MarketOpen),
		CreatedAt:     formatTime(time.Now()),
	}
	_, _, err := ds.client.From("meta_markets").
		Insert(row, false, "", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("save market %s: %w", marketID, err)
	}
	return nil
}

// SaveMarketOutcome records a market's terminal status and resolved outcome
// on its market row. Nothing in this module calls it; the
// Engine.ResolveMarket / CancelMarket paths do not persist the outcome.
func (ds *DurableStore) SaveMarketOutcome(ctx context.Context, marketID string, status core.MetaMarketStatus, resolvedOutcome string) error {
	patch := map[string]interface{}{
		"status":           string(status),
		"resolved_outcome": resolvedOutcome,
		"resolved_at":      formatTime(time.Now()),
	}
	_, _, err := ds.client.From("meta_markets").
		Update(patch, "", "").
		Eq("market_id", marketID).
		Execute()
	if err != nil {
		return fmt.Errorf("save market outcome %s: %w", marketID, err)
	}
	return nil
}

// SavePortfolio upserts one agent's sandbox balance and position/bet history
// for a competition.
func (ds *DurableStore) SavePortfolio(ctx context.Context, p *core.VirtualPortfolio) error {
	positions, err := json.Marshal(p.Positions)
	if err != nil {
		return fmt.Errorf("marshal positions for %s: %w", p.AgentID, err)
	}
	bets, err := json.Marshal(p.Bets)
	if err != nil {
		return fmt.Errorf("marshal bets for %s: %w", p.AgentID, err)
	}

	row := portfolioRow{
		AgentID:         p.AgentID,
		CompetitionID:   p.CompetitionID,
		StartingBalance: p.StartingBalance,
		CurrentBalance:  p.CurrentBalance,
		RealizedPnL:     p.RealizedPnL,
		Positions:       positions,
		Bets:            bets,
	}
	_, _, err = ds.client.From("virtual_portfolios").
		Upsert(row, "agent_id,competition_id", "", "").
		Execute()
	if err != nil {
		return fmt.Errorf("save portfolio for %s: %w", p.AgentID, err)
	}
	return nil
}

// PortfoliosForMarket satisfies competition.PortfolioLookup and
// market.PortfolioLookup: every portfolio holding at least one bet against
// marketID, keyed by agent ID, the set ResolveMarket needs to settle.
func (ds *DurableStore) PortfoliosForMarket(ctx context.Context, marketID string) (map[string]*core.VirtualPortfolio, error) {
	var markets []marketRow
	_, err := ds.client.From("meta_markets").
		Select("*", "", false).
		Eq("market_id", marketID).
		ExecuteTo(&markets)
	if err != nil {
		return nil, fmt.Errorf("lookup market %s: %w", marketID, err)
	}
	if len(markets) == 0 {
		return nil, core.ErrNotFound("market %q", marketID)
	}
	competitionID := markets[0].CompetitionID

	var rows []portfolioRow
	_, err = ds.client.From("virtual_portfolios").
		Select("*", "", false).
		Eq("competition_id", competitionID).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("list portfolios for competition %s: %w", competitionID, err)
	}

	out := make(map[string]*core.VirtualPortfolio)
	for _, r := range rows {
		portfolio, err := portfolioFromRow(&r)
		if err != nil {
			ds.logger.Printf("skip portfolio %s/%s: %v", r.AgentID, r.CompetitionID, err)
			continue
		}
		for _, bet := range portfolio.Bets {
			if bet.MarketID == marketID {
				out[portfolio.AgentID] = portfolio
				break
			}
		}
	}
	return out, nil
}

func portfolioFromRow(r *portfolioRow) (*core.VirtualPortfolio, error) {
	var positions []core.Position
	if len(r.Positions) > 0 {
		if err := json.Unmarshal(r.Positions, &positions); err != nil {
			return nil, fmt.Errorf("unmarshal positions: %w", err)
		}
	}
	var bets []core.MetaBet
	if len(r.Bets) > 0 {
		if err := json.Unmarshal(r.Bets, &bets); err != nil {
			return nil, fmt.Errorf("unmarshal bets: %w", err)
		}
	}
	return &core.VirtualPortfolio{
		AgentID:         r.AgentID,
		CompetitionID:   r.CompetitionID,
		StartingBalance: r.StartingBalance,
		CurrentBalance:  r.CurrentBalance,
		Positions:       positions,
		Bets:            bets,
		RealizedPnL:     r.RealizedPnL,
	}, nil
}

// LookupOutcome satisfies market.CompetitionLookup: the auto-resolver's
// periodic sweep needs a completed competition's winner without waiting on
// the event-driven competition:end path. The winner is derived from the
// durable event log (highest summed score), since the in-memory leaderboard
// the Controller built doesn't survive past the run that computed it.
func (ds *DurableStore) LookupOutcome(ctx context.Context, competitionID string) (core.CompetitionStatus, string, time.Time, error) {
	var comps []competitionRow
	_, err := ds.client.From("competitions").
		Select("*", "", false).
		Eq("competition_id", competitionID).
		ExecuteTo(&comps)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("lookup competition %s: %w", competitionID, err)
	}
	if len(comps) == 0 {
		return "", "", time.Time{}, core.ErrNotFound("competition %q", competitionID)
	}
	status := core.CompetitionStatus(comps[0].Status)
	endedAt := parseTime(comps[0].CompletedAt)
	if status != core.CompetitionCompleted {
		return status, "", endedAt, nil
	}

	if ds.sqlDB != nil {
		var winner string
		row := ds.sqlDB.QueryRowContext(ctx,
			`SELECT agent_id FROM events WHERE competition_id = $1 GROUP BY agent_id ORDER BY SUM(score) DESC LIMIT 1`,
			competitionID)
		if err := row.Scan(&winner); err == nil {
			return status, winner, endedAt, nil
		}
	}

	var events []eventRow
	_, err = ds.client.From("events").
		Select("agent_id,score", "", false).
		Eq("competition_id", competitionID).
		ExecuteTo(&events)
	if err != nil {
		return status, "", endedAt, fmt.Errorf("sum scores for %s: %w", competitionID, err)
	}
	totals := make(map[string]float64)
	for _, e := range events {
		totals[e.AgentID] += e.Score
	}
	var winner string
	best := -1.0
	for agentID, total := range totals {
		if total > best {
			best, winner = total, agentID
		}
	}
	return status, winner, endedAt, nil
}
