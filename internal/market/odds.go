package market

import (
	"math"

	"github.com/ocx/backend/internal/core"
)

// EloExpectedScore is the standard ELO expected-score formula for agent i
// against the mean rating of the other agents in a meta-market.
func EloExpectedScore(agentElo float64, others []float64) float64 {
	if len(others) == 0 {
		return 0.5
	}
	var sum float64
	for _, e := range others {
		sum += e
	}
	avg := sum / float64(len(others))
	return 1 / (1 + math.Pow(10, (avg-agentElo)/400))
}

// AmericanOddsFromExpected converts a win probability into American odds.
// expected == 0.5 yields -100 ("pick-em") on both sides of the rounding
// boundary.
func AmericanOddsFromExpected(expected float64) int {
	if expected <= 0 {
		expected = 0.0001
	}
	if expected >= 1 {
		expected = 0.9999
	}
	if expected >= 0.5 {
		return -int(math.Round(expected / (1 - expected) * 100))
	}
	return int(math.Round((1 - expected) / expected * 100))
}

// AmericanOddsToImpliedProbability inverts AmericanOddsFromExpected, used to
// recover the forecast probability a bet was priced at for Brier scoring.
func AmericanOddsToImpliedProbability(odds int) float64 {
	o := float64(odds)
	if odds < 0 {
		return -o / (-o + 100)
	}
	return 100 / (o + 100)
}

// AmericanOddsPayout returns the total return (stake plus profit) for a
// stake at the given American odds.
func AmericanOddsPayout(stake float64, odds int) float64 {
	if odds > 0 {
		return stake * (1 + float64(odds)/100)
	}
	return stake * (1 + 100/math.Abs(float64(odds)))
}

// SeedMarketFromElo derives the initial outcome list and odds map for a
// meta-market from the participating agents' current ELO ratings. A single
// agent seeds to the pick-em -100 on both sides.
func SeedMarketFromElo(agentElos map[string]float64, displayNames map[string]string) ([]core.MarketOutcome, map[string]int) {
	outcomes := make([]core.MarketOutcome, 0, len(agentElos))
	odds := make(map[string]int, len(agentElos))

	if len(agentElos) == 1 {
		for id := range agentElos {
			outcomes = append(outcomes, core.MarketOutcome{OutcomeID: id, DisplayName: displayNames[id], InitialOdds: -100})
			odds[id] = -100
		}
		return outcomes, odds
	}

	for id, elo := range agentElos {
		others := make([]float64, 0, len(agentElos)-1)
		for otherID, otherElo := range agentElos {
			if otherID == id {
				continue
			}
			others = append(others, otherElo)
		}
		expected := EloExpectedScore(elo, others)
		o := AmericanOddsFromExpected(expected)
		outcomes = append(outcomes, core.MarketOutcome{OutcomeID: id, DisplayName: displayNames[id], InitialOdds: o})
		odds[id] = o
	}
	return outcomes, odds
}
