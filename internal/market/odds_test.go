package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEloExpectedScore_EqualRatingsIsHalf(t *testing.T) {
	assert.InDelta(t, 0.5, EloExpectedScore(1500, []float64{1500}), 1e-9)
}

func TestEloExpectedScore_NoOpponentsIsHalf(t *testing.T) {
	assert.Equal(t, 0.5, EloExpectedScore(1500, nil))
}

func TestAmericanOddsFromExpected_EqualIsPickEm(t *testing.T) {
	assert.Equal(t, -100, AmericanOddsFromExpected(0.5))
}

func TestAmericanOddsFromExpected_FavoriteIsNegative(t *testing.T) {
	odds := AmericanOddsFromExpected(0.75)
	assert.Less(t, odds, 0)
}

func TestAmericanOddsFromExpected_UnderdogIsPositive(t *testing.T) {
	odds := AmericanOddsFromExpected(0.25)
	assert.Greater(t, odds, 0)
}

func TestAmericanOddsPayout_PositiveAndNegative(t *testing.T) {
	assert.InDelta(t, 200.0, AmericanOddsPayout(100, 100), 1e-9)
	assert.InDelta(t, 150.0, AmericanOddsPayout(100, -200), 1e-9)
}

func TestAmericanOddsToImpliedProbability_RoundTripsPickEm(t *testing.T) {
	assert.InDelta(t, 0.5, AmericanOddsToImpliedProbability(-100), 1e-9)
}

func TestSeedMarketFromElo_SingleAgentIsPickEm(t *testing.T) {
	outcomes, odds := SeedMarketFromElo(map[string]float64{"a1": 1500}, nil)
	assert.Len(t, outcomes, 1)
	assert.Equal(t, -100, odds["a1"])
}

func TestSeedMarketFromElo_HigherRatedAgentIsFavored(t *testing.T) {
	_, odds := SeedMarketFromElo(map[string]float64{"a1": 1700, "a2": 1300}, nil)
	assert.Less(t, odds["a1"], 0)
	assert.Greater(t, odds["a2"], 0)
}
