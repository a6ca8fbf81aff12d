package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdate_WinnerGainsRatingLoserLoses(t *testing.T) {
	winner := PlayerState{AgentID: "a", Rating: 1500, Deviation: 200, Volatility: 0.06}
	loser := PlayerState{AgentID: "b", Rating: 1500, Deviation: 200, Volatility: 0.06}

	newWinner := Update(winner, []MatchResult{{Opponent: loser, Score: 1}}, 0.5)
	newLoser := Update(loser, []MatchResult{{Opponent: winner, Score: 0}}, 0.5)

	assert.Greater(t, newWinner.Rating, winner.Rating)
	assert.Less(t, newLoser.Rating, loser.Rating)
}

func TestUpdate_DeviationShrinksAfterAMatch(t *testing.T) {
	player := PlayerState{AgentID: "a", Rating: 1500, Deviation: 200, Volatility: 0.06}
	opponent := PlayerState{AgentID: "b", Rating: 1500, Deviation: 30, Volatility: 0.06}

	updated := Update(player, []MatchResult{{Opponent: opponent, Score: 1}}, 0.5)
	assert.Less(t, updated.Deviation, player.Deviation)
}

func TestUpdate_NoResultsWidensDeviation(t *testing.T) {
	player := PlayerState{AgentID: "a", Rating: 1500, Deviation: 60, Volatility: 0.06}
	updated := Update(player, nil, 0.5)
	assert.Greater(t, updated.Deviation, player.Deviation)
	assert.Equal(t, player.Rating, updated.Rating)
}

func TestUpdate_UpsetAgainstHigherRatedGainsMore(t *testing.T) {
	underdog := PlayerState{AgentID: "a", Rating: 1400, Deviation: 50, Volatility: 0.06}
	favorite := PlayerState{AgentID: "b", Rating: 1700, Deviation: 50, Volatility: 0.06}

	underdogWin := Update(underdog, []MatchResult{{Opponent: favorite, Score: 1}}, 0.5)
	evenWin := Update(underdog, []MatchResult{{Opponent: PlayerState{AgentID: "c", Rating: 1400, Deviation: 50, Volatility: 0.06}, Score: 1}}, 0.5)

	assert.Greater(t, underdogWin.Rating-underdog.Rating, evenWin.Rating-underdog.Rating)
}
