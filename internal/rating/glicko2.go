// Package rating implements Glicko-2 multiplayer rating updates for
// competition results, recording one EloHistory row per participant.
package rating

import "math"

// glicko2Scale converts between the public Glicko rating scale (centered on
// 1500) and the internal Glicko-2 "mu" scale used by the update formulas.
const glicko2Scale = 173.7178

// PlayerState is one agent's rating going into an update.
type PlayerState struct {
	AgentID    string
	Rating     float64
	Deviation  float64
	Volatility float64
}

// MatchResult is one opponent faced and the outcome against them, expressed
// as a Glicko-2 score in [0, 1]: 1 = win, 0.5 = draw, 0 = loss. A
// multi-agent competition is reduced to round-robin pairwise results before
// calling Update.
type MatchResult struct {
	Opponent PlayerState
	Score    float64
}

// toGlicko2 converts a rating/deviation pair to the internal mu/phi scale.
func toGlicko2(rating, deviation float64) (mu, phi float64) {
	mu = (rating - 1500) / glicko2Scale
	phi = deviation / glicko2Scale
	return
}

func fromGlicko2(mu, phi float64) (rating, deviation float64) {
	rating = mu*glicko2Scale + 1500
	deviation = phi * glicko2Scale
	return
}

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expectedScore(mu, muOpp, phiOpp float64) float64 {
	return 1 / (1 + math.Exp(-g(phiOpp)*(mu-muOpp)))
}

// Update runs the Glicko-2 algorithm for one player across all of that
// player's results in a rating period (here: one competition), returning
// their new rating/deviation/volatility. tau is the system constant
// controlling how much volatility can change per period (spec.md's
// RatingConfig.SystemConstant, typically 0.3–1.2).
func Update(player PlayerState, results []MatchResult, tau float64) PlayerState {
	if len(results) == 0 {
		return decayOnly(player)
	}

	mu, phi := toGlicko2(player.Rating, player.Deviation)
	sigma := player.Volatility

	var varianceInv float64
	var deltaSum float64
	for _, r := range results {
		muJ, phiJ := toGlicko2(r.Opponent.Rating, r.Opponent.Deviation)
		gPhiJ := g(phiJ)
		e := expectedScore(mu, muJ, phiJ)
		varianceInv += gPhiJ * gPhiJ * e * (1 - e)
		deltaSum += gPhiJ * (r.Score - e)
	}
	if varianceInv == 0 {
		return decayOnly(player)
	}
	variance := 1 / varianceInv
	delta := variance * deltaSum

	newSigma := newVolatility(phi, sigma, variance, delta, tau)

	phiStar := math.Sqrt(phi*phi + newSigma*newSigma)
	newPhi := 1 / math.Sqrt(1/(phiStar*phiStar)+1/variance)
	newMu := mu + newPhi*newPhi*deltaSum

	newRating, newDeviation := fromGlicko2(newMu, newPhi)

	return PlayerState{
		AgentID:    player.AgentID,
		Rating:     newRating,
		Deviation:  newDeviation,
		Volatility: newSigma,
	}
}

// decayOnly widens deviation for a player with no results this period
// (the standard Glicko-2 treatment for an inactive rating period).
func decayOnly(player PlayerState) PlayerState {
	mu, phi := toGlicko2(player.Rating, player.Deviation)
	phiStar := math.Sqrt(phi*phi + player.Volatility*player.Volatility)
	rating, deviation := fromGlicko2(mu, phiStar)
	return PlayerState{
		AgentID:    player.AgentID,
		Rating:     rating,
		Deviation:  deviation,
		Volatility: player.Volatility,
	}
}

// newVolatility solves for sigma' via the iterative procedure in the
// Glickman Glicko-2 paper (Illinois algorithm variant of regula falsi).
func newVolatility(phi, sigma, variance, delta, tau float64) float64 {
	a := math.Log(sigma * sigma)
	epsilon := 0.000001

	fn := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - variance - ex)
		den := 2 * math.Pow(phi*phi+variance+ex, 2)
		return num/den - (x-a)/(tau*tau)
	}

	A := a
	var B float64
	if delta*delta > phi*phi+variance {
		B = math.Log(delta*delta - phi*phi - variance)
	} else {
		k := 1.0
		for fn(a-k*tau) < 0 {
			k++
		}
		B = a - k*tau
	}

	fA, fB := fn(A), fn(B)
	for math.Abs(B-A) > epsilon {
		C := A + (A-B)*fA/(fB-fA)
		fC := fn(C)
		if fC*fB < 0 {
			A, fA = B, fB
		} else {
			fA = fA / 2
		}
		B, fB = C, fC
	}

	return math.Exp(A / 2)
}
