package market

import "github.com/ocx/backend/internal/core"

// pool holds the two-sided constant-product reserve for one outcome's
// binary (YES/NO) sub-market.
type pool struct {
	Y, N float64
}

// impliedProbability is the CPMM's implied probability of YES: Y/(Y+N).
func impliedProbability(y, n float64) float64 {
	if y+n == 0 {
		return 0.5
	}
	return y / (y + n)
}

// computeShares prices a bet of amount on side against pool (y, n),
// preserving the product y*n after the counterparty side absorbs amount
// units. Returns the shares issued to the bettor and the new pool state.
func computeShares(y, n, amount float64, side core.BetSide) (shares, newY, newN float64) {
	if side == core.SideYes {
		newN = n + amount
		shares = y * amount / newN
		newY = y - shares
		return
	}
	newY = y + amount
	shares = n * amount / newY
	newN = n - shares
	return
}

// seedPool derives a starting (Y, N) pair from an implied probability at a
// fixed total liquidity so that Y/(Y+N) == p.
func seedPool(p, liquidity float64) pool {
	return pool{Y: p * liquidity, N: (1 - p) * liquidity}
}
