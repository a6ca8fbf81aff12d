package market

import (
	"testing"

	"github.com/ocx/backend/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestComputeShares_PreservesPoolProduct(t *testing.T) {
	y, n := 10000.0, 10000.0
	before := y * n

	shares, newY, newN := computeShares(y, n, 500, core.SideYes)
	after := newY * newN

	assert.Greater(t, shares, 0.0)
	assert.InDelta(t, before, after, 1e-6)
}

func TestComputeShares_NoSide_AlsoPreservesProduct(t *testing.T) {
	y, n := 8000.0, 12000.0
	before := y * n

	shares, newY, newN := computeShares(y, n, 750, core.SideNo)
	after := newY * newN

	assert.Greater(t, shares, 0.0)
	assert.InDelta(t, before, after, 1e-6)
}

func TestImpliedProbability_EvenPoolIsHalf(t *testing.T) {
	assert.InDelta(t, 0.5, impliedProbability(100, 100), 1e-9)
}

func TestSeedPool_RoundTripsImpliedProbability(t *testing.T) {
	p := seedPool(0.65, 10000)
	assert.InDelta(t, 0.65, impliedProbability(p.Y, p.N), 1e-9)
}
