package cdp

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cdpchain/core/events"
)

// openRedemptionSet leaves the index ordered alice, carol, bob with every
// trove above MCR at price 200.
func openRedemptionSet(env *testEnv) {
	env.open(alice, e18(100), e18(5000))
	env.open(bob, e18(20), e18(2000))
	env.open(carol, e18(30), e18(2000))
}

func redemptionRequest(amount *uint256.Int, hints RedemptionHints) RedemptionRequest {
	return RedemptionRequest{
		Amount:      amount,
		FirstHint:   hints.FirstHint,
		PartialNICR: hints.PartialNICR,
		MaxFee:      DecimalPrecision.Clone(),
	}
}

func TestRedemptionHints(t *testing.T) {
	env := newTestEnv(t, nil)
	openRedemptionSet(env)
	require.Equal(t, []common.Address{alice, carol, bob}, env.engine.SortedTroves())

	hints, err := env.engine.RedemptionHints(e18(2110), nil, 0)
	require.NoError(t, err)
	require.Equal(t, bob, hints.FirstHint)
	requireAmount(t, ComputeNominalCR(dec(t, "29.5"), e18(2110)), hints.PartialNICR)
	requireAmount(t, e18(2110), hints.TruncatedAmount)

	// Partial redemptions cannot push a trove below the minimum net debt.
	hints, err = env.engine.RedemptionHints(e18(300), nil, 0)
	require.NoError(t, err)
	requireAmount(t, e18(210), hints.TruncatedAmount)

	// The iteration cap stops before the partial trove.
	hints, err = env.engine.RedemptionHints(e18(2110), nil, 1)
	require.NoError(t, err)
	requireAmount(t, e18(2010), hints.TruncatedAmount)
	require.True(t, hints.PartialNICR.IsZero())
}

func TestRedeemPartiallyAtFaceValue(t *testing.T) {
	env := newTestEnv(t, nil)
	openRedemptionSet(env)

	hints, err := env.engine.RedemptionHints(e18(100), nil, 0)
	require.NoError(t, err)
	result, err := env.engine.RedeemCollateral(alice, redemptionRequest(e18(100), hints))
	require.NoError(t, err)

	requireAmount(t, e18(100), result.RedeemedAmount)
	requireAmount(t, dec(t, "0.5"), result.CollDrawn)
	requireAmount(t, result.RedeemedAmount, mulDiv(result.CollDrawn, e18(200), DecimalPrecision))
	requireAmount(t, result.CollDrawn, new(uint256.Int).Add(result.CollSent, result.CollFee))
	require.False(t, result.PartialCancelled)
	require.Equal(t, []common.Address{bob}, result.Redeemed)

	tr := env.engine.Trove(bob)
	requireAmount(t, e18(2110), tr.Debt)
	requireAmount(t, dec(t, "19.5"), tr.Coll)
	requireAmount(t, e18(4900), env.engine.StableBalance(alice))
	requireAmount(t, result.CollSent, env.engine.CollateralBalance(alice))
	require.False(t, env.engine.BaseRate().IsZero())
	require.Len(t, env.rec.OfType(events.TypeRedemption), 1)
	env.requireStakeInvariant()
}

func TestRedeemWithStaleHintDropsPartialStep(t *testing.T) {
	env := newTestEnv(t, nil)
	openRedemptionSet(env)

	planned, err := env.engine.RedemptionHints(e18(2110), nil, 0)
	require.NoError(t, err)

	// Carol front-runs with a one unit redemption against bob.
	front, err := env.engine.RedemptionHints(e18(1), nil, 0)
	require.NoError(t, err)
	_, err = env.engine.RedeemCollateral(carol, redemptionRequest(e18(1), front))
	require.NoError(t, err)
	requireAmount(t, e18(2209), env.engine.Trove(bob).Debt)

	result, err := env.engine.RedeemCollateral(alice, redemptionRequest(e18(2110), planned))
	require.NoError(t, err)
	require.True(t, result.PartialCancelled)
	require.Equal(t, []common.Address{bob}, result.Redeemed)
	requireAmount(t, e18(2009), result.RedeemedAmount)
	requireAmount(t, dec(t, "10.045"), result.CollDrawn)
	require.True(t, result.CollDrawn.Lt(dec(t, "10.55")))

	require.Equal(t, StatusClosedByRedemption, env.engine.TroveStatus(bob))
	requireAmount(t, dec(t, "9.95"), env.engine.Surplus(bob))
	requireAmount(t, e18(2210), env.engine.Trove(carol).Debt)
	requireAmount(t, e18(2991), env.engine.StableBalance(alice))
	require.Equal(t, []common.Address{alice, carol}, env.engine.SortedTroves())
	env.requireStakeInvariant()
}

func TestRedeemSkipsTrovesBelowMCR(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(5000))
	env.open(carol, e18(30), e18(2000))
	env.open(bob, e18(13), e18(2000))
	env.setPrice(180)

	hints, err := env.engine.RedemptionHints(e18(100), nil, 0)
	require.NoError(t, err)
	require.Equal(t, carol, hints.FirstHint)

	// A stale first hint falls back to walking up from the tail.
	req := redemptionRequest(e18(100), hints)
	req.FirstHint = bob
	result, err := env.engine.RedeemCollateral(alice, req)
	require.NoError(t, err)
	require.Equal(t, []common.Address{carol}, result.Redeemed)
	requireAmount(t, e18(2210), env.engine.Trove(bob).Debt)
}

func TestRedeemRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	openRedemptionSet(env)
	hints, err := env.engine.RedemptionHints(e18(100), nil, 0)
	require.NoError(t, err)

	req := redemptionRequest(e18(100), hints)
	req.MaxFee = dec(t, "0.001")
	_, err = env.engine.RedeemCollateral(alice, req)
	require.ErrorIs(t, err, ErrInvalidMaxFee)

	req = redemptionRequest(new(uint256.Int), hints)
	_, err = env.engine.RedeemCollateral(alice, req)
	require.ErrorIs(t, err, ErrZeroAmount)

	req = redemptionRequest(e18(100), hints)
	_, err = env.engine.RedeemCollateral(dave, req)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	// A wrong partial NICR on the only candidate leaves nothing redeemed.
	req = redemptionRequest(e18(100), hints)
	req.PartialNICR = uint256.NewInt(1)
	_, err = env.engine.RedeemCollateral(alice, req)
	require.ErrorIs(t, err, ErrUnableToRedeem)

	env.setPrice(20)
	_, err = env.engine.RedeemCollateral(alice, redemptionRequest(e18(100), hints))
	require.ErrorIs(t, err, ErrTCRBelowMCR)

	requireAmount(t, new(uint256.Int), env.engine.BaseRate())
	requireAmount(t, e18(5000), env.engine.StableBalance(alice))
}

func TestRedemptionMaxFeeBoundary(t *testing.T) {
	redeem := func(maxFee *uint256.Int) (*RedemptionResult, error) {
		env := newTestEnv(t, nil)
		openRedemptionSet(env)
		hints, err := env.engine.RedemptionHints(e18(100), nil, 0)
		require.NoError(t, err)
		req := redemptionRequest(e18(100), hints)
		req.MaxFee = maxFee
		return env.engine.RedeemCollateral(alice, req)
	}

	open, err := redeem(DecimalPrecision.Clone())
	require.NoError(t, err)
	fraction := mulDiv(open.CollFee, DecimalPrecision, open.CollDrawn)
	require.True(t, fraction.Gt(DefaultParams().RedemptionFeeFloor))

	exact, err := redeem(fraction)
	require.NoError(t, err)
	requireAmount(t, open.CollFee, exact.CollFee)

	below := new(uint256.Int).SubUint64(fraction, 1)
	_, err = redeem(below)
	require.ErrorIs(t, err, ErrFeeExceeded)
}

func TestRedemptionRejectsFeeThatEatsAllCollateral(t *testing.T) {
	env := newTestEnv(t, nil)
	openRedemptionSet(env)
	env.engine.mu.Lock()
	env.engine.state.fees.BaseRate = *DecimalPrecision.Clone()
	env.engine.mu.Unlock()

	hints, err := env.engine.RedemptionHints(e18(100), nil, 0)
	require.NoError(t, err)
	_, err = env.engine.RedeemCollateral(alice, redemptionRequest(e18(100), hints))
	require.ErrorIs(t, err, ErrFeeEatsAll)
	requireAmount(t, DecimalPrecision, env.engine.BaseRate())
	requireAmount(t, e18(5000), env.engine.StableBalance(alice))
}
