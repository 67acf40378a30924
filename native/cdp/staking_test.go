package cdp

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestFeeStakersEarnBorrowingFees(t *testing.T) {
	env := newTestEnv(t, nil)
	require.ErrorIs(t, env.engine.Stake(carol, new(uint256.Int)), ErrZeroAmount)
	require.ErrorIs(t, env.engine.Unstake(carol, nil), ErrInsufficientStake)

	env.grantIssuance(carol, e18(100))
	require.NoError(t, env.engine.Stake(carol, e18(100)))
	require.True(t, env.engine.IssuanceBalance(carol).IsZero())
	env.open(alice, e18(100), e18(2000))
	requireAmount(t, e18(10), env.engine.PendingStableGain(carol))

	require.NoError(t, env.engine.Unstake(carol, nil))
	requireAmount(t, e18(10), env.engine.StableBalance(carol))
	requireAmount(t, e18(100), env.engine.StakeOf(carol))
	require.True(t, env.engine.PendingStableGain(carol).IsZero())
	require.True(t, env.engine.StableBalance(FeeSinkAddress).IsZero())

	require.NoError(t, env.engine.Unstake(carol, e18(1000)))
	require.True(t, env.engine.StakeOf(carol).IsZero())
	requireAmount(t, e18(100), env.engine.IssuanceBalance(carol))
	require.ErrorIs(t, env.engine.Unstake(carol, nil), ErrInsufficientStake)
}

func TestFeeStakersEarnRedemptionFees(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grantIssuance(dave, e18(100))
	require.NoError(t, env.engine.Stake(dave, e18(100)))
	openRedemptionSet(env)

	hints, err := env.engine.RedemptionHints(e18(100), nil, 0)
	require.NoError(t, err)
	result, err := env.engine.RedeemCollateral(alice, redemptionRequest(e18(100), hints))
	require.NoError(t, err)
	require.False(t, result.CollFee.IsZero())

	pending := env.engine.PendingCollGain(dave)
	require.False(t, pending.Gt(result.CollFee))
	requireNear(t, result.CollFee, pending, 100)

	require.NoError(t, env.engine.Unstake(dave, nil))
	requireAmount(t, pending, env.engine.CollateralBalance(dave))
	requireAmount(t, e18(30), env.engine.StableBalance(dave))
}

func TestStakeTopUpSettlesGainsFirst(t *testing.T) {
	env := newTestEnv(t, nil)
	env.grantIssuance(carol, e18(200))
	require.NoError(t, env.engine.Stake(carol, e18(100)))
	env.open(alice, e18(100), e18(2000))

	require.NoError(t, env.engine.Stake(carol, e18(100)))
	requireAmount(t, e18(10), env.engine.StableBalance(carol))
	requireAmount(t, e18(200), env.engine.StakeOf(carol))

	env.open(bob, e18(100), e18(2000))
	requireAmount(t, e18(10), env.engine.PendingStableGain(carol))
}

func TestStakeRequiresIssuanceBalance(t *testing.T) {
	env := newTestEnv(t, nil)
	require.ErrorIs(t, env.engine.Stake(carol, e18(1_000_000_000)), ErrInsufficientBalance)
	require.ErrorIs(t, env.engine.Stake(GasPoolAddress, e18(1)), ErrInvalidAccount)

	env.grantIssuance(carol, e18(5))
	require.ErrorIs(t, env.engine.Stake(carol, e18(6)), ErrInsufficientBalance)
	requireAmount(t, e18(5), env.engine.IssuanceBalance(carol))
	require.True(t, env.engine.StakeOf(carol).IsZero())

	// Without a stake the borrowing fee stays in the sink.
	env.open(alice, e18(100), e18(2000))
	require.ErrorIs(t, env.engine.Unstake(carol, nil), ErrInsufficientStake)
	require.True(t, env.engine.StableBalance(carol).IsZero())
	requireAmount(t, e18(10), env.engine.StableBalance(FeeSinkAddress))

	require.NoError(t, env.engine.Stake(carol, e18(5)))
	require.True(t, env.engine.IssuanceBalance(carol).IsZero())
	requireAmount(t, e18(5), env.engine.StakeOf(carol))
}
