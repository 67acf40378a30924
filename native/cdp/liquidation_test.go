package cdp

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cdpchain/core/events"
)

// openPair opens a well collateralised trove for alice and a thin one for
// bob that drops below MCR once the price falls to 180.
func openPair(env *testEnv) {
	env.open(alice, e18(100), e18(2000))
	env.open(bob, e18(13), e18(2000))
}

func TestLiquidateRedistributesWithoutPoolDeposits(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	env.setPrice(180)

	before, err := env.engine.TCR()
	require.NoError(t, err)

	totals, err := env.engine.Liquidate(carol, bob)
	require.NoError(t, err)
	require.Equal(t, ModeNormal, totals.Mode)
	require.Equal(t, []common.Address{bob}, totals.Liquidated)
	requireAmount(t, dec(t, "0.065"), totals.CollGasCompensation)
	requireAmount(t, dec(t, "12.935"), totals.CollToRedistribute)
	requireAmount(t, e18(2210), totals.DebtToRedistribute)
	requireAmount(t, new(uint256.Int), totals.DebtToOffset)

	// Everything the trove held is accounted for.
	sum := new(uint256.Int).Add(totals.CollGasCompensation, totals.CollToSendToSP)
	sum.Add(sum, totals.CollToRedistribute)
	requireAmount(t, e18(13), sum)

	require.Equal(t, StatusClosedByLiquidation, env.engine.TroveStatus(bob))
	require.Equal(t, []common.Address{alice}, env.engine.SortedTroves())
	requireAmount(t, e18(200), env.engine.StableBalance(carol))
	requireAmount(t, dec(t, "0.065"), env.engine.CollateralBalance(carol))

	pos := env.engine.EntirePosition(alice)
	requireAmount(t, dec(t, "112.935"), pos.Coll)
	requireAmount(t, e18(4420), pos.Debt)
	requireAmount(t, dec(t, "12.935"), pos.PendingCollReward)
	requireAmount(t, e18(2210), pos.PendingDebtReward)
	require.True(t, env.engine.HasPendingRewards(alice))

	after, err := env.engine.TCR()
	require.NoError(t, err)
	require.True(t, after.Lt(before))
	floor := mulDiv(before, uint256.NewInt(995), uint256.NewInt(1000))
	require.True(t, after.Gt(floor), "TCR fell by more than gas compensation")

	require.Len(t, env.rec.OfType(events.TypeTroveLiquidated), 1)
	require.Len(t, env.rec.OfType(events.TypeRedistribution), 1)
	env.requireStakeInvariant()
}

func TestLiquidationTotalStakesDropByStake(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	bobStake := env.engine.Trove(bob).Stake
	var totalBefore uint256.Int
	env.engine.read(func(st *SystemState) { totalBefore = st.totalStakes })

	env.setPrice(180)
	_, err := env.engine.Liquidate(carol, bob)
	require.NoError(t, err)

	env.engine.read(func(st *SystemState) {
		requireAmount(t, new(uint256.Int).Sub(&totalBefore, bobStake), &st.totalStakes)
	})
}

func TestApplyPendingRewardsIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	env.setPrice(180)
	_, err := env.engine.Liquidate(carol, bob)
	require.NoError(t, err)

	require.NoError(t, env.engine.ApplyPendingRewards(alice))
	require.False(t, env.engine.HasPendingRewards(alice))
	env.engine.read(func(st *SystemState) {
		requireAmount(t, dec(t, "112.935"), &st.troves[alice].Coll)
		requireAmount(t, e18(4420), &st.troves[alice].Debt)
		require.True(t, st.defaulted.Debt.IsZero())
		require.True(t, st.defaulted.Coll.IsZero())
	})

	first := env.engine.Trove(alice)
	eventsBefore := len(env.rec.Events())
	require.NoError(t, env.engine.ApplyPendingRewards(alice))
	require.Equal(t, first, env.engine.Trove(alice))
	require.Len(t, env.rec.Events(), eventsBefore)
}

func TestNewTroveStakeExcludesEarlierRedistribution(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	env.setPrice(180)
	_, err := env.engine.Liquidate(carol, bob)
	require.NoError(t, err)

	env.open(dave, e18(50), e18(2000))
	want := mulDiv(e18(50), e18(100), dec(t, "112.935"))
	requireAmount(t, want, env.engine.Trove(dave).Stake)
	require.False(t, env.engine.HasPendingRewards(dave))
	env.requireStakeInvariant()
}

func TestLiquidateAtExactlyMCRIsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	env.open(bob, dec(t, "12.155"), e18(2000))

	icr, err := env.engine.CurrentICR(bob)
	require.NoError(t, err)
	requireAmount(t, env.engine.Params().MCR, icr)

	_, err = env.engine.Liquidate(carol, bob)
	require.ErrorIs(t, err, ErrNothingToLiquidate)
	require.True(t, IsNoop(err))
	require.Equal(t, StatusActive, env.engine.TroveStatus(bob))

	env.setPrice(199)
	_, err = env.engine.Liquidate(carol, bob)
	require.NoError(t, err)
	require.Equal(t, StatusClosedByLiquidation, env.engine.TroveStatus(bob))
}

func TestLiquidateRejectsLastTroveAndInactive(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	env.setPrice(10)

	_, err := env.engine.Liquidate(carol, alice)
	require.ErrorIs(t, err, ErrOnlyOneTrove)
	_, err = env.engine.Liquidate(carol, bob)
	require.ErrorIs(t, err, ErrTroveNotActive)
	_, err = env.engine.BatchLiquidateTroves(carol, nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}

func TestLiquidateTrovesWalksFromTheTail(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	env.open(carol, dec(t, "13.5"), e18(2000))
	env.open(bob, e18(13), e18(2000))
	require.Equal(t, []common.Address{alice, carol, bob}, env.engine.SortedTroves())

	env.setPrice(180)
	totals, err := env.engine.LiquidateTroves(dave, 10)
	require.NoError(t, err)
	require.Equal(t, []common.Address{bob, carol}, totals.Liquidated)
	require.Equal(t, []common.Address{alice}, env.engine.SortedTroves())
	requireAmount(t, e18(400), env.engine.StableBalance(dave))

	summary := env.rec.OfType(events.TypeLiquidation)
	require.Len(t, summary, 1)
	require.Equal(t, 2, summary[0].(events.Liquidation).Count)

	_, err = env.engine.LiquidateTroves(dave, 10)
	require.ErrorIs(t, err, ErrNothingToLiquidate)
	env.requireStakeInvariant()
}

func TestBatchLiquidateSkipsIneligible(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	env.setPrice(180)

	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee")
	totals, err := env.engine.BatchLiquidateTroves(carol, []common.Address{alice, stranger, bob})
	require.NoError(t, err)
	require.Equal(t, []common.Address{bob}, totals.Liquidated)
	require.Equal(t, StatusActive, env.engine.TroveStatus(alice))
}

func TestLiquidateOffsetsAgainstStabilityPool(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	require.NoError(t, env.engine.ProvideToSP(alice, e18(1000)))
	env.setPrice(180)

	totals, err := env.engine.Liquidate(carol, bob)
	require.NoError(t, err)
	requireAmount(t, e18(1000), totals.DebtToOffset)
	requireAmount(t, e18(1210), totals.DebtToRedistribute)
	wantToSP := mulDiv(dec(t, "12.935"), e18(1000), e18(2210))
	requireAmount(t, wantToSP, totals.CollToSendToSP)
	sum := new(uint256.Int).Add(totals.CollGasCompensation, totals.CollToSendToSP)
	sum.Add(sum, totals.CollToRedistribute)
	requireAmount(t, e18(13), sum)

	// The pool was emptied, so the deposit is gone and its gain holds the
	// offset collateral up to division dust.
	require.True(t, env.engine.TotalDeposits().IsZero())
	require.True(t, env.engine.CompoundedDeposit(alice).IsZero())
	requireAmount(t, new(uint256.Int), env.engine.StableBalance(StabilityPoolAddress))
	gain := env.engine.DepositorCollGain(alice)
	require.False(t, gain.Gt(wantToSP))
	require.True(t, new(uint256.Int).Sub(wantToSP, gain).LtUint64(1000))

	require.NoError(t, env.engine.WithdrawFromSP(alice, nil))
	requireAmount(t, gain, env.engine.CollateralBalance(alice))
	require.ErrorIs(t, env.engine.WithdrawFromSP(alice, nil), ErrNoDeposit)
	env.requireStakeInvariant()
}

// recoveryPair leaves the system in Recovery Mode at price 100 with bob's
// ICR between MCR and the TCR and a pool large enough to absorb him.
func recoveryPair(t *testing.T, env *testEnv) {
	t.Helper()
	env.open(alice, e18(60), e18(5000))
	env.open(bob, e18(25), e18(2000))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(3000)))
	env.setPrice(100)
	mode, err := env.engine.Mode()
	require.NoError(t, err)
	require.Equal(t, ModeRecovery, mode)
}

func TestRecoveryModeRestrictsBorrowers(t *testing.T) {
	env := newTestEnv(t, nil)
	recoveryPair(t, env)

	require.NoError(t, env.engine.Fund(carol, e18(10)))
	require.ErrorIs(t, env.engine.OpenTrove(carol, e18(10), e18(2000), DecimalPrecision, Hint{}), ErrICRBelowCCR)
	require.ErrorIs(t, env.engine.CloseTrove(bob), ErrRecoveryMode)
	require.ErrorIs(t, env.engine.WithdrawColl(alice, e18(1), Hint{}), ErrCollWithdrawalInRecovery)
	require.ErrorIs(t, env.engine.WithdrawStable(alice, e18(100), DecimalPrecision, Hint{}), ErrICRBelowCCR)
}

func TestRecoveryModeCappedOffsetLeavesSurplus(t *testing.T) {
	env := newTestEnv(t, nil)
	recoveryPair(t, env)

	totals, err := env.engine.Liquidate(dave, bob)
	require.NoError(t, err)
	require.Equal(t, ModeRecovery, totals.Mode)
	requireAmount(t, e18(2210), totals.DebtToOffset)
	requireAmount(t, dec(t, "0.12155"), totals.CollGasCompensation)
	requireAmount(t, dec(t, "24.18845"), totals.CollToSendToSP)
	requireAmount(t, dec(t, "0.69"), totals.CollSurplus)
	requireAmount(t, new(uint256.Int), totals.DebtToRedistribute)

	require.Equal(t, StatusClosedByLiquidation, env.engine.TroveStatus(bob))
	requireAmount(t, dec(t, "0.69"), env.engine.Surplus(bob))
	requireAmount(t, e18(790), env.engine.TotalDeposits())
	compounded := env.engine.CompoundedDeposit(alice)
	require.False(t, compounded.Gt(e18(790)))
	require.True(t, new(uint256.Int).Sub(e18(790), compounded).LtUint64(10_000))

	// A recipient that cannot take the payout aborts the claim.
	env.blocked[bob] = true
	_, err = env.engine.ClaimCollateral(bob)
	require.ErrorIs(t, err, ErrPayoutRejected)
	require.True(t, IsFatal(err))
	requireAmount(t, dec(t, "0.69"), env.engine.Surplus(bob))

	delete(env.blocked, bob)
	claimed, err := env.engine.ClaimCollateral(bob)
	require.NoError(t, err)
	requireAmount(t, dec(t, "0.69"), claimed)
	requireAmount(t, dec(t, "0.69"), env.engine.CollateralBalance(bob))
	_, err = env.engine.ClaimCollateral(bob)
	require.ErrorIs(t, err, ErrNoCollateralToClaim)
}

// recoveryLadder opens four troves that sit between MCR and CCR at price 100
// with a pool that covers two of the small ones but never alice.
func recoveryLadder(t *testing.T, env *testEnv) {
	t.Helper()
	env.open(alice, e18(60), e18(5000))
	env.open(bob, e18(25), e18(2000))
	env.open(carol, dec(t, "25.5"), e18(2000))
	env.open(dave, e18(26), e18(2000))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(4500)))
	env.setPrice(100)
}

func TestRecoveryModeSequenceSkipsAndStopsAtTCR(t *testing.T) {
	liquidator := common.HexToAddress("0x00000000000000000000000000000000000000e5")
	cases := []struct {
		name      string
		liquidate func(env *testEnv) (*LiquidationTotals, error)
	}{
		{"sequence", func(env *testEnv) (*LiquidationTotals, error) {
			return env.engine.LiquidateTroves(liquidator, 10)
		}},
		{"batch", func(env *testEnv) (*LiquidationTotals, error) {
			return env.engine.BatchLiquidateTroves(liquidator, []common.Address{alice, bob, carol, dave})
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			recoveryLadder(t, env)

			before, err := env.engine.TCR()
			require.NoError(t, err)
			require.True(t, before.Gt(dec(t, "1.151")) && before.Lt(dec(t, "1.152")), before.Dec())
			// dave is under CCR but above the TCR, so he is never eligible.
			daveICR, err := env.engine.CurrentICR(dave)
			require.NoError(t, err)
			require.True(t, daveICR.Lt(env.engine.Params().CCR))
			require.True(t, daveICR.Gt(before))

			totals, err := tc.liquidate(env)
			require.NoError(t, err)
			require.Equal(t, ModeRecovery, totals.Mode)
			require.Equal(t, []common.Address{bob, carol}, totals.Liquidated)
			requireAmount(t, e18(4420), totals.DebtToOffset)
			require.True(t, totals.DebtToRedistribute.IsZero())

			// alice was eligible but the remaining pool could not absorb her.
			require.Equal(t, StatusActive, env.engine.TroveStatus(alice))
			require.Equal(t, StatusActive, env.engine.TroveStatus(dave))
			requireAmount(t, e18(80), env.engine.TotalDeposits())

			after, err := env.engine.TCR()
			require.NoError(t, err)
			require.True(t, after.Gt(before))
			require.True(t, after.Gt(dec(t, "1.1566")) && after.Lt(dec(t, "1.1568")), after.Dec())
			daveICR, err = env.engine.CurrentICR(dave)
			require.NoError(t, err)
			require.True(t, daveICR.Gt(after))
			env.requireStakeInvariant()
		})
	}
}

func TestRecoveryModeRedistributesUnderwaterTrove(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(60), e18(5000))
	env.open(bob, e18(25), e18(2000))
	env.open(carol, dec(t, "12.2"), e18(2000))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(3000)))
	env.setPrice(90)

	totals, err := env.engine.Liquidate(dave, carol)
	require.NoError(t, err)
	require.Equal(t, ModeRecovery, totals.Mode)
	requireAmount(t, new(uint256.Int), totals.DebtToOffset)
	requireAmount(t, e18(2210), totals.DebtToRedistribute)
	requireAmount(t, e18(3000), env.engine.TotalDeposits())
	env.requireStakeInvariant()
}

func TestPayoutRejectionRollsBackLiquidation(t *testing.T) {
	env := newTestEnv(t, nil)
	openPair(env)
	env.setPrice(180)
	env.blocked[carol] = true

	_, err := env.engine.Liquidate(carol, bob)
	require.ErrorIs(t, err, ErrPayoutRejected)
	require.Equal(t, StatusActive, env.engine.TroveStatus(bob))
	require.False(t, env.engine.HasPendingRewards(alice))
	requireAmount(t, e18(400), env.engine.StableBalance(GasPoolAddress))
}
