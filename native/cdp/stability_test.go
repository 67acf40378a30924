package cdp

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func requireNear(t *testing.T, want, got *uint256.Int, tolerance uint64) {
	t.Helper()
	diff := absDiff(want, got)
	if !diff.LtUint64(tolerance + 1) {
		require.Failf(t, "amount out of tolerance", "want %s, got %s", want.Dec(), got.Dec())
	}
}

func TestStabilityPoolSharesLossProRata(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	env.open(carol, e18(100), e18(2000))
	env.open(bob, e18(13), e18(2000))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(1500)))
	require.NoError(t, env.engine.ProvideToSP(carol, e18(1500)))
	env.setPrice(180)

	require.ErrorIs(t, env.engine.WithdrawFromSP(alice, e18(1)), ErrUndercollateralized)

	totals, err := env.engine.Liquidate(dave, bob)
	require.NoError(t, err)
	requireAmount(t, e18(2210), totals.DebtToOffset)
	require.True(t, totals.DebtToRedistribute.IsZero())
	requireAmount(t, e18(790), env.engine.TotalDeposits())

	for _, depositor := range []struct {
		name string
		gain *uint256.Int
		dep  *uint256.Int
	}{
		{"alice", env.engine.DepositorCollGain(alice), env.engine.CompoundedDeposit(alice)},
		{"carol", env.engine.DepositorCollGain(carol), env.engine.CompoundedDeposit(carol)},
	} {
		t.Run(depositor.name, func(t *testing.T) {
			requireNear(t, dec(t, "6.4675"), depositor.gain, 10_000)
			requireNear(t, e18(395), depositor.dep, 10_000)
		})
	}

	gain := env.engine.DepositorCollGain(alice)
	require.NoError(t, env.engine.WithdrawCollGainToTrove(alice, Hint{}))
	requireAmount(t, new(uint256.Int).Add(e18(100), gain), env.engine.Trove(alice).Coll)
	require.True(t, env.engine.DepositorCollGain(alice).IsZero())
	require.ErrorIs(t, env.engine.WithdrawCollGainToTrove(alice, Hint{}), ErrNoCollGain)
	require.ErrorIs(t, env.engine.WithdrawCollGainToTrove(dave, Hint{}), ErrNoDeposit)

	before := env.engine.StableBalance(carol)
	deposit := env.engine.CompoundedDeposit(carol)
	require.NoError(t, env.engine.WithdrawFromSP(carol, e18(10_000)))
	requireAmount(t, new(uint256.Int).Add(before, deposit), env.engine.StableBalance(carol))
	require.ErrorIs(t, env.engine.WithdrawFromSP(carol, nil), ErrNoDeposit)
	env.requireStakeInvariant()
}

func TestProvideToSPRejections(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	require.ErrorIs(t, env.engine.ProvideToSP(alice, new(uint256.Int)), ErrZeroAmount)
	require.ErrorIs(t, env.engine.ProvideToSP(alice, e18(2001)), ErrInsufficientBalance)
	require.ErrorIs(t, env.engine.ProvideToSP(GasPoolAddress, e18(1)), ErrInsufficientBalance)
	require.ErrorIs(t, env.engine.WithdrawFromSP(bob, nil), ErrNoDeposit)

	require.NoError(t, env.engine.ProvideToSP(alice, e18(500)))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(500)))
	requireAmount(t, e18(1000), env.engine.CompoundedDeposit(alice))
	requireAmount(t, e18(1000), env.engine.StableBalance(StabilityPoolAddress))
}

func TestIssuanceFractionHalvesYearly(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.engine.Params()
	env.engine.read(func(st *SystemState) {
		require.True(t, st.cumulativeIssuanceFraction(env.now.Unix(), &p).IsZero())
		year := env.now.Add(365 * 24 * time.Hour).Unix()
		require.InDelta(t, 0.5, ToFloat(st.cumulativeIssuanceFraction(year, &p)), 1e-6)
	})
}

func TestDepositorsEarnIssuance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(1000)))

	env.advance(24 * time.Hour)
	require.NoError(t, env.engine.WithdrawFromSP(alice, nil))

	sys, err := env.engine.System()
	require.NoError(t, err)
	require.False(t, sys.TotalIssued.IsZero())
	credited := env.engine.IssuanceBalance(alice)
	require.False(t, credited.Gt(sys.TotalIssued))
	requireNear(t, sys.TotalIssued, credited, 1000)

	// No time passed, so a second claim adds nothing.
	require.NoError(t, env.engine.WithdrawFromSP(alice, nil))
	requireAmount(t, credited, env.engine.IssuanceBalance(alice))
	requireAmount(t, e18(1000), env.engine.CompoundedDeposit(alice))
}

func TestIssuanceWithEmptyPoolIsForfeited(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(alice, e18(100), e18(2000))
	env.advance(24 * time.Hour)
	require.NoError(t, env.engine.ProvideToSP(alice, e18(1000)))

	sys, err := env.engine.System()
	require.NoError(t, err)
	require.False(t, sys.TotalIssued.IsZero())

	require.NoError(t, env.engine.WithdrawFromSP(alice, nil))
	require.True(t, env.engine.IssuanceBalance(alice).IsZero())
}
