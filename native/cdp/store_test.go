package cdp

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"cdpchain/storage"
)

// populated builds a state touching every persisted component: fee stakes,
// stability deposits and pending redistribution rewards.
func populated(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, nil)
	env.grantIssuance(dave, e18(80))
	require.NoError(t, env.engine.Stake(dave, e18(50)))
	env.open(alice, e18(60), e18(5000))
	env.open(bob, e18(25), e18(2000))
	env.open(carol, dec(t, "12.2"), e18(2000))
	require.NoError(t, env.engine.ProvideToSP(alice, e18(3000)))
	env.setPrice(90)
	_, err := env.engine.Liquidate(dave, carol)
	require.NoError(t, err)
	require.True(t, env.engine.HasPendingRewards(alice))
	return env
}

func requireSameState(t *testing.T, want, got *Engine) {
	t.Helper()
	require.Equal(t, want.Troves(), got.Troves())
	require.Equal(t, want.SortedTroves(), got.SortedTroves())
	require.Equal(t, want.TroveOwners(), got.TroveOwners())
	wantSys, err := want.System()
	require.NoError(t, err)
	gotSys, err := got.System()
	require.NoError(t, err)
	require.Equal(t, wantSys, gotSys)
	for _, addr := range []common.Address{alice, bob, carol, dave, StabilityPoolAddress, FeeSinkAddress, GasPoolAddress} {
		requireAmount(t, want.StableBalance(addr), got.StableBalance(addr))
		requireAmount(t, want.CollateralBalance(addr), got.CollateralBalance(addr))
		requireAmount(t, want.Surplus(addr), got.Surplus(addr))
		requireAmount(t, want.CompoundedDeposit(addr), got.CompoundedDeposit(addr))
		requireAmount(t, want.StakeOf(addr), got.StakeOf(addr))
		requireAmount(t, want.PendingStableGain(addr), got.PendingStableGain(addr))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := populated(t)
	db := storage.NewMemDB()
	defer db.Close()

	info, err := src.engine.SaveSnapshot(db)
	require.NoError(t, err)
	require.Zero(t, info.Seq)
	require.Positive(t, info.Size)

	dst := newTestEnv(t, nil)
	dst.setPrice(90)
	loaded, err := dst.engine.LoadSnapshot(db)
	require.NoError(t, err)
	require.Equal(t, info, loaded)
	requireSameState(t, src.engine, dst.engine)
	dst.requireStakeInvariant()

	// Both engines keep evolving identically after the restore.
	for _, env := range []*testEnv{src, dst} {
		require.NoError(t, env.engine.RepayStable(alice, e18(100), Hint{}))
		_, err := env.engine.ClaimCollateral(carol)
		if err != nil {
			require.ErrorIs(t, err, ErrNoCollateralToClaim)
		}
	}
	requireSameState(t, src.engine, dst.engine)
}

func TestSnapshotSequence(t *testing.T) {
	env := newTestEnv(t, nil)
	db, err := storage.NewLevelDB(filepath.Join(t.TempDir(), "cdp"))
	require.NoError(t, err)
	defer db.Close()

	_, err = env.engine.LoadSnapshot(db)
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	env.open(alice, e18(100), e18(2000))
	first, err := env.engine.SaveSnapshot(db)
	require.NoError(t, err)
	env.open(bob, e18(100), e18(2000))
	second, err := env.engine.SaveSnapshot(db)
	require.NoError(t, err)
	require.Equal(t, uint64(1), second.Seq)
	require.NotEqual(t, first.Checksum, second.Checksum)

	infos, err := ListSnapshots(db)
	require.NoError(t, err)
	require.Equal(t, []SnapshotInfo{first, second}, infos)

	_, err = env.engine.LoadSnapshotAt(db, first.Seq)
	require.NoError(t, err)
	require.Equal(t, []common.Address{alice}, env.engine.SortedTroves())
	require.Equal(t, StatusNonExistent, env.engine.TroveStatus(bob))

	_, err = env.engine.LoadSnapshot(db)
	require.NoError(t, err)
	require.Len(t, env.engine.SortedTroves(), 2)

	_, err = env.engine.LoadSnapshotAt(db, 7)
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotChecksumMismatch(t *testing.T) {
	env := populated(t)
	db := storage.NewMemDB()
	info, err := env.engine.SaveSnapshot(db)
	require.NoError(t, err)

	raw, err := db.Get(snapshotKey(info.Seq))
	require.NoError(t, err)
	var envelope storedEnvelope
	require.NoError(t, rlp.DecodeBytes(raw, &envelope))
	envelope.Payload[len(envelope.Payload)-1] ^= 0xff
	tampered, err := rlp.EncodeToBytes(&envelope)
	require.NoError(t, err)
	require.NoError(t, db.Put(snapshotKey(info.Seq), tampered))

	before := env.engine.Troves()
	_, err = env.engine.LoadSnapshot(db)
	require.ErrorIs(t, err, ErrSnapshotCorrupt)
	require.Equal(t, before, env.engine.Troves())

	_, err = ListSnapshots(db)
	require.ErrorIs(t, err, ErrSnapshotCorrupt)

	require.NoError(t, db.Put(snapshotLatestKey, []byte("latest")))
	_, err = env.engine.LoadSnapshot(db)
	require.ErrorIs(t, err, ErrSnapshotCorrupt)
}
