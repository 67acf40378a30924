package cdp

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"cdpchain/storage"
)

const snapshotVersion = 1

var (
	snapshotPrefix    = []byte("cdp/snapshot/")
	snapshotLatestKey = []byte("cdp/latest")

	ErrSnapshotNotFound = errors.New("cdp: no snapshot stored")
	ErrSnapshotCorrupt  = errors.New("cdp: snapshot checksum mismatch")
)

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	Seq      uint64
	Checksum [32]byte
	Size     int
}

type storedEnvelope struct {
	Version  uint64
	Checksum []byte
	Payload  []byte
}

type storedBalance struct {
	Account common.Address
	Amount  []byte
}

type storedTrove struct {
	Owner      common.Address
	Debt       []byte
	Coll       []byte
	Stake      []byte
	Status     uint64
	ArrayIndex uint64
	SnapColl   []byte
	SnapDebt   []byte
}

type storedDeposit struct {
	Depositor common.Address
	Initial   []byte
	P         []byte
	S         []byte
	G         []byte
	Scale     uint64
	Epoch     uint64
}

type storedScaleEntry struct {
	Epoch uint64
	Scale uint64
	Value []byte
}

type storedFeeStake struct {
	Staker  common.Address
	Amount  []byte
	FColl   []byte
	FStable []byte
}

type storedSnapshot struct {
	MaxTroves               uint64
	Troves                  []storedTrove
	Owners                  []common.Address
	Sorted                  []common.Address
	TotalStakes             []byte
	TotalStakesSnapshot     []byte
	TotalCollateralSnapshot []byte
	LColl                   []byte
	LDebt                   []byte
	LastCollError           []byte
	LastDebtError           []byte
	ActiveColl              []byte
	ActiveDebt              []byte
	DefaultColl             []byte
	DefaultDebt             []byte
	BaseRate                []byte
	LastFeeOperationTime    uint64
	Surplus                 []storedBalance
	SurplusColl             []byte
	Deposits                []storedDeposit
	TotalDeposits           []byte
	PoolColl                []byte
	P                       []byte
	CurrentScale            uint64
	CurrentEpoch            uint64
	Sums                    []storedScaleEntry
	Gains                   []storedScaleEntry
	PoolLastCollError       []byte
	PoolLastDebtLossError   []byte
	PoolLastIssuanceError   []byte
	FeeStakes               []storedFeeStake
	TotalStaked             []byte
	FColl                   []byte
	FStable                 []byte
	FeeSinkColl             []byte
	TotalIssued             []byte
	DeploymentTime          uint64
	Credited                []storedBalance
	Stable                  []storedBalance
	Wallets                 []storedBalance
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for addr := range m {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func encodeBalances(m map[common.Address]*uint256.Int) []storedBalance {
	out := make([]storedBalance, 0, len(m))
	for _, addr := range sortedAddresses(m) {
		out = append(out, storedBalance{Account: addr, Amount: m[addr].Bytes()})
	}
	return out
}

func decodeBalances(in []storedBalance) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(in))
	for _, b := range in {
		out[b.Account] = new(uint256.Int).SetBytes(b.Amount)
	}
	return out
}

func encodeScaleMap(m map[scaleKey]*uint256.Int) []storedScaleEntry {
	out := make([]storedScaleEntry, 0, len(m))
	for k, v := range m {
		out = append(out, storedScaleEntry{Epoch: k.Epoch, Scale: k.Scale, Value: v.Bytes()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Scale < out[j].Scale
	})
	return out
}

func decodeScaleMap(in []storedScaleEntry) map[scaleKey]*uint256.Int {
	out := make(map[scaleKey]*uint256.Int, len(in))
	for _, e := range in {
		out[scaleKey{Epoch: e.Epoch, Scale: e.Scale}] = new(uint256.Int).SetBytes(e.Value)
	}
	return out
}

func u256(b []byte) uint256.Int {
	var v uint256.Int
	v.SetBytes(b)
	return v
}

func (s *SystemState) encode() storedSnapshot {
	out := storedSnapshot{
		MaxTroves:               s.sorted.MaxSize(),
		Owners:                  append([]common.Address(nil), s.owners...),
		Sorted:                  s.sorted.IDs(),
		TotalStakes:             s.totalStakes.Bytes(),
		TotalStakesSnapshot:     s.totalStakesSnapshot.Bytes(),
		TotalCollateralSnapshot: s.totalCollateralSnapshot.Bytes(),
		LColl:                   s.lColl.Bytes(),
		LDebt:                   s.lDebt.Bytes(),
		LastCollError:           s.lastCollError.Bytes(),
		LastDebtError:           s.lastDebtError.Bytes(),
		ActiveColl:              s.active.Coll.Bytes(),
		ActiveDebt:              s.active.Debt.Bytes(),
		DefaultColl:             s.defaulted.Coll.Bytes(),
		DefaultDebt:             s.defaulted.Debt.Bytes(),
		BaseRate:                s.fees.BaseRate.Bytes(),
		LastFeeOperationTime:    uint64(s.fees.LastFeeOperationTime),
		Surplus:                 encodeBalances(s.surplus),
		SurplusColl:             s.surplusColl.Bytes(),
		TotalDeposits:           s.sp.totalDeposits.Bytes(),
		PoolColl:                s.sp.coll.Bytes(),
		P:                       s.sp.p.Bytes(),
		CurrentScale:            s.sp.currentScale,
		CurrentEpoch:            s.sp.currentEpoch,
		Sums:                    encodeScaleMap(s.sp.sums),
		Gains:                   encodeScaleMap(s.sp.gains),
		PoolLastCollError:       s.sp.lastCollError.Bytes(),
		PoolLastDebtLossError:   s.sp.lastDebtLossError.Bytes(),
		PoolLastIssuanceError:   s.sp.lastIssuanceError.Bytes(),
		TotalStaked:             s.sink.totalStaked.Bytes(),
		FColl:                   s.sink.fColl.Bytes(),
		FStable:                 s.sink.fStable.Bytes(),
		FeeSinkColl:             s.sink.coll.Bytes(),
		TotalIssued:             s.issuance.totalIssued.Bytes(),
		DeploymentTime:          uint64(s.issuance.deploymentTime),
		Credited:                encodeBalances(s.issuance.credited),
		Stable:                  encodeBalances(s.stable.balances),
		Wallets:                 encodeBalances(s.wallets.balances),
	}
	for _, addr := range sortedAddresses(s.troves) {
		t := s.troves[addr]
		out.Troves = append(out.Troves, storedTrove{
			Owner:      addr,
			Debt:       t.Debt.Bytes(),
			Coll:       t.Coll.Bytes(),
			Stake:      t.Stake.Bytes(),
			Status:     uint64(t.Status),
			ArrayIndex: t.ArrayIndex,
			SnapColl:   t.Snapshot.Coll.Bytes(),
			SnapDebt:   t.Snapshot.Debt.Bytes(),
		})
	}
	for _, addr := range sortedAddresses(s.sp.deposits) {
		d := s.sp.deposits[addr]
		out.Deposits = append(out.Deposits, storedDeposit{
			Depositor: addr,
			Initial:   d.Initial.Bytes(),
			P:         d.Snapshot.P.Bytes(),
			S:         d.Snapshot.S.Bytes(),
			G:         d.Snapshot.G.Bytes(),
			Scale:     d.Snapshot.Scale,
			Epoch:     d.Snapshot.Epoch,
		})
	}
	for _, addr := range sortedAddresses(s.sink.stakes) {
		st := s.sink.stakes[addr]
		out.FeeStakes = append(out.FeeStakes, storedFeeStake{
			Staker:  addr,
			Amount:  st.Amount.Bytes(),
			FColl:   st.FColl.Bytes(),
			FStable: st.FStable.Bytes(),
		})
	}
	return out
}

func decodeState(in storedSnapshot) (*SystemState, error) {
	s := newSystemState(in.MaxTroves, int64(in.DeploymentTime))
	for _, t := range in.Troves {
		s.troves[t.Owner] = &Trove{
			Owner:      t.Owner,
			Debt:       u256(t.Debt),
			Coll:       u256(t.Coll),
			Stake:      u256(t.Stake),
			Status:     Status(t.Status),
			ArrayIndex: t.ArrayIndex,
			Snapshot:   RewardSnapshot{Coll: u256(t.SnapColl), Debt: u256(t.SnapDebt)},
		}
	}
	s.owners = append([]common.Address(nil), in.Owners...)
	for i, owner := range s.owners {
		t := s.troves[owner]
		if !t.Active() || t.ArrayIndex != uint64(i) {
			return nil, fmt.Errorf("%w: owner %s out of place", ErrSnapshotCorrupt, owner.Hex())
		}
	}
	if err := s.sorted.Restore(in.Sorted); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	if s.sorted.Size() != len(s.owners) {
		return nil, fmt.Errorf("%w: index and owners disagree", ErrSnapshotCorrupt)
	}
	s.totalStakes = u256(in.TotalStakes)
	s.totalStakesSnapshot = u256(in.TotalStakesSnapshot)
	s.totalCollateralSnapshot = u256(in.TotalCollateralSnapshot)
	s.lColl = u256(in.LColl)
	s.lDebt = u256(in.LDebt)
	s.lastCollError = u256(in.LastCollError)
	s.lastDebtError = u256(in.LastDebtError)
	s.active = vault{Coll: u256(in.ActiveColl), Debt: u256(in.ActiveDebt)}
	s.defaulted = vault{Coll: u256(in.DefaultColl), Debt: u256(in.DefaultDebt)}
	s.fees = feeState{BaseRate: u256(in.BaseRate), LastFeeOperationTime: int64(in.LastFeeOperationTime)}
	s.surplus = decodeBalances(in.Surplus)
	s.surplusColl = u256(in.SurplusColl)

	for _, d := range in.Deposits {
		s.sp.deposits[d.Depositor] = &deposit{
			Initial: u256(d.Initial),
			Snapshot: depositSnapshot{
				P:     u256(d.P),
				S:     u256(d.S),
				G:     u256(d.G),
				Scale: d.Scale,
				Epoch: d.Epoch,
			},
		}
	}
	s.sp.totalDeposits = u256(in.TotalDeposits)
	s.sp.coll = u256(in.PoolColl)
	s.sp.p = u256(in.P)
	s.sp.currentScale = in.CurrentScale
	s.sp.currentEpoch = in.CurrentEpoch
	s.sp.sums = decodeScaleMap(in.Sums)
	s.sp.gains = decodeScaleMap(in.Gains)
	s.sp.lastCollError = u256(in.PoolLastCollError)
	s.sp.lastDebtLossError = u256(in.PoolLastDebtLossError)
	s.sp.lastIssuanceError = u256(in.PoolLastIssuanceError)

	for _, fs := range in.FeeStakes {
		s.sink.stakes[fs.Staker] = &feeStake{Amount: u256(fs.Amount), FColl: u256(fs.FColl), FStable: u256(fs.FStable)}
	}
	s.sink.totalStaked = u256(in.TotalStaked)
	s.sink.fColl = u256(in.FColl)
	s.sink.fStable = u256(in.FStable)
	s.sink.coll = u256(in.FeeSinkColl)
	s.issuance.totalIssued = u256(in.TotalIssued)
	s.issuance.credited = decodeBalances(in.Credited)

	s.stable = tokenLedgerFrom(in.Stable)
	s.wallets = tokenLedgerFrom(in.Wallets)
	return s, nil
}

func tokenLedgerFrom(in []storedBalance) tokenLedger {
	l := newTokenLedger()
	for _, b := range in {
		l.mint(b.Account, new(uint256.Int).SetBytes(b.Amount))
	}
	return l
}

func snapshotKey(seq uint64) []byte {
	return append(append([]byte(nil), snapshotPrefix...), []byte(fmt.Sprintf("%020d", seq))...)
}

// SaveSnapshot persists the current state under the next sequence number
// and marks it as the latest.
func (e *Engine) SaveSnapshot(db storage.Database) (SnapshotInfo, error) {
	e.mu.Lock()
	stored := e.state.encode()
	e.mu.Unlock()

	payload, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("cdp: encode snapshot: %w", err)
	}
	sum := blake3.Sum256(payload)
	envelope, err := rlp.EncodeToBytes(&storedEnvelope{Version: snapshotVersion, Checksum: sum[:], Payload: payload})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("cdp: encode envelope: %w", err)
	}
	seq, err := latestSeq(db)
	switch {
	case errors.Is(err, ErrSnapshotNotFound):
		seq = 0
	case err != nil:
		return SnapshotInfo{}, err
	default:
		seq++
	}
	err = db.WriteBatch([]storage.Entry{
		{Key: snapshotKey(seq), Value: envelope},
		{Key: snapshotLatestKey, Value: []byte(strconv.FormatUint(seq, 10))},
	})
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("cdp: write snapshot: %w", err)
	}
	return SnapshotInfo{Seq: seq, Checksum: sum, Size: len(envelope)}, nil
}

// LoadSnapshot replaces the engine state with the latest stored snapshot.
func (e *Engine) LoadSnapshot(db storage.Database) (SnapshotInfo, error) {
	seq, err := latestSeq(db)
	if err != nil {
		return SnapshotInfo{}, err
	}
	return e.LoadSnapshotAt(db, seq)
}

// LoadSnapshotAt replaces the engine state with snapshot seq.
func (e *Engine) LoadSnapshotAt(db storage.Database, seq uint64) (SnapshotInfo, error) {
	raw, err := db.Get(snapshotKey(seq))
	if errors.Is(err, storage.ErrNotFound) {
		return SnapshotInfo{}, ErrSnapshotNotFound
	}
	if err != nil {
		return SnapshotInfo{}, fmt.Errorf("cdp: read snapshot: %w", err)
	}
	stored, info, err := decodeEnvelope(raw)
	if err != nil {
		return SnapshotInfo{}, err
	}
	info.Seq = seq
	st, err := decodeState(stored)
	if err != nil {
		return SnapshotInfo{}, err
	}
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	return info, nil
}

// ListSnapshots reports every stored snapshot in sequence order.
func ListSnapshots(db storage.Database) ([]SnapshotInfo, error) {
	var (
		out     []SnapshotInfo
		iterErr error
	)
	err := db.Iterate(snapshotPrefix, func(key, value []byte) bool {
		seq, err := strconv.ParseUint(string(key[len(snapshotPrefix):]), 10, 64)
		if err != nil {
			iterErr = fmt.Errorf("%w: bad key %q", ErrSnapshotCorrupt, key)
			return false
		}
		_, info, err := decodeEnvelope(value)
		if err != nil {
			iterErr = fmt.Errorf("snapshot %d: %w", seq, err)
			return false
		}
		info.Seq = seq
		out = append(out, info)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}

func latestSeq(db storage.Database) (uint64, error) {
	raw, err := db.Get(snapshotLatestKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrSnapshotNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("cdp: read latest pointer: %w", err)
	}
	seq, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: latest pointer %q", ErrSnapshotCorrupt, raw)
	}
	return seq, nil
}

func decodeEnvelope(raw []byte) (storedSnapshot, SnapshotInfo, error) {
	var envelope storedEnvelope
	if err := rlp.DecodeBytes(raw, &envelope); err != nil {
		return storedSnapshot{}, SnapshotInfo{}, fmt.Errorf("cdp: decode envelope: %w", err)
	}
	if envelope.Version != snapshotVersion {
		return storedSnapshot{}, SnapshotInfo{}, fmt.Errorf("cdp: unsupported snapshot version %d", envelope.Version)
	}
	sum := blake3.Sum256(envelope.Payload)
	if !bytes.Equal(sum[:], envelope.Checksum) {
		return storedSnapshot{}, SnapshotInfo{}, ErrSnapshotCorrupt
	}
	var stored storedSnapshot
	if err := rlp.DecodeBytes(envelope.Payload, &stored); err != nil {
		return storedSnapshot{}, SnapshotInfo{}, fmt.Errorf("cdp: decode snapshot: %w", err)
	}
	return stored, SnapshotInfo{Checksum: sum, Size: len(raw)}, nil
}
