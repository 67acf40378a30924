package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/native/cdp/sortedtroves"
)

// vault is a coll/debt pair held by one of the protocol pools.
type vault struct {
	Coll uint256.Int
	Debt uint256.Int
}

type feeState struct {
	BaseRate             uint256.Int
	LastFeeOperationTime int64
}

type depositSnapshot struct {
	P     uint256.Int
	S     uint256.Int
	G     uint256.Int
	Scale uint64
	Epoch uint64
}

type deposit struct {
	Initial  uint256.Int
	Snapshot depositSnapshot
}

type scaleKey struct {
	Epoch uint64
	Scale uint64
}

type stabilityPool struct {
	deposits          map[common.Address]*deposit
	totalDeposits     uint256.Int
	coll              uint256.Int
	p                 uint256.Int
	currentScale      uint64
	currentEpoch      uint64
	sums              map[scaleKey]*uint256.Int
	gains             map[scaleKey]*uint256.Int
	lastCollError     uint256.Int
	lastDebtLossError uint256.Int
	lastIssuanceError uint256.Int
}

type feeStake struct {
	Amount  uint256.Int
	FColl   uint256.Int
	FStable uint256.Int
}

type feeSink struct {
	stakes      map[common.Address]*feeStake
	totalStaked uint256.Int
	fColl       uint256.Int
	fStable     uint256.Int
	coll        uint256.Int
}

type issuanceState struct {
	totalIssued    uint256.Int
	deploymentTime int64
	// credited holds issuance paid out to depositors.
	credited map[common.Address]*uint256.Int
}

// SystemState is the whole protocol state. The engine mutates a clone of it
// per operation and swaps the clone in only when the operation succeeds.
type SystemState struct {
	troves map[common.Address]*Trove
	owners []common.Address
	sorted *sortedtroves.List

	totalStakes             uint256.Int
	totalStakesSnapshot     uint256.Int
	totalCollateralSnapshot uint256.Int
	lColl                   uint256.Int
	lDebt                   uint256.Int
	lastCollError           uint256.Int
	lastDebtError           uint256.Int

	active      vault
	defaulted   vault
	fees        feeState
	surplus     map[common.Address]*uint256.Int
	surplusColl uint256.Int

	sp       stabilityPool
	sink     feeSink
	issuance issuanceState

	stable  tokenLedger
	wallets tokenLedger
}

func newSystemState(maxTroves uint64, genesis int64) *SystemState {
	st := &SystemState{
		troves:  make(map[common.Address]*Trove),
		surplus: make(map[common.Address]*uint256.Int),
		sp: stabilityPool{
			deposits: make(map[common.Address]*deposit),
			sums:     make(map[scaleKey]*uint256.Int),
			gains:    make(map[scaleKey]*uint256.Int),
		},
		sink:     feeSink{stakes: make(map[common.Address]*feeStake)},
		issuance: issuanceState{deploymentTime: genesis, credited: make(map[common.Address]*uint256.Int)},
		stable:   newTokenLedger(),
		wallets:  newTokenLedger(),
	}
	st.sp.p.Set(DecimalPrecision)
	st.fees.LastFeeOperationTime = genesis
	st.sorted = sortedtroves.New(maxTroves, st)
	return st
}

// Clone deep copies the state. The sorted index of the copy ranks against the
// copy.
func (s *SystemState) Clone() *SystemState {
	out := &SystemState{
		troves:                  make(map[common.Address]*Trove, len(s.troves)),
		owners:                  append([]common.Address(nil), s.owners...),
		totalStakes:             s.totalStakes,
		totalStakesSnapshot:     s.totalStakesSnapshot,
		totalCollateralSnapshot: s.totalCollateralSnapshot,
		lColl:                   s.lColl,
		lDebt:                   s.lDebt,
		lastCollError:           s.lastCollError,
		lastDebtError:           s.lastDebtError,
		active:                  s.active,
		defaulted:               s.defaulted,
		fees:                    s.fees,
		surplus:                 cloneBalances(s.surplus),
		surplusColl:             s.surplusColl,
		sp: stabilityPool{
			deposits:          make(map[common.Address]*deposit, len(s.sp.deposits)),
			totalDeposits:     s.sp.totalDeposits,
			coll:              s.sp.coll,
			p:                 s.sp.p,
			currentScale:      s.sp.currentScale,
			currentEpoch:      s.sp.currentEpoch,
			sums:              cloneScaleMap(s.sp.sums),
			gains:             cloneScaleMap(s.sp.gains),
			lastCollError:     s.sp.lastCollError,
			lastDebtLossError: s.sp.lastDebtLossError,
			lastIssuanceError: s.sp.lastIssuanceError,
		},
		sink: feeSink{
			stakes:      make(map[common.Address]*feeStake, len(s.sink.stakes)),
			totalStaked: s.sink.totalStaked,
			fColl:       s.sink.fColl,
			fStable:     s.sink.fStable,
			coll:        s.sink.coll,
		},
		issuance: issuanceState{
			totalIssued:    s.issuance.totalIssued,
			deploymentTime: s.issuance.deploymentTime,
			credited:       cloneBalances(s.issuance.credited),
		},
		stable:  s.stable.clone(),
		wallets: s.wallets.clone(),
	}
	for addr, t := range s.troves {
		cp := *t
		out.troves[addr] = &cp
	}
	for addr, d := range s.sp.deposits {
		cp := *d
		out.sp.deposits[addr] = &cp
	}
	for addr, stake := range s.sink.stakes {
		cp := *stake
		out.sink.stakes[addr] = &cp
	}
	out.sorted = s.sorted.Clone(out)
	return out
}

func cloneBalances(in map[common.Address]*uint256.Int) map[common.Address]*uint256.Int {
	out := make(map[common.Address]*uint256.Int, len(in))
	for addr, v := range in {
		out[addr] = v.Clone()
	}
	return out
}

func cloneScaleMap(in map[scaleKey]*uint256.Int) map[scaleKey]*uint256.Int {
	out := make(map[scaleKey]*uint256.Int, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func addBalance(m map[common.Address]*uint256.Int, addr common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	bal, ok := m[addr]
	if !ok {
		bal = new(uint256.Int)
		m[addr] = bal
	}
	bal.Add(bal, amount)
}

func (s *SystemState) trove(addr common.Address) *Trove {
	return s.troves[addr]
}

// NominalICR ranks a trove for the sorted index, pending rewards included.
func (s *SystemState) NominalICR(addr common.Address) *uint256.Int {
	coll, debt := s.currentAmounts(addr)
	return ComputeNominalCR(coll, debt)
}

// currentICR is the trove's ratio at price with pending rewards applied.
func (s *SystemState) currentICR(addr common.Address, price *uint256.Int) *uint256.Int {
	coll, debt := s.currentAmounts(addr)
	return ComputeCR(coll, debt, price)
}

// entireSystemColl counts collateral backing debt: active plus default pool.
func (s *SystemState) entireSystemColl() *uint256.Int {
	return new(uint256.Int).Add(&s.active.Coll, &s.defaulted.Coll)
}

func (s *SystemState) entireSystemDebt() *uint256.Int {
	return new(uint256.Int).Add(&s.active.Debt, &s.defaulted.Debt)
}

func (s *SystemState) tcr(price *uint256.Int) *uint256.Int {
	return ComputeCR(s.entireSystemColl(), s.entireSystemDebt(), price)
}

func (s *SystemState) mode(price, ccr *uint256.Int) SystemMode {
	if s.tcr(price).Lt(ccr) {
		return ModeRecovery
	}
	return ModeNormal
}

// newTCR projects the TCR after a change to system collateral and debt.
func (s *SystemState) newTCR(collChange *uint256.Int, collIncrease bool, debtChange *uint256.Int, debtIncrease bool, price *uint256.Int) *uint256.Int {
	coll := s.entireSystemColl()
	debt := s.entireSystemDebt()
	if collIncrease {
		coll.Add(coll, collChange)
	} else {
		coll = subFloor(coll, collChange)
	}
	if debtIncrease {
		debt.Add(debt, debtChange)
	} else {
		debt = subFloor(debt, debtChange)
	}
	return ComputeCR(coll, debt, price)
}

func (s *SystemState) addOwner(addr common.Address) uint64 {
	s.owners = append(s.owners, addr)
	return uint64(len(s.owners) - 1)
}

// removeOwner swaps the last owner into the removed slot.
func (s *SystemState) removeOwner(addr common.Address) {
	t := s.troves[addr]
	if t == nil || len(s.owners) == 0 {
		return
	}
	idx := t.ArrayIndex
	last := len(s.owners) - 1
	if idx > uint64(last) || s.owners[idx] != addr {
		return
	}
	moved := s.owners[last]
	s.owners[idx] = moved
	s.owners = s.owners[:last]
	if moved != addr {
		s.troves[moved].ArrayIndex = idx
	}
}

// closeTrove retires an active trove. The last trove can never be closed.
func (s *SystemState) closeTrove(addr common.Address, status Status) error {
	t := s.troves[addr]
	if !t.Active() {
		return ErrTroveNotActive
	}
	if len(s.owners) <= 1 || s.sorted.Size() <= 1 {
		return ErrOnlyOneTrove
	}
	s.removeOwner(addr)
	if err := s.sorted.Remove(addr); err != nil {
		return err
	}
	t.Status = status
	t.Coll.Clear()
	t.Debt.Clear()
	t.Stake.Clear()
	t.Snapshot = RewardSnapshot{}
	t.ArrayIndex = 0
	return nil
}
