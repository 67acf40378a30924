package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TroveView is a read-only projection of a trove with pending rewards applied.
type TroveView struct {
	Owner      common.Address
	Status     Status
	Debt       *uint256.Int
	Coll       *uint256.Int
	Stake      *uint256.Int
	NICR       *uint256.Int
	ICR        *uint256.Int
	ArrayIndex uint64
}

// PoolBalances is a coll/debt pair reported for the protocol pools.
type PoolBalances struct {
	Coll *uint256.Int
	Debt *uint256.Int
}

// SystemView summarises the global state at one price.
type SystemView struct {
	Price           *uint256.Int
	TCR             *uint256.Int
	Mode            SystemMode
	TroveCount      int
	Active          PoolBalances
	Default         PoolBalances
	TotalStakes     *uint256.Int
	LColl           *uint256.Int
	LDebt           *uint256.Int
	BaseRate        *uint256.Int
	LastFeeOpTime   int64
	StableSupply    *uint256.Int
	PoolDeposits    *uint256.Int
	PoolColl        *uint256.Int
	SurplusColl     *uint256.Int
	FeeSinkColl     *uint256.Int
	TotalIssued     *uint256.Int
	CollateralFloat *uint256.Int
}

func (e *Engine) read(fn func(st *SystemState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

func (st *SystemState) troveView(addr common.Address, price *uint256.Int) TroveView {
	view := TroveView{Owner: addr, Debt: new(uint256.Int), Coll: new(uint256.Int), Stake: new(uint256.Int), NICR: new(uint256.Int), ICR: new(uint256.Int)}
	t := st.trove(addr)
	if t == nil {
		return view
	}
	view.Status = t.Status
	view.ArrayIndex = t.ArrayIndex
	view.Stake = t.Stake.Clone()
	if !t.Active() {
		return view
	}
	view.Coll, view.Debt = st.currentAmounts(addr)
	view.NICR = ComputeNominalCR(view.Coll, view.Debt)
	if price != nil {
		view.ICR = ComputeCR(view.Coll, view.Debt, price)
	}
	return view
}

// Trove returns the trove of addr. ICR is left zero when the price is
// unavailable.
func (e *Engine) Trove(addr common.Address) TroveView {
	price, _ := e.price()
	var view TroveView
	e.read(func(st *SystemState) { view = st.troveView(addr, price) })
	return view
}

// Troves lists active troves from the highest NICR to the lowest.
func (e *Engine) Troves() []TroveView {
	price, _ := e.price()
	var out []TroveView
	e.read(func(st *SystemState) {
		ids := st.sorted.IDs()
		out = make([]TroveView, 0, len(ids))
		for _, id := range ids {
			out = append(out, st.troveView(id, price))
		}
	})
	return out
}

func (e *Engine) TroveStatus(addr common.Address) Status {
	var status Status
	e.read(func(st *SystemState) {
		if t := st.trove(addr); t != nil {
			status = t.Status
		}
	})
	return status
}

// EntirePosition returns debt and collateral including pending rewards.
func (e *Engine) EntirePosition(addr common.Address) EntirePosition {
	var pos EntirePosition
	e.read(func(st *SystemState) { pos = st.entirePosition(addr) })
	return pos
}

func (e *Engine) NominalICR(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.NominalICR(addr) })
	return out
}

func (e *Engine) CurrentICR(addr common.Address) (*uint256.Int, error) {
	price, err := e.price()
	if err != nil {
		return nil, err
	}
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.currentICR(addr, price) })
	return out, nil
}

func (e *Engine) HasPendingRewards(addr common.Address) bool {
	var out bool
	e.read(func(st *SystemState) { out = st.hasPendingRewards(addr) })
	return out
}

// SortedTroves returns the index order, highest NICR first.
func (e *Engine) SortedTroves() []common.Address {
	var out []common.Address
	e.read(func(st *SystemState) { out = st.sorted.IDs() })
	return out
}

func (e *Engine) TroveOwners() []common.Address {
	var out []common.Address
	e.read(func(st *SystemState) { out = append([]common.Address(nil), st.owners...) })
	return out
}

func (e *Engine) TCR() (*uint256.Int, error) {
	price, err := e.price()
	if err != nil {
		return nil, err
	}
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.tcr(price) })
	return out, nil
}

func (e *Engine) Mode() (SystemMode, error) {
	price, err := e.price()
	if err != nil {
		return ModeNormal, err
	}
	var out SystemMode
	e.read(func(st *SystemState) { out = st.mode(price, e.params.CCR) })
	return out, nil
}

// System returns the global summary at the current price.
func (e *Engine) System() (SystemView, error) {
	price, err := e.price()
	if err != nil {
		return SystemView{}, err
	}
	var view SystemView
	e.read(func(st *SystemState) {
		view = SystemView{
			Price:           price,
			TCR:             st.tcr(price),
			Mode:            st.mode(price, e.params.CCR),
			TroveCount:      st.sorted.Size(),
			Active:          PoolBalances{Coll: st.active.Coll.Clone(), Debt: st.active.Debt.Clone()},
			Default:         PoolBalances{Coll: st.defaulted.Coll.Clone(), Debt: st.defaulted.Debt.Clone()},
			TotalStakes:     st.totalStakes.Clone(),
			LColl:           st.lColl.Clone(),
			LDebt:           st.lDebt.Clone(),
			BaseRate:        st.fees.BaseRate.Clone(),
			LastFeeOpTime:   st.fees.LastFeeOperationTime,
			StableSupply:    st.stable.totalSupply(),
			PoolDeposits:    st.sp.totalDeposits.Clone(),
			PoolColl:        st.sp.coll.Clone(),
			SurplusColl:     st.surplusColl.Clone(),
			FeeSinkColl:     st.sink.coll.Clone(),
			TotalIssued:     st.issuance.totalIssued.Clone(),
			CollateralFloat: st.wallets.totalSupply(),
		}
	})
	return view, nil
}

// Fee queries.

func (e *Engine) BaseRate() *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.fees.BaseRate.Clone() })
	return out
}

func (e *Engine) LastFeeOperationTime() int64 {
	var out int64
	e.read(func(st *SystemState) { out = st.fees.LastFeeOperationTime })
	return out
}

func (e *Engine) BorrowingRate() *uint256.Int {
	return borrowingRateFor(e.BaseRate(), &e.params)
}

func (e *Engine) BorrowingRateWithDecay() *uint256.Int {
	return borrowingRateFor(e.decayedBaseRate(), &e.params)
}

func (e *Engine) RedemptionRate() *uint256.Int {
	return redemptionRateFor(e.BaseRate(), &e.params)
}

func (e *Engine) RedemptionRateWithDecay() *uint256.Int {
	return redemptionRateFor(e.decayedBaseRate(), &e.params)
}

func (e *Engine) BorrowingFee(amount *uint256.Int) *uint256.Int {
	return feeFor(e.BorrowingRate(), orZero(amount))
}

func (e *Engine) BorrowingFeeWithDecay(amount *uint256.Int) *uint256.Int {
	return feeFor(e.BorrowingRateWithDecay(), orZero(amount))
}

func (e *Engine) RedemptionFeeWithDecay(collDrawn *uint256.Int) *uint256.Int {
	return feeFor(e.RedemptionRateWithDecay(), orZero(collDrawn))
}

func (e *Engine) decayedBaseRate() *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.decayedBaseRate(e.now().Unix(), &e.params) })
	return out
}

// Balances.

func (e *Engine) StableBalance(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.stable.balanceOf(addr) })
	return out
}

func (e *Engine) StableSupply() *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.stable.totalSupply() })
	return out
}

func (e *Engine) CollateralBalance(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.wallets.balanceOf(addr) })
	return out
}

func (e *Engine) Surplus(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.surplusOf(addr) })
	return out
}

// Stability Pool queries.

func (e *Engine) TotalDeposits() *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sp.totalDeposits.Clone() })
	return out
}

func (e *Engine) CompoundedDeposit(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sp.compoundedDeposit(addr) })
	return out
}

func (e *Engine) DepositorCollGain(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sp.depositorCollGain(addr) })
	return out
}

// DepositorIssuanceGain is the issuance earned but not yet credited, measured
// up to the last issuance trigger.
func (e *Engine) DepositorIssuanceGain(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sp.depositorIssuanceGain(addr) })
	return out
}

// IssuanceBalance is the issuance already credited to addr.
func (e *Engine) IssuanceBalance(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.issuanceBalance(addr) })
	return out
}

// Fee sink queries.

func (e *Engine) StakeOf(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sink.stakeOf(addr) })
	return out
}

func (e *Engine) PendingCollGain(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sink.pendingCollGain(addr) })
	return out
}

func (e *Engine) PendingStableGain(addr common.Address) *uint256.Int {
	var out *uint256.Int
	e.read(func(st *SystemState) { out = st.sink.pendingStableGain(addr) })
	return out
}
