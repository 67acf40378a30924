package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// pendingCollReward is stake*(L_Coll - snapshot)/1e18 for an active trove.
func (s *SystemState) pendingCollReward(addr common.Address) *uint256.Int {
	t := s.troves[addr]
	if !t.Active() || !s.lColl.Gt(&t.Snapshot.Coll) {
		return new(uint256.Int)
	}
	delta := new(uint256.Int).Sub(&s.lColl, &t.Snapshot.Coll)
	return mulDiv(&t.Stake, delta, DecimalPrecision)
}

func (s *SystemState) pendingDebtReward(addr common.Address) *uint256.Int {
	t := s.troves[addr]
	if !t.Active() || !s.lDebt.Gt(&t.Snapshot.Debt) {
		return new(uint256.Int)
	}
	delta := new(uint256.Int).Sub(&s.lDebt, &t.Snapshot.Debt)
	return mulDiv(&t.Stake, delta, DecimalPrecision)
}

func (s *SystemState) hasPendingRewards(addr common.Address) bool {
	t := s.troves[addr]
	return t.Active() && (t.Snapshot.Coll.Lt(&s.lColl) || t.Snapshot.Debt.Lt(&s.lDebt))
}

// currentAmounts returns stored plus pending collateral and debt.
func (s *SystemState) currentAmounts(addr common.Address) (*uint256.Int, *uint256.Int) {
	t := s.troves[addr]
	if t == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	coll := new(uint256.Int).Add(&t.Coll, s.pendingCollReward(addr))
	debt := new(uint256.Int).Add(&t.Debt, s.pendingDebtReward(addr))
	return coll, debt
}

func (s *SystemState) entirePosition(addr common.Address) EntirePosition {
	pendingColl := s.pendingCollReward(addr)
	pendingDebt := s.pendingDebtReward(addr)
	pos := EntirePosition{
		Debt:              new(uint256.Int),
		Coll:              new(uint256.Int),
		PendingDebtReward: pendingDebt,
		PendingCollReward: pendingColl,
	}
	if t := s.troves[addr]; t != nil {
		pos.Debt.Add(&t.Debt, pendingDebt)
		pos.Coll.Add(&t.Coll, pendingColl)
	}
	return pos
}

// applyPendingRewards folds redistribution rewards into the stored trove and
// moves the matching amounts from the default pool to the active pool.
// Applying twice is a no-op.
func (s *SystemState) applyPendingRewards(addr common.Address) {
	if !s.hasPendingRewards(addr) {
		return
	}
	t := s.troves[addr]
	pendingColl := s.pendingCollReward(addr)
	pendingDebt := s.pendingDebtReward(addr)
	t.Coll.Add(&t.Coll, pendingColl)
	t.Debt.Add(&t.Debt, pendingDebt)
	s.updateRewardSnapshots(addr)
	s.movePendingToActive(pendingDebt, pendingColl)
}

func (s *SystemState) updateRewardSnapshots(addr common.Address) {
	t := s.troves[addr]
	t.Snapshot.Coll = s.lColl
	t.Snapshot.Debt = s.lDebt
}

func (s *SystemState) movePendingToActive(debt, coll *uint256.Int) {
	s.defaulted.Debt = *subFloor(&s.defaulted.Debt, debt)
	s.active.Debt.Add(&s.active.Debt, debt)
	s.defaulted.Coll = *subFloor(&s.defaulted.Coll, coll)
	s.active.Coll.Add(&s.active.Coll, coll)
}

// computeNewStake scales coll by the stake-per-collateral ratio captured at
// the last liquidation so late joiners do not share earlier redistributions.
func (s *SystemState) computeNewStake(coll *uint256.Int) *uint256.Int {
	if s.totalCollateralSnapshot.IsZero() {
		return coll.Clone()
	}
	return mulDiv(coll, &s.totalStakesSnapshot, &s.totalCollateralSnapshot)
}

func (s *SystemState) updateStakeAndTotalStakes(addr common.Address) *uint256.Int {
	t := s.troves[addr]
	newStake := s.computeNewStake(&t.Coll)
	s.totalStakes = *subFloor(&s.totalStakes, &t.Stake)
	s.totalStakes.Add(&s.totalStakes, newStake)
	t.Stake = *newStake
	return newStake
}

func (s *SystemState) removeStake(addr common.Address) {
	t := s.troves[addr]
	s.totalStakes = *subFloor(&s.totalStakes, &t.Stake)
	t.Stake.Clear()
}

// redistribute spreads debt and coll over all active stakes through the L
// accumulators, carrying division remainders into the next call.
func (s *SystemState) redistribute(debt, coll *uint256.Int) {
	if debt.IsZero() || s.totalStakes.IsZero() {
		return
	}
	collNumerator := new(uint256.Int).Mul(coll, DecimalPrecision)
	collNumerator.Add(collNumerator, &s.lastCollError)
	debtNumerator := new(uint256.Int).Mul(debt, DecimalPrecision)
	debtNumerator.Add(debtNumerator, &s.lastDebtError)

	collPerStake := new(uint256.Int).Div(collNumerator, &s.totalStakes)
	debtPerStake := new(uint256.Int).Div(debtNumerator, &s.totalStakes)

	s.lastCollError.Sub(collNumerator, new(uint256.Int).Mul(collPerStake, &s.totalStakes))
	s.lastDebtError.Sub(debtNumerator, new(uint256.Int).Mul(debtPerStake, &s.totalStakes))

	s.lColl.Add(&s.lColl, collPerStake)
	s.lDebt.Add(&s.lDebt, debtPerStake)

	s.active.Debt = *subFloor(&s.active.Debt, debt)
	s.defaulted.Debt.Add(&s.defaulted.Debt, debt)
	s.active.Coll = *subFloor(&s.active.Coll, coll)
	s.defaulted.Coll.Add(&s.defaulted.Coll, coll)
}

// updateSystemSnapshots records totals after a liquidation. collRemainder is
// the gas compensation still sitting in the active pool.
func (s *SystemState) updateSystemSnapshots(collRemainder *uint256.Int) {
	s.totalStakesSnapshot = s.totalStakes
	coll := subFloor(&s.active.Coll, collRemainder)
	coll.Add(coll, &s.defaulted.Coll)
	s.totalCollateralSnapshot = *coll
}
