package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

// collSource tells adjustTrove where a collateral top-up comes from.
type collSource uint8

const (
	fromWallet collSource = iota
	fromStabilityPool
)

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func validAccount(addr common.Address) error {
	if addr == (common.Address{}) || IsModuleAddress(addr) {
		return ErrInvalidAccount
	}
	return nil
}

func (tx *txn) openTrove(owner common.Address, coll, amount, maxFee *uint256.Int, hint Hint) error {
	if err := validAccount(owner); err != nil {
		return err
	}
	coll, amount = orZero(coll), orZero(amount)
	p := tx.params
	if err := validMaxFee(maxFee, p.BorrowingFeeFloor, tx.mode); err != nil {
		return err
	}
	if tx.st.trove(owner).Active() {
		return ErrTroveActive
	}
	if tx.st.wallets.balanceOf(owner).Lt(coll) {
		return ErrInsufficientBalance
	}
	totalDebtBefore := tx.st.entireSystemDebt()

	netDebt := amount.Clone()
	fee := new(uint256.Int)
	if tx.mode == ModeNormal {
		var err error
		if fee, err = tx.triggerBorrowingFee(amount, maxFee); err != nil {
			return err
		}
		netDebt.Add(netDebt, fee)
	}
	if netDebt.Lt(p.MinNetDebt) {
		return ErrNetDebtBelowMin
	}
	composite := new(uint256.Int).Add(netDebt, p.GasCompensation)
	icr := ComputeCR(coll, composite, tx.price)
	if tx.mode == ModeRecovery {
		if icr.Lt(p.CCR) {
			return ErrICRBelowCCR
		}
	} else {
		if icr.Lt(p.MCR) {
			return ErrICRBelowMCR
		}
		if tx.st.newTCR(coll, true, composite, true, tx.price).Lt(p.CCR) {
			return ErrTCRBelowCCR
		}
	}

	t := &Trove{Owner: owner, Status: StatusActive, Coll: *coll, Debt: *composite}
	tx.st.troves[owner] = t
	tx.st.updateRewardSnapshots(owner)
	tx.st.updateStakeAndTotalStakes(owner)
	if err := tx.st.sorted.Insert(owner, ComputeNominalCR(coll, composite), hint.Upper, hint.Lower); err != nil {
		return err
	}
	t.ArrayIndex = tx.st.addOwner(owner)

	if err := tx.st.wallets.burn(owner, coll); err != nil {
		return err
	}
	tx.st.active.Coll.Add(&tx.st.active.Coll, coll)
	tx.st.active.Debt.Add(&tx.st.active.Debt, composite)
	tx.st.stable.mint(owner, amount)
	tx.st.stable.mint(GasPoolAddress, p.GasCompensation)
	if tx.mode == ModeNormal {
		tx.bumpBaseRateFromIssuance(amount, totalDebtBefore)
	}

	tx.emitTrove(owner, events.TroveOpOpen)
	if !fee.IsZero() {
		tx.emit(events.BorrowingFeePaid{Borrower: owner, Fee: fee})
	}
	return nil
}

func (tx *txn) adjustTrove(owner common.Address, adj Adjustment, source collSource) error {
	p := tx.params
	topUp, withdrawal, debtChange := orZero(adj.CollTopUp), orZero(adj.CollWithdrawal), orZero(adj.DebtChange)
	if adj.IsDebtIncrease {
		if err := validMaxFee(adj.MaxFee, p.BorrowingFeeFloor, tx.mode); err != nil {
			return err
		}
		if debtChange.IsZero() {
			return ErrZeroAmount
		}
	}
	if !topUp.IsZero() && !withdrawal.IsZero() {
		return ErrBothCollChanges
	}
	if topUp.IsZero() && withdrawal.IsZero() && debtChange.IsZero() {
		return ErrNoAdjustment
	}
	t := tx.st.trove(owner)
	if !t.Active() {
		return ErrTroveNotActive
	}
	if source == fromWallet && tx.st.wallets.balanceOf(owner).Lt(topUp) {
		return ErrInsufficientBalance
	}
	totalDebtBefore := tx.st.entireSystemDebt()
	tx.st.applyPendingRewards(owner)

	netDebtChange := debtChange.Clone()
	fee := new(uint256.Int)
	if adj.IsDebtIncrease && tx.mode == ModeNormal {
		var err error
		if fee, err = tx.triggerBorrowingFee(debtChange, adj.MaxFee); err != nil {
			return err
		}
		netDebtChange.Add(netDebtChange, fee)
	}

	coll, debt := t.Coll.Clone(), t.Debt.Clone()
	if withdrawal.Gt(coll) {
		return ErrCollWithdrawalExceeds
	}
	oldICR := ComputeCR(coll, debt, tx.price)
	newColl := new(uint256.Int).Add(coll, topUp)
	newColl.Sub(newColl, withdrawal)

	newDebt := debt.Clone()
	switch {
	case adj.IsDebtIncrease:
		newDebt.Add(newDebt, netDebtChange)
	case !debtChange.IsZero():
		netDebt := subFloor(debt, p.GasCompensation)
		if debtChange.Gt(netDebt) {
			return ErrRepayExceedsDebt
		}
		if new(uint256.Int).Sub(netDebt, debtChange).Lt(p.MinNetDebt) {
			return ErrNetDebtBelowMin
		}
		if tx.st.stable.balanceOf(owner).Lt(debtChange) {
			return ErrInsufficientBalance
		}
		newDebt.Sub(newDebt, debtChange)
	}

	newICR := ComputeCR(newColl, newDebt, tx.price)
	if tx.mode == ModeRecovery {
		if !withdrawal.IsZero() {
			return ErrCollWithdrawalInRecovery
		}
		if adj.IsDebtIncrease {
			if newICR.Lt(p.CCR) {
				return ErrICRBelowCCR
			}
			if newICR.Lt(oldICR) {
				return ErrICRDecrease
			}
		}
	} else {
		if newICR.Lt(p.MCR) {
			return ErrICRBelowMCR
		}
		collChange, collIncrease := withdrawal, false
		if !topUp.IsZero() {
			collChange, collIncrease = topUp, true
		}
		if tx.st.newTCR(collChange, collIncrease, netDebtChange, adj.IsDebtIncrease, tx.price).Lt(p.CCR) {
			return ErrTCRBelowCCR
		}
	}

	t.Coll = *newColl
	t.Debt = *newDebt
	tx.st.updateStakeAndTotalStakes(owner)
	if err := tx.st.sorted.ReInsert(owner, ComputeNominalCR(newColl, newDebt), adj.Hint.Upper, adj.Hint.Lower); err != nil {
		return err
	}

	if adj.IsDebtIncrease {
		tx.st.active.Debt.Add(&tx.st.active.Debt, netDebtChange)
		tx.st.stable.mint(owner, debtChange)
	} else if !debtChange.IsZero() {
		tx.st.active.Debt = *subFloor(&tx.st.active.Debt, debtChange)
		if err := tx.st.stable.burn(owner, debtChange); err != nil {
			return err
		}
	}
	if !topUp.IsZero() {
		if source == fromWallet {
			if err := tx.st.wallets.burn(owner, topUp); err != nil {
				return err
			}
		}
		tx.st.active.Coll.Add(&tx.st.active.Coll, topUp)
	}
	if !withdrawal.IsZero() {
		tx.st.active.Coll = *subFloor(&tx.st.active.Coll, withdrawal)
		if err := tx.payCollateral(owner, withdrawal); err != nil {
			return err
		}
	}
	if adj.IsDebtIncrease && tx.mode == ModeNormal {
		tx.bumpBaseRateFromIssuance(debtChange, totalDebtBefore)
	}

	tx.emitTrove(owner, events.TroveOpAdjust)
	if !fee.IsZero() {
		tx.emit(events.BorrowingFeePaid{Borrower: owner, Fee: fee})
	}
	return nil
}

func (tx *txn) closeTrove(owner common.Address) error {
	p := tx.params
	t := tx.st.trove(owner)
	if !t.Active() {
		return ErrTroveNotActive
	}
	if tx.mode == ModeRecovery {
		return ErrRecoveryMode
	}
	if len(tx.st.owners) <= 1 {
		return ErrOnlyOneTrove
	}
	tx.st.applyPendingRewards(owner)

	coll, debt := t.Coll.Clone(), t.Debt.Clone()
	netDebt := subFloor(debt, p.GasCompensation)
	if tx.st.stable.balanceOf(owner).Lt(netDebt) {
		return ErrInsufficientBalance
	}
	if tx.st.newTCR(coll, false, debt, false, tx.price).Lt(p.CCR) {
		return ErrTCRBelowCCR
	}

	tx.st.removeStake(owner)
	if err := tx.st.closeTrove(owner, StatusClosedByOwner); err != nil {
		return err
	}
	if err := tx.st.stable.burn(owner, netDebt); err != nil {
		return err
	}
	if err := tx.st.stable.burn(GasPoolAddress, p.GasCompensation); err != nil {
		return err
	}
	tx.st.active.Debt = *subFloor(&tx.st.active.Debt, debt)
	tx.st.active.Coll = *subFloor(&tx.st.active.Coll, coll)
	if err := tx.payCollateral(owner, coll); err != nil {
		return err
	}
	tx.emitTrove(owner, events.TroveOpClose)
	return nil
}
