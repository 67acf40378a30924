package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

// isValidFirstRedemptionHint accepts a hint only if it is the highest-NICR
// trove still at or above MCR among those below it.
func (tx *txn) isValidFirstRedemptionHint(hint common.Address) bool {
	if hint == (common.Address{}) || !tx.st.sorted.Contains(hint) {
		return false
	}
	if tx.st.currentICR(hint, tx.price).Lt(tx.params.MCR) {
		return false
	}
	next := tx.st.sorted.Next(hint)
	return next == (common.Address{}) || tx.st.currentICR(next, tx.price).Lt(tx.params.MCR)
}

// firstRedemptionCandidate walks up from the tail past troves below MCR.
func (tx *txn) firstRedemptionCandidate(hint common.Address) common.Address {
	if tx.isValidFirstRedemptionHint(hint) {
		return hint
	}
	current := tx.st.sorted.Last()
	for current != (common.Address{}) && tx.st.currentICR(current, tx.price).Lt(tx.params.MCR) {
		current = tx.st.sorted.Prev(current)
	}
	return current
}

// redeemFromTrove draws up to maxStable of net debt from borrower. cancelled
// reports a partial redemption that could not be applied; nothing changed
// for this trove in that case.
func (tx *txn) redeemFromTrove(borrower common.Address, maxStable *uint256.Int, req RedemptionRequest) (stableLot, collLot *uint256.Int, cancelled bool, err error) {
	p := tx.params
	t := tx.st.trove(borrower)
	stableLot = minU256(maxStable, subFloor(&t.Debt, p.GasCompensation))
	collLot = mulDiv(stableLot, DecimalPrecision, tx.price)

	newDebt := new(uint256.Int).Sub(&t.Debt, stableLot)
	newColl := subFloor(&t.Coll, collLot)

	if newDebt.Eq(p.GasCompensation) {
		if len(tx.st.owners) <= 1 {
			return nil, nil, true, nil
		}
		tx.st.removeStake(borrower)
		if err := tx.st.closeTrove(borrower, StatusClosedByRedemption); err != nil {
			return nil, nil, false, err
		}
		if err := tx.st.stable.burn(GasPoolAddress, p.GasCompensation); err != nil {
			return nil, nil, false, err
		}
		tx.st.active.Debt = *subFloor(&tx.st.active.Debt, p.GasCompensation)
		tx.accountSurplus(borrower, newColl)
		tx.moveSurplus(newColl)
		tx.emitTrove(borrower, events.TroveOpRedeem)
		return stableLot, collLot, false, nil
	}

	newNICR := ComputeNominalCR(newColl, newDebt)
	if req.PartialNICR == nil || !newNICR.Eq(req.PartialNICR) {
		return nil, nil, true, nil
	}
	if new(uint256.Int).Sub(newDebt, p.GasCompensation).Lt(p.MinNetDebt) {
		return nil, nil, true, nil
	}
	t.Debt = *newDebt
	t.Coll = *newColl
	tx.st.updateStakeAndTotalStakes(borrower)
	if err := tx.st.sorted.ReInsert(borrower, newNICR, req.UpperHint, req.LowerHint); err != nil {
		return nil, nil, false, err
	}
	tx.emitTrove(borrower, events.TroveOpRedeem)
	return stableLot, collLot, false, nil
}

func (tx *txn) redeemCollateral(redeemer common.Address, req RedemptionRequest) (*RedemptionResult, error) {
	p := tx.params
	if req.MaxFee == nil || req.MaxFee.Lt(p.RedemptionFeeFloor) || req.MaxFee.Gt(DecimalPrecision) {
		return nil, ErrInvalidMaxFee
	}
	if tx.st.tcr(tx.price).Lt(p.MCR) {
		return nil, ErrTCRBelowMCR
	}
	amount := orZero(req.Amount)
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if tx.st.stable.balanceOf(redeemer).Lt(amount) {
		return nil, ErrInsufficientBalance
	}
	totalDebtAtStart := tx.st.entireSystemDebt()

	result := &RedemptionResult{
		AttemptedAmount: amount.Clone(),
		RedeemedAmount:  new(uint256.Int),
		CollDrawn:       new(uint256.Int),
	}
	remaining := amount.Clone()
	current := tx.firstRedemptionCandidate(req.FirstHint)
	for iter := uint64(0); current != (common.Address{}) && !remaining.IsZero(); iter++ {
		if req.MaxIterations > 0 && iter >= req.MaxIterations {
			break
		}
		next := tx.st.sorted.Prev(current)
		tx.st.applyPendingRewards(current)
		stableLot, collLot, cancelled, err := tx.redeemFromTrove(current, remaining, req)
		if err != nil {
			return nil, err
		}
		if cancelled {
			result.PartialCancelled = true
			break
		}
		result.RedeemedAmount.Add(result.RedeemedAmount, stableLot)
		result.CollDrawn.Add(result.CollDrawn, collLot)
		result.Redeemed = append(result.Redeemed, current)
		remaining.Sub(remaining, stableLot)
		current = next
	}
	if result.CollDrawn.IsZero() {
		return nil, ErrUnableToRedeem
	}

	tx.updateBaseRateFromRedemption(result.CollDrawn, totalDebtAtStart)
	result.CollFee = feeFor(redemptionRateFor(&tx.st.fees.BaseRate, p), result.CollDrawn)
	if !result.CollFee.Lt(result.CollDrawn) {
		return nil, ErrFeeEatsAll
	}
	if err := requireUserAcceptsFee(result.CollFee, result.CollDrawn, req.MaxFee); err != nil {
		return nil, err
	}
	tx.receiveFeeColl(result.CollFee)

	if err := tx.st.stable.burn(redeemer, result.RedeemedAmount); err != nil {
		return nil, err
	}
	tx.st.active.Debt = *subFloor(&tx.st.active.Debt, result.RedeemedAmount)
	result.CollSent = new(uint256.Int).Sub(result.CollDrawn, result.CollFee)
	tx.st.active.Coll = *subFloor(&tx.st.active.Coll, result.CollSent)
	if err := tx.payCollateral(redeemer, result.CollSent); err != nil {
		return nil, err
	}
	tx.emit(events.Redemption{
		Redeemer:        redeemer,
		AttemptedAmount: result.AttemptedAmount.Clone(),
		ActualAmount:    result.RedeemedAmount.Clone(),
		CollSent:        result.CollSent.Clone(),
		CollFee:         result.CollFee.Clone(),
	})
	return result, nil
}
