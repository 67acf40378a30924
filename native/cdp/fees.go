package cdp

import (
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

const secondsPerMinute = 60

// minutesSinceLastFeeOp is the elapsed whole minutes used by the decay.
func (s *SystemState) minutesSinceLastFeeOp(now int64) uint64 {
	if now <= s.fees.LastFeeOperationTime {
		return 0
	}
	return uint64(now-s.fees.LastFeeOperationTime) / secondsPerMinute
}

// decayedBaseRate applies MinuteDecayFactor^minutes to the stored base rate.
func (s *SystemState) decayedBaseRate(now int64, p *Params) *uint256.Int {
	factor := DecPow(p.MinuteDecayFactor, s.minutesSinceLastFeeOp(now))
	return DecMul(&s.fees.BaseRate, factor)
}

func borrowingRateFor(baseRate *uint256.Int, p *Params) *uint256.Int {
	return minU256(maxU256(baseRate, p.BorrowingFeeFloor), p.MaxBorrowingFee)
}

func redemptionRateFor(baseRate *uint256.Int, p *Params) *uint256.Int {
	rate := new(uint256.Int).Add(baseRate, p.RedemptionFeeFloor)
	return minU256(rate, DecimalPrecision)
}

func feeFor(rate, amount *uint256.Int) *uint256.Int {
	return mulDiv(rate, amount, DecimalPrecision)
}

// validMaxFee checks the caller's fee ceiling. Recovery mode waives borrowing
// fees, so any ceiling up to 100% is accepted there.
func validMaxFee(maxFee *uint256.Int, floor *uint256.Int, mode SystemMode) error {
	if maxFee == nil {
		return ErrInvalidMaxFee
	}
	if maxFee.Gt(DecimalPrecision) {
		return ErrInvalidMaxFee
	}
	if mode == ModeNormal && maxFee.Lt(floor) {
		return ErrInvalidMaxFee
	}
	return nil
}

// requireUserAcceptsFee rejects when fee/amount strictly exceeds maxFee.
func requireUserAcceptsFee(fee, amount, maxFee *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	pct := mulDiv(fee, DecimalPrecision, amount)
	if pct.Gt(maxFee) {
		return ErrFeeExceeded
	}
	return nil
}

// updateLastFeeOpTime only advances the clock once a full minute has passed,
// so frequent operations cannot stall the decay.
func (tx *txn) updateLastFeeOpTime() {
	if tx.now-tx.st.fees.LastFeeOperationTime < secondsPerMinute {
		return
	}
	tx.st.fees.LastFeeOperationTime = tx.now
}

func (tx *txn) setBaseRate(rate *uint256.Int) {
	tx.st.fees.BaseRate = *rate
	tx.emit(events.BaseRateUpdated{BaseRate: rate.Clone(), Time: tx.now})
}

func (tx *txn) decayBaseRateFromBorrowing() {
	decayed := tx.st.decayedBaseRate(tx.now, tx.params)
	tx.setBaseRate(decayed)
	tx.updateLastFeeOpTime()
}

// bumpBaseRateFromIssuance raises the base rate in proportion to the share of
// total debt just issued. IssuanceBeta zero disables the bump.
func (tx *txn) bumpBaseRateFromIssuance(issued, totalDebt *uint256.Int) {
	if tx.params.IssuanceBeta == 0 || totalDebt.IsZero() || issued.IsZero() {
		return
	}
	fraction := mulDiv(issued, DecimalPrecision, totalDebt)
	fraction.Div(fraction, uint256.NewInt(tx.params.IssuanceBeta))
	rate := new(uint256.Int).Add(&tx.st.fees.BaseRate, fraction)
	tx.setBaseRate(minU256(rate, DecimalPrecision))
}

// updateBaseRateFromRedemption decays the base rate and adds the redeemed
// share of total debt divided by RedemptionBeta, capped at 100%.
func (tx *txn) updateBaseRateFromRedemption(collDrawn, totalDebt *uint256.Int) *uint256.Int {
	decayed := tx.st.decayedBaseRate(tx.now, tx.params)
	fraction := mulDiv(collDrawn, tx.price, totalDebt)
	fraction.Div(fraction, uint256.NewInt(tx.params.RedemptionBeta))
	rate := minU256(new(uint256.Int).Add(decayed, fraction), DecimalPrecision)
	tx.setBaseRate(rate)
	tx.updateLastFeeOpTime()
	return rate
}

// triggerBorrowingFee decays the base rate, charges the borrowing fee on
// amount and routes it to the fee sink.
func (tx *txn) triggerBorrowingFee(amount, maxFee *uint256.Int) (*uint256.Int, error) {
	tx.decayBaseRateFromBorrowing()
	fee := feeFor(borrowingRateFor(&tx.st.fees.BaseRate, tx.params), amount)
	if err := requireUserAcceptsFee(fee, amount, maxFee); err != nil {
		return nil, err
	}
	tx.st.sink.increaseFStable(fee)
	tx.st.stable.mint(FeeSinkAddress, fee)
	return fee, nil
}
