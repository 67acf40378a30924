package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

// singleLiquidation is the outcome for one trove.
type singleLiquidation struct {
	entireDebt            *uint256.Int
	entireColl            *uint256.Int
	collGasCompensation   *uint256.Int
	stableGasCompensation *uint256.Int
	debtToOffset          *uint256.Int
	collToSendToSP        *uint256.Int
	debtToRedistribute    *uint256.Int
	collToRedistribute    *uint256.Int
	collSurplus           *uint256.Int
}

func (tx *txn) collGasCompensation(coll *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(coll, uint256.NewInt(tx.params.CollGasCompensationDivisor))
}

// offsetAndRedistribution splits debt between the pool (up to its deposits)
// and redistribution, with collateral following pro rata.
func offsetAndRedistribution(debt, coll, stableInPool *uint256.Int) (debtToOffset, collToSP, debtToRedistribute, collToRedistribute *uint256.Int) {
	if stableInPool.IsZero() {
		return new(uint256.Int), new(uint256.Int), debt.Clone(), coll.Clone()
	}
	debtToOffset = minU256(debt, stableInPool)
	collToSP = mulDiv(coll, debtToOffset, debt)
	debtToRedistribute = new(uint256.Int).Sub(debt, debtToOffset)
	collToRedistribute = new(uint256.Int).Sub(coll, collToSP)
	return debtToOffset, collToSP, debtToRedistribute, collToRedistribute
}

// closeLiquidated moves the trove's pending rewards into the active pool,
// drops its stake and closes it.
func (tx *txn) closeLiquidated(borrower common.Address) (EntirePosition, error) {
	pos := tx.st.entirePosition(borrower)
	tx.st.movePendingToActive(pos.PendingDebtReward, pos.PendingCollReward)
	tx.st.removeStake(borrower)
	if err := tx.st.closeTrove(borrower, StatusClosedByLiquidation); err != nil {
		return EntirePosition{}, err
	}
	return pos, nil
}

func (tx *txn) liquidateNormalMode(borrower common.Address, stableInPool *uint256.Int) (*singleLiquidation, error) {
	pos, err := tx.closeLiquidated(borrower)
	if err != nil {
		return nil, err
	}
	single := &singleLiquidation{
		entireDebt:            pos.Debt,
		entireColl:            pos.Coll,
		collGasCompensation:   tx.collGasCompensation(pos.Coll),
		stableGasCompensation: tx.params.GasCompensation.Clone(),
		collSurplus:           new(uint256.Int),
	}
	collToLiquidate := new(uint256.Int).Sub(pos.Coll, single.collGasCompensation)
	single.debtToOffset, single.collToSendToSP, single.debtToRedistribute, single.collToRedistribute =
		offsetAndRedistribution(pos.Debt, collToLiquidate, stableInPool)

	tx.emit(events.TroveLiquidated{Borrower: borrower, Debt: pos.Debt.Clone(), Coll: pos.Coll.Clone(), Operation: events.TroveOpLiquidateNormal})
	tx.emitTrove(borrower, events.TroveOpLiquidateNormal)
	return single, nil
}

// liquidateRecoveryMode applies the Recovery Mode rules to one trove. A nil
// result means the trove was not eligible and stays active.
func (tx *txn) liquidateRecoveryMode(borrower common.Address, icr, stableInPool, tcr *uint256.Int) (*singleLiquidation, error) {
	p := tx.params
	if len(tx.st.owners) <= 1 {
		return nil, nil
	}
	switch {
	case !icr.Gt(DecimalPrecision):
		// Under-collateralised: everything is redistributed, the pool is spared.
		pos, err := tx.closeLiquidated(borrower)
		if err != nil {
			return nil, err
		}
		single := &singleLiquidation{
			entireDebt:            pos.Debt,
			entireColl:            pos.Coll,
			collGasCompensation:   tx.collGasCompensation(pos.Coll),
			stableGasCompensation: p.GasCompensation.Clone(),
			debtToOffset:          new(uint256.Int),
			collToSendToSP:        new(uint256.Int),
			debtToRedistribute:    pos.Debt.Clone(),
			collSurplus:           new(uint256.Int),
		}
		single.collToRedistribute = new(uint256.Int).Sub(pos.Coll, single.collGasCompensation)
		tx.emit(events.TroveLiquidated{Borrower: borrower, Debt: pos.Debt.Clone(), Coll: pos.Coll.Clone(), Operation: events.TroveOpLiquidateRecovery})
		tx.emitTrove(borrower, events.TroveOpLiquidateRecovery)
		return single, nil

	case icr.Lt(p.MCR):
		pos, err := tx.closeLiquidated(borrower)
		if err != nil {
			return nil, err
		}
		single := &singleLiquidation{
			entireDebt:            pos.Debt,
			entireColl:            pos.Coll,
			collGasCompensation:   tx.collGasCompensation(pos.Coll),
			stableGasCompensation: p.GasCompensation.Clone(),
			collSurplus:           new(uint256.Int),
		}
		collToLiquidate := new(uint256.Int).Sub(pos.Coll, single.collGasCompensation)
		single.debtToOffset, single.collToSendToSP, single.debtToRedistribute, single.collToRedistribute =
			offsetAndRedistribution(pos.Debt, collToLiquidate, stableInPool)
		tx.emit(events.TroveLiquidated{Borrower: borrower, Debt: pos.Debt.Clone(), Coll: pos.Coll.Clone(), Operation: events.TroveOpLiquidateRecovery})
		tx.emitTrove(borrower, events.TroveOpLiquidateRecovery)
		return single, nil

	case icr.Lt(p.CCR) && !icr.Gt(tcr):
		pos := tx.st.entirePosition(borrower)
		if pos.Debt.Gt(stableInPool) {
			return nil, nil
		}
		if _, err := tx.closeLiquidated(borrower); err != nil {
			return nil, err
		}
		return tx.cappedOffset(borrower, pos), nil
	}
	return nil, nil
}

// cappedOffset liquidates a trove with MCR <= ICR < CCR: the pool takes
// collateral worth MCR times the debt, the owner keeps the rest as surplus.
func (tx *txn) cappedOffset(borrower common.Address, pos EntirePosition) *singleLiquidation {
	p := tx.params
	cappedColl := mulDiv(pos.Debt, p.MCR, tx.price)
	if cappedColl.Gt(pos.Coll) {
		cappedColl = pos.Coll.Clone()
	}
	single := &singleLiquidation{
		entireDebt:            pos.Debt,
		entireColl:            pos.Coll,
		collGasCompensation:   tx.collGasCompensation(cappedColl),
		stableGasCompensation: p.GasCompensation.Clone(),
		debtToOffset:          pos.Debt.Clone(),
		debtToRedistribute:    new(uint256.Int),
		collToRedistribute:    new(uint256.Int),
	}
	single.collToSendToSP = new(uint256.Int).Sub(cappedColl, single.collGasCompensation)
	single.collSurplus = new(uint256.Int).Sub(pos.Coll, cappedColl)
	tx.accountSurplus(borrower, single.collSurplus)
	tx.emit(events.TroveLiquidated{Borrower: borrower, Debt: pos.Debt.Clone(), Coll: pos.Coll.Clone(), Operation: events.TroveOpLiquidateRecovery})
	tx.emitTrove(borrower, events.TroveOpLiquidateRecovery)
	return single
}

func (t *LiquidationTotals) add(borrower common.Address, s *singleLiquidation) {
	t.CollInSequence.Add(t.CollInSequence, s.entireColl)
	t.DebtInSequence.Add(t.DebtInSequence, s.entireDebt)
	t.CollGasCompensation.Add(t.CollGasCompensation, s.collGasCompensation)
	t.StableGasCompensation.Add(t.StableGasCompensation, s.stableGasCompensation)
	t.DebtToOffset.Add(t.DebtToOffset, s.debtToOffset)
	t.CollToSendToSP.Add(t.CollToSendToSP, s.collToSendToSP)
	t.DebtToRedistribute.Add(t.DebtToRedistribute, s.debtToRedistribute)
	t.CollToRedistribute.Add(t.CollToRedistribute, s.collToRedistribute)
	t.CollSurplus.Add(t.CollSurplus, s.collSurplus)
	t.Liquidated = append(t.Liquidated, borrower)
}

// recoveryTracker follows the system totals while a Recovery Mode call
// liquidates, so each trove is judged against the TCR its predecessors left.
type recoveryTracker struct {
	coll         *uint256.Int
	debt         *uint256.Int
	stableInPool *uint256.Int
	recovery     bool
}

func (tx *txn) newRecoveryTracker() *recoveryTracker {
	return &recoveryTracker{
		coll:         tx.st.entireSystemColl(),
		debt:         tx.st.entireSystemDebt(),
		stableInPool: tx.st.sp.totalDeposits.Clone(),
		recovery:     tx.mode == ModeRecovery,
	}
}

func (r *recoveryTracker) tcr(price *uint256.Int) *uint256.Int {
	return ComputeCR(r.coll, r.debt, price)
}

// record removes what left the system: offset debt, collateral sent to the
// pool, gas compensation and surplus. Redistributed amounts stay.
func (r *recoveryTracker) record(s *singleLiquidation, price, ccr *uint256.Int) {
	r.stableInPool = subFloor(r.stableInPool, s.debtToOffset)
	r.debt = subFloor(r.debt, s.debtToOffset)
	r.coll = subFloor(r.coll, s.collToSendToSP)
	r.coll = subFloor(r.coll, s.collGasCompensation)
	r.coll = subFloor(r.coll, s.collSurplus)
	r.recovery = r.tcr(price).Lt(ccr)
}

// liquidateSequence walks up to n troves from the tail of the index.
func (tx *txn) liquidateSequence(liquidator common.Address, n uint64) (*LiquidationTotals, error) {
	totals := newLiquidationTotals()
	totals.Mode = tx.mode
	tracker := tx.newRecoveryTracker()
	p := tx.params

	user := tx.st.sorted.Last()
	for i := uint64(0); i < n && user != (common.Address{}); i++ {
		next := tx.st.sorted.Prev(user)
		icr := tx.st.currentICR(user, tx.price)
		if tracker.recovery {
			if !icr.Lt(p.MCR) && tracker.stableInPool.IsZero() {
				break
			}
			single, err := tx.liquidateRecoveryMode(user, icr, tracker.stableInPool, tracker.tcr(tx.price))
			if err != nil {
				return nil, err
			}
			if single != nil {
				totals.add(user, single)
				tracker.record(single, tx.price, p.CCR)
			}
		} else {
			if !icr.Lt(p.MCR) || len(tx.st.owners) <= 1 {
				break
			}
			single, err := tx.liquidateNormalMode(user, tracker.stableInPool)
			if err != nil {
				return nil, err
			}
			totals.add(user, single)
			tracker.record(single, tx.price, p.CCR)
		}
		user = next
	}
	return tx.finalizeLiquidation(liquidator, totals)
}

// batchLiquidate applies the same rules to an explicit list, skipping
// accounts that are not active or not eligible.
func (tx *txn) batchLiquidate(liquidator common.Address, borrowers []common.Address) (*LiquidationTotals, error) {
	totals := newLiquidationTotals()
	totals.Mode = tx.mode
	tracker := tx.newRecoveryTracker()
	p := tx.params

	for _, user := range borrowers {
		if !tx.st.trove(user).Active() {
			continue
		}
		icr := tx.st.currentICR(user, tx.price)
		if tracker.recovery {
			single, err := tx.liquidateRecoveryMode(user, icr, tracker.stableInPool, tracker.tcr(tx.price))
			if err != nil {
				return nil, err
			}
			if single != nil {
				totals.add(user, single)
				tracker.record(single, tx.price, p.CCR)
			}
			continue
		}
		if !icr.Lt(p.MCR) || len(tx.st.owners) <= 1 {
			continue
		}
		single, err := tx.liquidateNormalMode(user, tracker.stableInPool)
		if err != nil {
			return nil, err
		}
		totals.add(user, single)
		tracker.record(single, tx.price, p.CCR)
	}
	return tx.finalizeLiquidation(liquidator, totals)
}

// finalizeLiquidation settles the aggregate: pool offset, redistribution,
// surplus transfer, system snapshots and gas compensation.
func (tx *txn) finalizeLiquidation(liquidator common.Address, totals *LiquidationTotals) (*LiquidationTotals, error) {
	if totals.DebtInSequence.IsZero() {
		return nil, ErrNothingToLiquidate
	}
	if err := tx.offset(totals.DebtToOffset, totals.CollToSendToSP); err != nil {
		return nil, err
	}
	if !totals.DebtToRedistribute.IsZero() {
		tx.st.redistribute(totals.DebtToRedistribute, totals.CollToRedistribute)
		tx.emit(events.Redistribution{
			Debt:  totals.DebtToRedistribute.Clone(),
			Coll:  totals.CollToRedistribute.Clone(),
			LColl: tx.st.lColl.Clone(),
			LDebt: tx.st.lDebt.Clone(),
		})
	}
	tx.moveSurplus(totals.CollSurplus)
	tx.st.updateSystemSnapshots(totals.CollGasCompensation)

	if err := tx.st.stable.transfer(GasPoolAddress, liquidator, totals.StableGasCompensation); err != nil {
		return nil, err
	}
	tx.st.active.Coll = *subFloor(&tx.st.active.Coll, totals.CollGasCompensation)
	if err := tx.payCollateral(liquidator, totals.CollGasCompensation); err != nil {
		return nil, err
	}
	tx.emit(events.Liquidation{
		Liquidator:            liquidator,
		LiquidatedDebt:        totals.DebtInSequence.Clone(),
		LiquidatedColl:        totals.LiquidatedColl(),
		CollGasCompensation:   totals.CollGasCompensation.Clone(),
		StableGasCompensation: totals.StableGasCompensation.Clone(),
		Count:                 len(totals.Liquidated),
	})
	return totals, nil
}
