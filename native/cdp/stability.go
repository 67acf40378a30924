package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

// scaleFactor is the precision multiplier applied to P when it would otherwise
// drop below 1e9.
var scaleFactor = uint256.NewInt(1_000_000_000)

func (sp *stabilityPool) sumAt(epoch, scale uint64) *uint256.Int {
	if v, ok := sp.sums[scaleKey{Epoch: epoch, Scale: scale}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func (sp *stabilityPool) gainAt(epoch, scale uint64) *uint256.Int {
	if v, ok := sp.gains[scaleKey{Epoch: epoch, Scale: scale}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

func addScaled(m map[scaleKey]*uint256.Int, epoch, scale uint64, amount *uint256.Int) {
	key := scaleKey{Epoch: epoch, Scale: scale}
	v, ok := m[key]
	if !ok {
		v = new(uint256.Int)
		m[key] = v
	}
	v.Add(v, amount)
}

func (sp *stabilityPool) initialDeposit(addr common.Address) *uint256.Int {
	if d, ok := sp.deposits[addr]; ok {
		return d.Initial.Clone()
	}
	return new(uint256.Int)
}

// compoundedDeposit is the deposit after all pool losses since the snapshot.
// Deposits that crossed an epoch, or more than one scale change, are empty.
func (sp *stabilityPool) compoundedDeposit(addr common.Address) *uint256.Int {
	d, ok := sp.deposits[addr]
	if !ok || d.Initial.IsZero() {
		return new(uint256.Int)
	}
	snap := d.Snapshot
	if snap.Epoch < sp.currentEpoch || snap.P.IsZero() {
		return new(uint256.Int)
	}
	var compounded *uint256.Int
	switch sp.currentScale - snap.Scale {
	case 0:
		compounded = mulDiv(&d.Initial, &sp.p, &snap.P)
	case 1:
		compounded = mulDiv(&d.Initial, &sp.p, &snap.P)
		compounded.Div(compounded, scaleFactor)
	default:
		return new(uint256.Int)
	}
	// Truncation noise below a billionth of the deposit means it is gone.
	if compounded.Lt(new(uint256.Int).Div(&d.Initial, scaleFactor)) {
		return new(uint256.Int)
	}
	return compounded
}

// depositorCollGain is the collateral earned from offsets since the snapshot.
func (sp *stabilityPool) depositorCollGain(addr common.Address) *uint256.Int {
	d, ok := sp.deposits[addr]
	if !ok || d.Initial.IsZero() || d.Snapshot.P.IsZero() {
		return new(uint256.Int)
	}
	snap := d.Snapshot
	first := subFloor(sp.sumAt(snap.Epoch, snap.Scale), &snap.S)
	second := new(uint256.Int).Div(sp.sumAt(snap.Epoch, snap.Scale+1), scaleFactor)
	gain := mulDiv(&d.Initial, first.Add(first, second), &snap.P)
	return gain.Div(gain, DecimalPrecision)
}

// depositorIssuanceGain mirrors depositorCollGain over the G accumulator.
func (sp *stabilityPool) depositorIssuanceGain(addr common.Address) *uint256.Int {
	d, ok := sp.deposits[addr]
	if !ok || d.Initial.IsZero() || d.Snapshot.P.IsZero() {
		return new(uint256.Int)
	}
	snap := d.Snapshot
	first := subFloor(sp.gainAt(snap.Epoch, snap.Scale), &snap.G)
	second := new(uint256.Int).Div(sp.gainAt(snap.Epoch, snap.Scale+1), scaleFactor)
	gain := mulDiv(&d.Initial, first.Add(first, second), &snap.P)
	return gain.Div(gain, DecimalPrecision)
}

func (sp *stabilityPool) updateDepositAndSnapshots(addr common.Address, value *uint256.Int) {
	if value.IsZero() {
		delete(sp.deposits, addr)
		return
	}
	d := &deposit{Initial: *value}
	d.Snapshot = depositSnapshot{
		P:     sp.p,
		S:     *sp.sumAt(sp.currentEpoch, sp.currentScale),
		G:     *sp.gainAt(sp.currentEpoch, sp.currentScale),
		Scale: sp.currentScale,
		Epoch: sp.currentEpoch,
	}
	sp.deposits[addr] = d
}

// updateG spreads an issuance tranche over the current deposits.
func (sp *stabilityPool) updateG(issuance *uint256.Int) {
	if sp.totalDeposits.IsZero() || issuance.IsZero() {
		return
	}
	numerator := new(uint256.Int).Mul(issuance, DecimalPrecision)
	numerator.Add(numerator, &sp.lastIssuanceError)
	perUnit := new(uint256.Int).Div(numerator, &sp.totalDeposits)
	sp.lastIssuanceError.Sub(numerator, new(uint256.Int).Mul(perUnit, &sp.totalDeposits))
	marginal := new(uint256.Int).Mul(perUnit, &sp.p)
	addScaled(sp.gains, sp.currentEpoch, sp.currentScale, marginal)
}

// computeRewardsPerUnitStaked returns the collateral gain and deposit loss per
// unit deposited, feeding back the division errors of earlier offsets.
func (sp *stabilityPool) computeRewardsPerUnitStaked(collToAdd, debtToOffset *uint256.Int) (*uint256.Int, *uint256.Int) {
	total := &sp.totalDeposits
	collNumerator := new(uint256.Int).Mul(collToAdd, DecimalPrecision)
	collNumerator.Add(collNumerator, &sp.lastCollError)

	var lossPerUnit *uint256.Int
	if debtToOffset.Eq(total) {
		lossPerUnit = DecimalPrecision.Clone()
		sp.lastDebtLossError.Clear()
	} else {
		lossNumerator := new(uint256.Int).Mul(debtToOffset, DecimalPrecision)
		lossNumerator = subFloor(lossNumerator, &sp.lastDebtLossError)
		lossPerUnit = new(uint256.Int).Div(lossNumerator, total)
		lossPerUnit.AddUint64(lossPerUnit, 1)
		sp.lastDebtLossError.Sub(new(uint256.Int).Mul(lossPerUnit, total), lossNumerator)
	}

	collPerUnit := new(uint256.Int).Div(collNumerator, total)
	sp.lastCollError.Sub(collNumerator, new(uint256.Int).Mul(collPerUnit, total))
	return collPerUnit, lossPerUnit
}

func (sp *stabilityPool) updateRewardSumAndProduct(collPerUnit, lossPerUnit *uint256.Int) {
	currentP := sp.p.Clone()
	productFactor := subFloor(DecimalPrecision, lossPerUnit)

	marginal := new(uint256.Int).Mul(collPerUnit, currentP)
	addScaled(sp.sums, sp.currentEpoch, sp.currentScale, marginal)

	if productFactor.IsZero() {
		// The pool was emptied: start a new epoch.
		sp.currentEpoch++
		sp.currentScale = 0
		sp.p.Set(DecimalPrecision)
		return
	}
	next := mulDiv(currentP, productFactor, DecimalPrecision)
	if next.Lt(scaleFactor) {
		next = new(uint256.Int).Mul(currentP, productFactor)
		next.Mul(next, scaleFactor)
		next.Div(next, DecimalPrecision)
		sp.currentScale++
	}
	if next.IsZero() {
		next.SetOne()
	}
	sp.p = *next
}

// triggerIssuance emits the tranche accrued since the last call and credits it
// to G. With an empty pool the tranche is forfeited.
func (tx *txn) triggerIssuance() {
	tranche := tx.st.issue(tx.now, tx.params)
	tx.st.sp.updateG(tranche)
}

// offset absorbs liquidated debt with pool deposits and hands the matching
// collateral to depositors.
func (tx *txn) offset(debtToOffset, collToAdd *uint256.Int) error {
	sp := &tx.st.sp
	if sp.totalDeposits.IsZero() || debtToOffset.IsZero() {
		return nil
	}
	tx.triggerIssuance()
	collPerUnit, lossPerUnit := sp.computeRewardsPerUnitStaked(collToAdd, debtToOffset)
	sp.updateRewardSumAndProduct(collPerUnit, lossPerUnit)

	tx.st.active.Debt = *subFloor(&tx.st.active.Debt, debtToOffset)
	sp.totalDeposits = *subFloor(&sp.totalDeposits, debtToOffset)
	if err := tx.st.stable.burn(StabilityPoolAddress, debtToOffset); err != nil {
		return err
	}
	tx.st.active.Coll = *subFloor(&tx.st.active.Coll, collToAdd)
	sp.coll.Add(&sp.coll, collToAdd)

	tx.emit(events.StabilityOffset{
		DebtOffset: debtToOffset.Clone(),
		CollAdded:  collToAdd.Clone(),
		P:          sp.p.Clone(),
		Epoch:      sp.currentEpoch,
		Scale:      sp.currentScale,
	})
	return nil
}

// settleDepositorGains pays issuance and returns the collateral gain and the
// compounded deposit, both measured before the caller changes the deposit.
func (tx *txn) settleDepositorGains(depositor common.Address) (collGain, compounded *uint256.Int) {
	sp := &tx.st.sp
	tx.triggerIssuance()
	collGain = sp.depositorCollGain(depositor)
	compounded = sp.compoundedDeposit(depositor)
	tx.st.creditIssuance(depositor, sp.depositorIssuanceGain(depositor))
	return collGain, compounded
}

func (tx *txn) sendCollGain(depositor common.Address, gain *uint256.Int) error {
	if gain.IsZero() {
		return nil
	}
	tx.st.sp.coll = *subFloor(&tx.st.sp.coll, gain)
	return tx.payCollateral(depositor, gain)
}

func (tx *txn) provideToSP(depositor common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if IsModuleAddress(depositor) {
		return ErrInsufficientBalance
	}
	if tx.st.stable.balanceOf(depositor).Lt(amount) {
		return ErrInsufficientBalance
	}
	collGain, compounded := tx.settleDepositorGains(depositor)
	if err := tx.st.stable.transfer(depositor, StabilityPoolAddress, amount); err != nil {
		return err
	}
	tx.st.sp.totalDeposits.Add(&tx.st.sp.totalDeposits, amount)
	newDeposit := new(uint256.Int).Add(compounded, amount)
	tx.st.sp.updateDepositAndSnapshots(depositor, newDeposit)
	tx.emit(events.StabilityDepositUpdated{Depositor: depositor, Deposit: newDeposit, CollGain: collGain})
	return tx.sendCollGain(depositor, collGain)
}

func (tx *txn) withdrawFromSP(depositor common.Address, amount *uint256.Int) error {
	if amount == nil {
		amount = new(uint256.Int)
	}
	if !amount.IsZero() {
		if err := tx.requireNoUndercollateralizedTroves(); err != nil {
			return err
		}
	}
	if tx.st.sp.initialDeposit(depositor).IsZero() {
		return ErrNoDeposit
	}
	collGain, compounded := tx.settleDepositorGains(depositor)
	withdrawal := minU256(amount, compounded)
	if err := tx.st.stable.transfer(StabilityPoolAddress, depositor, withdrawal); err != nil {
		return err
	}
	tx.st.sp.totalDeposits = *subFloor(&tx.st.sp.totalDeposits, withdrawal)
	remaining := new(uint256.Int).Sub(compounded, withdrawal)
	tx.st.sp.updateDepositAndSnapshots(depositor, remaining)
	tx.emit(events.StabilityDepositUpdated{Depositor: depositor, Deposit: remaining, CollGain: collGain})
	return tx.sendCollGain(depositor, collGain)
}

// withdrawCollGainToTrove moves the depositor's whole collateral gain into
// their own trove as a top-up.
func (tx *txn) withdrawCollGainToTrove(depositor common.Address, hint Hint) error {
	if tx.st.sp.initialDeposit(depositor).IsZero() {
		return ErrNoDeposit
	}
	if !tx.st.trove(depositor).Active() {
		return ErrTroveNotActive
	}
	if tx.st.sp.depositorCollGain(depositor).IsZero() {
		return ErrNoCollGain
	}
	collGain, compounded := tx.settleDepositorGains(depositor)
	tx.st.sp.updateDepositAndSnapshots(depositor, compounded)
	tx.st.sp.coll = *subFloor(&tx.st.sp.coll, collGain)
	tx.emit(events.StabilityDepositUpdated{Depositor: depositor, Deposit: compounded, CollGain: collGain})
	return tx.adjustTrove(depositor, Adjustment{CollTopUp: collGain, Hint: hint}, fromStabilityPool)
}

// requireNoUndercollateralizedTroves blocks withdrawals while the riskiest
// trove could still be liquidated against the pool.
func (tx *txn) requireNoUndercollateralizedTroves() error {
	lowest := tx.st.sorted.Last()
	if lowest == (common.Address{}) {
		return nil
	}
	if tx.st.currentICR(lowest, tx.price).Lt(tx.params.MCR) {
		return ErrUndercollateralized
	}
	return nil
}
