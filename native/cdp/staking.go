package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

func (f *feeSink) increaseFColl(fee *uint256.Int) {
	if fee.IsZero() || f.totalStaked.IsZero() {
		return
	}
	f.fColl.Add(&f.fColl, mulDiv(fee, DecimalPrecision, &f.totalStaked))
}

func (f *feeSink) increaseFStable(fee *uint256.Int) {
	if fee.IsZero() || f.totalStaked.IsZero() {
		return
	}
	f.fStable.Add(&f.fStable, mulDiv(fee, DecimalPrecision, &f.totalStaked))
}

func (f *feeSink) stakeOf(addr common.Address) *uint256.Int {
	if s, ok := f.stakes[addr]; ok {
		return s.Amount.Clone()
	}
	return new(uint256.Int)
}

func (f *feeSink) pendingCollGain(addr common.Address) *uint256.Int {
	s, ok := f.stakes[addr]
	if !ok {
		return new(uint256.Int)
	}
	return mulDiv(&s.Amount, subFloor(&f.fColl, &s.FColl), DecimalPrecision)
}

func (f *feeSink) pendingStableGain(addr common.Address) *uint256.Int {
	s, ok := f.stakes[addr]
	if !ok {
		return new(uint256.Int)
	}
	return mulDiv(&s.Amount, subFloor(&f.fStable, &s.FStable), DecimalPrecision)
}

// receiveFeeColl books redemption fees paid in collateral.
func (tx *txn) receiveFeeColl(fee *uint256.Int) {
	tx.st.active.Coll = *subFloor(&tx.st.active.Coll, fee)
	tx.st.sink.coll.Add(&tx.st.sink.coll, fee)
	tx.st.sink.increaseFColl(fee)
}

// settleFeeGains pays the staker's accrued fee shares and refreshes snapshots.
func (tx *txn) settleFeeGains(staker common.Address) (*uint256.Int, *uint256.Int, error) {
	sink := &tx.st.sink
	collGain := sink.pendingCollGain(staker)
	stableGain := sink.pendingStableGain(staker)
	if s, ok := sink.stakes[staker]; ok {
		s.FColl = sink.fColl
		s.FStable = sink.fStable
	}
	if !stableGain.IsZero() {
		if err := tx.st.stable.transfer(FeeSinkAddress, staker, stableGain); err != nil {
			return nil, nil, err
		}
	}
	if !collGain.IsZero() {
		sink.coll = *subFloor(&sink.coll, collGain)
		if err := tx.payCollateral(staker, collGain); err != nil {
			return nil, nil, err
		}
	}
	return collGain, stableGain, nil
}

// stake locks amount of the staker's credited issuance in the fee sink.
func (tx *txn) stake(staker common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if err := validAccount(staker); err != nil {
		return err
	}
	if tx.st.issuanceBalance(staker).Lt(amount) {
		return ErrInsufficientBalance
	}
	collGain, stableGain, err := tx.settleFeeGains(staker)
	if err != nil {
		return err
	}
	if err := tx.st.debitIssuance(staker, amount); err != nil {
		return err
	}
	sink := &tx.st.sink
	s, ok := sink.stakes[staker]
	if !ok {
		s = &feeStake{FColl: sink.fColl, FStable: sink.fStable}
		sink.stakes[staker] = s
	}
	s.Amount.Add(&s.Amount, amount)
	sink.totalStaked.Add(&sink.totalStaked, amount)
	tx.emit(events.FeeStakeUpdated{Staker: staker, Stake: s.Amount.Clone(), CollGain: collGain, StableGain: stableGain})
	return nil
}

// unstake returns up to amount to the staker's issuance balance; zero only
// claims gains.
func (tx *txn) unstake(staker common.Address, amount *uint256.Int) error {
	sink := &tx.st.sink
	s, ok := sink.stakes[staker]
	if !ok || s.Amount.IsZero() {
		return ErrInsufficientStake
	}
	collGain, stableGain, err := tx.settleFeeGains(staker)
	if err != nil {
		return err
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	withdrawal := minU256(amount, &s.Amount)
	s.Amount.Sub(&s.Amount, withdrawal)
	sink.totalStaked = *subFloor(&sink.totalStaked, withdrawal)
	tx.st.creditIssuance(staker, withdrawal)
	remaining := s.Amount.Clone()
	if remaining.IsZero() {
		delete(sink.stakes, staker)
	}
	tx.emit(events.FeeStakeUpdated{Staker: staker, Stake: remaining, CollGain: collGain, StableGain: stableGain})
	return nil
}
