package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

func (s *SystemState) surplusOf(addr common.Address) *uint256.Int {
	if bal, ok := s.surplus[addr]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// accountSurplus credits a closed trove's leftover collateral to its owner.
// The collateral itself moves from the active pool in moveSurplus.
func (tx *txn) accountSurplus(owner common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	addBalance(tx.st.surplus, owner, amount)
	tx.emit(events.CollSurplusUpdated{Account: owner, Balance: tx.st.surplusOf(owner)})
}

func (tx *txn) moveSurplus(amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	tx.st.active.Coll = *subFloor(&tx.st.active.Coll, amount)
	tx.st.surplusColl.Add(&tx.st.surplusColl, amount)
}

// claimCollateral pays out the whole surplus balance of owner.
func (tx *txn) claimCollateral(owner common.Address) (*uint256.Int, error) {
	amount := tx.st.surplusOf(owner)
	if amount.IsZero() {
		return nil, ErrNoCollateralToClaim
	}
	delete(tx.st.surplus, owner)
	tx.st.surplusColl = *subFloor(&tx.st.surplusColl, amount)
	tx.emit(events.CollSurplusUpdated{Account: owner, Balance: new(uint256.Int)})
	if err := tx.payCollateral(owner, amount); err != nil {
		return nil, err
	}
	return amount, nil
}
