package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Module accounts. They hold balances on behalf of the protocol and can never
// own a trove.
var (
	GasPoolAddress       = common.BytesToAddress([]byte("cdp/gas-pool"))
	StabilityPoolAddress = common.BytesToAddress([]byte("cdp/stability-pool"))
	FeeSinkAddress       = common.BytesToAddress([]byte("cdp/fee-sink"))
)

// IsModuleAddress reports whether addr is one of the protocol accounts.
func IsModuleAddress(addr common.Address) bool {
	return addr == GasPoolAddress || addr == StabilityPoolAddress || addr == FeeSinkAddress
}

// tokenLedger is a fungible balance book. The stablecoin and the collateral
// held outside the protocol pools each use one.
type tokenLedger struct {
	balances map[common.Address]*uint256.Int
	supply   uint256.Int
}

func newTokenLedger() tokenLedger {
	return tokenLedger{balances: make(map[common.Address]*uint256.Int)}
}

func (l *tokenLedger) clone() tokenLedger {
	out := tokenLedger{balances: make(map[common.Address]*uint256.Int, len(l.balances)), supply: l.supply}
	for addr, bal := range l.balances {
		out.balances[addr] = bal.Clone()
	}
	return out
}

func (l *tokenLedger) balanceOf(addr common.Address) *uint256.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

func (l *tokenLedger) totalSupply() *uint256.Int { return l.supply.Clone() }

func (l *tokenLedger) mint(to common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	bal, ok := l.balances[to]
	if !ok {
		bal = new(uint256.Int)
		l.balances[to] = bal
	}
	bal.Add(bal, amount)
	l.supply.Add(&l.supply, amount)
}

func (l *tokenLedger) burn(from common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	bal, ok := l.balances[from]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(l.balances, from)
	}
	l.supply.Sub(&l.supply, amount)
	return nil
}

func (l *tokenLedger) transfer(from, to common.Address, amount *uint256.Int) error {
	if err := l.burn(from, amount); err != nil {
		return err
	}
	l.mint(to, amount)
	return nil
}

// each visits every non-zero balance.
func (l *tokenLedger) each(fn func(addr common.Address, bal *uint256.Int)) {
	for addr, bal := range l.balances {
		fn(addr, bal)
	}
}
