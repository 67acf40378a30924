package cdp

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceFeed supplies the collateral price in stablecoin, 18 decimals.
type PriceFeed interface {
	Price() (*uint256.Int, error)
}

// StaticPriceFeed returns an operator-set price. A zero price reads as
// unavailable.
type StaticPriceFeed struct {
	mu    sync.RWMutex
	price uint256.Int
}

func NewStaticPriceFeed(price *uint256.Int) *StaticPriceFeed {
	feed := &StaticPriceFeed{}
	feed.SetPrice(price)
	return feed
}

func (f *StaticPriceFeed) SetPrice(price *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if price == nil {
		f.price.Clear()
		return
	}
	f.price.Set(price)
}

func (f *StaticPriceFeed) Price() (*uint256.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price.IsZero() {
		return nil, ErrPriceUnavailable
	}
	return f.price.Clone(), nil
}

// Recipients decides whether an account can accept collateral payouts.
type Recipients interface {
	CanReceive(addr common.Address) bool
}

// RecipientFunc adapts a function to Recipients.
type RecipientFunc func(addr common.Address) bool

func (f RecipientFunc) CanReceive(addr common.Address) bool { return f(addr) }
