package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Status tracks the lifecycle of a trove.
type Status uint8

const (
	StatusNonExistent Status = iota
	StatusActive
	StatusClosedByOwner
	StatusClosedByLiquidation
	StatusClosedByRedemption
)

func (s Status) String() string {
	switch s {
	case StatusNonExistent:
		return "nonExistent"
	case StatusActive:
		return "active"
	case StatusClosedByOwner:
		return "closedByOwner"
	case StatusClosedByLiquidation:
		return "closedByLiquidation"
	case StatusClosedByRedemption:
		return "closedByRedemption"
	default:
		return "unknown"
	}
}

// SystemMode is derived once per operation from the total collateral ratio.
type SystemMode uint8

const (
	ModeNormal SystemMode = iota
	// ModeRecovery applies while TCR is below CCR.
	ModeRecovery
)

func (m SystemMode) String() string {
	if m == ModeRecovery {
		return "recovery"
	}
	return "normal"
}

// RewardSnapshot records the redistribution accumulators last applied to a trove.
type RewardSnapshot struct {
	Coll uint256.Int
	Debt uint256.Int
}

// Trove is the stored record of a single borrower position. Debt and Coll are
// the raw stored amounts; pending redistribution rewards are added lazily.
type Trove struct {
	Owner      common.Address
	Debt       uint256.Int
	Coll       uint256.Int
	Stake      uint256.Int
	Status     Status
	ArrayIndex uint64
	Snapshot   RewardSnapshot
}

// Active reports whether the trove currently holds a position.
func (t *Trove) Active() bool { return t != nil && t.Status == StatusActive }

// Hint carries the caller's suggested neighbours for a sorted-index insertion.
// Upper is the expected predecessor (higher NICR), Lower the successor.
type Hint struct {
	Upper common.Address
	Lower common.Address
}

// Adjustment describes a combined collateral and debt change on a trove.
type Adjustment struct {
	CollTopUp      *uint256.Int
	CollWithdrawal *uint256.Int
	DebtChange     *uint256.Int
	IsDebtIncrease bool
	MaxFee         *uint256.Int
	Hint           Hint
}

// EntirePosition is a trove's debt and collateral including pending rewards.
type EntirePosition struct {
	Debt              *uint256.Int
	Coll              *uint256.Int
	PendingDebtReward *uint256.Int
	PendingCollReward *uint256.Int
}

// LiquidationTotals aggregates the outcome of a liquidation call.
type LiquidationTotals struct {
	CollInSequence        *uint256.Int
	DebtInSequence        *uint256.Int
	CollGasCompensation   *uint256.Int
	StableGasCompensation *uint256.Int
	DebtToOffset          *uint256.Int
	CollToSendToSP        *uint256.Int
	DebtToRedistribute    *uint256.Int
	CollToRedistribute    *uint256.Int
	CollSurplus           *uint256.Int
	Liquidated            []common.Address
	// Mode is the system mode at the start of the call.
	Mode SystemMode
}

func newLiquidationTotals() *LiquidationTotals {
	return &LiquidationTotals{
		CollInSequence:        new(uint256.Int),
		DebtInSequence:        new(uint256.Int),
		CollGasCompensation:   new(uint256.Int),
		StableGasCompensation: new(uint256.Int),
		DebtToOffset:          new(uint256.Int),
		CollToSendToSP:        new(uint256.Int),
		DebtToRedistribute:    new(uint256.Int),
		CollToRedistribute:    new(uint256.Int),
		CollSurplus:           new(uint256.Int),
	}
}

// LiquidatedColl is the collateral that left the system through offset or
// redistribution, excluding gas compensation and surplus.
func (t *LiquidationTotals) LiquidatedColl() *uint256.Int {
	out := subFloor(t.CollInSequence, t.CollGasCompensation)
	return subFloor(out, t.CollSurplus)
}

// RedemptionRequest carries the redeemer's parameters and precomputed hints.
type RedemptionRequest struct {
	Amount        *uint256.Int
	FirstHint     common.Address
	UpperHint     common.Address
	LowerHint     common.Address
	PartialNICR   *uint256.Int
	MaxIterations uint64
	MaxFee        *uint256.Int
}

// RedemptionResult reports what a redemption realised.
type RedemptionResult struct {
	AttemptedAmount  *uint256.Int
	RedeemedAmount   *uint256.Int
	CollDrawn        *uint256.Int
	CollFee          *uint256.Int
	CollSent         *uint256.Int
	Redeemed         []common.Address
	PartialCancelled bool
}

// RedemptionHints is the helper output used to build a RedemptionRequest.
type RedemptionHints struct {
	FirstHint       common.Address
	PartialNICR     *uint256.Int
	TruncatedAmount *uint256.Int
}
