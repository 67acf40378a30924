package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/types"
)

const (
	// TypeTroveUpdated is emitted whenever a trove's stored position changes.
	TypeTroveUpdated = "cdp.trove.updated"
	// TypeTroveLiquidated is emitted once per trove closed by liquidation.
	TypeTroveLiquidated = "cdp.trove.liquidated"
	// TypeLiquidation summarises a liquidation call.
	TypeLiquidation = "cdp.liquidation"
	// TypeRedemption summarises a redemption call.
	TypeRedemption = "cdp.redemption"
	// TypeBaseRateUpdated is emitted when the fee base rate is rewritten.
	TypeBaseRateUpdated = "cdp.baseRate.updated"
	// TypeBorrowingFeePaid is emitted when a debt increase pays a borrowing fee.
	TypeBorrowingFeePaid = "cdp.borrowingFee.paid"
	// TypeCollSurplusUpdated tracks the claimable surplus of an account.
	TypeCollSurplusUpdated = "cdp.collSurplus.updated"
	// TypeStabilityDepositUpdated tracks a Stability Pool deposit.
	TypeStabilityDepositUpdated = "cdp.stability.deposit"
	// TypeStabilityOffset is emitted when debt is absorbed by the pool.
	TypeStabilityOffset = "cdp.stability.offset"
	// TypeRedistribution is emitted when liquidated debt is spread over troves.
	TypeRedistribution = "cdp.rewards.redistributed"
	// TypeFeeStakeUpdated tracks fee sink stakes.
	TypeFeeStakeUpdated = "cdp.feeSink.stake"
	// TypeCollateralFunded is emitted when an operator credits collateral.
	TypeCollateralFunded = "cdp.collateral.funded"
	// TypeStableTransferred is emitted for account to account stablecoin moves.
	TypeStableTransferred = "cdp.stable.transferred"
)

// TroveOperation labels the operation behind a TroveUpdated event.
type TroveOperation string

const (
	TroveOpOpen                = TroveOperation("openTrove")
	TroveOpAdjust              = TroveOperation("adjustTrove")
	TroveOpClose               = TroveOperation("closeTrove")
	TroveOpApplyPendingRewards = TroveOperation("applyPendingRewards")
	TroveOpLiquidateNormal     = TroveOperation("liquidateInNormalMode")
	TroveOpLiquidateRecovery   = TroveOperation("liquidateInRecoveryMode")
	TroveOpRedeem              = TroveOperation("redeemCollateral")
)

type TroveUpdated struct {
	Borrower  common.Address
	Debt      *uint256.Int
	Coll      *uint256.Int
	Stake     *uint256.Int
	Operation TroveOperation
}

func (TroveUpdated) EventType() string { return TypeTroveUpdated }

func (e TroveUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveUpdated,
		Attributes: map[string]string{
			"borrower":  e.Borrower.Hex(),
			"debt":      amountString(e.Debt),
			"coll":      amountString(e.Coll),
			"stake":     amountString(e.Stake),
			"operation": string(e.Operation),
		},
	}
}

type TroveLiquidated struct {
	Borrower  common.Address
	Debt      *uint256.Int
	Coll      *uint256.Int
	Operation TroveOperation
}

func (TroveLiquidated) EventType() string { return TypeTroveLiquidated }

func (e TroveLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeTroveLiquidated,
		Attributes: map[string]string{
			"borrower":  e.Borrower.Hex(),
			"debt":      amountString(e.Debt),
			"coll":      amountString(e.Coll),
			"operation": string(e.Operation),
		},
	}
}

type Liquidation struct {
	Liquidator            common.Address
	LiquidatedDebt        *uint256.Int
	LiquidatedColl        *uint256.Int
	CollGasCompensation   *uint256.Int
	StableGasCompensation *uint256.Int
	Count                 int
}

func (Liquidation) EventType() string { return TypeLiquidation }

func (e Liquidation) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidation,
		Attributes: map[string]string{
			"liquidator":            e.Liquidator.Hex(),
			"liquidatedDebt":        amountString(e.LiquidatedDebt),
			"liquidatedColl":        amountString(e.LiquidatedColl),
			"collGasCompensation":   amountString(e.CollGasCompensation),
			"stableGasCompensation": amountString(e.StableGasCompensation),
			"count":                 strconv.Itoa(e.Count),
		},
	}
}

type Redemption struct {
	Redeemer        common.Address
	AttemptedAmount *uint256.Int
	ActualAmount    *uint256.Int
	CollSent        *uint256.Int
	CollFee         *uint256.Int
}

func (Redemption) EventType() string { return TypeRedemption }

func (e Redemption) Event() *types.Event {
	return &types.Event{
		Type: TypeRedemption,
		Attributes: map[string]string{
			"redeemer":        e.Redeemer.Hex(),
			"attemptedAmount": amountString(e.AttemptedAmount),
			"actualAmount":    amountString(e.ActualAmount),
			"collSent":        amountString(e.CollSent),
			"collFee":         amountString(e.CollFee),
		},
	}
}

type BaseRateUpdated struct {
	BaseRate *uint256.Int
	Time     int64
}

func (BaseRateUpdated) EventType() string { return TypeBaseRateUpdated }

func (e BaseRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBaseRateUpdated,
		Attributes: map[string]string{
			"baseRate": amountString(e.BaseRate),
			"time":     strconv.FormatInt(e.Time, 10),
		},
	}
}

type BorrowingFeePaid struct {
	Borrower common.Address
	Fee      *uint256.Int
}

func (BorrowingFeePaid) EventType() string { return TypeBorrowingFeePaid }

func (e BorrowingFeePaid) Event() *types.Event {
	return &types.Event{
		Type: TypeBorrowingFeePaid,
		Attributes: map[string]string{
			"borrower": e.Borrower.Hex(),
			"fee":      amountString(e.Fee),
		},
	}
}

type CollSurplusUpdated struct {
	Account common.Address
	Balance *uint256.Int
}

func (CollSurplusUpdated) EventType() string { return TypeCollSurplusUpdated }

func (e CollSurplusUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCollSurplusUpdated,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"balance": amountString(e.Balance),
		},
	}
}

type StabilityDepositUpdated struct {
	Depositor common.Address
	Deposit   *uint256.Int
	CollGain  *uint256.Int
}

func (StabilityDepositUpdated) EventType() string { return TypeStabilityDepositUpdated }

func (e StabilityDepositUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityDepositUpdated,
		Attributes: map[string]string{
			"depositor": e.Depositor.Hex(),
			"deposit":   amountString(e.Deposit),
			"collGain":  amountString(e.CollGain),
		},
	}
}

type StabilityOffset struct {
	DebtOffset *uint256.Int
	CollAdded  *uint256.Int
	P          *uint256.Int
	Epoch      uint64
	Scale      uint64
}

func (StabilityOffset) EventType() string { return TypeStabilityOffset }

func (e StabilityOffset) Event() *types.Event {
	return &types.Event{
		Type: TypeStabilityOffset,
		Attributes: map[string]string{
			"debtOffset": amountString(e.DebtOffset),
			"collAdded":  amountString(e.CollAdded),
			"p":          amountString(e.P),
			"epoch":      strconv.FormatUint(e.Epoch, 10),
			"scale":      strconv.FormatUint(e.Scale, 10),
		},
	}
}

type Redistribution struct {
	Debt  *uint256.Int
	Coll  *uint256.Int
	LColl *uint256.Int
	LDebt *uint256.Int
}

func (Redistribution) EventType() string { return TypeRedistribution }

func (e Redistribution) Event() *types.Event {
	return &types.Event{
		Type: TypeRedistribution,
		Attributes: map[string]string{
			"debt":  amountString(e.Debt),
			"coll":  amountString(e.Coll),
			"lColl": amountString(e.LColl),
			"lDebt": amountString(e.LDebt),
		},
	}
}

type FeeStakeUpdated struct {
	Staker     common.Address
	Stake      *uint256.Int
	CollGain   *uint256.Int
	StableGain *uint256.Int
}

func (FeeStakeUpdated) EventType() string { return TypeFeeStakeUpdated }

func (e FeeStakeUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeFeeStakeUpdated,
		Attributes: map[string]string{
			"staker":     e.Staker.Hex(),
			"stake":      amountString(e.Stake),
			"collGain":   amountString(e.CollGain),
			"stableGain": amountString(e.StableGain),
		},
	}
}

type CollateralFunded struct {
	Account common.Address
	Amount  *uint256.Int
}

func (CollateralFunded) EventType() string { return TypeCollateralFunded }

func (e CollateralFunded) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralFunded,
		Attributes: map[string]string{
			"account": e.Account.Hex(),
			"amount":  amountString(e.Amount),
		},
	}
}

type StableTransferred struct {
	From   common.Address
	To     common.Address
	Amount *uint256.Int
}

func (StableTransferred) EventType() string { return TypeStableTransferred }

func (e StableTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeStableTransferred,
		Attributes: map[string]string{
			"from":   e.From.Hex(),
			"to":     e.To.Hex(),
			"amount": amountString(e.Amount),
		},
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
