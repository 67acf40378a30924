package cdp

import (
	"errors"

	nativecommon "cdpchain/native/common"
	"cdpchain/native/cdp/sortedtroves"
)

// Validation rejections: the request was malformed or violates a ratio bound.
var (
	ErrInvalidMaxFee            = errors.New("cdp: max fee percentage out of range")
	ErrZeroAmount               = errors.New("cdp: amount must be greater than zero")
	ErrInvalidAccount           = errors.New("cdp: account cannot be zero or a module address")
	ErrNoAdjustment             = errors.New("cdp: debt or collateral change required")
	ErrBothCollChanges          = errors.New("cdp: cannot top up and withdraw collateral at once")
	ErrCollWithdrawalExceeds    = errors.New("cdp: collateral withdrawal exceeds trove collateral")
	ErrICRBelowMCR              = errors.New("cdp: operation would leave trove with ICR < MCR")
	ErrICRBelowCCR              = errors.New("cdp: operation must leave trove with ICR >= CCR")
	ErrICRDecrease              = errors.New("cdp: cannot decrease ICR in recovery mode")
	ErrTCRBelowCCR              = errors.New("cdp: operation would leave system TCR < CCR")
	ErrTCRBelowMCR              = errors.New("cdp: cannot redeem when TCR < MCR")
	ErrCollWithdrawalInRecovery = errors.New("cdp: collateral withdrawal not permitted in recovery mode")
	ErrRecoveryMode             = errors.New("cdp: operation not permitted during recovery mode")
	ErrNetDebtBelowMin          = errors.New("cdp: trove net debt must be at least the minimum")
	ErrRepayExceedsDebt         = errors.New("cdp: amount repaid must not exceed net debt")
	ErrInsufficientBalance      = errors.New("cdp: insufficient balance")
	ErrTroveNotActive           = errors.New("cdp: trove does not exist or is closed")
	ErrTroveActive              = errors.New("cdp: trove is already active")
	ErrOnlyOneTrove             = errors.New("cdp: only one trove in the system")
	ErrEmptyBatch               = errors.New("cdp: calldata address array must not be empty")
	ErrNoDeposit                = errors.New("cdp: user must have a non-zero deposit")
	ErrUndercollateralized      = errors.New("cdp: cannot withdraw while there are troves with ICR < MCR")
	ErrNoCollGain               = errors.New("cdp: caller must have non-zero collateral gain")
	ErrInsufficientStake        = errors.New("cdp: insufficient stake")
	ErrNoCollateralToClaim      = errors.New("cdp: no collateral available to claim")
	ErrPriceUnavailable         = errors.New("cdp: price feed unavailable")
	ErrListFull                 = sortedtroves.ErrListFull
	ErrModulePaused             = nativecommon.ErrModulePaused
)

// No-op rejections: the request was well formed but nothing qualified.
var (
	ErrNothingToLiquidate = errors.New("cdp: nothing to liquidate")
	ErrUnableToRedeem     = errors.New("cdp: unable to redeem any amount")
)

// Fee bound rejections.
var (
	ErrFeeExceeded = errors.New("cdp: fee exceeded provided maximum")
	ErrFeeEatsAll  = errors.New("cdp: fee would eat up all returned collateral")
)

// ErrPayoutRejected is fatal: a recipient could not take a payout, so the whole
// enclosing operation is abandoned rather than stranding funds.
var ErrPayoutRejected = errors.New("cdp: recipient rejected payout")

var noopErrors = []error{ErrNothingToLiquidate, ErrUnableToRedeem}

var fatalErrors = []error{ErrPayoutRejected}

// IsNoop reports whether err signals a valid but vacuous request.
func IsNoop(err error) bool {
	for _, target := range noopErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err came from a settlement failure.
func IsFatal(err error) bool {
	for _, target := range fatalErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a request validation rejection.
func IsValidation(err error) bool {
	return err != nil && !IsNoop(err) && !IsFatal(err) && !errors.Is(err, ErrPriceUnavailable)
}
