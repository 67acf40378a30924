package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/types"
	"cdpchain/native/cdp"
)

var errSlowSubscriber = errors.New("subscriber too slow")

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type hintJSON struct {
	Upper string `json:"upper,omitempty"`
	Lower string `json:"lower,omitempty"`
}

func (h hintJSON) parse() (cdp.Hint, error) {
	upper, err := parseOptionalAddress("hint.upper", h.Upper)
	if err != nil {
		return cdp.Hint{}, err
	}
	lower, err := parseOptionalAddress("hint.lower", h.Lower)
	if err != nil {
		return cdp.Hint{}, err
	}
	return cdp.Hint{Upper: upper, Lower: lower}, nil
}

type troveJSON struct {
	Owner      string `json:"owner"`
	Status     string `json:"status"`
	Coll       string `json:"coll"`
	Debt       string `json:"debt"`
	Stake      string `json:"stake"`
	NICR       string `json:"nicr"`
	ICR        string `json:"icr"`
	ArrayIndex uint64 `json:"arrayIndex"`
}

func troveFrom(v cdp.TroveView) troveJSON {
	return troveJSON{
		Owner:      v.Owner.Hex(),
		Status:     v.Status.String(),
		Coll:       cdp.FormatDecimal(v.Coll),
		Debt:       cdp.FormatDecimal(v.Debt),
		Stake:      cdp.FormatDecimal(v.Stake),
		NICR:       v.NICR.Dec(),
		ICR:        cdp.FormatDecimal(v.ICR),
		ArrayIndex: v.ArrayIndex,
	}
}

type poolJSON struct {
	Coll string `json:"coll"`
	Debt string `json:"debt"`
}

type systemJSON struct {
	Price           string   `json:"price"`
	TCR             string   `json:"tcr"`
	Mode            string   `json:"mode"`
	TroveCount      int      `json:"troveCount"`
	Active          poolJSON `json:"activePool"`
	Default         poolJSON `json:"defaultPool"`
	TotalStakes     string   `json:"totalStakes"`
	BaseRate        string   `json:"baseRate"`
	LastFeeOpTime   int64    `json:"lastFeeOperationTime"`
	StableSupply    string   `json:"stableSupply"`
	PoolDeposits    string   `json:"stabilityDeposits"`
	PoolColl        string   `json:"stabilityColl"`
	SurplusColl     string   `json:"surplusColl"`
	FeeSinkColl     string   `json:"feeSinkColl"`
	TotalIssued     string   `json:"totalIssued"`
	Paused          []string `json:"paused"`
	BorrowingRate   string   `json:"borrowingRate"`
	RedemptionRate  string   `json:"redemptionRate"`
	CollateralFloat string   `json:"collateralFloat"`
}

func systemFrom(v cdp.SystemView) systemJSON {
	return systemJSON{
		Price:           cdp.FormatDecimal(v.Price),
		TCR:             cdp.FormatDecimal(v.TCR),
		Mode:            v.Mode.String(),
		TroveCount:      v.TroveCount,
		Active:          poolJSON{Coll: cdp.FormatDecimal(v.Active.Coll), Debt: cdp.FormatDecimal(v.Active.Debt)},
		Default:         poolJSON{Coll: cdp.FormatDecimal(v.Default.Coll), Debt: cdp.FormatDecimal(v.Default.Debt)},
		TotalStakes:     cdp.FormatDecimal(v.TotalStakes),
		BaseRate:        cdp.FormatDecimal(v.BaseRate),
		LastFeeOpTime:   v.LastFeeOpTime,
		StableSupply:    cdp.FormatDecimal(v.StableSupply),
		PoolDeposits:    cdp.FormatDecimal(v.PoolDeposits),
		PoolColl:        cdp.FormatDecimal(v.PoolColl),
		SurplusColl:     cdp.FormatDecimal(v.SurplusColl),
		FeeSinkColl:     cdp.FormatDecimal(v.FeeSinkColl),
		TotalIssued:     cdp.FormatDecimal(v.TotalIssued),
		CollateralFloat: cdp.FormatDecimal(v.CollateralFloat),
	}
}

type liquidationJSON struct {
	Mode                  string   `json:"mode"`
	Liquidated            []string `json:"liquidated"`
	LiquidatedDebt        string   `json:"liquidatedDebt"`
	LiquidatedColl        string   `json:"liquidatedColl"`
	DebtOffset            string   `json:"debtOffset"`
	DebtRedistributed     string   `json:"debtRedistributed"`
	CollGasCompensation   string   `json:"collGasCompensation"`
	StableGasCompensation string   `json:"stableGasCompensation"`
	CollSurplus           string   `json:"collSurplus"`
}

func liquidationFrom(t *cdp.LiquidationTotals) liquidationJSON {
	return liquidationJSON{
		Mode:                  t.Mode.String(),
		Liquidated:            addressStrings(t.Liquidated),
		LiquidatedDebt:        cdp.FormatDecimal(t.DebtInSequence),
		LiquidatedColl:        cdp.FormatDecimal(t.LiquidatedColl()),
		DebtOffset:            cdp.FormatDecimal(t.DebtToOffset),
		DebtRedistributed:     cdp.FormatDecimal(t.DebtToRedistribute),
		CollGasCompensation:   cdp.FormatDecimal(t.CollGasCompensation),
		StableGasCompensation: cdp.FormatDecimal(t.StableGasCompensation),
		CollSurplus:           cdp.FormatDecimal(t.CollSurplus),
	}
}

type redemptionJSON struct {
	AttemptedAmount  string   `json:"attemptedAmount"`
	RedeemedAmount   string   `json:"redeemedAmount"`
	CollDrawn        string   `json:"collDrawn"`
	CollFee          string   `json:"collFee"`
	CollSent         string   `json:"collSent"`
	Redeemed         []string `json:"redeemed"`
	PartialCancelled bool     `json:"partialCancelled"`
}

func redemptionFrom(r *cdp.RedemptionResult) redemptionJSON {
	return redemptionJSON{
		AttemptedAmount:  cdp.FormatDecimal(r.AttemptedAmount),
		RedeemedAmount:   cdp.FormatDecimal(r.RedeemedAmount),
		CollDrawn:        cdp.FormatDecimal(r.CollDrawn),
		CollFee:          cdp.FormatDecimal(r.CollFee),
		CollSent:         cdp.FormatDecimal(r.CollSent),
		Redeemed:         addressStrings(r.Redeemed),
		PartialCancelled: r.PartialCancelled,
	}
}

type redemptionHintsJSON struct {
	FirstHint       string `json:"firstHint"`
	PartialNICR     string `json:"partialNICR"`
	TruncatedAmount string `json:"truncatedAmount"`
}

type accountJSON struct {
	Account           string `json:"account"`
	Bech32            string `json:"bech32"`
	Stable            string `json:"stable"`
	Collateral        string `json:"collateral"`
	Surplus           string `json:"surplus"`
	Deposit           string `json:"deposit"`
	DepositCollGain   string `json:"depositCollGain"`
	DepositIssuance   string `json:"depositIssuanceGain"`
	IssuanceBalance   string `json:"issuanceBalance"`
	Stake             string `json:"stake"`
	PendingCollGain   string `json:"pendingCollGain"`
	PendingStableGain string `json:"pendingStableGain"`
}

func addressStrings(addrs []common.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, addr.Hex())
	}
	return out
}

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func invalid(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return invalid("invalid payload: %v", err)
	}
	return nil
}

func parseAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, invalid("%s is required", field)
	}
	value, err := cdp.ParseDecimal(raw)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	return value, nil
}

func parseOptionalAmount(field, raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(field, raw)
}

// parseMaxFee defaults to 100% so callers that omit it accept any fee.
func parseMaxFee(raw string) (*uint256.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return cdp.DecimalPrecision.Clone(), nil
	}
	return parseAmount("maxFee", raw)
}

// parseAddress accepts hex or cdp-prefixed bech32 accounts.
func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	addr, err := types.ParseAccount(raw)
	if err != nil {
		return common.Address{}, invalid("%s: invalid address %q", field, raw)
	}
	return addr, nil
}

func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	return parseAddress(field, raw)
}

func parseUintQuery(r *http.Request, key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, invalid("%s must be a non-negative integer", key)
	}
	return value, nil
}
