package server

import (
	"bytes"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"

	"cdpchain/core/types"
	"cdpchain/integrations/exports"
	"cdpchain/native/cdp"
	"cdpchain/services/cdpd/archive"
)

var errNoSnapshotStore = errors.New("snapshot store not configured")

const (
	defaultHintTrials       = 15
	defaultRedeemIterations = 0
)

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.System()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := systemFrom(view)
	out.Paused = s.pauses.Paused()
	out.BorrowingRate = cdp.FormatDecimal(s.engine.BorrowingRateWithDecay())
	out.RedemptionRate = cdp.FormatDecimal(s.engine.RedemptionRateWithDecay())
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"baseRate":                cdp.FormatDecimal(s.engine.BaseRate()),
		"lastFeeOperationTime":    s.engine.LastFeeOperationTime(),
		"borrowingRate":           cdp.FormatDecimal(s.engine.BorrowingRate()),
		"borrowingRateWithDecay":  cdp.FormatDecimal(s.engine.BorrowingRateWithDecay()),
		"redemptionRate":          cdp.FormatDecimal(s.engine.RedemptionRate()),
		"redemptionRateWithDecay": cdp.FormatDecimal(s.engine.RedemptionRateWithDecay()),
	}
	if raw := r.URL.Query().Get("borrow"); raw != "" {
		amount, err := parseAmount("borrow", raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out["borrowingFee"] = cdp.FormatDecimal(s.engine.BorrowingFeeWithDecay(amount))
	}
	if raw := r.URL.Query().Get("redeemColl"); raw != "" {
		amount, err := parseAmount("redeemColl", raw)
		if err != nil {
			s.writeError(w, err)
			return
		}
		out["redemptionFee"] = cdp.FormatDecimal(s.engine.RedemptionFeeWithDecay(amount))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTroves(w http.ResponseWriter, r *http.Request) {
	views := s.engine.Troves()
	out := make([]troveJSON, 0, len(views))
	for _, v := range views {
		out = append(out, troveFrom(v))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSortedTroves(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, addressStrings(s.engine.SortedTroves()))
}

func (s *Server) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("owner", chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := s.engine.Trove(owner)
	if view.Status == cdp.StatusNonExistent {
		s.writeError(w, cdp.ErrTroveNotActive)
		return
	}
	s.writeJSON(w, http.StatusOK, troveFrom(view))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account, err := parseAddress("account", chi.URLParam(r, "account"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.accountView(account))
}

func (s *Server) accountView(account common.Address) accountJSON {
	bech, _ := types.FormatAccount(account)
	return accountJSON{
		Account:           account.Hex(),
		Bech32:            bech,
		Stable:            cdp.FormatDecimal(s.engine.StableBalance(account)),
		Collateral:        cdp.FormatDecimal(s.engine.CollateralBalance(account)),
		Surplus:           cdp.FormatDecimal(s.engine.Surplus(account)),
		Deposit:           cdp.FormatDecimal(s.engine.CompoundedDeposit(account)),
		DepositCollGain:   cdp.FormatDecimal(s.engine.DepositorCollGain(account)),
		DepositIssuance:   cdp.FormatDecimal(s.engine.DepositorIssuanceGain(account)),
		IssuanceBalance:   cdp.FormatDecimal(s.engine.IssuanceBalance(account)),
		Stake:             cdp.FormatDecimal(s.engine.StakeOf(account)),
		PendingCollGain:   cdp.FormatDecimal(s.engine.PendingCollGain(account)),
		PendingStableGain: cdp.FormatDecimal(s.engine.PendingStableGain(account)),
	}
}

func (s *Server) handleRedemptionHints(w http.ResponseWriter, r *http.Request) {
	amount, err := parseAmount("amount", r.URL.Query().Get("amount"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	iterations, err := parseUintQuery(r, "maxIterations", defaultRedeemIterations)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hints, err := s.engine.RedemptionHints(amount, nil, iterations)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redemptionHintsJSON{
		FirstHint:       hints.FirstHint.Hex(),
		PartialNICR:     hints.PartialNICR.Dec(),
		TruncatedAmount: cdp.FormatDecimal(hints.TruncatedAmount),
	})
}

// handleInsertHint returns the neighbours for a trove with the given
// collateral and total debt.
func (s *Server) handleInsertHint(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	coll, err := parseAmount("coll", query.Get("coll"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	debt, err := parseAmount("debt", query.Get("debt"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	trials, err := parseUintQuery(r, "trials", defaultHintTrials)
	if err != nil {
		s.writeError(w, err)
		return
	}
	nicr := cdp.ComputeNominalCR(coll, debt)
	approx := s.engine.ApproxHint(nicr, trials, nil)
	hint := s.engine.FindInsertPosition(nicr, approx.Hint, approx.Hint)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"nicr":  nicr.Dec(),
		"upper": hint.Upper.Hex(),
		"lower": hint.Lower.Hex(),
	})
}

func (s *Server) handleExportTroves(w http.ResponseWriter, r *http.Request) {
	troves := s.engine.Troves()
	takenAt := s.now().UTC()
	name := "troves-" + takenAt.Format("20060102T150405Z")
	switch format := chi.URLParam(r, "format"); format {
	case "csv", "jsonl":
		render := exports.TrovesCSV
		contentType := "text/csv"
		if format == "jsonl" {
			render = exports.TrovesJSONL
			contentType = "application/x-ndjson"
		}
		payload, checksum, err := render(troves, takenAt)
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+"."+format+`"`)
		w.Header().Set("X-Checksum-SHA256", checksum)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	case "parquet":
		var buf bytes.Buffer
		if err := exports.WriteTrovesParquet(&buf, troves, takenAt); err != nil {
			s.writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apache.parquet")
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`.parquet"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		s.writeError(w, invalid("unsupported export format %q", format))
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "event archive not configured", http.StatusNotFound)
		return
	}
	query := r.URL.Query()
	limit, err := parseUintQuery(r, "limit", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := archive.Query{Type: query.Get("type"), Account: query.Get("account"), Limit: int(min(limit, 500))}
	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, invalid("since must be RFC3339"))
			return
		}
		q.Since = since
	}
	records, err := s.archive.Recent(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	type eventJSON struct {
		ID         string            `json:"id"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
		CreatedAt  time.Time         `json:"createdAt"`
	}
	out := make([]eventJSON, 0, len(records))
	for _, rec := range records {
		ev, err := rec.Event()
		if err != nil {
			s.writeError(w, err)
			return
		}
		out = append(out, eventJSON{ID: rec.ID.String(), Type: ev.Type, Attributes: ev.Attributes, CreatedAt: rec.CreatedAt})
	}
	s.writeJSON(w, http.StatusOK, out)
}

type openTroveRequest struct {
	Coll   string   `json:"coll"`
	Amount string   `json:"amount"`
	MaxFee string   `json:"maxFee"`
	Hint   hintJSON `json:"hint"`
}

func (s *Server) handleOpenTrove(w http.ResponseWriter, r *http.Request) {
	var req openTroveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	coll, err := parseAmount("coll", req.Coll)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxFee, err := parseMaxFee(req.MaxFee)
	if err != nil {
		s.writeError(w, err)
		return
	}
	hint, err := req.Hint.parse()
	if err != nil {
		s.writeError(w, err)
		return
	}
	owner := s.caller(r)
	commit, err := s.reserveBorrow(owner, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.OpenTrove(owner, coll, amount, maxFee, hint); err != nil {
		s.writeError(w, err)
		return
	}
	commit()
	s.writeJSON(w, http.StatusCreated, troveFrom(s.engine.Trove(owner)))
}

type adjustTroveRequest struct {
	CollTopUp      string   `json:"collTopUp"`
	CollWithdrawal string   `json:"collWithdrawal"`
	DebtChange     string   `json:"debtChange"`
	IsDebtIncrease bool     `json:"isDebtIncrease"`
	MaxFee         string   `json:"maxFee"`
	Hint           hintJSON `json:"hint"`
}

func (s *Server) handleAdjustTrove(w http.ResponseWriter, r *http.Request) {
	var req adjustTroveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	adj := cdp.Adjustment{IsDebtIncrease: req.IsDebtIncrease}
	var err error
	if adj.CollTopUp, err = parseOptionalAmount("collTopUp", req.CollTopUp); err != nil {
		s.writeError(w, err)
		return
	}
	if adj.CollWithdrawal, err = parseOptionalAmount("collWithdrawal", req.CollWithdrawal); err != nil {
		s.writeError(w, err)
		return
	}
	if adj.DebtChange, err = parseOptionalAmount("debtChange", req.DebtChange); err != nil {
		s.writeError(w, err)
		return
	}
	if adj.MaxFee, err = parseMaxFee(req.MaxFee); err != nil {
		s.writeError(w, err)
		return
	}
	if adj.Hint, err = req.Hint.parse(); err != nil {
		s.writeError(w, err)
		return
	}
	owner := s.caller(r)
	commit := func() {}
	if adj.IsDebtIncrease && adj.DebtChange != nil {
		if commit, err = s.reserveBorrow(owner, adj.DebtChange); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if err := s.engine.AdjustTrove(owner, adj); err != nil {
		s.writeError(w, err)
		return
	}
	commit()
	s.writeJSON(w, http.StatusOK, troveFrom(s.engine.Trove(owner)))
}

func (s *Server) handleCloseTrove(w http.ResponseWriter, r *http.Request) {
	owner := s.caller(r)
	if err := s.engine.CloseTrove(owner); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, troveFrom(s.engine.Trove(owner)))
}

func (s *Server) handleClaimCollateral(w http.ResponseWriter, r *http.Request) {
	claimed, err := s.engine.ClaimCollateral(s.caller(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"claimed": cdp.FormatDecimal(claimed)})
}

func (s *Server) handleApplyRewards(w http.ResponseWriter, r *http.Request) {
	owner := s.caller(r)
	if err := s.engine.ApplyPendingRewards(owner); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, troveFrom(s.engine.Trove(owner)))
}

// liquidateRequest selects one of three modes: a single borrower, an
// explicit batch, or the riskiest Count troves.
type liquidateRequest struct {
	Borrower  string   `json:"borrower"`
	Borrowers []string `json:"borrowers"`
	Count     uint64   `json:"count"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	liquidator := s.caller(r)
	var (
		totals *cdp.LiquidationTotals
		err    error
	)
	switch {
	case req.Borrower != "":
		borrower, perr := parseAddress("borrower", req.Borrower)
		if perr != nil {
			s.writeError(w, perr)
			return
		}
		totals, err = s.engine.Liquidate(liquidator, borrower)
	case len(req.Borrowers) > 0:
		batch := make([]common.Address, 0, len(req.Borrowers))
		for _, raw := range req.Borrowers {
			addr, perr := parseAddress("borrowers", raw)
			if perr != nil {
				s.writeError(w, perr)
				return
			}
			batch = append(batch, addr)
		}
		totals, err = s.engine.BatchLiquidateTroves(liquidator, batch)
	case req.Count > 0:
		totals, err = s.engine.LiquidateTroves(liquidator, req.Count)
	default:
		err = invalid("one of borrower, borrowers or count is required")
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, liquidationFrom(totals))
}

type redeemRequest struct {
	Amount        string `json:"amount"`
	MaxFee        string `json:"maxFee"`
	MaxIterations uint64 `json:"maxIterations"`
	FirstHint     string `json:"firstHint"`
	UpperHint     string `json:"upperHint"`
	LowerHint     string `json:"lowerHint"`
	PartialNICR   string `json:"partialNICR"`
}

// handleRedeem computes hints server-side when the caller sends none.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	maxFee, err := parseMaxFee(req.MaxFee)
	if err != nil {
		s.writeError(w, err)
		return
	}
	redemption := cdp.RedemptionRequest{Amount: amount, MaxFee: maxFee, MaxIterations: req.MaxIterations}
	if strings.TrimSpace(req.FirstHint) == "" && strings.TrimSpace(req.PartialNICR) == "" {
		hints, err := s.engine.RedemptionHints(amount, nil, req.MaxIterations)
		if err != nil {
			s.writeError(w, err)
			return
		}
		nicr := hints.PartialNICR
		approx := s.engine.ApproxHint(nicr, defaultHintTrials, nil)
		insert := s.engine.FindInsertPosition(nicr, approx.Hint, approx.Hint)
		redemption.FirstHint, redemption.PartialNICR = hints.FirstHint, nicr
		redemption.UpperHint, redemption.LowerHint = insert.Upper, insert.Lower
	} else {
		if redemption.FirstHint, err = parseOptionalAddress("firstHint", req.FirstHint); err != nil {
			s.writeError(w, err)
			return
		}
		if redemption.UpperHint, err = parseOptionalAddress("upperHint", req.UpperHint); err != nil {
			s.writeError(w, err)
			return
		}
		if redemption.LowerHint, err = parseOptionalAddress("lowerHint", req.LowerHint); err != nil {
			s.writeError(w, err)
			return
		}
		nicr := new(uint256.Int)
		if raw := strings.TrimSpace(req.PartialNICR); raw != "" {
			if nicr, err = uint256.FromDecimal(raw); err != nil {
				s.writeError(w, invalid("partialNICR: %v", err))
				return
			}
		}
		redemption.PartialNICR = nicr
	}
	result, err := s.engine.RedeemCollateral(s.caller(r), redemption)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, redemptionFrom(result))
}

type amountRequest struct {
	Amount string   `json:"amount"`
	Hint   hintJSON `json:"hint"`
}

func (s *Server) decodeAmount(w http.ResponseWriter, r *http.Request, optional bool) (*uint256.Int, cdp.Hint, bool) {
	var req amountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return nil, cdp.Hint{}, false
	}
	parse := parseAmount
	if optional {
		parse = parseOptionalAmount
	}
	amount, err := parse("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return nil, cdp.Hint{}, false
	}
	hint, err := req.Hint.parse()
	if err != nil {
		s.writeError(w, err)
		return nil, cdp.Hint{}, false
	}
	return amount, hint, true
}

func (s *Server) handleProvideToSP(w http.ResponseWriter, r *http.Request) {
	amount, _, ok := s.decodeAmount(w, r, false)
	if !ok {
		return
	}
	s.respondAccount(w, r, s.engine.ProvideToSP(s.caller(r), amount))
}

// handleWithdrawFromSP only claims gains when no amount is given. Amounts
// above the compounded deposit withdraw all of it.
func (s *Server) handleWithdrawFromSP(w http.ResponseWriter, r *http.Request) {
	amount, _, ok := s.decodeAmount(w, r, true)
	if !ok {
		return
	}
	s.respondAccount(w, r, s.engine.WithdrawFromSP(s.caller(r), amount))
}

func (s *Server) handleCollGainToTrove(w http.ResponseWriter, r *http.Request) {
	_, hint, ok := s.decodeAmount(w, r, true)
	if !ok {
		return
	}
	s.respondAccount(w, r, s.engine.WithdrawCollGainToTrove(s.caller(r), hint))
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	amount, _, ok := s.decodeAmount(w, r, false)
	if !ok {
		return
	}
	s.respondAccount(w, r, s.engine.Stake(s.caller(r), amount))
}

// handleUnstake claims gains only when no amount is given.
func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	amount, _, ok := s.decodeAmount(w, r, true)
	if !ok {
		return
	}
	s.respondAccount(w, r, s.engine.Unstake(s.caller(r), amount))
}

type transferRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.respondAccount(w, r, s.engine.TransferStable(s.caller(r), to, amount))
}

func (s *Server) respondAccount(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.accountView(s.caller(r)))
}

type priceRequest struct {
	Price string `json:"price"`
}

// handleSetPrice updates the operator feed. A zero price marks the feed
// unavailable.
func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		http.Error(w, "price feed is not operator controlled", http.StatusConflict)
		return
	}
	var req priceRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.feed.SetPrice(price)
	s.logger.Info("price updated", "price", cdp.FormatDecimal(price), "by", s.caller(r).Hex())
	s.writeJSON(w, http.StatusOK, map[string]string{"price": cdp.FormatDecimal(price)})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

var pausableModules = map[string]bool{
	cdp.ModuleTroves:      true,
	cdp.ModuleLiquidation: true,
	cdp.ModuleRedemption:  true,
	cdp.ModuleStability:   true,
	cdp.ModuleStaking:     true,
	cdp.ModuleTransfers:   true,
}

// moduleName folds operator input such as " CDP.Troves " onto the canonical
// module identifier.
func moduleName(raw string) string {
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(raw)))
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.Module = moduleName(req.Module)
	if !pausableModules[req.Module] {
		s.writeError(w, invalid("unknown module %q", req.Module))
		return
	}
	s.pauses.Set(req.Module, req.Paused)
	s.logger.Info("module pause toggled", "module", req.Module, "paused", req.Paused, "by", s.caller(r).Hex())
	s.writeJSON(w, http.StatusOK, map[string][]string{"paused": s.pauses.Paused()})
}

type fundRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.engine.Fund(account, amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"account":    account.Hex(),
		"collateral": cdp.FormatDecimal(s.engine.CollateralBalance(account)),
	})
}

type snapshotJSON struct {
	Seq      uint64 `json:"seq"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
}

func snapshotFrom(info cdp.SnapshotInfo) snapshotJSON {
	return snapshotJSON{Seq: info.Seq, Checksum: hex.EncodeToString(info.Checksum[:]), Size: info.Size}
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, errNoSnapshotStore)
		return
	}
	info, err := s.engine.SaveSnapshot(s.snapshots)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, snapshotFrom(info))
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.snapshots == nil {
		s.writeError(w, errNoSnapshotStore)
		return
	}
	infos, err := cdp.ListSnapshots(s.snapshots)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]snapshotJSON, 0, len(infos))
	for _, info := range infos {
		out = append(out, snapshotFrom(info))
	}
	s.writeJSON(w, http.StatusOK, out)
}
