package cdp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"cdpchain/core/events"
	nativecommon "cdpchain/native/common"
	"cdpchain/observability/metrics"
)

// Pausable module names consulted through nativecommon.Guard.
const (
	ModuleTroves      = "cdp.troves"
	ModuleLiquidation = "cdp.liquidation"
	ModuleRedemption  = "cdp.redemption"
	ModuleStability   = "cdp.stability"
	ModuleStaking     = "cdp.staking"
	ModuleTransfers   = "cdp.transfers"
)

var errNilPriceFeed = errors.New("cdp: price feed not configured")

// Engine owns the protocol state and serialises every operation. Mutations run
// against a clone of the state that replaces the live one only on success, so
// a rejected call leaves nothing behind.
type Engine struct {
	mu      sync.Mutex
	state   *SystemState
	params  Params
	feed    PriceFeed
	now     func() time.Time
	emitter events.Emitter
	payees  Recipients
	pauses  nativecommon.PauseView
	logger  *slog.Logger
	metrics *metrics.CDPMetrics

	// committed numbers commits under mu. Emission takes turns in that order
	// under emitMu so subscribers see events in commit order.
	committed uint64
	emitMu    sync.Mutex
	emitTurn  *sync.Cond
	emitted   uint64
}

// Option customises an Engine at construction.
type Option func(*Engine)

// WithClock replaces time.Now, mostly for tests driving the fee decay.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithEmitter(em events.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

func WithRecipients(r Recipients) Option {
	return func(e *Engine) { e.payees = r }
}

func WithPauses(p nativecommon.PauseView) Option {
	return func(e *Engine) { e.pauses = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.CDPMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine constructs an engine with empty state. The clock reading at
// construction becomes the issuance deployment time.
func NewEngine(params Params, feed PriceFeed, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if feed == nil {
		return nil, errNilPriceFeed
	}
	e := &Engine{
		params:  params,
		feed:    feed,
		now:     time.Now,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
	e.emitTurn = sync.NewCond(&e.emitMu)
	for _, opt := range opts {
		opt(e)
	}
	e.state = newSystemState(params.MaxTroves, e.now().Unix())
	return e, nil
}

// Params returns a copy of the protocol parameters.
func (e *Engine) Params() Params { return e.params }

// SetPauses swaps the pause view at runtime.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	e.mu.Lock()
	e.pauses = p
	e.mu.Unlock()
}

// txn is the working context of one operation.
type txn struct {
	st     *SystemState
	params *Params
	price  *uint256.Int
	now    int64
	mode   SystemMode
	payees Recipients
	events []events.Event
}

func (tx *txn) emit(ev events.Event) { tx.events = append(tx.events, ev) }

// payCollateral releases collateral to an external account. The caller has
// already taken it out of the paying pool.
func (tx *txn) payCollateral(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if tx.payees != nil && !tx.payees.CanReceive(to) {
		return fmt.Errorf("%w: %s", ErrPayoutRejected, to.Hex())
	}
	tx.st.wallets.mint(to, amount)
	return nil
}

func (tx *txn) emitTrove(addr common.Address, op events.TroveOperation) {
	t := tx.st.trove(addr)
	ev := events.TroveUpdated{Borrower: addr, Debt: new(uint256.Int), Coll: new(uint256.Int), Stake: new(uint256.Int), Operation: op}
	if t != nil {
		ev.Debt, ev.Coll, ev.Stake = t.Debt.Clone(), t.Coll.Clone(), t.Stake.Clone()
	}
	tx.emit(ev)
}

func (e *Engine) price() (*uint256.Int, error) {
	price, err := e.feed.Price()
	if err != nil {
		if errors.Is(err, ErrPriceUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if price == nil || price.IsZero() {
		return nil, ErrPriceUnavailable
	}
	return price, nil
}

// execute runs fn against a clone of the state and commits it on success.
// Events are emitted only after the commit.
func (e *Engine) execute(op, module string, fn func(tx *txn) error) error {
	return e.run(op, module, true, fn)
}

// run is execute with the price read made optional. Ledger moves that never
// look at collateral value pass priced=false and keep working while the feed
// is down.
func (e *Engine) run(op, module string, priced bool, fn func(tx *txn) error) error {
	start := time.Now()
	e.mu.Lock()
	abort := func(err error) error {
		e.mu.Unlock()
		e.finish(op, err, start)
		return err
	}
	if err := nativecommon.Guard(e.pauses, module); err != nil {
		return abort(err)
	}
	var price *uint256.Int
	if priced {
		var err error
		if price, err = e.price(); err != nil {
			return abort(err)
		}
	}
	st := e.state.Clone()
	tx := &txn{
		st:     st,
		params: &e.params,
		price:  price,
		now:    e.now().Unix(),
		payees: e.payees,
	}
	if price != nil {
		tx.mode = st.mode(price, e.params.CCR)
	}
	if err := fn(tx); err != nil {
		return abort(err)
	}
	e.state = tx.st
	var snapshot *metrics.SystemSnapshot
	if price != nil {
		snap := e.systemSnapshotLocked(price)
		snapshot = &snap
	}
	e.committed++
	seq := e.committed
	e.mu.Unlock()
	e.emitInOrder(seq, tx.events)

	if snapshot != nil {
		e.metrics.RecordSystem(*snapshot)
	}
	e.finish(op, nil, start)
	return nil
}

// emitInOrder waits until every earlier commit has emitted, then emits evs.
func (e *Engine) emitInOrder(seq uint64, evs []events.Event) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	for e.emitted+1 != seq {
		e.emitTurn.Wait()
	}
	for _, ev := range evs {
		e.emitter.Emit(ev)
	}
	e.emitted = seq
	e.emitTurn.Broadcast()
}

func (e *Engine) finish(op string, err error, start time.Time) {
	outcome := "ok"
	switch {
	case err == nil:
	case IsNoop(err):
		outcome = "noop"
	case IsFatal(err):
		outcome = "fatal"
		e.logger.Warn("cdp operation aborted", slog.String("operation", op), slog.Any("error", err))
	default:
		outcome = "rejected"
		e.logger.Debug("cdp operation rejected", slog.String("operation", op), slog.Any("error", err))
	}
	e.metrics.ObserveOperation(op, outcome, time.Since(start))
}

func (e *Engine) systemSnapshotLocked(price *uint256.Int) metrics.SystemSnapshot {
	st := e.state
	return metrics.SystemSnapshot{
		ActiveTroves: st.sorted.Size(),
		TCR:          ToFloat(st.tcr(price)),
		BaseRate:     ToFloat(&st.fees.BaseRate),
		Debt:         ToFloat(st.entireSystemDebt()),
		Coll:         ToFloat(st.entireSystemColl()),
		PoolDeposits: ToFloat(&st.sp.totalDeposits),
		Recovery:     st.mode(price, e.params.CCR) == ModeRecovery,
	}
}

// Fund credits collateral to an external wallet. It stands in for the
// collateral asset's own ledger.
func (e *Engine) Fund(addr common.Address, amount *uint256.Int) error {
	return e.run("fund", ModuleTransfers, false, func(tx *txn) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := validAccount(addr); err != nil {
			return err
		}
		tx.st.wallets.mint(addr, amount)
		tx.emit(events.CollateralFunded{Account: addr, Amount: amount.Clone()})
		return nil
	})
}

// TransferStable moves stablecoin between external accounts.
func (e *Engine) TransferStable(from, to common.Address, amount *uint256.Int) error {
	return e.run("transferStable", ModuleTransfers, false, func(tx *txn) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		if err := validAccount(from); err != nil {
			return err
		}
		if err := validAccount(to); err != nil {
			return err
		}
		if err := tx.st.stable.transfer(from, to, amount); err != nil {
			return err
		}
		tx.emit(events.StableTransferred{From: from, To: to, Amount: amount.Clone()})
		return nil
	})
}

func (e *Engine) OpenTrove(owner common.Address, coll, amount, maxFee *uint256.Int, hint Hint) error {
	return e.execute("openTrove", ModuleTroves, func(tx *txn) error {
		return tx.openTrove(owner, coll, amount, maxFee, hint)
	})
}

func (e *Engine) AdjustTrove(owner common.Address, adj Adjustment) error {
	return e.execute("adjustTrove", ModuleTroves, func(tx *txn) error {
		return tx.adjustTrove(owner, adj, fromWallet)
	})
}

func (e *Engine) AddColl(owner common.Address, amount *uint256.Int, hint Hint) error {
	return e.AdjustTrove(owner, Adjustment{CollTopUp: amount, Hint: hint})
}

func (e *Engine) WithdrawColl(owner common.Address, amount *uint256.Int, hint Hint) error {
	return e.AdjustTrove(owner, Adjustment{CollWithdrawal: amount, Hint: hint})
}

func (e *Engine) WithdrawStable(owner common.Address, amount, maxFee *uint256.Int, hint Hint) error {
	return e.AdjustTrove(owner, Adjustment{DebtChange: amount, IsDebtIncrease: true, MaxFee: maxFee, Hint: hint})
}

func (e *Engine) RepayStable(owner common.Address, amount *uint256.Int, hint Hint) error {
	return e.AdjustTrove(owner, Adjustment{DebtChange: amount, Hint: hint})
}

func (e *Engine) CloseTrove(owner common.Address) error {
	return e.execute("closeTrove", ModuleTroves, func(tx *txn) error {
		return tx.closeTrove(owner)
	})
}

// ApplyPendingRewards folds pending redistribution rewards into the trove.
func (e *Engine) ApplyPendingRewards(owner common.Address) error {
	return e.execute("applyPendingRewards", ModuleTroves, func(tx *txn) error {
		if !tx.st.trove(owner).Active() {
			return ErrTroveNotActive
		}
		if !tx.st.hasPendingRewards(owner) {
			return nil
		}
		tx.st.applyPendingRewards(owner)
		tx.emitTrove(owner, events.TroveOpApplyPendingRewards)
		return nil
	})
}

// ClaimCollateral pays out the caller's collateral surplus.
func (e *Engine) ClaimCollateral(owner common.Address) (*uint256.Int, error) {
	var claimed *uint256.Int
	err := e.execute("claimCollateral", ModuleTroves, func(tx *txn) error {
		amount, err := tx.claimCollateral(owner)
		claimed = amount
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Liquidate liquidates a single active trove.
func (e *Engine) Liquidate(liquidator, borrower common.Address) (*LiquidationTotals, error) {
	var totals *LiquidationTotals
	err := e.execute("liquidate", ModuleLiquidation, func(tx *txn) error {
		if !tx.st.trove(borrower).Active() {
			return ErrTroveNotActive
		}
		if len(tx.st.owners) <= 1 {
			return ErrOnlyOneTrove
		}
		var err error
		totals, err = tx.batchLiquidate(liquidator, []common.Address{borrower})
		return err
	})
	return e.liquidationResult(totals, err)
}

// LiquidateTroves walks up to n troves from the lowest ICR.
func (e *Engine) LiquidateTroves(liquidator common.Address, n uint64) (*LiquidationTotals, error) {
	var totals *LiquidationTotals
	err := e.execute("liquidateTroves", ModuleLiquidation, func(tx *txn) error {
		var err error
		totals, err = tx.liquidateSequence(liquidator, n)
		return err
	})
	return e.liquidationResult(totals, err)
}

// BatchLiquidateTroves liquidates the eligible troves among borrowers.
func (e *Engine) BatchLiquidateTroves(liquidator common.Address, borrowers []common.Address) (*LiquidationTotals, error) {
	var totals *LiquidationTotals
	err := e.execute("batchLiquidateTroves", ModuleLiquidation, func(tx *txn) error {
		if len(borrowers) == 0 {
			return ErrEmptyBatch
		}
		var err error
		totals, err = tx.batchLiquidate(liquidator, borrowers)
		return err
	})
	return e.liquidationResult(totals, err)
}

func (e *Engine) liquidationResult(totals *LiquidationTotals, err error) (*LiquidationTotals, error) {
	if err != nil {
		return nil, err
	}
	e.metrics.AddLiquidated(totals.Mode.String(), len(totals.Liquidated))
	e.logger.Info("cdp liquidation",
		slog.String("mode", totals.Mode.String()),
		slog.Int("troves", len(totals.Liquidated)),
		slog.String("debt", totals.DebtInSequence.Dec()),
		slog.String("coll", totals.CollInSequence.Dec()))
	return totals, nil
}

// RedeemCollateral swaps stablecoin for collateral at face value against the
// riskiest troves.
func (e *Engine) RedeemCollateral(redeemer common.Address, req RedemptionRequest) (*RedemptionResult, error) {
	var result *RedemptionResult
	err := e.execute("redeemCollateral", ModuleRedemption, func(tx *txn) error {
		var err error
		result, err = tx.redeemCollateral(redeemer, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddRedeemed(ToFloat(result.RedeemedAmount))
	e.logger.Info("cdp redemption",
		slog.String("redeemer", redeemer.Hex()),
		slog.String("redeemed", result.RedeemedAmount.Dec()),
		slog.String("collFee", result.CollFee.Dec()),
		slog.Bool("partialCancelled", result.PartialCancelled))
	return result, nil
}

func (e *Engine) ProvideToSP(depositor common.Address, amount *uint256.Int) error {
	return e.execute("provideToSP", ModuleStability, func(tx *txn) error {
		return tx.provideToSP(depositor, amount)
	})
}

// WithdrawFromSP withdraws up to amount; zero only claims gains.
func (e *Engine) WithdrawFromSP(depositor common.Address, amount *uint256.Int) error {
	return e.execute("withdrawFromSP", ModuleStability, func(tx *txn) error {
		return tx.withdrawFromSP(depositor, amount)
	})
}

func (e *Engine) WithdrawCollGainToTrove(depositor common.Address, hint Hint) error {
	return e.execute("withdrawCollGainToTrove", ModuleStability, func(tx *txn) error {
		return tx.withdrawCollGainToTrove(depositor, hint)
	})
}

func (e *Engine) Stake(staker common.Address, amount *uint256.Int) error {
	return e.execute("stake", ModuleStaking, func(tx *txn) error {
		return tx.stake(staker, amount)
	})
}

func (e *Engine) Unstake(staker common.Address, amount *uint256.Int) error {
	return e.execute("unstake", ModuleStaking, func(tx *txn) error {
		return tx.unstake(staker, amount)
	})
}
