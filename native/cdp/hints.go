package cdp

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// ApproxHintResult is the output of ApproxHint.
type ApproxHintResult struct {
	Hint       common.Address
	Diff       *uint256.Int
	LatestSeed *uint256.Int
}

// RedemptionHints simulates a redemption of amount at price and returns the
// first trove it would touch, the NICR a partially redeemed last trove would
// end at, and the amount that can actually be redeemed. A nil price reads the
// feed. maxIterations zero is unbounded.
func (e *Engine) RedemptionHints(amount, price *uint256.Int, maxIterations uint64) (RedemptionHints, error) {
	if price == nil {
		var err error
		if price, err = e.price(); err != nil {
			return RedemptionHints{}, err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st, p := e.state, &e.params

	remaining := orZero(amount)
	current := st.sorted.Last()
	for current != (common.Address{}) && st.currentICR(current, price).Lt(p.MCR) {
		current = st.sorted.Prev(current)
	}
	hints := RedemptionHints{FirstHint: current, PartialNICR: new(uint256.Int)}

	for iter := uint64(0); current != (common.Address{}) && !remaining.IsZero(); iter++ {
		if maxIterations > 0 && iter >= maxIterations {
			break
		}
		coll, debt := st.currentAmounts(current)
		netDebt := subFloor(debt, p.GasCompensation)
		if netDebt.Gt(remaining) {
			if netDebt.Gt(p.MinNetDebt) {
				redeemable := minU256(remaining, new(uint256.Int).Sub(netDebt, p.MinNetDebt))
				newColl := subFloor(coll, mulDiv(redeemable, DecimalPrecision, price))
				newDebt := new(uint256.Int).Sub(netDebt, redeemable)
				newDebt.Add(newDebt, p.GasCompensation)
				hints.PartialNICR = ComputeNominalCR(newColl, newDebt)
				remaining.Sub(remaining, redeemable)
			}
			break
		}
		remaining.Sub(remaining, netDebt)
		current = st.sorted.Prev(current)
	}
	hints.TruncatedAmount = subFloor(orZero(amount), remaining)
	return hints, nil
}

// ApproxHint samples numTrials troves pseudo-randomly and returns the one
// whose NICR is closest to nicr, as a cheap starting point for insertion
// hints. The seed is chained through Keccak-256 so callers can resume.
func (e *Engine) ApproxHint(nicr *uint256.Int, numTrials uint64, seed *uint256.Int) ApproxHintResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	latest := orZero(seed)
	out := ApproxHintResult{Diff: new(uint256.Int), LatestSeed: latest}
	if len(st.owners) == 0 || nicr == nil {
		return out
	}
	out.Hint = st.sorted.Last()
	out.Diff = absDiff(st.NominalICR(out.Hint), nicr)
	length := uint256.NewInt(uint64(len(st.owners)))
	for i := uint64(1); i < numTrials; i++ {
		word := latest.Bytes32()
		latest = new(uint256.Int).SetBytes(crypto.Keccak256(word[:]))
		idx := new(uint256.Int).Mod(latest, length).Uint64()
		candidate := st.owners[idx]
		if diff := absDiff(st.NominalICR(candidate), nicr); diff.Lt(out.Diff) {
			out.Diff = diff
			out.Hint = candidate
		}
	}
	out.LatestSeed = latest
	return out
}

// FindInsertPosition returns the neighbours a trove with nicr would get.
func (e *Engine) FindInsertPosition(nicr *uint256.Int, upper, lower common.Address) Hint {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, next := e.state.sorted.FindInsertPosition(nicr, upper, lower)
	return Hint{Upper: prev, Lower: next}
}

// FindInsertPositionBounded caps the walk at maxSteps hops. ok is false when
// the budget ran out before a verified position was found.
func (e *Engine) FindInsertPositionBounded(nicr *uint256.Int, upper, lower common.Address, maxSteps int) (Hint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev, next, ok := e.state.sorted.FindInsertPositionBounded(nicr, upper, lower, maxSteps)
	return Hint{Upper: prev, Lower: next}, ok
}

func absDiff(a, b *uint256.Int) *uint256.Int {
	if a.Gt(b) {
		return new(uint256.Int).Sub(a, b)
	}
	return new(uint256.Int).Sub(b, a)
}
