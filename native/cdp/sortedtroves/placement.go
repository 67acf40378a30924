package sortedtroves

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PlacementKind classifies the outcome of hint validation.
type PlacementKind uint8

const (
	// PlacementValid means the hinted neighbours can be used as is.
	PlacementValid PlacementKind = iota
	// ScanDescend means a walk towards lower NICRs starting at From is needed.
	ScanDescend
	// ScanAscend means a walk towards higher NICRs starting at From is needed.
	ScanAscend
)

func (k PlacementKind) String() string {
	switch k {
	case PlacementValid:
		return "valid"
	case ScanDescend:
		return "descend"
	case ScanAscend:
		return "ascend"
	default:
		return "unknown"
	}
}

// Placement is the result of checking a (prev, next) hint pair against nicr.
type Placement struct {
	Kind PlacementKind
	Prev common.Address
	Next common.Address
	From common.Address
}

// ValidatePosition checks whether nicr fits between prevHint and nextHint.
// Equal ratios are placed after existing entries, so insertion order breaks
// ties. When the hints do not fit, the unusable ones are discarded and the
// scan origin is reported instead.
func (l *List) ValidatePosition(nicr *uint256.Int, prevHint, nextHint common.Address) Placement {
	if l.validInsertPosition(nicr, prevHint, nextHint) {
		return Placement{Kind: PlacementValid, Prev: prevHint, Next: nextHint}
	}
	prev, next := prevHint, nextHint
	if prev != (common.Address{}) && (!l.Contains(prev) || nicr.Gt(l.nicr(prev))) {
		prev = common.Address{}
	}
	if next != (common.Address{}) && (!l.Contains(next) || !nicr.Gt(l.nicr(next))) {
		next = common.Address{}
	}
	switch {
	case prev == (common.Address{}) && next == (common.Address{}):
		return Placement{Kind: ScanDescend, From: l.First()}
	case prev == (common.Address{}):
		return Placement{Kind: ScanAscend, From: next}
	default:
		return Placement{Kind: ScanDescend, From: prev}
	}
}

func (l *List) validInsertPosition(nicr *uint256.Int, prev, next common.Address) bool {
	zero := common.Address{}
	switch {
	case prev == zero && next == zero:
		return l.IsEmpty()
	case prev == zero:
		return l.Contains(next) && l.First() == next && nicr.Gt(l.nicr(next))
	case next == zero:
		return l.Contains(prev) && l.Last() == prev && !nicr.Gt(l.nicr(prev))
	default:
		return l.Contains(prev) && l.Contains(next) && l.Next(prev) == next &&
			!nicr.Gt(l.nicr(prev)) && nicr.Gt(l.nicr(next))
	}
}

// descend walks towards the tail from start. A negative budget is unbounded.
func (l *List) descend(nicr *uint256.Int, start common.Address, budget int) (common.Address, common.Address, bool) {
	zero := common.Address{}
	if start == zero {
		return zero, zero, l.IsEmpty()
	}
	if l.First() == start && nicr.Gt(l.nicr(start)) {
		return zero, start, true
	}
	prev := start
	next := l.Next(prev)
	for prev != zero && !l.validInsertPosition(nicr, prev, next) {
		if budget == 0 {
			return prev, next, false
		}
		if budget > 0 {
			budget--
		}
		prev = next
		next = l.Next(prev)
	}
	if prev == zero {
		return l.Last(), zero, true
	}
	return prev, next, true
}

// ascend walks towards the head from start. A negative budget is unbounded.
func (l *List) ascend(nicr *uint256.Int, start common.Address, budget int) (common.Address, common.Address, bool) {
	zero := common.Address{}
	if start == zero {
		return zero, zero, l.IsEmpty()
	}
	if l.Last() == start && !nicr.Gt(l.nicr(start)) {
		return start, zero, true
	}
	next := start
	prev := l.Prev(next)
	for next != zero && !l.validInsertPosition(nicr, prev, next) {
		if budget == 0 {
			return prev, next, false
		}
		if budget > 0 {
			budget--
		}
		next = prev
		prev = l.Prev(next)
	}
	if next == zero {
		return zero, l.First(), true
	}
	return prev, next, true
}
