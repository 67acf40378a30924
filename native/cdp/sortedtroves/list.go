// Package sortedtroves keeps active troves ordered by nominal collateral ratio,
// highest first. The structure is a doubly-linked list stored in an arena of
// slots so that cloning and removal never chase pointers.
package sortedtroves

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrListFull  = errors.New("sortedtroves: list is full")
	ErrExists    = errors.New("sortedtroves: list already contains the node")
	ErrZeroID    = errors.New("sortedtroves: id cannot be zero")
	ErrZeroNICR  = errors.New("sortedtroves: NICR must be positive")
	ErrNotFound  = errors.New("sortedtroves: list does not contain the id")
	errNilRanker = errors.New("sortedtroves: ranker not configured")
)

// Ranker supplies the live nominal ratio of a listed id. Ratios include pending
// redistribution rewards, so they are never cached in the list.
type Ranker interface {
	NominalICR(id common.Address) *uint256.Int
}

const nilSlot = -1

type slot struct {
	id   common.Address
	prev int
	next int
}

// List is the ordered index. It is not safe for concurrent use; callers
// serialise access through the engine lock.
type List struct {
	slots   []slot
	free    []int
	index   map[common.Address]int
	head    int
	tail    int
	size    int
	maxSize uint64
	ranker  Ranker
}

// New creates an empty list. A zero maxSize means unbounded.
func New(maxSize uint64, ranker Ranker) *List {
	return &List{
		index:   make(map[common.Address]int),
		head:    nilSlot,
		tail:    nilSlot,
		maxSize: maxSize,
		ranker:  ranker,
	}
}

// Clone returns a deep copy bound to the supplied ranker.
func (l *List) Clone(ranker Ranker) *List {
	clone := &List{
		slots:   append([]slot(nil), l.slots...),
		free:    append([]int(nil), l.free...),
		index:   make(map[common.Address]int, len(l.index)),
		head:    l.head,
		tail:    l.tail,
		size:    l.size,
		maxSize: l.maxSize,
		ranker:  ranker,
	}
	for id, pos := range l.index {
		clone.index[id] = pos
	}
	return clone
}

func (l *List) Size() int { return l.size }
func (l *List) MaxSize() uint64 { return l.maxSize }
func (l *List) IsEmpty() bool { return l.size == 0 }
func (l *List) IsFull() bool { return l.maxSize > 0 && uint64(l.size) >= l.maxSize }
func (l *List) First() common.Address { return l.idAt(l.head) }
func (l *List) Last() common.Address { return l.idAt(l.tail) }

// Contains reports whether id is listed. The zero address is never listed.
func (l *List) Contains(id common.Address) bool {
	_, ok := l.index[id]
	return ok
}

// Next returns the neighbour with the next lower NICR, or the zero address.
func (l *List) Next(id common.Address) common.Address {
	pos, ok := l.index[id]
	if !ok {
		return common.Address{}
	}
	return l.idAt(l.slots[pos].next)
}

// Prev returns the neighbour with the next higher NICR, or the zero address.
func (l *List) Prev(id common.Address) common.Address {
	pos, ok := l.index[id]
	if !ok {
		return common.Address{}
	}
	return l.idAt(l.slots[pos].prev)
}

// IDs returns the listed ids from the highest NICR to the lowest.
func (l *List) IDs() []common.Address {
	out := make([]common.Address, 0, l.size)
	for pos := l.head; pos != nilSlot; pos = l.slots[pos].next {
		out = append(out, l.slots[pos].id)
	}
	return out
}

// Restore rebuilds the list from ids already ordered from the highest NICR to
// the lowest, as persisted by IDs. Existing entries are discarded.
func (l *List) Restore(ids []common.Address) error {
	l.slots = l.slots[:0]
	l.free = l.free[:0]
	l.index = make(map[common.Address]int, len(ids))
	l.head, l.tail, l.size = nilSlot, nilSlot, 0
	for _, id := range ids {
		if id == (common.Address{}) {
			return ErrZeroID
		}
		if l.Contains(id) {
			return ErrExists
		}
		l.link(id, l.Last(), common.Address{})
	}
	return nil
}

// Insert links id at the position matching nicr. The hints are checked first;
// stale, unknown or zero hints fall back to a scan.
func (l *List) Insert(id common.Address, nicr *uint256.Int, prevHint, nextHint common.Address) error {
	if l.ranker == nil {
		return errNilRanker
	}
	if l.IsFull() {
		return ErrListFull
	}
	if l.Contains(id) {
		return ErrExists
	}
	if id == (common.Address{}) {
		return ErrZeroID
	}
	if nicr == nil || nicr.IsZero() {
		return ErrZeroNICR
	}
	prev, next, _ := l.resolve(nicr, prevHint, nextHint, -1)
	l.link(id, prev, next)
	return nil
}

// Remove unlinks id.
func (l *List) Remove(id common.Address) error {
	pos, ok := l.index[id]
	if !ok {
		return ErrNotFound
	}
	s := l.slots[pos]
	if s.prev == nilSlot {
		l.head = s.next
	} else {
		l.slots[s.prev].next = s.next
	}
	if s.next == nilSlot {
		l.tail = s.prev
	} else {
		l.slots[s.next].prev = s.prev
	}
	l.slots[pos] = slot{prev: nilSlot, next: nilSlot}
	l.free = append(l.free, pos)
	delete(l.index, id)
	l.size--
	return nil
}

// ReInsert moves an already listed id to the position of its new NICR.
func (l *List) ReInsert(id common.Address, nicr *uint256.Int, prevHint, nextHint common.Address) error {
	if !l.Contains(id) {
		return ErrNotFound
	}
	if nicr == nil || nicr.IsZero() {
		return ErrZeroNICR
	}
	if err := l.Remove(id); err != nil {
		return err
	}
	return l.Insert(id, nicr, prevHint, nextHint)
}

// FindInsertPosition returns the neighbours id would get when inserted with nicr.
func (l *List) FindInsertPosition(nicr *uint256.Int, prevHint, nextHint common.Address) (common.Address, common.Address) {
	prev, next, _ := l.resolve(nicr, prevHint, nextHint, -1)
	return prev, next
}

// FindInsertPositionBounded is FindInsertPosition with at most maxSteps list
// hops. When the budget runs out ok is false and the returned pair is the
// last candidate examined, which callers must treat as unverified.
func (l *List) FindInsertPositionBounded(nicr *uint256.Int, prevHint, nextHint common.Address, maxSteps int) (common.Address, common.Address, bool) {
	if maxSteps < 0 {
		maxSteps = 0
	}
	return l.resolve(nicr, prevHint, nextHint, maxSteps)
}

func (l *List) resolve(nicr *uint256.Int, prevHint, nextHint common.Address, budget int) (common.Address, common.Address, bool) {
	placement := l.ValidatePosition(nicr, prevHint, nextHint)
	switch placement.Kind {
	case PlacementValid:
		return placement.Prev, placement.Next, true
	case ScanAscend:
		return l.ascend(nicr, placement.From, budget)
	default:
		return l.descend(nicr, placement.From, budget)
	}
}

func (l *List) link(id common.Address, prev, next common.Address) {
	pos := l.alloc(id)
	prevPos, nextPos := nilSlot, nilSlot
	if p, ok := l.index[prev]; ok {
		prevPos = p
	}
	if n, ok := l.index[next]; ok {
		nextPos = n
	}
	l.slots[pos].prev = prevPos
	l.slots[pos].next = nextPos
	if prevPos == nilSlot {
		l.head = pos
	} else {
		l.slots[prevPos].next = pos
	}
	if nextPos == nilSlot {
		l.tail = pos
	} else {
		l.slots[nextPos].prev = pos
	}
	l.index[id] = pos
	l.size++
}

func (l *List) alloc(id common.Address) int {
	if n := len(l.free); n > 0 {
		pos := l.free[n-1]
		l.free = l.free[:n-1]
		l.slots[pos] = slot{id: id, prev: nilSlot, next: nilSlot}
		return pos
	}
	l.slots = append(l.slots, slot{id: id, prev: nilSlot, next: nilSlot})
	return len(l.slots) - 1
}

func (l *List) idAt(pos int) common.Address {
	if pos == nilSlot {
		return common.Address{}
	}
	return l.slots[pos].id
}

func (l *List) nicr(id common.Address) *uint256.Int {
	return l.ranker.NominalICR(id)
}
