package common

import (
	"errors"
	"math"
	"sync"
)

var (
	ErrQuotaRequestsExceeded  = errors.New("quota requests exceeded")
	ErrQuotaBorrowCapExceeded = errors.New("quota borrow cap exceeded")
	ErrQuotaCounterOverflow   = errors.New("quota counter overflow")
)

// QuotaNow is an account's usage within one window.
type QuotaNow struct {
	ReqCount   uint32
	BorrowUsed uint64
	WindowID   uint64
}

// Quota bounds how many debt-raising requests an account may make and how
// much it may borrow per window. Borrowed amounts are whole stablecoin
// units. Zero limits are unlimited.
type Quota struct {
	MaxRequestsPerWindow uint32
	MaxBorrowPerWindow   uint64
	WindowSeconds        uint32
}

// Window maps a unix timestamp onto the quota window it falls in.
func (q Quota) Window(unix int64) uint64 {
	if q.WindowSeconds == 0 || unix < 0 {
		return 0
	}
	return uint64(unix) / uint64(q.WindowSeconds)
}

// CheckQuota adds addReq requests and addBorrow units to prev. Counters
// reset when nowWindow differs from prev's window. On any error prev is
// returned unchanged.
func CheckQuota(q Quota, nowWindow uint64, prev QuotaNow, addReq uint32, addBorrow uint64) (QuotaNow, error) {
	next := prev
	if prev.WindowID != nowWindow {
		next = QuotaNow{WindowID: nowWindow}
	}
	if next.ReqCount > math.MaxUint32-addReq || next.BorrowUsed > math.MaxUint64-addBorrow {
		return prev, ErrQuotaCounterOverflow
	}
	next.ReqCount += addReq
	next.BorrowUsed += addBorrow

	if q.MaxRequestsPerWindow > 0 && next.ReqCount > q.MaxRequestsPerWindow {
		return prev, ErrQuotaRequestsExceeded
	}
	if q.MaxBorrowPerWindow > 0 && next.BorrowUsed > q.MaxBorrowPerWindow {
		return prev, ErrQuotaBorrowCapExceeded
	}
	return next, nil
}

// QuotaTracker applies one Quota to many accounts keyed by K.
type QuotaTracker[K comparable] struct {
	quota Quota

	mu    sync.Mutex
	usage map[K]QuotaNow
}

func NewQuotaTracker[K comparable](q Quota) *QuotaTracker[K] {
	return &QuotaTracker[K]{quota: q, usage: make(map[K]QuotaNow)}
}

// Reserve checks that one more request borrowing units fits the window
// containing unix. Nothing is recorded until the returned commit runs, so a
// failed borrow does not consume quota. Commit re-checks and is a no-op if
// concurrent commits used the headroom in the meantime.
func (t *QuotaTracker[K]) Reserve(account K, unix int64, units uint64) (commit func(), err error) {
	window := t.quota.Window(unix)
	t.mu.Lock()
	_, err = CheckQuota(t.quota, window, t.usage[account], 1, units)
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if next, err := CheckQuota(t.quota, window, t.usage[account], 1, units); err == nil {
			t.usage[account] = next
		}
	}, nil
}

// Usage reports the recorded counters for account.
func (t *QuotaTracker[K]) Usage(account K) QuotaNow {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage[account]
}
