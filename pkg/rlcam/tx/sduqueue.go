package tx

import (
	"time"

	"github.com/srsran/gnb-rlc/internal/bufpool"
)

// pendingSDU is an SDU waiting for its first transmission; it has not yet
// been assigned an RLC SN (spec §4.6.1).
type pendingSDU struct {
	payload    bufpool.Handle
	upperSN    uint32
	hasUpperSN bool
	enqueuedAt time.Time
}

// sduQueue is the bounded FIFO of SDUs submitted by the upper layer but
// not yet segmented. Unlike the ReTx queue, entries may be removed from
// anywhere in the queue (discard_sdu), so it is backed by a plain slice
// rather than internal/ring.
type sduQueue struct {
	items      []pendingSDU
	maxCount   uint32
	maxBytes   uint32
	totalBytes uint32
}

func newSDUQueue(maxCount, maxBytes uint32) *sduQueue {
	return &sduQueue{maxCount: maxCount, maxBytes: maxBytes}
}

// TryPush enqueues sdu unless doing so would exceed the configured SDU
// count or byte capacity (0 means unbounded for that dimension).
func (q *sduQueue) TryPush(sdu pendingSDU) bool {
	n := uint32(sdu.payload.Len())
	if q.maxCount > 0 && uint32(len(q.items)) >= q.maxCount {
		return false
	}
	if q.maxBytes > 0 && q.totalBytes+n > q.maxBytes {
		return false
	}
	q.items = append(q.items, sdu)
	q.totalBytes += n
	return true
}

// Empty reports whether the queue holds no SDUs.
func (q *sduQueue) Empty() bool { return len(q.items) == 0 }

// Len returns the number of queued SDUs.
func (q *sduQueue) Len() int { return len(q.items) }

// Bytes returns the total payload bytes queued.
func (q *sduQueue) Bytes() uint32 { return q.totalBytes }

// Pop removes and returns the head SDU. Panics if empty.
func (q *sduQueue) Pop() pendingSDU {
	if len(q.items) == 0 {
		panic("sduqueue: pop of empty queue")
	}
	sdu := q.items[0]
	q.totalBytes -= uint32(sdu.payload.Len())
	q.items = q.items[1:]
	return sdu
}

// HeadEnqueuedAt returns the arrival time of the head SDU and true, or
// the zero time and false if the queue is empty.
func (q *sduQueue) HeadEnqueuedAt() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].enqueuedAt, true
}

// Discard removes the first queued SDU with the given upper-layer SN.
// Returns true if one was found and removed.
func (q *sduQueue) Discard(upperSN uint32) bool {
	for i, it := range q.items {
		if it.hasUpperSN && it.upperSN == upperSN {
			q.totalBytes -= uint32(it.payload.Len())
			it.payload.Release()
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}
