// Package retx implements the bounded FIFO of pending retransmissions
// described in spec §4.4, grounded on the original source's
// rlc_retx_queue (lazy "zombie" invalidation, incrementally maintained
// byte/segment-offset accounting).
package retx

import "github.com/srsran/gnb-rlc/internal/ring"

// Descriptor is a pending retransmission: the byte range [SO, SO+Length)
// of the SDU identified by SN.
type Descriptor struct {
	SN     uint32
	SO     uint32
	Length uint32
}

// Includes reports whether the range [so, so+length) is fully enclosed by d.
func (d Descriptor) Includes(so, length uint32) bool {
	return so >= d.SO && so+length <= d.SO+d.Length
}

type item struct {
	invalid bool
	retx    Descriptor
}

// State is the incrementally maintained summary used by the TX entity to
// estimate buffer state without iterating the queue (spec §4.4, §4.6.7).
type State struct {
	RetxBytes      uint32
	NRetxSOZero    uint32
	NRetxSONonzero uint32
}

func (s *State) add(d Descriptor) {
	s.RetxBytes += d.Length
	if d.SO == 0 {
		s.NRetxSOZero++
	} else {
		s.NRetxSONonzero++
	}
}

func (s *State) subtract(d Descriptor) {
	if s.RetxBytes >= d.Length {
		s.RetxBytes -= d.Length
	} else {
		s.RetxBytes = 0
	}
	if d.SO == 0 {
		if s.NRetxSOZero > 0 {
			s.NRetxSOZero--
		}
	} else {
		if s.NRetxSONonzero > 0 {
			s.NRetxSONonzero--
		}
	}
}

// Queue is a bounded FIFO of retransmission descriptors.
type Queue struct {
	q     *ring.Ring[item]
	state State
}

// New creates a Queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{q: ring.New[item](capacity)}
}

// TryPush appends d unless the queue is full.
func (q *Queue) TryPush(d Descriptor) bool {
	ok := q.q.TryPush(item{retx: d})
	if ok {
		q.state.add(d)
	}
	return ok
}

// Front returns the first valid descriptor. Panics if empty.
func (q *Queue) Front() Descriptor {
	return q.q.Front().retx
}

// Pop removes the head, then skips past any invalid zombies left at the
// front so Front/Empty never observe an invalidated entry.
func (q *Queue) Pop() {
	if !q.q.Empty() {
		q.state.subtract(q.q.Front().retx)
		q.q.Pop()
		q.cleanInvalidFront()
	}
}

// ReplaceFront rewrites the head descriptor in place (used when only part
// of a queued retransmission fits the current grant).
func (q *Queue) ReplaceFront(d Descriptor) {
	front := q.q.Front()
	q.state.subtract(front.retx)
	q.state.add(d)
	front.retx = d
	front.invalid = false
}

// Clear empties the queue and resets its state.
func (q *Queue) Clear() {
	q.q.Clear()
	q.state = State{}
}

// Len returns the total number of entries, valid and invalid.
func (q *Queue) Len() int { return q.q.Len() }

// Empty reports whether the queue has no valid entry (equivalent to no
// entry at all, since invalid entries are always pruned from the front).
func (q *Queue) Empty() bool { return q.q.Empty() }

// State returns the queue's incrementally maintained accounting.
func (q *Queue) State() State { return q.state }

// Contains reports whether any valid entry has sequence number sn.
func (q *Queue) Contains(sn uint32) bool {
	found := false
	q.q.Each(func(_ int, it *item) {
		if !it.invalid && it.retx.SN == sn {
			found = true
		}
	})
	return found
}

// ContainsRange reports whether a valid entry with sequence number sn fully
// encloses the byte range [so, so+length).
func (q *Queue) ContainsRange(sn, so, length uint32) bool {
	found := false
	q.q.Each(func(_ int, it *item) {
		if !it.invalid && it.retx.SN == sn && it.retx.Includes(so, length) {
			found = true
		}
	})
	return found
}

// RemoveSN marks every entry with sequence number sn as invalid and prunes
// the front. Returns true if at least one entry was removed.
func (q *Queue) RemoveSN(sn uint32) bool {
	removed := false
	q.q.Each(func(_ int, it *item) {
		if !it.invalid && it.retx.SN == sn {
			q.state.subtract(it.retx)
			it.invalid = true
			removed = true
		}
	})
	q.cleanInvalidFront()
	return removed
}

func (q *Queue) cleanInvalidFront() {
	for !q.q.Empty() && q.q.Front().invalid {
		q.q.Pop()
	}
}
