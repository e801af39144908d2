// Package bufpool is the process-wide segmented byte-buffer allocator
// that backs every PDU/SDU handle in the RLC-AM stack (spec, "Shared
// resource" note). It is adapted from a tiered sync.Pool allocator,
// generalized with reference-counted handles so ownership of a buffer
// can move between the TX and RX executors by moving the handle, with
// the backing slice released to its tier only once the last holder
// drops it.
package bufpool

import "sync"

// Size classes, chosen for RLC PDU/SDU traffic rather than bulk I/O:
// small covers status PDUs and short control segments, medium covers a
// typical SDU, large covers a maximum-size reassembled SDU.
const (
	DefaultSmallSize  = 256
	DefaultMediumSize = 2 << 10
	DefaultLargeSize  = 64 << 10
)

// Pool manages a set of byte slice pools organized by size class.
type Pool struct {
	small      sync.Pool
	medium     sync.Pool
	large      sync.Pool
	smallSize  int
	mediumSize int
	largeSize  int
}

// Config holds configuration for creating a custom buffer pool.
type Config struct {
	SmallSize  int
	MediumSize int
	LargeSize  int
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() Config {
	return Config{
		SmallSize:  DefaultSmallSize,
		MediumSize: DefaultMediumSize,
		LargeSize:  DefaultLargeSize,
	}
}

// NewPool creates a new buffer pool with the given configuration. If cfg
// is nil, default values are used.
func NewPool(cfg *Config) *Pool {
	if cfg == nil {
		defaultCfg := DefaultConfig()
		cfg = &defaultCfg
	}
	if cfg.SmallSize <= 0 {
		cfg.SmallSize = DefaultSmallSize
	}
	if cfg.MediumSize <= 0 {
		cfg.MediumSize = DefaultMediumSize
	}
	if cfg.LargeSize <= 0 {
		cfg.LargeSize = DefaultLargeSize
	}

	p := &Pool{
		smallSize:  cfg.SmallSize,
		mediumSize: cfg.MediumSize,
		largeSize:  cfg.LargeSize,
	}
	p.small = sync.Pool{New: func() any { buf := make([]byte, p.smallSize); return &buf }}
	p.medium = sync.Pool{New: func() any { buf := make([]byte, p.mediumSize); return &buf }}
	p.large = sync.Pool{New: func() any { buf := make([]byte, p.largeSize); return &buf }}
	return p
}

// Handle is a reference-counted slice into the pool. The zero Handle is
// not usable; obtain one from Pool.Get. A Handle may be passed by value
// across executors (moving the view), but Release must be called
// exactly once per Acquire/Get to return the backing buffer to its tier.
type Handle struct {
	pool *Pool
	buf  []byte
	refs *int32
	mu   *sync.Mutex
}

// Get returns a Handle wrapping a buffer of at least size bytes, with a
// reference count of 1.
func (p *Pool) Get(size int) Handle {
	var buf []byte
	switch {
	case size <= p.smallSize:
		ptr := p.small.Get().(*[]byte)
		buf = (*ptr)[:size]
	case size <= p.mediumSize:
		ptr := p.medium.Get().(*[]byte)
		buf = (*ptr)[:size]
	case size <= p.largeSize:
		ptr := p.large.Get().(*[]byte)
		buf = (*ptr)[:size]
	default:
		buf = make([]byte, size)
	}
	refs := int32(1)
	return Handle{pool: p, buf: buf, refs: &refs, mu: &sync.Mutex{}}
}

// Bytes returns the underlying slice. Valid until Release drops the last
// reference.
func (h Handle) Bytes() []byte { return h.buf }

// Len returns len(h.Bytes()).
func (h Handle) Len() int { return len(h.buf) }

// Advance returns a Handle viewing h.Bytes()[n:], sharing the same
// reference count as h (it is a narrower view of the same allocation,
// not a new owner). Used to trim a segment's head when overlap
// resolution discovers its leading bytes were already received.
func (h Handle) Advance(n int) Handle {
	h.buf = h.buf[n:]
	return h
}

// IsZero reports whether h is the unset zero value.
func (h Handle) IsZero() bool { return h.refs == nil }

// Acquire increments h's reference count and returns h unchanged, for
// callers that want to retain an extra owner (e.g. queuing a copy of the
// handle for retransmission alongside the one already queued for initial
// transmission).
func (h Handle) Acquire() Handle {
	if h.refs == nil {
		return h
	}
	h.mu.Lock()
	*h.refs++
	h.mu.Unlock()
	return h
}

// Release drops one reference; once the count reaches zero the backing
// buffer is returned to the tier whose size equals the view's capacity.
// A larger-than-large allocation, or a view narrowed by Advance whose
// capacity no longer matches a tier size, is not pooled and is left to the
// GC. Safe to call on the zero Handle.
func (h Handle) Release() {
	if h.refs == nil {
		return
	}
	h.mu.Lock()
	*h.refs--
	last := *h.refs == 0
	h.mu.Unlock()
	if !last {
		return
	}

	capacity := cap(h.buf)
	full := h.buf[:capacity]
	switch capacity {
	case h.pool.smallSize:
		h.pool.small.Put(&full)
	case h.pool.mediumSize:
		h.pool.medium.Put(&full)
	case h.pool.largeSize:
		h.pool.large.Put(&full)
	default:
		// larger-than-large: not pooled, let the GC reclaim it
	}
}

var global = NewPool(nil)

// Get returns a Handle from the package-level pool.
func Get(size int) Handle { return global.Get(size) }
