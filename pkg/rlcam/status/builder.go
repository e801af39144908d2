package status

import "github.com/srsran/gnb-rlc/pkg/rlcam/sn"

// Builder incrementally assembles a status PDU, merging adjacent NACKs and
// tracking packed size as it goes (spec §4.3).
type Builder struct {
	size       sn.Size
	base       uint32 // rebase edge used to decide adjacency/order across the modulus wrap
	ackSN      uint32
	nacks      []NACK
	packedSize int
}

// NewBuilder creates a Builder for the given SN size. base is the rebase
// edge (normally RX_NEXT) used to order NACKs correctly across SN wrap.
func NewBuilder(size sn.Size, base uint32) *Builder {
	b := &Builder{size: size}
	b.Reset(base)
	return b
}

// Reset drops all NACKs, sets ack_sn to invalid and resets packed size to
// the bare fixed header.
func (b *Builder) Reset(base uint32) {
	b.base = base
	b.ackSN = sn.Invalid
	b.nacks = b.nacks[:0]
	b.packedSize = fixedHeaderSize
}

// SetAckSN sets the ACK_SN field directly (used once gap scanning completes).
func (b *Builder) SetAckSN(ackSN uint32) {
	b.ackSN = ackSN
}

// PackedSize returns the number of bytes Pack would currently write.
func (b *Builder) PackedSize() int {
	return b.packedSize
}

// NACKs returns the builder's current NACK list, ordered by (nack_sn, so_start).
func (b *Builder) NACKs() []NACK {
	return b.nacks
}

// PDU materialises the builder's current state as a status.PDU.
func (b *Builder) PDU() *PDU {
	out := make([]NACK, len(b.nacks))
	copy(out, b.nacks)
	return &PDU{Size: b.size, AckSN: b.ackSN, NACKs: out}
}

// endSN returns the SN (mod M) one past the last SN this NACK covers.
func (b *Builder) endSN(n NACK) uint32 {
	return b.size.Add(n.SN, n.rangeLen())
}

// canMerge reports whether right is continuous with left per spec §4.3's
// merge policy, and that merging would not push the range above MaxRange.
func (b *Builder) canMerge(left, right NACK) bool {
	if b.size.Rebase(right.SN, b.base) != b.size.Rebase(b.endSN(left), b.base) {
		return false
	}
	if left.HasSO && left.SOEnd != SOEndOfSDU {
		return false
	}
	if right.HasSO && right.SOStart != 0 {
		return false
	}
	mergedRange := left.rangeLen() + right.rangeLen()
	return mergedRange <= MaxRange
}

func (b *Builder) merge(left, right NACK) NACK {
	merged := left
	merged.Range = uint8(left.rangeLen() + right.rangeLen())
	merged.HasRange = true

	hasSO := left.HasSO || right.HasSO
	merged.HasSO = hasSO
	if hasSO {
		if left.HasSO {
			merged.SOStart = left.SOStart
		} else {
			merged.SOStart = 0
		}
		if right.HasSO {
			merged.SOEnd = right.SOEnd
		} else {
			merged.SOEnd = SOEndOfSDU
		}
	}
	return merged
}

// PushNack appends nack to the builder, merging it into the last entry when
// possible. Callers are expected to push NACKs in ascending (nack_sn,
// so_start) order; PushNack does not re-sort.
func (b *Builder) PushNack(n NACK) {
	if len(b.nacks) > 0 {
		last := len(b.nacks) - 1
		if b.canMerge(b.nacks[last], n) {
			merged := b.merge(b.nacks[last], n)
			b.packedSize -= nackSize(b.size, b.nacks[last])
			b.nacks[last] = merged
			b.packedSize += nackSize(b.size, merged)
			return
		}
	}
	b.nacks = append(b.nacks, n)
	b.packedSize += nackSize(b.size, n)
}

// Trim drops trailing NACKs until the packed size is at most maxBytes. When
// a NACK is dropped, every other NACK sharing its nack_sn is also dropped
// (a NACK never straddles a partial drop within the same SN), and ack_sn is
// set to that dropped NACK's nack_sn, per TS 38.322 §5.3.4: "ACK_SN is the
// SN of the next not-received SDU not indicated as missing". Returns false
// only if maxBytes is smaller than the bare fixed header.
func (b *Builder) Trim(maxBytes int) bool {
	if maxBytes < fixedHeaderSize {
		return false
	}
	for b.packedSize > maxBytes {
		last := len(b.nacks) - 1
		dropSN := b.nacks[last].SN
		// Drop every trailing NACK (from the end) that shares dropSN; the
		// list is ordered by (nack_sn, so_start) so these are contiguous.
		for last >= 0 && b.nacks[last].SN == dropSN {
			b.packedSize -= nackSize(b.size, b.nacks[last])
			last--
		}
		b.nacks = b.nacks[:last+1]
		b.ackSN = dropSN
	}
	return true
}

// Refresh recomputes packedSize from scratch; used defensively after any
// direct manipulation of the NACK slice to keep invariants honest.
func (b *Builder) Refresh() {
	total := fixedHeaderSize
	for _, n := range b.nacks {
		total += nackSize(b.size, n)
	}
	b.packedSize = total
}
