package rx

import (
	"github.com/srsran/gnb-rlc/internal/bufpool"
	"github.com/srsran/gnb-rlc/pkg/rlcam/pdu"
)

// segment is one received SDU segment, kept sorted by so within an sduInfo.
type segment struct {
	si      pdu.SegmentInfo
	so      uint32
	payload bufpool.Handle
}

func (s segment) lastByte() uint32 { return s.so + uint32(s.payload.Len()) - 1 }

// sduInfo buffers segments (or a full SDU) of one RLC SN until fully
// received, per spec §3 "RX SDU info".
type sduInfo struct {
	full          bufpool.Handle
	hasFull       bool
	segments      []segment
	fullyReceived bool
	hasGap        bool
}

// release drops every buffer handle held by this entry.
func (s *sduInfo) release() {
	if s.hasFull {
		s.full.Release()
	}
	for _, sg := range s.segments {
		sg.payload.Release()
	}
}

// setFull replaces any stored segments with a complete SDU (spec §4.5
// step 2: "if full SDU, replace any existing segment set").
func (s *sduInfo) setFull(payload bufpool.Handle) {
	for _, sg := range s.segments {
		sg.payload.Release()
	}
	s.segments = nil
	s.full = payload
	s.hasFull = true
	s.fullyReceived = true
	s.hasGap = false
}

// storeSegment inserts seg into the sorted segment list, trimming or
// dropping overlapping bytes from either side so that the stored set
// never double-counts a byte (spec §4.5 "Overlap-resolving segment
// insert", grounded on rlc_rx_am_entity::store_segment).
//
// Returns true if seg contributed at least one new byte to the set.
func (s *sduInfo) storeSegment(seg segment) bool {
	out := make([]segment, 0, len(s.segments)+1)
	inserted := false
	stored := false

	for _, cur := range s.segments {
		if inserted {
			out = append(out, cur)
			continue
		}
		curLast := cur.lastByte()
		segLast := seg.lastByte()

		switch {
		case seg.so > curLast:
			// seg starts after cur ends
			out = append(out, cur)

		case seg.so >= cur.so:
			// seg starts within cur
			if segLast <= curLast {
				// fully enclosed by cur: discard seg entirely
				seg.payload.Release()
				return false
			}
			// seg extends past cur: trim seg's head to start right after cur
			trim := int(curLast + 1 - seg.so)
			seg.payload = seg.payload.Advance(trim)
			seg.so = curLast + 1
			out = append(out, cur)

		case segLast < cur.so:
			// seg ends before cur starts: insert seg here, then keep cur
			out = append(out, seg, cur)
			inserted = true
			stored = true

		case segLast < curLast:
			// seg ends inside cur: trim cur's head, insert seg before it
			trimmed := cur
			trim := int(segLast + 1 - cur.so)
			trimmed.payload = trimmed.payload.Advance(trim)
			trimmed.so = segLast + 1
			out = append(out, seg, trimmed)
			inserted = true
			stored = true

		default:
			// seg fully covers cur: drop cur, keep scanning
			cur.payload.Release()
		}
	}
	if !inserted {
		out = append(out, seg)
		stored = true
	}
	s.segments = out
	return stored
}

// updateInventory recomputes fullyReceived/hasGap from the stored
// segment set (spec §4.5 step 3).
func (s *sduInfo) updateInventory() {
	if len(s.segments) == 0 {
		s.fullyReceived = false
		s.hasGap = false
		return
	}
	var next uint32
	for _, sg := range s.segments {
		if sg.so != next {
			s.hasGap = true
			s.fullyReceived = false
			return
		}
		if sg.si == pdu.LastSegment {
			s.hasGap = false
			s.fullyReceived = true
			return
		}
		next = sg.so + uint32(sg.payload.Len())
	}
	s.hasGap = false
	s.fullyReceived = false
}

// assemble concatenates the stored segments into one contiguous buffer,
// once fullyReceived is true.
func (s *sduInfo) assemble() []byte {
	if s.hasFull {
		return s.full.Bytes()
	}
	total := 0
	for _, sg := range s.segments {
		total += sg.payload.Len()
	}
	out := make([]byte, 0, total)
	for _, sg := range s.segments {
		out = append(out, sg.payload.Bytes()...)
	}
	return out
}
