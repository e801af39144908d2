// Package status implements the RLC-AM status PDU wire format (spec §4.3,
// §6.3, §6.4) and the incremental builder used to assemble one from
// detected gaps (spec §4.5 "Status report construction").
package status

import (
	"errors"

	"github.com/srsran/gnb-rlc/pkg/rlcam/sn"
)

// SOEndOfSDU is the reserved SO_END value meaning "through the end of the SDU".
const SOEndOfSDU uint16 = 0xFFFF

// MaxRange is the largest value a NACK range byte can carry.
const MaxRange = 255

// NACK describes one negatively-acknowledged range, as stored in a status PDU.
type NACK struct {
	SN       uint32
	HasSO    bool
	SOStart  uint16
	SOEnd    uint16
	HasRange bool
	Range    uint8 // number of consecutive SNs covered, including SN; meaningful only if HasRange
}

// rangeLen returns the number of SNs this NACK covers (1 if no range is present).
func (n NACK) rangeLen() uint32 {
	if n.HasRange {
		return uint32(n.Range)
	}
	return 1
}

// PDU is a decoded (or about-to-be-packed) RLC-AM status PDU.
type PDU struct {
	Size  sn.Size
	AckSN uint32
	NACKs []NACK
}

// fixedHeaderSize is the size of the ACK_SN + E1 + reserved fixed part,
// identical for both SN widths (spec §4.3: "3-byte header").
const fixedHeaderSize = 3

func nackFixedSize(size sn.Size) int {
	if size == sn.Size18 {
		return 3
	}
	return 2
}

func nackSize(size sn.Size, n NACK) int {
	sz := nackFixedSize(size)
	if n.HasSO {
		sz += 4
	}
	if n.HasRange {
		sz += 1
	}
	return sz
}

// PackedSize returns the number of bytes Pack will write for p.
func (p *PDU) PackedSize() int {
	total := fixedHeaderSize
	for _, n := range p.NACKs {
		total += nackSize(p.Size, n)
	}
	return total
}

var (
	// ErrMalformed covers all "truncated / reserved bits set / wrong CPT" conditions.
	ErrMalformed = errors.New("rlc: malformed status PDU")
)

// Pack serialises p into buf, which must be at least p.PackedSize() bytes.
// Returns the number of bytes written.
func (p *PDU) Pack(buf []byte) int {
	n := p.PackedSize()
	if len(buf) < n {
		panic("status: buffer too short")
	}
	off := 0
	hasNacks := len(p.NACKs) > 0

	switch p.Size {
	case sn.Size18:
		buf[0] = byte((p.AckSN >> 14) & 0x0f) // D/C=0, CPT=0 in top 4 bits
		buf[1] = byte((p.AckSN >> 6) & 0xff)
		buf[2] = byte((p.AckSN & 0x3f) << 2)
		if hasNacks {
			buf[2] |= 0x02 // E1
		}
		off = 3
	default: // 12-bit
		buf[0] = byte((p.AckSN >> 8) & 0x0f)
		buf[1] = byte(p.AckSN & 0xff)
		buf[2] = 0
		if hasNacks {
			buf[2] |= 0x80 // E1
		}
		off = 3
	}

	for i, nk := range p.NACKs {
		last := i == len(p.NACKs)-1
		e1 := !last
		switch p.Size {
		case sn.Size18:
			buf[off] = byte((nk.SN >> 10) & 0xff)
			buf[off+1] = byte((nk.SN >> 2) & 0xff)
			flags := byte((nk.SN & 0x03) << 6)
			if e1 {
				flags |= 0x20
			}
			if nk.HasSO {
				flags |= 0x10
			}
			if nk.HasRange {
				flags |= 0x08
			}
			buf[off+2] = flags
			off += 3
		default:
			buf[off] = byte((nk.SN >> 4) & 0xff)
			flags := byte((nk.SN & 0x0f) << 4)
			if e1 {
				flags |= 0x08
			}
			if nk.HasSO {
				flags |= 0x04
			}
			if nk.HasRange {
				flags |= 0x02
			}
			buf[off+1] = flags
			off += 2
		}
		if nk.HasSO {
			buf[off] = byte(nk.SOStart >> 8)
			buf[off+1] = byte(nk.SOStart & 0xff)
			buf[off+2] = byte(nk.SOEnd >> 8)
			buf[off+3] = byte(nk.SOEnd & 0xff)
			off += 4
		}
		if nk.HasRange {
			buf[off] = nk.Range
			off += 1
		}
	}
	return off
}

// Unpack decodes a status PDU from buf. It rejects truncated buffers, a
// D/C bit that claims a data PDU, a non-zero CPT, reserved bits set, and
// truncation at any E1/E2/E3 boundary.
func Unpack(buf []byte, size sn.Size) (*PDU, error) {
	if !size.Valid() {
		return nil, ErrMalformed
	}
	if len(buf) < fixedHeaderSize {
		return nil, ErrMalformed
	}
	if buf[0]&0x80 != 0 {
		return nil, ErrMalformed // D/C says data
	}

	p := &PDU{Size: size}
	var e1 bool
	off := 0

	switch size {
	case sn.Size18:
		if buf[0]&0x70 != 0 {
			return nil, ErrMalformed // CPT must be 0
		}
		p.AckSN = uint32(buf[0]&0x0f) << 14
		p.AckSN |= uint32(buf[1]) << 6
		p.AckSN |= uint32(buf[2]>>2) & 0x3f
		if buf[2]&0x01 != 0 {
			return nil, ErrMalformed // reserved bit set
		}
		e1 = buf[2]&0x02 != 0
		off = 3
	default:
		if buf[0]&0x70 != 0 {
			return nil, ErrMalformed
		}
		p.AckSN = uint32(buf[0]&0x0f) << 8
		p.AckSN |= uint32(buf[1])
		if buf[2]&0x7f != 0 {
			return nil, ErrMalformed
		}
		e1 = buf[2]&0x80 != 0
		off = 3
	}

	for e1 {
		nackHdr := nackFixedSize(size)
		if len(buf) < off+nackHdr {
			return nil, ErrMalformed
		}
		var nk NACK
		var e2, e3 bool
		switch size {
		case sn.Size18:
			nk.SN = uint32(buf[off]) << 10
			nk.SN |= uint32(buf[off+1]) << 2
			flags := buf[off+2]
			nk.SN |= uint32(flags>>6) & 0x03
			if flags&0x07 != 0 {
				return nil, ErrMalformed // reserved bits
			}
			e1 = flags&0x20 != 0
			e2 = flags&0x10 != 0
			e3 = flags&0x08 != 0
			off += 3
		default:
			nk.SN = uint32(buf[off]) << 4
			flags := buf[off+1]
			nk.SN |= uint32(flags>>4) & 0x0f
			if flags&0x01 != 0 {
				return nil, ErrMalformed
			}
			e1 = flags&0x08 != 0
			e2 = flags&0x04 != 0
			e3 = flags&0x02 != 0
			off += 2
		}
		if e2 {
			if len(buf) < off+4 {
				return nil, ErrMalformed
			}
			nk.HasSO = true
			nk.SOStart = uint16(buf[off])<<8 | uint16(buf[off+1])
			nk.SOEnd = uint16(buf[off+2])<<8 | uint16(buf[off+3])
			off += 4
		}
		if e3 {
			if len(buf) < off+1 {
				return nil, ErrMalformed
			}
			nk.HasRange = true
			nk.Range = buf[off]
			off += 1
		}
		p.NACKs = append(p.NACKs, nk)
	}

	return p, nil
}
