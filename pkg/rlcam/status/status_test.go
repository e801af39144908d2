package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/srsran/gnb-rlc/pkg/rlcam/sn"
)

func TestPackUnpackNoNacks(t *testing.T) {
	p := &PDU{Size: sn.Size12, AckSN: 42}
	buf := make([]byte, p.PackedSize())
	n := p.Pack(buf)
	assert.Equal(t, p.PackedSize(), n)

	got, err := Unpack(buf, sn.Size12)
	require.NoError(t, err)
	assert.Equal(t, p.AckSN, got.AckSN)
	assert.Empty(t, got.NACKs)
}

func TestPackUnpackWithNacks(t *testing.T) {
	p := &PDU{
		Size:  sn.Size18,
		AckSN: 1000,
		NACKs: []NACK{
			{SN: 5},
			{SN: 10, HasSO: true, SOStart: 0, SOEnd: 99},
			{SN: 20, HasRange: true, Range: 3},
		},
	}
	buf := make([]byte, p.PackedSize())
	n := p.Pack(buf)
	require.Equal(t, p.PackedSize(), n)

	got, err := Unpack(buf, sn.Size18)
	require.NoError(t, err)
	require.Equal(t, len(p.NACKs), len(got.NACKs))
	for i, want := range p.NACKs {
		assert.Equal(t, want, got.NACKs[i])
	}
}

func TestUnpackRejectsDataPDU(t *testing.T) {
	buf := []byte{0x80, 0x00, 0x00}
	_, err := Unpack(buf, sn.Size12)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestPackUnpackRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.SampledFrom([]sn.Size{sn.Size12, sn.Size18}).Draw(rt, "size")
		ackSN := rapid.Uint32Range(0, size.Modulus()-1).Draw(rt, "ack")
		count := rapid.IntRange(0, 5).Draw(rt, "nack_count")

		p := &PDU{Size: size, AckSN: ackSN}
		for i := 0; i < count; i++ {
			n := NACK{SN: rapid.Uint32Range(0, size.Modulus()-1).Draw(rt, "nsn")}
			if rapid.Bool().Draw(rt, "has_so") {
				n.HasSO = true
				n.SOStart = uint16(rapid.Uint32Range(0, 0xFFFE).Draw(rt, "sos"))
				n.SOEnd = uint16(rapid.Uint32Range(0, 0xFFFF).Draw(rt, "soe"))
			}
			p.NACKs = append(p.NACKs, n)
		}

		buf := make([]byte, p.PackedSize())
		p.Pack(buf)
		got, err := Unpack(buf, size)
		require.NoError(rt, err)
		assert.Equal(rt, p.AckSN, got.AckSN)
		assert.Equal(rt, p.NACKs, got.NACKs)
	})
}

func TestBuilderMergesAdjacentWholeSDUNacks(t *testing.T) {
	b := NewBuilder(sn.Size12, 0)
	b.PushNack(NACK{SN: 5})
	b.PushNack(NACK{SN: 6})
	require.Len(t, b.NACKs(), 1)
	assert.Equal(t, uint8(2), b.NACKs()[0].Range)
}

func TestBuilderDoesNotMergeNonAdjacent(t *testing.T) {
	b := NewBuilder(sn.Size12, 0)
	b.PushNack(NACK{SN: 5})
	b.PushNack(NACK{SN: 7})
	require.Len(t, b.NACKs(), 2)
}

func TestBuilderTrimDropsTrailingSN(t *testing.T) {
	b := NewBuilder(sn.Size12, 0)
	b.SetAckSN(100)
	b.PushNack(NACK{SN: 5, HasSO: true, SOStart: 0, SOEnd: 10})
	b.PushNack(NACK{SN: 8})
	sizeBefore := b.PackedSize()

	ok := b.Trim(sizeBefore - 1)
	require.True(t, ok)
	require.Len(t, b.NACKs(), 1)
	assert.Equal(t, uint32(5), b.NACKs()[0].SN)
	assert.Equal(t, uint32(8), b.ackSN)
}
