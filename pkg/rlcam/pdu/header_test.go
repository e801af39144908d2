package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/srsran/gnb-rlc/pkg/rlcam/sn"
)

func TestWriteReadRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.SampledFrom([]sn.Size{sn.Size12, sn.Size18}).Draw(rt, "size")
		si := rapid.SampledFrom([]SegmentInfo{FullSDU, FirstSegment, LastSegment, MiddleSegment}).Draw(rt, "si")
		h := Header{
			DC:   true,
			Poll: rapid.Bool().Draw(rt, "poll"),
			SI:   si,
			Size: size,
			SN:   rapid.Uint32Range(0, size.Modulus()-1).Draw(rt, "sn"),
		}
		if h.SI.HasSO() {
			h.SO = uint16(rapid.Uint32Range(0, 0xFFFF).Draw(rt, "so"))
		}

		buf := make([]byte, h.PackedSize())
		n := Write(buf, h)
		assert.Equal(rt, h.PackedSize(), n)

		got, err := Read(buf, size)
		require.NoError(rt, err)
		assert.Equal(rt, h, got)
	})
}

func TestReadRejectsTruncated(t *testing.T) {
	_, err := Read([]byte{0x80}, sn.Size12)
	require.Error(t, err)
}

func TestReadRejectsReservedBitsSize18(t *testing.T) {
	buf := []byte{0x8C, 0x00, 0x00}
	_, err := Read(buf, sn.Size18)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestMinSize(t *testing.T) {
	assert.Equal(t, 2, MinSize(sn.Size12))
	assert.Equal(t, 3, MinSize(sn.Size18))
}

func TestSegmentInfoHasSO(t *testing.T) {
	assert.False(t, FullSDU.HasSO())
	assert.False(t, FirstSegment.HasSO())
	assert.True(t, LastSegment.HasSO())
	assert.True(t, MiddleSegment.HasSO())
}
