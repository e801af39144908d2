package retx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryPushRespectsCapacity(t *testing.T) {
	q := New(2)
	require.True(t, q.TryPush(Descriptor{SN: 1, SO: 0, Length: 10}))
	require.True(t, q.TryPush(Descriptor{SN: 2, SO: 0, Length: 5}))
	require.False(t, q.TryPush(Descriptor{SN: 3, SO: 0, Length: 1}))
}

func TestStateAccounting(t *testing.T) {
	q := New(4)
	q.TryPush(Descriptor{SN: 1, SO: 0, Length: 10})
	q.TryPush(Descriptor{SN: 2, SO: 5, Length: 3})

	st := q.State()
	assert.Equal(t, uint32(13), st.RetxBytes)
	assert.Equal(t, uint32(1), st.NRetxSOZero)
	assert.Equal(t, uint32(1), st.NRetxSONonzero)

	q.Pop()
	st = q.State()
	assert.Equal(t, uint32(3), st.RetxBytes)
	assert.Equal(t, uint32(0), st.NRetxSOZero)
	assert.Equal(t, uint32(1), st.NRetxSONonzero)
}

func TestRemoveSNPrunesHeadZombies(t *testing.T) {
	q := New(4)
	q.TryPush(Descriptor{SN: 1, SO: 0, Length: 10})
	q.TryPush(Descriptor{SN: 2, SO: 0, Length: 5})
	q.TryPush(Descriptor{SN: 3, SO: 0, Length: 1})

	require.True(t, q.RemoveSN(1))
	assert.Equal(t, Descriptor{SN: 2, SO: 0, Length: 5}, q.Front())
	assert.Equal(t, 2, q.Len())
}

func TestContainsRange(t *testing.T) {
	q := New(4)
	q.TryPush(Descriptor{SN: 1, SO: 10, Length: 20})
	assert.True(t, q.ContainsRange(1, 15, 5))
	assert.False(t, q.ContainsRange(1, 25, 10))
	assert.False(t, q.ContainsRange(2, 10, 5))
}

func TestReplaceFront(t *testing.T) {
	q := New(4)
	q.TryPush(Descriptor{SN: 1, SO: 0, Length: 100})
	q.ReplaceFront(Descriptor{SN: 1, SO: 50, Length: 50})
	assert.Equal(t, Descriptor{SN: 1, SO: 50, Length: 50}, q.Front())
	st := q.State()
	assert.Equal(t, uint32(50), st.RetxBytes)
}
