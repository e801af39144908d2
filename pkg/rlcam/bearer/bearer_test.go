package bearer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srsran/gnb-rlc/internal/bufpool"
	"github.com/srsran/gnb-rlc/pkg/rlcam/config"
	"github.com/srsran/gnb-rlc/pkg/rlcam/sn"
)

type recordingSink struct {
	sdus [][]byte
}

func (s *recordingSink) OnNewSDU(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.sdus = append(s.sdus, cp)
}

type noopControl struct{}

func (noopControl) OnProtocolFailure()                        {}
func (noopControl) OnMaxRetx(upperSN uint32, hasUpperSN bool) {}

type noopDelivery struct{}

func (noopDelivery) OnDeliveredSDU(upperSN uint32) {}

type noopLower struct{}

func (noopLower) OnBufferStateUpdate(bytes uint32, holTimestamp time.Time, hasHOLTimestamp bool) {}

func testConfig() Config {
	return Config{
		TX: config.TX{SNSize: sn.Size12},
		RX: config.RX{SNSize: sn.Size12},
	}
}

func TestBearerHandleSDUToPullPDURunsThroughExecutor(t *testing.T) {
	sink := &recordingSink{}
	b := New(testConfig(), nil, nil, sink, noopControl{}, noopDelivery{}, noopLower{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	b.HandleSDU([]byte("hello bearer"), 1, true)

	buf := make([]byte, 64)
	var n int
	require.Eventually(t, func() bool {
		n = b.PullPDU(buf)
		return n > 0
	}, time.Second, time.Millisecond)
	assert.Greater(t, n, 0)
}

func TestBearerPullPDUFeedsIntoPeerHandlePDU(t *testing.T) {
	senderSink := &recordingSink{}
	receiverSink := &recordingSink{}
	sender := New(testConfig(), nil, nil, senderSink, noopControl{}, noopDelivery{}, noopLower{})
	receiver := New(testConfig(), nil, nil, receiverSink, noopControl{}, noopDelivery{}, noopLower{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sender.Run(ctx) }()

	sender.HandleSDU([]byte("across the air interface"), 1, true)

	buf := make([]byte, 256)
	var n int
	require.Eventually(t, func() bool {
		n = sender.PullPDU(buf)
		return n > 0
	}, time.Second, time.Millisecond)

	raw := bufpool.Get(n)
	copy(raw.Bytes(), buf[:n])
	receiver.HandlePDU(raw)

	require.Len(t, receiverSink.sdus, 1)
	assert.Equal(t, []byte("across the air interface"), receiverSink.sdus[0])
}

func TestBearerBufferStateReflectsQueuedSDU(t *testing.T) {
	sink := &recordingSink{}
	b := New(testConfig(), nil, nil, sink, noopControl{}, noopDelivery{}, noopLower{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	assert.Equal(t, uint32(0), b.BufferState())

	b.HandleSDU([]byte("queued"), 1, true)
	require.Eventually(t, func() bool {
		return b.BufferState() > 0
	}, time.Second, time.Millisecond)
}
