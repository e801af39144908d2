// Package bearer wires one TX and one RX AM entity into the RLC AM
// bearer object that the rest of the stack interacts with (spec §5,
// §6.5, §9). It owns the two cooperative executors the spec's
// concurrency model names — the UE executor (upper-layer submissions
// and deliveries) and the cell executor (lower-layer PDU exchange) —
// and runs them for the bearer's lifetime via errgroup, mirroring the
// teacher's controller.Start/Stop goroutine-group idiom.
package bearer

import (
	"context"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/srsran/gnb-rlc/internal/bufpool"
	"github.com/srsran/gnb-rlc/internal/executor"
	"github.com/srsran/gnb-rlc/pkg/rlcam/config"
	"github.com/srsran/gnb-rlc/pkg/rlcam/iface"
	"github.com/srsran/gnb-rlc/pkg/rlcam/rx"
	"github.com/srsran/gnb-rlc/pkg/rlcam/tx"
)

// Config bundles the TX/RX configuration and executor queue depths for
// one bearer.
type Config struct {
	TX config.TX
	RX config.RX

	// UEExecutorQueueDepth and CellExecutorQueueDepth bound the posted
	// task backlog of each executor. 0 uses a small built-in default.
	UEExecutorQueueDepth   int
	CellExecutorQueueDepth int
}

func (c Config) ueQueueDepth() int {
	if c.UEExecutorQueueDepth > 0 {
		return c.UEExecutorQueueDepth
	}
	return 64
}

func (c Config) cellQueueDepth() int {
	if c.CellExecutorQueueDepth > 0 {
		return c.CellExecutorQueueDepth
	}
	return 64
}

// Bearer is one RLC AM entity pair plus its upper/lower-layer glue.
type Bearer struct {
	TX *tx.Entity
	RX *rx.Entity

	ueExec   *executor.Executor
	cellExec *executor.Executor

	logger *logrus.Entry
	pool   *bufpool.Pool
}

// New constructs a Bearer. sink receives reassembled SDUs delivered by
// RX; control receives TX-side protocol events; delivery is told when a
// submitted SDU has been fully acknowledged; lower receives TX
// buffer-state updates.
func New(cfg Config, pool *bufpool.Pool, logger *logrus.Entry, sink iface.UpperDataSink, control iface.UpperControlNotifier, delivery iface.UpperDeliveryNotifier, lower iface.LowerBufferStateNotifier) *Bearer {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if pool == nil {
		pool = bufpool.NewPool(nil)
	}

	b := &Bearer{
		logger:   logger,
		pool:     pool,
		ueExec:   executor.New("ue", cfg.ueQueueDepth(), logger),
		cellExec: executor.New("cell", cfg.cellQueueDepth(), logger),
	}

	b.RX = rx.New(cfg.RX, pool, sink, logger)
	b.TX = tx.New(cfg.TX, pool, logger)

	b.TX.SetStatusProvider(b.RX)
	b.RX.SetStatusHandler(b.TX)
	b.RX.SetStatusNotifier(notifyViaExecutor{exec: b.cellExec, inner: b.TX})
	b.TX.SetUpperNotifiers(control, delivery)
	b.TX.SetLowerNotifier(lower)

	return b
}

// notifyViaExecutor wraps an iface.StatusNotifier so its callback always
// runs on a specific executor's goroutine, regardless of which goroutine
// (a timer callback, the MAC's calling goroutine) observed the change.
type notifyViaExecutor struct {
	exec  *executor.Executor
	inner iface.StatusNotifier
}

func (n notifyViaExecutor) OnStatusReportChanged() {
	n.exec.Post(n.inner.OnStatusReportChanged)
}

// Run starts both executors and blocks until ctx is cancelled or either
// executor's loop returns an error.
func (b *Bearer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.ueExec.Run(ctx) })
	g.Go(func() error { return b.cellExec.Run(ctx) })
	err := g.Wait()
	b.TX.Stop()
	b.RX.Stop()
	return err
}

// HandleSDU submits an upper-layer SDU for transmission. Posted to the UE
// executor since it originates from the upper layer.
func (b *Bearer) HandleSDU(payload []byte, upperSN uint32, hasUpperSN bool) {
	handle := b.pool.Get(len(payload))
	copy(handle.Bytes(), payload)
	b.ueExec.Post(func() { b.TX.HandleSDU(handle, upperSN, hasUpperSN) })
}

// DiscardSDU requests cancellation of a not-yet-segmented upper-layer SDU.
func (b *Bearer) DiscardSDU(upperSN uint32) {
	b.ueExec.Post(func() { b.TX.DiscardSDU(upperSN) })
}

// HandlePDU delivers one PDU received over the air. RX dispatches data
// PDUs to itself and status PDUs to its wired StatusHandler (the TX
// entity) by the D/C bit. Runs synchronously on the caller's goroutine;
// callers are the cell executor's own MAC-facing call path, so no
// additional Post is needed.
func (b *Bearer) HandlePDU(raw bufpool.Handle) {
	b.RX.HandlePDU(raw)
}

// PullPDU asks the TX entity to build one PDU into buf, for the cell
// executor's MAC-facing call path.
func (b *Bearer) PullPDU(buf []byte) int { return b.TX.PullPDU(buf) }

// BufferState reports the current TX buffer-state estimate.
func (b *Bearer) BufferState() uint32 { return b.TX.BufferState() }
