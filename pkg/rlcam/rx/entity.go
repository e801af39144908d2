// Package rx implements the receiving side of an RLC AM entity (spec
// §4.5), grounded on rlc_rx_am_entity from the original source and on
// the teacher's status-driven state-machine style (sdo_client.go /
// sdo_server.go).
package rx

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srsran/gnb-rlc/internal/bufpool"
	"github.com/srsran/gnb-rlc/pkg/rlcam/config"
	"github.com/srsran/gnb-rlc/pkg/rlcam/iface"
	"github.com/srsran/gnb-rlc/pkg/rlcam/pdu"
	"github.com/srsran/gnb-rlc/pkg/rlcam/status"
	"github.com/srsran/gnb-rlc/pkg/rlcam/window"
)

// Metrics counts the drop/error conditions enumerated in spec §7; it has
// no wire effect, only observability value.
type Metrics struct {
	PDUs           uint64
	CtrlPDUs       uint64
	SDUs           uint64
	MalformedPDUs  uint64
	WindowViolation uint64
	DuplicatePDUs  uint64
}

// state holds the RX state variables of TS 38.322 §7.1.
type state struct {
	rxNext               uint32
	rxNextStatusTrigger  uint32
	rxHighestStatus      uint32
	rxNextHighest        uint32
}

// Entity is the RX half of an RLC AM bearer.
type Entity struct {
	cfg    config.RX
	mod    uint32
	winLen uint32

	logger *logrus.Entry

	// RX state and window: touched only from the UE executor (spec §5).
	st  state
	win *window.Window[sduInfo]

	statusHandler  iface.StatusHandler
	statusNotifier iface.StatusNotifier
	upperSink      iface.UpperDataSink
	pool           *bufpool.Pool

	// Stored status report, shared with the TX peer's executor.
	statusMu      sync.Mutex
	statusReport  *status.PDU
	statusBuilder *status.Builder
	statusSize    atomic.Int64
	doStatus      atomic.Bool
	prohibitOn    atomic.Bool

	reassemblyTimer *time.Timer
	reassemblyOn    bool
	prohibitTimer   *time.Timer

	Metrics Metrics
}

// New creates an RX-AM entity that delivers reassembled SDUs to sink. The
// TX peer's status handler and notifier, the thin peer handles described in
// spec §9's "Cyclic back-references" note, are wired afterwards through
// SetStatusHandler and SetStatusNotifier.
func New(cfg config.RX, pool *bufpool.Pool, sink iface.UpperDataSink, logger *logrus.Entry) *Entity {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	w := cfg.SNSize.Window()
	e := &Entity{
		cfg:           cfg,
		mod:           cfg.SNSize.Modulus(),
		winLen:        w,
		logger:        logger.WithField("entity", "rlc-am-rx"),
		win:           window.New[sduInfo](w),
		upperSink:     sink,
		pool:          pool,
		statusBuilder: status.NewBuilder(cfg.SNSize, 0),
	}
	e.statusBuilder.SetAckSN(0)
	e.statusReport = e.statusBuilder.PDU()
	e.statusSize.Store(int64(e.statusReport.PackedSize()))
	return e
}

// SetStatusHandler wires the TX peer's status-handler surface.
func (e *Entity) SetStatusHandler(h iface.StatusHandler) { e.statusHandler = h }

// SetStatusNotifier wires the TX peer's status-notifier surface.
func (e *Entity) SetStatusNotifier(n iface.StatusNotifier) { e.statusNotifier = n }

func (e *Entity) rxModBase(x uint32) uint32 { return e.cfg.SNSize.Rebase(x, e.st.rxNext) }

func (e *Entity) insideRXWindow(x uint32) bool { return e.rxModBase(x) < e.winLen }

// validAckSN mirrors rlc_rx_am_entity::valid_ack_sn: RX_Next < sn <= RX_Next + W.
func (e *Entity) validAckSN(x uint32) bool {
	r := e.rxModBase(x)
	return r > 0 && r <= e.winLen
}

// Stop stops both RX timers. Any in-flight callback completes normally.
func (e *Entity) Stop() {
	if e.reassemblyTimer != nil {
		e.reassemblyTimer.Stop()
	}
	if e.prohibitTimer != nil {
		e.prohibitTimer.Stop()
	}
}

// HandlePDU accepts a PDU from the lower layer (spec §4.5).
func (e *Entity) HandlePDU(raw bufpool.Handle) {
	e.Metrics.PDUs++
	buf := raw.Bytes()
	if len(buf) == 0 {
		e.logger.Warn("dropped empty PDU")
		raw.Release()
		return
	}
	if buf[0]&0x80 == 0 {
		e.Metrics.CtrlPDUs++
		e.handleControlPDU(raw)
	} else {
		e.handleDataPDU(raw)
	}
}

func (e *Entity) handleControlPDU(raw bufpool.Handle) {
	defer raw.Release()
	p, err := status.Unpack(raw.Bytes(), e.cfg.SNSize)
	if err != nil {
		e.Metrics.MalformedPDUs++
		e.logger.WithError(err).Warn("failed to unpack control PDU")
		return
	}
	e.logger.WithField("ack_sn", p.AckSN).Info("rx status PDU")
	if e.statusHandler != nil {
		e.statusHandler.OnStatusPDU(p)
	}
}

func (e *Entity) handleDataPDU(raw bufpool.Handle) {
	statusChanged := false
	statusRequested := false
	defer func() {
		if statusChanged {
			e.refreshStatusReport()
		}
		if statusRequested {
			e.doStatus.Store(true)
		}
		if statusChanged || statusRequested {
			e.notifyStatusReportChanged()
		}
	}()

	h, err := pdu.Read(raw.Bytes(), e.cfg.SNSize)
	if err != nil {
		e.Metrics.MalformedPDUs++
		e.logger.WithError(err).Warn("rx PDU with malformed header")
		raw.Release()
		return
	}
	headerLen := h.PackedSize()
	if len(raw.Bytes()) <= headerLen {
		e.logger.Warn("dropped malformed PDU without payload")
		raw.Release()
		return
	}
	payload := raw.Advance(headerLen)

	// The poll bit is recorded before window/duplicate checks: a stale
	// retransmission of an already-received PDU can still legitimately
	// request a status report.
	if h.Poll {
		e.logger.Debug("status report requested via polling bit")
		statusRequested = true
	}

	if !e.insideRXWindow(h.SN) {
		e.Metrics.WindowViolation++
		e.logger.WithField("sn", h.SN).Debug("discarded PDU outside RX window")
		payload.Release()
		return
	}
	if e.win.Contains(h.SN) && e.win.Get(h.SN).fullyReceived {
		e.Metrics.DuplicatePDUs++
		e.logger.WithField("sn", h.SN).Debug("discarded duplicate PDU")
		payload.Release()
		return
	}

	if h.SI == pdu.FullSDU {
		statusChanged = e.handleFullSDU(h, payload)
	} else {
		statusChanged = e.handleSegment(h, payload)
	}

	if e.rxModBase(h.SN) >= e.rxModBase(e.st.rxNextHighest) {
		e.st.rxNextHighest = e.cfg.SNSize.Add(h.SN, 1)
	}

	if e.win.Contains(h.SN) && e.win.Get(h.SN).fullyReceived {
		e.deliverReceived(h.SN)
	}

	e.updateReassemblyTimer()
}

func (e *Entity) handleFullSDU(h pdu.Header, payload bufpool.Handle) bool {
	info := e.win.Get(h.SN)
	if info == nil {
		info = e.win.Insert(h.SN)
	}
	info.setFull(payload)
	return true
}

func (e *Entity) handleSegment(h pdu.Header, payload bufpool.Handle) bool {
	info := e.win.Get(h.SN)
	if info == nil {
		info = e.win.Insert(h.SN)
	}
	stored := info.storeSegment(segment{si: h.SI, so: uint32(h.SO), payload: payload})
	info.updateInventory()
	return stored
}

// deliverReceived advances RX_Highest_Status / RX_Next as permitted once sn
// is fully received (spec §4.5 step 4). SDUs are delivered upward in SN
// order: each one is reassembled and handed to the sink as RX_Next moves
// past it, so an SDU completed beyond a gap waits in the window.
func (e *Entity) deliverReceived(n uint32) {
	if e.rxModBase(n) == e.rxModBase(e.st.rxHighestStatus) {
		upd := e.cfg.SNSize.Add(e.st.rxHighestStatus, 1)
		for e.rxModBase(upd) < e.rxModBase(e.st.rxNextHighest) {
			if e.win.Contains(upd) && e.win.Get(upd).fullyReceived {
				upd = e.cfg.SNSize.Add(upd, 1)
				continue
			}
			break
		}
		e.st.rxHighestStatus = upd
	}

	if e.rxModBase(n) == e.rxModBase(e.st.rxNext) {
		upd := e.st.rxNext
		for e.rxModBase(upd) < e.rxModBase(e.st.rxNextHighest) {
			info := e.win.Get(upd)
			if info == nil || !info.fullyReceived {
				break
			}
			e.Metrics.SDUs++
			if e.upperSink != nil {
				e.upperSink.OnNewSDU(info.assemble())
			}
			info.release()
			e.win.Remove(upd)
			upd = e.cfg.SNSize.Add(upd, 1)
		}
		e.st.rxNext = upd
	}
}

// updateReassemblyTimer implements the t-Reassembly start/stop rules of
// spec §4.5 and TS 38.322 §5.2.3.2.3.
func (e *Entity) updateReassemblyTimer() {
	if e.reassemblyOn {
		stop := false
		if e.st.rxNextStatusTrigger == e.st.rxNext {
			stop = true
		}
		if e.rxModBase(e.st.rxNextStatusTrigger) == e.rxModBase(e.cfg.SNSize.Add(e.st.rxNext, 1)) {
			// win.Contains guards win.Get from a missing entry. In this
			// branch rx_next is rx_next_status_trigger-1, an SN of which
			// some bytes had arrived when the trigger was set, so it still
			// has a window entry here.
			if e.win.Contains(e.st.rxNext) && !e.win.Get(e.st.rxNext).hasGap {
				stop = true
			}
		}
		if !e.insideRXWindow(e.st.rxNextStatusTrigger) {
			stop = true
		}
		if stop {
			e.stopReassemblyTimer()
		}
	}

	if !e.reassemblyOn {
		restart := false
		if e.rxModBase(e.st.rxNextHighest) > e.rxModBase(e.cfg.SNSize.Add(e.st.rxNext, 1)) {
			restart = true
		}
		if e.rxModBase(e.st.rxNextHighest) == e.rxModBase(e.cfg.SNSize.Add(e.st.rxNext, 1)) {
			if e.win.Contains(e.st.rxNext) && e.win.Get(e.st.rxNext).hasGap {
				restart = true
			}
		}
		if restart {
			e.startReassemblyTimer()
			e.st.rxNextStatusTrigger = e.st.rxNextHighest
		}
	}
}

func (e *Entity) startReassemblyTimer() {
	if e.cfg.TReassembly <= 0 {
		return
	}
	if e.reassemblyTimer != nil {
		e.reassemblyTimer.Stop()
	}
	e.reassemblyOn = true
	e.reassemblyTimer = time.AfterFunc(e.cfg.TReassembly, e.onReassemblyExpiry)
}

func (e *Entity) stopReassemblyTimer() {
	e.reassemblyOn = false
	if e.reassemblyTimer != nil {
		e.reassemblyTimer.Stop()
	}
}

// onReassemblyExpiry implements TS 38.322 §5.2.3.2.4. Like the source,
// this must run serialized with handleDataPDU; callers drive both from
// the same (UE) executor goroutine.
func (e *Entity) onReassemblyExpiry() {
	if !e.reassemblyOn {
		e.logger.Info("reassembly timer already restarted, skipping stale expiry")
		return
	}
	e.reassemblyOn = false
	if !e.validAckSN(e.st.rxNextStatusTrigger) {
		e.logger.Info("rx_next_status_trigger outside RX window, skipping stale expiry")
		return
	}

	upd := e.st.rxNextStatusTrigger
	for e.rxModBase(upd) < e.rxModBase(e.st.rxNextHighest) {
		if !e.win.Contains(upd) || !e.win.Get(upd).fullyReceived {
			break
		}
		upd = e.cfg.SNSize.Add(upd, 1)
	}
	e.st.rxHighestStatus = upd

	restart := false
	if e.rxModBase(e.st.rxNextHighest) > e.rxModBase(e.cfg.SNSize.Add(e.st.rxHighestStatus, 1)) {
		restart = true
	}
	if e.rxModBase(e.st.rxNextHighest) == e.rxModBase(e.cfg.SNSize.Add(e.st.rxHighestStatus, 1)) {
		if e.win.Contains(e.st.rxHighestStatus) && e.win.Get(e.st.rxHighestStatus).hasGap {
			restart = true
		}
	}
	if restart {
		e.startReassemblyTimer()
		e.st.rxNextStatusTrigger = e.st.rxNextHighest
	}

	e.refreshStatusReport()
	e.doStatus.Store(true)
	e.notifyStatusReportChanged()
}

// refreshStatusReport rebuilds the stored status report from the current
// RX window contents (spec §4.5 "Status report construction").
func (e *Entity) refreshStatusReport() {
	b := status.NewBuilder(e.cfg.SNSize, e.st.rxNext)
	for k := e.st.rxNext; e.rxModBase(k) < e.rxModBase(e.st.rxHighestStatus); k = e.cfg.SNSize.Add(k, 1) {
		info := e.win.Get(k)
		switch {
		case info != nil && info.fullyReceived:
			// complete, nothing to NACK
		case info == nil:
			b.PushNack(status.NACK{SN: k})
		default:
			lastSO := uint32(0)
			haveLast := false
			for _, sg := range info.segments {
				if sg.so != lastSO {
					b.PushNack(status.NACK{SN: k, HasSO: true, SOStart: uint16(lastSO), SOEnd: uint16(sg.so - 1)})
				}
				if sg.si == pdu.LastSegment {
					haveLast = true
				}
				lastSO = sg.so + uint32(sg.payload.Len())
			}
			if !haveLast {
				b.PushNack(status.NACK{SN: k, HasSO: true, SOStart: uint16(lastSO), SOEnd: status.SOEndOfSDU})
			}
		}
	}
	b.SetAckSN(e.st.rxHighestStatus)
	if e.cfg.MaxStatusPDUSize > 0 {
		b.Trim(e.cfg.MaxStatusPDUSize)
	}

	e.statusMu.Lock()
	e.statusReport = b.PDU()
	e.statusMu.Unlock()
	e.statusSize.Store(int64(b.PackedSize()))
}

func (e *Entity) notifyStatusReportChanged() {
	if e.StatusReportRequired() && e.statusNotifier != nil {
		e.statusNotifier.OnStatusReportChanged()
	}
}

// GetStatusPDU implements iface.StatusProvider. Calling it arms
// t-StatusProhibit, matching the source's get_status_pdu side effect.
func (e *Entity) GetStatusPDU() *status.PDU {
	e.doStatus.Store(false)
	if e.cfg.TStatusProhibit > 0 {
		e.armProhibitTimer()
	}
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	return e.statusReport
}

// GetStatusPDULength implements iface.StatusProvider.
func (e *Entity) GetStatusPDULength() int { return int(e.statusSize.Load()) }

// StatusReportRequired implements iface.StatusProvider.
func (e *Entity) StatusReportRequired() bool {
	return e.doStatus.Load() && !e.prohibitOn.Load()
}

func (e *Entity) armProhibitTimer() {
	if e.prohibitTimer != nil {
		e.prohibitTimer.Stop()
	}
	e.prohibitOn.Store(true)
	e.prohibitTimer = time.AfterFunc(e.cfg.TStatusProhibit, e.onProhibitExpiry)
}

func (e *Entity) onProhibitExpiry() {
	e.prohibitOn.Store(false)
	e.notifyStatusReportChanged()
}

// State returns a copy of the RX state variables (test/debug helper).
func (e *Entity) State() (rxNext, rxNextStatusTrigger, rxHighestStatus, rxNextHighest uint32) {
	return e.st.rxNext, e.st.rxNextStatusTrigger, e.st.rxHighestStatus, e.st.rxNextHighest
}

// SetState overwrites the RX state variables; testing helper only.
func (e *Entity) SetState(rxNext, rxNextStatusTrigger, rxHighestStatus, rxNextHighest uint32) {
	e.st = state{rxNext, rxNextStatusTrigger, rxHighestStatus, rxNextHighest}
}

// IsReassemblyRunning reports whether t-Reassembly is currently armed;
// testing helper only.
func (e *Entity) IsReassemblyRunning() bool { return e.reassemblyOn }
