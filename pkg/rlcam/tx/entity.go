// Package tx implements the transmitting side of an RLC AM entity (spec
// §4.6), grounded on rlc_tx_am_entity's state machine and on the
// teacher's SDO client for its toggle/retransmission/timeout idiom
// (sdo_client.go).
package tx

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srsran/gnb-rlc/internal/bufpool"
	"github.com/srsran/gnb-rlc/pkg/rlcam/config"
	"github.com/srsran/gnb-rlc/pkg/rlcam/iface"
	"github.com/srsran/gnb-rlc/pkg/rlcam/pdu"
	"github.com/srsran/gnb-rlc/pkg/rlcam/retx"
	"github.com/srsran/gnb-rlc/pkg/rlcam/sn"
	"github.com/srsran/gnb-rlc/pkg/rlcam/status"
	"github.com/srsran/gnb-rlc/pkg/rlcam/window"
)

// retxCountNotStarted mirrors RETX_COUNT_NOT_STARTED from the original
// source: an SDU that has never been retransmitted.
const retxCountNotStarted = ^uint32(0)

// sduInfo is a TX-window entry (spec §3 "TX SDU info").
type sduInfo struct {
	payload     bufpool.Handle
	upperSN     uint32
	hasUpperSN  bool
	nextSendOff uint32
	retxCount   uint32
}

// Metrics counts the drop/error conditions of spec §7.
type Metrics struct {
	SDUQueueDrops   uint64
	DiscardFailures uint64
	ProtocolFailure uint64
	MaxRetxReached  uint64
	RetxQueueDrops  uint64
}

type state struct {
	txNextAck       uint32
	txNext          uint32
	pollSN          uint32
	pduWithoutPoll  uint32
	byteWithoutPoll uint32
}

// Entity is the TX half of an RLC AM bearer.
type Entity struct {
	cfg    config.TX
	winLen uint32

	logger *logrus.Entry
	pool   *bufpool.Pool

	mu   sync.Mutex
	st   state
	win  *window.Window[sduInfo]
	sdus *sduQueue
	rtx  *retx.Queue

	snUnderSegmentation uint32
	hasSNUnderSeg       bool

	statusProvider iface.StatusProvider

	upperControl  iface.UpperControlNotifier
	upperDelivery iface.UpperDeliveryNotifier
	lowerNotifier iface.LowerBufferStateNotifier

	pollRetransmitTimer *time.Timer
	pollRetransmitOn    bool

	pendingBufferState bool
	forcePoll          bool

	Metrics Metrics
}

// New creates a TX-AM entity.
func New(cfg config.TX, pool *bufpool.Pool, logger *logrus.Entry) *Entity {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Entity{
		cfg:    cfg,
		winLen: cfg.EffectiveWindow(),
		logger: logger.WithField("entity", "rlc-am-tx"),
		pool:   pool,
		win:    window.New[sduInfo](cfg.EffectiveWindow()),
		sdus:   newSDUQueue(cfg.QueueSDUCount, cfg.QueueBytes),
		rtx:    retx.New(int(cfg.EffectiveWindow())),
	}
	e.hasSNUnderSeg = false
	return e
}

// SetStatusProvider wires the RX peer's status-provider surface.
func (e *Entity) SetStatusProvider(p iface.StatusProvider) { e.statusProvider = p }

// SetUpperNotifiers wires the upper-layer control/delivery callbacks.
func (e *Entity) SetUpperNotifiers(control iface.UpperControlNotifier, delivery iface.UpperDeliveryNotifier) {
	e.upperControl = control
	e.upperDelivery = delivery
}

// SetLowerNotifier wires the buffer-state notifier toward the scheduler.
func (e *Entity) SetLowerNotifier(n iface.LowerBufferStateNotifier) { e.lowerNotifier = n }

func (e *Entity) txModBase(x uint32) uint32 { return e.cfg.SNSize.Rebase(x, e.st.txNextAck) }

func (e *Entity) insideTXWindow(x uint32) bool { return e.txModBase(x) < e.winLen }

// validAckSN mirrors valid_ack_sn: TX_Next_Ack < sn <= TX_Next_Ack + W is
// too strict per the source's own comment (it allows == TX_Next_Ack+W);
// here rebased to TX_Next_Ack, an ack_sn rebasing to > W is invalid.
func (e *Entity) validAckSN(x uint32) bool { return e.txModBase(x) <= e.winLen }

func (e *Entity) validNack(ackSN uint32, n status.NACK) bool {
	return e.txModBase(n.SN) < e.txModBase(ackSN)
}

// Stop stops t-PollRetransmit.
func (e *Entity) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pollRetransmitTimer != nil {
		e.pollRetransmitTimer.Stop()
	}
}

// HandleSDU enqueues an upper-layer SDU for transmission (spec §4.6.1).
func (e *Entity) HandleSDU(payload bufpool.Handle, upperSN uint32, hasUpperSN bool) {
	e.mu.Lock()
	ok := e.sdus.TryPush(pendingSDU{payload: payload, upperSN: upperSN, hasUpperSN: hasUpperSN, enqueuedAt: time.Now()})
	e.mu.Unlock()
	if !ok {
		e.Metrics.SDUQueueDrops++
		e.logger.Warn("SDU queue full, dropping SDU")
		payload.Release()
		return
	}
	e.handleChangedBufferState()
}

// DiscardSDU removes a queued SDU not yet assigned an RLC SN (spec §4.6.1).
func (e *Entity) DiscardSDU(upperSN uint32) {
	e.mu.Lock()
	ok := e.sdus.Discard(upperSN)
	e.mu.Unlock()
	if !ok {
		e.Metrics.DiscardFailures++
		return
	}
	e.handleChangedBufferState()
}

// PullPDU builds one PDU into buf and returns the number of bytes
// written (spec §4.6.2). Must be called from the cell executor.
func (e *Entity) PullPDU(buf []byte) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.statusProvider != nil && e.statusProvider.StatusReportRequired() {
		size := e.statusProvider.GetStatusPDULength()
		if len(buf) >= size {
			p := e.statusProvider.GetStatusPDU()
			return p.Pack(buf)
		}
		if len(buf) >= 3 {
			p := e.statusProvider.GetStatusPDU()
			b := status.NewBuilder(p.Size, 0)
			b.SetAckSN(p.AckSN)
			for _, n := range p.NACKs {
				b.PushNack(n)
			}
			b.Trim(len(buf))
			return b.PDU().Pack(buf)
		}
	}

	if !e.rtx.Empty() {
		n := e.buildRetxPDU(buf)
		if n > 0 {
			return n
		}
	}

	if e.hasSNUnderSeg {
		info := e.win.Get(e.snUnderSegmentation)
		if info != nil {
			return e.buildContinuedSegment(info, buf)
		}
		e.hasSNUnderSeg = false
	}

	if !e.sdus.Empty() && e.txModBase(e.st.txNext) < e.winLen {
		sdu := e.sdus.Pop()
		newSN := e.st.txNext
		e.st.txNext = e.cfg.SNSize.Add(e.st.txNext, 1)
		info := e.win.Insert(newSN)
		*info = sduInfo{payload: sdu.payload, upperSN: sdu.upperSN, hasUpperSN: sdu.hasUpperSN, retxCount: retxCountNotStarted}
		return e.buildNewPDU(newSN, info, buf)
	}

	return 0
}

func (e *Entity) nothingElseToSend() bool {
	return e.sdus.Empty() && e.rtx.Empty() && !e.hasSNUnderSeg
}

// applyPollBit decides whether to set P on a just-built PDU and updates
// the poll counters/timer accordingly (spec §4.6.2).
func (e *Entity) applyPollBit(h *pdu.Header, payloadLen int, isLastSegment bool) {
	e.st.pduWithoutPoll++
	e.st.byteWithoutPoll += uint32(payloadLen)

	poll := false
	if e.cfg.PollPDU > 0 && e.st.pduWithoutPoll >= uint32(e.cfg.PollPDU) {
		poll = true
	}
	if e.cfg.PollByte >= 0 && int64(e.st.byteWithoutPoll) >= e.cfg.PollByte {
		poll = true
	}
	if e.nothingElseToSend() && isLastSegment {
		poll = true
	}
	if e.forcePoll {
		poll = true
		e.forcePoll = false
	}

	if poll {
		h.Poll = true
		e.st.pduWithoutPoll = 0
		e.st.byteWithoutPoll = 0
		e.st.pollSN = e.cfg.SNSize.Sub(e.st.txNext, 1)
		e.armPollRetransmitTimer()
	}
}

func (e *Entity) armPollRetransmitTimer() {
	if e.cfg.TPollRetransmit <= 0 {
		return
	}
	if e.pollRetransmitTimer != nil {
		e.pollRetransmitTimer.Stop()
	}
	e.pollRetransmitOn = true
	e.pollRetransmitTimer = time.AfterFunc(e.cfg.TPollRetransmit, e.onPollRetransmitExpiry)
}

// buildNewPDU constructs the first PDU (full or first-segment) for a
// freshly assigned SN (spec §4.6.4).
func (e *Entity) buildNewPDU(newSN uint32, info *sduInfo, buf []byte) int {
	sdu := info.payload.Bytes()
	minHdr := pdu.MinSize(e.cfg.SNSize)

	if len(buf) >= minHdr+len(sdu) {
		h := pdu.Header{DC: true, SI: pdu.FullSDU, Size: e.cfg.SNSize, SN: newSN}
		n := pdu.Write(buf, h)
		n += copy(buf[n:], sdu)
		info.nextSendOff = uint32(len(sdu))
		e.applyPollBit(&h, len(sdu), true)
		if h.Poll {
			buf[0] |= 0x40
		}
		return n
	}

	if len(buf) <= minHdr {
		return 0
	}
	avail := len(buf) - minHdr
	h := pdu.Header{DC: true, SI: pdu.FirstSegment, Size: e.cfg.SNSize, SN: newSN}
	n := pdu.Write(buf, h)
	n += copy(buf[n:], sdu[:avail])
	info.nextSendOff = uint32(avail)
	e.snUnderSegmentation = newSN
	e.hasSNUnderSeg = true
	e.applyPollBit(&h, avail, false)
	if h.Poll {
		buf[0] |= 0x40
	}
	return n
}

// buildContinuedSegment constructs a middle/last segment for an SDU
// already under segmentation (spec §4.6.4).
func (e *Entity) buildContinuedSegment(info *sduInfo, buf []byte) int {
	sdu := info.payload.Bytes()
	so := info.nextSendOff
	headerLen := pdu.MinSize(e.cfg.SNSize) + 2
	if len(buf) <= headerLen {
		return 0
	}
	avail := len(buf) - headerLen
	remaining := len(sdu) - int(so)
	last := remaining <= avail
	n := remaining
	if !last {
		n = avail
	}

	si := pdu.MiddleSegment
	if last {
		si = pdu.LastSegment
	}
	h := pdu.Header{DC: true, SI: si, Size: e.cfg.SNSize, SN: e.snUnderSegmentation, SO: uint16(so)}
	written := pdu.Write(buf, h)
	written += copy(buf[written:], sdu[so:int(so)+n])
	info.nextSendOff += uint32(n)
	if last {
		e.hasSNUnderSeg = false
	}
	e.applyPollBit(&h, n, last)
	if h.Poll {
		buf[0] |= 0x40
	}
	return written
}

// buildRetxPDU constructs a retransmission PDU from the head of the ReTx
// queue (spec §4.6.3).
func (e *Entity) buildRetxPDU(buf []byte) int {
	for !e.rtx.Empty() {
		r := e.rtx.Front()
		info := e.win.Get(r.SN)
		if info == nil {
			e.rtx.Pop()
			continue
		}
		sdu := info.payload.Bytes()

		length := r.Length
		if info.nextSendOff < r.SO+length {
			if info.nextSendOff <= r.SO {
				length = 0
			} else {
				length = info.nextSendOff - r.SO
			}
		}
		if r.SO >= uint32(len(sdu)) {
			e.rtx.Pop()
			continue
		}
		if length == 0 {
			e.rtx.Pop()
			continue
		}
		if r.SO+length > uint32(len(sdu)) {
			length = uint32(len(sdu)) - r.SO
		}

		headerLen := pdu.MinSize(e.cfg.SNSize)
		if r.SO != 0 {
			headerLen += 2
		}

		if uint32(len(buf)) >= uint32(headerLen)+length {
			si := segmentInfoFor(r.SO, length, uint32(len(sdu)))
			h := pdu.Header{DC: true, SI: si, Size: e.cfg.SNSize, SN: r.SN, SO: uint16(r.SO)}
			n := pdu.Write(buf, h)
			n += copy(buf[n:], sdu[r.SO:r.SO+length])
			e.rtx.Pop()
			e.incrementRetxCount(r.SN)
			last := r.SO+length == uint32(len(sdu))
			e.applyPollBit(&h, int(length), last)
			if h.Poll {
				buf[0] |= 0x40
			}
			return n
		}

		// Partial retransmission of the prefix that fits.
		if uint32(len(buf)) <= uint32(headerLen) {
			return 0
		}
		avail := uint32(len(buf)) - uint32(headerLen)
		si := segmentInfoFor(r.SO, avail, uint32(len(sdu)))
		h := pdu.Header{DC: true, SI: si, Size: e.cfg.SNSize, SN: r.SN, SO: uint16(r.SO)}
		n := pdu.Write(buf, h)
		n += copy(buf[n:], sdu[r.SO:r.SO+avail])
		e.rtx.ReplaceFront(retx.Descriptor{SN: r.SN, SO: r.SO + avail, Length: length - avail})
		e.applyPollBit(&h, int(avail), false)
		if h.Poll {
			buf[0] |= 0x40
		}
		return n
	}
	return 0
}

func segmentInfoFor(so, length, sduLen uint32) pdu.SegmentInfo {
	switch {
	case so == 0 && length == sduLen:
		return pdu.FullSDU
	case so == 0:
		return pdu.FirstSegment
	case so+length == sduLen:
		return pdu.LastSegment
	default:
		return pdu.MiddleSegment
	}
}

func (e *Entity) incrementRetxCount(n uint32) {
	info := e.win.Get(n)
	if info == nil {
		return
	}
	if info.retxCount == retxCountNotStarted {
		info.retxCount = 0
	}
	info.retxCount++
	if e.cfg.MaxRetxThreshold > 0 && info.retxCount >= e.cfg.MaxRetxThreshold {
		e.Metrics.MaxRetxReached++
		if e.upperControl != nil {
			e.upperControl.OnMaxRetx(info.upperSN, info.hasUpperSN)
		}
	}
}

// OnStatusPDU processes a received status report (spec §4.6.5).
func (e *Entity) OnStatusPDU(p *status.PDU) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.validAckSN(p.AckSN) {
		e.Metrics.ProtocolFailure++
		e.logger.WithField("ack_sn", p.AckSN).Warn("protocol failure: invalid ACK_SN")
		if e.upperControl != nil {
			e.upperControl.OnProtocolFailure()
		}
		return
	}
	for _, n := range p.NACKs {
		if !e.validNack(p.AckSN, n) {
			e.Metrics.ProtocolFailure++
			e.logger.Warn("protocol failure: NACK SN >= ACK_SN")
			if e.upperControl != nil {
				e.upperControl.OnProtocolFailure()
			}
			return
		}
	}

	nacked := make(map[uint32]bool, len(p.NACKs))
	for _, n := range p.NACKs {
		for _, individual := range decomposeNACK(n, e.cfg.SNSize) {
			nacked[individual.SN] = true
			e.handleNACK(individual)
		}
	}

	oldAck := e.st.txNextAck
	for k := oldAck; k != p.AckSN; k = e.cfg.SNSize.Add(k, 1) {
		if nacked[k] {
			continue
		}
		info := e.win.Get(k)
		if info == nil {
			continue
		}
		if e.upperDelivery != nil {
			e.upperDelivery.OnDeliveredSDU(info.upperSN)
		}
		info.payload.Release()
		e.win.Remove(k)
	}

	// Stop t-PollRetransmit once this report has something to say about
	// POLL_SN: it rebases strictly before ACK_SN from the pre-update edge,
	// meaning it was either delivered or carried in the NACK list above.
	if e.cfg.SNSize.Rebase(e.st.pollSN, oldAck) < e.cfg.SNSize.Rebase(p.AckSN, oldAck) {
		e.stopPollRetransmitTimer()
	}

	e.st.txNextAck = p.AckSN

	e.handleChangedBufferStateLocked()
}

// decomposeNACK expands a ranged NACK into one descriptor per covered SN
// (spec §4.6.5's "decompose each NACK range into individual per-SN NACKs").
func decomposeNACK(n status.NACK, size sn.Size) []status.NACK {
	count := uint32(1)
	if n.HasRange {
		count = uint32(n.Range)
	}
	if count <= 1 {
		return []status.NACK{n}
	}
	out := make([]status.NACK, 0, count)
	for i := uint32(0); i < count; i++ {
		individual := status.NACK{SN: size.Add(n.SN, i)}
		if n.HasSO {
			switch {
			case count == 1:
				individual.HasSO = true
				individual.SOStart, individual.SOEnd = n.SOStart, n.SOEnd
			case i == 0:
				individual.HasSO = true
				individual.SOStart, individual.SOEnd = n.SOStart, status.SOEndOfSDU
			case i == count-1:
				individual.HasSO = true
				individual.SOStart, individual.SOEnd = 0, n.SOEnd
			}
		}
		out = append(out, individual)
	}
	return out
}

// handleNACK enqueues a retransmission for a single decomposed NACK (spec
// §4.6.5). Caller must hold e.mu.
func (e *Entity) handleNACK(n status.NACK) {
	if !e.insideTXWindow(n.SN) {
		return
	}
	soStart := uint32(0)
	soEnd := uint32(0xFFFF)
	if n.HasSO {
		soStart = uint32(n.SOStart)
		soEnd = uint32(n.SOEnd)
	}

	info := e.win.Get(n.SN)
	if info == nil {
		return
	}
	sduLen := uint32(info.payload.Len())
	if soEnd == 0xFFFF || soEnd >= sduLen {
		soEnd = sduLen - 1
	}
	if soStart > soEnd {
		soStart, soEnd = soEnd, soStart
	}
	length := soEnd + 1 - soStart

	if e.rtx.ContainsRange(n.SN, soStart, length) {
		return
	}
	if !e.rtx.TryPush(retx.Descriptor{SN: n.SN, SO: soStart, Length: length}) {
		e.Metrics.RetxQueueDrops++
	}
}

// onPollRetransmitExpiry implements spec §4.6.6.
func (e *Entity) onPollRetransmitExpiry() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pollRetransmitOn = false

	if e.sdus.Empty() && e.rtx.Empty() {
		candidate := e.nextPresentSN(e.st.txNextAck)
		if info := e.win.Get(candidate); info != nil {
			e.rtx.TryPush(retx.Descriptor{SN: candidate, SO: 0, Length: uint32(info.payload.Len())})
		}
	}
	e.forcePoll = true
	e.armPollRetransmitTimer()
	e.handleChangedBufferStateLocked()
}

// nextPresentSN returns the first SN >= start (modularly) still present
// in the TX window, per the Open Question decision recorded in
// DESIGN.md: "next present SN >= TX_NEXT_ACK".
func (e *Entity) nextPresentSN(start uint32) uint32 {
	k := start
	for i := uint32(0); i < e.winLen; i++ {
		if e.win.Contains(k) {
			return k
		}
		k = e.cfg.SNSize.Add(k, 1)
	}
	return start
}

func (e *Entity) stopPollRetransmitTimer() {
	e.pollRetransmitOn = false
	if e.pollRetransmitTimer != nil {
		e.pollRetransmitTimer.Stop()
	}
}

// BufferState returns the current TX buffer-state estimate (spec §4.6.7).
func (e *Entity) BufferState() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bufferStateLocked()
}

func (e *Entity) bufferStateLocked() uint32 {
	var total uint32
	if e.statusProvider != nil && e.statusProvider.StatusReportRequired() {
		total += uint32(e.statusProvider.GetStatusPDULength())
	}

	rs := e.rtx.State()
	minHdr := uint32(pdu.MinSize(e.cfg.SNSize))
	soHdr := minHdr + 2
	total += rs.RetxBytes + rs.NRetxSOZero*minHdr + rs.NRetxSONonzero*soHdr

	if e.hasSNUnderSeg {
		if info := e.win.Get(e.snUnderSegmentation); info != nil {
			remaining := uint32(info.payload.Len()) - info.nextSendOff
			total += remaining + soHdr
		}
	}

	total += e.sdus.Bytes() + uint32(e.sdus.Len())*minHdr
	return total
}

// handleChangedBufferState computes the current buffer-state estimate and
// reports it, with the HOL timestamp, to the lower-layer notifier (spec
// §4.6.7). Every call notifies synchronously; notifications are not
// coalesced, as pendingBufferState is set and cleared within one locked call.
func (e *Entity) handleChangedBufferState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handleChangedBufferStateLocked()
}

func (e *Entity) handleChangedBufferStateLocked() {
	if e.pendingBufferState {
		return
	}
	e.pendingBufferState = true
	state := e.bufferStateLocked()
	hol, hasHOL := e.sdus.HeadEnqueuedAt()
	e.pendingBufferState = false
	if e.lowerNotifier != nil {
		e.lowerNotifier.OnBufferStateUpdate(state, hol, hasHOL)
	}
}

// OnStatusReportChanged implements iface.StatusNotifier: the RX peer has
// a new or updated status report pending. TX has nothing more to do than
// surface the fact in its buffer-state estimate.
func (e *Entity) OnStatusReportChanged() {
	e.handleChangedBufferState()
}
