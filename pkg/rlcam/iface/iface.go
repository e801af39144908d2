// Package iface collects the small collaborator interfaces that couple
// the TX and RX AM entities to each other and to the upper/lower layers
// (spec §6.5, §9 "Cyclic back-references"). Each entity holds a thin
// reference-typed handle to the other's published surface rather than
// owning it; the bearer that constructs both outlives them.
package iface

import (
	"time"

	"github.com/srsran/gnb-rlc/pkg/rlcam/status"
)

// StatusProvider is the RX entity's surface exposed to its TX peer.
type StatusProvider interface {
	GetStatusPDU() *status.PDU
	GetStatusPDULength() int
	StatusReportRequired() bool
}

// StatusHandler is the TX entity's surface for receiving a parsed status
// PDU from its RX peer.
type StatusHandler interface {
	OnStatusPDU(p *status.PDU)
}

// StatusNotifier is the TX entity's surface for being told that the RX
// peer's stored status report has changed or become due.
type StatusNotifier interface {
	OnStatusReportChanged()
}

// UpperDataSink receives reassembled SDUs from the RX entity, in order.
type UpperDataSink interface {
	OnNewSDU(payload []byte)
}

// UpperControlNotifier receives TX-side protocol events.
type UpperControlNotifier interface {
	OnProtocolFailure()
	OnMaxRetx(upperSN uint32, hasUpperSN bool)
}

// UpperDeliveryNotifier is told when a submitted SDU has been fully ACKed.
type UpperDeliveryNotifier interface {
	OnDeliveredSDU(upperSN uint32)
}

// LowerBufferStateNotifier receives TX buffer-state updates for the
// scheduler (MAC) to consume. holTimestamp is the arrival time of the
// oldest unsent SDU at the head of the TX queue; hasHOLTimestamp is false
// when the queue is empty and there is nothing to date (spec §6.5
// "on_buffer_state_update", optional HOL-timestamp parameter).
type LowerBufferStateNotifier interface {
	OnBufferStateUpdate(bytes uint32, holTimestamp time.Time, hasHOLTimestamp bool)
}
