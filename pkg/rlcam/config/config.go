// Package config holds the per-entity configuration structs for the
// RLC-AM TX and RX entities (spec §6.6), plain value types with no
// external config-file binding (out of scope, see SPEC_FULL.md).
package config

import (
	"time"

	"github.com/srsran/gnb-rlc/pkg/rlcam/sn"
)

// TX holds the TX-AM entity's configurable parameters.
type TX struct {
	SNSize sn.Size

	// TPollRetransmit is the t-PollRetransmit timer duration.
	TPollRetransmit time.Duration

	// MaxRetxThreshold is the number of retransmissions of a given SDU at
	// which the upper layer is notified through OnMaxRetx. 0 disables the
	// check.
	MaxRetxThreshold uint32

	// PollPDU triggers a poll every PollPDU PDUs submitted to lower layers.
	// <= 0 disables the PDU-count trigger.
	PollPDU int32

	// PollByte triggers a poll once at least PollByte bytes have been
	// submitted to lower layers since the last poll. < 0 disables the byte-count trigger.
	PollByte int64

	// QueueSDUCount and QueueBytes bound the TX SDU queue; 0 means unbounded.
	QueueSDUCount uint32
	QueueBytes    uint32

	// MaxWindowSize caps the TX window below the SN-size's modulus-derived
	// maximum (sn.Size.Window()); 0 means use the SN-size default.
	MaxWindowSize uint32
}

// EffectiveWindow returns the window size to use: MaxWindowSize if set and
// smaller than the SN-size default, otherwise the SN-size default.
func (c TX) EffectiveWindow() uint32 {
	def := c.SNSize.Window()
	if c.MaxWindowSize > 0 && c.MaxWindowSize < def {
		return c.MaxWindowSize
	}
	return def
}

// RX holds the RX-AM entity's configurable parameters.
type RX struct {
	SNSize sn.Size

	// TReassembly is the t-Reassembly timer duration.
	TReassembly time.Duration

	// TStatusProhibit is the t-StatusProhibit timer duration.
	TStatusProhibit time.Duration

	// MaxStatusPDUSize caps the packed size, in bytes, of a built status
	// report; trailing NACKs are trimmed to fit (spec §4.3's Trim). 0 means
	// unbounded.
	MaxStatusPDUSize int
}
