// Package config holds the explicit, construction-time configuration
// records spec.md §9 asks for in place of process-wide mutable state:
// one struct for the decoder core (C1-C7) and one for the SWT server
// (C8/C9). Nothing in this module reads a flag or an environment
// variable directly; cmd/dqr and cmd/swtserver parse argv into these
// structs and pass them down.
package config

import "time"

// Decoder configures the slice parser and trace engine for one stream.
type Decoder struct {
	// SrcBits is the hart-id field width; 0 implies single-hart.
	SrcBits int
	// TsSizeBits is the timestamp field width used for wrap detection
	// (spec.md §4.8). 0 disables wrap correction.
	TsSizeBits int
	// Frequency, when non-zero, converts accumulated ticks to seconds
	// (Engine.TimestampSeconds); cmd/dqr then prints record timestamps
	// in seconds (spec.md §4.8 "Frequency, if configured").
	Frequency uint64
	// ITCPrintChannel restricts ITC byte accumulation to one channel
	// address; HaveITCPrintChannel false means every write is printable.
	ITCPrintChannel    uint64
	HaveITCPrintChannel bool
	// NoLoadStrings enables direct format-string resolution for ITC
	// writes whose address matches a pre-registered FormatString.
	NoLoadStrings []FormatString
	// ITCRingCapacity bounds the per-hart in-progress ITC line buffer.
	ITCRingCapacity int
}

// FormatString mirrors itc.FormatString without importing internal/itc,
// so config stays a leaf package. No command in this module fills
// NoLoadStrings or converts it to itc.FormatString.
type FormatString struct {
	Address  uint64
	Format   string
	SignMask uint32
	ArgCount int
}

// SWT configures the serial-to-TCP fan-out server (C8/C9).
type SWT struct {
	Device   string
	Port     int
	Baud     int
	SrcBits  int
	AutoExit bool
	Pthread  bool
	Debug    bool

	// HighWaterBytes is the per-client send-queue backpressure
	// threshold (spec.md §4.9, "≈ 512 KiB").
	HighWaterBytes int
	// ReconnectInterval is the serial-reconnect poll cadence (spec.md
	// §4.9 "polls for reconnect on a configurable cadence").
	ReconnectInterval time.Duration
	// SerialChunkBytes bounds a single serial read (spec.md §4.9
	// "reads up to a fixed chunk").
	SerialChunkBytes int

	// ITCPrintChannel, when HaveITCPrintChannel is set, restricts the
	// server's live ITC decode under -d to that one channel address;
	// otherwise every channel is decoded. Decoded text goes to the log
	// (SPEC_FULL.md §7 "itcPrintChannel live decode").
	ITCPrintChannel     uint64
	HaveITCPrintChannel bool
}

const (
	DefaultHighWaterBytes   = 512 * 1024
	DefaultReconnectInterval = time.Second
	DefaultSerialChunkBytes = 4096
)

// DefaultSWT returns an SWT config with spec.md §4.9's defaults filled
// in, ready for flag overrides.
func DefaultSWT() SWT {
	return SWT{
		HighWaterBytes:    DefaultHighWaterBytes,
		ReconnectInterval: DefaultReconnectInterval,
		SerialChunkBytes:  DefaultSerialChunkBytes,
	}
}
