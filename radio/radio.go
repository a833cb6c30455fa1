// Package radio abstracts the physical LoRa transceiver behind a small
// interface, the same way the teacher abstracts the SMac PHY behind
// io.ReadWriteCloser — so the gateway can run against a real UART-attached
// modem or a stub/fake harness without changing a line of dispatch logic.
package radio

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Receive when no frame arrived within the
// requested timeout. It is not a fault — the RX loop treats it as the
// expected common case and loops back around.
var ErrTimeout = errors.New("radio: receive timeout")

// Reception carries a single received frame plus its radio metadata.
type Reception struct {
	Frame []byte
	RSSI  *int8
	SNR   *float32
}

// Radio is the physical-layer contract the gateway depends on. A real
// implementation talks to hardware; Stub satisfies it without any.
type Radio interface {
	// Receive blocks for up to timeout waiting for one frame. It returns
	// ErrTimeout (not a fault) if none arrived in that window.
	Receive(ctx context.Context, timeout time.Duration) (Reception, error)
	// Send transmits one already-serialized frame.
	Send(ctx context.Context, frame []byte) error
	// Status reports whether real hardware backs this Radio and its
	// active parameters, mirroring lora_manager.py's radio_status property.
	Status() Status
	// Close releases the underlying transport.
	Close() error
}

// Status is the radio_status-equivalent surface the api package exposes.
type Status struct {
	Available      bool
	Mode           string // "stub" or "hardware"
	FrequencyMHz   float64
	SpreadingFactor uint8
	BandwidthHz    uint32
	TXPowerDBm     uint8
}

// Params configures a Radio's on-air parameters. They are set at
// construction time and are not changed afterwards.
type Params struct {
	FrequencyMHz    float64
	SpreadingFactor uint8
	BandwidthHz     uint32
	CodingRate      uint8
	TXPowerDBm      uint8
	PreambleLen     uint8
	NetworkID       uint16
}
