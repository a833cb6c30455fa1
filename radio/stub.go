package radio

import (
	"context"
	"time"
)

// Stub is the "no hardware present" Radio, grounded on lora_manager.py's
// behavior when LoRaManager._radio is None: the gateway's RX/TX loops keep
// running on schedule, Receive always idles out, and Send is a no-op. This
// lets the rest of the base station (store, queue, dispatcher, api) run
// and be exercised in tests or in environments with no modem attached.
type Stub struct {
	params Params
}

// NewStub constructs a Stub reporting the given nominal parameters.
func NewStub(params Params) *Stub {
	return &Stub{params: params}
}

// Receive always blocks for the full timeout and then reports ErrTimeout,
// the same cadence a real radio imposes while idle.
func (s *Stub) Receive(ctx context.Context, timeout time.Duration) (Reception, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Reception{}, ctx.Err()
	case <-t.C:
		return Reception{}, ErrTimeout
	}
}

// Send discards the frame; there is no transport to put it on.
func (s *Stub) Send(ctx context.Context, frame []byte) error {
	return nil
}

// Status reports Available: false, Mode: "stub".
func (s *Stub) Status() Status {
	return Status{
		Available:       false,
		Mode:            "stub",
		FrequencyMHz:    s.params.FrequencyMHz,
		SpreadingFactor: s.params.SpreadingFactor,
		BandwidthHz:     s.params.BandwidthHz,
		TXPowerDBm:      s.params.TXPowerDBm,
	}
}

// Close is a no-op.
func (s *Stub) Close() error { return nil }
