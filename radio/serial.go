package radio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
)

// openSerialPort opens the UART the LoRa modem's host-interface board is
// attached to. Lifted directly from the teacher's NewSerialPHY — the LoRa
// modem in this deployment, like the SMac radio it's modeled on, exposes
// itself to the host as a plain byte-stream serial device.
func openSerialPort(path string, baud uint) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              path,
		BaudRate:              baud,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
		MinimumReadSize:       1,
	}
	return serial.Open(opts)
}

// SerialTransport is the hardware-backed Radio: frames are exchanged over
// a UART, assembled from the raw byte stream by scanning for one of the
// three sync words, the way the teacher's npiPhyReader scans for SMac's
// 0xAE/0xBA start characters — except here a frame's total length is
// computable from its sync word (and, for multi-sensor frames, the
// value_count byte), so whole frames are extracted directly rather than
// walked byte-by-byte against a checksum.
type SerialTransport struct {
	phy    io.ReadWriteCloser
	params Params
	log    *logrus.Logger

	recvCh chan Reception
	sendCh chan []byte

	mu      sync.Mutex
	fault   error
	done    chan struct{}
	closeCh chan struct{}
}

// NewSerialTransport opens the serial port at path/baud and starts the
// reader/writer goroutines. There is no separate promiscuous switch: every
// frame assembled from the byte stream is delivered to Receive whatever its
// target id, which is the reception behavior lora_manager.py gets from
// setting self._radio.promiscuous = True.
func NewSerialTransport(path string, baud uint, params Params, log *logrus.Logger) (*SerialTransport, error) {
	phy, err := openSerialPort(path, baud)
	if err != nil {
		return nil, fmt.Errorf("radio: open serial port %s: %w", path, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &SerialTransport{
		phy:     phy,
		params:  params,
		log:     log,
		recvCh:  make(chan Reception, 8),
		sendCh:  make(chan []byte, 8),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go t.readLoop()
	go t.writeLoop()
	return t, nil
}

func (t *SerialTransport) readLoop() {
	acc := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := t.phy.Read(buf)
		if err != nil {
			t.fail(fmt.Errorf("radio: serial read: %w", err))
			return
		}
		acc = append(acc, buf[:n]...)
		for {
			if len(acc) < 2 {
				break
			}
			sync := binary.LittleEndian.Uint16(acc)
			if !isKnownSync(sync) {
				acc = acc[1:] // resync: drop one byte and keep looking
				continue
			}
			total, ok := frameTotalLen(acc)
			if !ok {
				break // need more bytes (multi-sensor value_count not in yet)
			}
			if len(acc) < total {
				break // have a valid sync but the frame isn't complete yet
			}
			frame := make([]byte, total)
			copy(frame, acc[:total])
			acc = acc[total:]
			select {
			case t.recvCh <- Reception{Frame: frame}:
			case <-t.closeCh:
				return
			}
		}
	}
}

func (t *SerialTransport) writeLoop() {
	for {
		select {
		case <-t.closeCh:
			return
		case frame := <-t.sendCh:
			if _, err := t.phy.Write(frame); err != nil {
				t.fail(fmt.Errorf("radio: serial write: %w", err))
				return
			}
		}
	}
}

func (t *SerialTransport) fail(err error) {
	t.mu.Lock()
	if t.fault == nil {
		t.fault = err
	}
	t.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func isKnownSync(sync uint16) bool {
	switch sync {
	case basestation.SyncLegacy, basestation.SyncMulti, basestation.SyncCommand:
		return true
	default:
		return false
	}
}

// frameTotalLen reports the total byte length of the frame starting at
// buf[0], given only its sync word (and, for multi-sensor frames, the
// value_count byte once enough of the buffer has arrived). ok is false
// when more bytes are needed before the length can be determined.
func frameTotalLen(buf []byte) (total int, ok bool) {
	sync := binary.LittleEndian.Uint16(buf)
	switch sync {
	case basestation.SyncLegacy:
		return 19, true
	case basestation.SyncCommand:
		return 200, true
	case basestation.SyncMulti:
		const headerLen = 60
		if len(buf) < 7 {
			return 0, false
		}
		vc := int(buf[6])
		if vc > 16 {
			vc = 16
		}
		return headerLen + vc*5 + 2, true
	default:
		return 0, false
	}
}

// Receive blocks for up to timeout for a frame to arrive.
func (t *SerialTransport) Receive(ctx context.Context, timeout time.Duration) (Reception, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Reception{}, ctx.Err()
	case <-t.done:
		t.mu.Lock()
		err := t.fault
		t.mu.Unlock()
		return Reception{}, err
	case <-timer.C:
		return Reception{}, ErrTimeout
	case r := <-t.recvCh:
		return r, nil
	}
}

// Send transmits one already-serialized frame.
func (t *SerialTransport) Send(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		t.mu.Lock()
		err := t.fault
		t.mu.Unlock()
		return err
	case t.sendCh <- frame:
		return nil
	}
}

// Status reports the currently configured radio parameters as hardware-backed.
func (t *SerialTransport) Status() Status {
	return Status{
		Available:       true,
		Mode:            "hardware",
		FrequencyMHz:    t.params.FrequencyMHz,
		SpreadingFactor: t.params.SpreadingFactor,
		BandwidthHz:     t.params.BandwidthHz,
		TXPowerDBm:      t.params.TXPowerDBm,
	}
}

// Close stops both goroutines and closes the serial port.
func (t *SerialTransport) Close() error {
	select {
	case <-t.closeCh:
	default:
		close(t.closeCh)
	}
	return t.phy.Close()
}
