package radio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePort is a minimal io.ReadWriteCloser test harness, modeled on the
// teacher's TestLink: canned bytes trickle out of Read, and Write is
// captured for assertions instead of hitting real hardware.
type fakePort struct {
	mu     sync.Mutex
	canned []byte
	wake   chan struct{}
	closed bool
	writes [][]byte
}

func newFakePort(canned []byte) *fakePort {
	return &fakePort{canned: canned, wake: make(chan struct{}, 1)}
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	for len(f.canned) == 0 && !f.closed {
		f.mu.Unlock()
		<-f.wake
		f.mu.Lock()
	}
	if f.closed {
		f.mu.Unlock()
		return 0, errors.New("fakePort closed")
	}
	n := copy(p, f.canned)
	f.canned = f.canned[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), p...)
	f.writes = append(f.writes, cp)
	return len(p), nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	select {
	case f.wake <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakePort) feed(b []byte) {
	f.mu.Lock()
	f.canned = append(f.canned, b...)
	f.mu.Unlock()
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func newTestTransport(t *testing.T, canned []byte) (*SerialTransport, *fakePort) {
	t.Helper()
	port := newFakePort(canned)
	tr := &SerialTransport{
		phy:     port,
		recvCh:  make(chan Reception, 8),
		sendCh:  make(chan []byte, 8),
		done:    make(chan struct{}),
		closeCh: make(chan struct{}),
	}
	go tr.readLoop()
	go tr.writeLoop()
	t.Cleanup(func() { tr.Close() })
	return tr, port
}

func TestFrameTotalLen(t *testing.T) {
	legacy := []byte{0x34, 0x12}
	n, ok := frameTotalLen(legacy)
	require.True(t, ok)
	assert.Equal(t, 19, n)

	cmd := []byte{0xEF, 0xCD}
	n, ok = frameTotalLen(cmd)
	require.True(t, ok)
	assert.Equal(t, 200, n)

	multiNeedsMore := []byte{0xCD, 0xAB, 0, 0, 0, 0}
	_, ok = frameTotalLen(multiNeedsMore)
	assert.False(t, ok)

	multi := []byte{0xCD, 0xAB, 0, 0, 0, 0, 2}
	n, ok = frameTotalLen(multi)
	require.True(t, ok)
	assert.Equal(t, 60+2*5+2, n)
}

func TestSerialTransportAssemblesFrameAcrossReads(t *testing.T) {
	// A legacy frame split across two Read() calls, preceded by noise
	// that must be resynchronized past.
	full := make([]byte, 19)
	full[0], full[1] = 0x34, 0x12

	tr, port := newTestTransport(t, []byte{0xFF, 0xFF})
	port.feed(full[:10])
	port.feed(full[10:])

	ctx := context.Background()
	r, err := tr.Receive(ctx, time.Second)
	require.NoError(t, err)
	assert.Len(t, r.Frame, 19)
}

func TestSerialTransportReceiveTimesOut(t *testing.T) {
	tr, _ := newTestTransport(t, nil)
	ctx := context.Background()
	_, err := tr.Receive(ctx, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSerialTransportSend(t *testing.T) {
	tr, port := newTestTransport(t, nil)
	frame := []byte{0xEF, 0xCD, 0x00}
	require.NoError(t, tr.Send(context.Background(), frame))

	deadline := time.After(time.Second)
	for {
		port.mu.Lock()
		n := len(port.writes)
		port.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for write")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
