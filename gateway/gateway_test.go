package gateway

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	basestation "github.com/lss-lora/basestation"
	"github.com/lss-lora/basestation/queue"
	"github.com/lss-lora/basestation/radio"
	"github.com/lss-lora/basestation/store"
)

// fakeRadio is a programmable radio.Radio: Receive drains a preloaded
// queue of frames before idling out, Send just records what it was given.
type fakeRadio struct {
	mu      sync.Mutex
	pending [][]byte
	sent    [][]byte
	sendErr error
}

func (f *fakeRadio) Receive(ctx context.Context, timeout time.Duration) (radio.Reception, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		frame := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return radio.Reception{Frame: frame}, nil
	}
	f.mu.Unlock()
	select {
	case <-ctx.Done():
		return radio.Reception{}, ctx.Err()
	case <-time.After(timeout):
		return radio.Reception{}, radio.ErrTimeout
	}
}

func (f *fakeRadio) Send(ctx context.Context, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, frame)
	return f.sendErr
}

func (f *fakeRadio) Status() radio.Status { return radio.Status{Mode: "fake"} }
func (f *fakeRadio) Close() error         { return nil }

func (f *fakeRadio) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func buildMultiFrame(t *testing.T, sensorID, battery uint8, values []basestation.SensorValue) []byte {
	t.Helper()
	header := make([]byte, 60)
	binary.LittleEndian.PutUint16(header[0:2], basestation.SyncMulti)
	binary.LittleEndian.PutUint16(header[2:4], 7) // network id
	header[4] = 0                                 // packet type
	header[5] = sensorID
	header[6] = uint8(len(values))
	header[7] = battery
	header[8] = 1 // power state
	header[9] = 0 // last command seq
	header[10] = 0
	// header[11] reserved pad, header[12:44] location, header[44:60] zone
	// left zero (empty strings)

	body := append([]byte(nil), header...)
	for _, v := range values {
		entry := make([]byte, 5)
		entry[0] = byte(v.Type)
		binary.LittleEndian.PutUint32(entry[1:5], math.Float32bits(v.Value))
		body = append(body, entry...)
	}
	crc := basestation.CRC16(body)
	crcBytes := make([]byte, 2)
	binary.LittleEndian.PutUint16(crcBytes, crc)
	return append(body, crcBytes...)
}

func buildLegacyFrame(t *testing.T, sensorID uint8, temp, humidity float32, battery uint8, rssi int8) []byte {
	t.Helper()
	buf := make([]byte, 19)
	binary.LittleEndian.PutUint16(buf[0:2], basestation.SyncLegacy)
	buf[2] = sensorID
	binary.LittleEndian.PutUint16(buf[3:5], 7)
	binary.LittleEndian.PutUint32(buf[5:9], math.Float32bits(temp))
	binary.LittleEndian.PutUint32(buf[9:13], math.Float32bits(humidity))
	buf[13] = battery
	buf[14] = byte(rssi)
	binary.LittleEndian.PutUint32(buf[15:19], math.Float32bits(-90))
	return buf
}

func newTestGateway(t *testing.T, fr *fakeRadio) (*Gateway, *store.Store, *queue.Queue) {
	t.Helper()
	st := store.New(store.Config{})
	t.Cleanup(func() { st.Close() })
	q := queue.New(queue.Config{})
	gw := New(Config{
		Radio:          fr,
		Store:          st,
		Queue:          q,
		ReceiveTimeout: 10 * time.Millisecond,
		TXInterval:     5 * time.Millisecond,
	})
	return gw, st, q
}

func TestDispatchIngestsMultiAndNotifiesObservers(t *testing.T) {
	fr := &fakeRadio{}
	gw, st, _ := newTestGateway(t, fr)

	var got *basestation.MultiSensorPacket
	var mu sync.Mutex
	done := make(chan struct{})
	gw.RegisterObserver(ObserverFunc(func(pkt *basestation.MultiSensorPacket) {
		mu.Lock()
		got = pkt
		mu.Unlock()
		close(done)
	}))

	frame := buildMultiFrame(t, 5, 80, []basestation.SensorValue{{Type: basestation.ValueTemperature, Value: 21.5}})
	gw.dispatch(radio.Reception{Frame: frame})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer never notified")
	}
	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, uint8(5), got.SensorID)

	node, ok := st.GetNode(5)
	require.True(t, ok)
	assert.Equal(t, float32(21.5), node.Values[basestation.ValueTemperature])
}

func TestDeregisterObserverStopsNotifications(t *testing.T) {
	fr := &fakeRadio{}
	gw, _, _ := newTestGateway(t, fr)

	var calls int
	var mu sync.Mutex
	h := gw.RegisterObserver(ObserverFunc(func(pkt *basestation.MultiSensorPacket) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	gw.DeregisterObserver(h)

	frame := buildMultiFrame(t, 5, 80, []basestation.SensorValue{{Type: basestation.ValueTemperature, Value: 21.5}})
	gw.dispatch(radio.Reception{Frame: frame})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}

func TestDispatchIngestsLegacyAndSynthesizesObserverEvent(t *testing.T) {
	fr := &fakeRadio{}
	gw, st, _ := newTestGateway(t, fr)

	done := make(chan *basestation.MultiSensorPacket, 1)
	gw.RegisterObserver(ObserverFunc(func(pkt *basestation.MultiSensorPacket) { done <- pkt }))

	frame := buildLegacyFrame(t, 3, 19.5, 45.0, 70, -80)
	gw.dispatch(radio.Reception{Frame: frame})

	select {
	case pkt := <-done:
		assert.Equal(t, uint8(3), pkt.SensorID)
		require.Len(t, pkt.Values, 2)
	case <-time.After(time.Second):
		t.Fatal("observer never notified of synthesized legacy event")
	}

	node, ok := st.GetNode(3)
	require.True(t, ok)
	assert.Equal(t, float32(19.5), node.Values[basestation.ValueTemperature])
	assert.Equal(t, float32(45.0), node.Values[basestation.ValueHumidity])
}

func TestDispatchProcessesAck(t *testing.T) {
	fr := &fakeRadio{}
	gw, _, q := newTestGateway(t, fr)

	seq := q.EnqueuePing(9)
	frame, err := basestation.BuildCommand(basestation.CmdAck, 9, seq, nil)
	require.NoError(t, err)

	gw.dispatch(radio.Reception{Frame: frame})
	assert.Nil(t, q.NextDue())
}

func TestDispatchHandlesSensorAnnounceByQueuingBaseWelcome(t *testing.T) {
	fr := &fakeRadio{}
	gw, _, q := newTestGateway(t, fr)

	frame, err := basestation.BuildCommand(basestation.CmdSensorAnnounce, 4, 1, nil)
	require.NoError(t, err)

	gw.dispatch(radio.Reception{Frame: frame})

	pending := q.PendingForNode(4)
	require.Len(t, pending, 1)
	assert.Equal(t, basestation.CmdBaseWelcome, pending[0].CommandType)
}

func TestMaybeSendTimeSyncQueuesForOnlineNode(t *testing.T) {
	fr := &fakeRadio{}
	gw, st, q := newTestGateway(t, fr)
	gw.cfg.TimeSyncInterval = time.Millisecond
	gw.lastTimeSync = time.Now().Add(-time.Hour)

	frame := buildMultiFrame(t, 6, 50, nil)
	require.NoError(t, st.IngestMulti(mustParseMulti(t, frame)))

	gw.maybeSendTimeSync()

	pending := q.PendingForNode(6)
	require.Len(t, pending, 1)
	assert.Equal(t, basestation.CmdTimeSync, pending[0].CommandType)
}

func mustParseMulti(t *testing.T, frame []byte) *basestation.MultiSensorPacket {
	t.Helper()
	pkt, err := basestation.ParseMulti(frame, nil, nil)
	require.NoError(t, err)
	return pkt
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fr := &fakeRadio{}
	gw, _, _ := newTestGateway(t, fr)
	ctx, cancel := context.WithCancel(context.Background())

	runDone := make(chan struct{})
	go func() {
		gw.Run(ctx)
		close(runDone)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestTXLoopSendsDueCommand(t *testing.T) {
	fr := &fakeRadio{}
	gw, _, q := newTestGateway(t, fr)
	q.EnqueuePing(1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go gw.txLoop(ctx)

	require.Eventually(t, func() bool {
		return len(fr.sentFrames()) > 0
	}, time.Second, 5*time.Millisecond)
}
