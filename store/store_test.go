package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	basestation "github.com/lss-lora/basestation"
)

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	s := New(cfg)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestIngestMultiCreatesNode(t *testing.T) {
	s := newTestStore(t, Config{})
	pkt := &basestation.MultiSensorPacket{
		SensorID:       3,
		BatteryPercent: 80,
		Location:       "Garage",
		Zone:           "Zone1",
		Values: []basestation.SensorValue{
			{Type: basestation.ValueTemperature, Value: 21.0},
		},
	}
	require.NoError(t, s.IngestMulti(pkt))

	node, ok := s.GetNode(3)
	require.True(t, ok)
	assert.Equal(t, "Garage", node.Location)
	assert.Equal(t, uint8(80), node.BatteryPercent)
	assert.True(t, node.Online)
	assert.InDelta(t, 21.0, node.Values[basestation.ValueTemperature], 0.001)
	assert.Len(t, node.History, 1)
}

func TestIngestMultiRejectsReservedNode(t *testing.T) {
	s := newTestStore(t, Config{})
	err := s.IngestMulti(&basestation.MultiSensorPacket{SensorID: basestation.NodeBroadcast})
	assert.ErrorIs(t, err, basestation.ErrReservedNode)
	assert.Equal(t, 0, s.NodeCount())
}

func TestIngestMultiEnforcesPopulationCap(t *testing.T) {
	s := newTestStore(t, Config{MaxNodes: 2})
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1}))
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 2}))
	err := s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 3})
	assert.ErrorIs(t, err, basestation.ErrPopulationExceeded)
	assert.Equal(t, 2, s.NodeCount())
}

func TestIngestMultiPreservesLocationWhenPacketOmitsIt(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1, Location: "Attic"}))
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1, Location: ""}))

	node, ok := s.GetNode(1)
	require.True(t, ok)
	assert.Equal(t, "Attic", node.Location)
}

func TestIngestLegacyMapsTemperatureAndHumidity(t *testing.T) {
	s := newTestStore(t, Config{})
	pkt := &basestation.LegacyPacket{SensorID: 5, Temperature: 19.5, Humidity: 44.0, Battery: 90}
	require.NoError(t, s.IngestLegacy(pkt, nil, nil))

	node, ok := s.GetNode(5)
	require.True(t, ok)
	assert.InDelta(t, 19.5, node.Values[basestation.ValueTemperature], 0.001)
	assert.InDelta(t, 44.0, node.Values[basestation.ValueHumidity], 0.001)
}

func TestHistoryRingIsBounded(t *testing.T) {
	s := newTestStore(t, Config{HistoryCap: 3})
	for i := 0; i < 5; i++ {
		require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1, BatteryPercent: uint8(i)}))
	}
	node, ok := s.GetNode(1)
	require.True(t, ok)
	require.Len(t, node.History, 3)
	// The ring keeps the most recent points: the last ingest set battery=4.
	assert.Equal(t, uint8(4), node.History[len(node.History)-1].BatteryPercent)
}

func TestWatchdogMarksNodeOffline(t *testing.T) {
	s := newTestStore(t, Config{OfflineTimeout: 10 * time.Millisecond, WatchdogInterval: 5 * time.Millisecond})
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1}))

	require.Eventually(t, func() bool {
		node, ok := s.GetNode(1)
		return ok && !node.Online
	}, time.Second, 5*time.Millisecond)
}

func TestWatchdogHonorsZeroOfflineTimeout(t *testing.T) {
	// A zero OfflineTimeout must be honored literally, not coerced to the
	// package default: any node is offline the instant the watchdog ticks.
	s := newTestStore(t, Config{OfflineTimeout: 0, WatchdogInterval: 5 * time.Millisecond})
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1}))

	require.Eventually(t, func() bool {
		node, ok := s.GetNode(1)
		return ok && !node.Online
	}, time.Second, 5*time.Millisecond)
}

func TestGetAllNodesReturnsIndependentCopies(t *testing.T) {
	s := newTestStore(t, Config{})
	require.NoError(t, s.IngestMulti(&basestation.MultiSensorPacket{SensorID: 1, BatteryPercent: 50}))

	nodes := s.GetAllNodes()
	require.Len(t, nodes, 1)
	nodes[0].BatteryPercent = 0 // mutating the snapshot must not affect the store

	node, ok := s.GetNode(1)
	require.True(t, ok)
	assert.Equal(t, uint8(50), node.BatteryPercent)
}
