package alerting

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	basestation "github.com/lss-lora/basestation"
)

type fakeThresholds struct {
	byNode map[uint8]Thresholds
}

func (f fakeThresholds) Thresholds(nodeID uint8) (Thresholds, bool) {
	th, ok := f.byNode[nodeID]
	return th, ok
}

func newCountingTeamsServer(t *testing.T) (*httptest.Server, func() int) {
	t.Helper()
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return hits
	}
}

func TestEvaluatorRaisesOnTemperatureHighBreach(t *testing.T) {
	srv, count := newCountingTeamsServer(t)
	defer srv.Close()
	a := New(Config{TeamsWebhookURL: srv.URL, RateLimit: time.Hour})
	ev := NewEvaluator(a, fakeThresholds{byNode: map[uint8]Thresholds{
		5: {TempLow: -10, TempHigh: 30, BatteryLow: 20, BatteryCritical: 10},
	}}, nil)

	ev.Observe(&basestation.MultiSensorPacket{
		SensorID:       5,
		BatteryPercent: 80,
		Values:         []basestation.SensorValue{{Type: basestation.ValueTemperature, Value: 35}},
	})

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEvaluatorIgnoresNodeWithoutThresholds(t *testing.T) {
	srv, count := newCountingTeamsServer(t)
	defer srv.Close()
	a := New(Config{TeamsWebhookURL: srv.URL})
	ev := NewEvaluator(a, fakeThresholds{byNode: map[uint8]Thresholds{}}, nil)

	ev.Observe(&basestation.MultiSensorPacket{
		SensorID: 9,
		Values:   []basestation.SensorValue{{Type: basestation.ValueTemperature, Value: 999}},
	})

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, count())
}

func TestEvaluatorRaisesOnBatteryCriticalBreach(t *testing.T) {
	srv, count := newCountingTeamsServer(t)
	defer srv.Close()
	a := New(Config{TeamsWebhookURL: srv.URL, RateLimit: time.Hour})
	ev := NewEvaluator(a, fakeThresholds{byNode: map[uint8]Thresholds{
		2: {TempLow: -10, TempHigh: 60, BatteryLow: 20, BatteryCritical: 10},
	}}, nil)

	ev.Observe(&basestation.MultiSensorPacket{SensorID: 2, BatteryPercent: 5})

	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEvaluatorDoesNotDoubleAlertWithinRateLimit(t *testing.T) {
	srv, count := newCountingTeamsServer(t)
	defer srv.Close()
	a := New(Config{TeamsWebhookURL: srv.URL, RateLimit: time.Hour})
	ev := NewEvaluator(a, fakeThresholds{byNode: map[uint8]Thresholds{
		2: {TempLow: -10, TempHigh: 60, BatteryLow: 20, BatteryCritical: 10},
	}}, nil)

	ev.Observe(&basestation.MultiSensorPacket{SensorID: 2, BatteryPercent: 5})
	ev.Observe(&basestation.MultiSensorPacket{SensorID: 2, BatteryPercent: 4})

	require.Eventually(t, func() bool { return count() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, count())
}
