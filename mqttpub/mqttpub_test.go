package mqttpub

import (
	"testing"

	"github.com/stretchr/testify/assert"

	basestation "github.com/lss-lora/basestation"
)

func float32ptr(f float32) *float32 { return &f }
func int8ptr(i int8) *int8          { return &i }

func TestTopicsForPacketIncludesBatteryAndPowerState(t *testing.T) {
	pkt := &basestation.MultiSensorPacket{SensorID: 3, BatteryPercent: 80, PowerState: 1}
	topics := topicsForPacket("lss", pkt)
	assert.Equal(t, "80", topics["lss/3/battery"])
	assert.Equal(t, "1", topics["lss/3/power_state"])
}

func TestTopicsForPacketOmitsMissingRssiAndSnr(t *testing.T) {
	pkt := &basestation.MultiSensorPacket{SensorID: 3}
	topics := topicsForPacket("lss", pkt)
	_, hasRSSI := topics["lss/3/rssi"]
	_, hasSNR := topics["lss/3/snr"]
	assert.False(t, hasRSSI)
	assert.False(t, hasSNR)
}

func TestTopicsForPacketIncludesRssiAndSnrWhenPresent(t *testing.T) {
	pkt := &basestation.MultiSensorPacket{SensorID: 3, RSSI: int8ptr(-72), SNR: float32ptr(8.5)}
	topics := topicsForPacket("lss", pkt)
	assert.Equal(t, "-72.0", topics["lss/3/rssi"])
	assert.Equal(t, "8.50", topics["lss/3/snr"])
}

func TestTopicsForPacketIncludesEachValueByName(t *testing.T) {
	pkt := &basestation.MultiSensorPacket{
		SensorID: 3,
		Values: []basestation.SensorValue{
			{Type: basestation.ValueTemperature, Value: 21.25},
			{Type: basestation.ValueHumidity, Value: 55},
		},
	}
	topics := topicsForPacket("lss", pkt)
	assert.Equal(t, "21.2500", topics["lss/3/temperature"])
	assert.Equal(t, "55.0000", topics["lss/3/humidity"])
}

func TestDisabledPublisherObserveIsNoop(t *testing.T) {
	p := New(Config{Enabled: false})
	assert.NotPanics(t, func() {
		p.Observe(&basestation.MultiSensorPacket{SensorID: 1})
		p.PublishOnlineStatus(1, true)
		p.Close()
	})
}
