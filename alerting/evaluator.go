package alerting

import (
	"fmt"

	"github.com/sirupsen/logrus"

	basestation "github.com/lss-lora/basestation"
)

// Thresholds are the per-node alert boundaries an external admin config
// collaborator supplies. Grounded on alerts.py's threshold checks inside
// lora_manager.py's packet-dispatch path (temp/battery comparisons against
// config_storage.py-sourced values).
type Thresholds struct {
	TempLow         float32
	TempHigh        float32
	BatteryLow      float32
	BatteryCritical float32
}

// NodeThresholds is the narrow lookup surface the alerting package needs
// from whatever external system owns per-node configuration (the admin
// JSON config store, out of core scope). Returns ok == false for a node
// with no configured thresholds, in which case no evaluation happens.
type NodeThresholds interface {
	Thresholds(nodeID uint8) (Thresholds, bool)
}

// Evaluator is a gateway.Observer that checks every ingested packet's
// temperature and battery readings against that node's configured
// thresholds and raises a rate-limited Alerter.Send on breach.
type Evaluator struct {
	alerter    *Alerter
	thresholds NodeThresholds
	log        *logrus.Logger
}

// NewEvaluator constructs an Evaluator. logger may be nil, in which case
// logrus.StandardLogger() is used.
func NewEvaluator(alerter *Alerter, thresholds NodeThresholds, logger *logrus.Logger) *Evaluator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Evaluator{alerter: alerter, thresholds: thresholds, log: logger}
}

// Observe implements gateway.Observer.
func (e *Evaluator) Observe(pkt *basestation.MultiSensorPacket) {
	th, ok := e.thresholds.Thresholds(pkt.SensorID)
	if !ok {
		return
	}

	for _, v := range pkt.Values {
		if v.Type != basestation.ValueTemperature {
			continue
		}
		switch {
		case v.Value <= th.TempLow:
			e.raise(pkt.SensorID, "temp_low", fmt.Sprintf("Node %d temperature %.1f°C is at or below its low threshold of %.1f°C", pkt.SensorID, v.Value, th.TempLow))
		case v.Value >= th.TempHigh:
			e.raise(pkt.SensorID, "temp_high", fmt.Sprintf("Node %d temperature %.1f°C is at or above its high threshold of %.1f°C", pkt.SensorID, v.Value, th.TempHigh))
		}
	}

	battery := float32(pkt.BatteryPercent)
	switch {
	case battery <= th.BatteryCritical:
		e.raise(pkt.SensorID, "battery_critical", fmt.Sprintf("Node %d battery %d%% is at or below its critical threshold of %.0f%%", pkt.SensorID, pkt.BatteryPercent, th.BatteryCritical))
	case battery <= th.BatteryLow:
		e.raise(pkt.SensorID, "battery_low", fmt.Sprintf("Node %d battery %d%% is at or below its low threshold of %.0f%%", pkt.SensorID, pkt.BatteryPercent, th.BatteryLow))
	}
}

func (e *Evaluator) raise(nodeID uint8, kind, body string) {
	key := fmt.Sprintf("node_%d_%s", nodeID, kind)
	e.log.WithFields(logrus.Fields{"node_id": nodeID, "alert": kind}).Warn(body)
	e.alerter.Send(fmt.Sprintf("LSS alert: node %d %s", nodeID, kind), body, key)
}
