package queue

import (
	"encoding/binary"
	"math"

	basestation "github.com/lss-lora/basestation"
)

// This file builds the command-specific 192-byte data payloads, grounded
// on remote_config.py's enqueue_* helpers. Each returns the Data passed to
// Enqueue; BuildCommand zero-pads it out to the full 192-byte area.

// EnqueuePing queues a liveness check with no payload.
func (q *Queue) EnqueuePing(nodeID uint8) uint8 {
	return q.Enqueue(nodeID, basestation.CmdPing, nil)
}

// EnqueueGetConfig queues a request for the node to report its current config.
func (q *Queue) EnqueueGetConfig(nodeID uint8) uint8 {
	return q.Enqueue(nodeID, basestation.CmdGetConfig, nil)
}

// EnqueueSetInterval queues a telemetry-interval change, in milliseconds.
func (q *Queue) EnqueueSetInterval(nodeID uint8, intervalMs uint32) uint8 {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, intervalMs)
	return q.Enqueue(nodeID, basestation.CmdSetInterval, data)
}

// EnqueueSetLocation queues a location/zone update. Each field is encoded
// into its own fixed-width, NUL-terminated, zero-padded slot (32 bytes for
// location, 16 for zone) via basestation.PadNulField — truncating and
// single-NUL-appending without zero-padding the remainder of a short field
// would leave stale bytes from whatever occupied that memory, which is not
// what a fixed-width wire field is for.
func (q *Queue) EnqueueSetLocation(nodeID uint8, location, zone string) uint8 {
	data := make([]byte, 0, 48)
	data = append(data, basestation.PadNulField(location, 32)...)
	data = append(data, basestation.PadNulField(zone, 16)...)
	return q.Enqueue(nodeID, basestation.CmdSetLocation, data)
}

// EnqueueSetTempThreshold queues a temperature alert threshold update.
func (q *Queue) EnqueueSetTempThreshold(nodeID uint8, low, high float32) uint8 {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(low))
	binary.LittleEndian.PutUint32(data[4:8], math.Float32bits(high))
	return q.Enqueue(nodeID, basestation.CmdSetTempThresh, data)
}

// EnqueueSetBatteryThreshold queues a battery alert threshold update.
func (q *Queue) EnqueueSetBatteryThreshold(nodeID uint8, low, critical float32) uint8 {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(low))
	binary.LittleEndian.PutUint32(data[4:8], math.Float32bits(critical))
	return q.Enqueue(nodeID, basestation.CmdSetBatteryThresh, data)
}

// EnqueueSetMeshConfig queues the mesh-enabled flag. Mesh routing itself is
// out of scope; this only lets the config bit be toggled on the node.
func (q *Queue) EnqueueSetMeshConfig(nodeID uint8, enabled bool) uint8 {
	var b byte
	if enabled {
		b = 1
	}
	return q.Enqueue(nodeID, basestation.CmdSetMeshConfig, []byte{b})
}

// EnqueueRestart queues a node restart with no payload.
func (q *Queue) EnqueueRestart(nodeID uint8) uint8 {
	return q.Enqueue(nodeID, basestation.CmdRestart, nil)
}

// EnqueueFactoryReset queues a factory reset with no payload.
func (q *Queue) EnqueueFactoryReset(nodeID uint8) uint8 {
	return q.Enqueue(nodeID, basestation.CmdFactoryReset, nil)
}

// EnqueueSetLoraParams queues a radio parameter change for the node's own
// transceiver (frequency MHz, spreading factor, TX power dBm). Payload byte
// 5, between the spreading factor and the TX power, is reserved (always 0),
// matching the original
// struct.pack("<fBBB", frequency, sf, 0, tx_power) layout.
func (q *Queue) EnqueueSetLoraParams(nodeID uint8, frequencyMHz float32, spreadingFactor, txPowerDBm uint8) uint8 {
	data := make([]byte, 7)
	binary.LittleEndian.PutUint32(data[0:4], math.Float32bits(frequencyMHz))
	data[4] = spreadingFactor
	data[5] = 0
	data[6] = txPowerDBm
	return q.Enqueue(nodeID, basestation.CmdSetLoraParams, data)
}

// EnqueueTimeSync queues a time synchronization command carrying the
// current UTC epoch seconds and a timezone offset in minutes.
func (q *Queue) EnqueueTimeSync(nodeID uint8, utcEpoch uint32, tzOffsetMin int16) uint8 {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint32(data[0:4], utcEpoch)
	binary.LittleEndian.PutUint16(data[4:6], uint16(tzOffsetMin))
	return q.Enqueue(nodeID, basestation.CmdTimeSync, data)
}

// EnqueueBaseWelcome queues the base station's reply to a sensor_announce,
// carrying the same epoch/timezone payload as a time sync.
func (q *Queue) EnqueueBaseWelcome(nodeID uint8, utcEpoch uint32, tzOffsetMin int16) uint8 {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint32(data[0:4], utcEpoch)
	binary.LittleEndian.PutUint16(data[4:6], uint16(tzOffsetMin))
	return q.Enqueue(nodeID, basestation.CmdBaseWelcome, data)
}
