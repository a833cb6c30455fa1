package basestation

import (
	"bytes"
	"encoding/binary"
	"math"
)

// CRC16 computes CRC-16/CCITT-FALSE over data: poly 0x1021, init 0xFFFF,
// no input/output reflection, no final XOR, MSB-first. CRC16(nil) == 0xFFFF.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// DetectKind inspects the leading bytes of buf and reports which frame
// family it belongs to, without fully parsing or validating it. Command
// frames are distinguished from ACK/NACK frames by peeking at the
// command-type byte, matching detect_packet_type's behavior in the
// original source.
func DetectKind(buf []byte) FrameKind {
	if len(buf) < 2 {
		return FrameUnknown
	}
	sync := binary.LittleEndian.Uint16(buf)
	switch sync {
	case SyncLegacy:
		if len(buf) >= legacySize {
			return FrameLegacy
		}
		return FrameUnknown
	case SyncMulti:
		return FrameMulti
	case SyncCommand:
		if len(buf) >= 3 {
			switch buf[2] {
			case CmdAck, CmdNack:
				return FrameAck
			}
		}
		return FrameCommand
	default:
		return FrameUnknown
	}
}

// SensorValue is a single typed measurement inside a multi-sensor packet.
type SensorValue struct {
	Type  ValueType
	Value float32
}

// Unit is a convenience forward to Type.Unit().
func (v SensorValue) Unit() string { return v.Type.Unit() }

// Name is a convenience forward to Type.Name().
func (v SensorValue) Name() string { return v.Type.Name() }

// MultiSensorPacket is a fully parsed 0xABCD telemetry frame.
type MultiSensorPacket struct {
	NetworkID      uint16
	SensorID       uint8
	BatteryPercent uint8
	PowerState     uint8
	LastCommandSeq uint8
	AckStatus      uint8
	Location       string
	Zone           string
	Values         []SensorValue

	RSSI *int8
	SNR  *float32
}

// LegacyPacket is a fully parsed 0x1234 v1 telemetry frame. The original
// v1 nodes only ever reported temperature and humidity as readings. The
// 19-byte frame also carries its own RSSI byte and trailing SNR float;
// the radio layer's per-reception metadata, when present, takes precedence
// over them (see ParseLegacy and store.IngestLegacy).
type LegacyPacket struct {
	SensorID    uint8
	NetworkID   uint16
	Temperature float32
	Humidity    float32
	Battery     uint8
	RSSI        int8
	SNR         float32
}

// CommandPacket is a fully parsed 0xCDEF command frame (outbound command
// or, when CommandType is CmdAck/CmdNack, an inbound ACK/NACK).
type CommandPacket struct {
	CommandType uint8
	TargetID    uint8
	Seq         uint8
	Data        []byte
}

// ParseLegacy decodes a 19-byte legacy v1 telemetry frame. rssi, if
// non-nil, overrides the frame's embedded RSSI byte with a value supplied
// by the radio's reception metadata, matching lora_manager.py's preference
// for out-of-band RSSI over the packet's own stale field.
func ParseLegacy(buf []byte, rssi *int8) (*LegacyPacket, error) {
	if len(buf) < legacySize {
		return nil, ErrTooShort
	}
	sync := binary.LittleEndian.Uint16(buf[0:2])
	if sync != SyncLegacy {
		return nil, ErrBadSync
	}
	p := &LegacyPacket{
		SensorID:    buf[2],
		NetworkID:   binary.LittleEndian.Uint16(buf[3:5]),
		Temperature: readFloat32(buf[5:9]),
		Humidity:    readFloat32(buf[9:13]),
		Battery:     buf[13],
		RSSI:        int8(buf[14]),
		SNR:         readFloat32(buf[15:19]),
	}
	if rssi != nil {
		p.RSSI = *rssi
	}
	return p, nil
}

// ParseMulti decodes a multi-sensor telemetry frame: a 60-byte header,
// value_count 5-byte entries, and a trailing CRC16. value_count is
// silently clamped to 16 if the frame declares more. rssi/snr, if
// supplied, are out-of-band reception metadata attached to the result.
func ParseMulti(buf []byte, rssi *int8, snr *float32) (*MultiSensorPacket, error) {
	if len(buf) < multiHeaderLen {
		return nil, ErrTooShort
	}
	sync := binary.LittleEndian.Uint16(buf[0:2])
	if sync != SyncMulti {
		return nil, ErrBadSync
	}
	valueCount := int(buf[6])
	if valueCount > maxValueCount {
		valueCount = maxValueCount
	}
	need := multiHeaderLen + valueCount*valueEntryLen + crcLen
	if len(buf) < need {
		return nil, ErrTooShort
	}

	crcOffset := multiHeaderLen + valueCount*valueEntryLen
	want := CRC16(buf[:crcOffset])
	got := binary.LittleEndian.Uint16(buf[crcOffset : crcOffset+crcLen])
	if want != got {
		return nil, ErrBadCrc
	}

	p := &MultiSensorPacket{
		NetworkID:      binary.LittleEndian.Uint16(buf[2:4]),
		SensorID:       buf[5],
		BatteryPercent: buf[7],
		PowerState:     buf[8],
		LastCommandSeq: buf[9],
		AckStatus:      buf[10],
		Location:       trimNulString(buf[12:44]),
		Zone:           trimNulString(buf[44:60]),
		RSSI:           rssi,
		SNR:            snr,
	}
	p.Values = make([]SensorValue, 0, valueCount)
	for i := 0; i < valueCount; i++ {
		off := multiHeaderLen + i*valueEntryLen
		p.Values = append(p.Values, SensorValue{
			Type:  ValueType(buf[off]),
			Value: readFloat32(buf[off+1 : off+5]),
		})
	}
	return p, nil
}

// ParseCommand decodes a 200-byte command or ACK/NACK frame, verifying the
// CRC16 computed over the first 198 bytes. Data is trimmed to the declared
// data-length field (the remainder of the 192-byte area is zero padding).
func ParseCommand(buf []byte) (*CommandPacket, error) {
	if len(buf) < commandSize {
		return nil, ErrTooShort
	}
	sync := binary.LittleEndian.Uint16(buf[0:2])
	if sync != SyncCommand {
		return nil, ErrBadSync
	}
	dataLen := int(buf[5])
	if dataLen > commandDataLen {
		return nil, ErrBadLength
	}
	crcOffset := commandSize - crcLen
	want := CRC16(buf[:crcOffset])
	got := binary.LittleEndian.Uint16(buf[crcOffset : crcOffset+crcLen])
	if want != got {
		return nil, ErrBadCrc
	}
	const dataStart = 6
	data := make([]byte, dataLen)
	copy(data, buf[dataStart:dataStart+dataLen])
	return &CommandPacket{
		CommandType: buf[2],
		TargetID:    buf[3],
		Seq:         buf[4],
		Data:        data,
	}, nil
}

// ParseAck is ParseCommand with the additional guarantee that the result's
// CommandType is CmdAck or CmdNack; anything else is rejected.
func ParseAck(buf []byte) (*CommandPacket, error) {
	cmd, err := ParseCommand(buf)
	if err != nil {
		return nil, err
	}
	if cmd.CommandType != CmdAck && cmd.CommandType != CmdNack {
		return nil, ErrBadLength
	}
	return cmd, nil
}

// BuildCommand serializes an outbound command (or ACK/NACK) frame. data is
// zero-padded up to the 192-byte data area; data longer than that is
// rejected. The returned buffer is always exactly 200 bytes.
func BuildCommand(commandType, targetID, seq uint8, data []byte) ([]byte, error) {
	if len(data) > commandDataLen {
		return nil, ErrDataTooLong
	}
	var buf bytes.Buffer
	buf.Grow(commandSize)
	writeUint16(&buf, SyncCommand)
	buf.WriteByte(commandType)
	buf.WriteByte(targetID)
	buf.WriteByte(seq)
	buf.WriteByte(uint8(len(data)))
	padded := make([]byte, commandDataLen)
	copy(padded, data)
	buf.Write(padded)

	crc := CRC16(buf.Bytes())
	writeUint16(&buf, crc)
	return buf.Bytes(), nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// trimNulString decodes a fixed-width NUL-padded field as UTF-8, stopping
// at the first NUL byte (or the field's full width if none is present).
func trimNulString(b []byte) string {
	n := bytes.IndexByte(b, 0)
	if n < 0 {
		n = len(b)
	}
	return string(b[:n])
}

// PadNulField truncates s to leave room for a terminating NUL within a
// width-byte field, writes the NUL, and zero-pads the remainder — used by
// the queue package's set-location command builder so the 32-byte location
// and 16-byte zone fields are always fully and correctly padded, not just
// truncated with a single trailing NUL.
func PadNulField(s string, width int) []byte {
	out := make([]byte, width)
	b := []byte(s)
	if len(b) > width-1 {
		b = b[:width-1]
	}
	copy(out, b)
	// out[len(b)] is already 0 from make(); remaining bytes are already 0.
	return out
}
