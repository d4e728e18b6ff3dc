// Package finsh implements the Finsh wire protocol spoken by the display
// firmware (version 1.0): framed binary transfers host→device and the ack
// stream coming back. The same in-memory payload representation feeds both
// the compact binary frames and the human-readable ASCII form used by the
// debug console, so the two can never diverge.
package finsh

import (
	"encoding/binary"
	"math"
	"time"

	"codeberg.org/mutker/finshlink/internal/metric"
)

func unixTime(v float64) time.Time {
	return time.Unix(int64(v), 0)
}

// FrameType identifies the frame kind on the wire
type FrameType byte

const (
	FrameData      FrameType = 0x01
	FrameCommand   FrameType = 0x02
	FrameHeartbeat FrameType = 0x03
	FrameAck       FrameType = 0x10 // device → host only
)

const (
	preamble0 = 0xA5
	preamble1 = 0x5A

	// preamble(2) + type(1) + sequence(2 LE) + payload length(2 LE)
	headerLen = 7

	// MaxPayloadLen bounds a single frame's payload. Anything larger in a
	// received header is treated as framing corruption.
	MaxPayloadLen = 1024

	// SequenceModulus is the wrap point for frame sequence ids.
	SequenceModulus = 1 << 16

	fieldLen = 10 // id(1) + flags(1) + float64 LE(8)
)

// FieldID identifies one metric field inside a data payload
type FieldID byte

const (
	FieldTimestamp      FieldID = 0x01
	FieldCPUUsage       FieldID = 0x10
	FieldCPUTemperature FieldID = 0x11
	FieldCPUClock       FieldID = 0x12
	FieldGPUUsage       FieldID = 0x20
	FieldGPUTemperature FieldID = 0x21
	FieldGPUVRAMUsed    FieldID = 0x22
	FieldMemUsed        FieldID = 0x30
	FieldMemTotal       FieldID = 0x31
	FieldDiskUsed       FieldID = 0x40
	FieldNetRx          FieldID = 0x50
	FieldNetTx          FieldID = 0x51
	FieldWeatherCond    FieldID = 0x60
	FieldWeatherTemp    FieldID = 0x61
	FieldWeatherUpdated FieldID = 0x62
	FieldStockIndex     FieldID = 0x70
	FieldStockLast      FieldID = 0x71
	FieldStockChange    FieldID = 0x72
	FieldStockUpdated   FieldID = 0x73
)

// FieldFlags qualifies a payload field's value
type FieldFlags byte

const (
	FlagStale FieldFlags = 1 << 0
	FlagNull  FieldFlags = 1 << 1
)

// Field is one metric value inside a data payload
type Field struct {
	ID    FieldID
	Flags FieldFlags
	Value float64
}

// Payload is the shared in-memory representation behind both the binary
// and ASCII encodings
type Payload []Field

// RecordPayload flattens a Record into the fixed field order the firmware
// expects. Every declared field is present; absent metrics are carried as
// null fields rather than omitted.
func RecordPayload(rec metric.Record) Payload {
	return Payload{
		{ID: FieldTimestamp, Value: float64(rec.Timestamp.Unix())},
		valueField(FieldCPUUsage, rec.CPU.Usage),
		valueField(FieldCPUTemperature, rec.CPU.Temperature),
		valueField(FieldCPUClock, rec.CPU.Clock),
		valueField(FieldGPUUsage, rec.GPU.Usage),
		valueField(FieldGPUTemperature, rec.GPU.Temperature),
		valueField(FieldGPUVRAMUsed, rec.GPU.VRAMUsed),
		valueField(FieldMemUsed, rec.Memory.Used),
		valueField(FieldMemTotal, rec.Memory.Total),
		valueField(FieldDiskUsed, rec.Disk.Used),
		valueField(FieldNetRx, rec.Network.RxBps),
		valueField(FieldNetTx, rec.Network.TxBps),
		valueField(FieldWeatherCond, rec.Weather.Condition),
		valueField(FieldWeatherTemp, rec.Weather.Temperature),
		valueField(FieldWeatherUpdated, rec.Weather.UpdatedAt),
		valueField(FieldStockIndex, rec.Stock.Index),
		valueField(FieldStockLast, rec.Stock.Last),
		valueField(FieldStockChange, rec.Stock.ChangePct),
		valueField(FieldStockUpdated, rec.Stock.UpdatedAt),
	}
}

func valueField(id FieldID, v metric.Value) Field {
	f := Field{ID: id}
	switch {
	case !v.Valid:
		f.Flags = FlagNull
	case v.Stale:
		f.Flags = FlagStale
		f.Value = v.V
	default:
		f.Value = v.V
	}

	return f
}

// Record rebuilds a Record from a parsed data payload. Unknown field ids
// are skipped so a newer peer can add fields without breaking us.
func (p Payload) Record() metric.Record {
	var rec metric.Record
	for _, f := range p {
		v := fieldValue(f)
		switch f.ID {
		case FieldTimestamp:
			rec.Timestamp = unixTime(f.Value)
		case FieldCPUUsage:
			rec.CPU.Usage = v
		case FieldCPUTemperature:
			rec.CPU.Temperature = v
		case FieldCPUClock:
			rec.CPU.Clock = v
		case FieldGPUUsage:
			rec.GPU.Usage = v
		case FieldGPUTemperature:
			rec.GPU.Temperature = v
		case FieldGPUVRAMUsed:
			rec.GPU.VRAMUsed = v
		case FieldMemUsed:
			rec.Memory.Used = v
		case FieldMemTotal:
			rec.Memory.Total = v
		case FieldDiskUsed:
			rec.Disk.Used = v
		case FieldNetRx:
			rec.Network.RxBps = v
		case FieldNetTx:
			rec.Network.TxBps = v
		case FieldWeatherCond:
			rec.Weather.Condition = v
		case FieldWeatherTemp:
			rec.Weather.Temperature = v
		case FieldWeatherUpdated:
			rec.Weather.UpdatedAt = v
		case FieldStockIndex:
			rec.Stock.Index = v
		case FieldStockLast:
			rec.Stock.Last = v
		case FieldStockChange:
			rec.Stock.ChangePct = v
		case FieldStockUpdated:
			rec.Stock.UpdatedAt = v
		}
	}

	return rec
}

func fieldValue(f Field) metric.Value {
	switch {
	case f.Flags&FlagNull != 0:
		return metric.Value{}
	case f.Flags&FlagStale != 0:
		return metric.Carried(f.Value)
	default:
		return metric.Fresh(f.Value)
	}
}

// MarshalBinary renders the payload as repeated 10-byte field groups
func (p Payload) MarshalBinary() []byte {
	buf := make([]byte, 0, len(p)*fieldLen)
	for _, f := range p {
		buf = append(buf, byte(f.ID), byte(f.Flags))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f.Value))
	}

	return buf
}

// UnmarshalPayload parses a data frame payload back into fields
func UnmarshalPayload(data []byte) (Payload, error) {
	if len(data)%fieldLen != 0 {
		return nil, errFactory.WithData(ErrPayloadInvalid, len(data))
	}

	p := make(Payload, 0, len(data)/fieldLen)
	for i := 0; i < len(data); i += fieldLen {
		p = append(p, Field{
			ID:    FieldID(data[i]),
			Flags: FieldFlags(data[i+1]),
			Value: math.Float64frombits(binary.LittleEndian.Uint64(data[i+2 : i+fieldLen])),
		})
	}

	return p, nil
}

// AckResult is the outcome reported by the device for one frame
type AckResult byte

const (
	AckOK        AckResult = 0x00
	AckBusy      AckResult = 0x01
	AckMalformed AckResult = 0x02
	AckUnknown   AckResult = 0xFF
)

func (r AckResult) String() string {
	switch r {
	case AckOK:
		return "ok"
	case AckBusy:
		return "busy"
	case AckMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// AckStatus is a parsed device response
type AckStatus struct {
	SequenceID uint16
	Result     AckResult
	Raw        []byte
}
