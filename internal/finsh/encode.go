package finsh

import (
	"encoding/binary"

	"codeberg.org/mutker/finshlink/internal/metric"
)

// Checksum is the sum of all frame bytes preceding the checksum byte,
// modulo 256. Recomputed at encode time for every frame; never cached
// across retries.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}

	return sum
}

// Encode builds one complete wire frame around the given payload
func Encode(ft FrameType, seq uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, errFactory.WithData(ErrFrameTooLarge, len(payload))
	}

	buf := make([]byte, 0, headerLen+len(payload)+1)
	buf = append(buf, preamble0, preamble1, byte(ft))
	buf = binary.LittleEndian.AppendUint16(buf, seq)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	buf = append(buf, Checksum(buf))

	return buf, nil
}

// EncodeRecord frames a metric record for transmission
func EncodeRecord(rec metric.Record, seq uint16) ([]byte, error) {
	return Encode(FrameData, seq, RecordPayload(rec).MarshalBinary())
}

// EncodeCommand frames a raw command string
func EncodeCommand(cmd string, seq uint16) ([]byte, error) {
	return Encode(FrameCommand, seq, []byte(cmd))
}

// EncodeHeartbeat frames an empty keep-alive
func EncodeHeartbeat(seq uint16) ([]byte, error) {
	return Encode(FrameHeartbeat, seq, nil)
}

// EncodeAck builds a device-style ack frame. The host never sends acks;
// this exists for loopback tests and the device simulator.
func EncodeAck(target uint16, result AckResult) ([]byte, error) {
	payload := make([]byte, 0, 3)
	payload = binary.LittleEndian.AppendUint16(payload, target)
	payload = append(payload, byte(result))

	return Encode(FrameAck, target, payload)
}
