package finsh

import (
	"bytes"
	"encoding/binary"
)

// EventKind classifies what the parser produced
type EventKind int

const (
	// EventAck is a parsed device acknowledgement
	EventAck EventKind = iota
	// EventFrame is any other complete, checksum-valid frame
	EventFrame
	// EventMalformed is a framing or checksum failure; the parser has
	// already resynchronized when this is emitted
	EventMalformed
)

// Event is one unit of parser output
type Event struct {
	Kind       EventKind
	Type       FrameType
	SequenceID uint16
	Payload    []byte
	Ack        *AckStatus
	Raw        []byte
}

// Parser is a streaming state machine over an accumulating receive
// buffer: AwaitPreamble → ReadHeader → ReadPayload → Verify → Emit.
// Bytes may arrive in arbitrary chunks across reads; a frame split over
// any number of Feed calls parses identically to a single-chunk feed.
// On corruption the parser discards up to the next preamble candidate
// and resumes, so it never wedges on garbage input.
type Parser struct {
	buf []byte
}

// Feed appends freshly received bytes to the parse buffer
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Pending returns the number of buffered, not yet consumed bytes
func (p *Parser) Pending() int {
	return len(p.buf)
}

// Reset drops all buffered state, for use after a reconnect
func (p *Parser) Reset() {
	p.buf = nil
}

// Next returns the next complete event, or ok=false when the buffer
// holds no complete frame yet (need more data).
func (p *Parser) Next() (Event, bool) {
	for {
		if !p.awaitPreamble() {
			return Event{}, false
		}
		if len(p.buf) < headerLen {
			return Event{}, false
		}

		payloadLen := int(binary.LittleEndian.Uint16(p.buf[5:7]))
		if payloadLen > MaxPayloadLen {
			return p.malformed(headerLen), true
		}

		total := headerLen + payloadLen + 1
		if len(p.buf) < total {
			return Event{}, false
		}

		frame := p.buf[:total]
		if Checksum(frame[:total-1]) != frame[total-1] {
			return p.malformed(total), true
		}

		ft := FrameType(frame[2])
		seq := binary.LittleEndian.Uint16(frame[3:5])
		payload := append([]byte(nil), frame[headerLen:headerLen+payloadLen]...)
		raw := append([]byte(nil), frame...)
		p.buf = p.buf[total:]

		if ft == FrameAck {
			if len(payload) < 3 {
				return Event{Kind: EventMalformed, Raw: raw}, true
			}

			return Event{
				Kind:       EventAck,
				Type:       ft,
				SequenceID: seq,
				Payload:    payload,
				Raw:        raw,
				Ack: &AckStatus{
					SequenceID: binary.LittleEndian.Uint16(payload[:2]),
					Result:     ackResult(payload[2]),
					Raw:        raw,
				},
			}, true
		}

		return Event{Kind: EventFrame, Type: ft, SequenceID: seq, Payload: payload, Raw: raw}, true
	}
}

// awaitPreamble discards leading noise until the buffer starts with a
// full preamble. Returns false when no preamble start is buffered; a
// trailing lone first preamble byte is retained so a pair split across
// reads still matches.
func (p *Parser) awaitPreamble() bool {
	i := bytes.Index(p.buf, []byte{preamble0, preamble1})
	if i < 0 {
		if n := len(p.buf); n > 0 && p.buf[n-1] == preamble0 {
			p.buf = p.buf[n-1:]
		} else {
			p.buf = p.buf[:0]
		}

		return false
	}
	if i > 0 {
		p.buf = p.buf[i:]
	}

	return true
}

// malformed snapshots up to n corrupt bytes, then resynchronizes by
// skipping the current preamble and scanning for the next candidate
func (p *Parser) malformed(n int) Event {
	if n > len(p.buf) {
		n = len(p.buf)
	}
	raw := append([]byte(nil), p.buf[:n]...)
	p.buf = p.buf[1:]
	p.awaitPreamble()

	return Event{Kind: EventMalformed, Raw: raw}
}

func ackResult(b byte) AckResult {
	switch AckResult(b) {
	case AckOK, AckBusy, AckMalformed:
		return AckResult(b)
	default:
		return AckUnknown
	}
}
