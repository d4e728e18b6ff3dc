package finsh

import (
	"fmt"
	"strings"
)

// fieldNames maps payload fields to the key names the firmware shell
// understands. Shared by the ASCII rendering and the debug console.
var fieldNames = map[FieldID]string{
	FieldTimestamp:      "timestamp",
	FieldCPUUsage:       "cpu",
	FieldCPUTemperature: "cpu_temp",
	FieldCPUClock:       "cpu_clock",
	FieldGPUUsage:       "gpu",
	FieldGPUTemperature: "gpu_temp",
	FieldGPUVRAMUsed:    "gpu_vram",
	FieldMemUsed:        "mem_used",
	FieldMemTotal:       "mem_total",
	FieldDiskUsed:       "disk",
	FieldNetRx:          "net_down",
	FieldNetTx:          "net_up",
	FieldWeatherCond:    "weather_code",
	FieldWeatherTemp:    "temp",
	FieldWeatherUpdated: "weather_updated",
	FieldStockIndex:     "stock_index",
	FieldStockLast:      "stock_value",
	FieldStockChange:    "stock_change",
	FieldStockUpdated:   "stock_updated",
}

// integerFields are rendered without decimals in the ASCII form
var integerFields = map[FieldID]bool{
	FieldTimestamp:      true,
	FieldWeatherCond:    true,
	FieldWeatherUpdated: true,
	FieldStockIndex:     true,
	FieldStockUpdated:   true,
}

// ASCII renders the payload as firmware shell commands, one `sys_set`
// line per present field. Null fields are omitted; stale fields are sent
// with their carried value, exactly as the binary form does. Built from
// the same Payload as MarshalBinary so the two modes cannot diverge.
func (p Payload) ASCII() string {
	var b strings.Builder
	for _, f := range p {
		if f.Flags&FlagNull != 0 {
			continue
		}
		name, ok := fieldNames[f.ID]
		if !ok {
			continue
		}
		if integerFields[f.ID] {
			fmt.Fprintf(&b, "sys_set %s %d\n", name, int64(f.Value))
		} else {
			fmt.Fprintf(&b, "sys_set %s %.2f\n", name, f.Value)
		}
	}

	return b.String()
}

// FormatHexDump renders bytes as a classic offset/hex/ASCII dump for the
// manual debug console
func FormatHexDump(data []byte) string {
	const width = 16

	var lines []string
	for i := 0; i < len(data); i += width {
		chunk := data[i:min(i+width, len(data))]

		var hexPart strings.Builder
		var asciiPart strings.Builder
		for _, b := range chunk {
			fmt.Fprintf(&hexPart, "%02X ", b)
			if b >= 32 && b < 127 {
				asciiPart.WriteByte(b)
			} else {
				asciiPart.WriteByte('.')
			}
		}

		lines = append(lines, fmt.Sprintf("%08X  %-*s %s", i, width*3, hexPart.String(), asciiPart.String()))
	}

	return strings.Join(lines, "\n")
}

// ParseHexInput decodes operator-typed hex into bytes. Whitespace is
// ignored and an odd-length string is left-padded with a zero nibble,
// matching what serial terminal users expect.
func ParseHexInput(s string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(s), "")
	if cleaned == "" {
		return nil, nil
	}
	if len(cleaned)%2 != 0 {
		cleaned = "0" + cleaned
	}

	out := make([]byte, len(cleaned)/2)
	for i := 0; i < len(cleaned); i += 2 {
		hi, ok1 := hexNibble(cleaned[i])
		lo, ok2 := hexNibble(cleaned[i+1])
		if !ok1 || !ok2 {
			return nil, errFactory.WithData(ErrHexInput, s)
		}
		out[i/2] = hi<<4 | lo
	}

	return out, nil
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
