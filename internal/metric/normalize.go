package metric

import "time"

const bytesPerMB = 1024 * 1024

// Range is the physical sanity window for a field. Readings outside the
// window are rejected the same way a missing reading is.
type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

var (
	rangePercent     = Range{0, 100}
	rangeTemperature = Range{-40, 150}
	rangeClockMHz    = Range{0, 20000}
	rangeMemoryMB    = Range{0, 64 << 20}
	rangeRateBps     = Range{0, 1e12}
	rangeCondition   = Range{0, 9999}
	rangeAirTemp     = Range{-70, 70}
	rangeIndexID     = Range{0, 99999}
	rangeQuote       = Range{0, 1e9}
	rangeChangePct   = Range{-100, 100}
)

// Normalize merges one polling pass into a canonical Record. For every
// field: a fresh in-range reading wins; otherwise the previous record's
// valid value is carried forward tagged stale; otherwise the field is
// absent. Pure and deterministic; the caller supplies the timestamp.
func Normalize(raw RawSources, prev *Record, now time.Time) Record {
	var p Record
	if prev != nil {
		p = *prev
	}

	var hw RawHardware
	if raw.Hardware != nil {
		hw = *raw.Hardware
	}

	rec := Record{Timestamp: now}

	rec.CPU.Usage = pick(hw.CPUUsage, p.CPU.Usage, rangePercent)
	rec.CPU.Temperature = pick(hw.CPUTemperature, p.CPU.Temperature, rangeTemperature)
	rec.CPU.Clock = pick(hw.CPUClock, p.CPU.Clock, rangeClockMHz)

	rec.GPU.Usage = pick(hw.GPUUsage, p.GPU.Usage, rangePercent)
	rec.GPU.Temperature = pick(hw.GPUTemperature, p.GPU.Temperature, rangeTemperature)
	rec.GPU.VRAMUsed = pick(scale(hw.GPUVRAMBytes, 1.0/bytesPerMB), p.GPU.VRAMUsed, rangeMemoryMB)

	rec.Memory.Used = pick(scale(hw.MemUsedBytes, 1.0/bytesPerMB), p.Memory.Used, rangeMemoryMB)
	rec.Memory.Total = pick(scale(hw.MemTotalBytes, 1.0/bytesPerMB), p.Memory.Total, rangeMemoryMB)

	rec.Disk.Used = pick(hw.DiskUsed, p.Disk.Used, rangePercent)

	rec.Network.RxBps = pick(hw.NetRxBps, p.Network.RxBps, rangeRateBps)
	rec.Network.TxBps = pick(hw.NetTxBps, p.Network.TxBps, rangeRateBps)

	var we RawWeather
	if raw.Weather != nil {
		we = *raw.Weather
	}
	rec.Weather.Condition = pick(we.Condition, p.Weather.Condition, rangeCondition)
	rec.Weather.Temperature = pick(we.Temperature, p.Weather.Temperature, rangeAirTemp)
	rec.Weather.UpdatedAt = pickTime(raw.Weather != nil, we.UpdatedAt, p.Weather.UpdatedAt)

	var st RawStock
	if raw.Stock != nil {
		st = *raw.Stock
	}
	rec.Stock.Index = pick(st.Index, p.Stock.Index, rangeIndexID)
	rec.Stock.Last = pick(st.Last, p.Stock.Last, rangeQuote)
	rec.Stock.ChangePct = pick(st.ChangePct, p.Stock.ChangePct, rangeChangePct)
	rec.Stock.UpdatedAt = pickTime(raw.Stock != nil, st.UpdatedAt, p.Stock.UpdatedAt)

	return rec
}

func pick(raw RawValue, prev Value, rg Range) Value {
	if raw.OK && rg.Contains(raw.V) {
		return Fresh(raw.V)
	}
	if prev.Valid {
		return Carried(prev.V)
	}

	return Value{}
}

func pickTime(fresh bool, ts int64, prev Value) Value {
	if fresh && ts > 0 {
		return Fresh(float64(ts))
	}
	if prev.Valid {
		return Carried(prev.V)
	}

	return Value{}
}

func scale(raw RawValue, factor float64) RawValue {
	if !raw.OK {
		return raw
	}

	return RawValue{V: raw.V * factor, OK: true}
}
