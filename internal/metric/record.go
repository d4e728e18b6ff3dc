package metric

import "time"

// Value is a single metric measurement. A Value is either a fresh
// measurement (Valid, not Stale), a carried-forward measurement from an
// earlier record (Valid and Stale), or absent (not Valid). Absent values
// never carry a meaningful V; there are no sentinel measurements.
type Value struct {
	V     float64
	Valid bool
	Stale bool
}

// Fresh returns a valid, non-stale measurement
func Fresh(v float64) Value {
	return Value{V: v, Valid: true}
}

// Carried returns a valid measurement tagged as stale
func Carried(v float64) Value {
	return Value{V: v, Valid: true, Stale: true}
}

// Record is the canonical point-in-time snapshot handed to the codec.
// It is immutable once built; each field is independently valid or stale
// so the absence of one source never blocks transmission of the rest.
type Record struct {
	Timestamp time.Time
	CPU       CPUMetrics
	GPU       GPUMetrics
	Memory    MemoryMetrics
	Disk      DiskMetrics
	Network   NetworkMetrics
	Weather   WeatherMetrics
	Stock     StockMetrics
}

type CPUMetrics struct {
	Usage       Value // percent
	Temperature Value // Celsius
	Clock       Value // MHz
}

type GPUMetrics struct {
	Usage       Value // percent
	Temperature Value // Celsius
	VRAMUsed    Value // MB
}

type MemoryMetrics struct {
	Used  Value // MB
	Total Value // MB
}

type DiskMetrics struct {
	Used Value // percent
}

type NetworkMetrics struct {
	RxBps Value // bytes/sec
	TxBps Value // bytes/sec
}

type WeatherMetrics struct {
	Condition   Value // icon code, 999 = unknown
	Temperature Value // Celsius
	UpdatedAt   Value // unix seconds of the cache entry
}

type StockMetrics struct {
	Index     Value // numeric index id
	Last      Value // last traded value
	ChangePct Value // percent
	UpdatedAt Value // unix seconds of the cache entry
}

// RawValue is a raw source reading before normalization. OK is false when
// the source could not produce this particular field.
type RawValue struct {
	V  float64
	OK bool
}

// Raw wraps a present reading
func Raw(v float64) RawValue {
	return RawValue{V: v, OK: true}
}

// RawSources is the joined output of one polling pass. A nil section means
// the whole source was unavailable or timed out this cycle.
type RawSources struct {
	Hardware *RawHardware
	Weather  *RawWeather
	Stock    *RawStock
}

// RawHardware carries host sensor readings in acquisition units: byte
// counts for memory and VRAM, bytes/sec for network, percent and Celsius
// elsewhere. The normalizer owns the conversion to record units.
type RawHardware struct {
	CPUUsage       RawValue
	CPUTemperature RawValue
	CPUClock       RawValue
	GPUUsage       RawValue
	GPUTemperature RawValue
	GPUVRAMBytes   RawValue
	MemUsedBytes   RawValue
	MemTotalBytes  RawValue
	DiskUsed       RawValue
	NetRxBps       RawValue
	NetTxBps       RawValue
}

type RawWeather struct {
	Condition   RawValue
	Temperature RawValue
	UpdatedAt   int64
}

type RawStock struct {
	Index     RawValue
	Last      RawValue
	ChangePct RawValue
	UpdatedAt int64
}
