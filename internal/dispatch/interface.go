package dispatch

import (
	"time"

	"codeberg.org/mutker/finshlink/internal/finsh"
	"codeberg.org/mutker/finshlink/internal/transport"
)

// Outcome classifies how a dispatch cycle ended
type Outcome string

const (
	// OutcomeOK means the device acknowledged the frame
	OutcomeOK Outcome = "ok"
	// OutcomeSkipped means the link was down, so nothing was sent
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDisconnected means the link dropped mid-cycle, between
	// the state check and the write
	OutcomeDisconnected Outcome = "disconnected"
	// OutcomeWriteError means the transport refused or lost the frame
	OutcomeWriteError Outcome = "write_error"
	// OutcomeAckTimeout means no matching ack arrived in time, retries
	// included
	OutcomeAckTimeout Outcome = "ack_timeout"
	// OutcomeBusy means the device stayed busy through all retries
	OutcomeBusy Outcome = "busy"
	// OutcomeRejected means the device reported the frame malformed
	OutcomeRejected Outcome = "rejected"
)

// CycleResult records one dispatch cycle for the history ring and the
// telemetry store
type CycleResult struct {
	At         time.Time
	Outcome    Outcome
	SequenceID uint16
	Attempts   int
	Latency    time.Duration
	AckResult  finsh.AckResult
	Error      string
}

// Status is a point-in-time snapshot of the scheduler
type Status struct {
	Running            bool
	Transport          transport.State
	Device             string
	Interval           time.Duration
	TicksSkipped       uint64
	SequenceMismatches uint64
	Last               *CycleResult
}

// Config holds the scheduler tunables. MaxRetries is the number of
// extra attempts after the first; zero disables retries.
type Config struct {
	Interval        time.Duration
	ResponseTimeout time.Duration
	MaxRetries      int
	HistorySize     int
}
