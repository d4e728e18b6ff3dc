// Package dispatch owns the periodic poll-normalize-encode-send cycle
// and the retry policy around device acknowledgements.
package dispatch

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/errors"
	"codeberg.org/mutker/finshlink/internal/finsh"
	"codeberg.org/mutker/finshlink/internal/logger"
	"codeberg.org/mutker/finshlink/internal/metric"
	"codeberg.org/mutker/finshlink/internal/source"
	"codeberg.org/mutker/finshlink/internal/transport"
	"github.com/benbjohnson/clock"
)

const (
	defaultInterval        = time.Second
	defaultResponseTimeout = 500 * time.Millisecond
	defaultHistorySize     = 256

	// ackPollInterval paces the receive drain while waiting for an ack
	ackPollInterval = 5 * time.Millisecond
)

// Scheduler drives dispatch cycles off a ticker. At most one cycle is
// ever in flight: a tick that lands while the previous cycle is still
// running is skipped and counted, never queued.
type Scheduler struct {
	cfg      Config
	clk      clock.Clock
	poller   *source.Poller
	tr       transport.Manager
	onResult func(CycleResult)

	// cycleMu serializes cycles between the ticker loop and SendOnce
	cycleMu sync.Mutex
	parser  finsh.Parser
	prev    *metric.Record
	seq     uint16

	mu                 sync.Mutex
	running            bool
	stop               chan struct{}
	done               chan struct{}
	history            []CycleResult
	ticksSkipped       uint64
	sequenceMismatches uint64
}

// NewScheduler wires a scheduler. onResult may be nil; when set it is
// invoked synchronously after every completed cycle.
func NewScheduler(cfg Config, clk clock.Clock, poller *source.Poller, tr transport.Manager, onResult func(CycleResult)) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.MaxRetries < 0 {
		return nil, errFactory.WithData(ErrInvalidConfig, "max retries must not be negative")
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Scheduler{
		cfg:      cfg,
		clk:      clk,
		poller:   poller,
		tr:       tr,
		onResult: onResult,
	}, nil
}

// Start launches the ticker loop
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errFactory.New(ErrAlreadyRunning)
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	logger.Info().Dur("interval", s.cfg.Interval).Msg("Dispatch started")

	return nil
}

// Stop halts the ticker and waits for any in-flight cycle to drain
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()

		return errFactory.New(ErrNotRunning)
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	logger.Info().Msg("Dispatch stopped")

	return nil
}

// SendOnce runs a single cycle outside the schedule, for the manual
// console. Fails fast when a scheduled cycle is in flight.
func (s *Scheduler) SendOnce(ctx context.Context) (CycleResult, error) {
	if !s.cycleMu.TryLock() {
		return CycleResult{}, errFactory.New(ErrCycleBusy)
	}
	defer s.cycleMu.Unlock()

	return s.cycle(ctx), nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:            s.running,
		Transport:          s.tr.State(),
		Device:             s.tr.Device(),
		Interval:           s.cfg.Interval,
		TicksSkipped:       s.ticksSkipped,
		SequenceMismatches: s.sequenceMismatches,
	}
	if len(s.history) > 0 {
		last := s.history[len(s.history)-1]
		st.Last = &last
	}

	return st
}

// History returns a copy of the bounded result ring, oldest first
func (s *Scheduler) History() []CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]CycleResult(nil), s.history...)
}

func (s *Scheduler) run(stop, done chan struct{}) {
	defer close(done)

	ticker := s.clk.Ticker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !s.cycleMu.TryLock() {
				s.mu.Lock()
				s.ticksSkipped++
				s.mu.Unlock()

				continue
			}
			s.cycle(context.Background())
			s.cycleMu.Unlock()

			// A cycle that outlived the interval left the next tick
			// queued in the channel; firing it now would queue the
			// cycle instead of skipping it.
			select {
			case <-ticker.C:
				s.mu.Lock()
				s.ticksSkipped++
				s.mu.Unlock()
			default:
			}
		}
	}
}

// cycle runs one full pass: poll, normalize, encode, send, await ack.
// Retries mint a fresh sequence id each attempt so a late ack for an
// abandoned attempt can never be mistaken for the current one. The
// caller holds cycleMu.
func (s *Scheduler) cycle(ctx context.Context) CycleResult {
	start := s.clk.Now()

	state := s.tr.State()
	if state != transport.StateConnected && state != transport.StateDegraded {
		// Partial bytes buffered before a disconnect must not leak
		// into the next connection's receive stream
		s.parser.Reset()

		return s.record(CycleResult{At: start, Outcome: OutcomeSkipped})
	}

	raw := s.poller.Poll(ctx)
	rec := metric.Normalize(raw, s.prev, start)
	s.prev = &rec

	var result CycleResult
	for attempt := 1; attempt <= s.cfg.MaxRetries+1; attempt++ {
		seq := s.nextSeq()
		result = CycleResult{At: start, SequenceID: seq, Attempts: attempt}

		frame, err := finsh.EncodeRecord(rec, seq)
		if err != nil {
			result.Outcome = OutcomeWriteError
			result.Error = err.Error()

			break
		}

		if err := s.tr.Write(frame); err != nil {
			result.Error = err.Error()
			if errors.HasCode(err, transport.ErrWriteTimeout) {
				result.Outcome = OutcomeWriteError
				logger.Warn().Uint16("seq", seq).Int("attempt", attempt).Msg("Write timed out")

				continue
			}
			if errors.HasCode(err, transport.ErrNotConnected) {
				result.Outcome = OutcomeDisconnected
			} else {
				result.Outcome = OutcomeWriteError
			}

			break
		}

		ack, ok := s.awaitAck(seq)
		if !ok {
			result.Outcome = OutcomeAckTimeout
			logger.Warn().Uint16("seq", seq).Int("attempt", attempt).Msg("No ack before deadline")

			continue
		}

		result.AckResult = ack.Result
		switch ack.Result {
		case finsh.AckOK:
			result.Outcome = OutcomeOK
		case finsh.AckBusy:
			result.Outcome = OutcomeBusy
			logger.Debug().Uint16("seq", seq).Int("attempt", attempt).Msg("Device busy")

			continue
		default:
			result.Outcome = OutcomeRejected
		}

		break
	}

	result.Latency = s.clk.Now().Sub(start)

	return s.record(result)
}

// awaitAck drains the receive side until an ack for seq arrives or the
// response timeout passes. Acks for other sequence ids are stale leftovers
// from abandoned attempts; they are counted and discarded.
func (s *Scheduler) awaitAck(seq uint16) (*finsh.AckStatus, bool) {
	deadline := s.clk.Now().Add(s.cfg.ResponseTimeout)

	for {
		data, err := s.tr.ReadAvailable()
		if err != nil {
			return nil, false
		}
		s.parser.Feed(data)

		for {
			ev, ok := s.parser.Next()
			if !ok {
				break
			}

			switch ev.Kind {
			case finsh.EventAck:
				if ev.Ack.SequenceID == seq {
					return ev.Ack, true
				}
				s.mu.Lock()
				s.sequenceMismatches++
				s.mu.Unlock()
				logger.Debug().
					Uint16("want", seq).
					Uint16("got", ev.Ack.SequenceID).
					Msg("Discarding stale ack")
			case finsh.EventMalformed:
				logger.Debug().Int("bytes", len(ev.Raw)).Msg("Discarding malformed frame")
			}
		}

		if !s.clk.Now().Before(deadline) {
			return nil, false
		}
		s.clk.Sleep(ackPollInterval)
	}
}

// nextSeq mints the next sequence id, wrapping naturally at 65536
func (s *Scheduler) nextSeq() uint16 {
	s.seq++

	return s.seq
}

func (s *Scheduler) record(result CycleResult) CycleResult {
	s.mu.Lock()
	s.history = append(s.history, result)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
	s.mu.Unlock()

	if s.onResult != nil {
		s.onResult(result)
	}

	return result
}
