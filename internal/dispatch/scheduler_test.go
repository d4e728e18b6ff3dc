package dispatch_test

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/finshlink/internal/dispatch"
	"codeberg.org/mutker/finshlink/internal/errors"
	"codeberg.org/mutker/finshlink/internal/finsh"
	"codeberg.org/mutker/finshlink/internal/metric"
	"codeberg.org/mutker/finshlink/internal/source"
	"codeberg.org/mutker/finshlink/internal/transport"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Collect(context.Context) (metric.RawSources, error) {
	return metric.RawSources{
		Hardware: &metric.RawHardware{CPUUsage: metric.Raw(42)},
	}, nil
}

// gatedSource blocks Collect until released, to stretch a cycle past
// the scheduler interval
type gatedSource struct {
	started chan struct{}
	gate    chan struct{}
}

func newGatedSource() *gatedSource {
	return &gatedSource{started: make(chan struct{}, 1), gate: make(chan struct{})}
}

func (g *gatedSource) Name() string { return "gated" }

func (g *gatedSource) Collect(ctx context.Context) (metric.RawSources, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.gate:
	case <-ctx.Done():
	}

	return metric.RawSources{}, nil
}

// fakeTransport scripts write errors and ack responses per attempt
type fakeTransport struct {
	mu         sync.Mutex
	state      transport.State
	writes     [][]byte
	writeErrs  []error
	ackResults []finsh.AckResult
	rxQueue    [][]byte
	stats      transport.Stats
}

func newFakeTransport(state transport.State) *fakeTransport {
	return &fakeTransport{state: state}
}

func (f *fakeTransport) Connect(transport.Config) error { return nil }
func (f *fakeTransport) Disconnect() error              { return nil }
func (f *fakeTransport) Device() string                 { return "/dev/ttyUSB0" }
func (f *fakeTransport) Stats() transport.Stats         { return f.stats }
func (f *fakeTransport) ListPorts() ([]string, error)   { return nil, nil }

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := len(f.writes)
	f.writes = append(f.writes, append([]byte(nil), data...))

	if attempt < len(f.writeErrs) && f.writeErrs[attempt] != nil {
		return f.writeErrs[attempt]
	}

	// Answer with a scripted ack for the sequence id just written
	if attempt < len(f.ackResults) {
		seq := binary.LittleEndian.Uint16(data[3:5])
		ack, err := finsh.EncodeAck(seq, f.ackResults[attempt])
		if err == nil {
			f.rxQueue = append(f.rxQueue, ack)
		}
	}

	return nil
}

func (f *fakeTransport) ReadAvailable() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.rxQueue) == 0 {
		return nil, nil
	}

	data := f.rxQueue[0]
	f.rxQueue = f.rxQueue[1:]

	return data, nil
}

func (f *fakeTransport) setState(state transport.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeTransport) enqueue(frames ...[]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rxQueue = append(f.rxQueue, frames...)
}

func writtenSeq(t *testing.T, frame []byte) uint16 {
	t.Helper()
	require.GreaterOrEqual(t, len(frame), 7)

	return binary.LittleEndian.Uint16(frame[3:5])
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		Interval:        50 * time.Millisecond,
		ResponseTimeout: 50 * time.Millisecond,
		MaxRetries:      2,
		HistorySize:     16,
	}
}

func newScheduler(t *testing.T, tr transport.Manager, onResult func(dispatch.CycleResult)) *dispatch.Scheduler {
	t.Helper()

	poller := source.NewPoller(time.Second, stubSource{})
	s, err := dispatch.NewScheduler(testConfig(), clock.New(), poller, tr, onResult)
	require.NoError(t, err)

	return s
}

func TestSendOnceSkippedWhenDisconnected(t *testing.T) {
	tr := newFakeTransport(transport.StateDisconnected)
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, result.Outcome)
	assert.Empty(t, tr.writes)
}

func TestSendOnceAcknowledged(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckOK}

	var hooked []dispatch.CycleResult
	s := newScheduler(t, tr, func(r dispatch.CycleResult) { hooked = append(hooked, r) })

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeOK, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, finsh.AckOK, result.AckResult)

	require.Len(t, tr.writes, 1)
	assert.Equal(t, uint16(1), writtenSeq(t, tr.writes[0]))

	require.Len(t, hooked, 1)
	assert.Equal(t, dispatch.OutcomeOK, hooked[0].Outcome)

	history := s.History()
	require.Len(t, history, 1)
	assert.Equal(t, dispatch.OutcomeOK, history[0].Outcome)
}

func TestBusyAckRetriesWithFreshSequence(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckBusy, finsh.AckOK}
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeOK, result.Outcome)
	assert.Equal(t, 2, result.Attempts)

	require.Len(t, tr.writes, 2)
	first := writtenSeq(t, tr.writes[0])
	second := writtenSeq(t, tr.writes[1])
	assert.NotEqual(t, first, second)
	assert.Equal(t, first+1, second)
}

func TestBusyExhaustsRetries(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckBusy, finsh.AckBusy, finsh.AckBusy}
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeBusy, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Len(t, tr.writes, 3)
}

func TestAckTimeoutExhaustsRetries(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected) // never acks
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeAckTimeout, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
}

func TestStaleAckDiscarded(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckOK}

	// A leftover ack from an abandoned attempt arrives first
	stale, err := finsh.EncodeAck(55, finsh.AckOK)
	require.NoError(t, err)
	tr.enqueue(stale)

	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeOK, result.Outcome)
	assert.Equal(t, uint64(1), s.Status().SequenceMismatches)
}

func TestMalformedAckRejectsWithoutRetry(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckMalformed}
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeRejected, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, tr.writes, 1)
}

func TestWriteTimeoutRetriesThenSucceeds(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.writeErrs = []error{errors.New().New(transport.ErrWriteTimeout)}
	tr.ackResults = []finsh.AckResult{finsh.AckOK, finsh.AckOK}
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeOK, result.Outcome)
	assert.Equal(t, 2, result.Attempts)
}

func TestHardWriteErrorIsTerminal(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.writeErrs = []error{errors.New().New(transport.ErrWriteFailed)}
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeWriteError, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, tr.writes, 1)
}

func TestMidCycleDisconnectRecordedAsDisconnected(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.writeErrs = []error{errors.New().New(transport.ErrNotConnected)}
	s := newScheduler(t, tr, nil)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeDisconnected, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	// Only the transport moves the state machine
	assert.Equal(t, transport.StateConnected, tr.State())
}

func TestZeroMaxRetriesMeansSingleAttempt(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckBusy}

	poller := source.NewPoller(time.Second, stubSource{})
	cfg := testConfig()
	cfg.MaxRetries = 0
	s, err := dispatch.NewScheduler(cfg, clock.New(), poller, tr, nil)
	require.NoError(t, err)

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeBusy, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
	assert.Len(t, tr.writes, 1)
}

func TestParserClearedAcrossReconnect(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)

	poller := source.NewPoller(time.Second, stubSource{})
	cfg := testConfig()
	cfg.MaxRetries = 0
	s, err := dispatch.NewScheduler(cfg, clock.New(), poller, tr, nil)
	require.NoError(t, err)

	// Garbage read just before the cable pull: a header claiming a
	// huge payload would swallow any frame received after reconnect
	tr.enqueue([]byte{0xA5, 0x5A, 0x01, 0x00, 0x00, 0xFF, 0x03})

	result, err := s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeAckTimeout, result.Outcome)

	tr.setState(transport.StateDisconnected)
	result, err = s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeSkipped, result.Outcome)

	tr.setState(transport.StateConnected)
	tr.mu.Lock()
	tr.ackResults = []finsh.AckResult{finsh.AckOK, finsh.AckOK}
	tr.mu.Unlock()

	result, err = s.SendOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.OutcomeOK, result.Outcome)
	assert.Equal(t, 1, result.Attempts)
}

func TestHistoryBounded(t *testing.T) {
	tr := newFakeTransport(transport.StateDisconnected)

	poller := source.NewPoller(time.Second, stubSource{})
	cfg := testConfig()
	cfg.HistorySize = 2
	s, err := dispatch.NewScheduler(cfg, clock.New(), poller, tr, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.SendOnce(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, s.History(), 2)
}

func TestStartStopLifecycle(t *testing.T) {
	tr := newFakeTransport(transport.StateDisconnected)
	s := newScheduler(t, tr, nil)

	require.NoError(t, s.Start())
	err := s.Start()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, dispatch.ErrAlreadyRunning))

	require.NoError(t, s.Stop())
	err = s.Stop()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, dispatch.ErrNotRunning))
	assert.False(t, s.Status().Running)
}

func TestScheduledCyclesOnMockClock(t *testing.T) {
	tr := newFakeTransport(transport.StateDisconnected)
	mock := clock.NewMock()

	poller := source.NewPoller(time.Second, stubSource{})
	s, err := dispatch.NewScheduler(testConfig(), mock, poller, tr, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer s.Stop()

	// Let the loop register its ticker before advancing the clock
	time.Sleep(20 * time.Millisecond)

	mock.Add(50 * time.Millisecond)
	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(50 * time.Millisecond)
	require.Eventually(t, func() bool { return len(s.History()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, dispatch.OutcomeSkipped, s.History()[0].Outcome)
}

func TestOverrunTickSkippedNotQueued(t *testing.T) {
	tr := newFakeTransport(transport.StateConnected)
	tr.ackResults = []finsh.AckResult{finsh.AckOK, finsh.AckOK}
	mock := clock.NewMock()
	gated := newGatedSource()

	poller := source.NewPoller(time.Second, gated)
	s, err := dispatch.NewScheduler(testConfig(), mock, poller, tr, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	defer s.Stop()

	// Let the loop register its ticker before advancing the clock
	time.Sleep(20 * time.Millisecond)

	// First tick starts a cycle that outlives the second tick
	mock.Add(50 * time.Millisecond)
	<-gated.started
	mock.Add(50 * time.Millisecond)

	close(gated.gate)
	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)

	// The tick that fired mid-cycle is dropped, not replayed
	require.Eventually(t, func() bool { return s.Status().TicksSkipped == 1 }, time.Second, 5*time.Millisecond)

	mock.Add(50 * time.Millisecond)
	require.Eventually(t, func() bool { return len(s.History()) == 2 }, time.Second, 5*time.Millisecond)
}
