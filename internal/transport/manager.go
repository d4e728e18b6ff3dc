// Package transport drives the serial link to the display device. It
// owns the connection state machine and the transfer counters; framing
// and retry policy live with the callers.
package transport

import (
	"sync"
	"time"

	"codeberg.org/mutker/finshlink/internal/logger"
)

const (
	// degradeThreshold is the number of consecutive write timeouts that
	// marks the link degraded. One more forces a disconnect.
	degradeThreshold = 3

	defaultWriteTimeout = 2 * time.Second
	defaultReadTimeout  = 50 * time.Millisecond

	readChunkSize = 4096
)

type manager struct {
	mu    sync.Mutex
	open  Opener
	list  Lister
	cfg   Config
	port  Port
	state State

	consecutiveTimeouts int
	stats               Stats

	// inflight holds the pending result of a write that timed out but is
	// still inside port.Write. The port gets at most one writer.
	inflight chan error
}

// NewManager builds a manager around the given port opener and lister.
// Production callers pass the serial-backed pair from NewSerialOpener
// and NewSerialLister.
func NewManager(open Opener, list Lister) Manager {
	return &manager{
		open:  open,
		list:  list,
		state: StateDisconnected,
	}
}

func (m *manager) Connect(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateDisconnected {
		return errFactory.WithData(ErrAlreadyConnected, m.cfg.Device)
	}

	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	m.state = StateConnecting
	logger.Info().Str("device", cfg.Device).Int("baud", cfg.BaudRate).Msg("Connecting")

	port, err := m.open(cfg.Device, cfg.BaudRate)
	if err != nil {
		m.state = StateDisconnected

		return err
	}

	// Bounded reads keep ReadAvailable from blocking the dispatch cycle
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		m.state = StateDisconnected

		return errFactory.Wrap(ErrConfigurationRejected, err)
	}

	// Stale bytes from before the connect must not reach the parser
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		m.state = StateDisconnected

		return errFactory.Wrap(ErrConfigurationRejected, err)
	}

	m.port = port
	m.cfg = cfg
	m.state = StateConnected
	m.consecutiveTimeouts = 0
	m.stats = Stats{ConnectedAt: time.Now()}
	logger.Info().Str("device", cfg.Device).Msg("Connected")

	return nil
}

func (m *manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closeLocked("requested")
}

// closeLocked tears down the port and resets the state machine. The
// caller holds m.mu.
func (m *manager) closeLocked(reason string) error {
	if m.port == nil {
		m.state = StateDisconnected

		return nil
	}

	err := m.port.Close()
	m.port = nil
	m.state = StateDisconnected
	m.consecutiveTimeouts = 0
	m.inflight = nil
	logger.Info().Str("device", m.cfg.Device).Str("reason", reason).Msg("Disconnected")

	return err
}

// Write sends one frame, bounded by the configured write timeout.
// Three consecutive timeouts degrade the link; the next one closes it.
// A timed-out write is abandoned but its goroutine stays inside
// port.Write; later calls wait for it to resolve instead of starting a
// second writer, so writes can never interleave on the wire.
func (m *manager) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected && m.state != StateDegraded {
		return errFactory.New(ErrNotConnected)
	}

	deadline := time.After(m.cfg.WriteTimeout)

	if m.inflight != nil {
		select {
		case err := <-m.inflight:
			m.inflight = nil
			if err != nil {
				m.stats.WriteErrors++
				m.closeLocked("write failed")

				return errFactory.Wrap(ErrWriteFailed, err)
			}
		case <-deadline:
			return m.writeTimeoutLocked()
		}
	}

	port := m.port
	done := make(chan error, 1)
	go func() {
		_, err := port.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			m.stats.WriteErrors++
			m.closeLocked("write failed")

			return errFactory.Wrap(ErrWriteFailed, err)
		}

		m.consecutiveTimeouts = 0
		if m.state == StateDegraded {
			m.state = StateConnected
			logger.Info().Str("device", m.cfg.Device).Msg("Link recovered")
		}
		m.stats.BytesSent += uint64(len(data))
		m.stats.FramesSent++

		return nil
	case <-deadline:
		m.inflight = done

		return m.writeTimeoutLocked()
	}
}

// writeTimeoutLocked books one consecutive timeout and walks the state
// machine: the third degrades the link, the next one closes it. The
// caller holds m.mu.
func (m *manager) writeTimeoutLocked() error {
	m.stats.WriteErrors++
	m.consecutiveTimeouts++

	switch {
	case m.consecutiveTimeouts > degradeThreshold:
		// Closing the port also unblocks the stuck writer
		m.closeLocked("write timeouts exceeded")
	case m.consecutiveTimeouts == degradeThreshold:
		m.state = StateDegraded
		logger.Warn().
			Str("device", m.cfg.Device).
			Int("consecutive_timeouts", m.consecutiveTimeouts).
			Msg("Link degraded")
	}

	return errFactory.WithData(ErrWriteTimeout, m.cfg.WriteTimeout)
}

// ReadAvailable drains whatever the device has sent without blocking
// past the read timeout. A timeout with no data returns an empty slice.
func (m *manager) ReadAvailable() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateConnected && m.state != StateDegraded {
		return nil, errFactory.New(ErrNotConnected)
	}

	buf := make([]byte, readChunkSize)
	n, err := m.port.Read(buf)
	if err != nil {
		m.closeLocked("read failed")

		return nil, errFactory.Wrap(ErrReadFailed, err)
	}

	m.stats.BytesReceived += uint64(n)

	return buf[:n], nil
}

func (m *manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *manager) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cfg.Device
}

func (m *manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}

func (m *manager) ListPorts() ([]string, error) {
	ports, err := m.list()
	if err != nil {
		return nil, errFactory.Wrap(ErrListPortsFailed, err)
	}

	return ports, nil
}
