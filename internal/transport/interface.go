package transport

import (
	"time"
)

// State is the connection lifecycle position
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Port abstracts the underlying serial device for testing
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener creates a Port for the given device at the given baud rate
type Opener func(device string, baudRate int) (Port, error)

// Lister enumerates candidate serial devices
type Lister func() ([]string, error)

// Config holds the transport tunables
type Config struct {
	Device       string
	BaudRate     int
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// Stats is a snapshot of transfer counters since connect
type Stats struct {
	BytesSent     uint64
	BytesReceived uint64
	FramesSent    uint64
	WriteErrors   uint64
	ConnectedAt   time.Time
}

// Manager drives a serial connection through its lifecycle
type Manager interface {
	Connect(cfg Config) error
	Disconnect() error
	Write(data []byte) error
	ReadAvailable() ([]byte, error)
	State() State
	Device() string
	Stats() Stats
	ListPorts() ([]string, error)
}
