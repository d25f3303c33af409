package histeq

import (
	"errors"
	"log/slog"
	"sync"
)

var errInjected = errors.New("injected device failure")

// mockDevice wraps the software device with failure injection and records
// the logger it receives.
type mockDevice struct {
	*SoftwareDevice

	initErr    error
	failStage  Stage
	failOnRead bool
	failCreate string
	inject     bool

	mu         sync.Mutex
	logger     *slog.Logger
	dispatches []Stage
	closed     int
}

func (m *mockDevice) Name() string { return "mock" }

func (m *mockDevice) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

func (m *mockDevice) loggerValue() *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logger
}

func (m *mockDevice) Init() error {
	if m.initErr != nil {
		return m.initErr
	}
	return m.SoftwareDevice.Init()
}

func (m *mockDevice) Close() {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
	m.SoftwareDevice.Close()
}

func (m *mockDevice) CreateBuffer(desc BufferDescriptor) (Buffer, error) {
	if m.failCreate != "" && desc.Label == m.failCreate {
		return nil, errInjected
	}
	return m.SoftwareDevice.CreateBuffer(desc)
}

func (m *mockDevice) Dispatch(d Dispatch) error {
	m.mu.Lock()
	m.dispatches = append(m.dispatches, d.Stage)
	m.mu.Unlock()
	if m.inject && !m.failOnRead && d.Stage == m.failStage {
		return errInjected
	}
	return m.SoftwareDevice.Dispatch(d)
}

func (m *mockDevice) ReadBuffer(b Buffer, dst []byte) error {
	if m.inject && m.failOnRead && m.lastStage() == m.failStage {
		return errInjected
	}
	return m.SoftwareDevice.ReadBuffer(b, dst)
}

func (m *mockDevice) lastStage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.dispatches) == 0 {
		return -1
	}
	return m.dispatches[len(m.dispatches)-1]
}

// limitedDevice reports a maximum scan width.
type limitedDevice struct {
	*SoftwareDevice
	max int
}

func (d *limitedDevice) MaxScanWidth() int { return d.max }
