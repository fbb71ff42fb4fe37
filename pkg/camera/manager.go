package camera

import (
	"sync"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
)

// Manager owns the single video-capture handle. The hardware is
// exclusive-single-owner: all acquisition goes through one Manager and
// is serialized by its mutex.
type Manager struct {
	mu      sync.Mutex
	factory func() Camera
	device  string
	cam     Camera
}

// NewManager creates a manager that opens cameras from the factory
// against the given device.
func NewManager(factory func() Camera, device string) *Manager {
	return &Manager{
		factory: factory,
		device:  device,
	}
}

// Acquire returns a ready capture handle, opening the device on demand.
// Idempotent and cheap when the handle is already open: no reopen cost.
func (m *Manager) Acquire() (Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cam != nil && m.cam.IsOpen() {
		return m.cam, nil
	}

	if m.cam == nil {
		m.cam = m.factory()
	}
	if err := m.cam.Open(m.device); err != nil {
		m.cam = nil
		return nil, err
	}
	return m.cam, nil
}

// Release closes and discards the handle if open, otherwise no-op.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cam == nil {
		return
	}
	if err := m.cam.Close(); err != nil {
		logging.Warnf("Failed to close camera: %v", err)
	}
	m.cam = nil
}
