package camera

import (
	"image"
	"time"
)

// MockCamera implements the Camera interface for testing.
type MockCamera struct {
	OpenFunc  func(device string) error
	CloseFunc func() error
	ReadFunc  func() (*Frame, error)

	Opened     bool
	OpenCalls  int
	CloseCalls int
	ReadCalls  int
}

func (m *MockCamera) Open(device string) error {
	m.OpenCalls++
	if m.OpenFunc != nil {
		if err := m.OpenFunc(device); err != nil {
			return err
		}
	}
	m.Opened = true
	return nil
}

func (m *MockCamera) Close() error {
	m.CloseCalls++
	m.Opened = false
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockCamera) Read() (*Frame, error) {
	m.ReadCalls++
	if m.ReadFunc != nil {
		return m.ReadFunc()
	}
	return testFrame(64, 48), nil
}

func (m *MockCamera) IsOpen() bool {
	return m.Opened
}

func testFrame(w, h int) *Frame {
	return &Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, w, h)),
		Timestamp: time.Now(),
	}
}
