package pipeline

import (
	"image"
	"time"

	"github.com/reivaJAQM/bioaccess/pkg/camera"
	"github.com/reivaJAQM/bioaccess/pkg/recognition"
)

// MockCamera implements camera.Camera for testing.
type MockCamera struct {
	OpenFunc func(device string) error
	ReadFunc func() (*camera.Frame, error)

	Opened    bool
	OpenCalls int
	ReadCalls int
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
	m.Opened = false
	return nil
}

func (m *MockCamera) IsOpen() bool {
	return m.Opened
}

func (m *MockCamera) Read() (*camera.Frame, error) {
	m.ReadCalls++
	// Pace the loop so tests do not spin a core.
	time.Sleep(time.Millisecond)
	if m.ReadFunc != nil {
		return m.ReadFunc()
	}
	return &camera.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 64, 48)),
		Timestamp: time.Now(),
	}, nil
}

// MockEngine implements recognition.Engine for testing.
type MockEngine struct {
	DetectFunc func(img image.Image) ([]image.Rectangle, error)
	EncodeFunc func(img image.Image, boxes []image.Rectangle) ([]recognition.Descriptor, error)
}

func (m *MockEngine) Detect(img image.Image) ([]image.Rectangle, error) {
	if m.DetectFunc != nil {
		return m.DetectFunc(img)
	}
	return nil, nil
}

func (m *MockEngine) Encode(img image.Image, boxes []image.Rectangle) ([]recognition.Descriptor, error) {
	if m.EncodeFunc != nil {
		return m.EncodeFunc(img, boxes)
	}
	return nil, nil
}

func testDescriptor(v float64) recognition.Descriptor {
	d := make(recognition.Descriptor, recognition.DescriptorSize)
	for i := range d {
		d[i] = v
	}
	return d
}
