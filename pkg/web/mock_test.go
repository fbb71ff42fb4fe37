package web

import (
	"image"
	"sync"
	"time"

	"github.com/reivaJAQM/bioaccess/pkg/camera"
	"github.com/reivaJAQM/bioaccess/pkg/recognition"
)

// stubCamera feeds blank frames to the pipeline.
type stubCamera struct {
	opened bool
}

func (c *stubCamera) Open(device string) error {
	c.opened = true
	return nil
}

func (c *stubCamera) Close() error {
	c.opened = false
	return nil
}

func (c *stubCamera) IsOpen() bool {
	return c.opened
}

func (c *stubCamera) Read() (*camera.Frame, error) {
	// Pace the pipeline so tests do not spin a core.
	time.Sleep(time.Millisecond)
	return &camera.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 64, 48)),
		Timestamp: time.Now(),
	}, nil
}

// stubEngine reports a single face with a uniform descriptor while
// present is set, no faces otherwise.
type stubEngine struct {
	mu      sync.Mutex
	present bool
	value   float64
}

func (e *stubEngine) show(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.present = true
	e.value = v
}

func (e *stubEngine) hide() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.present = false
}

func (e *stubEngine) Detect(img image.Image) ([]image.Rectangle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.present {
		return nil, nil
	}
	return []image.Rectangle{image.Rect(2, 2, 10, 10)}, nil
}

func (e *stubEngine) Encode(img image.Image, boxes []image.Rectangle) ([]recognition.Descriptor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := make(recognition.Descriptor, recognition.DescriptorSize)
	for i := range d {
		d[i] = e.value
	}
	return []recognition.Descriptor{d}, nil
}
