// Package camera provides camera access and frame capture functionality,
// plus the resource manager that owns the single capture handle.
package camera

import (
	"errors"
	"image"
	"image/draw"
	"time"
)

// Frame represents a single decoded camera frame.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// Camera defines the interface for camera operations.
type Camera interface {
	Open(device string) error
	Close() error
	Read() (*Frame, error)
	IsOpen() bool
}

// ErrCameraNotFound is returned when the camera device cannot be opened.
var ErrCameraNotFound = errors.New("camera device not found")

// ErrCameraNotOpen is returned when trying to read from a closed camera.
var ErrCameraNotOpen = errors.New("camera not open")

// ErrNoFrame is returned when no frame could be captured.
var ErrNoFrame = errors.New("failed to capture frame")

// ToRGBA converts a decoded image to RGBA, copying only when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba
}
