package recognition

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/Kagami/go-face"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
)

// Engine is the opaque face capability consumed by the frame pipeline:
// locate face regions in an image, and extract a fixed-length descriptor
// per located region. Implementations are assumed deterministic per model
// version.
type Engine interface {
	Detect(img image.Image) ([]image.Rectangle, error)
	Encode(img image.Image, boxes []image.Rectangle) ([]Descriptor, error)
}

// DlibEngine implements Engine using dlib via go-face.
type DlibEngine struct {
	rec       *face.Recognizer
	modelPath string
	loaded    bool
	mu        sync.RWMutex
}

// NewDlibEngine creates an engine with no models loaded.
func NewDlibEngine() *DlibEngine {
	return &DlibEngine{}
}

// LoadModels loads the dlib face recognition models from the specified
// path. The path should contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
func (e *DlibEngine) LoadModels(modelPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.loaded {
		return nil
	}

	logging.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	e.rec = rec
	e.modelPath = modelPath
	e.loaded = true

	logging.Info("Face recognition models loaded successfully")
	return nil
}

// IsLoaded returns true if models are loaded.
func (e *DlibEngine) IsLoaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loaded
}

// Close releases the recognizer resources.
func (e *DlibEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec != nil {
		e.rec.Close()
		e.rec = nil
	}
	e.loaded = false
	return nil
}

// Detect locates face regions in the image. Intended to run on a
// downscaled frame; coordinates are in the given image's space.
func (e *DlibEngine) Detect(img image.Image) ([]image.Rectangle, error) {
	faces, err := e.recognize(img)
	if err != nil {
		return nil, err
	}

	boxes := make([]image.Rectangle, len(faces))
	for i, f := range faces {
		boxes[i] = f.Rectangle
	}
	logging.Debugf("Detected %d face(s) in frame", len(boxes))
	return boxes, nil
}

// Encode extracts descriptors from the full-resolution image, restricted
// to the given regions: each requested box is paired with the detected
// face it overlaps most, in box order.
func (e *DlibEngine) Encode(img image.Image, boxes []image.Rectangle) ([]Descriptor, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	faces, err := e.recognize(img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, nil
	}

	var out []Descriptor
	for _, box := range boxes {
		best := -1
		bestArea := 0
		for i, f := range faces {
			area := overlapArea(box, f.Rectangle)
			if area > bestArea {
				bestArea = area
				best = i
			}
		}
		if best >= 0 {
			out = append(out, toDescriptor(faces[best].Descriptor))
		}
	}
	return out, nil
}

func (e *DlibEngine) recognize(img image.Image) ([]face.Face, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.loaded {
		return nil, ErrModelNotLoaded
	}

	// go-face consumes JPEG bytes
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	faces, err := e.rec.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}
	return faces, nil
}

func overlapArea(a, b image.Rectangle) int {
	r := a.Intersect(b)
	return r.Dx() * r.Dy()
}

func toDescriptor(d face.Descriptor) Descriptor {
	out := make(Descriptor, len(d))
	for i, v := range d {
		out[i] = float64(v)
	}
	return out
}
