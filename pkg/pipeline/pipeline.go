// Package pipeline implements the continuous frame acquisition and
// encoding loop: pull a frame, detect faces on a downscaled copy, extract
// a descriptor from the full-resolution frame, publish the current probe
// and an annotated frame for display.
package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	xdraw "golang.org/x/image/draw"

	"github.com/reivaJAQM/bioaccess/pkg/camera"
	"github.com/reivaJAQM/bioaccess/pkg/logging"
	"github.com/reivaJAQM/bioaccess/pkg/recognition"
)

// Mode selects the operator-feedback color for detection rectangles. It
// has no effect on matching.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeEnroll
	ModeVerify
)

func (m Mode) String() string {
	switch m {
	case ModeEnroll:
		return "enroll"
	case ModeVerify:
		return "verify"
	default:
		return "idle"
	}
}

var modeColors = map[Mode]color.RGBA{
	ModeIdle:   {G: 255, A: 255},          // green
	ModeEnroll: {R: 255, G: 165, A: 255},  // orange
	ModeVerify: {G: 191, B: 255, A: 255},  // deep sky blue
}

// ErrAlreadyRunning is returned when Run is called on a running pipeline.
var ErrAlreadyRunning = errors.New("pipeline already running")

// Pipeline runs the frame loop. It is the sole owner of the camera
// handle while running and the sole writer of the probe cell.
type Pipeline struct {
	cams      *camera.Manager
	engine    recognition.Engine
	probe     *ProbeCell
	frames    chan *camera.Frame
	downscale int
	mirror    bool
	mode      atomic.Int32

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// Options configures a Pipeline.
type Options struct {
	// DownscaleFactor is the linear shrink applied before detection.
	DownscaleFactor int
	// Mirror flips frames horizontally for a natural self-view.
	Mirror bool
}

// New creates a pipeline publishing probes to the given cell.
func New(cams *camera.Manager, engine recognition.Engine, probe *ProbeCell, opts Options) *Pipeline {
	if opts.DownscaleFactor < 1 {
		opts.DownscaleFactor = 1
	}
	p := &Pipeline{
		cams:      cams,
		engine:    engine,
		probe:     probe,
		frames:    make(chan *camera.Frame, 1),
		downscale: opts.DownscaleFactor,
		mirror:    opts.Mirror,
	}
	p.done = make(chan struct{})
	close(p.done) // not running yet
	return p
}

// SetMode selects the annotation mode.
func (p *Pipeline) SetMode(m Mode) {
	p.mode.Store(int32(m))
}

// Mode returns the current annotation mode.
func (p *Pipeline) Mode() Mode {
	return Mode(p.mode.Load())
}

// Frames returns the annotated frame stream. The channel holds only the
// latest frame; slow consumers see dropped frames, never backpressure.
func (p *Pipeline) Frames() <-chan *camera.Frame {
	return p.frames
}

// Done returns a channel closed when the current run terminates.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Running reports whether the loop is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// begin transitions the pipeline to running and installs a fresh done
// channel. Returns false if already running.
func (p *Pipeline) begin() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.done = make(chan struct{})
	return true
}

// Run executes the frame loop until the context is canceled or the
// camera fails past recovery. The camera handle is always released on
// the way out. A termination caused by camera failure is fatal to the
// session, not to the process: the host may restart the pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.begin() {
		return ErrAlreadyRunning
	}
	return p.loop(ctx)
}

// loop is the running half of Run; begin must have succeeded.
func (p *Pipeline) loop(ctx context.Context) error {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()

	log := logging.Component("pipeline")
	log.Info("Frame pipeline started")

	defer func() {
		p.probe.Clear()
		p.cams.Release()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(done)
		log.Info("Frame pipeline stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := p.readFrame()
		if err != nil {
			log.WithError(err).Error("Camera failed past recovery, terminating pipeline")
			return err
		}

		p.process(frame)
	}
}

// readFrame reads one frame, forcing a single reopen attempt after a
// failed read before giving up for good.
func (p *Pipeline) readFrame() (*camera.Frame, error) {
	cam, err := p.cams.Acquire()
	if err != nil {
		return nil, err
	}

	frame, err := cam.Read()
	if err == nil {
		return frame, nil
	}

	logging.Warnf("Frame read failed, reopening camera: %v", err)
	p.cams.Release()

	cam, err = p.cams.Acquire()
	if err != nil {
		return nil, err
	}
	return cam.Read()
}

// process runs one pipeline cycle on a raw frame.
func (p *Pipeline) process(frame *camera.Frame) {
	img := frame.Image
	if p.mirror {
		flipHorizontal(img)
	}

	// Detect on a downscaled copy for speed, then rescale the boxes
	// back to full-resolution coordinates.
	small := downscaleRGBA(img, p.downscale)
	boxes, err := p.engine.Detect(small)
	if err != nil {
		logging.Debugf("Face detection failed: %v", err)
		boxes = nil
	}
	for i := range boxes {
		boxes[i] = scaleRect(boxes[i], p.downscale)
	}

	if len(boxes) > 0 {
		descs, err := p.engine.Encode(img, boxes)
		if err != nil {
			logging.Debugf("Descriptor extraction failed: %v", err)
		}
		if len(descs) > 0 {
			// First detected face only; multi-face scenes are not
			// disambiguated.
			p.probe.Set(descs[0])
		} else {
			p.probe.Clear()
		}
	} else {
		p.probe.Clear()
	}

	c := modeColors[p.Mode()]
	for _, box := range boxes {
		drawRect(img, box, c, 2)
	}

	p.publish(frame)
}

// publish delivers the annotated frame, keeping only the latest.
func (p *Pipeline) publish(frame *camera.Frame) {
	select {
	case p.frames <- frame:
	default:
		select {
		case <-p.frames:
		default:
		}
		select {
		case p.frames <- frame:
		default:
		}
	}
}

// flipHorizontal mirrors the image in place.
func flipHorizontal(img *image.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x1, x2 := b.Min.X, b.Max.X-1; x1 < x2; x1, x2 = x1+1, x2-1 {
			c1 := img.RGBAAt(x1, y)
			img.SetRGBA(x1, y, img.RGBAAt(x2, y))
			img.SetRGBA(x2, y, c1)
		}
	}
}

// downscaleRGBA shrinks the image by the given linear factor.
func downscaleRGBA(img *image.RGBA, factor int) *image.RGBA {
	if factor <= 1 {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()/factor, b.Dy()/factor))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// scaleRect maps a detection box from downscaled back to full-resolution
// coordinates.
func scaleRect(r image.Rectangle, factor int) image.Rectangle {
	return image.Rect(r.Min.X*factor, r.Min.Y*factor, r.Max.X*factor, r.Max.Y*factor)
}

// drawRect draws a rectangle outline clamped to the image bounds.
func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for t := 0; t < thickness; t++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if r.Min.Y+t < r.Max.Y {
				img.SetRGBA(x, r.Min.Y+t, c)
			}
			if r.Max.Y-1-t >= r.Min.Y {
				img.SetRGBA(x, r.Max.Y-1-t, c)
			}
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			if r.Min.X+t < r.Max.X {
				img.SetRGBA(r.Min.X+t, y, c)
			}
			if r.Max.X-1-t >= r.Min.X {
				img.SetRGBA(r.Max.X-1-t, y, c)
			}
		}
	}
}
