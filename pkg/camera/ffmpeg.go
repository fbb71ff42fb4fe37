package camera

import (
	"bufio"
	"bytes"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
)

// execCommand is swapped out in tests.
var execCommand = exec.Command

// FFmpegCamera captures frames by running ffmpeg against a V4L2 device
// and splitting the MJPEG stream it writes to stdout.
type FFmpegCamera struct {
	width  int
	height int
	fps    int

	mu     sync.Mutex
	device string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	open   bool
}

// NewFFmpegCamera creates a camera with the given capture parameters.
func NewFFmpegCamera(width, height, fps int) *FFmpegCamera {
	return &FFmpegCamera{
		width:  width,
		height: height,
		fps:    fps,
	}
}

// Open starts the ffmpeg capture process for the device.
func (c *FFmpegCamera) Open(device string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open {
		return nil
	}

	cmd := execCommand("ffmpeg",
		"-loglevel", "quiet",
		"-f", "v4l2",
		"-framerate", fmt.Sprintf("%d", c.fps),
		"-video_size", fmt.Sprintf("%dx%d", c.width, c.height),
		"-i", device,
		"-f", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCameraNotFound, err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrCameraNotFound, err)
	}

	c.device = device
	c.cmd = cmd
	c.stdout = stdout
	c.reader = bufio.NewReaderSize(stdout, 1<<20)
	c.open = true

	logging.Infof("Camera opened: %s (%dx%d @ %d fps)", device, c.width, c.height, c.fps)
	return nil
}

// Close stops the capture process. Safe to call when already closed.
func (c *FFmpegCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}

	c.open = false
	if c.stdout != nil {
		_ = c.stdout.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	c.cmd = nil
	c.stdout = nil
	c.reader = nil

	logging.Infof("Camera closed: %s", c.device)
	return nil
}

// IsOpen reports whether the capture process is running.
func (c *FFmpegCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Read returns the next decoded frame from the MJPEG stream.
func (c *FFmpegCamera) Read() (*Frame, error) {
	c.mu.Lock()
	reader := c.reader
	open := c.open
	c.mu.Unlock()

	if !open || reader == nil {
		return nil, ErrCameraNotOpen
	}

	data, err := readJPEGFrame(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	return &Frame{
		Image:     ToRGBA(img),
		Timestamp: time.Now(),
	}, nil
}

// readJPEGFrame scans the stream for the next complete JPEG image,
// delimited by the SOI (0xFFD8) and EOI (0xFFD9) markers.
func readJPEGFrame(r *bufio.Reader) ([]byte, error) {
	// Seek start-of-image
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b != 0xFF {
			continue
		}
		next, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if next == 0xD8 {
			break
		}
	}

	buf := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		buf = append(buf, b)
		if b == 0xD9 && len(buf) >= 4 && buf[len(buf)-2] == 0xFF {
			return buf, nil
		}
	}
}
