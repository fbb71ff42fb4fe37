package web

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"net/http"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
)

// handleVideoFeed streams the annotated frames as multipart MJPEG. The
// stream runs at whatever cadence the pipeline produces frames and ends
// when the client disconnects or the pipeline terminates.
//
// Frames come off the pipeline's single latest-frame channel, so the
// feed serves one viewer: concurrent clients each receive a disjoint
// subset of frames rather than copies.
func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.capture.Start()
	pipe := s.capture.Pipeline()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	var buf bytes.Buffer
	for {
		select {
		case <-r.Context().Done():
			return
		case <-pipe.Done():
			logging.Debug("Video feed ended: pipeline terminated")
			return
		case frame, ok := <-pipe.Frames():
			if !ok {
				return
			}

			buf.Reset()
			if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 80}); err != nil {
				logging.Warnf("Failed to encode frame for streaming: %v", err)
				continue
			}

			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", buf.Len()); err != nil {
				return
			}
			if _, err := w.Write(buf.Bytes()); err != nil {
				return
			}
			if _, err := fmt.Fprint(w, "\r\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
