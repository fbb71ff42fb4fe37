package pipeline

import (
	"context"
	"sync"

	"github.com/reivaJAQM/bioaccess/pkg/logging"
)

// Supervisor starts and stops the pipeline on behalf of the presentation
// layer. A pipeline that terminated on camera failure can simply be
// started again.
type Supervisor struct {
	pipe *Pipeline

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewSupervisor wraps a pipeline.
func NewSupervisor(pipe *Pipeline) *Supervisor {
	return &Supervisor{pipe: pipe}
}

// Pipeline returns the supervised pipeline.
func (s *Supervisor) Pipeline() *Pipeline {
	return s.pipe
}

// Start launches the frame loop if it is not already running.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pipe.begin() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		if err := s.pipe.loop(ctx); err != nil && err != context.Canceled {
			logging.Warnf("Pipeline terminated: %v", err)
		}
	}()
}

// Stop cancels the frame loop and waits for it to release the camera.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.pipe.Done()
}

// Running reports whether the frame loop is active.
func (s *Supervisor) Running() bool {
	return s.pipe.Running()
}
