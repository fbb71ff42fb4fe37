package pipeline

import (
	"sync"

	"github.com/reivaJAQM/bioaccess/pkg/recognition"
)

// ProbeCell holds the most recently extracted face descriptor from the
// live feed: single most-recent-value semantics, overwritten every
// processing cycle and cleared when no face is in frame. The pipeline is
// the sole writer; any number of verification requests read it
// concurrently. An absent value means "no usable sample yet", not an
// error.
type ProbeCell struct {
	mu      sync.RWMutex
	desc    recognition.Descriptor
	present bool
}

// NewProbeCell returns an empty cell.
func NewProbeCell() *ProbeCell {
	return &ProbeCell{}
}

// Set overwrites the current probe with a copy of the descriptor.
func (p *ProbeCell) Set(d recognition.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desc = d.Clone()
	p.present = true
}

// Clear marks the probe as absent.
func (p *ProbeCell) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.desc = nil
	p.present = false
}

// Current returns a copy of the probe and whether one is present.
func (p *ProbeCell) Current() (recognition.Descriptor, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.present {
		return nil, false
	}
	return p.desc.Clone(), true
}
