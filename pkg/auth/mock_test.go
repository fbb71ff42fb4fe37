package auth

import (
	"sync"

	"github.com/reivaJAQM/bioaccess/pkg/recognition"
)

// fakeProbe is a settable ProbeSource standing in for the live pipeline.
type fakeProbe struct {
	mu      sync.Mutex
	desc    recognition.Descriptor
	present bool
}

func (f *fakeProbe) Set(d recognition.Descriptor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desc = d
	f.present = true
}

func (f *fakeProbe) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.desc = nil
	f.present = false
}

func (f *fakeProbe) Current() (recognition.Descriptor, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.present {
		return nil, false
	}
	return f.desc.Clone(), true
}

func uniformDescriptor(v float64) recognition.Descriptor {
	d := make(recognition.Descriptor, recognition.DescriptorSize)
	for i := range d {
		d[i] = v
	}
	return d
}
