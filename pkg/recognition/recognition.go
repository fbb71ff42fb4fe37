// Package recognition provides face detection, descriptor extraction and
// tolerance-based matching. Detection and descriptor extraction are backed
// by dlib via go-face; matching is a plain Euclidean distance check over
// the descriptor space.
package recognition

import (
	"errors"
	"math"
)

// DescriptorSize is the dimensionality of a face descriptor.
const DescriptorSize = 128

// Descriptor is a fixed-length face feature vector.
type Descriptor []float64

// Clone returns a copy of the descriptor.
func (d Descriptor) Clone() Descriptor {
	out := make(Descriptor, len(d))
	copy(out, d)
	return out
}

// Candidate pairs an identity key with its stored face template for
// matching.
type Candidate struct {
	ID       string
	Template Descriptor
}

// ErrModelNotLoaded is returned when recognition models are not loaded.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// Distance computes the Euclidean distance between two descriptors.
// Mismatched lengths never match.
func Distance(a, b Descriptor) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// IsMatch reports whether two descriptors belong to the same person,
// i.e. their distance is within tolerance.
func IsMatch(probe, candidate Descriptor, tolerance float64) bool {
	return Distance(probe, candidate) <= tolerance
}

// FindMatch scans candidates in order and returns the identity key of the
// first one within tolerance of the probe. This is deliberately a
// first-match linear scan, not a nearest-neighbor search: enrollment
// populations are small and iteration order is part of the observable
// matching behavior.
func FindMatch(probe Descriptor, candidates []Candidate, tolerance float64) (string, bool) {
	for _, c := range candidates {
		if IsMatch(probe, c.Template, tolerance) {
			return c.ID, true
		}
	}
	return "", false
}
