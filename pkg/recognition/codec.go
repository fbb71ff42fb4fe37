package recognition

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

// Descriptors are persisted as raw little-endian float64 bytes wrapped in
// base64 so they can be embedded in a textual record format. Decoding
// reverses both steps exactly; the round trip is bit-for-bit.

// EncodeDescriptor serializes a descriptor for durable storage.
func EncodeDescriptor(d Descriptor) string {
	buf := make([]byte, 8*len(d))
	for i, v := range d {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeDescriptor deserializes a descriptor produced by EncodeDescriptor.
func DecodeDescriptor(s string) (Descriptor, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid descriptor encoding: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("invalid descriptor length: %d bytes", len(raw))
	}

	d := make(Descriptor, len(raw)/8)
	for i := range d {
		d[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return d, nil
}
