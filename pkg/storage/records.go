package storage

import (
	"encoding/json"
	"strings"
)

// Record is one enrolled identity. The credential secret is stored and
// compared as an opaque string; FaceEncoding holds the base64-serialized
// face template, or nil when biometrics are not yet enrolled.
type Record struct {
	ID           string  `json:"id"`
	FirstName    string  `json:"first_name,omitempty"`
	LastName     string  `json:"last_name,omitempty"`
	Password     string  `json:"password"`
	FaceEncoding *string `json:"face_encoding"`
}

// DisplayName composes the optional name fields, falling back to the
// identity key.
func (r Record) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
	if name == "" {
		return r.ID
	}
	return name
}

// HasFace reports whether a face template is enrolled.
func (r Record) HasFace() bool {
	return r.FaceEncoding != nil && *r.FaceEncoding != ""
}

// Records is an insertion-ordered collection of identity records.
// Iteration order is part of the matching contract (first match in store
// order wins), so records serialize as a JSON array rather than an
// object.
type Records struct {
	order []string
	index map[string]Record
}

// NewRecords returns an empty collection.
func NewRecords() *Records {
	return &Records{index: make(map[string]Record)}
}

// Len returns the number of records.
func (rs *Records) Len() int {
	return len(rs.order)
}

// Exists reports whether an identity key is present.
func (rs *Records) Exists(id string) bool {
	_, ok := rs.index[id]
	return ok
}

// Get returns the record for an identity key.
func (rs *Records) Get(id string) (Record, bool) {
	rec, ok := rs.index[id]
	return rec, ok
}

// Put inserts or replaces a record. New keys are appended to the
// iteration order; existing keys keep their position.
func (rs *Records) Put(rec Record) {
	if _, ok := rs.index[rec.ID]; !ok {
		rs.order = append(rs.order, rec.ID)
	}
	rs.index[rec.ID] = rec
}

// All returns the records in insertion order.
func (rs *Records) All() []Record {
	out := make([]Record, 0, len(rs.order))
	for _, id := range rs.order {
		out = append(out, rs.index[id])
	}
	return out
}

// MarshalJSON serializes the records as an ordered array.
func (rs *Records) MarshalJSON() ([]byte, error) {
	return json.Marshal(rs.All())
}

// UnmarshalJSON restores the records from an ordered array.
func (rs *Records) UnmarshalJSON(data []byte) error {
	var list []Record
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}

	rs.order = nil
	rs.index = make(map[string]Record, len(list))
	for _, rec := range list {
		rs.Put(rec)
	}
	return nil
}
