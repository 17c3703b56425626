// Package records defines the canonical RecordSet shape and the normalizer
// that converts the backend's historical payload variants into it. Everything
// downstream of the normalizer only ever sees a RecordSet.
package records

import (
	"encoding/json"
)

// Record is one domain row: an arbitrary field map with an integer "id".
type Record map[string]interface{}

// ID returns the record's integer id. JSON numbers decode as float64, so an
// id is accepted when it is a whole number.
func (r Record) ID() (int64, bool) {
	v, ok := r["id"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	}
	return 0, false
}

// RecordSet is the canonicalized collection of records for one model plus
// field and relation metadata. Records never contains two entries with the
// same id.
type RecordSet struct {
	ModelName    string                     `json:"model_name"`
	Records      []Record                   `json:"records"`
	FieldMeta    map[string]json.RawMessage `json:"field_meta,omitempty"`
	RelationMeta map[string]json.RawMessage `json:"relation_meta,omitempty"`
}

// Empty returns a RecordSet with no records for a model.
func Empty(modelName string) RecordSet {
	return RecordSet{ModelName: modelName, Records: []Record{}}
}

// FindByID returns the record with the given id, or nil.
func (rs RecordSet) FindByID(id int64) Record {
	for _, r := range rs.Records {
		if got, ok := r.ID(); ok && got == id {
			return r
		}
	}
	return nil
}
