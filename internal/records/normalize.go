package records

import (
	"encoding/json"
	"log"
)

// The backend has shipped reference data in two shapes over time: a bare
// array of records, and a wrapper object carrying data plus field/relation
// schema info. Anything else is malformed and degrades to an empty set —
// normalization sits on the critical load path and must never fail.

type payloadKind int

const (
	kindMalformed payloadKind = iota
	kindArray
	kindWrapped
)

type wrappedPayload struct {
	Data      json.RawMessage            `json:"data"`
	Fields    map[string]json.RawMessage `json:"fields"`
	Relations map[string]json.RawMessage `json:"relations"`
}

// classify decides the payload shape once; callers pattern-match on the kind.
func classify(raw json.RawMessage) (payloadKind, []Record, wrappedPayload) {
	if len(raw) == 0 {
		return kindMalformed, nil, wrappedPayload{}
	}

	var arr []Record
	if err := json.Unmarshal(raw, &arr); err == nil {
		return kindArray, arr, wrappedPayload{}
	}

	var w wrappedPayload
	if err := json.Unmarshal(raw, &w); err == nil && len(w.Data) > 0 {
		// data must itself be an array of records
		var inner []Record
		if err := json.Unmarshal(w.Data, &inner); err == nil {
			return kindWrapped, inner, w
		}
	}

	return kindMalformed, nil, wrappedPayload{}
}

// Normalize converts any upstream payload into a valid RecordSet. It is
// total: malformed input logs a warning and yields an empty set rather than
// aborting the load. Duplicate ids keep the first occurrence.
func Normalize(modelName string, raw json.RawMessage) RecordSet {
	kind, recs, wrapped := classify(raw)

	rs := Empty(modelName)
	switch kind {
	case kindArray:
		rs.Records = dedupe(recs)
	case kindWrapped:
		rs.Records = dedupe(recs)
		rs.FieldMeta = wrapped.Fields
		rs.RelationMeta = wrapped.Relations
	case kindMalformed:
		log.Printf("[records] malformed payload for model %s, treating as empty", modelName)
	}
	return rs
}

// dedupe drops later records that reuse an earlier record's id. Records
// without a usable id are kept as-is.
func dedupe(recs []Record) []Record {
	out := make([]Record, 0, len(recs))
	seen := map[int64]bool{}
	for _, r := range recs {
		if r == nil {
			continue
		}
		if id, ok := r.ID(); ok {
			if seen[id] {
				continue
			}
			seen[id] = true
		}
		out = append(out, r)
	}
	return out
}
