package sync

// The backend has accepted order lines and payments in two historical
// encodings: command triples ([0, 0, {...}]) and bare objects ({...}).
// Locally captured payloads may carry either, depending on which UI version
// wrote them. Everything is normalized to the object form, then re-emitted
// as command triples, which is what order creation expects today.

import (
	"github.com/tillworks/possync/internal/queue"
)

// normalizeEntry extracts the record from a tuple- or object-encoded line
// or payment. Returns nil for anything else.
func normalizeEntry(entry interface{}) map[string]interface{} {
	switch v := entry.(type) {
	case map[string]interface{}:
		return v
	case []interface{}:
		// command triple: the record is the last element
		if len(v) == 3 {
			if rec, ok := v[2].(map[string]interface{}); ok {
				return rec
			}
		}
	}
	return nil
}

// normalizeEntries canonicalizes a lines/payments value, dropping entries in
// neither known shape.
func normalizeEntries(raw interface{}) []map[string]interface{} {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(list))
	for _, e := range list {
		if rec := normalizeEntry(e); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// asTriples re-encodes canonical records as [0, 0, record] commands.
func asTriples(recs []map[string]interface{}) []interface{} {
	out := make([]interface{}, 0, len(recs))
	for _, r := range recs {
		out = append(out, []interface{}{0, 0, r})
	}
	return out
}

// buildWireOrder maps a local order to the remote creation shape. The local
// id rides along as pos_reference so the server can recognize replays.
func buildWireOrder(o *queue.Order) map[string]interface{} {
	wire := make(map[string]interface{}, len(o.Payload)+2)
	for k, v := range o.Payload {
		switch k {
		case "lines", "payments":
			wire[k] = asTriples(normalizeEntries(v))
		default:
			wire[k] = v
		}
	}
	if _, ok := wire["lines"]; !ok {
		wire["lines"] = []interface{}{}
	}
	if _, ok := wire["payments"]; !ok {
		wire["payments"] = []interface{}{}
	}
	wire["pos_reference"] = o.LocalID
	wire["creation_date"] = o.CreatedAt.Format("2006-01-02 15:04:05")
	return wire
}
