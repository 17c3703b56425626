package sync

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/store"
)

// mockBackend replays scripted responses and records every submitted order.
type mockBackend struct {
	calls     int
	submitted []map[string]interface{}
	respond   func(call int) (json.RawMessage, error)
}

func (m *mockBackend) Call(ctx context.Context, model, method string, args []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	m.calls++
	// args is [[wireOrder]]
	if len(args) == 1 {
		if batch, ok := args[0].([]interface{}); ok && len(batch) == 1 {
			if wire, ok := batch[0].(map[string]interface{}); ok {
				m.submitted = append(m.submitted, wire)
			}
		}
	}
	if m.respond != nil {
		return m.respond(m.calls)
	}
	return json.RawMessage(`555`), nil
}

func testQueue(t *testing.T) *queue.Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pos.db")
	migrations := []store.Migration{{Version: 1, AddPartitions: []string{queue.Partition}}}
	s, err := store.Open(context.Background(), store.DefaultConfig(path), migrations)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return queue.New(s)
}

func TestSyncOne_RoundTrip(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	backend := &mockBackend{}
	c := New(q, backend)

	o, err := q.Enqueue(ctx, map[string]interface{}{
		"lines":        []interface{}{map[string]interface{}{"product_id": 7.0, "qty": 2.0, "price_unit": 10.0}},
		"amount_total": 20.0,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].Status != queue.StatusPending {
		t.Fatalf("expected one pending order, got %+v", pending)
	}

	serverID, err := c.SyncOne(ctx, o.LocalID)
	if err != nil {
		t.Fatalf("sync one: %v", err)
	}
	if serverID != 555 {
		t.Fatalf("expected server id 555, got %d", serverID)
	}
	got, _ := q.ByLocalID(ctx, o.LocalID)
	if got.Status != queue.StatusSynced || got.ServerID != 555 {
		t.Fatalf("expected SYNCED/555, got %s/%d", got.Status, got.ServerID)
	}

	// second call is a no-op guarded by status
	serverID, err = c.SyncOne(ctx, o.LocalID)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if serverID != 555 {
		t.Fatalf("resync must return the recorded server id, got %d", serverID)
	}
	if backend.calls != 1 {
		t.Fatalf("resync of a SYNCED order must make zero remote calls, got %d", backend.calls)
	}
}

func TestSyncOne_FailureMarksFailed(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	backend := &mockBackend{respond: func(int) (json.RawMessage, error) {
		return nil, errors.New("connection reset")
	}}
	c := New(q, backend)

	o, _ := q.Enqueue(ctx, map[string]interface{}{"amount_total": 1.0})
	if _, err := c.SyncOne(ctx, o.LocalID); err == nil {
		t.Fatalf("expected error")
	}
	got, _ := q.ByLocalID(ctx, o.LocalID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("expected FAILED, got %s", got.Status)
	}
	// FAILED orders stay eligible for retry
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("failed order must remain retryable")
	}
}

func TestSyncOne_UnparseableAckMarksFailed(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	backend := &mockBackend{respond: func(int) (json.RawMessage, error) {
		return json.RawMessage(`{"ok": true}`), nil
	}}
	c := New(q, backend)

	o, _ := q.Enqueue(ctx, map[string]interface{}{})
	if _, err := c.SyncOne(ctx, o.LocalID); err == nil {
		t.Fatalf("expected error for unconfirmed acknowledgement")
	}
	got, _ := q.ByLocalID(ctx, o.LocalID)
	if got.Status == queue.StatusSynced {
		t.Fatalf("order must never be SYNCED without a confirmed server id")
	}
}

func TestSyncOne_UnknownOrder(t *testing.T) {
	c := New(testQueue(t), &mockBackend{})
	_, err := c.SyncOne(context.Background(), "missing")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSyncAll_BatchResilience(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	// second submission fails, the rest succeed
	backend := &mockBackend{respond: func(call int) (json.RawMessage, error) {
		if call == 2 {
			return nil, errors.New("server error")
		}
		return json.RawMessage(`[100]`), nil
	}}
	c := New(q, backend)

	var locals []string
	for i := 0; i < 3; i++ {
		o, _ := q.Enqueue(ctx, map[string]interface{}{"i": i})
		locals = append(locals, o.LocalID)
	}

	report, err := c.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Total != 3 || report.Synced != 2 {
		t.Fatalf("expected 2/3 synced, got %d/%d", report.Synced, report.Total)
	}
	if len(report.Results) != 3 {
		t.Fatalf("expected a result per order, got %d", len(report.Results))
	}

	failed, _ := q.ByLocalID(ctx, locals[1])
	if failed.Status != queue.StatusFailed {
		t.Fatalf("failing order must be FAILED, got %s", failed.Status)
	}
	for _, id := range []string{locals[0], locals[2]} {
		o, _ := q.ByLocalID(ctx, id)
		if o.Status != queue.StatusSynced {
			t.Fatalf("order %s should be SYNCED, got %s", id, o.Status)
		}
	}
}

func TestSyncAll_SkipsSyncedOrders(t *testing.T) {
	ctx := context.Background()
	q := testQueue(t)
	backend := &mockBackend{}
	c := New(q, backend)

	o, _ := q.Enqueue(ctx, map[string]interface{}{})
	_, _ = c.SyncOne(ctx, o.LocalID)

	report, err := c.SyncAll(ctx)
	if err != nil {
		t.Fatalf("sync all: %v", err)
	}
	if report.Total != 0 {
		t.Fatalf("synced orders are not pending work, got total %d", report.Total)
	}
	if backend.calls != 1 {
		t.Fatalf("expected no extra remote calls, got %d", backend.calls)
	}
}

func TestBuildWireOrder_NormalizesBothEncodings(t *testing.T) {
	q := testQueue(t)
	o, _ := q.Enqueue(context.Background(), map[string]interface{}{
		"lines": []interface{}{
			map[string]interface{}{"product_id": 7.0, "qty": 2.0},          // object-encoded
			[]interface{}{0.0, 0.0, map[string]interface{}{"product_id": 8.0}}, // tuple-encoded
			"garbage",
		},
		"payments": []interface{}{
			[]interface{}{0.0, 0.0, map[string]interface{}{"amount": 20.0}},
		},
		"amount_total": 20.0,
		"session_id":   42.0,
	})

	wire := buildWireOrder(o)
	lines, ok := wire["lines"].([]interface{})
	if !ok || len(lines) != 2 {
		t.Fatalf("expected 2 normalized lines, got %v", wire["lines"])
	}
	for i, l := range lines {
		triple, ok := l.([]interface{})
		if !ok || len(triple) != 3 {
			t.Fatalf("line %d not a command triple: %v", i, l)
		}
		if _, ok := triple[2].(map[string]interface{}); !ok {
			t.Fatalf("line %d record missing: %v", i, l)
		}
	}
	payments, ok := wire["payments"].([]interface{})
	if !ok || len(payments) != 1 {
		t.Fatalf("expected 1 normalized payment, got %v", wire["payments"])
	}
	if wire["amount_total"] != 20.0 || wire["session_id"] != 42.0 {
		t.Fatalf("flat fields must pass through: %v", wire)
	}
	if wire["pos_reference"] != o.LocalID {
		t.Fatalf("pos_reference must carry the local id")
	}
}

func TestParseServerID_Shapes(t *testing.T) {
	cases := map[string]string{
		"bare number": `555`,
		"list":        `[555]`,
		"object":      `{"id":555}`,
		"object list": `[{"id":555}]`,
	}
	for name, raw := range cases {
		id, err := parseServerID(json.RawMessage(raw))
		if err != nil || id != 555 {
			t.Fatalf("%s: got id=%d err=%v", name, id, err)
		}
	}
	if _, err := parseServerID(json.RawMessage(`"nope"`)); err == nil {
		t.Fatalf("string id must not parse")
	}
}
