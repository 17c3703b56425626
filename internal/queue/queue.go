// Package queue is the durable queue of orders captured while the backend
// is unreachable. It exclusively owns the offline_orders partition: the sync
// coordinator mutates status and server id only through this API.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tillworks/possync/internal/store"
)

// Order statuses. PENDING and FAILED are both eligible for retry; only a
// confirmed server acknowledgement moves an order to SYNCED.
const (
	StatusPending = "PENDING"
	StatusSynced  = "SYNCED"
	StatusFailed  = "FAILED"
)

// Partition is the store partition owned by this package.
const Partition = "offline_orders"

// ErrNotFound indicates no order exists for the given local id.
var ErrNotFound = errors.New("order not found")

// Order is a locally captured POS order awaiting (or done with)
// reconciliation. LocalID is generated on this device, never by the server.
type Order struct {
	LocalID       string                 `json:"local_id"`
	ServerID      int64                  `json:"server_id,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	Status        string                 `json:"status"`
	Attempts      int                    `json:"attempts,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	LastAttemptAt time.Time              `json:"last_attempt_at,omitempty"`
}

// Queue persists offline orders through the injected store.
type Queue struct {
	store   *store.Store
	nowFunc func() time.Time
	idFunc  func() string
}

// New returns a Queue backed by s.
func New(s *store.Store) *Queue {
	return &Queue{
		store:   s,
		nowFunc: time.Now,
		idFunc:  uuid.NewString,
	}
}

// Enqueue stores payload as a new PENDING order and returns it.
func (q *Queue) Enqueue(ctx context.Context, payload map[string]interface{}) (*Order, error) {
	o := &Order{
		LocalID:   q.idFunc(),
		Payload:   payload,
		Status:    StatusPending,
		CreatedAt: q.nowFunc().UTC(),
	}
	if err := q.put(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ByLocalID fetches one order. Returns ErrNotFound when absent.
func (q *Queue) ByLocalID(ctx context.Context, localID string) (*Order, error) {
	blob, err := q.store.Get(ctx, Partition, localID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", localID, err)
	}
	var o Order
	if err := json.Unmarshal(blob, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order %s: %w", localID, err)
	}
	return &o, nil
}

// SetStatus transitions an order and, for SYNCED, records the server id.
// Sync-attempt outcomes (SYNCED, FAILED) also stamp the attempt time and
// bump the attempt counter.
func (q *Queue) SetStatus(ctx context.Context, localID, status string, serverID int64) error {
	o, err := q.ByLocalID(ctx, localID)
	if err != nil {
		return err
	}
	o.Status = status
	if serverID != 0 {
		o.ServerID = serverID
	}
	if status == StatusSynced || status == StatusFailed {
		o.LastAttemptAt = q.nowFunc().UTC()
		o.Attempts++
	}
	return q.put(ctx, o)
}

// Pending returns every order still carrying retry pressure (PENDING or
// FAILED), oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Order, error) {
	all, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []Order
	for _, o := range all {
		if o.Status == StatusPending || o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out, nil
}

// All returns every stored order, oldest first, synced ones included —
// synced orders are retained for audit and read-back.
func (q *Queue) All(ctx context.Context) ([]Order, error) {
	blobs, err := q.store.GetAll(ctx, Partition)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	out := make([]Order, 0, len(blobs))
	for _, b := range blobs {
		var o Order
		if err := json.Unmarshal(b, &o); err != nil {
			return nil, fmt.Errorf("unmarshal order: %w", err)
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Cleanup deletes SYNCED orders created before the cutoff. Orders are never
// dropped implicitly; this is the one explicit removal path, and it refuses
// to touch anything still pending or failed.
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	all, err := q.All(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := q.nowFunc().UTC().Add(-olderThan)
	removed := 0
	for _, o := range all {
		if o.Status != StatusSynced || !o.CreatedAt.Before(cutoff) {
			continue
		}
		if err := q.store.Delete(ctx, Partition, o.LocalID); err != nil {
			return removed, fmt.Errorf("cleanup order %s: %w", o.LocalID, err)
		}
		removed++
	}
	return removed, nil
}

func (q *Queue) put(ctx context.Context, o *Order) error {
	blob, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", o.LocalID, err)
	}
	if err := q.store.Put(ctx, Partition, o.LocalID, blob); err != nil {
		return fmt.Errorf("store order %s: %w", o.LocalID, err)
	}
	return nil
}
