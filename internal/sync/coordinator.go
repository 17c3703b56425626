// Package sync reconciles locally queued orders with the remote backend.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/tillworks/possync/internal/queue"
	"github.com/tillworks/possync/internal/rpc"
)

// Result is the outcome of syncing one order.
type Result struct {
	LocalID  string `json:"local_id"`
	ServerID int64  `json:"server_id,omitempty"`
	Synced   bool   `json:"synced"`
	Err      string `json:"error,omitempty"`
}

// Report aggregates a SyncAll run.
type Report struct {
	Synced  int      `json:"synced"`
	Total   int      `json:"total"`
	Results []Result `json:"results"`
}

// Coordinator drains the offline order queue against the backend. It only
// ever touches order state through the queue's API.
type Coordinator struct {
	queue   *queue.Queue
	backend rpc.Invoker
}

// New returns a Coordinator over q and the backend.
func New(q *queue.Queue, backend rpc.Invoker) *Coordinator {
	return &Coordinator{queue: q, backend: backend}
}

// SyncOne submits one order. An order already SYNCED is a no-op returning
// the recorded server id with zero remote calls — the guard against
// duplicate creation when an acknowledgement was lost after a success.
// On failure the order moves to FAILED and the error is returned.
func (c *Coordinator) SyncOne(ctx context.Context, localID string) (int64, error) {
	o, err := c.queue.ByLocalID(ctx, localID)
	if err != nil {
		return 0, err
	}
	if o.Status == queue.StatusSynced {
		return o.ServerID, nil
	}

	raw, err := c.backend.Call(ctx, "pos.order", "create_from_ui",
		[]interface{}{[]interface{}{buildWireOrder(o)}}, nil)
	if err != nil {
		if serr := c.queue.SetStatus(ctx, localID, queue.StatusFailed, 0); serr != nil {
			log.Printf("[sync] mark failed %s: %v", localID, serr)
		}
		return 0, fmt.Errorf("submit order %s: %w", localID, err)
	}

	serverID, err := parseServerID(raw)
	if err != nil {
		// no confirmed acknowledgement, so the order must not become SYNCED
		if serr := c.queue.SetStatus(ctx, localID, queue.StatusFailed, 0); serr != nil {
			log.Printf("[sync] mark failed %s: %v", localID, serr)
		}
		return 0, fmt.Errorf("order %s: %w", localID, err)
	}

	if err := c.queue.SetStatus(ctx, localID, queue.StatusSynced, serverID); err != nil {
		return 0, fmt.Errorf("mark synced %s: %w", localID, err)
	}
	return serverID, nil
}

// SyncAll drains every retryable order sequentially. Order creation is never
// parallelized per session: concurrent creation races the server's order
// numbering. One order failing never aborts the batch.
func (c *Coordinator) SyncAll(ctx context.Context) (Report, error) {
	pending, err := c.queue.Pending(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{Total: len(pending), Results: make([]Result, 0, len(pending))}
	for _, o := range pending {
		serverID, err := c.SyncOne(ctx, o.LocalID)
		if err != nil {
			log.Printf("[sync] order %s failed: %v", o.LocalID, err)
			report.Results = append(report.Results, Result{LocalID: o.LocalID, Err: err.Error()})
			continue
		}
		report.Synced++
		report.Results = append(report.Results, Result{LocalID: o.LocalID, ServerID: serverID, Synced: true})
	}
	log.Printf("[sync] drained queue: %d/%d synced", report.Synced, report.Total)
	return report, nil
}

// parseServerID accepts the id shapes order creation has returned over time:
// a bare number, a list with the number first, or an object carrying "id".
func parseServerID(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil && n > 0 {
		return n, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return parseServerID(list[0])
	}
	var obj struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.ID > 0 {
		return obj.ID, nil
	}
	return 0, fmt.Errorf("unrecognized server id in response %s", raw)
}
