// Package cache orchestrates loading reference data for a POS session into
// the local store and deciding when that data is stale.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tillworks/possync/internal/records"
	"github.com/tillworks/possync/internal/rpc"
	"github.com/tillworks/possync/internal/store"
)

// Reference-data models loaded per session. Each model gets its own
// partition, named after the model.
var ReferenceModels = []string{
	"product.product",
	"product.category",
	"res.partner",
	"account.tax",
	"pos.payment.method",
	"product.pricelist",
	"pos.config",
	"hr.employee",
	"res.currency",
	"uom.uom",
}

// Critical models: the cache is stale, regardless of age, when any of these
// is empty locally. A till cannot sell without them.
var criticalModels = []string{
	"product.product",
	"product.category",
	"res.partner",
}

// Utility partitions.
const (
	PartitionRawData  = "raw_data"
	PartitionMetadata = "metadata"
)

const (
	recordSetKey = "recordset"
	metadataKey  = "cache"
	rawDataKey   = "last_load"
)

// DefaultTTL is how long a loaded cache stays fresh for the same session.
const DefaultTTL = 15 * time.Minute

// Partitions returns every partition this package owns, for the schema
// catalog.
func Partitions() []string {
	out := make([]string, 0, len(ReferenceModels)+2)
	out = append(out, ReferenceModels...)
	return append(out, PartitionRawData, PartitionMetadata)
}

// Metadata records which session's data is in the store and when it was
// loaded. Absence means "never loaded".
type Metadata struct {
	SessionID      int64 `json:"session_id"`
	LoadedAtMillis int64 `json:"loaded_at_ms"`
}

// Options modifies a Load call. Force skips the freshness check; Model
// restricts the pipeline to a single model (and leaves Metadata untouched).
type Options struct {
	Force bool
	Model string
}

// Cache is the DataCache: it owns freshness decisions and the typed read
// surface over normalized record sets.
type Cache struct {
	store   *store.Store
	backend rpc.Invoker
	ttl     time.Duration
	nowFunc func() time.Time
}

// New builds a Cache with the default TTL.
func New(s *store.Store, backend rpc.Invoker) *Cache {
	return NewWithTTL(s, backend, DefaultTTL)
}

// NewWithTTL builds a Cache with a configured freshness window.
func NewWithTTL(s *store.Store, backend rpc.Invoker, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: s, backend: backend, ttl: ttl, nowFunc: time.Now}
}

// IsFresh reports whether the cached data can serve sessionID without a
// refetch. Three conditions, all required: the metadata belongs to this
// session, it is younger than the TTL, and every critical model has records.
func (c *Cache) IsFresh(ctx context.Context, sessionID int64) (bool, error) {
	meta, err := c.metadata(ctx)
	if err != nil {
		return false, err
	}
	if meta == nil || meta.SessionID != sessionID {
		return false, nil
	}
	age := c.nowFunc().UnixMilli() - meta.LoadedAtMillis
	if age >= c.ttl.Milliseconds() {
		return false, nil
	}
	for _, model := range criticalModels {
		rs, err := c.recordSet(ctx, model)
		if err != nil {
			return false, err
		}
		if len(rs.Records) == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Load returns the record sets for sessionID, fetching from the backend when
// the cache is stale (or when forced, or when a single model is requested).
// Network failures surface unchanged: a stale read is an acceptable fallback
// and retrying is the caller's call.
func (c *Cache) Load(ctx context.Context, sessionID int64, opts Options) (map[string]records.RecordSet, error) {
	scope := ReferenceModels
	if opts.Model != "" {
		scope = []string{opts.Model}
	}

	if !opts.Force && opts.Model == "" {
		fresh, err := c.IsFresh(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if fresh {
			return c.cached(ctx, scope)
		}
	}

	raw, err := c.backend.Call(ctx, "pos.session", "load_data",
		[]interface{}{sessionID}, map[string]interface{}{"models": scope})
	if err != nil {
		return nil, err
	}

	// Raw payload goes to the debug partition first so operators can inspect
	// exactly what the server sent, even if normalization drops it all.
	if err := c.store.Put(ctx, PartitionRawData, rawDataKey, raw); err != nil {
		return nil, fmt.Errorf("store raw payload: %w", err)
	}

	var perModel map[string]json.RawMessage
	if err := json.Unmarshal(raw, &perModel); err != nil {
		log.Printf("[cache] load payload is not a model map, treating all models as empty")
		perModel = map[string]json.RawMessage{}
	}

	out := make(map[string]records.RecordSet, len(scope))
	for _, model := range scope {
		rs := records.Normalize(model, perModel[model])
		if err := c.putRecordSet(ctx, model, rs); err != nil {
			return nil, err
		}
		out[model] = rs
	}

	// Metadata is written only after every write in scope succeeded, and only
	// for full loads: a single-model refresh says nothing about the rest.
	if opts.Model == "" {
		meta := Metadata{SessionID: sessionID, LoadedAtMillis: c.nowFunc().UnixMilli()}
		blob, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("marshal cache metadata: %w", err)
		}
		if err := c.store.Put(ctx, PartitionMetadata, metadataKey, blob); err != nil {
			return nil, fmt.Errorf("store cache metadata: %w", err)
		}
	}
	return out, nil
}

// cached reads the requested models from the store without any network.
func (c *Cache) cached(ctx context.Context, scope []string) (map[string]records.RecordSet, error) {
	out := make(map[string]records.RecordSet, len(scope))
	for _, model := range scope {
		rs, err := c.recordSet(ctx, model)
		if err != nil {
			return nil, err
		}
		out[model] = rs
	}
	return out, nil
}

func (c *Cache) metadata(ctx context.Context) (*Metadata, error) {
	blob, err := c.store.Get(ctx, PartitionMetadata, metadataKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Metadata
	if err := json.Unmarshal(blob, &m); err != nil {
		// unreadable metadata counts as never loaded
		log.Printf("[cache] unreadable cache metadata, treating as never loaded: %v", err)
		return nil, nil
	}
	return &m, nil
}

func (c *Cache) putRecordSet(ctx context.Context, model string, rs records.RecordSet) error {
	blob, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal record set %s: %w", model, err)
	}
	if err := c.store.Put(ctx, model, recordSetKey, blob); err != nil {
		return fmt.Errorf("store record set %s: %w", model, err)
	}
	return nil
}

// recordSet reads one model's set; a missing or unreadable partition reads
// as empty, never as an error the accessors would have to handle.
func (c *Cache) recordSet(ctx context.Context, model string) (records.RecordSet, error) {
	blob, err := c.store.Get(ctx, model, recordSetKey)
	if errors.Is(err, store.ErrNotFound) {
		return records.Empty(model), nil
	}
	if err != nil {
		return records.Empty(model), err
	}
	var rs records.RecordSet
	if err := json.Unmarshal(blob, &rs); err != nil {
		log.Printf("[cache] unreadable record set for %s, treating as empty", model)
		return records.Empty(model), nil
	}
	if rs.Records == nil {
		rs.Records = []records.Record{}
	}
	return rs, nil
}

// RecordsFor returns the cached records for any model, empty when absent.
func (c *Cache) RecordsFor(ctx context.Context, model string) []records.Record {
	rs, err := c.recordSet(ctx, model)
	if err != nil {
		log.Printf("[cache] read %s: %v", model, err)
		return []records.Record{}
	}
	return rs.Records
}

// Typed accessors for the UI collaborator.

func (c *Cache) Products(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "product.product")
}

func (c *Cache) ProductCategories(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "product.category")
}

func (c *Cache) Partners(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "res.partner")
}

func (c *Cache) Taxes(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "account.tax")
}

func (c *Cache) PaymentMethods(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "pos.payment.method")
}

func (c *Cache) PriceLists(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "product.pricelist")
}

func (c *Cache) POSConfigs(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "pos.config")
}

func (c *Cache) Employees(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "hr.employee")
}

func (c *Cache) Currencies(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "res.currency")
}

func (c *Cache) UnitsOfMeasure(ctx context.Context) []records.Record {
	return c.RecordsFor(ctx, "uom.uom")
}

// DebugRawPayload returns the verbatim payload of the last fetch, for
// operator inspection. Nil when nothing was ever fetched.
func (c *Cache) DebugRawPayload(ctx context.Context) []byte {
	blob, err := c.store.Get(ctx, PartitionRawData, rawDataKey)
	if err != nil {
		return nil
	}
	return blob
}
