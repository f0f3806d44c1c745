package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/gridsync/gridsync/internal/sor"
)

// DefaultResolverTTL bounds how long cached linked-record name/ID
// pairs are trusted.
const DefaultResolverTTL = 5 * time.Minute

var foldCase = cases.Fold()

// resolverEntry is one table's cached mapping in both directions.
// nameToID keys are case-folded.
type resolverEntry struct {
	idToName   map[string]string
	nameToID   map[string]string
	capturedAt time.Time
}

// Resolver translates linked-record IDs to display names and back,
// caching per (baseID, tableID) with a TTL. Safe for concurrent use
// across pipeline runs.
type Resolver struct {
	ttl     time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time

	mu    sync.Mutex
	cache map[string]*resolverEntry
}

// NewResolver creates a resolver with the given TTL; ttl <= 0 uses the
// default.
func NewResolver(ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultResolverTTL
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		ttl:     ttl,
		logger:  logger,
		nowFunc: time.Now,
		cache:   make(map[string]*resolverEntry),
	}
}

// ResolveResult reports one resolution pass. Missing holds inputs with
// no match; Created holds record IDs created on demand.
type ResolveResult struct {
	Resolved []string
	Missing  []string
	Created  []string
	Warnings []string
}

func cacheKey(baseID, tableID string) string {
	return baseID + "/" + tableID
}

// PreloadTable warms the cache for a linked table by listing all its
// records and indexing primary-field values.
func (r *Resolver) PreloadTable(ctx context.Context, client *sor.Client, baseID, tableID string) error {
	_, err := r.loadTable(ctx, client, baseID, tableID)
	return err
}

func (r *Resolver) loadTable(ctx context.Context, client *sor.Client, baseID, tableID string) (*resolverEntry, error) {
	key := cacheKey(baseID, tableID)

	r.mu.Lock()
	entry, ok := r.cache[key]
	r.mu.Unlock()

	if ok && r.nowFunc().Sub(entry.capturedAt) < r.ttl {
		return entry, nil
	}

	table, err := client.GetTable(ctx, baseID, tableID)
	if err != nil {
		return nil, fmt.Errorf("engine: loading linked table %s: %w", tableID, err)
	}

	primary := table.PrimaryField()
	if primary == nil {
		return nil, fmt.Errorf("engine: linked table %s has no primary field", tableID)
	}

	records, err := client.ListRecords(ctx, baseID, tableID, sor.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("engine: listing linked table %s: %w", tableID, err)
	}

	entry = &resolverEntry{
		idToName:   make(map[string]string, len(records)),
		nameToID:   make(map[string]string, len(records)),
		capturedAt: r.nowFunc(),
	}

	for _, rec := range records {
		name, _ := rec.Fields[primary.Name].(string)
		if name == "" {
			continue
		}

		entry.idToName[rec.ID] = name
		entry.nameToID[foldCase.String(name)] = rec.ID
	}

	r.mu.Lock()
	r.cache[key] = entry
	r.mu.Unlock()

	r.logger.Debug("linked table cached",
		slog.String("base_id", baseID),
		slog.String("table_id", tableID),
		slog.Int("records", len(entry.idToName)),
	)

	return entry, nil
}

// ResolveIDsToNames maps linked-record IDs to display names. Unknown
// IDs after a targeted fetch become Missing in strict mode; otherwise
// they pass through verbatim with a warning.
func (r *Resolver) ResolveIDsToNames(
	ctx context.Context,
	client *sor.Client,
	baseID, tableID string,
	ids []string,
	strict bool,
) (*ResolveResult, error) {
	entry, err := r.loadTable(ctx, client, baseID, tableID)
	if err != nil {
		return nil, err
	}

	res := &ResolveResult{}

	var unknown []string

	r.mu.Lock()
	for _, id := range ids {
		if name, ok := entry.idToName[id]; ok {
			res.Resolved = append(res.Resolved, name)
			continue
		}

		unknown = append(unknown, id)
	}
	r.mu.Unlock()

	if len(unknown) > 0 {
		// The bulk load may be stale; fetch the stragglers directly.
		fetched, fetchErr := r.fetchByIDs(ctx, client, baseID, tableID, unknown)
		if fetchErr != nil {
			return nil, fetchErr
		}

		for _, id := range unknown {
			if name, ok := fetched[id]; ok {
				res.Resolved = append(res.Resolved, name)
				continue
			}

			if strict {
				res.Missing = append(res.Missing, id)
				continue
			}

			res.Resolved = append(res.Resolved, id)
			res.Warnings = append(res.Warnings, fmt.Sprintf("linked record %s not found; ID passed through", id))
		}
	}

	return res, nil
}

// fetchByIDs lists specific records via an OR(RECORD_ID()=...) filter
// and folds them into the cache.
func (r *Resolver) fetchByIDs(ctx context.Context, client *sor.Client, baseID, tableID string, ids []string) (map[string]string, error) {
	table, err := client.GetTable(ctx, baseID, tableID)
	if err != nil {
		return nil, fmt.Errorf("engine: loading linked table %s: %w", tableID, err)
	}

	primary := table.PrimaryField()
	if primary == nil {
		return nil, fmt.Errorf("engine: linked table %s has no primary field", tableID)
	}

	clauses := make([]string, 0, len(ids))
	for _, id := range ids {
		clauses = append(clauses, fmt.Sprintf("RECORD_ID()='%s'", id))
	}

	records, err := client.ListRecords(ctx, baseID, tableID, sor.ListOptions{
		FilterFormula: "OR(" + strings.Join(clauses, ",") + ")",
	})
	if err != nil {
		return nil, fmt.Errorf("engine: fetching linked records: %w", err)
	}

	found := make(map[string]string, len(records))

	r.mu.Lock()
	entry := r.cache[cacheKey(baseID, tableID)]

	for _, rec := range records {
		name, _ := rec.Fields[primary.Name].(string)
		if name == "" {
			continue
		}

		found[rec.ID] = name

		if entry != nil {
			entry.idToName[rec.ID] = name
			entry.nameToID[foldCase.String(name)] = rec.ID
		}
	}
	r.mu.Unlock()

	return found, nil
}

// ResolveNamesToIDs maps display names to record IDs, case-
// insensitively. With createMissing, unmatched names are created in
// the linked table and immediately cached.
func (r *Resolver) ResolveNamesToIDs(
	ctx context.Context,
	client *sor.Client,
	baseID, tableID string,
	names []string,
	createMissing bool,
) (*ResolveResult, error) {
	entry, err := r.loadTable(ctx, client, baseID, tableID)
	if err != nil {
		return nil, err
	}

	res := &ResolveResult{}

	var toCreate []string

	r.mu.Lock()
	for _, name := range names {
		if id, ok := entry.nameToID[foldCase.String(name)]; ok {
			res.Resolved = append(res.Resolved, id)
			continue
		}

		toCreate = append(toCreate, name)
	}
	r.mu.Unlock()

	if len(toCreate) == 0 {
		return res, nil
	}

	if !createMissing {
		res.Missing = toCreate
		for _, name := range toCreate {
			res.Warnings = append(res.Warnings, fmt.Sprintf("linked record %q not found", name))
		}

		return res, nil
	}

	created, err := r.createMissing(ctx, client, baseID, tableID, toCreate)
	if err != nil {
		return nil, err
	}

	for _, name := range toCreate {
		id := created[foldCase.String(name)]
		res.Resolved = append(res.Resolved, id)
		res.Created = append(res.Created, id)
	}

	return res, nil
}

// createMissing creates linked records with the primary field set and
// updates the cache in the same critical section, keeping the cache
// monotonic within a run.
func (r *Resolver) createMissing(ctx context.Context, client *sor.Client, baseID, tableID string, names []string) (map[string]string, error) {
	table, err := client.GetTable(ctx, baseID, tableID)
	if err != nil {
		return nil, fmt.Errorf("engine: loading linked table %s: %w", tableID, err)
	}

	primary := table.PrimaryField()
	if primary == nil {
		return nil, fmt.Errorf("engine: linked table %s has no primary field", tableID)
	}

	created := make(map[string]string, len(names))

	for batch := range chunked(len(names), sor.MaxBatchSize) {
		fields := make([]map[string]any, 0, len(batch))
		for _, i := range batch {
			fields = append(fields, map[string]any{primary.Name: names[i]})
		}

		records, err := client.CreateRecords(ctx, baseID, tableID, fields)
		if err != nil {
			return nil, fmt.Errorf("engine: creating linked records: %w", err)
		}

		r.mu.Lock()
		entry := r.cache[cacheKey(baseID, tableID)]

		for j, rec := range records {
			name := names[batch[j]]
			created[foldCase.String(name)] = rec.ID

			if entry != nil {
				entry.idToName[rec.ID] = name
				entry.nameToID[foldCase.String(name)] = rec.ID
			}
		}
		r.mu.Unlock()

		r.logger.Info("created linked records",
			slog.String("table_id", tableID), slog.Int("count", len(records)))
	}

	return created, nil
}

// Invalidate drops a table's cache entry, forcing a reload on next use.
func (r *Resolver) Invalidate(baseID, tableID string) {
	r.mu.Lock()
	delete(r.cache, cacheKey(baseID, tableID))
	r.mu.Unlock()
}

// chunked yields index slices of at most size covering [0, n).
func chunked(n, size int) func(yield func([]int) bool) {
	return func(yield func(batch []int) bool) {
		for start := 0; start < n; start += size {
			end := min(start+size, n)

			batch := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				batch = append(batch, i)
			}

			if !yield(batch) {
				return
			}
		}
	}
}
