package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/gridsync/gridsync/internal/sor"
)

// keyedRow is one grid data row addressed by its sync key.
type keyedRow struct {
	rowNum int
	cells  []any
}

// syncBidirectional runs the three-way diff pipeline: hash both sides,
// classify every key against the last snapshot, resolve conflicts under
// the configured strategy, apply the grid-to-SOR half first so created
// records have IDs, then rebuild the grid from the merged record set
// and persist a fresh snapshot.
func (rc *runContext) syncBidirectional(ctx context.Context) error {
	if err := rc.loadSchema(ctx); err != nil {
		return err
	}

	records, err := rc.fetchRecords(ctx)
	if err != nil {
		return err
	}

	records = rc.applyRecordCap(records)

	rows, err := rc.readGrid(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]*sor.Record, len(records))
	byPrimary := make(map[string]*sor.Record, len(records))
	primary := rc.table.PrimaryField()

	for i := range records {
		byID[records[i].ID] = &records[i]

		if primary != nil {
			if name := cellNorm(records[i].Fields[primary.Name]); name != "" {
				byPrimary[foldCase.String(name)] = &records[i]
			}
		}
	}

	gridRows := rc.keyGridRows(rows, byPrimary)

	sorHashes := make(map[string]string, len(records))
	builtBefore := make(map[string][]any, len(records))

	for _, rec := range records {
		built := rc.buildGridRow(ctx, rec)
		builtBefore[rec.ID] = built
		sorHashes[rec.ID] = contentHash(rc.hashRow(built))
	}

	gridHashes := make(map[string]string, len(gridRows))
	for key, row := range gridRows {
		gridHashes[key] = contentHash(rc.hashRow(row.cells))
	}

	snap, err := rc.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	changes := detectChanges(sorHashes, gridHashes, snap)

	var conflicts []Change

	for _, c := range changes {
		if c.Conflict {
			conflicts = append(conflicts, c)
		}
	}

	decisions := resolveConflicts(conflicts, rc.cfg.ConflictStrategy)
	rc.summarizeConflicts(decisions)

	plan := buildMergePlan(changes, decisions)

	// Grid to SOR half first: creates mint the record IDs the snapshot
	// and reserved column need.
	created := rc.applyGridSide(ctx, plan, gridRows, byID)

	final := mergeRecords(records, created, plan.deleteFromSorSet(), plan.deleteFromGridSet())

	counted := make(map[string]struct{}, len(created))
	for _, rec := range created {
		counted[rec.ID] = struct{}{}
	}

	// Deletions must propagate to the grid regardless of the
	// destructive-mode flag; the rebuild blanks the tail rows.
	rc.opts.deleteExtras = true

	builtAfter := rc.writeRecordsToGrid(ctx, final, rows, counted)
	rc.hideIDColumn(ctx)
	rc.applyDropdowns(ctx)

	return rc.saveSnapshot(ctx, final, builtAfter)
}

// keyGridRows indexes data rows by sync key: the reserved-column ID
// when present, a primary-field match against existing records second,
// and a positional key for rows seen for the first time.
func (rc *runContext) keyGridRows(rows [][]any, byPrimary map[string]*sor.Record) map[string]keyedRow {
	keyed := make(map[string]keyedRow, len(rows))

	primaryBinding := (*binding)(nil)
	if p := rc.table.PrimaryField(); p != nil {
		primaryBinding = rc.bindingFor(p.ID)
	}

	for i := 1; i < len(rows); i++ {
		cells := rowCells(rows[i])
		if rowIsEmpty(cells) {
			continue
		}

		rowNum := i + 1
		key := cellNorm(cells[idColumnIndex])

		if key == "" && primaryBinding != nil {
			if name := cellNorm(cells[primaryBinding.col]); name != "" {
				if rec, ok := byPrimary[foldCase.String(name)]; ok {
					key = rec.ID
				}
			}
		}

		if key == "" {
			key = fmt.Sprintf("row_%d", rowNum)
		}

		if _, dup := keyed[key]; dup {
			rc.report.addWarning("row %d: duplicate key %q; row ignored", rowNum, key)
			continue
		}

		keyed[key] = keyedRow{rowNum: rowNum, cells: cells}
	}

	return keyed
}

// loadSnapshot fetches the persisted hash state, or nil on first sync.
func (rc *runContext) loadSnapshot(ctx context.Context) (*Snapshot, error) {
	data, _, ok, err := rc.engine.store.GetHashSnapshot(ctx, rc.cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("loading hash snapshot: %w", err)
	}

	if !ok {
		return nil, nil //nolint:nilnil // absent snapshot is the first-sync signal
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		rc.report.addWarning("hash snapshot unreadable; treating run as first sync: %v", err)
		return nil, nil //nolint:nilnil
	}

	return snap, nil
}

// summarizeConflicts records the decision tally and surfaces each
// resolution reason.
func (rc *runContext) summarizeConflicts(decisions []Decision) {
	if len(decisions) == 0 {
		return
	}

	summary := &ConflictSummary{Total: len(decisions)}

	for _, d := range decisions {
		switch d.Action {
		case ActionUseSor:
			summary.SorWins++
		case ActionUseGrid:
			summary.GridWins++
		case ActionDelete:
			summary.Deleted++
		case ActionSkip:
			summary.Skipped++
		}

		rc.report.addWarning("conflict on %s: %s", d.Key, d.Reason)
	}

	rc.report.Conflicts = summary
}

// mergePlan partitions keys by the side that receives writes.
type mergePlan struct {
	pushToSor      []string
	deleteFromSor  []string
	deleteFromGrid []string
}

func (p *mergePlan) deleteFromSorSet() map[string]struct{} {
	return stringSet(p.deleteFromSor)
}

func (p *mergePlan) deleteFromGridSet() map[string]struct{} {
	return stringSet(p.deleteFromGrid)
}

func stringSet(keys []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}

	return set
}

// buildMergePlan folds non-conflicting changes and conflict decisions
// into per-side work lists. SOR-bound pushes are sorted for stable
// batch order. Keys the SOR side wins need no entry: the grid rebuild
// applies them implicitly.
func buildMergePlan(changes []Change, decisions []Decision) *mergePlan {
	plan := &mergePlan{}

	decided := make(map[string]Decision, len(decisions))
	for _, d := range decisions {
		decided[d.Key] = d
	}

	for _, c := range changes {
		if d, ok := decided[c.Key]; ok {
			switch d.Action {
			case ActionUseGrid:
				plan.pushToSor = append(plan.pushToSor, c.Key)
			case ActionDelete:
				if c.State == StateDeletedInGrid {
					plan.deleteFromSor = append(plan.deleteFromSor, c.Key)
				} else {
					plan.deleteFromGrid = append(plan.deleteFromGrid, c.Key)
				}
			}

			continue
		}

		switch c.State {
		case StateNewInGrid, StateGridOnlyChange:
			plan.pushToSor = append(plan.pushToSor, c.Key)
		case StateDeletedInGrid:
			plan.deleteFromSor = append(plan.deleteFromSor, c.Key)
		case StateDeletedInSor:
			plan.deleteFromGrid = append(plan.deleteFromGrid, c.Key)
		}
	}

	sort.Strings(plan.pushToSor)

	return plan
}

// applyGridSide lands the grid-to-SOR half of the merge: creates,
// updates, and deletes derived from the plan. Existing records are
// patched in memory so the grid rebuild sees the merged values.
func (rc *runContext) applyGridSide(
	ctx context.Context,
	plan *mergePlan,
	gridRows map[string]keyedRow,
	byID map[string]*sor.Record,
) []sor.Record {
	var creates, updates []rowOp

	for _, key := range plan.pushToSor {
		row, ok := gridRows[key]
		if !ok {
			continue
		}

		fields, err := rc.rowToFields(ctx, row.rowNum, row.cells)
		if err != nil {
			// Aborting a half-applied merge would strand the other
			// side, so even strict mode degrades to skipping the row.
			rc.report.addError(KindValidation, key, err)
			continue
		}

		if len(fields) == 0 {
			continue
		}

		rec, exists := byID[key]
		if !exists {
			creates = append(creates, rowOp{rowNum: row.rowNum, key: key, fields: fields})
			continue
		}

		changed := rc.diffFields(rec, fields)
		if len(changed) == 0 {
			continue
		}

		updates = append(updates, rowOp{rowNum: row.rowNum, key: key, fields: changed, matchID: rec.ID})

		for name, val := range changed {
			rec.Fields[name] = val
		}
	}

	_, created := rc.applyCreates(ctx, creates)
	rc.applyUpdates(ctx, updates)

	rc.deleteSorRecords(ctx, plan.deleteFromSor, byID)

	return created
}

// deleteSorRecords removes records whose grid rows were deleted.
func (rc *runContext) deleteSorRecords(ctx context.Context, keys []string, byID map[string]*sor.Record) {
	var ids []string

	for _, key := range keys {
		if _, ok := byID[key]; ok {
			ids = append(ids, key)
		}
	}

	sort.Strings(ids)

	for batch := range chunked(len(ids), sor.MaxBatchSize) {
		if ctx.Err() != nil {
			rc.report.addWarning("run cancelled before completion")
			return
		}

		if rc.opts.dryRun {
			rc.report.Deleted += len(batch)
			continue
		}

		batchIDs := make([]string, 0, len(batch))
		for _, i := range batch {
			batchIDs = append(batchIDs, ids[i])
		}

		deleted, err := rc.sor.DeleteRecords(ctx, rc.cfg.SorBaseID, rc.cfg.SorTableID, batchIDs)
		if err != nil {
			rc.report.addError(kindOr(err, KindWrite), batchIDs[0], err)
			continue
		}

		rc.report.Deleted += len(deleted)
	}
}

// mergeRecords composes the post-merge record set: surviving records in
// their original order, then records created from grid rows.
func mergeRecords(records, created []sor.Record, deletedSor, deletedGrid map[string]struct{}) []sor.Record {
	final := make([]sor.Record, 0, len(records)+len(created))

	for _, rec := range records {
		if _, gone := deletedSor[rec.ID]; gone {
			continue
		}

		if _, gone := deletedGrid[rec.ID]; gone {
			// deleteFromGrid keys name records already absent from the
			// SOR; present ones mean the strategy restored them.
			continue
		}

		final = append(final, rec)
	}

	return append(final, created...)
}

// saveSnapshot persists the converged hash state. After a successful
// run both sides render identically, so each entry carries the same
// hash for both.
func (rc *runContext) saveSnapshot(ctx context.Context, final []sor.Record, built map[string][]any) error {
	if rc.opts.dryRun {
		return nil
	}

	snap := NewSnapshot()
	now := rc.engine.nowFunc().UTC()
	snap.LastSyncTime = now

	for _, rec := range final {
		row, ok := built[rec.ID]
		if !ok {
			continue
		}

		hash := contentHash(rc.hashRow(row))
		snap.Entries[rec.ID] = SnapshotEntry{SorHash: hash, GridHash: hash, CapturedAt: now}
	}

	data, err := snap.encode()
	if err != nil {
		return fmt.Errorf("encoding hash snapshot: %w", err)
	}

	if err := rc.engine.store.SaveHashSnapshot(ctx, rc.cfg.ID, data, now); err != nil {
		return fmt.Errorf("persisting hash snapshot: %w", err)
	}

	return nil
}
