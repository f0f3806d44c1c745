package engine

import (
	"context"

	"github.com/gridsync/gridsync/internal/grid"
	"github.com/gridsync/gridsync/internal/sor"
)

// syncSorToGrid runs the SOR to grid pipeline: fetch the table and the
// worksheet, project records into rows in SOR order, and rewrite only
// the rows that differ. Per-batch failures are captured on the report;
// only fetch-phase failures abort the run.
func (rc *runContext) syncSorToGrid(ctx context.Context) error {
	if err := rc.loadSchema(ctx); err != nil {
		return err
	}

	records, err := rc.fetchRecords(ctx)
	if err != nil {
		return err
	}

	records = rc.applyRecordCap(records)

	existing, err := rc.readGrid(ctx)
	if err != nil {
		return err
	}

	rc.writeRecordsToGrid(ctx, records, existing, nil)
	rc.hideIDColumn(ctx)
	rc.applyDropdowns(ctx)

	return nil
}

// applyRecordCap enforces the plan's per-run ceiling and raises the
// approaching-limit warning.
func (rc *runContext) applyRecordCap(records []sor.Record) []sor.Record {
	allowed, nearLimit := checkRecordCap(len(records), rc.engine.maxRecordsPerSync)

	if allowed < len(records) {
		rc.report.addWarning("record cap reached: syncing %d of %d records", allowed, len(records))
		records = records[:allowed]
	}

	if nearLimit {
		rc.report.addWarning("approaching plan limit: %d of %d records", allowed, rc.engine.maxRecordsPerSync)
	}

	return records
}

// dirtyRow is one pending full-width row write plus the counter it
// commits once the write lands.
type dirtyRow struct {
	rowNum  int // 1-based sheet row
	cells   []any
	added   bool
	updated bool
	deleted bool
}

// writeRecordsToGrid projects records positionally into the sheet,
// header first, and flushes the differing rows in contiguous batches.
// With deleteExtras, data rows past the record set are blanked. Keys in
// skipCount were already counted by an earlier phase. Returns the built
// row per record ID for snapshot hashing.
func (rc *runContext) writeRecordsToGrid(ctx context.Context, records []sor.Record, existing [][]any, skipCount map[string]struct{}) map[string][]any {
	existingByID := make(map[string]int, len(existing))
	for i := 1; i < len(existing); i++ {
		if id := cellNorm(rowCells(existing[i])[idColumnIndex]); id != "" {
			existingByID[id] = i
		}
	}

	recordIDs := make(map[string]struct{}, len(records))
	for _, rec := range records {
		recordIDs[rec.ID] = struct{}{}
	}

	var dirty []dirtyRow

	if len(existing) == 0 {
		header := make([]any, gridWidth)
		for i := range header {
			header[i] = ""
		}

		for _, b := range rc.bindings {
			header[b.col] = b.field.Name
		}

		header[idColumnIndex] = "ID"
		dirty = append(dirty, dirtyRow{rowNum: 1, cells: header})
	}

	builtRows := make(map[string][]any, len(records))

	for i, rec := range records {
		rowNum := i + 2
		built := rc.buildGridRow(ctx, rec)
		builtRows[rec.ID] = built

		var exist []any
		if rowNum-1 < len(existing) {
			exist = rowCells(existing[rowNum-1])
		}

		if exist != nil {
			existAA := cellNorm(exist[idColumnIndex])
			if existAA != "" && existAA != rec.ID {
				if _, ours := recordIDs[existAA]; !ours {
					// Pre-existing user data in the reserved column is
					// never silently overwritten.
					rc.report.addWarning("row %d: reserved column holds %q; record ID not written", rowNum, existAA)
					built[idColumnIndex] = exist[idColumnIndex]
				}
			}
		}

		if exist != nil && rowsEqual(built, exist) {
			continue
		}

		row := dirtyRow{rowNum: rowNum, cells: built}

		if _, counted := skipCount[rec.ID]; !counted {
			_, known := existingByID[rec.ID]
			row.added = !known
			row.updated = known
		}

		dirty = append(dirty, row)
	}

	if rc.opts.deleteExtras {
		blank := make([]any, gridWidth)
		for i := range blank {
			blank[i] = ""
		}

		for rowNum := len(records) + 2; rowNum <= len(existing); rowNum++ {
			if rowIsEmpty(existing[rowNum-1]) {
				continue
			}

			dirty = append(dirty, dirtyRow{rowNum: rowNum, cells: blank, deleted: true})
		}
	}

	if len(dirty) == 0 {
		return builtRows
	}

	if !rc.opts.dryRun {
		if err := rc.grid.EnsureColumnCount(ctx, rc.cfg.GridWorkbookID, rc.sheet, gridWidth); err != nil {
			rc.report.addError(KindWrite, "", err)
			return builtRows
		}
	}

	rc.flushRows(ctx, dirty)

	return builtRows
}

// flushRows writes dirty rows as contiguous runs, each run chunked to
// the provider's batch ceiling, committing counters per landed batch.
func (rc *runContext) flushRows(ctx context.Context, dirty []dirtyRow) {
	for _, run := range contiguousRuns(dirty) {
		for batch := range chunked(len(run), grid.MaxRowBatch) {
			if ctx.Err() != nil {
				rc.report.addWarning("run cancelled before completion")
				return
			}

			values := make([][]any, 0, len(batch))
			for _, i := range batch {
				values = append(values, run[i].cells)
			}

			if !rc.opts.dryRun {
				rangeA1 := rc.a1Range(run[batch[0]].rowNum, len(batch))
				if _, err := rc.grid.UpdateValues(ctx, rc.cfg.GridWorkbookID, rangeA1, values); err != nil {
					rc.report.addError(kindOr(err, KindWrite), "", err)

					if classifyError(err) == KindOAuth {
						return
					}

					continue
				}
			}

			for _, i := range batch {
				switch {
				case run[i].added:
					rc.report.Added++
				case run[i].updated:
					rc.report.Updated++
				case run[i].deleted:
					rc.report.Deleted++
				}
			}
		}
	}
}

// contiguousRuns splits dirty rows into runs of adjacent row numbers so
// each value write covers exactly the rows that changed.
func contiguousRuns(dirty []dirtyRow) [][]dirtyRow {
	var runs [][]dirtyRow

	for i := 0; i < len(dirty); {
		j := i + 1
		for j < len(dirty) && dirty[j].rowNum == dirty[j-1].rowNum+1 {
			j++
		}

		runs = append(runs, dirty[i:j])
		i = j
	}

	return runs
}
