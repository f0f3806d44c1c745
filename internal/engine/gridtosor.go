package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/gridsync/gridsync/internal/sor"
	"github.com/gridsync/gridsync/internal/typemap"
)

// rowOp is one pending SOR write derived from a grid row.
type rowOp struct {
	rowNum int // 1-based sheet row
	key    string
	fields map[string]any
	// matchID is the existing record for updates; empty means create.
	matchID string
	// backfill writes the record ID into the reserved column after the
	// SOR write lands.
	backfill bool
}

// syncGridToSor runs the grid to SOR pipeline: read the worksheet, map
// rows back onto records via the reserved ID column or the primary
// field, and apply batched creates and updates. Unchanged rows produce
// no writes. In strict mode the first invalid cell aborts the run; in
// lenient mode the row is skipped and reported.
func (rc *runContext) syncGridToSor(ctx context.Context) error {
	if err := rc.loadSchema(ctx); err != nil {
		return err
	}

	rows, err := rc.readGrid(ctx)
	if err != nil {
		return err
	}

	records, err := rc.fetchRecords(ctx)
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

	rc.warnReadOnlyBindings()

	var creates, updates []rowOp

	matched := make(map[string]struct{}, len(records))

	for i := 1; i < len(rows); i++ {
		cells := rowCells(rows[i])
		if rowIsEmpty(cells) {
			continue
		}

		rowNum := i + 1

		op, err := rc.rowToOp(ctx, rowNum, cells, byID, byPrimary)
		if err != nil {
			if rc.opts.strict {
				return err
			}

			rc.report.addError(KindValidation, fmt.Sprintf("row_%d", rowNum), err)

			continue
		}

		if op == nil {
			continue
		}

		if op.matchID == "" {
			creates = append(creates, *op)
			continue
		}

		matched[op.matchID] = struct{}{}

		if len(op.fields) > 0 {
			updates = append(updates, *op)
		}
	}

	backfills, _ := rc.applyCreates(ctx, creates)
	rc.applyUpdates(ctx, updates)

	for _, op := range updates {
		if op.backfill {
			backfills = append(backfills, cellWrite{rowNum: op.rowNum, value: op.matchID})
		}
	}

	if rc.opts.deleteExtras {
		rc.applyDeletes(ctx, records, matched)
	}

	rc.writeIDBackfills(ctx, backfills)
	rc.hideIDColumn(ctx)
	rc.applyDropdowns(ctx)

	return nil
}

// warnReadOnlyBindings surfaces mapped computed fields once per run;
// their cells are ignored on the way back to the SOR.
func (rc *runContext) warnReadOnlyBindings() {
	for _, b := range rc.bindings {
		if b.field.Type.ReadOnly() {
			rc.report.addWarning("field %s is computed; grid edits to it are ignored", b.field.Name)
		}
	}
}

// rowToOp converts one data row into a pending SOR write, matching the
// row to an existing record by reserved-column ID first, then by
// primary field value case-insensitively. A nil op means the row is
// already in sync.
func (rc *runContext) rowToOp(
	ctx context.Context,
	rowNum int,
	cells []any,
	byID, byPrimary map[string]*sor.Record,
) (*rowOp, error) {
	fields, err := rc.rowToFields(ctx, rowNum, cells)
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		return nil, nil
	}

	op := &rowOp{rowNum: rowNum, fields: fields}

	rowID := cellNorm(cells[idColumnIndex])
	op.key = rowID

	if op.key == "" {
		op.key = fmt.Sprintf("row_%d", rowNum)
	}

	var match *sor.Record

	if rowID != "" {
		match = byID[rowID]
		if match == nil {
			rc.report.addWarning("row %d: unknown record ID %q; treating row as new", rowNum, rowID)
		}
	}

	if match == nil {
		if primary := rc.table.PrimaryField(); primary != nil {
			if pb := rc.bindingFor(primary.ID); pb != nil {
				if name := cellNorm(cells[pb.col]); name != "" {
					if match = byPrimary[foldCase.String(name)]; match != nil {
						op.backfill = true
					}
				}
			}
		}
	}

	if match == nil {
		return op, nil
	}

	op.matchID = match.ID
	op.fields = rc.diffFields(match, fields)

	return op, nil
}

// rowToFields converts mapped cells into SOR field values. The first
// invalid cell fails the whole row; warnings accumulate on the report.
func (rc *runContext) rowToFields(ctx context.Context, rowNum int, cells []any) (map[string]any, error) {
	fields := make(map[string]any, len(rc.bindings))

	for _, b := range rc.bindings {
		if b.field.Type.ReadOnly() {
			continue
		}

		res := typemap.ToSor(b.field, cells[b.col])
		for _, w := range res.Warnings {
			rc.report.addWarning("row %d: %s", rowNum, w)
		}

		if len(res.Errors) > 0 {
			return nil, RunError{
				Kind:      KindValidation,
				RecordKey: fmt.Sprintf("row_%d", rowNum),
				Message:   fmt.Sprintf("field %s: %s", b.field.Name, strings.Join(res.Errors, "; ")),
			}
		}

		value := res.Value

		if b.field.Type == sor.FieldLinkedRecords {
			resolved, err := rc.linkNamesToIDs(ctx, rowNum, b.field, value)
			if err != nil {
				return nil, err
			}

			value = resolved
		}

		fields[b.field.Name] = value
	}

	return fields, nil
}

// linkNamesToIDs swaps a linked cell's display names for record IDs,
// creating missing linked records when the run allows it.
func (rc *runContext) linkNamesToIDs(ctx context.Context, rowNum int, field sor.Field, value any) (any, error) {
	names := toStringList(value)
	if len(names) == 0 {
		return nil, nil
	}

	if field.Options == nil || field.Options.LinkedTableID == "" {
		rc.report.addWarning("row %d: field %s has no linked table; cell ignored", rowNum, field.Name)
		return nil, nil
	}

	res, err := rc.engine.resolver.ResolveNamesToIDs(
		ctx, rc.sor, rc.cfg.SorBaseID, field.Options.LinkedTableID, names, rc.opts.createMissingLinked)
	if err != nil {
		return nil, fmt.Errorf("row %d: resolving linked field %s: %w", rowNum, field.Name, err)
	}

	for _, w := range res.Warnings {
		rc.report.addWarning("row %d: %s", rowNum, w)
	}

	return res.Resolved, nil
}

// diffFields keeps only the fields whose grid representation actually
// differs from the existing record, so a no-op row writes nothing.
func (rc *runContext) diffFields(rec *sor.Record, fields map[string]any) map[string]any {
	changed := make(map[string]any, len(fields))

	for _, b := range rc.bindings {
		newVal, ok := fields[b.field.Name]
		if !ok {
			continue
		}

		oldCell := typemap.ToGrid(b.field, rec.Fields[b.field.Name])
		newCell := typemap.ToGrid(b.field, newVal)

		if cellNorm(oldCell.Value) != cellNorm(newCell.Value) {
			changed[b.field.Name] = newVal
		}
	}

	return changed
}

// cellWrite is one pending reserved-column cell update.
type cellWrite struct {
	rowNum int
	value  string
}

// applyCreates batches record creation and returns the reserved-column
// backfills plus the created records, in grid row order.
func (rc *runContext) applyCreates(ctx context.Context, creates []rowOp) ([]cellWrite, []sor.Record) {
	var (
		backfills []cellWrite
		created   []sor.Record
	)

	for batch := range chunked(len(creates), sor.MaxBatchSize) {
		if ctx.Err() != nil {
			rc.report.addWarning("run cancelled before completion")
			return backfills, created
		}

		fields := make([]map[string]any, 0, len(batch))
		for _, i := range batch {
			fields = append(fields, creates[i].fields)
		}

		if rc.opts.dryRun {
			rc.report.Added += len(batch)
			continue
		}

		records, err := rc.sor.CreateRecords(ctx, rc.cfg.SorBaseID, rc.cfg.SorTableID, fields)
		if err != nil {
			rc.report.addError(kindOr(err, KindWrite), creates[batch[0]].key, err)

			if classifyError(err) == KindOAuth {
				return backfills, created
			}

			continue
		}

		rc.report.Added += len(records)

		for j, rec := range records {
			backfills = append(backfills, cellWrite{rowNum: creates[batch[j]].rowNum, value: rec.ID})
			created = append(created, sor.Record{ID: rec.ID, Fields: creates[batch[j]].fields})
		}
	}

	return backfills, created
}

// applyUpdates batches record patches.
func (rc *runContext) applyUpdates(ctx context.Context, updates []rowOp) {
	for batch := range chunked(len(updates), sor.MaxBatchSize) {
		if ctx.Err() != nil {
			rc.report.addWarning("run cancelled before completion")
			return
		}

		patches := make([]sor.RecordPatch, 0, len(batch))
		for _, i := range batch {
			patches = append(patches, sor.RecordPatch{ID: updates[i].matchID, Fields: updates[i].fields})
		}

		if rc.opts.dryRun {
			rc.report.Updated += len(batch)
			continue
		}

		if _, err := rc.sor.UpdateRecords(ctx, rc.cfg.SorBaseID, rc.cfg.SorTableID, patches); err != nil {
			rc.report.addError(kindOr(err, KindWrite), updates[batch[0]].key, err)

			if classifyError(err) == KindOAuth {
				return
			}

			continue
		}

		rc.report.Updated += len(batch)
	}
}

// applyDeletes removes records no grid row references.
func (rc *runContext) applyDeletes(ctx context.Context, records []sor.Record, matched map[string]struct{}) {
	var extra []string

	for _, rec := range records {
		if _, ok := matched[rec.ID]; !ok {
			extra = append(extra, rec.ID)
		}
	}

	for batch := range chunked(len(extra), sor.MaxBatchSize) {
		if ctx.Err() != nil {
			rc.report.addWarning("run cancelled before completion")
			return
		}

		if rc.opts.dryRun {
			rc.report.Deleted += len(batch)
			continue
		}

		ids := make([]string, 0, len(batch))
		for _, i := range batch {
			ids = append(ids, extra[i])
		}

		deleted, err := rc.sor.DeleteRecords(ctx, rc.cfg.SorBaseID, rc.cfg.SorTableID, ids)
		if err != nil {
			rc.report.addError(kindOr(err, KindWrite), ids[0], err)
			continue
		}

		rc.report.Deleted += len(deleted)
	}
}

// writeIDBackfills lands record IDs in the reserved column, one
// contiguous run per value write.
func (rc *runContext) writeIDBackfills(ctx context.Context, backfills []cellWrite) {
	if len(backfills) == 0 || rc.opts.dryRun {
		return
	}

	col := gridColumnLetter()

	for i := 0; i < len(backfills); {
		j := i + 1
		for j < len(backfills) && backfills[j].rowNum == backfills[j-1].rowNum+1 {
			j++
		}

		values := make([][]any, 0, j-i)
		for k := i; k < j; k++ {
			values = append(values, []any{backfills[k].value})
		}

		rangeA1 := fmt.Sprintf("%s!%s%d:%s%d",
			rc.sheet.Title, col, backfills[i].rowNum, col, backfills[j-1].rowNum)

		if _, err := rc.grid.UpdateValues(ctx, rc.cfg.GridWorkbookID, rangeA1, values); err != nil {
			rc.report.addWarning("writing record IDs to rows %d-%d: %v", backfills[i].rowNum, backfills[j-1].rowNum, err)
		}

		i = j
	}
}
