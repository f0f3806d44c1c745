package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gridsync/gridsync/internal/grid"
	"github.com/gridsync/gridsync/internal/sor"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/gridsync/gridsync/internal/typemap"
)

// The reserved record-ID column. Zero-based index 26 is column "AA";
// mapped fields must stay left of it.
const (
	idColumnIndex = 26
	gridWidth     = idColumnIndex + 1
)

// runOptions carries per-run switches the entry points set.
type runOptions struct {
	trigger             store.TriggeredBy
	dryRun              bool
	createMissingLinked bool
	deleteExtras        bool
	strict              bool
}

// runContext is the per-run working set threaded through one pipeline.
type runContext struct {
	engine *Engine
	cfg    *store.SyncConfig
	sor    *sor.Client
	grid   *grid.Client
	report *RunReport
	opts   runOptions

	table    *sor.Table
	sheet    *grid.Sheet
	bindings []binding
}

// binding ties one mapped SOR field to its grid column.
type binding struct {
	field sor.Field
	col   int
}

// loadSchema fetches the SOR table schema and the worksheet metadata,
// then materializes the field bindings. Mappings that no longer match
// the schema are dropped with a warning rather than failing the run.
func (rc *runContext) loadSchema(ctx context.Context) error {
	table, err := rc.sor.GetTable(ctx, rc.cfg.SorBaseID, rc.cfg.SorTableID)
	if err != nil {
		return fmt.Errorf("fetching table schema: %w", err)
	}

	rc.table = table

	book, err := rc.grid.GetSpreadsheet(ctx, rc.cfg.GridWorkbookID)
	if err != nil {
		return fmt.Errorf("fetching workbook: %w", err)
	}

	sheet := book.SheetByID(rc.cfg.GridSheetID)
	if sheet == nil {
		return fmt.Errorf("worksheet %d not found in workbook %s", rc.cfg.GridSheetID, rc.cfg.GridWorkbookID)
	}

	rc.sheet = sheet

	for fieldID, col := range rc.cfg.FieldMappings {
		if col >= idColumnIndex {
			rc.report.addWarning("field %s mapped to reserved column %s; mapping ignored", fieldID, grid.ColumnLetter(col+1))
			continue
		}

		field := table.FieldByID(fieldID)
		if field == nil {
			rc.report.addWarning("mapped field %s no longer exists in table %s; mapping ignored", fieldID, table.ID)
			continue
		}

		rc.bindings = append(rc.bindings, binding{field: *field, col: col})
	}

	sort.Slice(rc.bindings, func(i, j int) bool { return rc.bindings[i].col < rc.bindings[j].col })

	if len(rc.bindings) == 0 {
		return fmt.Errorf("no usable field mappings for table %s", table.ID)
	}

	return nil
}

// fetchRecords lists the SOR table in a stable order: the configured
// view's order when set, otherwise ascending by primary field.
func (rc *runContext) fetchRecords(ctx context.Context) ([]sor.Record, error) {
	opts := sor.ListOptions{ViewID: rc.cfg.SorViewID}
	if opts.ViewID == "" {
		if primary := rc.table.PrimaryField(); primary != nil {
			opts.SortField = primary.Name
		}
	}

	records, err := rc.sor.ListRecords(ctx, rc.cfg.SorBaseID, rc.cfg.SorTableID, opts)
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}

	return records, nil
}

// readGrid fetches the whole worksheet as cells.
func (rc *runContext) readGrid(ctx context.Context) ([][]any, error) {
	rows, err := rc.grid.GetValues(ctx, rc.cfg.GridWorkbookID, rc.sheet.Title)
	if err != nil {
		return nil, fmt.Errorf("fetching worksheet values: %w", err)
	}

	return rows, nil
}

// buildGridRow converts one SOR record into its full grid row, width
// gridWidth, with the record ID in the reserved column. Conversion
// failures blank the cell and are captured on the report.
func (rc *runContext) buildGridRow(ctx context.Context, rec sor.Record) []any {
	row := make([]any, gridWidth)
	for i := range row {
		row[i] = ""
	}

	for _, b := range rc.bindings {
		value := rec.Fields[b.field.Name]

		if b.field.Type == sor.FieldLinkedRecords {
			value = rc.resolveLinkedValue(ctx, b.field, rec.ID, value)
		}

		res := typemap.ToGrid(b.field, value)
		for _, w := range res.Warnings {
			rc.report.addWarning("%s: %s", rec.ID, w)
		}

		if len(res.Errors) > 0 {
			rc.report.addError(KindTransform, rec.ID,
				fmt.Errorf("field %s: %s", b.field.Name, strings.Join(res.Errors, "; ")))
			continue
		}

		row[b.col] = res.Value
	}

	row[idColumnIndex] = rec.ID

	return row
}

// resolveLinkedValue swaps a linked field's record IDs for display
// names. On resolver failure the raw IDs pass through so the row still
// syncs.
func (rc *runContext) resolveLinkedValue(ctx context.Context, field sor.Field, recordID string, value any) any {
	ids := toStringList(value)
	if len(ids) == 0 || field.Options == nil || field.Options.LinkedTableID == "" {
		return value
	}

	res, err := rc.engine.resolver.ResolveIDsToNames(ctx, rc.sor, rc.cfg.SorBaseID, field.Options.LinkedTableID, ids, false)
	if err != nil {
		rc.report.addWarning("%s: resolving linked field %s: %v", recordID, field.Name, err)
		return value
	}

	for _, w := range res.Warnings {
		rc.report.addWarning("%s: %s", recordID, w)
	}

	return res.Resolved
}

// applyDropdowns pushes select-field validation onto the mapped
// columns. Failures degrade to warnings; validation is cosmetic
// relative to the data itself.
func (rc *runContext) applyDropdowns(ctx context.Context) {
	var rules []grid.DropdownRule

	for _, b := range rc.bindings {
		if b.field.Type != sor.FieldSingleSelect && b.field.Type != sor.FieldMultipleSelects {
			continue
		}

		if b.field.Options == nil || len(b.field.Options.Choices) == 0 {
			continue
		}

		choices := make([]string, 0, len(b.field.Options.Choices))
		for _, c := range b.field.Options.Choices {
			choices = append(choices, c.Name)
		}

		rules = append(rules, grid.DropdownRule{
			ColumnIndex: b.col,
			Choices:     choices,
			Strict:      b.field.Type == sor.FieldSingleSelect,
		})
	}

	if len(rules) == 0 || rc.opts.dryRun {
		return
	}

	if err := rc.grid.BatchSetDropdownValidation(ctx, rc.cfg.GridWorkbookID, rc.cfg.GridSheetID, rules); err != nil {
		rc.report.addWarning("setting dropdown validation: %v", err)
	}
}

// hideIDColumn hides the reserved column; a failure is cosmetic.
func (rc *runContext) hideIDColumn(ctx context.Context) {
	if rc.opts.dryRun {
		return
	}

	if err := rc.grid.HideColumn(ctx, rc.cfg.GridWorkbookID, rc.cfg.GridSheetID, idColumnIndex); err != nil {
		rc.report.addWarning("hiding ID column: %v", err)
	}
}

// bindingFor returns the binding for a field ID, or nil if unmapped.
func (rc *runContext) bindingFor(fieldID string) *binding {
	for i := range rc.bindings {
		if rc.bindings[i].field.ID == fieldID {
			return &rc.bindings[i]
		}
	}

	return nil
}

// gridColumnLetter is the A1 letter of the reserved ID column.
func gridColumnLetter() string {
	return grid.ColumnLetter(gridWidth)
}

// a1Range addresses numRows full-width rows starting at startRow
// (1-based).
func (rc *runContext) a1Range(startRow, numRows int) string {
	return fmt.Sprintf("%s!A%d:%s%d",
		rc.sheet.Title, startRow, grid.ColumnLetter(gridWidth), startRow+numRows-1)
}

// cellNorm canonicalizes a cell for comparison and hashing. The grid
// API returns formatted strings for most cells but native bools and
// numbers in some render modes; both forms must compare equal to what
// the conversion layer produces.
func cellNorm(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case bool:
		if val {
			return "TRUE"
		}

		return "FALSE"
	case []string:
		return strings.Join(val, ", ")
	default:
		return strings.TrimSpace(typemap.Stringify(v))
	}
}

// rowCells pads or truncates a raw grid row to the fixed width.
func rowCells(row []any) []any {
	cells := make([]any, gridWidth)
	for i := range cells {
		if i < len(row) {
			cells[i] = row[i]
			continue
		}

		cells[i] = ""
	}

	return cells
}

// rowIsEmpty reports whether every cell normalizes to "".
func rowIsEmpty(row []any) bool {
	for _, c := range row {
		if cellNorm(c) != "" {
			return false
		}
	}

	return true
}

// rowsEqual compares two rows cell by cell after normalization.
func rowsEqual(a, b []any) bool {
	for i := 0; i < gridWidth; i++ {
		var av, bv any
		if i < len(a) {
			av = a[i]
		}

		if i < len(b) {
			bv = b[i]
		}

		if cellNorm(av) != cellNorm(bv) {
			return false
		}
	}

	return true
}

// hashRow builds the hash input for one row: mapped cells keyed by
// field name. The reserved column and unmapped cells are excluded so
// cosmetic columns never register as changes.
func (rc *runContext) hashRow(row []any) map[string]any {
	fields := make(map[string]any, len(rc.bindings))

	for _, b := range rc.bindings {
		var cell any
		if b.col < len(row) {
			cell = row[b.col]
		}

		fields[b.field.Name] = cellNorm(cell)
	}

	return fields
}

// toStringList coerces a linked-field value into a string slice.
func toStringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}

		return out
	case string:
		if v == "" {
			return nil
		}

		return []string{v}
	default:
		return nil
	}
}
