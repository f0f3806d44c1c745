package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/gridsync/gridsync/internal/secrets"
	"github.com/gridsync/gridsync/internal/sor"
	"github.com/gridsync/gridsync/internal/store"
	"github.com/gridsync/gridsync/internal/token"
)

var testEncryptionKey = []byte("0123456789abcdef0123456789abcdef")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSOR is an in-memory SOR API: one base, one or more tables, with
// list, create, update, and delete semantics matching the client's
// expectations.
type fakeSOR struct {
	mu      sync.Mutex
	tables  []sor.Table
	records map[string][]sor.Record // tableID -> records
	nextID  int

	listCalls   int
	createCalls int
	updateCalls int
	deleteCalls int

	srv *httptest.Server
}

func newFakeSOR(t *testing.T, tables []sor.Table, records map[string][]sor.Record) *fakeSOR {
	t.Helper()

	if records == nil {
		records = make(map[string][]sor.Record)
	}

	f := &fakeSOR{tables: tables, records: records, nextID: 100}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	return f
}

var recordIDFilter = regexp.MustCompile(`RECORD_ID\(\)='([^']+)'`)

func (f *fakeSOR) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/meta/bases/") {
		writeJSON(w, map[string]any{"tables": f.tables})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) != 2 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	tableID := parts[1]

	switch r.Method {
	case http.MethodGet:
		f.listCalls++
		f.handleList(w, r, tableID)
	case http.MethodPost:
		f.createCalls++
		f.handleCreate(w, r, tableID)
	case http.MethodPatch:
		f.updateCalls++
		f.handleUpdate(w, r, tableID)
	case http.MethodDelete:
		f.deleteCalls++
		f.handleDelete(w, r, tableID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeSOR) handleList(w http.ResponseWriter, r *http.Request, tableID string) {
	records := append([]sor.Record(nil), f.records[tableID]...)

	if formula := r.URL.Query().Get("filterByFormula"); formula != "" {
		wanted := make(map[string]struct{})
		for _, m := range recordIDFilter.FindAllStringSubmatch(formula, -1) {
			wanted[m[1]] = struct{}{}
		}

		var filtered []sor.Record

		for _, rec := range records {
			if _, ok := wanted[rec.ID]; ok {
				filtered = append(filtered, rec)
			}
		}

		records = filtered
	}

	if field := r.URL.Query().Get("sort[0][field]"); field != "" {
		sort.SliceStable(records, func(i, j int) bool {
			return fmt.Sprint(records[i].Fields[field]) < fmt.Sprint(records[j].Fields[field])
		})
	}

	writeJSON(w, map[string]any{"records": records})
}

func (f *fakeSOR) handleCreate(w http.ResponseWriter, r *http.Request, tableID string) {
	var req struct {
		Records []struct {
			Fields map[string]any `json:"fields"`
		} `json:"records"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	created := make([]sor.Record, 0, len(req.Records))

	for _, cr := range req.Records {
		f.nextID++
		rec := sor.Record{ID: fmt.Sprintf("rec%03d", f.nextID), Fields: cr.Fields}
		f.records[tableID] = append(f.records[tableID], rec)
		created = append(created, rec)
	}

	writeJSON(w, map[string]any{"records": created})
}

func (f *fakeSOR) handleUpdate(w http.ResponseWriter, r *http.Request, tableID string) {
	var req struct {
		Records []sor.RecordPatch `json:"records"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var updated []sor.Record

	for _, patch := range req.Records {
		for i := range f.records[tableID] {
			if f.records[tableID][i].ID != patch.ID {
				continue
			}

			for k, v := range patch.Fields {
				f.records[tableID][i].Fields[k] = v
			}

			updated = append(updated, f.records[tableID][i])
		}
	}

	writeJSON(w, map[string]any{"records": updated})
}

func (f *fakeSOR) handleDelete(w http.ResponseWriter, r *http.Request, tableID string) {
	ids := r.URL.Query()["records[]"]

	var resp []map[string]any

	for _, id := range ids {
		kept := f.records[tableID][:0]

		for _, rec := range f.records[tableID] {
			if rec.ID == id {
				resp = append(resp, map[string]any{"id": id, "deleted": true})
				continue
			}

			kept = append(kept, rec)
		}

		f.records[tableID] = kept
	}

	writeJSON(w, map[string]any{"records": resp})
}

// recordByID looks up a live record, or nil.
func (f *fakeSOR) recordByID(tableID, id string) *sor.Record {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.records[tableID] {
		if f.records[tableID][i].ID == id {
			return &f.records[tableID][i]
		}
	}

	return nil
}

func (f *fakeSOR) setField(tableID, recordID, field string, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.records[tableID] {
		if f.records[tableID][i].ID == recordID {
			f.records[tableID][i].Fields[field] = value
		}
	}
}

func (f *fakeSOR) deleteRecord(tableID, recordID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.records[tableID][:0]

	for _, rec := range f.records[tableID] {
		if rec.ID != recordID {
			kept = append(kept, rec)
		}
	}

	f.records[tableID] = kept
}

// fakeGrid is an in-memory worksheet API: one workbook with one sheet.
type fakeGrid struct {
	mu       sync.Mutex
	sheetID  int64
	title    string
	colCount int
	rows     [][]any

	valueWrites     int
	hiddenColumns   []int
	validationCalls int

	srv *httptest.Server
}

func newFakeGrid(t *testing.T, rows [][]any) *fakeGrid {
	t.Helper()

	f := &fakeGrid{sheetID: 0, title: "Sheet1", colCount: 27, rows: rows}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeGrid) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, ":batchUpdate"):
		f.handleBatchUpdate(w, r)
	case strings.Contains(path, "/values/"):
		f.handleValues(w, r, path[strings.Index(path, "/values/")+len("/values/"):])
	case r.Method == http.MethodGet:
		writeJSON(w, map[string]any{
			"spreadsheetId": "wb1",
			"properties":    map[string]any{"title": "Workbook"},
			"sheets": []map[string]any{{
				"properties": map[string]any{
					"sheetId": f.sheetID,
					"title":   f.title,
					"gridProperties": map[string]any{
						"rowCount":    1000,
						"columnCount": f.colCount,
					},
				},
			}},
		})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (f *fakeGrid) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []struct {
			AppendDimension *struct {
				Length int `json:"length"`
			} `json:"appendDimension"`
			UpdateDimensionProperties *struct {
				Range struct {
					StartIndex int `json:"startIndex"`
				} `json:"range"`
			} `json:"updateDimensionProperties"`
			SetDataValidation *struct{} `json:"setDataValidation"`
		} `json:"requests"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	for _, rq := range req.Requests {
		switch {
		case rq.AppendDimension != nil:
			f.colCount += rq.AppendDimension.Length
		case rq.UpdateDimensionProperties != nil:
			f.hiddenColumns = append(f.hiddenColumns, rq.UpdateDimensionProperties.Range.StartIndex)
		case rq.SetDataValidation != nil:
			f.validationCalls++
		}
	}

	writeJSON(w, map[string]any{})
}

func (f *fakeGrid) handleValues(w http.ResponseWriter, r *http.Request, rangeA1 string) {
	if strings.HasSuffix(rangeA1, ":append") {
		var req struct {
			Values [][]any `json:"values"`
		}

		_ = json.NewDecoder(r.Body).Decode(&req)
		f.rows = append(f.rows, req.Values...)
		f.valueWrites++
		writeJSON(w, map[string]any{"updates": map[string]any{"updatedRows": len(req.Values)}})

		return
	}

	if r.Method == http.MethodGet {
		writeJSON(w, map[string]any{"range": rangeA1, "values": f.rows})
		return
	}

	var req struct {
		Values [][]any `json:"values"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	startCol, startRow := parseA1(rangeA1)
	f.applyValues(startRow, startCol, req.Values)
	f.valueWrites++

	writeJSON(w, map[string]any{
		"updatedRange": rangeA1,
		"updatedRows":  len(req.Values),
		"updatedCells": len(req.Values) * gridWidth,
	})
}

// parseA1 extracts the 1-based start row and 0-based start column of a
// range like "Sheet1!AA4:AA5".
func parseA1(rangeA1 string) (col, row int) {
	cell := rangeA1

	if i := strings.Index(cell, "!"); i >= 0 {
		cell = cell[i+1:]
	}

	if i := strings.Index(cell, ":"); i >= 0 {
		cell = cell[:i]
	}

	letters := strings.TrimRight(cell, "0123456789")
	row, _ = strconv.Atoi(cell[len(letters):])

	for _, ch := range letters {
		col = col*26 + int(ch-'A') + 1
	}

	return col - 1, row
}

func (f *fakeGrid) applyValues(startRow, startCol int, values [][]any) {
	for i, rowVals := range values {
		rowIdx := startRow - 1 + i

		for len(f.rows) <= rowIdx {
			f.rows = append(f.rows, make([]any, gridWidth))
		}

		row := f.rows[rowIdx]
		for len(row) < startCol+len(rowVals) {
			row = append(row, "")
		}

		copy(row[startCol:], rowVals)
		f.rows[rowIdx] = row
	}
}

func (f *fakeGrid) cell(rowNum, col int) any {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rowNum-1 >= len(f.rows) || col >= len(f.rows[rowNum-1]) {
		return nil
	}

	return f.rows[rowNum-1][col]
}

func (f *fakeGrid) setCell(rowNum, col int, value any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	row := f.rows[rowNum-1]
	for len(row) <= col {
		row = append(row, "")
	}

	row[col] = value
	f.rows[rowNum-1] = row
}

func (f *fakeGrid) appendRow(row []any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rows = append(f.rows, row)
}

func (f *fakeGrid) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.valueWrites
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// contactsTable is the schema most pipeline tests use: a text primary
// field, a number, and a single select.
func contactsTable() sor.Table {
	return sor.Table{
		ID:             "tbl1",
		Name:           "Contacts",
		PrimaryFieldID: "fldName",
		Fields: []sor.Field{
			{ID: "fldName", Name: "Name", Type: sor.FieldText},
			{ID: "fldAge", Name: "Age", Type: sor.FieldNumber},
			{ID: "fldTier", Name: "Tier", Type: sor.FieldSingleSelect, Options: &sor.FieldOptions{
				Choices: []sor.SelectChoice{{ID: "c1", Name: "Free"}, {ID: "c2", Name: "Pro"}, {ID: "c3", Name: "Business"}},
			}},
		},
	}
}

func contactsMappings() map[string]int {
	return map[string]int{"fldName": 0, "fldAge": 1, "fldTier": 2}
}

func seedContacts() []sor.Record {
	return []sor.Record{
		{ID: "rec001", Fields: map[string]any{"Name": "Ada", "Age": 34.0, "Tier": "Pro"}},
		{ID: "rec002", Fields: map[string]any{"Name": "Bob", "Age": 41.0, "Tier": "Free"}},
	}
}

// pipelineFixture wires a real store, token manager, and engine to the
// two fake providers.
type pipelineFixture struct {
	t      *testing.T
	store  *store.Store
	engine *Engine
	sor    *fakeSOR
	grid   *fakeGrid
	user   *store.User
	cfg    *store.SyncConfig
}

func newPipelineFixture(
	t *testing.T,
	tables []sor.Table,
	records map[string][]sor.Record,
	gridRows [][]any,
	direction store.Direction,
	strategy store.ConflictStrategy,
) *pipelineFixture {
	t.Helper()

	ctx := context.Background()
	logger := discardLogger()

	st, err := store.Open(ctx, ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cipher, err := secrets.New(testEncryptionKey)
	require.NoError(t, err)

	manager := token.NewManager(st, cipher, token.ProviderConfig{}, token.ProviderConfig{}, logger)

	user := &store.User{ID: uuid.NewString(), Email: "ada@example.com", Plan: "pro", SubscriptionStatus: "active"}
	require.NoError(t, st.CreateUser(ctx, user))

	for _, provider := range []store.Provider{store.ProviderSor, store.ProviderGrid} {
		access, err := cipher.Encrypt("tok-" + string(provider))
		require.NoError(t, err)
		refresh, err := cipher.Encrypt("ref-" + string(provider))
		require.NoError(t, err)

		require.NoError(t, st.UpsertConnection(ctx, &store.Connection{
			ID:           uuid.NewString(),
			UserID:       user.ID,
			Provider:     provider,
			AccessToken:  access,
			RefreshToken: refresh,
			TokenExpiry:  time.Now().Add(time.Hour),
		}))
	}

	sorFake := newFakeSOR(t, tables, records)
	gridFake := newFakeGrid(t, gridRows)

	cfg := &store.SyncConfig{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		Name:             "contacts",
		SorBaseID:        "base1",
		SorTableID:       "tbl1",
		GridWorkbookID:   "wb1",
		GridSheetID:      0,
		FieldMappings:    contactsMappings(),
		Direction:        direction,
		ConflictStrategy: strategy,
		IsActive:         true,
	}
	require.NoError(t, st.CreateSyncConfig(ctx, cfg))

	eng := New(st, manager, Options{
		SorBaseURL:           sorFake.srv.URL,
		GridBaseURL:          gridFake.srv.URL,
		SorRequestsPerSecond: 1000,
	}, logger)

	return &pipelineFixture{t: t, store: st, engine: eng, sor: sorFake, grid: gridFake, user: user, cfg: cfg}
}

func (f *pipelineFixture) runManual() *RunReport {
	f.t.Helper()

	report, err := f.engine.RunManual(context.Background(), f.cfg.ID, f.user.ID)
	require.NoError(f.t, err)

	return report
}
