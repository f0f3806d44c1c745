package grid

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

type staticToken string

func (t staticToken) Token(_ context.Context) (string, error) {
	return string(t), nil
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, http.DefaultClient, staticToken("test-token"), slog.Default())
	c.sleepFunc = noopSleep

	return c
}

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		col  int
		want string
	}{
		{1, "A"},
		{2, "B"},
		{26, "Z"},
		{27, "AA"},
		{28, "AB"},
		{52, "AZ"},
		{53, "BA"},
		{702, "ZZ"},
		{703, "AAA"},
		{0, ""},
		{-3, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ColumnLetter(tt.col), "column %d", tt.col)
	}
}

func TestGetSpreadsheet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/spreadsheets/wb1", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(`{
			"spreadsheetId":"wb1",
			"properties":{"title":"My Workbook"},
			"sheets":[
				{"properties":{"sheetId":0,"title":"Sheet1","gridProperties":{"rowCount":1000,"columnCount":26}}},
				{"properties":{"sheetId":42,"title":"Data","gridProperties":{"rowCount":50,"columnCount":30}}}
			]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	meta, err := client.GetSpreadsheet(context.Background(), "wb1")
	require.NoError(t, err)
	assert.Equal(t, "My Workbook", meta.Title)
	require.Len(t, meta.Sheets, 2)

	data := meta.SheetByID(42)
	require.NotNil(t, data)
	assert.Equal(t, "Data", data.Title)
	assert.Equal(t, 30, data.ColumnCount)

	assert.Nil(t, meta.SheetByID(99))
}

func TestGetValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/spreadsheets/wb1/values/Sheet1!A1:B2", r.URL.Path)
		_, _ = w.Write([]byte(`{"range":"Sheet1!A1:B2","values":[["Name","Tier"],["Ada","Pro"]]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	values, err := client.GetValues(context.Background(), "wb1", "Sheet1!A1:B2")
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, "Ada", values[1][0])
}

func TestUpdateValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "USER_ENTERED", r.URL.Query().Get("valueInputOption"))

		var req valueRangeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, [][]any{{"Ada", "Pro"}}, req.Values)

		_, _ = w.Write([]byte(`{"updatedRange":"Sheet1!A2:B2","updatedRows":1,"updatedCells":2}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.UpdateValues(context.Background(), "wb1", "Sheet1!A2:B2", [][]any{{"Ada", "Pro"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedRows)
	assert.Equal(t, 2, res.UpdatedCells)
}

func TestAppendRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, ":append")
		assert.Equal(t, "INSERT_ROWS", r.URL.Query().Get("insertDataOption"))

		_, _ = w.Write([]byte(`{"updates":{"updatedRange":"Sheet1!A3:B4","updatedRows":2,"updatedCells":4}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	res, err := client.AppendRows(context.Background(), "wb1", "Sheet1", [][]any{{"Bob", "Free"}, {"Cat", "Pro"}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedRows)
}

func TestEnsureColumnCount_NoopWhenWideEnough(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sheet := &Sheet{SheetID: 0, ColumnCount: 30}

	require.NoError(t, client.EnsureColumnCount(context.Background(), "wb1", sheet, 27))
	assert.Equal(t, int32(0), calls.Load(), "no API call when already wide enough")
}

func TestEnsureColumnCount_AppendsMissingColumns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":batchUpdate")

		var req batchUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 1)
		require.NotNil(t, req.Requests[0].AppendDimension)
		assert.Equal(t, "COLUMNS", req.Requests[0].AppendDimension.Dimension)
		assert.Equal(t, 7, req.Requests[0].AppendDimension.Length)

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	sheet := &Sheet{SheetID: 5, ColumnCount: 20}

	require.NoError(t, client.EnsureColumnCount(context.Background(), "wb1", sheet, 27))
	assert.Equal(t, 27, sheet.ColumnCount, "cached width updated after growth")
}

func TestHideColumn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 1)

		udp := req.Requests[0].UpdateDimensionProperties
		require.NotNil(t, udp)
		assert.Equal(t, 26, udp.Range.StartIndex)
		assert.Equal(t, 27, udp.Range.EndIndex)
		assert.True(t, udp.Properties.HiddenByUser)
		assert.Equal(t, "hiddenByUser", udp.Fields)

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.HideColumn(context.Background(), "wb1", 0, 26))
}

func TestBatchSetDropdownValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req batchUpdateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 2)

		first := req.Requests[0].SetDataValidation
		require.NotNil(t, first)
		assert.Equal(t, 1, first.Range.StartRowIndex, "header row excluded")
		assert.Equal(t, 1, first.Range.StartColumnIndex)
		assert.Equal(t, 2, first.Range.EndColumnIndex)
		assert.Equal(t, "ONE_OF_LIST", first.Rule.Condition.Type)
		assert.True(t, first.Rule.Strict)
		require.Len(t, first.Rule.Condition.Values, 2)
		assert.Equal(t, "Pro", first.Rule.Condition.Values[0].UserEnteredValue)

		second := req.Requests[1].SetDataValidation
		require.NotNil(t, second)
		assert.False(t, second.Rule.Strict)

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.BatchSetDropdownValidation(context.Background(), "wb1", 0, []DropdownRule{
		{ColumnIndex: 1, Choices: []string{"Pro", "Free"}, Strict: true},
		{ColumnIndex: 3, Choices: []string{"A", "B"}, Strict: false},
	})
	require.NoError(t, err)
}

func TestBatchSetDropdownValidation_EmptyIsNoop(t *testing.T) {
	client := newTestClient(t, "http://unused")
	require.NoError(t, client.BatchSetDropdownValidation(context.Background(), "wb1", 0, nil))
}

func TestDo_RetryOn5xx(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		_, _ = w.Write([]byte(`{"values":[]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetValues(context.Background(), "wb1", "Sheet1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_NoRetryOn403(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetValues(context.Background(), "wb1", "Sheet1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_RateLimitClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetValues(context.Background(), "wb1", "Sheet1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
}

func TestDo_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := newTestClient(t, srv.URL)
	_, err := client.GetValues(ctx, "wb1", "Sheet1")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
