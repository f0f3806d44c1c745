package sor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// ListOptions narrows a record listing. The zero value lists every record
// in server order.
type ListOptions struct {
	// ViewID fetches records in the order of a saved view.
	ViewID string
	// SortField sorts by a field name; SortDesc flips the direction.
	SortField string
	SortDesc  bool
	// FilterFormula restricts results to records matching a formula.
	FilterFormula string
	// MaxRecords caps the total across pages. Zero means unlimited.
	MaxRecords int
	// PageSize overrides the per-page count (capped at 100).
	PageSize int
}

type listRecordsResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

type recordsEnvelope struct {
	Records []Record `json:"records"`
}

type createRecordsRequest struct {
	Records []createRecord `json:"records"`
}

type createRecord struct {
	Fields map[string]any `json:"fields"`
}

type updateRecordsRequest struct {
	Records []RecordPatch `json:"records"`
}

type deleteRecordsResponse struct {
	Records []struct {
		ID      string `json:"id"`
		Deleted bool   `json:"deleted"`
	} `json:"records"`
}

// ListRecords fetches all records of a table, following pagination until
// the server stops returning an offset or MaxRecords is reached. Records
// come back in the order the server returns them (view order when ViewID
// is set).
func (c *Client) ListRecords(ctx context.Context, baseID, tableID string, opts ListOptions) ([]Record, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var (
		records []Record
		offset  string
	)

	for {
		query := url.Values{}
		query.Set("pageSize", strconv.Itoa(pageSize))

		if opts.ViewID != "" {
			query.Set("view", opts.ViewID)
		}

		if opts.SortField != "" {
			query.Set("sort[0][field]", opts.SortField)

			direction := "asc"
			if opts.SortDesc {
				direction = "desc"
			}

			query.Set("sort[0][direction]", direction)
		}

		if opts.FilterFormula != "" {
			query.Set("filterByFormula", opts.FilterFormula)
		}

		if opts.MaxRecords > 0 {
			query.Set("maxRecords", strconv.Itoa(opts.MaxRecords))
		}

		if offset != "" {
			query.Set("offset", offset)
		}

		body, err := c.do(ctx, http.MethodGet, "/"+baseID+"/"+tableID, query, nil)
		if err != nil {
			return nil, err
		}

		var resp listRecordsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("sor: decoding records response: %w", err)
		}

		records = append(records, resp.Records...)

		if opts.MaxRecords > 0 && len(records) >= opts.MaxRecords {
			return records[:opts.MaxRecords], nil
		}

		if resp.Offset == "" {
			return records, nil
		}

		offset = resp.Offset
	}
}

// CreateRecords creates up to MaxBatchSize records in one request and
// returns them with server-assigned IDs, in input order.
func (c *Client) CreateRecords(ctx context.Context, baseID, tableID string, fields []map[string]any) ([]Record, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	if len(fields) > MaxBatchSize {
		return nil, fmt.Errorf("sor: create batch of %d exceeds limit %d", len(fields), MaxBatchSize)
	}

	req := createRecordsRequest{Records: make([]createRecord, len(fields))}
	for i, f := range fields {
		req.Records[i] = createRecord{Fields: f}
	}

	body, err := c.do(ctx, http.MethodPost, "/"+baseID+"/"+tableID, nil, req)
	if err != nil {
		return nil, err
	}

	var resp recordsEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sor: decoding create response: %w", err)
	}

	return resp.Records, nil
}

// UpdateRecords applies up to MaxBatchSize partial updates in one request.
func (c *Client) UpdateRecords(ctx context.Context, baseID, tableID string, patches []RecordPatch) ([]Record, error) {
	if len(patches) == 0 {
		return nil, nil
	}

	if len(patches) > MaxBatchSize {
		return nil, fmt.Errorf("sor: update batch of %d exceeds limit %d", len(patches), MaxBatchSize)
	}

	body, err := c.do(ctx, http.MethodPatch, "/"+baseID+"/"+tableID, nil, updateRecordsRequest{Records: patches})
	if err != nil {
		return nil, err
	}

	var resp recordsEnvelope
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sor: decoding update response: %w", err)
	}

	return resp.Records, nil
}

// DeleteRecords deletes up to MaxBatchSize records by ID and returns the
// IDs the server confirmed.
func (c *Client) DeleteRecords(ctx context.Context, baseID, tableID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("sor: delete batch of %d exceeds limit %d", len(ids), MaxBatchSize)
	}

	query := url.Values{}
	for _, id := range ids {
		query.Add("records[]", id)
	}

	body, err := c.do(ctx, http.MethodDelete, "/"+baseID+"/"+tableID, query, nil)
	if err != nil {
		return nil, err
	}

	var resp deleteRecordsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sor: decoding delete response: %w", err)
	}

	deleted := make([]string, 0, len(resp.Records))
	for _, r := range resp.Records {
		if r.Deleted {
			deleted = append(deleted, r.ID)
		}
	}

	return deleted, nil
}
