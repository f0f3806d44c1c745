package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// valueInputOption USER_ENTERED makes the grid parse writes the way a
// typist would see them (numbers as numbers, dates as dates).
const valueInputOption = "USER_ENTERED"

type valueRangeResponse struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type valueRangeRequest struct {
	Range  string  `json:"range"`
	Values [][]any `json:"values"`
}

type updateValuesResponse struct {
	UpdatedRange   string `json:"updatedRange"`
	UpdatedRows    int    `json:"updatedRows"`
	UpdatedColumns int    `json:"updatedColumns"`
	UpdatedCells   int    `json:"updatedCells"`
}

type appendValuesResponse struct {
	Updates updateValuesResponse `json:"updates"`
}

// WriteResult confirms a value write: the A1 range touched and counts.
type WriteResult struct {
	UpdatedRange string
	UpdatedRows  int
	UpdatedCells int
}

// GetValues reads a 2D cell array. rangeA1 addresses a sheet and optional
// cell range, e.g. "Sheet1" or "Sheet1!A1:AA500". Trailing empty rows and
// cells are omitted by the server.
func (c *Client) GetValues(ctx context.Context, spreadsheetID, rangeA1 string) ([][]any, error) {
	body, err := c.do(ctx, http.MethodGet,
		"/spreadsheets/"+spreadsheetID+"/values/"+url.PathEscape(rangeA1), nil)
	if err != nil {
		return nil, err
	}

	var resp valueRangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("grid: decoding values response: %w", err)
	}

	return resp.Values, nil
}

// UpdateValues overwrites the given A1 range with a 2D cell array.
func (c *Client) UpdateValues(ctx context.Context, spreadsheetID, rangeA1 string, values [][]any) (*WriteResult, error) {
	path := "/spreadsheets/" + spreadsheetID + "/values/" + url.PathEscape(rangeA1) +
		"?valueInputOption=" + valueInputOption

	body, err := c.do(ctx, http.MethodPut, path, valueRangeRequest{Range: rangeA1, Values: values})
	if err != nil {
		return nil, err
	}

	var resp updateValuesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("grid: decoding update response: %w", err)
	}

	return &WriteResult{
		UpdatedRange: resp.UpdatedRange,
		UpdatedRows:  resp.UpdatedRows,
		UpdatedCells: resp.UpdatedCells,
	}, nil
}

// AppendRows appends a 2D cell array after the last data row of a sheet.
func (c *Client) AppendRows(ctx context.Context, spreadsheetID, sheetTitle string, values [][]any) (*WriteResult, error) {
	path := "/spreadsheets/" + spreadsheetID + "/values/" + url.PathEscape(sheetTitle) +
		":append?valueInputOption=" + valueInputOption + "&insertDataOption=INSERT_ROWS"

	body, err := c.do(ctx, http.MethodPost, path, valueRangeRequest{Range: sheetTitle, Values: values})
	if err != nil {
		return nil, err
	}

	var resp appendValuesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("grid: decoding append response: %w", err)
	}

	return &WriteResult{
		UpdatedRange: resp.Updates.UpdatedRange,
		UpdatedRows:  resp.Updates.UpdatedRows,
		UpdatedCells: resp.Updates.UpdatedCells,
	}, nil
}
