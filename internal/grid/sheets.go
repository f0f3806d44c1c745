package grid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Sheet describes one worksheet within a workbook.
type Sheet struct {
	SheetID     int64
	Title       string
	RowCount    int
	ColumnCount int
}

// Spreadsheet is workbook metadata: its title and sheets.
type Spreadsheet struct {
	ID     string
	Title  string
	Sheets []Sheet
}

// SheetByID returns the sheet with the given numeric ID, or nil.
func (s *Spreadsheet) SheetByID(sheetID int64) *Sheet {
	for i := range s.Sheets {
		if s.Sheets[i].SheetID == sheetID {
			return &s.Sheets[i]
		}
	}

	return nil
}

// Wire types mirroring the API JSON. Unexported; callers see Spreadsheet.
type spreadsheetResponse struct {
	SpreadsheetID string `json:"spreadsheetId"`
	Properties    struct {
		Title string `json:"title"`
	} `json:"properties"`
	Sheets []struct {
		Properties sheetProperties `json:"properties"`
	} `json:"sheets"`
}

type sheetProperties struct {
	SheetID int64  `json:"sheetId"`
	Title   string `json:"title"`
	Grid    struct {
		RowCount    int `json:"rowCount"`
		ColumnCount int `json:"columnCount"`
	} `json:"gridProperties"`
}

// GetSpreadsheet fetches workbook metadata: title plus each sheet's ID,
// title, and grid dimensions.
func (c *Client) GetSpreadsheet(ctx context.Context, spreadsheetID string) (*Spreadsheet, error) {
	body, err := c.do(ctx, http.MethodGet, "/spreadsheets/"+spreadsheetID, nil)
	if err != nil {
		return nil, err
	}

	var resp spreadsheetResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("grid: decoding spreadsheet response: %w", err)
	}

	meta := &Spreadsheet{
		ID:    resp.SpreadsheetID,
		Title: resp.Properties.Title,
	}

	for _, sh := range resp.Sheets {
		meta.Sheets = append(meta.Sheets, Sheet{
			SheetID:     sh.Properties.SheetID,
			Title:       sh.Properties.Title,
			RowCount:    sh.Properties.Grid.RowCount,
			ColumnCount: sh.Properties.Grid.ColumnCount,
		})
	}

	return meta, nil
}

// batchUpdate request envelope. Only the request shapes the engine uses
// are modeled.
type batchUpdateRequest struct {
	Requests []batchRequest `json:"requests"`
}

type batchRequest struct {
	AppendDimension           *appendDimensionRequest           `json:"appendDimension,omitempty"`
	UpdateDimensionProperties *updateDimensionPropertiesRequest `json:"updateDimensionProperties,omitempty"`
	SetDataValidation         *setDataValidationRequest         `json:"setDataValidation,omitempty"`
}

type appendDimensionRequest struct {
	SheetID   int64  `json:"sheetId"`
	Dimension string `json:"dimension"`
	Length    int    `json:"length"`
}

type updateDimensionPropertiesRequest struct {
	Range      dimensionRange `json:"range"`
	Properties struct {
		HiddenByUser bool `json:"hiddenByUser"`
	} `json:"properties"`
	Fields string `json:"fields"`
}

type dimensionRange struct {
	SheetID    int64  `json:"sheetId"`
	Dimension  string `json:"dimension"`
	StartIndex int    `json:"startIndex"`
	EndIndex   int    `json:"endIndex"`
}

type setDataValidationRequest struct {
	Range gridRange       `json:"range"`
	Rule  *validationRule `json:"rule,omitempty"`
}

type gridRange struct {
	SheetID          int64 `json:"sheetId"`
	StartRowIndex    int   `json:"startRowIndex"`
	EndRowIndex      int   `json:"endRowIndex,omitempty"`
	StartColumnIndex int   `json:"startColumnIndex"`
	EndColumnIndex   int   `json:"endColumnIndex"`
}

type validationRule struct {
	Condition struct {
		Type   string           `json:"type"`
		Values []conditionValue `json:"values"`
	} `json:"condition"`
	Strict       bool `json:"strict"`
	ShowCustomUI bool `json:"showCustomUi"` //nolint:tagliatelle // API field name
}

type conditionValue struct {
	UserEnteredValue string `json:"userEnteredValue"`
}

// batchUpdate posts structural requests against a workbook.
func (c *Client) batchUpdate(ctx context.Context, spreadsheetID string, requests []batchRequest) error {
	if len(requests) == 0 {
		return nil
	}

	_, err := c.do(ctx, http.MethodPost, "/spreadsheets/"+spreadsheetID+":batchUpdate",
		batchUpdateRequest{Requests: requests})

	return err
}

// EnsureColumnCount grows the sheet so it has at least minColumns columns.
// A no-op when the sheet is already wide enough.
func (c *Client) EnsureColumnCount(ctx context.Context, spreadsheetID string, sheet *Sheet, minColumns int) error {
	if sheet.ColumnCount >= minColumns {
		return nil
	}

	err := c.batchUpdate(ctx, spreadsheetID, []batchRequest{{
		AppendDimension: &appendDimensionRequest{
			SheetID:   sheet.SheetID,
			Dimension: "COLUMNS",
			Length:    minColumns - sheet.ColumnCount,
		},
	}})
	if err != nil {
		return fmt.Errorf("grid: growing sheet %d to %d columns: %w", sheet.SheetID, minColumns, err)
	}

	sheet.ColumnCount = minColumns

	return nil
}

// HideColumn hides a single zero-based column from end users.
func (c *Client) HideColumn(ctx context.Context, spreadsheetID string, sheetID int64, columnIndex int) error {
	req := updateDimensionPropertiesRequest{
		Range: dimensionRange{
			SheetID:    sheetID,
			Dimension:  "COLUMNS",
			StartIndex: columnIndex,
			EndIndex:   columnIndex + 1,
		},
		Fields: "hiddenByUser",
	}
	req.Properties.HiddenByUser = true

	if err := c.batchUpdate(ctx, spreadsheetID, []batchRequest{{UpdateDimensionProperties: &req}}); err != nil {
		return fmt.Errorf("grid: hiding column %d: %w", columnIndex, err)
	}

	return nil
}

// DropdownRule describes one column's data validation: the allowed
// choices and whether out-of-list input is rejected.
type DropdownRule struct {
	ColumnIndex int
	Choices     []string
	Strict      bool
}

// BatchSetDropdownValidation applies ONE_OF_LIST validation rules to data
// rows (row 2 downward; the header row is left alone) in one batch call.
func (c *Client) BatchSetDropdownValidation(ctx context.Context, spreadsheetID string, sheetID int64, rules []DropdownRule) error {
	if len(rules) == 0 {
		return nil
	}

	requests := make([]batchRequest, 0, len(rules))

	for _, r := range rules {
		rule := &validationRule{Strict: r.Strict, ShowCustomUI: true}
		rule.Condition.Type = "ONE_OF_LIST"

		for _, choice := range r.Choices {
			rule.Condition.Values = append(rule.Condition.Values, conditionValue{UserEnteredValue: choice})
		}

		requests = append(requests, batchRequest{
			SetDataValidation: &setDataValidationRequest{
				Range: gridRange{
					SheetID:          sheetID,
					StartRowIndex:    1, // skip header
					StartColumnIndex: r.ColumnIndex,
					EndColumnIndex:   r.ColumnIndex + 1,
				},
				Rule: rule,
			},
		})
	}

	if err := c.batchUpdate(ctx, spreadsheetID, requests); err != nil {
		return fmt.Errorf("grid: setting dropdown validations: %w", err)
	}

	return nil
}
