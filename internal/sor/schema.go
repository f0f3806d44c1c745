package sor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type listBasesResponse struct {
	Bases []Base `json:"bases"`
}

type listTablesResponse struct {
	Tables []Table `json:"tables"`
}

// ListBases returns the bases the token can see.
func (c *Client) ListBases(ctx context.Context) ([]Base, error) {
	body, err := c.do(ctx, http.MethodGet, "/meta/bases", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp listBasesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sor: decoding bases response: %w", err)
	}

	return resp.Bases, nil
}

// ListTables returns the table schemas of a base, including field types,
// select choices, and each table's primary field.
func (c *Client) ListTables(ctx context.Context, baseID string) ([]Table, error) {
	body, err := c.do(ctx, http.MethodGet, "/meta/bases/"+baseID+"/tables", nil, nil)
	if err != nil {
		return nil, err
	}

	var resp listTablesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("sor: decoding tables response: %w", err)
	}

	return resp.Tables, nil
}

// GetTable returns the schema of a single table within a base.
func (c *Client) GetTable(ctx context.Context, baseID, tableID string) (*Table, error) {
	tables, err := c.ListTables(ctx, baseID)
	if err != nil {
		return nil, err
	}

	for i := range tables {
		if tables[i].ID == tableID {
			return &tables[i], nil
		}
	}

	return nil, fmt.Errorf("sor: table %s: %w", tableID, ErrNotFound)
}
