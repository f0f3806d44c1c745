package sor

// FieldType identifies the semantic type of a SOR field. The type mapper
// keys its conversion rules off these values.
type FieldType string

// Field types reported by the schema endpoint.
const (
	FieldText             FieldType = "text"
	FieldLongText         FieldType = "longText"
	FieldEmail            FieldType = "email"
	FieldURL              FieldType = "url"
	FieldPhone            FieldType = "phone"
	FieldNumber           FieldType = "number"
	FieldCurrency         FieldType = "currency"
	FieldPercent          FieldType = "percent"
	FieldDuration         FieldType = "duration"
	FieldRating           FieldType = "rating"
	FieldCheckbox         FieldType = "checkbox"
	FieldDate             FieldType = "date"
	FieldDateTime         FieldType = "dateTime"
	FieldSingleSelect     FieldType = "singleSelect"
	FieldMultipleSelects  FieldType = "multipleSelects"
	FieldLinkedRecords    FieldType = "linkedRecords"
	FieldAttachments      FieldType = "attachments"
	FieldCollaborator     FieldType = "collaborator"
	FieldCollaborators    FieldType = "collaborators"
	FieldFormula          FieldType = "formula"
	FieldRollup           FieldType = "rollup"
	FieldCount            FieldType = "count"
	FieldLookup           FieldType = "lookup"
	FieldAutoNumber       FieldType = "autoNumber"
	FieldCreatedTime      FieldType = "createdTime"
	FieldCreatedBy        FieldType = "createdBy"
	FieldLastModifiedTime FieldType = "lastModifiedTime"
	FieldLastModifiedBy   FieldType = "lastModifiedBy"
	FieldButton           FieldType = "button"
	FieldBarcode          FieldType = "barcode"
)

// ReadOnly reports whether the field type is computed by the server and
// must never be written.
func (t FieldType) ReadOnly() bool {
	switch t {
	case FieldFormula, FieldRollup, FieldCount, FieldLookup, FieldAutoNumber,
		FieldCreatedTime, FieldCreatedBy, FieldLastModifiedTime,
		FieldLastModifiedBy, FieldButton:
		return true
	default:
		return false
	}
}

// SelectChoice is a single allowed option of a select field.
type SelectChoice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// FieldOptions carries type-specific schema details.
type FieldOptions struct {
	// Choices is populated for singleSelect / multipleSelects fields.
	Choices []SelectChoice `json:"choices,omitempty"`
	// LinkedTableID is populated for linkedRecords fields.
	LinkedTableID string `json:"linkedTableId,omitempty"`
}

// Field is one column of a SOR table schema.
type Field struct {
	ID      string        `json:"id"`
	Name    string        `json:"name"`
	Type    FieldType     `json:"type"`
	Options *FieldOptions `json:"options,omitempty"`
}

// Table is a SOR table schema: its fields and the primary field.
type Table struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	PrimaryFieldID string  `json:"primaryFieldId"`
	Fields         []Field `json:"fields"`
}

// PrimaryField returns the table's primary field, or nil if the schema is
// inconsistent.
func (t *Table) PrimaryField() *Field {
	for i := range t.Fields {
		if t.Fields[i].ID == t.PrimaryFieldID {
			return &t.Fields[i]
		}
	}

	return nil
}

// FieldByID returns the field with the given ID, or nil.
func (t *Table) FieldByID(id string) *Field {
	for i := range t.Fields {
		if t.Fields[i].ID == id {
			return &t.Fields[i]
		}
	}

	return nil
}

// Base is a SOR base (a workspace holding tables).
type Base struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is a single SOR record: server-assigned ID plus a field map keyed
// by field name.
type Record struct {
	ID          string         `json:"id"`
	Fields      map[string]any `json:"fields"`
	CreatedTime string         `json:"createdTime,omitempty"`
}

// RecordPatch addresses an existing record for a batched update.
type RecordPatch struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}
