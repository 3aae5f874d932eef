package models

import "time"

// TableCell is one named cell of a table row; exactly one typed member is
// set. A cell whose value was blank or null is never stored.
type TableCell struct {
	Name   string   `db:"name" json:"name"`
	Text   *string  `db:"text_value" json:"text,omitempty"`
	Number *float64 `db:"number_value" json:"number,omitempty"`
}

// Value returns the cell payload as a generic value.
func (c TableCell) Value() any {
	if c.Text != nil {
		return *c.Text
	}
	if c.Number != nil {
		return *c.Number
	}
	return nil
}

// TableRow is one ordered row of a table field value.
type TableRow struct {
	Index int         `db:"row_index" json:"-"`
	Cells []TableCell `json:"cells"`
}

// AttachmentRef points at an uploaded file linked into a files field.
type AttachmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// FieldValue is the tagged union persisted per (reply, field name). Kind
// selects which payload member is meaningful; at most one record exists per
// (reply, field name) at any time.
type FieldValue struct {
	Kind    FieldKind       `json:"kind"`
	String  *string         `json:"string,omitempty"`
	Number  *float64        `json:"number,omitempty"`
	Boolean *bool           `json:"boolean,omitempty"`
	List    []string        `json:"list,omitempty"`
	Files   []AttachmentRef `json:"files,omitempty"`
	Table   []TableRow      `json:"table,omitempty"`
}

// StringValue builds a string-kind field value.
func StringValue(v string) FieldValue {
	return FieldValue{Kind: FieldKindString, String: &v}
}

// NumberValue builds a number-kind field value.
func NumberValue(v float64) FieldValue {
	return FieldValue{Kind: FieldKindNumber, Number: &v}
}

// BooleanValue builds a boolean-kind field value.
func BooleanValue(v bool) FieldValue {
	return FieldValue{Kind: FieldKindBoolean, Boolean: &v}
}

// ListValue builds a list-kind field value.
func ListValue(items []string) FieldValue {
	return FieldValue{Kind: FieldKindList, List: items}
}

// FilesValue builds a files-kind field value.
func FilesValue(refs []AttachmentRef) FieldValue {
	return FieldValue{Kind: FieldKindFiles, Files: refs}
}

// TableValue builds a table-kind field value.
func TableValue(rows []TableRow) FieldValue {
	return FieldValue{Kind: FieldKindTable, Table: rows}
}

// Generic flattens the value back into a plain representation: string,
// float64, bool, []string, []AttachmentRef or an ordered []map[string]any
// for tables. This is the read-path shape used by exports and notification
// payloads.
func (v FieldValue) Generic() any {
	switch v.Kind {
	case FieldKindString:
		if v.String == nil {
			return nil
		}
		return *v.String
	case FieldKindNumber:
		if v.Number == nil {
			return nil
		}
		return *v.Number
	case FieldKindBoolean:
		if v.Boolean == nil {
			return nil
		}
		return *v.Boolean
	case FieldKindList:
		return v.List
	case FieldKindFiles:
		return v.Files
	case FieldKindTable:
		rows := make([]map[string]any, 0, len(v.Table))
		for _, row := range v.Table {
			cells := make(map[string]any, len(row.Cells))
			for _, cell := range row.Cells {
				cells[cell.Name] = cell.Value()
			}
			rows = append(rows, cells)
		}
		return rows
	}
	return nil
}

// Attachment is a durable uploaded file owned by a reply's files field.
type Attachment struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	ContentType string    `db:"content_type" json:"contentType"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	StoragePath string    `db:"storage_path" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}
