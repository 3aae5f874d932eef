package models

import (
	"encoding/json"
	"time"
)

// ReplyMode controls what happens when a submitter who already has an active
// reply submits again.
type ReplyMode string

const (
	// ReplyModeUpdate mutates the existing active reply in place.
	ReplyModeUpdate ReplyMode = "UPDATE"
	// ReplyModeRevision stamps the existing reply as superseded and creates a new one.
	ReplyModeRevision ReplyMode = "REVISION"
	// ReplyModeCumulative always creates a new reply.
	ReplyModeCumulative ReplyMode = "CUMULATIVE"
)

// FieldKind is the storage kind discriminator for reply field values.
type FieldKind string

const (
	FieldKindString  FieldKind = "string"
	FieldKindNumber  FieldKind = "number"
	FieldKindBoolean FieldKind = "boolean"
	FieldKindList    FieldKind = "list"
	FieldKindFiles   FieldKind = "files"
	FieldKindTable   FieldKind = "table"

	// Meta kinds resolve from the reply record itself, not from storage.
	FieldKindCreated      FieldKind = "created"
	FieldKindModified     FieldKind = "modified"
	FieldKindLastModifier FieldKind = "lastModifier"
)

// IsMeta reports whether the kind derives its value from the reply record.
func (k FieldKind) IsMeta() bool {
	switch k {
	case FieldKindCreated, FieldKindModified, FieldKindLastModifier:
		return true
	}
	return false
}

// PermissionContexts flags which access scopes a field's submitted value
// contributes dynamic group membership to.
type PermissionContexts struct {
	View   bool `json:"view"`
	Edit   bool `json:"edit"`
	Notify bool `json:"notify"`
}

// Any reports whether at least one scope is flagged.
func (p PermissionContexts) Any() bool {
	return p.View || p.Edit || p.Notify
}

// TableColumn declares a named typed column of a table field.
type TableColumn struct {
	Name string `json:"name"`
	// Type is "text" or "number".
	Type string `json:"type"`
}

// MetaformField is one field definition within a form.
type MetaformField struct {
	Name               string             `json:"name"`
	Title              string             `json:"title,omitempty"`
	Kind               FieldKind          `json:"type"`
	Required           bool               `json:"required,omitempty"`
	Options            []string           `json:"options,omitempty"`
	Columns            []TableColumn      `json:"columns,omitempty"`
	PermissionContexts PermissionContexts `json:"permissionContexts,omitempty"`
}

// Metaform is a form definition whose filled-in instances are replies.
type Metaform struct {
	ID             string          `db:"id" json:"id"`
	Slug           string          `db:"slug" json:"slug"`
	Title          string          `db:"title" json:"title"`
	AllowAnonymous bool            `db:"allow_anonymous" json:"allowAnonymous"`
	ReplyMode      ReplyMode       `db:"reply_mode" json:"replyMode"`
	FieldsJSON     json.RawMessage `db:"fields" json:"-"`
	Fields         []MetaformField `db:"-" json:"fields"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updatedAt"`
}

// Field returns the field definition with the given name.
func (m *Metaform) Field(name string) (MetaformField, bool) {
	for _, field := range m.Fields {
		if field.Name == name {
			return field, true
		}
	}
	return MetaformField{}, false
}

// DecodeFields parses the persisted fields column into the Fields slice.
func (m *Metaform) DecodeFields() error {
	if len(m.FieldsJSON) == 0 {
		m.Fields = nil
		return nil
	}
	return json.Unmarshal(m.FieldsJSON, &m.Fields)
}

// EncodeFields serializes the Fields slice into the persisted column.
func (m *Metaform) EncodeFields() error {
	raw, err := json.Marshal(m.Fields)
	if err != nil {
		return err
	}
	m.FieldsJSON = raw
	return nil
}
