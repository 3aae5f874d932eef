package models

import "time"

// Reply is one user's submission instance for a metaform.
//
// At most one reply per (metaform, owner) has Revision == nil unless the
// form's reply mode is cumulative. A non-nil Revision marks the reply as
// superseded by a newer one.
type Reply struct {
	ID             string     `db:"id" json:"id"`
	MetaformID     string     `db:"metaform_id" json:"metaformId"`
	OwnerID        *string    `db:"owner_id" json:"ownerId,omitempty"`
	ResourceID     *string    `db:"resource_id" json:"-"`
	OwnerKey       *string    `db:"owner_key" json:"-"`
	Revision       *time.Time `db:"revision" json:"revision,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	ModifiedAt     time.Time  `db:"modified_at" json:"modifiedAt"`
	FirstViewedAt  *time.Time `db:"first_viewed_at" json:"firstViewedAt,omitempty"`
	LastViewedAt   *time.Time `db:"last_viewed_at" json:"lastViewedAt,omitempty"`
	LastModifierID *string    `db:"last_modifier_id" json:"lastModifierId,omitempty"`
}

// Active reports whether the reply is the current (non-superseded) one.
func (r *Reply) Active() bool {
	return r.Revision == nil
}

// ReplyFilter narrows reply listings.
type ReplyFilter struct {
	MetaformID  string
	OwnerID     *string
	ActiveOnly  bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Fields      []FieldFilter
	Page        int
	PageSize    int
}

// FilterOp is a comparison operator in a field filter.
type FilterOp string

const (
	FilterOpEquals    FilterOp = "="
	FilterOpNotEquals FilterOp = "<>"
)

// FieldFilter is one typed predicate over a stored field value. Exactly one
// of the typed value members is set, according to Kind.
type FieldFilter struct {
	Name    string
	Kind    FieldKind
	Op      FilterOp
	String  *string
	Number  *float64
	Boolean *bool
}
