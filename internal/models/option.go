package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OptionKind string

const (
	OptionKindFood    OptionKind = "food"
	OptionKindDessert OptionKind = "dessert"
)

// MaxTitleLen matches the menu_options.title column.
const MaxTitleLen = 200

func (k OptionKind) Valid() bool {
	return k == OptionKindFood || k == OptionKindDessert
}

// MenuOption is a reservable unit of a daily menu. ReservedQuantity is written
// only by the allocator; everything else comes from menu publication.
type MenuOption struct {
	ID                   int64           `json:"id"`
	DailyMenuID          int64           `json:"daily_menu_id"`
	Kind                 OptionKind      `json:"kind"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	Price                decimal.Decimal `json:"price"`
	Quantity             int             `json:"quantity"`
	ReservedQuantity     int             `json:"reserved_quantity"`
	IsDefault            bool            `json:"is_default"`
	IsActive             bool            `json:"is_active"`
	CancellationDeadline string          `json:"cancellation_deadline,omitempty"`
	SortOrder            int             `json:"sort_order"`
	CenterIDs            []int64         `json:"center_ids,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Snapshot freezes the fields a receipt needs so later catalog edits do not
// rewrite history.
func (o MenuOption) Snapshot() OptionInfo {
	return OptionInfo{
		OptionID:             o.ID,
		DailyMenuID:          o.DailyMenuID,
		Kind:                 o.Kind,
		Title:                o.Title,
		Price:                o.Price,
		CancellationDeadline: o.CancellationDeadline,
	}
}

// Clone returns a copy that does not share the center slice.
func (o MenuOption) Clone() MenuOption {
	if o.CenterIDs != nil {
		o.CenterIDs = append([]int64(nil), o.CenterIDs...)
	}
	return o
}

// OptionEdit is a partial update coming from menu management. Nil fields are
// left untouched.
type OptionEdit struct {
	Title                *string          `json:"title,omitempty"`
	Description          *string          `json:"description,omitempty"`
	Price                *decimal.Decimal `json:"price,omitempty"`
	Quantity             *int             `json:"quantity,omitempty"`
	CancellationDeadline *string          `json:"cancellation_deadline,omitempty"`
	SortOrder            *int             `json:"sort_order,omitempty"`
	IsDefault            *bool            `json:"is_default,omitempty"`
}

func (e OptionEdit) Apply(o MenuOption) MenuOption {
	if e.Title != nil {
		o.Title = *e.Title
	}
	if e.Description != nil {
		o.Description = *e.Description
	}
	if e.Price != nil {
		o.Price = *e.Price
	}
	if e.Quantity != nil {
		o.Quantity = *e.Quantity
	}
	if e.CancellationDeadline != nil {
		o.CancellationDeadline = *e.CancellationDeadline
	}
	if e.SortOrder != nil {
		o.SortOrder = *e.SortOrder
	}
	if e.IsDefault != nil {
		o.IsDefault = *e.IsDefault
	}
	return o
}

// CounterDrift reports an option whose reserved_quantity disagrees with the
// number of active reservations pointing at it.
type CounterDrift struct {
	OptionID         int64 `json:"option_id"`
	ReservedQuantity int   `json:"reserved_quantity"`
	ActiveCount      int   `json:"active_count"`
}
