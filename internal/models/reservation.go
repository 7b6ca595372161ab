package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReservationKind string

const (
	ReservationKindSelf  ReservationKind = "self"
	ReservationKindGuest ReservationKind = "guest"
)

type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusCancelled ReservationStatus = "cancelled"
)

// OptionInfo is the option state captured when the reservation was made.
type OptionInfo struct {
	OptionID             int64           `json:"option_id"`
	DailyMenuID          int64           `json:"daily_menu_id"`
	Kind                 OptionKind      `json:"kind"`
	Title                string          `json:"title"`
	Price                decimal.Decimal `json:"price"`
	CancellationDeadline string          `json:"cancellation_deadline,omitempty"`
}

type Reservation struct {
	ID       int64           `json:"id"`
	Kind     ReservationKind `json:"kind"`
	OwnerID  int64           `json:"owner_id"`
	Guest    *Guest          `json:"guest,omitempty"`
	ClaimKey string          `json:"-"`
	// OptionID is zero once the option row has been deleted; OptionInfo
	// still describes what was booked.
	OptionID             int64             `json:"option_id"`
	OptionInfo           OptionInfo        `json:"option_info"`
	Amount               decimal.Decimal   `json:"amount"`
	Status               ReservationStatus `json:"status"`
	CancellationDeadline string            `json:"cancellation_deadline,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	CancelledAt          *time.Time        `json:"cancelled_at,omitempty"`
	CancelledBy          *int64            `json:"cancelled_by,omitempty"`
}

func (r Reservation) IsActive() bool {
	return r.Status == StatusActive
}

// Cursor is the keyset position used to page an owner's reservations
// newest first.
type Cursor struct {
	CreatedAt time.Time
	ID        int64
}

func (r Reservation) Cursor() Cursor {
	return Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
}

// After reports whether r comes after c in newest-first order.
func (r Reservation) After(c Cursor) bool {
	if r.CreatedAt.Equal(c.CreatedAt) {
		return r.ID < c.ID
	}
	return r.CreatedAt.Before(c.CreatedAt)
}
