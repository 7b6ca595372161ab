package service

import (
	"context"
	"time"

	"github.com/Cheertaboi/meal-reservation-service/internal/events"
	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

// Store is the persistence seam for options and reservations (use
// interfaces to allow the in-memory backend in tests and dev).
type Store interface {
	Reader
	// InTx runs fn in one transaction. Any error from fn rolls everything
	// back, so a failed or timed-out call leaves no partial state.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Reader serves read-committed views. Results may be stale and must not
// feed a reserve decision.
type Reader interface {
	GetOption(ctx context.Context, id int64) (models.MenuOption, error)
	ListOptions(ctx context.Context, dailyMenuID int64) ([]models.MenuOption, error)
	ListOptionIDs(ctx context.Context) ([]int64, error)
	// CounterSnapshot reads reserved_quantity and the number of active
	// reservations for an option from one consistent snapshot.
	CounterSnapshot(ctx context.Context, optionID int64) (reserved, active int, err error)
	GetReservation(ctx context.Context, id int64) (models.Reservation, error)
	// ListReservations returns up to limit reservations of owner, newest
	// first, strictly after cursor when it is non-nil.
	ListReservations(ctx context.Context, ownerID int64, after *models.Cursor, limit int) ([]models.Reservation, error)
}

// Tx holds the mutation primitives. Implementations must make ClaimUnit a
// single conditional increment and MarkCancelled a single conditional
// transition; the allocator relies on both for correctness under contention.
type Tx interface {
	GetOption(ctx context.Context, id int64) (models.MenuOption, error)
	// LockOption reads the option and holds its row lock until the
	// transaction ends.
	LockOption(ctx context.Context, id int64) (models.MenuOption, error)
	InsertOption(ctx context.Context, opt *models.MenuOption) error
	// EditOption applies edit unless the resulting quantity would drop below
	// reserved_quantity. ok is false when the row is missing or the guard
	// rejected the edit.
	EditOption(ctx context.Context, id int64, edit models.OptionEdit, at time.Time) (opt models.MenuOption, ok bool, err error)
	SetOptionActive(ctx context.Context, id int64, active bool, at time.Time) error
	// DeleteOptionIfUnused removes the option when no active reservation
	// references it.
	DeleteOptionIfUnused(ctx context.Context, id int64) (deleted bool, err error)

	HasActiveClaim(ctx context.Context, optionID int64, claimKey string) (bool, error)
	// ClaimUnit increments reserved_quantity iff the option is active and
	// below capacity, returning the updated row.
	ClaimUnit(ctx context.Context, optionID int64, at time.Time) (opt models.MenuOption, ok bool, err error)
	// ReleaseUnit decrements reserved_quantity, flooring at zero.
	ReleaseUnit(ctx context.Context, optionID int64, at time.Time) error
	// InsertReservation returns models.ErrDuplicateClaim when the claim key
	// already has an active reservation on the option.
	InsertReservation(ctx context.Context, r *models.Reservation) error
	LockReservation(ctx context.Context, id int64) (models.Reservation, error)
	// MarkCancelled moves an active reservation to cancelled. ok is false when
	// it was not active.
	MarkCancelled(ctx context.Context, id int64, by int64, at time.Time) (ok bool, err error)
	// MoveReservation repoints an active reservation at r.OptionID with the
	// snapshot fields of r. ok is false when it was not active. A clash with
	// another active claim returns models.ErrDuplicateClaim.
	MoveReservation(ctx context.Context, r models.Reservation) (ok bool, err error)
}

// Directory resolves a user's center memberships. Owned by the accounts
// subsystem.
type Directory interface {
	CentersOf(ctx context.Context, userID int64) ([]int64, error)
}

// Publisher receives reservation lifecycle events after commit.
type Publisher interface {
	Publish(ctx context.Context, evt events.Event) error
}
