package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
)

// Store is the Postgres implementation of service.Store.
type Store struct {
	db           *sql.DB
	options      *OptionRepo
	reservations *ReservationRepo
}

var _ service.Store = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		options:      NewOptionRepo(),
		reservations: NewReservationRepo(),
	}
}

// InTx runs fn in a READ COMMITTED transaction. The conditional UPDATEs
// re-check their predicates after waiting on a row lock.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", translate(err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, &pgTx{tx: tx, s: s}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit: %w", translate(err))
	}
	committed = true
	return nil
}

func (s *Store) GetOption(ctx context.Context, id int64) (models.MenuOption, error) {
	return s.options.Get(ctx, s.db, id)
}

func (s *Store) ListOptions(ctx context.Context, dailyMenuID int64) ([]models.MenuOption, error) {
	return s.options.ListByMenu(ctx, s.db, dailyMenuID)
}

func (s *Store) ListOptionIDs(ctx context.Context) ([]int64, error) {
	return s.options.ListIDs(ctx, s.db)
}

func (s *Store) CounterSnapshot(ctx context.Context, optionID int64) (int, int, error) {
	return s.options.CounterSnapshot(ctx, s.db, optionID)
}

func (s *Store) GetReservation(ctx context.Context, id int64) (models.Reservation, error) {
	return s.reservations.Get(ctx, s.db, id)
}

func (s *Store) ListReservations(ctx context.Context, ownerID int64, after *models.Cursor, limit int) ([]models.Reservation, error) {
	return s.reservations.ListByOwner(ctx, s.db, ownerID, after, limit)
}

type pgTx struct {
	tx *sql.Tx
	s  *Store
}

func (t *pgTx) GetOption(ctx context.Context, id int64) (models.MenuOption, error) {
	return t.s.options.Get(ctx, t.tx, id)
}

func (t *pgTx) LockOption(ctx context.Context, id int64) (models.MenuOption, error) {
	return t.s.options.Lock(ctx, t.tx, id)
}

func (t *pgTx) InsertOption(ctx context.Context, opt *models.MenuOption) error {
	return t.s.options.Insert(ctx, t.tx, opt)
}

func (t *pgTx) EditOption(ctx context.Context, id int64, edit models.OptionEdit, at time.Time) (models.MenuOption, bool, error) {
	return t.s.options.Edit(ctx, t.tx, id, edit, at)
}

func (t *pgTx) SetOptionActive(ctx context.Context, id int64, active bool, at time.Time) error {
	return t.s.options.SetActive(ctx, t.tx, id, active, at)
}

func (t *pgTx) DeleteOptionIfUnused(ctx context.Context, id int64) (bool, error) {
	return t.s.options.DeleteIfUnused(ctx, t.tx, id)
}

func (t *pgTx) HasActiveClaim(ctx context.Context, optionID int64, claimKey string) (bool, error) {
	return t.s.reservations.HasActiveClaim(ctx, t.tx, optionID, claimKey)
}

func (t *pgTx) ClaimUnit(ctx context.Context, optionID int64, at time.Time) (models.MenuOption, bool, error) {
	return t.s.options.Claim(ctx, t.tx, optionID, at)
}

func (t *pgTx) ReleaseUnit(ctx context.Context, optionID int64, at time.Time) error {
	return t.s.options.Release(ctx, t.tx, optionID, at)
}

func (t *pgTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	return t.s.reservations.Insert(ctx, t.tx, r)
}

func (t *pgTx) LockReservation(ctx context.Context, id int64) (models.Reservation, error) {
	return t.s.reservations.Lock(ctx, t.tx, id)
}

func (t *pgTx) MarkCancelled(ctx context.Context, id int64, by int64, at time.Time) (bool, error) {
	return t.s.reservations.MarkCancelled(ctx, t.tx, id, by, at)
}

func (t *pgTx) MoveReservation(ctx context.Context, r models.Reservation) (bool, error) {
	return t.s.reservations.Move(ctx, t.tx, r)
}
