// Package memory is a transactional in-process store backed by go-memdb.
// Write transactions are serialized by memdb, which gives the allocator the
// same all-or-nothing behaviour it gets from Postgres. Used for local runs
// and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
)

const (
	optionTable      = "menu_option"
	reservationTable = "reservation"
)

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			optionTable: {
				Name: optionTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					"menu": {
						Name:    "menu",
						Indexer: &memdb.IntFieldIndex{Field: "DailyMenuID"},
					},
				},
			},
			reservationTable: {
				Name: reservationTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.IntFieldIndex{Field: "ID"},
					},
					"owner": {
						Name:    "owner",
						Indexer: &memdb.IntFieldIndex{Field: "OwnerID"},
					},
					"option": {
						Name:    "option",
						Indexer: &memdb.IntFieldIndex{Field: "OptionID"},
					},
					"claim": {
						Name: "claim",
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.IntFieldIndex{Field: "OptionID"},
								&memdb.StringFieldIndex{Field: "ClaimKey"},
								&memdb.StringFieldIndex{Field: "Status"},
							},
						},
					},
				},
			},
		},
	}
}

type Store struct {
	db             *memdb.MemDB
	optionSeq      atomic.Int64
	reservationSeq atomic.Int64
}

var _ service.Store = (*Store)(nil)

func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("memdb schema: %w", err)
	}
	return &Store{db: db}, nil
}

// InTx runs fn in a memdb write transaction. Nothing is visible to readers
// until fn returns nil and the context is still live.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx service.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := fn(ctx, &tx{txn: txn, store: s}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *Store) GetOption(ctx context.Context, id int64) (models.MenuOption, error) {
	if err := ctx.Err(); err != nil {
		return models.MenuOption{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return getOption(txn, id)
}

func (s *Store) ListOptions(ctx context.Context, dailyMenuID int64) ([]models.MenuOption, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(optionTable, "menu", dailyMenuID)
	if err != nil {
		return nil, err
	}
	var out []models.MenuOption
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*models.MenuOption).Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

func (s *Store) ListOptionIDs(ctx context.Context) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(optionTable, "id")
	if err != nil {
		return nil, err
	}
	var ids []int64
	for obj := it.Next(); obj != nil; obj = it.Next() {
		ids = append(ids, obj.(*models.MenuOption).ID)
	}
	return ids, nil
}

func (s *Store) CounterSnapshot(ctx context.Context, optionID int64) (reserved, active int, err error) {
	if err = ctx.Err(); err != nil {
		return 0, 0, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	opt, err := getOption(txn, optionID)
	if err != nil {
		return 0, 0, err
	}
	active, err = countActive(txn, optionID)
	if err != nil {
		return 0, 0, err
	}
	return opt.ReservedQuantity, active, nil
}

func (s *Store) GetReservation(ctx context.Context, id int64) (models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return models.Reservation{}, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return getReservation(txn, id)
}

func (s *Store) ListReservations(ctx context.Context, ownerID int64, after *models.Cursor, limit int) ([]models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(reservationTable, "owner", ownerID)
	if err != nil {
		return nil, err
	}
	var all []models.Reservation
	for obj := it.Next(); obj != nil; obj = it.Next() {
		r := *obj.(*models.Reservation)
		if after != nil && !r.After(*after) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type tx struct {
	txn   *memdb.Txn
	store *Store
}

func (t *tx) GetOption(ctx context.Context, id int64) (models.MenuOption, error) {
	return getOption(t.txn, id)
}

func (t *tx) LockOption(ctx context.Context, id int64) (models.MenuOption, error) {
	return getOption(t.txn, id)
}

func (t *tx) InsertOption(ctx context.Context, opt *models.MenuOption) error {
	opt.ID = t.store.optionSeq.Add(1)
	row := opt.Clone()
	return t.txn.Insert(optionTable, &row)
}

func (t *tx) EditOption(ctx context.Context, id int64, edit models.OptionEdit, at time.Time) (models.MenuOption, bool, error) {
	opt, err := getOption(t.txn, id)
	if err != nil {
		return models.MenuOption{}, false, err
	}
	next := edit.Apply(opt)
	if next.Quantity < next.ReservedQuantity {
		return models.MenuOption{}, false, nil
	}
	next.UpdatedAt = at
	if err := t.txn.Insert(optionTable, &next); err != nil {
		return models.MenuOption{}, false, err
	}
	return next.Clone(), true, nil
}

func (t *tx) SetOptionActive(ctx context.Context, id int64, active bool, at time.Time) error {
	opt, err := getOption(t.txn, id)
	if err != nil {
		return err
	}
	opt.IsActive = active
	opt.UpdatedAt = at
	return t.txn.Insert(optionTable, &opt)
}

func (t *tx) DeleteOptionIfUnused(ctx context.Context, id int64) (bool, error) {
	n, err := countActive(t.txn, id)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	raw, err := t.txn.First(optionTable, "id", id)
	if err != nil || raw == nil {
		return false, err
	}
	if err := t.txn.Delete(optionTable, raw); err != nil {
		return false, err
	}

	// Keep history: detach retained reservations the way ON DELETE SET NULL
	// does in Postgres.
	it, err := t.txn.Get(reservationTable, "option", id)
	if err != nil {
		return false, err
	}
	var detached []models.Reservation
	for obj := it.Next(); obj != nil; obj = it.Next() {
		detached = append(detached, *obj.(*models.Reservation))
	}
	for _, r := range detached {
		r.OptionID = 0
		if err := t.txn.Insert(reservationTable, &r); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (t *tx) HasActiveClaim(ctx context.Context, optionID int64, claimKey string) (bool, error) {
	raw, err := t.txn.First(reservationTable, "claim", optionID, claimKey, string(models.StatusActive))
	if err != nil {
		return false, err
	}
	return raw != nil, nil
}

func (t *tx) ClaimUnit(ctx context.Context, optionID int64, at time.Time) (models.MenuOption, bool, error) {
	opt, err := getOption(t.txn, optionID)
	if err != nil {
		return models.MenuOption{}, false, err
	}
	if !opt.IsActive || opt.ReservedQuantity >= opt.Quantity {
		return models.MenuOption{}, false, nil
	}
	opt.ReservedQuantity++
	opt.UpdatedAt = at
	if err := t.txn.Insert(optionTable, &opt); err != nil {
		return models.MenuOption{}, false, err
	}
	return opt.Clone(), true, nil
}

func (t *tx) ReleaseUnit(ctx context.Context, optionID int64, at time.Time) error {
	opt, err := getOption(t.txn, optionID)
	if err != nil {
		return err
	}
	if opt.ReservedQuantity > 0 {
		opt.ReservedQuantity--
	}
	opt.UpdatedAt = at
	return t.txn.Insert(optionTable, &opt)
}

func (t *tx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	held, err := t.HasActiveClaim(ctx, r.OptionID, r.ClaimKey)
	if err != nil {
		return err
	}
	if held {
		return fmt.Errorf("%w: option %d", models.ErrDuplicateClaim, r.OptionID)
	}
	r.ID = t.store.reservationSeq.Add(1)
	row := *r
	return t.txn.Insert(reservationTable, &row)
}

func (t *tx) LockReservation(ctx context.Context, id int64) (models.Reservation, error) {
	// The write transaction already excludes other writers.
	return getReservation(t.txn, id)
}

func (t *tx) MarkCancelled(ctx context.Context, id int64, by int64, at time.Time) (bool, error) {
	r, err := getReservation(t.txn, id)
	if err != nil {
		return false, err
	}
	if r.Status != models.StatusActive {
		return false, nil
	}
	r.Status = models.StatusCancelled
	r.CancelledAt = &at
	r.CancelledBy = &by
	r.UpdatedAt = at
	if err := t.txn.Insert(reservationTable, &r); err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) MoveReservation(ctx context.Context, next models.Reservation) (bool, error) {
	r, err := getReservation(t.txn, next.ID)
	if err != nil {
		return false, err
	}
	if r.Status != models.StatusActive {
		return false, nil
	}
	if next.OptionID != r.OptionID {
		held, err := t.HasActiveClaim(ctx, next.OptionID, r.ClaimKey)
		if err != nil {
			return false, err
		}
		if held {
			return false, fmt.Errorf("%w: option %d", models.ErrDuplicateClaim, next.OptionID)
		}
	}
	r.OptionID = next.OptionID
	r.OptionInfo = next.OptionInfo
	r.Amount = next.Amount
	r.CancellationDeadline = next.CancellationDeadline
	r.UpdatedAt = next.UpdatedAt
	if err := t.txn.Insert(reservationTable, &r); err != nil {
		return false, err
	}
	return true, nil
}

func getOption(txn *memdb.Txn, id int64) (models.MenuOption, error) {
	raw, err := txn.First(optionTable, "id", id)
	if err != nil {
		return models.MenuOption{}, err
	}
	if raw == nil {
		return models.MenuOption{}, fmt.Errorf("%w: option %d", models.ErrNotFound, id)
	}
	return raw.(*models.MenuOption).Clone(), nil
}

func getReservation(txn *memdb.Txn, id int64) (models.Reservation, error) {
	raw, err := txn.First(reservationTable, "id", id)
	if err != nil {
		return models.Reservation{}, err
	}
	if raw == nil {
		return models.Reservation{}, fmt.Errorf("%w: reservation %d", models.ErrNotFound, id)
	}
	return *raw.(*models.Reservation), nil
}

func countActive(txn *memdb.Txn, optionID int64) (int, error) {
	it, err := txn.Get(reservationTable, "option", optionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for obj := it.Next(); obj != nil; obj = it.Next() {
		if obj.(*models.Reservation).IsActive() {
			n++
		}
	}
	return n, nil
}
