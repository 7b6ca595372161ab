package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
)

var now = time.Date(2025, 10, 20, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewStore(db), mock
}

func optionRow(reserved, quantity int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "daily_menu_id", "kind", "title", "description", "price", "quantity",
		"reserved_quantity", "is_default", "is_active", "cancellation_deadline", "sort_order",
		"center_ids", "created_at", "updated_at",
	}).AddRow(
		int64(5), int64(9), "food", "Kebab", "", "120000.00", quantity,
		reserved, false, true, "1404/08/02 10:00", 1,
		"{1,2}", now, now,
	)
}

func reservationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "kind", "owner_id", "guest_first_name", "guest_last_name",
		"claim_key", "option_id", "option_info", "amount", "status", "cancellation_deadline",
		"created_at", "updated_at", "cancelled_at", "cancelled_by",
	})
}

func TestClaimUnit_ReturnsUpdatedRow(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SET reserved_quantity = reserved_quantity + 1")).
		WithArgs(int64(5), now).
		WillReturnRows(optionRow(3, 10))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		opt, ok, err := tx.ClaimUnit(ctx, 5, now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 3, opt.ReservedQuantity)
		assert.Equal(t, []int64{1, 2}, opt.CenterIDs)
		assert.True(t, decimal.RequireFromString("120000").Equal(opt.Price))
		assert.Equal(t, "1404/08/02 10:00", opt.CancellationDeadline)
		return nil
	})
	require.NoError(t, err)
}

func TestClaimUnit_NoRowMeansRefused(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("AND reserved_quantity < quantity")).
		WithArgs(int64(5), now).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	refused := errors.New("refused")
	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		_, ok, err := tx.ClaimUnit(ctx, 5, now)
		require.NoError(t, err)
		assert.False(t, ok)
		return refused
	})
	assert.ErrorIs(t, err, refused)
}

func TestInsertReservation_UniqueViolationIsDuplicateClaim(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: activeClaimIndex, Message: "duplicate key"})
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return tx.InsertReservation(ctx, &models.Reservation{
			Kind:     models.ReservationKindSelf,
			OwnerID:  7,
			ClaimKey: "user:7",
			OptionID: 5,
			Status:   models.StatusActive,
		})
	})
	assert.ErrorIs(t, err, models.ErrDuplicateClaim)
}

func TestInsertReservation_SetsID(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO reservations")).
		WithArgs(models.ReservationKindGuest, int64(7), "Sara", "Ahmadi", "guest:7:sara|ahmadi",
			int64(5), sqlmock.AnyArg(), sqlmock.AnyArg(), models.StatusActive, sqlmock.AnyArg(), now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(31)))
	mock.ExpectCommit()

	r := models.Reservation{
		Kind:      models.ReservationKindGuest,
		OwnerID:   7,
		Guest:     &models.Guest{FirstName: "Sara", LastName: "Ahmadi"},
		ClaimKey:  "guest:7:sara|ahmadi",
		OptionID:  5,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return tx.InsertReservation(ctx, &r)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(31), r.ID)
}

func TestInTx_TransientErrorsBecomeTimeout(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01", "55P03", "57014"} {
		t.Run(string(code), func(t *testing.T) {
			s, mock := newMock(t)

			mock.ExpectBegin()
			mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
				WillReturnError(&pq.Error{Code: code})
			mock.ExpectRollback()

			err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
				_, err := tx.LockReservation(ctx, 1)
				return err
			})
			assert.ErrorIs(t, err, models.ErrTimeout)
			assert.True(t, models.Retryable(err))
		})
	}
}

func TestMarkCancelled_ConditionalOnActive(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'active'")).
		WithArgs(int64(3), int64(7), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'active'")).
		WithArgs(int64(3), int64(7), now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		ok, err := tx.MarkCancelled(ctx, 3, 7, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.MarkCancelled(ctx, 3, 7, now)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestEditOption_GuardRejects(t *testing.T) {
	s, mock := newMock(t)
	q := 1

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE($5::int, quantity) >= reserved_quantity")).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		_, ok, err := tx.EditOption(ctx, 5, models.OptionEdit{Quantity: &q}, now)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteOptionIfUnused(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM menu_options")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		deleted, err := tx.DeleteOptionIfUnused(ctx, 5)
		require.NoError(t, err)
		assert.False(t, deleted)
		return nil
	})
	require.NoError(t, err)
}

func TestSetOptionActive_MissingRow(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE menu_options SET is_active")).
		WithArgs(int64(5), false, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		return tx.SetOptionActive(ctx, 5, false, now)
	})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetOption_NotFound(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM menu_options WHERE id = $1")).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetOption(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCounterSnapshot(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservations")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"reserved_quantity", "count"}).AddRow(4, 3))

	reserved, active, err := s.CounterSnapshot(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 4, reserved)
	assert.Equal(t, 3, active)
}

func TestListReservations_Keyset(t *testing.T) {
	s, mock := newMock(t)
	info := []byte(`{"option_id":5,"daily_menu_id":9,"kind":"food","title":"Kebab","price":"120000"}`)
	cancelledAt := now.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("AND (created_at, id) < ($2, $3)")).
		WithArgs(int64(7), now, int64(12), 2).
		WillReturnRows(reservationRows().
			AddRow(int64(11), "self", int64(7), nil, nil, "user:7", int64(5), info,
				"120000.00", "cancelled", "1404/08/02 10:00", now, now, cancelledAt, int64(7)).
			AddRow(int64(10), "guest", int64(7), "Sara", "Ahmadi", "guest:7:sara|ahmadi", nil, info,
				"120000.00", "active", nil, now, now, nil, nil))

	got, err := s.ListReservations(context.Background(), 7, &models.Cursor{CreatedAt: now, ID: 12}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, models.StatusCancelled, got[0].Status)
	require.NotNil(t, got[0].CancelledAt)
	assert.Equal(t, "Kebab", got[0].OptionInfo.Title)
	assert.Nil(t, got[0].Guest)

	require.NotNil(t, got[1].Guest)
	assert.Equal(t, "Sara Ahmadi", got[1].Guest.FullName())
	assert.Zero(t, got[1].OptionID, "deleted option leaves option_id NULL")
	assert.Equal(t, int64(5), got[1].OptionInfo.OptionID)
}

func TestCenterRepo(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_centers WHERE user_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"center_id"}).AddRow(int64(1)).AddRow(int64(3)))

	centers, err := NewCenterRepo(db).CentersOf(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, centers)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemove_LocksOptionBeforeDelete(t *testing.T) {
	s, mock := newMock(t)
	catalog := service.NewCatalog(s, nil, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM menu_options WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnRows(optionRow(1, 10))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM menu_options")).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE menu_options SET is_active = $2")).
		WithArgs(int64(5), false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	deleted, err := catalog.Remove(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRemove_MissingOption(t *testing.T) {
	s, mock := newMock(t)
	catalog := service.NewCatalog(s, nil, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := catalog.Remove(context.Background(), 5)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMoveReservation(t *testing.T) {
	s, mock := newMock(t)
	moved := models.Reservation{
		ID:                   3,
		OptionID:             6,
		OptionInfo:           models.OptionInfo{OptionID: 6, Title: "Joojeh"},
		Amount:               decimal.RequireFromString("90000"),
		CancellationDeadline: "2025-10-20 11:00",
		UpdatedAt:            now,
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET option_id = $2")).
		WithArgs(int64(3), int64(6), sqlmock.AnyArg(), moved.Amount, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = 'active'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET option_id = $2")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: activeClaimIndex, Message: "duplicate key"})
	mock.ExpectRollback()

	err := s.InTx(context.Background(), func(ctx context.Context, tx service.Tx) error {
		ok, err := tx.MoveReservation(ctx, moved)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.MoveReservation(ctx, moved)
		require.NoError(t, err)
		assert.False(t, ok, "cancelled rows are not moved")

		_, err = tx.MoveReservation(ctx, moved)
		return err
	})
	assert.ErrorIs(t, err, models.ErrDuplicateClaim)
}

func TestTranslate_OversizedValuesAreInvalidInput(t *testing.T) {
	for _, code := range []pq.ErrorCode{"22001", "22003"} {
		err := translate(&pq.Error{Code: code, Message: "value too long"})
		assert.ErrorIs(t, err, models.ErrInvalidInput, string(code))
	}
}

