package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

const reservationColumns = `id, kind, owner_id, guest_first_name, guest_last_name,
	claim_key, option_id, option_info, amount, status, cancellation_deadline,
	created_at, updated_at, cancelled_at, cancelled_by`

type ReservationRepo struct{}

func NewReservationRepo() *ReservationRepo {
	return &ReservationRepo{}
}

func scanReservation(row scanner) (models.Reservation, error) {
	var (
		r           models.Reservation
		first, last sql.NullString
		optionID    sql.NullInt64
		info        []byte
		deadline    sql.NullString
		cancelledAt sql.NullTime
		cancelledBy sql.NullInt64
	)
	err := row.Scan(
		&r.ID,
		&r.Kind,
		&r.OwnerID,
		&first,
		&last,
		&r.ClaimKey,
		&optionID,
		&info,
		&r.Amount,
		&r.Status,
		&deadline,
		&r.CreatedAt,
		&r.UpdatedAt,
		&cancelledAt,
		&cancelledBy,
	)
	if err != nil {
		return models.Reservation{}, err
	}
	if r.Kind == models.ReservationKindGuest {
		r.Guest = &models.Guest{FirstName: first.String, LastName: last.String}
	}
	r.OptionID = optionID.Int64
	if len(info) > 0 {
		if err := json.Unmarshal(info, &r.OptionInfo); err != nil {
			return models.Reservation{}, fmt.Errorf("decode option_info of reservation %d: %w", r.ID, err)
		}
	}
	r.CancellationDeadline = deadline.String
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	if cancelledBy.Valid {
		by := cancelledBy.Int64
		r.CancelledBy = &by
	}
	return r, nil
}

func (r *ReservationRepo) Get(ctx context.Context, q dbtx, id int64) (models.Reservation, error) {
	return r.getOne(ctx, q, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
}

// Lock reads the reservation and holds its row lock until the transaction
// ends, so concurrent cancels of the same row run one after the other.
func (r *ReservationRepo) Lock(ctx context.Context, tx dbtx, id int64) (models.Reservation, error) {
	return r.getOne(ctx, tx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1 FOR UPDATE`, id)
}

func (r *ReservationRepo) getOne(ctx context.Context, q dbtx, query string, id int64) (models.Reservation, error) {
	res, err := scanReservation(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Reservation{}, fmt.Errorf("%w: reservation %d", models.ErrNotFound, id)
		}
		return models.Reservation{}, translate(err)
	}
	return res, nil
}

func (r *ReservationRepo) HasActiveClaim(ctx context.Context, q dbtx, optionID int64, claimKey string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE option_id = $1 AND claim_key = $2 AND status = 'active'
		)`

	var held bool
	if err := q.QueryRowContext(ctx, query, optionID, claimKey).Scan(&held); err != nil {
		return false, translate(err)
	}
	return held, nil
}

// Insert relies on the partial unique index for the one-active-claim rule;
// a violation comes back as models.ErrDuplicateClaim.
func (r *ReservationRepo) Insert(ctx context.Context, q dbtx, res *models.Reservation) error {
	info, err := json.Marshal(res.OptionInfo)
	if err != nil {
		return fmt.Errorf("encode option_info: %w", err)
	}
	var first, last sql.NullString
	if res.Guest != nil {
		first = sql.NullString{String: res.Guest.FirstName, Valid: true}
		last = sql.NullString{String: res.Guest.LastName, Valid: true}
	}

	query := `
		INSERT INTO reservations (kind, owner_id, guest_first_name, guest_last_name,
			claim_key, option_id, option_info, amount, status, cancellation_deadline,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	err = q.QueryRowContext(ctx, query,
		res.Kind,
		res.OwnerID,
		first,
		last,
		res.ClaimKey,
		res.OptionID,
		info,
		res.Amount,
		res.Status,
		nullString(res.CancellationDeadline),
		res.CreatedAt,
		res.UpdatedAt,
	).Scan(&res.ID)
	return translate(err)
}

// MarkCancelled only moves rows that are still active, which makes a second
// cancel of the same reservation a no-op with ok == false.
func (r *ReservationRepo) MarkCancelled(ctx context.Context, q dbtx, id, by int64, at time.Time) (bool, error) {
	query := `
		UPDATE reservations
		SET status = 'cancelled',
		    cancelled_at = $3,
		    cancelled_by = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'active'`

	res, err := q.ExecContext(ctx, query, id, by, at)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Move repoints an active reservation at another option. The partial unique
// index still guards the claim key on the target.
func (r *ReservationRepo) Move(ctx context.Context, q dbtx, res models.Reservation) (bool, error) {
	info, err := json.Marshal(res.OptionInfo)
	if err != nil {
		return false, fmt.Errorf("encode option_info: %w", err)
	}

	query := `
		UPDATE reservations
		SET option_id = $2,
		    option_info = $3,
		    amount = $4,
		    cancellation_deadline = $5,
		    updated_at = $6
		WHERE id = $1 AND status = 'active'`

	result, err := q.ExecContext(ctx, query,
		res.ID,
		res.OptionID,
		info,
		res.Amount,
		nullString(res.CancellationDeadline),
		res.UpdatedAt,
	)
	if err != nil {
		return false, translate(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListByOwner pages newest first using (created_at, id) as the keyset.
func (r *ReservationRepo) ListByOwner(ctx context.Context, q dbtx, ownerID int64, after *models.Cursor, limit int) ([]models.Reservation, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = q.QueryContext(ctx, `
			SELECT `+reservationColumns+`
			FROM reservations
			WHERE owner_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, ownerID, limit)
	} else {
		rows, err = q.QueryContext(ctx, `
			SELECT `+reservationColumns+`
			FROM reservations
			WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, ownerID, after.CreatedAt, after.ID, limit)
	}
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []models.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
