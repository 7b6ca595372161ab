package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

const optionColumns = `id, daily_menu_id, kind, title, description, price, quantity,
	reserved_quantity, is_default, is_active, cancellation_deadline, sort_order,
	center_ids, created_at, updated_at`

type OptionRepo struct{}

func NewOptionRepo() *OptionRepo {
	return &OptionRepo{}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOption(row scanner) (models.MenuOption, error) {
	var (
		o        models.MenuOption
		deadline sql.NullString
		centers  []int64
	)
	err := row.Scan(
		&o.ID,
		&o.DailyMenuID,
		&o.Kind,
		&o.Title,
		&o.Description,
		&o.Price,
		&o.Quantity,
		&o.ReservedQuantity,
		&o.IsDefault,
		&o.IsActive,
		&deadline,
		&o.SortOrder,
		pq.Array(&centers),
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return models.MenuOption{}, err
	}
	o.CancellationDeadline = deadline.String
	if len(centers) > 0 {
		o.CenterIDs = centers
	}
	return o, nil
}

func (r *OptionRepo) Get(ctx context.Context, q dbtx, id int64) (models.MenuOption, error) {
	query := `SELECT ` + optionColumns + ` FROM menu_options WHERE id = $1`

	o, err := scanOption(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MenuOption{}, fmt.Errorf("%w: option %d", models.ErrNotFound, id)
		}
		return models.MenuOption{}, translate(err)
	}
	return o, nil
}

// Lock is Get with a row lock held until the transaction ends.
func (r *OptionRepo) Lock(ctx context.Context, tx dbtx, id int64) (models.MenuOption, error) {
	query := `SELECT ` + optionColumns + ` FROM menu_options WHERE id = $1 FOR UPDATE`

	o, err := scanOption(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MenuOption{}, fmt.Errorf("%w: option %d", models.ErrNotFound, id)
		}
		return models.MenuOption{}, translate(err)
	}
	return o, nil
}

func (r *OptionRepo) ListByMenu(ctx context.Context, q dbtx, dailyMenuID int64) ([]models.MenuOption, error) {
	query := `SELECT ` + optionColumns + `
		FROM menu_options
		WHERE daily_menu_id = $1
		ORDER BY sort_order, title`

	rows, err := q.QueryContext(ctx, query, dailyMenuID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var out []models.MenuOption
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *OptionRepo) ListIDs(ctx context.Context, q dbtx) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM menu_options ORDER BY id`)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CounterSnapshot reads the counter and the active count in one statement so
// both come from the same snapshot.
func (r *OptionRepo) CounterSnapshot(ctx context.Context, q dbtx, id int64) (reserved, active int, err error) {
	query := `
		SELECT o.reserved_quantity,
		       (SELECT COUNT(*) FROM reservations r
		         WHERE r.option_id = o.id AND r.status = 'active')
		FROM menu_options o
		WHERE o.id = $1`

	err = q.QueryRowContext(ctx, query, id).Scan(&reserved, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, fmt.Errorf("%w: option %d", models.ErrNotFound, id)
	}
	return reserved, active, translate(err)
}

func (r *OptionRepo) Insert(ctx context.Context, q dbtx, o *models.MenuOption) error {
	query := `
		INSERT INTO menu_options (daily_menu_id, kind, title, description, price,
			quantity, reserved_quantity, is_default, is_active, cancellation_deadline,
			sort_order, center_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	err := q.QueryRowContext(ctx, query,
		o.DailyMenuID,
		o.Kind,
		o.Title,
		o.Description,
		o.Price,
		o.Quantity,
		o.ReservedQuantity,
		o.IsDefault,
		o.IsActive,
		nullString(o.CancellationDeadline),
		o.SortOrder,
		pq.Array(nonNil(o.CenterIDs)),
		o.CreatedAt,
		o.UpdatedAt,
	).Scan(&o.ID)
	return translate(err)
}

// Edit is a single conditional UPDATE: the row is only touched when the
// resulting quantity still covers reserved_quantity.
func (r *OptionRepo) Edit(ctx context.Context, q dbtx, id int64, e models.OptionEdit, at time.Time) (models.MenuOption, bool, error) {
	query := `
		UPDATE menu_options
		SET title                 = COALESCE($2::varchar, title),
		    description           = COALESCE($3::text, description),
		    price                 = COALESCE($4::numeric, price),
		    quantity              = COALESCE($5::int, quantity),
		    cancellation_deadline = CASE WHEN $6::varchar IS NULL THEN cancellation_deadline
		                                 ELSE NULLIF($6::varchar, '') END,
		    sort_order            = COALESCE($7::int, sort_order),
		    is_default            = COALESCE($8::boolean, is_default),
		    updated_at            = $9
		WHERE id = $1 AND COALESCE($5::int, quantity) >= reserved_quantity
		RETURNING ` + optionColumns

	var price any
	if e.Price != nil {
		price = e.Price.String()
	}
	o, err := scanOption(q.QueryRowContext(ctx, query,
		id, e.Title, e.Description, price, e.Quantity,
		e.CancellationDeadline, e.SortOrder, e.IsDefault, at,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MenuOption{}, false, nil
		}
		return models.MenuOption{}, false, translate(err)
	}
	return o, true, nil
}

func (r *OptionRepo) SetActive(ctx context.Context, q dbtx, id int64, active bool, at time.Time) error {
	res, err := q.ExecContext(ctx,
		`UPDATE menu_options SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, at)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: option %d", models.ErrNotFound, id)
	}
	return nil
}

// DeleteIfUnused removes the row unless an active reservation points at it.
// Cancelled reservations survive with option_id set to NULL. Callers hold
// the row lock from Lock so a concurrent claim cannot slip past the check.
func (r *OptionRepo) DeleteIfUnused(ctx context.Context, q dbtx, id int64) (bool, error) {
	query := `
		DELETE FROM menu_options
		WHERE id = $1
		  AND NOT EXISTS (
		      SELECT 1 FROM reservations
		      WHERE option_id = $1 AND status = 'active'
		  )`

	res, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return false, translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Claim is the check-and-increment primitive. ok is false when the option
// is missing, inactive or full; the row lock taken by the UPDATE serializes
// concurrent claims on the same option.
func (r *OptionRepo) Claim(ctx context.Context, q dbtx, id int64, at time.Time) (models.MenuOption, bool, error) {
	query := `
		UPDATE menu_options
		SET reserved_quantity = reserved_quantity + 1,
		    updated_at = $2
		WHERE id = $1
		  AND is_active
		  AND reserved_quantity < quantity
		RETURNING ` + optionColumns

	o, err := scanOption(q.QueryRowContext(ctx, query, id, at))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.MenuOption{}, false, nil
		}
		return models.MenuOption{}, false, translate(err)
	}
	return o, true, nil
}

func (r *OptionRepo) Release(ctx context.Context, q dbtx, id int64, at time.Time) error {
	query := `
		UPDATE menu_options
		SET reserved_quantity = GREATEST(reserved_quantity - 1, 0),
		    updated_at = $2
		WHERE id = $1`

	_, err := q.ExecContext(ctx, query, id, at)
	return translate(err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
