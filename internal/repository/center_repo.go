package repository

import (
	"context"
	"database/sql"
)

// CenterRepo reads center membership from the accounts subsystem's
// user_centers table. It never writes.
type CenterRepo struct {
	db *sql.DB
}

func NewCenterRepo(db *sql.DB) *CenterRepo {
	return &CenterRepo{db: db}
}

func (r *CenterRepo) CentersOf(ctx context.Context, userID int64) ([]int64, error) {
	query := `SELECT center_id FROM user_centers WHERE user_id = $1 ORDER BY center_id`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var centers []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		centers = append(centers, id)
	}
	return centers, rows.Err()
}
