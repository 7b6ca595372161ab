package service

import (
	"context"
	"iter"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

// ListForOwner yields ownerID's reservations (own and sponsored guests),
// newest first. Pages are fetched lazily as the caller ranges; ranging again
// starts over from the newest. A storage error is yielded once and ends the
// sequence.
func (a *Allocator) ListForOwner(ctx context.Context, ownerID int64) iter.Seq2[models.Reservation, error] {
	return func(yield func(models.Reservation, error) bool) {
		var after *models.Cursor
		for {
			page, err := a.fetchPage(ctx, ownerID, after)
			if err != nil {
				yield(models.Reservation{}, err)
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if len(page) < a.pageSize {
				return
			}
			next := page[len(page)-1].Cursor()
			after = &next
		}
	}
}

func (a *Allocator) fetchPage(ctx context.Context, ownerID int64, after *models.Cursor) ([]models.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	page, err := a.store.ListReservations(ctx, ownerID, after, a.pageSize)
	if err != nil {
		return nil, classify(ctx, err)
	}
	return page, nil
}
