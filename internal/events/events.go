// Package events carries reservation lifecycle notifications to the audit
// topic.
package events

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

type Type string

const (
	ReservationCreated   Type = "reservation.created"
	ReservationModified  Type = "reservation.modified"
	ReservationCancelled Type = "reservation.cancelled"
)

type Event struct {
	ID          string             `json:"id"`
	Type        Type               `json:"type"`
	OccurredAt  time.Time          `json:"occurred_at"`
	ActorID     int64              `json:"actor_id"`
	Reservation models.Reservation `json:"reservation"`
}

func New(t Type, actorID int64, r models.Reservation, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		OccurredAt:  at.UTC(),
		ActorID:     actorID,
		Reservation: r,
	}
}

// Key partitions by option so every option's events stay ordered.
func (e Event) Key() string {
	return "option-" + strconv.FormatInt(e.Reservation.OptionInfo.OptionID, 10)
}
