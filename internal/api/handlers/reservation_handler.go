package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
)

const maxListLimit = 500

type GuestReservationRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	// HostID lets an administrator book on behalf of another user.
	HostID int64 `json:"host_id,omitempty"`
}

type SelfReservationRequest struct {
	UserID int64 `json:"user_id,omitempty"`
}

// ReservationView is a reservation plus whether it can still be cancelled
// right now and how long that stays true.
type ModifyReservationRequest struct {
	OptionID int64 `json:"option_id"`
}

type ReservationView struct {
	models.Reservation
	CanCancel         bool   `json:"can_cancel"`
	CancelSecondsLeft *int64 `json:"cancel_seconds_left,omitempty"`
}

type ReservationListResponse struct {
	Reservations []ReservationView `json:"reservations"`
}

type ReservationHandler struct {
	allocator *service.Allocator
}

func NewReservationHandler(a *service.Allocator) *ReservationHandler {
	return &ReservationHandler{allocator: a}
}

// Reserve handles POST /options/{optionID}/reservations
func (h *ReservationHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	who, ok := requester(w, r)
	if !ok {
		return
	}
	optionID, ok := idParam(r, "optionID")
	if !ok {
		writeBadRequest(w, "invalid_option_id")
		return
	}

	var req SelfReservationRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid_body")
			return
		}
	}
	owner := who.UserID
	if req.UserID != 0 {
		owner = req.UserID
	}

	res, err := h.allocator.Reserve(r.Context(), optionID, who, models.Employee{UserID: owner})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(res, h.allocator.Now()))
}

// ReserveGuest handles POST /options/{optionID}/guest-reservations
func (h *ReservationHandler) ReserveGuest(w http.ResponseWriter, r *http.Request) {
	who, ok := requester(w, r)
	if !ok {
		return
	}
	optionID, ok := idParam(r, "optionID")
	if !ok {
		writeBadRequest(w, "invalid_option_id")
		return
	}

	var req GuestReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid_body")
		return
	}
	host := who.UserID
	if req.HostID != 0 {
		host = req.HostID
	}

	claimant := models.SponsoredGuest{
		HostID: host,
		Guest:  models.Guest{FirstName: req.FirstName, LastName: req.LastName},
	}
	res, err := h.allocator.Reserve(r.Context(), optionID, who, claimant)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.view(res, h.allocator.Now()))
}

// Cancel handles POST /reservations/{reservationID}/cancel
func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	who, ok := requester(w, r)
	if !ok {
		return
	}
	id, ok := idParam(r, "reservationID")
	if !ok {
		writeBadRequest(w, "invalid_reservation_id")
		return
	}

	res, err := h.allocator.CancelReservation(r.Context(), id, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(res, h.allocator.Now()))
}

// Modify handles PATCH /reservations/{reservationID}
func (h *ReservationHandler) Modify(w http.ResponseWriter, r *http.Request) {
	who, ok := requester(w, r)
	if !ok {
		return
	}
	id, ok := idParam(r, "reservationID")
	if !ok {
		writeBadRequest(w, "invalid_reservation_id")
		return
	}
	var req ModifyReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OptionID <= 0 {
		writeBadRequest(w, "invalid_body")
		return
	}

	res, err := h.allocator.Modify(r.Context(), id, req.OptionID, who)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(res, h.allocator.Now()))
}

// ListForOwner handles GET /users/{userID}/reservations?limit=
func (h *ReservationHandler) ListForOwner(w http.ResponseWriter, r *http.Request) {
	who, ok := requester(w, r)
	if !ok {
		return
	}
	ownerID, ok := idParam(r, "userID")
	if !ok {
		writeBadRequest(w, "invalid_user_id")
		return
	}
	limit := service.DefaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeBadRequest(w, "invalid_limit")
			return
		}
		limit = n
	}

	if err := h.allocator.CanView(r.Context(), who, ownerID); err != nil {
		writeError(w, r, err)
		return
	}

	now := h.allocator.Now()
	out := ReservationListResponse{Reservations: []ReservationView{}}
	for res, err := range h.allocator.ListForOwner(r.Context(), ownerID) {
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.Reservations = append(out.Reservations, h.view(res, now))
		if len(out.Reservations) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *ReservationHandler) view(res models.Reservation, now time.Time) ReservationView {
	v := ReservationView{Reservation: res}
	if !res.IsActive() {
		return v
	}
	policy := h.allocator.Policy()
	allowed, err := policy.Permits(res.CancellationDeadline, now)
	v.CanCancel = err == nil && allowed
	if left, ok, err := policy.Remaining(res.CancellationDeadline, now); err == nil && ok {
		secs := int64(left / time.Second)
		v.CancelSecondsLeft = &secs
	}
	return v
}
