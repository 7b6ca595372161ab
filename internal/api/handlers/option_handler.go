package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
)

type PublishOptionRequest struct {
	Kind                 models.OptionKind `json:"kind"`
	Title                string            `json:"title"`
	Description          string            `json:"description"`
	Price                decimal.Decimal   `json:"price"`
	Quantity             int               `json:"quantity"`
	IsDefault            bool              `json:"is_default"`
	CancellationDeadline string            `json:"cancellation_deadline"`
	SortOrder            int               `json:"sort_order"`
	CenterIDs            []int64           `json:"center_ids"`
}

type OptionListResponse struct {
	Options []models.MenuOption `json:"options"`
}

type RemoveOptionResponse struct {
	OptionID int64 `json:"option_id"`
	Deleted  bool  `json:"deleted"`
	// Deactivated is true when active reservations kept the row alive.
	Deactivated bool `json:"deactivated"`
}

type DriftResponse struct {
	Drifts []models.CounterDrift `json:"drifts"`
}

type OptionHandler struct {
	catalog *service.Catalog
}

func NewOptionHandler(c *service.Catalog) *OptionHandler {
	return &OptionHandler{catalog: c}
}

// Get handles GET /options/{optionID}
func (h *OptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "optionID")
	if !ok {
		writeBadRequest(w, "invalid_option_id")
		return
	}
	opt, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opt)
}

// ListForMenu handles GET /menus/{menuID}/options
func (h *OptionHandler) ListForMenu(w http.ResponseWriter, r *http.Request) {
	menuID, ok := idParam(r, "menuID")
	if !ok {
		writeBadRequest(w, "invalid_menu_id")
		return
	}
	opts, err := h.catalog.ListForMenu(r.Context(), menuID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if opts == nil {
		opts = []models.MenuOption{}
	}
	writeJSON(w, http.StatusOK, OptionListResponse{Options: opts})
}

// Publish handles POST /admin/menus/{menuID}/options
func (h *OptionHandler) Publish(w http.ResponseWriter, r *http.Request) {
	menuID, ok := idParam(r, "menuID")
	if !ok {
		writeBadRequest(w, "invalid_menu_id")
		return
	}
	var req PublishOptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid_body")
		return
	}

	opt, err := h.catalog.Publish(r.Context(), models.MenuOption{
		DailyMenuID:          menuID,
		Kind:                 req.Kind,
		Title:                req.Title,
		Description:          req.Description,
		Price:                req.Price,
		Quantity:             req.Quantity,
		IsDefault:            req.IsDefault,
		CancellationDeadline: req.CancellationDeadline,
		SortOrder:            req.SortOrder,
		CenterIDs:            req.CenterIDs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, opt)
}

// Edit handles PATCH /admin/options/{optionID}
func (h *OptionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "optionID")
	if !ok {
		writeBadRequest(w, "invalid_option_id")
		return
	}
	var edit models.OptionEdit
	if err := json.NewDecoder(r.Body).Decode(&edit); err != nil {
		writeBadRequest(w, "invalid_body")
		return
	}
	opt, err := h.catalog.Edit(r.Context(), id, edit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, opt)
}

// Deactivate handles POST /admin/options/{optionID}/deactivate
func (h *OptionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "optionID")
	if !ok {
		writeBadRequest(w, "invalid_option_id")
		return
	}
	if err := h.catalog.Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Remove handles DELETE /admin/options/{optionID}
func (h *OptionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "optionID")
	if !ok {
		writeBadRequest(w, "invalid_option_id")
		return
	}
	deleted, err := h.catalog.Remove(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RemoveOptionResponse{OptionID: id, Deleted: deleted, Deactivated: !deleted})
}

// Drift handles GET /admin/counters/drift
func (h *OptionHandler) Drift(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.catalog.VerifyCounters(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if drifts == nil {
		drifts = []models.CounterDrift{}
	}
	writeJSON(w, http.StatusOK, DriftResponse{Drifts: drifts})
}
