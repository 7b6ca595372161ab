package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cheertaboi/meal-reservation-service/internal/api/handlers"
	"github.com/Cheertaboi/meal-reservation-service/internal/api/middleware"
	"github.com/Cheertaboi/meal-reservation-service/internal/deadline"
	"github.com/Cheertaboi/meal-reservation-service/internal/models"
	"github.com/Cheertaboi/meal-reservation-service/internal/service"
	"github.com/Cheertaboi/meal-reservation-service/internal/store/memory"
)

var now = time.Date(2025, 10, 24, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler   http.Handler
	directory *memory.Directory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := memory.New()
	require.NoError(t, err)
	dir := memory.NewDirectory()
	policy := deadline.NewPolicy(time.UTC)

	allocator := service.NewAllocator(service.AllocatorDeps{
		Store:     store,
		Policy:    policy,
		Directory: dir,
		Now:       func() time.Time { return now },
	})
	catalog := service.NewCatalog(store, policy, nil)
	return &testServer{handler: NewRouter(allocator, catalog, zap.NewNop()), directory: dir}
}

type caller struct {
	userID  string
	centers string
	admin   bool
}

var (
	admin = caller{userID: "1", admin: true}
	alice = caller{userID: "10", centers: "1"}
	bob   = caller{userID: "11", centers: "1"}
	eve   = caller{userID: "12", centers: "2"}
)

func (s *testServer) do(t *testing.T, who caller, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if who.userID != "" {
		req.Header.Set(middleware.UserIDHeader, who.userID)
	}
	if who.centers != "" {
		req.Header.Set(middleware.UserCentersHeader, who.centers)
	}
	if who.admin {
		req.Header.Set(middleware.SystemAdminHeader, "true")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) publish(t *testing.T, body string) models.MenuOption {
	t.Helper()
	rec := s.do(t, admin, http.MethodPost, "/admin/menus/3/options", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.MenuOption](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, caller{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, caller{}, http.MethodGet, "/menus/3/options", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, caller{userID: "10", centers: "1,x"}, http.MethodGet, "/menus/3/options", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, alice, http.MethodPost, "/admin/menus/3/options", `{"title":"x","quantity":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestReserveAndCancelFlow(t *testing.T) {
	s := newTestServer(t)
	opt := s.publish(t, `{"title":"Kebab","price":"120000","quantity":1,"center_ids":[1],"cancellation_deadline":"2025-10-24 10:00"}`)
	path := "/options/" + itoa(opt.ID)

	rec := s.do(t, alice, http.MethodPost, path+"/reservations", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[handlers.ReservationView](t, rec)
	assert.True(t, res.CanCancel)
	require.NotNil(t, res.CancelSecondsLeft)
	assert.EqualValues(t, 2*60*60, *res.CancelSecondsLeft)

	rec = s.do(t, alice, http.MethodPost, path+"/reservations", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_claim", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, bob, http.MethodPost, path+"/reservations", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_exhausted", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, eve, http.MethodPost, "/reservations/"+itoa(res.ID)+"/cancel", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, alice, http.MethodPost, "/reservations/"+itoa(res.ID)+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cancelled := decode[handlers.ReservationView](t, rec)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.False(t, cancelled.CanCancel)

	rec = s.do(t, alice, http.MethodPost, "/reservations/"+itoa(res.ID)+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_cancelled", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, bob, http.MethodPost, path+"/reservations", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestGuestReservation(t *testing.T) {
	s := newTestServer(t)
	opt := s.publish(t, `{"title":"Kebab","price":"1","quantity":5}`)
	path := "/options/" + itoa(opt.ID) + "/guest-reservations"

	rec := s.do(t, alice, http.MethodPost, path, `{"first_name":"Sara","last_name":"Ahmadi"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[handlers.ReservationView](t, rec)
	assert.Equal(t, models.ReservationKindGuest, res.Kind)
	require.NotNil(t, res.Guest)
	assert.Equal(t, "Sara", res.Guest.FirstName)

	rec = s.do(t, alice, http.MethodPost, path, `{"first_name":"Sara"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, alice, http.MethodPost, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModifyReservation(t *testing.T) {
	s := newTestServer(t)
	first := s.publish(t, `{"title":"Kebab","price":"1","quantity":1}`)
	second := s.publish(t, `{"title":"Joojeh","price":"2","quantity":1}`)

	rec := s.do(t, alice, http.MethodPost, "/options/"+itoa(first.ID)+"/reservations", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[handlers.ReservationView](t, rec)
	path := "/reservations/" + itoa(res.ID)

	rec = s.do(t, alice, http.MethodPatch, path, `{"option_id":`+itoa(second.ID)+`}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[handlers.ReservationView](t, rec)
	assert.Equal(t, second.ID, moved.OptionID)
	assert.Equal(t, "Joojeh", moved.OptionInfo.Title)

	rec = s.do(t, bob, http.MethodPost, "/options/"+itoa(first.ID)+"/reservations", "")
	require.Equal(t, http.StatusCreated, rec.Code, "the old unit was released")

	rec = s.do(t, alice, http.MethodPatch, path, `{"option_id":`+itoa(first.ID)+`}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "capacity_exhausted", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, eve, http.MethodPatch, path, `{"option_id":`+itoa(first.ID)+`}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, alice, http.MethodPatch, path, `{"option_id":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, alice, http.MethodPatch, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeadlinePassedIs422(t *testing.T) {
	s := newTestServer(t)
	opt := s.publish(t, `{"title":"Late","price":"1","quantity":5,"cancellation_deadline":"2025-10-24 07:59"}`)

	rec := s.do(t, alice, http.MethodPost, "/options/"+itoa(opt.ID)+"/reservations", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListForOwner(t *testing.T) {
	s := newTestServer(t)
	s.directory.SetUserCenters(10, 1)
	for i := 0; i < 3; i++ {
		opt := s.publish(t, `{"title":"Dish","price":"1","quantity":5}`)
		rec := s.do(t, alice, http.MethodPost, "/options/"+itoa(opt.ID)+"/reservations", "")
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, alice, http.MethodGet, "/users/10/reservations?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[handlers.ReservationListResponse](t, rec)
	assert.Len(t, list.Reservations, 2)

	rec = s.do(t, bob, http.MethodGet, "/users/10/reservations", "")
	require.Equal(t, http.StatusOK, rec.Code, "same-center colleague may view")
	assert.Len(t, decode[handlers.ReservationListResponse](t, rec).Reservations, 3)

	rec = s.do(t, eve, http.MethodGet, "/users/10/reservations", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, alice, http.MethodGet, "/users/10/reservations?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminOptionLifecycle(t *testing.T) {
	s := newTestServer(t)
	opt := s.publish(t, `{"title":"Kebab","price":"1","quantity":2}`)
	path := "/admin/options/" + itoa(opt.ID)

	rec := s.do(t, alice, http.MethodPost, "/options/"+itoa(opt.ID)+"/reservations", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, admin, http.MethodPatch, path, `{"quantity":0}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_capacity_edit", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, admin, http.MethodPatch, path, `{"title":"Kebab koobideh","quantity":4}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 4, decode[models.MenuOption](t, rec).Quantity)

	rec = s.do(t, alice, http.MethodGet, "/menus/3/options", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[handlers.OptionListResponse](t, rec).Options, 1)

	rec = s.do(t, admin, http.MethodGet, "/admin/counters/drift", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[handlers.DriftResponse](t, rec).Drifts)

	rec = s.do(t, admin, http.MethodDelete, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	removed := decode[handlers.RemoveOptionResponse](t, rec)
	assert.False(t, removed.Deleted)
	assert.True(t, removed.Deactivated)

	rec = s.do(t, bob, http.MethodPost, "/options/"+itoa(opt.ID)+"/reservations", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "option_inactive", decode[map[string]string](t, rec)["error"])

	rec = s.do(t, admin, http.MethodPost, "/admin/options/999/deactivate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, alice, http.MethodGet, "/options/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeoutIs503WithRetryAfter(t *testing.T) {
	s := newTestServer(t)
	opt := s.publish(t, `{"title":"Kebab","price":"1","quantity":2}`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/options/"+itoa(opt.ID)+"/reservations", nil).WithContext(ctx)
	req.Header.Set(middleware.UserIDHeader, "10")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
