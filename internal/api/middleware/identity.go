package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/Cheertaboi/meal-reservation-service/internal/models"
)

// Identity headers set by the upstream gateway after authentication.
const (
	UserIDHeader      = "X-User-ID"
	UserCentersHeader = "X-User-Centers"
	SystemAdminHeader = "X-System-Admin"
)

type requesterKey struct{}

func WithRequester(ctx context.Context, who models.Requester) context.Context {
	return context.WithValue(ctx, requesterKey{}, who)
}

func RequesterFrom(ctx context.Context) (models.Requester, bool) {
	who, ok := ctx.Value(requesterKey{}).(models.Requester)
	return who, ok
}

// Identity resolves the gateway headers into a models.Requester. Requests
// without a valid user id are rejected with 401.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(UserIDHeader)), 10, 64)
		if err != nil || userID <= 0 {
			reject(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		centers, err := parseCenters(r.Header.Get(UserCentersHeader))
		if err != nil {
			reject(w, http.StatusBadRequest, "invalid_centers_header")
			return
		}

		var admin bool
		if v := strings.TrimSpace(r.Header.Get(SystemAdminHeader)); v != "" {
			if admin, err = strconv.ParseBool(v); err != nil {
				reject(w, http.StatusBadRequest, "invalid_admin_header")
				return
			}
		}

		who := models.Requester{UserID: userID, Centers: centers, IsSystemAdmin: admin}
		next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), who)))
	})
}

// RequireAdmin lets only system administrators through.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		who, ok := RequesterFrom(r.Context())
		if !ok {
			reject(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if !who.IsSystemAdmin {
			reject(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func parseCenters(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var centers []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		centers = append(centers, id)
	}
	return centers, nil
}

func reject(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
