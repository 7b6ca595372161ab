// Package visibility decides whether a caller may see or act on another
// user's reservations, based on shared organizational centers.
package visibility

import "github.com/Cheertaboi/meal-reservation-service/internal/models"

// CanAccess is true when the requester is a system administrator or shares at
// least one center with the target.
func CanAccess(requesterCenters, targetCenters []int64, isSystemAdmin bool) bool {
	if isSystemAdmin {
		return true
	}
	if len(requesterCenters) == 0 || len(targetCenters) == 0 {
		return false
	}
	seen := make(map[int64]struct{}, len(requesterCenters))
	for _, c := range requesterCenters {
		seen[c] = struct{}{}
	}
	for _, c := range targetCenters {
		if _, ok := seen[c]; ok {
			return true
		}
	}
	return false
}

// CanReserve checks a requester against the centers an option is served to.
// Options published without centers are open to everyone.
func CanReserve(req models.Requester, option models.MenuOption) bool {
	if len(option.CenterIDs) == 0 {
		return true
	}
	return CanAccess(req.Centers, option.CenterIDs, req.IsSystemAdmin)
}
