package models

import (
	"fmt"
	"strings"
)

// Claimant is whoever a reservation is booked for. Employees and the guests
// they sponsor share the same lifecycle, so the allocator only needs this.
type Claimant interface {
	OwnerID() int64
	ClaimKey() string
	Kind() ReservationKind
	GuestInfo() *Guest
}

type Employee struct {
	UserID int64
}

func (e Employee) OwnerID() int64        { return e.UserID }
func (e Employee) ClaimKey() string      { return fmt.Sprintf("user:%d", e.UserID) }
func (e Employee) Kind() ReservationKind { return ReservationKindSelf }
func (e Employee) GuestInfo() *Guest     { return nil }

const MaxGuestNameLen = 100

type Guest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (g Guest) FullName() string {
	return strings.TrimSpace(g.FirstName + " " + g.LastName)
}

// SponsoredGuest is a guest booked by (and billed to) a host employee.
type SponsoredGuest struct {
	HostID int64
	Guest  Guest
}

func (s SponsoredGuest) OwnerID() int64        { return s.HostID }
func (s SponsoredGuest) Kind() ReservationKind { return ReservationKindGuest }

func (s SponsoredGuest) ClaimKey() string {
	first := strings.ToLower(strings.TrimSpace(s.Guest.FirstName))
	last := strings.ToLower(strings.TrimSpace(s.Guest.LastName))
	return fmt.Sprintf("guest:%d:%s|%s", s.HostID, first, last)
}

func (s SponsoredGuest) GuestInfo() *Guest {
	g := s.Guest
	return &g
}

// Requester is the caller identity resolved by the account subsystem.
type Requester struct {
	UserID        int64
	Centers       []int64
	IsSystemAdmin bool
}
