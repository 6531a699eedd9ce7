package domain

import "strings"

// Role is the platform role carried in the hosted backend's JWT.
type Role string

const (
	RoleAttendee  Role = "attendee"
	RoleOrganizer Role = "organizer"
	RoleStaff     Role = "staff"
	RoleAdmin     Role = "admin"
)

// ParseRole maps unknown or empty roles to attendee, the least privileged role.
func ParseRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleOrganizer, RoleStaff, RoleAdmin:
		return r
	}
	return RoleAttendee
}

func (r Role) IsAdmin() bool { return r == RoleAdmin }

// CanScan reports whether the role may check tickets in at any event door.
func (r Role) CanScan() bool { return r == RoleStaff || r == RoleAdmin }

// CanOrganize reports whether the role may create events.
func (r Role) CanOrganize() bool { return r == RoleOrganizer || r == RoleAdmin }
