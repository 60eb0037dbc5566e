package services

import "GigEscrow/internal/apperr"

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	// RoleSystem is used by scheduled sweeps and event consumers.
	RoleSystem Role = "system"
)

// Actor is the caller of an operation as asserted by the identity layer.
type Actor struct {
	ID   uint
	Role Role
}

var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

func (a Actor) IsSystem() bool {
	return a.Role == RoleSystem
}

func requireAdmin(a Actor) error {
	if !a.IsAdmin() {
		return apperr.Newf(apperr.ErrForbidden, "admin role required")
	}
	return nil
}
