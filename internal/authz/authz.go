// Package authz is the capability check consulted before every ledger
// operation. Identity comes from the upstream gateway; this package only
// decides what a role may do and which campus it is scoped to.
package authz

import (
	"context"

	"ambassador-ledger/internal/apperr"
)

// Actor identifies who performed an operation.
type Actor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	CampusID int64  `json:"campus_id,omitempty"` // 0 for roles not bound to a campus
}

// System is the actor used by maintenance commands run from the CLI.
var System = Actor{ID: "system", Name: "system", Role: RoleSuperAdmin}

// Capability names an operation class.
type Capability string

const (
	CapSubmitLead         Capability = "lead.submit"
	CapConfirmLead        Capability = "lead.confirm"
	CapRecalculate        Capability = "benefit.recalculate"
	CapViewSettlements    Capability = "settlement.view"
	CapManageSettlements  Capability = "settlement.manage"
	CapProcessSettlements Capability = "settlement.process"
	CapBackup             Capability = "maintenance.backup"
	CapRestore            Capability = "maintenance.restore"
	CapMergeCampus        Capability = "maintenance.merge_campus"
)

// Admin roles known to the default policy.
const (
	RoleSuperAdmin     = "Super Admin"
	RoleFinanceAdmin   = "Finance Admin"
	RoleCampusHead     = "Campus Head"
	RoleAdmissionAdmin = "Admission Admin"
)

// Scope is the opaque filter returned by a successful check. A zero CampusID
// means unrestricted.
type Scope struct {
	CampusID int64
}

// AllowsCampus reports whether a record belonging to campusID is in scope.
func (s Scope) AllowsCampus(campusID *int64) bool {
	if s.CampusID == 0 {
		return true
	}
	return campusID != nil && *campusID == s.CampusID
}

// Authorizer decides whether actor may use capability.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, capability Capability) (Scope, error)
}

type rolePolicy struct {
	caps        map[Capability]bool
	campusBound bool
}

// RolePolicy is a static role → capability table.
type RolePolicy map[string]rolePolicy

// DefaultPolicy returns the shipped role table.
func DefaultPolicy() RolePolicy {
	all := []Capability{
		CapSubmitLead, CapConfirmLead, CapRecalculate, CapViewSettlements,
		CapManageSettlements, CapProcessSettlements, CapBackup, CapRestore, CapMergeCampus,
	}
	return RolePolicy{
		RoleSuperAdmin:     newRolePolicy(false, all...),
		RoleFinanceAdmin:   newRolePolicy(false, CapViewSettlements, CapManageSettlements, CapProcessSettlements),
		RoleCampusHead:     newRolePolicy(true, CapSubmitLead, CapConfirmLead, CapViewSettlements),
		RoleAdmissionAdmin: newRolePolicy(false, CapSubmitLead, CapConfirmLead, CapRecalculate),
	}
}

func newRolePolicy(campusBound bool, caps ...Capability) rolePolicy {
	p := rolePolicy{caps: make(map[Capability]bool, len(caps)), campusBound: campusBound}
	for _, c := range caps {
		p.caps[c] = true
	}
	return p
}

// Authorize implements Authorizer.
func (p RolePolicy) Authorize(_ context.Context, actor Actor, capability Capability) (Scope, error) {
	const op = "authz.Authorize"

	role, ok := p[actor.Role]
	if !ok || !role.caps[capability] {
		return Scope{}, apperr.Newf(apperr.KindUnauthorized, op, "role %q may not perform %s", actor.Role, capability)
	}
	if role.campusBound {
		if actor.CampusID == 0 {
			return Scope{}, apperr.Newf(apperr.KindUnauthorized, op, "role %q requires a campus", actor.Role)
		}
		return Scope{CampusID: actor.CampusID}, nil
	}
	return Scope{}, nil
}

type actorKey struct{}

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
