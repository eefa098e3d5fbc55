/*
guard.go - Tenant boundary and role checks

PURPOSE:
  Every core operation takes an Actor as a required argument. The guard
  runs before any store access, so an unauthorized caller learns nothing
  about which records exist. Tenant scoping itself is structural: services
  pass actor.TenantID to every store call, and stores treat records of
  other tenants as missing.

ROLES:
  ADMIN       - everything, including cancellation
  ACCOUNTANT  - all financial mutations except cancellation
  DIRECTOR    - read-only (lists, reports)
  TEACHER     - no financial access

SEE ALSO:
  - api/middleware.go: builds the Actor from upstream auth headers
*/
package generic

import "fmt"

type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleAccountant Role = "ACCOUNTANT"
	RoleDirector   Role = "DIRECTOR"
	RoleTeacher    Role = "TEACHER"
)

// Actor is the resolved (tenant, actor, role) triple from the auth layer.
type Actor struct {
	TenantID TenantID
	ActorID  ActorID
	Role     Role
}

type Action string

const (
	ActionRead           Action = "read"
	ActionReport         Action = "report"
	ActionCreate         Action = "create"
	ActionSettle         Action = "settle"
	ActionGenerate       Action = "generate"
	ActionChangeRates    Action = "change_rates"
	ActionManageSubjects Action = "manage_subjects"
	ActionRecordExpense  Action = "record_expense"
	ActionDelete         Action = "delete"
	ActionCancel         Action = "cancel"
)

// Authorizer decides whether an actor may perform an action.
type Authorizer interface {
	Authorize(actor Actor, action Action) error
}

// DefaultPermissions is the role matrix used by NewRoleGuard.
var DefaultPermissions = map[Action][]Role{
	ActionRead:           {RoleAdmin, RoleAccountant, RoleDirector},
	ActionReport:         {RoleAdmin, RoleAccountant, RoleDirector},
	ActionCreate:         {RoleAdmin, RoleAccountant},
	ActionSettle:         {RoleAdmin, RoleAccountant},
	ActionGenerate:       {RoleAdmin, RoleAccountant},
	ActionChangeRates:    {RoleAdmin, RoleAccountant},
	ActionManageSubjects: {RoleAdmin, RoleAccountant},
	ActionRecordExpense:  {RoleAdmin, RoleAccountant},
	ActionDelete:         {RoleAdmin, RoleAccountant},
	ActionCancel:         {RoleAdmin},
}

// RoleGuard authorizes by a static action -> roles table.
type RoleGuard struct {
	permissions map[Action]map[Role]bool
}

func NewRoleGuard() *RoleGuard {
	return NewRoleGuardWith(DefaultPermissions)
}

func NewRoleGuardWith(perms map[Action][]Role) *RoleGuard {
	g := &RoleGuard{permissions: make(map[Action]map[Role]bool, len(perms))}
	for action, roles := range perms {
		set := make(map[Role]bool, len(roles))
		for _, r := range roles {
			set[r] = true
		}
		g.permissions[action] = set
	}
	return g
}

func (g *RoleGuard) Authorize(actor Actor, action Action) error {
	if actor.TenantID == "" || actor.ActorID == "" {
		return fmt.Errorf("%w: missing tenant or actor", ErrUnauthorized)
	}
	if !g.permissions[action][actor.Role] {
		return fmt.Errorf("%w: role %q may not %s", ErrUnauthorized, actor.Role, action)
	}
	return nil
}

// ParseRole accepts the canonical upper-case role names.
func ParseRole(s string) (Role, bool) {
	switch r := Role(s); r {
	case RoleAdmin, RoleAccountant, RoleDirector, RoleTeacher:
		return r, true
	}
	return "", false
}
