// Package access resolves a user's role and unit scope into a typed
// permission set once per request.
package access

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// Permission has the form "resource:action". "resource:*" grants every
// action on a resource and "*:*" grants everything.
type Permission string

const wildcard = "*"

const (
	PermAll Permission = "*:*"

	PermUnitView   Permission = "unit:view"
	PermUnitManage Permission = "unit:manage"

	PermCatalogView   Permission = "catalog:view"
	PermCatalogManage Permission = "catalog:manage"

	PermRecipeView   Permission = "recipe:view"
	PermRecipeManage Permission = "recipe:manage"

	PermInventoryView      Permission = "inventory:view"
	PermInventoryMove      Permission = "inventory:move"
	PermInventoryCount     Permission = "inventory:count"
	PermInventoryConfigure Permission = "inventory:configure"
	PermInventoryExport    Permission = "inventory:export"

	PermProductionView     Permission = "production:view"
	PermProductionPlan     Permission = "production:plan"
	PermProductionComplete Permission = "production:complete"

	PermPurchaseView    Permission = "purchase:view"
	PermPurchaseManage  Permission = "purchase:manage"
	PermPurchaseReceive Permission = "purchase:receive"

	PermUserManage Permission = "user:manage"
	PermAuditView  Permission = "audit:view"
)

func (p Permission) parse() (resource string, action string) {
	resource, action, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", ""
	}
	return resource, action
}

// Matches reports whether the granted permission p covers requested.
func (p Permission) Matches(requested Permission) bool {
	if p == PermAll || p == requested {
		return true
	}
	res, act := p.parse()
	reqRes, _ := requested.parse()
	return res != "" && res == reqRes && act == wildcard
}

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleManager      Role = "manager"
	RoleOperator     Role = "operator"
	RoleNutritionist Role = "nutritionist"
	RoleChef         Role = "chef"
)

var rolePermissions = map[Role][]Permission{
	RoleAdmin: {PermAll},
	RoleManager: {
		PermUnitView, "catalog:*", "recipe:*", "inventory:*", "production:*", "purchase:*", PermAuditView,
	},
	RoleOperator: {
		PermUnitView, PermCatalogView, PermRecipeView,
		PermInventoryView, PermInventoryMove, PermInventoryCount, PermInventoryExport,
		PermProductionView, PermPurchaseView, PermPurchaseReceive,
	},
	RoleNutritionist: {
		PermUnitView, PermCatalogView, "recipe:*", PermInventoryView, PermProductionView, PermProductionPlan,
	},
	RoleChef: {
		PermUnitView, PermCatalogView, PermRecipeView, PermInventoryView,
		PermProductionView, PermProductionPlan, PermProductionComplete,
	},
}

var ErrUnknownRole = errors.New("unknown role")

func ValidRole(role string) bool {
	_, ok := rolePermissions[Role(role)]
	return ok
}

// Claims is the resolved identity of a caller.
type Claims struct {
	Username string
	Role     Role
	Units    []string
	perms    []Permission
}

func Resolve(username string, role string, units []string) (Claims, error) {
	perms, ok := rolePermissions[Role(role)]
	if !ok {
		return Claims{}, ErrUnknownRole
	}
	return Claims{
		Username: username,
		Role:     Role(role),
		Units:    slices.Clone(units),
		perms:    perms,
	}, nil
}

func (c Claims) Can(p Permission) bool {
	for _, granted := range c.perms {
		if granted.Matches(p) {
			return true
		}
	}
	return false
}

// AllUnits reports whether the caller is not restricted to a unit list.
func (c Claims) AllUnits() bool {
	return c.Role == RoleAdmin
}

func (c Claims) CanAccessUnit(unitID string) bool {
	if c.AllUnits() {
		return true
	}
	return slices.Contains(c.Units, unitID)
}

type claimsKey struct{}

func WithClaims(ctx context.Context, c Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func FromContext(ctx context.Context) (Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(Claims)
	return c, ok
}
