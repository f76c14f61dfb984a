package models

// OrgRole is a member's role inside one organization.
type OrgRole string

const (
	RoleOwner          OrgRole = "owner"
	RoleAdmin          OrgRole = "admin"
	RoleProjectManager OrgRole = "project_manager"
	RoleSiteForeman    OrgRole = "site_foreman"
	RoleFinanceManager OrgRole = "finance_manager"
	RoleAccountant     OrgRole = "accountant"
	RoleMember         OrgRole = "member"
	RoleViewer         OrgRole = "viewer"
)

// IsValid reports whether the role is part of the fixed role set.
func (r OrgRole) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleProjectManager, RoleSiteForeman,
		RoleFinanceManager, RoleAccountant, RoleMember, RoleViewer:
		return true
	default:
		return false
	}
}

// CanViewFinancials reports whether the role may see cost and rate fields.
func CanViewFinancials(role OrgRole) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleFinanceManager, RoleAccountant:
		return true
	default:
		return false
	}
}

// CanManageReports reports whether the role may delete or retry any report of the
// organization, not only its own.
func CanManageReports(role OrgRole) bool {
	return role == RoleOwner || role == RoleAdmin
}

// CanDeleteReport reports whether actorID holding role may delete a report requested by requestedBy.
func CanDeleteReport(role OrgRole, actorID, requestedBy string) bool {
	if actorID != "" && actorID == requestedBy {
		return true
	}
	return CanManageReports(role)
}

// Membership links a user to an organization with a role.
type Membership struct {
	OrganizationID string  `db:"organization_id" json:"organizationId"`
	UserID         string  `db:"user_id" json:"userId"`
	Role           OrgRole `db:"role" json:"role"`
}
