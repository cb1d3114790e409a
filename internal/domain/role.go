package domain

import "strings"

// Role is the privilege level carried in the token's role claim.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
	RoleOfficer Role = "OFFICER"
)

// LowestRole is assumed whenever a token carries no usable role.
const LowestRole = RoleOfficer

// ParseRole maps a claim value to a Role. Unknown or empty values fall back to
// LowestRole.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleManager:
		return RoleManager
	case RoleOfficer:
		return RoleOfficer
	default:
		return LowestRole
	}
}

// Feature is a gated area of the dashboard.
type Feature string

const (
	FeaturePredict   Feature = "predict"
	FeatureView      Feature = "view"
	FeatureAnalytics Feature = "analytics"
	FeatureBatch     Feature = "batch"
	FeatureReports   Feature = "reports"
	FeatureAdmin     Feature = "admin"
	FeatureAudit     Feature = "audit"
	FeatureDrift     Feature = "drift"
)

var roleFeatures = map[Role][]Feature{
	RoleOfficer: {FeaturePredict, FeatureView},
	RoleManager: {FeaturePredict, FeatureView, FeatureAnalytics, FeatureBatch, FeatureReports},
	RoleAdmin: {
		FeaturePredict, FeatureView, FeatureAnalytics, FeatureBatch, FeatureReports,
		FeatureAdmin, FeatureAudit, FeatureDrift,
	},
}

// Allows reports whether r may use f.
func (r Role) Allows(f Feature) bool {
	for _, allowed := range roleFeatures[r] {
		if allowed == f {
			return true
		}
	}
	return false
}
