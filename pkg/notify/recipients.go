package notify

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// Directory looks up users by role.
type Directory interface {
	ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error)
}

// RecipientRoles is the recipient policy: decision-makers and project
// managers always, administrators as well from HIGH upwards.
func RecipientRoles(severity model.Severity) []model.Role {
	roles := []model.Role{model.RoleDecisionMaker, model.RoleProjectManager}
	if severity.AtLeast(model.SeverityHigh) {
		roles = append(roles, model.RoleAdmin)
	}
	return roles
}

// ResolveRecipients returns the users an alert of the given severity goes to,
// in role order and without duplicates.
func ResolveRecipients(ctx context.Context, dir Directory, severity model.Severity) ([]model.User, error) {
	seen := make(map[string]bool)
	var out []model.User
	for _, role := range RecipientRoles(severity) {
		users, err := dir.ListUsersByRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("list %s users: %w", role, err)
		}
		for _, u := range users {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out, nil
}
