package access

import "github.com/pel/esocialize-portal/models"

// VisitorState is the coarse classification of whoever is viewing the portal.
type VisitorState string

const (
	Anonymous         VisitorState = "anonymous"
	Pending           VisitorState = "pending"
	AuthorizedFull    VisitorState = "authorized_full"
	AuthorizedPartial VisitorState = "authorized_partial"
)

// Classify maps a principal to a VisitorState. A nil principal is Anonymous
// and any role outside the known four is treated as Pending.
func Classify(p *models.Principal) VisitorState {
	if p == nil {
		return Anonymous
	}
	switch p.Role {
	case models.RoleAdmin, models.RoleCoreMember:
		return AuthorizedFull
	case models.RoleTeamMember:
		return AuthorizedPartial
	default:
		return Pending
	}
}

// CanAccess reports whether p may view section. Admins and core members see
// every section, including ids outside the catalog. Team members see a section
// only when its permission flag is explicitly true.
func CanAccess(p *models.Principal, section string) bool {
	switch Classify(p) {
	case AuthorizedFull:
		return true
	case AuthorizedPartial:
		return p.Permissions.Get(section)
	default:
		return false
	}
}

// SectionView is a catalog entry annotated with the viewer's access.
type SectionView struct {
	models.Section
	Allowed bool `json:"allowed"`
}

// VisibleSections annotates every catalog section with CanAccess for p.
func VisibleSections(p *models.Principal, catalog []models.Section) []SectionView {
	out := make([]SectionView, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, SectionView{Section: s, Allowed: CanAccess(p, s.ID)})
	}
	return out
}
