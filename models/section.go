package models

import "regexp"

var sectionIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// Section is one gated area of the portal.
type Section struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Catalog is the fixed, ordered list of portal sections.
var Catalog = []Section{
	{ID: "architecture", Name: "Architecture"},
	{ID: "app-ui", Name: "E-Socialize App UI"},
	{ID: "pitch-deck", Name: "Pitch Deck"},
	{ID: "business-strategy", Name: "Business Strategy"},
	{ID: "traction-analysis", Name: "Traction Analysis"},
	{ID: "roadmap", Name: "Roadmap"},
}

// LookupSection finds a catalog entry by id.
func LookupSection(id string) (Section, bool) {
	for _, s := range Catalog {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// ValidSectionID reports whether id is a well-formed section key. Ids outside
// the catalog are accepted so permissions can be granted ahead of new content.
func ValidSectionID(id string) bool {
	return sectionIDPattern.MatchString(id)
}
