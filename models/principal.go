package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Role represents the access tier of a principal
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleCoreMember Role = "core_member"
	RoleTeamMember Role = "team_member"
	RolePending    Role = "pending"
)

// Roles lists every assignable role in display order.
var Roles = []Role{RoleAdmin, RoleCoreMember, RoleTeamMember, RolePending}

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleCoreMember, RoleTeamMember, RolePending:
		return true
	}
	return false
}

// ParseRole converts a raw string into a Role. Unknown values return an error.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Permissions maps a section id to whether a team member may view it.
// Missing keys mean "not allowed".
type Permissions map[string]bool

// Get returns the flag for section, false when absent.
func (p Permissions) Get(section string) bool {
	if p == nil {
		return false
	}
	return p[section]
}

// Clone returns an independent copy.
func (p Permissions) Clone() Permissions {
	out := make(Permissions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Value implements driver.Valuer so the map can be stored in a JSON column.
// The text form is used because lib/pq sends []byte parameters as bytea.
func (p Permissions) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (p *Permissions) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Permissions{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("permissions: unsupported scan type %T", src)
	}

	out := Permissions{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("permissions: %w", err)
		}
	}
	*p = out
	return nil
}

// Principal is a signed-in identity together with its access record.
type Principal struct {
	ID          string      `json:"id" db:"id"`
	DisplayName string      `json:"display_name" db:"display_name"`
	AvatarURL   string      `json:"avatar_url,omitempty" db:"avatar_url"`
	Email       string      `json:"email,omitempty" db:"email"`
	Role        Role        `json:"role" db:"role"`
	Permissions Permissions `json:"permissions" db:"permissions"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Principal model
func (Principal) TableName() string {
	return "principals"
}

// Identity is what the identity provider tells us about a signed-in user.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Email       string `json:"email,omitempty"`
}

// NewPendingPrincipal builds the record created on first sign-in.
func NewPendingPrincipal(id Identity) *Principal {
	now := time.Now().UTC()
	return &Principal{
		ID:          id.ID,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
		Email:       id.Email,
		Role:        RolePending,
		Permissions: Permissions{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsAdmin returns true if the principal has the admin role
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	c := *p
	c.Permissions = p.Permissions.Clone()
	return &c
}
