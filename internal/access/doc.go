// Package access holds the portal's role-based access gate.
//
// Classify and CanAccess are pure functions over a principal snapshot. They
// never block, never touch the store and never fail: an unknown role or a
// missing permission key always resolves to the more restrictive answer.
// Mutations of roles and permissions live in services/access.
package access
