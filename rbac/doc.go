// Package rbac resolves roles and permissions for a principal and enforces
// the mutation rules around them. Permissions are `resource.action` strings
// granted transitively through role assignments; `resource.*` grants every
// action on a resource and a bare `*` grants everything. Evaluation is
// deny-by-default: a check passes only when every required permission is
// covered.
//
// Resolution is read-time lazy: expired role assignments are filtered by the
// store queries and never need physical purging.
package rbac
