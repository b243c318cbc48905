// Package auth holds the narrow authorization seam the gateway consults
// before forwarding tools/call. Role and permission evaluation happens
// elsewhere; the gateway only asks yes or no.
package auth

import "context"

// Principal identifies the caller of a tool.
type Principal struct {
	Subject   string
	SessionID string
}

// Authorizer decides whether a principal may execute a tool on a backend.
type Authorizer interface {
	CanExecute(ctx context.Context, p Principal, backendURL, toolName string) bool
}

// AllowAll permits every call. Used when no external authorizer is wired.
type AllowAll struct{}

var _ Authorizer = (*AllowAll)(nil)

func (AllowAll) CanExecute(context.Context, Principal, string, string) bool {
	return true
}
