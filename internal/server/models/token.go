package models

import (
	"fmt"
	"time"

	"github.com/datasite/connector/internal/common"
)

// Permission is one of the actions an access token may be granted.
type Permission string

const (
	PermissionRead      Permission = "read"
	PermissionSearch    Permission = "search"
	PermissionSummarize Permission = "summarize"
)

// ParsePermission validates a caller-supplied permission string.
func ParsePermission(s string) (Permission, error) {
	switch Permission(s) {
	case PermissionRead, PermissionSearch, PermissionSummarize:
		return Permission(s), nil
	default:
		return "", fmt.Errorf("%w: unknown permission %q", common.ErrBadRequest, s)
	}
}

// AccessToken is the registry record behind a signed token. Immutable after
// issuance except for Revoked, which never reverts once set.
type AccessToken struct {
	// TokenID is embedded in the signed token and never reused.
	TokenID string
	// Subject is the identity the token was issued to.
	Subject string
	// ScopedDatasets lists the content names the token may reach. Empty
	// means all datasets.
	ScopedDatasets []string
	// Permissions the token carries. Authorization fails closed if empty.
	Permissions []Permission

	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// HasPermission reports whether the token carries the given permission.
func (t *AccessToken) HasPermission(p Permission) bool {
	for _, have := range t.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// InScope reports whether the token may act on dataset. An empty scope
// means all datasets.
func (t *AccessToken) InScope(dataset string) bool {
	if len(t.ScopedDatasets) == 0 {
		return true
	}
	for _, d := range t.ScopedDatasets {
		if d == dataset {
			return true
		}
	}
	return false
}

// AccessPolicy binds a subject to the maximum scope and permissions any of
// their tokens may carry. Policies are consulted at issuance time only;
// over-broad requests are narrowed to the policy allowance.
type AccessPolicy struct {
	// Name identifies the policy.
	Name string
	// Subject the policy applies to.
	Subject string
	// Permissions is the widest permission set tokens for Subject may hold.
	Permissions []Permission
	// Datasets is the widest dataset scope. Empty means all datasets.
	Datasets []string
	// MaxTTL caps requested token lifetimes. Zero means no cap.
	MaxTTL time.Duration
}
