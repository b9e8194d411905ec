// Package common defines shared constants and sentinel errors used across
// the datasite connector components. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Startup / configuration errors (fatal, the service must not serve).
	ErrConfiguration = errors.New("configuration error")

	// Crypto and integrity errors. ErrCrypto covers encrypt/decrypt failures
	// including authentication-tag mismatches; ErrIntegrity is a post-decrypt
	// digest mismatch. Both are security-relevant and fail the single request.
	ErrCrypto    = errors.New("crypto error")
	ErrIntegrity = errors.New("integrity check failed")

	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrDuplicateName = errors.New("duplicate name")

	// Token lifecycle errors, each a distinct observable reason.
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenRevoked = errors.New("token revoked")

	// Authorization denials.
	ErrPermissionDenied = errors.New("permission denied")
	ErrScopeDenied      = errors.New("dataset not in token scope")

	// Quota denials.
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrPrivacyBudgetExceeded = errors.New("privacy budget exceeded")

	// Request validation (unknown format/summary kind, bad arguments).
	ErrBadRequest = errors.New("bad request")
)
