// Package access implements the access control system: token issuance and
// validation, per-subject policies with scope narrowing, fixed-window rate
// limiting, and the append-only audit log. It is consulted before every
// repository operation and never touches content itself.
package access

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/server/models"
	"github.com/datasite/connector/internal/server/storage"
)

// tokenIDSize is the number of random bytes behind a token id; the hex
// form is twice as long.
const tokenIDSize = 16

// Service holds the token registry, policies, and rate limiter. The signed
// JWT is what callers present; the registry record is the source of truth
// for revocation.
type Service struct {
	secret     []byte
	defaultTTL time.Duration
	store      *storage.Store
	logger     logging.Logger
	limiter    *rateLimiter

	mu       sync.RWMutex
	tokens   map[string]*models.AccessToken
	policies map[string]*models.AccessPolicy
}

// NewService builds the access control system. maxRequests of 0 disables
// rate limiting.
func NewService(secret []byte, defaultTTL time.Duration, maxRequests int, window time.Duration, store *storage.Store, logger logging.Logger) *Service {
	return &Service{
		secret:     secret,
		defaultTTL: defaultTTL,
		store:      store,
		logger:     logger.With("module", "access"),
		limiter:    newRateLimiter(maxRequests, window),
		tokens:     make(map[string]*models.AccessToken),
		policies:   make(map[string]*models.AccessPolicy),
	}
}

// Load rebuilds the token registry from the store so revocations survive
// restarts.
func (s *Service) Load(ctx context.Context) error {
	tokens, err := s.store.LoadTokens(ctx)
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		s.tokens[t.TokenID] = t
	}
	return nil
}

// SetPolicy installs (or replaces) the policy for a subject. Policies cap
// what any token issued to that subject may carry.
func (s *Service) SetPolicy(policy *models.AccessPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[policy.Subject] = policy
}

// IssueToken mints a signed token for subject. Requests broader than the
// subject's policy are narrowed to the policy allowance rather than
// rejected; a request that narrows to nothing fails closed. An empty
// permission request defaults to read-only.
func (s *Service) IssueToken(ctx context.Context, subject string, datasets []string, permissions []models.Permission, ttl time.Duration) (string, *models.AccessToken, error) {
	if subject == "" {
		return "", nil, fmt.Errorf("%w: empty subject", common.ErrBadRequest)
	}
	if len(permissions) == 0 {
		permissions = []models.Permission{models.PermissionRead}
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	s.mu.RLock()
	policy := s.policies[subject]
	s.mu.RUnlock()

	if policy != nil {
		permissions = narrowPermissions(permissions, policy.Permissions)
		datasets = narrowDatasets(datasets, policy.Datasets)
		if policy.MaxTTL > 0 && ttl > policy.MaxTTL {
			ttl = policy.MaxTTL
		}
		if len(permissions) == 0 {
			s.audit(ctx, subject, "", "token_issue", "*", models.OutcomeDenied, "policy_forbids_permissions")
			return "", nil, fmt.Errorf("%w: policy leaves no permissions for %s", common.ErrPermissionDenied, subject)
		}
		if len(policy.Datasets) > 0 && len(datasets) == 0 {
			s.audit(ctx, subject, "", "token_issue", "*", models.OutcomeDenied, "policy_forbids_datasets")
			return "", nil, fmt.Errorf("%w: policy leaves no datasets for %s", common.ErrScopeDenied, subject)
		}
	}

	tokenID, err := common.MakeRandHexString(tokenIDSize)
	if err != nil {
		return "", nil, fmt.Errorf("generate token id: %w", err)
	}

	now := time.Now().UTC()
	token := &models.AccessToken{
		TokenID:        tokenID,
		Subject:        subject,
		ScopedDatasets: datasets,
		Permissions:    permissions,
		IssuedAt:       now,
		ExpiresAt:      now.Add(ttl),
	}

	signed, err := signToken(token, s.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	if err := s.store.SaveToken(ctx, token); err != nil {
		return "", nil, err
	}

	s.mu.Lock()
	s.tokens[token.TokenID] = token
	s.mu.Unlock()

	s.audit(ctx, subject, token.TokenID, "token_issue", "*", models.OutcomeAllowed, "")
	s.logger.Info(ctx, "token issued", "subject", subject, "token_id", token.TokenID, "expires_at", token.ExpiresAt)
	return signed, token, nil
}

// narrowPermissions intersects the requested permissions with the policy
// allowance.
func narrowPermissions(requested, allowed []models.Permission) []models.Permission {
	if len(allowed) == 0 {
		return requested
	}
	var out []models.Permission
	for _, r := range requested {
		for _, a := range allowed {
			if r == a {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// narrowDatasets intersects the requested scope with the policy scope. An
// all-datasets request (empty) narrows to exactly the policy scope.
func narrowDatasets(requested, allowed []string) []string {
	if len(allowed) == 0 {
		return requested
	}
	if len(requested) == 0 {
		return append([]string(nil), allowed...)
	}
	var out []string
	for _, r := range requested {
		for _, a := range allowed {
			if r == a {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// ValidateToken checks signature, then revocation, then expiry, so a
// revoked token reports ErrTokenRevoked even after it expired. Every
// failure is audited with its distinct reason.
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*models.AccessToken, error) {
	claims, err := parseToken(tokenString, s.secret)
	if err != nil {
		s.audit(ctx, "", "", "token_validate", "*", models.OutcomeDenied, "token_invalid")
		return nil, err
	}

	s.mu.RLock()
	token, ok := s.tokens[claims.ID]
	s.mu.RUnlock()

	if !ok {
		s.audit(ctx, claims.Subject, claims.ID, "token_validate", "*", models.OutcomeDenied, "token_unknown")
		return nil, fmt.Errorf("%w: unknown token id", common.ErrTokenInvalid)
	}
	if token.Revoked {
		s.audit(ctx, token.Subject, token.TokenID, "token_validate", "*", models.OutcomeDenied, "token_revoked")
		return nil, common.ErrTokenRevoked
	}
	if time.Now().After(token.ExpiresAt) {
		s.audit(ctx, token.Subject, token.TokenID, "token_validate", "*", models.OutcomeDenied, "token_expired")
		return nil, common.ErrTokenExpired
	}
	return token, nil
}

// Authorize decides whether token may perform action on dataset. The
// decision re-checks revocation and expiry from the registry, applies the
// rate limit before anything else, and appends exactly one audit entry
// whatever the outcome. The scope check runs before any repository lookup,
// so an out-of-scope caller learns nothing about whether the dataset
// exists.
func (s *Service) Authorize(ctx context.Context, token *models.AccessToken, dataset string, action models.Permission) error {
	subject := token.Subject

	s.mu.RLock()
	current, ok := s.tokens[token.TokenID]
	s.mu.RUnlock()

	if !ok {
		s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeDenied, "token_unknown")
		return common.ErrTokenInvalid
	}
	if current.Revoked {
		s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeDenied, "token_revoked")
		return common.ErrTokenRevoked
	}
	if time.Now().After(current.ExpiresAt) {
		s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeDenied, "token_expired")
		return common.ErrTokenExpired
	}

	if !s.limiter.allow(subject) {
		s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeDenied, "rate_limited")
		return fmt.Errorf("%w: subject %s", common.ErrRateLimitExceeded, subject)
	}

	if len(current.Permissions) == 0 || !current.HasPermission(action) {
		s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeDenied, "permission_denied")
		return fmt.Errorf("%w: %s", common.ErrPermissionDenied, action)
	}
	// Dataset-spanning actions (list/search) pass "*" and enforce scope by
	// filtering their results instead.
	if dataset != "*" && !current.InScope(dataset) {
		s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeDenied, "out_of_scope")
		return fmt.Errorf("%w: %s", common.ErrScopeDenied, dataset)
	}

	s.audit(ctx, subject, token.TokenID, string(action), dataset, models.OutcomeAllowed, "")
	return nil
}

// CheckRateLimit consumes one request slot for subject without touching
// content or the privacy budget.
func (s *Service) CheckRateLimit(subject string) error {
	if !s.limiter.allow(subject) {
		return fmt.Errorf("%w: subject %s", common.ErrRateLimitExceeded, subject)
	}
	return nil
}

// RevokeToken sets the terminal revoked state. Revoking an already revoked
// or unknown token is a no-op, keeping the operation idempotent.
func (s *Service) RevokeToken(ctx context.Context, tokenID string) error {
	s.mu.Lock()
	token, ok := s.tokens[tokenID]
	alreadyRevoked := ok && token.Revoked
	if ok {
		token.Revoked = true
	}
	s.mu.Unlock()

	if !ok || alreadyRevoked {
		return nil
	}

	entry := &models.AuditEntry{
		Time:    time.Now().UTC(),
		Subject: token.Subject,
		TokenID: tokenID,
		Action:  "token_revoke",
		Dataset: "*",
		Outcome: models.OutcomeAllowed,
	}
	if err := s.store.RevokeTokenAudited(ctx, tokenID, entry); err != nil {
		return err
	}

	s.logger.Info(ctx, "token revoked", "token_id", tokenID)
	return nil
}

// SweepExpired drops registry records whose window ended before cutoff.
// Run periodically by the app's maintenance loop.
func (s *Service) SweepExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.store.DeleteExpiredTokens(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	for id, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, id)
		}
	}
	s.mu.Unlock()
	return n, nil
}

// AuditTrail exposes recent audit entries to trusted local callers.
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListAudit(ctx, limit)
}

// audit appends one decision record. Store failures must not turn a denial
// into a success path, so they are logged rather than propagated.
func (s *Service) audit(ctx context.Context, subject, tokenID, action, dataset string, outcome models.AuditOutcome, reason string) {
	entry := &models.AuditEntry{
		Time:    time.Now().UTC(),
		Subject: subject,
		TokenID: tokenID,
		Action:  action,
		Dataset: dataset,
		Outcome: outcome,
		Reason:  reason,
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.Error(ctx, "audit append failed", "action", action, "error", err.Error())
	}
}
