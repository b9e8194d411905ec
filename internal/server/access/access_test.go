package access

import (
	"context"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/server/models"
	"github.com/datasite/connector/internal/server/storage"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key"

func newTestService(t *testing.T, maxRequests int, window time.Duration) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "vault.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	s := NewService([]byte(testSecret), time.Hour, maxRequests, window, store, logger)
	require.NoError(t, s.Load(context.Background()))
	return s, store
}

func TestIssueAndValidate(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	signed, issued, err := s.IssueToken(ctx, "alice@example.com", []string{"essay"},
		[]models.Permission{models.PermissionRead, models.PermissionSearch}, time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	// Token ids are random hex, 2 characters per underlying byte.
	require.Len(t, issued.TokenID, 2*tokenIDSize)
	_, err = hex.DecodeString(issued.TokenID)
	require.NoError(t, err)

	token, err := s.ValidateToken(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, issued.TokenID, token.TokenID)
	require.Equal(t, "alice@example.com", token.Subject)
	require.Equal(t, []string{"essay"}, token.ScopedDatasets)
}

func TestValidate_Malformed(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)

	_, err := s.ValidateToken(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestValidate_TamperedSignature(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	signed, _, err := s.IssueToken(ctx, "alice", nil, nil, time.Hour)
	require.NoError(t, err)

	// Tamper with the signature: the claims no longer verify.
	tampered := signed[:len(signed)-2] + "xx"
	_, err = s.ValidateToken(ctx, tampered)
	require.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestValidate_Expired(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	signed, _, err := s.IssueToken(ctx, "alice", nil, nil, -time.Second)
	require.NoError(t, err)

	_, err = s.ValidateToken(ctx, signed)
	require.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestRevoke_TerminalEvenAfterExpiry(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	signed, issued, err := s.IssueToken(ctx, "alice", nil, nil, -time.Second)
	require.NoError(t, err)

	// Revoke an already expired token: revocation wins over expiry.
	require.NoError(t, s.RevokeToken(ctx, issued.TokenID))
	require.NoError(t, s.RevokeToken(ctx, issued.TokenID), "revoke is idempotent")

	_, err = s.ValidateToken(ctx, signed)
	require.ErrorIs(t, err, common.ErrTokenRevoked)
}

func TestRevoke_UnknownTokenIsNoop(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	require.NoError(t, s.RevokeToken(context.Background(), "no-such-token"))
}

func TestRevocationSurvivesRestart(t *testing.T) {
	s, store := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	signed, issued, err := s.IssueToken(ctx, "alice", nil, nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.RevokeToken(ctx, issued.TokenID))

	logger := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	s2 := NewService([]byte(testSecret), time.Hour, 0, time.Minute, store, logger)
	require.NoError(t, s2.Load(ctx))

	_, err = s2.ValidateToken(ctx, signed)
	require.ErrorIs(t, err, common.ErrTokenRevoked)
}

func TestAuthorize_Scoping(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	_, token, err := s.IssueToken(ctx, "alice", []string{"A"},
		[]models.Permission{models.PermissionRead}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Authorize(ctx, token, "A", models.PermissionRead))

	err = s.Authorize(ctx, token, "B", models.PermissionRead)
	require.ErrorIs(t, err, common.ErrScopeDenied, "out-of-scope dataset must be denied, not reported missing")

	err = s.Authorize(ctx, token, "A", models.PermissionSearch)
	require.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestAuthorize_RevokedAfterValidation(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	signed, issued, err := s.IssueToken(ctx, "alice", nil, nil, time.Hour)
	require.NoError(t, err)

	token, err := s.ValidateToken(ctx, signed)
	require.NoError(t, err)

	// Revocation lands between validation and use: the cached check must
	// not win.
	require.NoError(t, s.RevokeToken(ctx, issued.TokenID))

	err = s.Authorize(ctx, token, "essay", models.PermissionRead)
	require.ErrorIs(t, err, common.ErrTokenRevoked)
}

func TestAuthorize_RateLimit(t *testing.T) {
	s, _ := newTestService(t, 3, time.Hour)
	ctx := context.Background()

	_, token, err := s.IssueToken(ctx, "alice", nil,
		[]models.Permission{models.PermissionRead}, time.Hour)
	require.NoError(t, err)

	for range 3 {
		require.NoError(t, s.Authorize(ctx, token, "essay", models.PermissionRead))
	}

	err = s.Authorize(ctx, token, "essay", models.PermissionRead)
	require.ErrorIs(t, err, common.ErrRateLimitExceeded)
}

func TestRateLimit_WindowReset(t *testing.T) {
	l := newRateLimiter(2, time.Minute)

	base := time.Now()
	l.now = func() time.Time { return base }

	require.True(t, l.allow("alice"))
	require.True(t, l.allow("alice"))
	require.False(t, l.allow("alice"))
	require.True(t, l.allow("bob"), "subjects are limited independently")

	l.now = func() time.Time { return base.Add(time.Minute) }
	require.True(t, l.allow("alice"), "window boundary resets the counter")
}

func TestIssue_PolicyNarrowing(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	s.SetPolicy(&models.AccessPolicy{
		Name:        "alice-readonly",
		Subject:     "alice",
		Permissions: []models.Permission{models.PermissionRead},
		Datasets:    []string{"essay", "notes"},
		MaxTTL:      30 * time.Minute,
	})

	_, token, err := s.IssueToken(ctx, "alice", nil,
		[]models.Permission{models.PermissionRead, models.PermissionSummarize}, 2*time.Hour)
	require.NoError(t, err)

	require.Equal(t, []models.Permission{models.PermissionRead}, token.Permissions,
		"permissions narrowed to the policy allowance")
	require.ElementsMatch(t, []string{"essay", "notes"}, token.ScopedDatasets,
		"all-datasets request narrowed to the policy scope")
	require.WithinDuration(t, time.Now().Add(30*time.Minute), token.ExpiresAt, 5*time.Second)
}

func TestIssue_PolicyNarrowsToNothing(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	s.SetPolicy(&models.AccessPolicy{
		Subject:     "bob",
		Permissions: []models.Permission{models.PermissionSearch},
	})

	_, _, err := s.IssueToken(ctx, "bob", nil,
		[]models.Permission{models.PermissionRead}, time.Hour)
	require.ErrorIs(t, err, common.ErrPermissionDenied)
}

func TestAudit_EveryDecisionRecorded(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	_, token, err := s.IssueToken(ctx, "alice", []string{"A"},
		[]models.Permission{models.PermissionRead}, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Authorize(ctx, token, "A", models.PermissionRead))
	_ = s.Authorize(ctx, token, "B", models.PermissionRead)

	entries, err := s.AuditTrail(ctx, 10)
	require.NoError(t, err)
	// token_issue + allowed read + denied read
	require.Len(t, entries, 3)
	require.Equal(t, models.OutcomeDenied, entries[0].Outcome)
	require.Equal(t, "out_of_scope", entries[0].Reason)
	require.Equal(t, models.OutcomeAllowed, entries[1].Outcome)
}

func TestSweepExpired(t *testing.T) {
	s, _ := newTestService(t, 0, time.Minute)
	ctx := context.Background()

	_, expired, err := s.IssueToken(ctx, "alice", nil, nil, -time.Hour)
	require.NoError(t, err)
	_, live, err := s.IssueToken(ctx, "alice", nil, nil, time.Hour)
	require.NoError(t, err)

	n, err := s.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	s.mu.RLock()
	_, expiredPresent := s.tokens[expired.TokenID]
	_, livePresent := s.tokens[live.TokenID]
	s.mu.RUnlock()
	require.False(t, expiredPresent)
	require.True(t, livePresent)
}
