package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/datasite/connector/internal/dbx"
	"github.com/datasite/connector/internal/server/models"
)

// SaveToken persists a newly issued token registry record.
func (s *Store) SaveToken(ctx context.Context, token *models.AccessToken) error {
	datasets, err := marshalStrings(token.ScopedDatasets)
	if err != nil {
		return fmt.Errorf("encode datasets: %w", err)
	}
	perms, err := marshalStrings(permissionStrings(token.Permissions))
	if err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}

	query := `
		INSERT INTO tokens (token_id, subject, datasets, permissions, issued_at, expires_at, revoked)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`
	_, err = s.db.ExecContext(ctx, query,
		token.TokenID, token.Subject, datasets, perms,
		token.IssuedAt, token.ExpiresAt, token.Revoked)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// MarkTokenRevoked sets the terminal revoked state. Unknown ids are a
// no-op so revocation stays idempotent.
func (s *Store) MarkTokenRevoked(ctx context.Context, tokenID string) error {
	return markTokenRevoked(ctx, s.db, tokenID)
}

func markTokenRevoked(ctx context.Context, q dbx.DBTX, tokenID string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE tokens SET revoked = 1 WHERE token_id = ?;`, tokenID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RevokeTokenAudited marks the token revoked and writes the audit entry in
// one transaction, so a crash cannot leave a revocation without its trace.
func (s *Store) RevokeTokenAudited(ctx context.Context, tokenID string, entry *models.AuditEntry) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := markTokenRevoked(ctx, tx, tokenID); err != nil {
			return err
		}
		return appendAudit(ctx, tx, entry)
	})
}

// LoadTokens returns all persisted token records, used to rebuild the
// in-memory registry at startup.
func (s *Store) LoadTokens(ctx context.Context) ([]*models.AccessToken, error) {
	query := `
		SELECT token_id, subject, datasets, permissions, issued_at, expires_at, revoked
		FROM tokens;
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select tokens: %w", err)
	}
	defer rows.Close()

	var result []*models.AccessToken
	for rows.Next() {
		var token models.AccessToken
		var datasets, perms string
		if err := rows.Scan(
			&token.TokenID, &token.Subject, &datasets, &perms,
			&token.IssuedAt, &token.ExpiresAt, &token.Revoked,
		); err != nil {
			return nil, err
		}
		if token.ScopedDatasets, err = unmarshalStrings(datasets); err != nil {
			return nil, fmt.Errorf("decode datasets for %s: %w", token.TokenID, err)
		}
		permValues, err := unmarshalStrings(perms)
		if err != nil {
			return nil, fmt.Errorf("decode permissions for %s: %w", token.TokenID, err)
		}
		for _, p := range permValues {
			token.Permissions = append(token.Permissions, models.Permission(p))
		}
		result = append(result, &token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteExpiredTokens drops registry records whose validity window ended
// before cutoff. Revocation state for live tokens is untouched.
func (s *Store) DeleteExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tokens WHERE expires_at < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func permissionStrings(perms []models.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}
