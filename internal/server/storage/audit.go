package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/datasite/connector/internal/dbx"
	"github.com/datasite/connector/internal/server/models"
)

// AppendAudit writes one audit entry. The table is append-only: nothing in
// normal operation updates or deletes rows, only the retention sweep trims
// entries older than the configured horizon.
func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, q dbx.DBTX, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (ts, subject, token_id, action, dataset, outcome, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?);
	`
	_, err := q.ExecContext(ctx, query,
		entry.Time, entry.Subject, entry.TokenID, entry.Action,
		entry.Dataset, entry.Outcome, entry.Reason)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListAudit returns the most recent entries, newest first, capped at limit.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*models.AuditEntry, error) {
	query := `
		SELECT ts, subject, token_id, action, dataset, outcome, reason
		FROM audit_log ORDER BY seq DESC LIMIT ?;
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit entries: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		if err := rows.Scan(
			&entry.Time, &entry.Subject, &entry.TokenID, &entry.Action,
			&entry.Dataset, &entry.Outcome, &entry.Reason,
		); err != nil {
			return nil, err
		}
		result = append(result, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PruneAudit deletes entries older than cutoff and reports how many were
// removed.
func (s *Store) PruneAudit(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE ts < ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
