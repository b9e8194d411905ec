package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/server/models"
)

// SaveItem inserts a content item. A name collision is reported as
// common.ErrDuplicateName.
func (s *Store) SaveItem(ctx context.Context, item *models.ContentItem) error {
	tags, err := marshalStrings(item.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	query := `
		INSERT INTO content_items
			(id, name, content_type, cipher_blob, content_hash, tags, description,
			 created_at, last_accessed_at, access_count, flagged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.Name, item.ContentType, item.CipherBlob, item.ContentHash,
		tags, item.Description, item.CreatedAt, item.LastAccessedAt,
		item.AccessCount, item.Flagged)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", common.ErrDuplicateName, item.Name)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteItem removes a content item by id. Missing rows are reported as
// common.ErrNotFound.
func (s *Store) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_items WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// LoadItems returns every stored content item, oldest first. Used to
// rebuild the in-memory catalog and search index at startup.
func (s *Store) LoadItems(ctx context.Context) ([]*models.ContentItem, error) {
	query := `
		SELECT id, name, content_type, cipher_blob, content_hash, tags,
		       description, created_at, last_accessed_at, access_count, flagged
		FROM content_items ORDER BY created_at;
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select content items: %w", err)
	}
	defer rows.Close()

	var result []*models.ContentItem
	for rows.Next() {
		var item models.ContentItem
		var tags string
		if err := rows.Scan(
			&item.ID, &item.Name, &item.ContentType, &item.CipherBlob,
			&item.ContentHash, &tags, &item.Description, &item.CreatedAt,
			&item.LastAccessedAt, &item.AccessCount, &item.Flagged,
		); err != nil {
			return nil, err
		}
		if item.Tags, err = unmarshalStrings(tags); err != nil {
			return nil, fmt.Errorf("decode tags for %s: %w", item.Name, err)
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// TouchItem records one read or search hit: last access time plus a
// relative counter bump, so concurrent touches never regress the count.
func (s *Store) TouchItem(ctx context.Context, id string, accessedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET last_accessed_at = ?, access_count = access_count + 1 WHERE id = ?;`,
		accessedAt, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// FlagItem marks an item as failing its integrity check. The flag never
// reverts short of re-ingestion.
func (s *Store) FlagItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE content_items SET flagged = 1 WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CorruptItemBlob flips one byte of a stored ciphertext. Test hook for
// tamper-detection coverage; never called by production code paths.
func (s *Store) CorruptItemBlob(ctx context.Context, id string) error {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT cipher_blob FROM content_items WHERE id = ?;`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return common.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	blob[len(blob)/2] ^= 0x01
	_, err = s.db.ExecContext(ctx,
		`UPDATE content_items SET cipher_blob = ? WHERE id = ?;`, blob, id)
	return err
}
