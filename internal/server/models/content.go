// Package models defines server-side data models persisted in the database.
package models

import "time"

// ContentItem is one unit of stored, encrypted content plus its metadata.
// The plaintext is never persisted; CipherBlob carries nonce||ciphertext as
// produced by the crypto engine.
type ContentItem struct {
	// ID is the stable internal key, assigned at ingestion and never reused.
	ID string
	// Name is the human-chosen label used as the lookup key for tool calls.
	Name string
	// ContentType is a MIME-like string, informational only.
	ContentType string
	// CipherBlob is the encrypted content.
	CipherBlob []byte
	// ContentHash is the hex SHA-256 digest of the plaintext, computed at
	// ingestion and re-checked on every decrypt.
	ContentHash string
	// Tags are used for filtering and search.
	Tags []string
	// Description is free text used for search and summaries.
	Description string

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64

	// Flagged marks an item whose integrity check failed. Flagged items are
	// never served until re-ingested.
	Flagged bool
}

// Meta returns the metadata-only view of the item exposed by list
// operations: no ciphertext and no content hash.
func (c *ContentItem) Meta() ContentMeta {
	return ContentMeta{
		ID:             c.ID,
		Name:           c.Name,
		ContentType:    c.ContentType,
		Tags:           append([]string(nil), c.Tags...),
		Description:    c.Description,
		Size:           len(c.CipherBlob),
		CreatedAt:      c.CreatedAt,
		LastAccessedAt: c.LastAccessedAt,
		AccessCount:    c.AccessCount,
		Flagged:        c.Flagged,
	}
}

// ContentMeta is what list_datasets discloses about an item.
type ContentMeta struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ContentType    string    `json:"content_type"`
	Tags           []string  `json:"tags"`
	Description    string    `json:"description"`
	Size           int       `json:"size"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	AccessCount    int64     `json:"access_count"`
	Flagged        bool      `json:"flagged"`
}

// SearchResult is one ranked hit returned by the search operation. The
// snippet is derived from indexed metadata, not from decrypting the item.
type SearchResult struct {
	Name        string   `json:"name"`
	ContentType string   `json:"content_type"`
	Tags        []string `json:"tags"`
	Snippet     string   `json:"snippet"`
	Score       int      `json:"score"`
}
