// Package vault implements the content repository: the catalog of
// encrypted content items and the search index over them. All plaintext
// handling happens in memory; only ciphertext reaches the store.
package vault

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/datasite/connector/internal/common"
	"github.com/datasite/connector/internal/cryptox"
	"github.com/datasite/connector/internal/logging"
	"github.com/datasite/connector/internal/privacy"
	"github.com/datasite/connector/internal/server/models"
	"github.com/datasite/connector/internal/server/storage"
	"github.com/google/uuid"
)

const (
	defaultMaxResults = 10
	maxMaxResults     = 50
	snippetLimit      = 120
)

// Vault owns the content catalog and its inverted search index. Reads run
// concurrently under the read lock; ingest and remove take the write lock
// so no caller ever observes a half-applied mutation.
type Vault struct {
	crypto  *cryptox.Engine
	privacy *privacy.Engine
	store   *storage.Store
	logger  logging.Logger

	mu     sync.RWMutex
	byName map[string]*models.ContentItem
	byID   map[string]*models.ContentItem
	index  *invertedIndex
}

// New builds an empty vault. Call Load to populate it from the store.
func New(crypto *cryptox.Engine, priv *privacy.Engine, store *storage.Store, logger logging.Logger) *Vault {
	return &Vault{
		crypto:  crypto,
		privacy: priv,
		store:   store,
		logger:  logger.With("module", "vault"),
		byName:  make(map[string]*models.ContentItem),
		byID:    make(map[string]*models.ContentItem),
		index:   newInvertedIndex(),
	}
}

// Load rebuilds the in-memory catalog and index from the store. Each item
// is decrypted once to recover its plaintext tokens; an item that fails
// decryption or its integrity check is flagged and left out of the index
// rather than aborting startup.
func (v *Vault) Load(ctx context.Context) error {
	items, err := v.store.LoadItems(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	for _, item := range items {
		v.byName[item.Name] = item
		v.byID[item.ID] = item

		if item.Flagged {
			continue
		}

		plaintext, err := v.crypto.Decrypt(item.CipherBlob)
		if err == nil && cryptox.Hash(plaintext) != item.ContentHash {
			err = common.ErrIntegrity
		}
		if err != nil {
			item.Flagged = true
			if ferr := v.store.FlagItem(ctx, item.ID); ferr != nil {
				return ferr
			}
			v.logger.Warn(ctx, "flagged corrupt item during load", "name", item.Name, "error", err.Error())
			continue
		}

		v.indexItem(item, plaintext)
	}

	v.logger.Info(ctx, "catalog loaded", "items", len(items))
	return nil
}

// indexItem registers an item's searchable tokens. Caller holds the write
// lock.
func (v *Vault) indexItem(item *models.ContentItem, plaintext []byte) {
	metaText := normalize(item.Name + " " + item.Description)

	tokens := tokenize(item.Name)
	tokens = append(tokens, tokenize(item.Description)...)
	for _, tag := range item.Tags {
		tokens = append(tokens, tokenize(tag)...)
	}
	tokens = append(tokens, tokenize(string(plaintext))...)

	v.index.add(item.ID, tokens, metaText)
}

// Ingest encrypts rawContent, stores the item, and indexes it for search.
// A name already in use is rejected with common.ErrDuplicateName; remove
// the old item first to replace it.
func (v *Vault) Ingest(ctx context.Context, name string, rawContent []byte, contentType, description string, tags []string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty content name", common.ErrBadRequest)
	}

	hash := cryptox.Hash(rawContent)
	blob, err := v.crypto.Encrypt(rawContent)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	item := &models.ContentItem{
		ID:             uuid.NewString(),
		Name:           name,
		ContentType:    contentType,
		CipherBlob:     blob,
		ContentHash:    hash,
		Tags:           append([]string(nil), tags...),
		Description:    description,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.byName[name]; exists {
		return "", fmt.Errorf("%w: %s", common.ErrDuplicateName, name)
	}

	// Persist first: if the store rejects the item the in-memory view
	// stays untouched and no reader ever sees a half-applied ingest.
	if err := v.store.SaveItem(ctx, item); err != nil {
		return "", err
	}

	v.byName[name] = item
	v.byID[item.ID] = item
	v.indexItem(item, rawContent)

	v.logger.Info(ctx, "content ingested", "name", name, "size", len(rawContent))
	return item.ID, nil
}

// Get decrypts and returns the plaintext of the named item after verifying
// its integrity digest, then updates the access metadata. A digest
// mismatch flags the item and fails with common.ErrIntegrity.
func (v *Vault) Get(ctx context.Context, name string) ([]byte, models.ContentMeta, error) {
	plaintext, item, err := v.openItem(ctx, name)
	if err != nil {
		return nil, models.ContentMeta{}, err
	}

	meta, err := v.touch(ctx, item)
	if err != nil {
		return nil, models.ContentMeta{}, err
	}
	return plaintext, meta, nil
}

// openItem looks up, decrypts, and integrity-checks an item without
// touching access metadata.
func (v *Vault) openItem(ctx context.Context, name string) ([]byte, *models.ContentItem, error) {
	v.mu.RLock()
	item, ok := v.byName[name]
	var blob []byte
	var hash string
	var flagged bool
	if ok {
		blob = item.CipherBlob
		hash = item.ContentHash
		flagged = item.Flagged
	}
	v.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", common.ErrNotFound, name)
	}
	if flagged {
		return nil, nil, fmt.Errorf("%w: %s is flagged", common.ErrIntegrity, name)
	}

	plaintext, err := v.crypto.Decrypt(blob)
	if err != nil {
		v.flag(ctx, item, "decrypt failed")
		return nil, nil, err
	}
	if cryptox.Hash(plaintext) != hash {
		v.flag(ctx, item, "hash mismatch")
		return nil, nil, fmt.Errorf("%w: %s", common.ErrIntegrity, name)
	}
	return plaintext, item, nil
}

func (v *Vault) flag(ctx context.Context, item *models.ContentItem, reason string) {
	v.mu.Lock()
	item.Flagged = true
	v.index.remove(item.ID)
	v.mu.Unlock()

	if err := v.store.FlagItem(ctx, item.ID); err != nil {
		v.logger.Error(ctx, "failed to persist integrity flag", "name", item.Name, "error", err.Error())
	}
	v.logger.Warn(ctx, "content integrity failure", "name", item.Name, "reason", reason)
}

func (v *Vault) touch(ctx context.Context, item *models.ContentItem) (models.ContentMeta, error) {
	v.mu.Lock()
	item.LastAccessedAt = time.Now().UTC()
	item.AccessCount++
	accessedAt := item.LastAccessedAt
	meta := item.Meta()
	v.mu.Unlock()

	if err := v.store.TouchItem(ctx, item.ID, accessedAt); err != nil {
		return models.ContentMeta{}, err
	}
	return meta, nil
}

// touchAll records a search hit on every returned item. Persistence
// failures are logged rather than propagated: the caller already holds
// its results and usage metadata is best-effort on the search path.
func (v *Vault) touchAll(ctx context.Context, items []*models.ContentItem) {
	now := time.Now().UTC()

	v.mu.Lock()
	for _, item := range items {
		item.LastAccessedAt = now
		item.AccessCount++
	}
	v.mu.Unlock()

	for _, item := range items {
		if err := v.store.TouchItem(ctx, item.ID, now); err != nil {
			v.logger.Error(ctx, "failed to persist access metadata", "name", item.Name, "error", err.Error())
		}
	}
}

// Search ranks items against query: an exact tag match outranks a phrase
// match in the indexed metadata, which outranks plain token overlap. Ties
// break toward the most recently accessed item. Snippets come from the
// index, not from decrypting candidates.
func (v *Vault) Search(ctx context.Context, query string, maxResults int) ([]models.SearchResult, error) {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxMaxResults {
		maxResults = maxMaxResults
	}

	phrase := normalize(query)
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	v.mu.RLock()

	overlap := v.index.lookup(queryTokens)

	type scored struct {
		item  *models.ContentItem
		score int
	}
	candidates := make([]scored, 0, len(overlap))

	for id, tokenHits := range overlap {
		item, ok := v.byID[id]
		if !ok || item.Flagged {
			continue
		}

		score := tokenHits
		for _, tag := range item.Tags {
			if normalize(tag) == phrase {
				score += 100
				break
			}
		}
		if strings.Contains(v.index.metaText(id), phrase) {
			score += 50
		}
		candidates = append(candidates, scored{item: item, score: score})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].item.LastAccessedAt.After(candidates[j].item.LastAccessedAt)
	})

	if len(candidates) > maxResults {
		candidates = candidates[:maxResults]
	}

	results := make([]models.SearchResult, 0, len(candidates))
	hits := make([]*models.ContentItem, 0, len(candidates))
	for _, c := range candidates {
		results = append(results, models.SearchResult{
			Name:        c.item.Name,
			ContentType: c.item.ContentType,
			Tags:        append([]string(nil), c.item.Tags...),
			Snippet:     snippet(c.item.Description),
			Score:       c.score,
		})
		hits = append(hits, c.item)
	}
	v.mu.RUnlock()

	// A returned hit counts as usage, same as a read.
	v.touchAll(ctx, hits)
	return results, nil
}

func snippet(description string) string {
	s := strings.TrimSpace(description)
	if len(s) > snippetLimit {
		s = trimToRuneBoundary(s, snippetLimit) + "..."
	}
	return s
}

// trimToRuneBoundary cuts s to at most limit bytes without splitting a
// multibyte rune at the cut.
func trimToRuneBoundary(s string, limit int) string {
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit]
}

// Summarize produces a privacy-bounded summary of the named item on
// behalf of subject. The privacy engine charges the subject's epsilon
// budget before any disclosure happens.
func (v *Vault) Summarize(ctx context.Context, subject, name string, kind privacy.SummaryKind, epsilon float64) (*privacy.Summary, error) {
	plaintext, item, err := v.openItem(ctx, name)
	if err != nil {
		return nil, err
	}

	summary, err := v.privacy.Summarize(subject, privacy.Content{
		Name:        item.Name,
		ContentType: item.ContentType,
		Description: item.Description,
		Tags:        item.Tags,
		Plaintext:   plaintext,
	}, kind, epsilon)
	if err != nil {
		return nil, err
	}

	if _, err := v.touch(ctx, item); err != nil {
		return nil, err
	}
	return summary, nil
}

// Remove deletes the item and purges its index entries atomically with
// respect to concurrent readers.
func (v *Vault) Remove(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	item, ok := v.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotFound, name)
	}

	if err := v.store.DeleteItem(ctx, item.ID); err != nil {
		return err
	}

	delete(v.byName, name)
	delete(v.byID, item.ID)
	v.index.remove(item.ID)

	v.logger.Info(ctx, "content removed", "name", name)
	return nil
}

// List returns metadata for items matching the optional tag and content
// type filters, ordered by creation time. No decryption happens and no
// content hash is exposed.
func (v *Vault) List(ctx context.Context, filterTags []string, filterType string) ([]models.ContentMeta, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	result := make([]models.ContentMeta, 0, len(v.byName))
	for _, item := range v.byName {
		if filterType != "" && item.ContentType != filterType {
			continue
		}
		if !hasAllTags(item.Tags, filterTags) {
			continue
		}
		result = append(result, item.Meta())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func hasAllTags(itemTags, wanted []string) bool {
	for _, w := range wanted {
		found := false
		for _, t := range itemTags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
