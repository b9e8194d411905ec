package vault

// invertedIndex maps normalized tokens to the ids of items containing
// them. It is not safe for concurrent use; the vault serializes access
// through its catalog lock.
type invertedIndex struct {
	postings map[string]map[string]struct{}
	// byItem remembers each item's tokens and normalized metadata text so
	// a removal can purge every posting without re-deriving plaintext.
	byItem map[string]indexedItem
}

type indexedItem struct {
	tokens []string
	// metaText is the normalized name + description, used for phrase
	// matching and snippets. Plaintext tokens live only in postings.
	metaText string
}

func newInvertedIndex() *invertedIndex {
	return &invertedIndex{
		postings: make(map[string]map[string]struct{}),
		byItem:   make(map[string]indexedItem),
	}
}

// add indexes an item under its tokens, replacing any previous entry.
func (ix *invertedIndex) add(id string, tokens []string, metaText string) {
	ix.remove(id)

	seen := make(map[string]struct{}, len(tokens))
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		kept = append(kept, tok)

		ids, ok := ix.postings[tok]
		if !ok {
			ids = make(map[string]struct{})
			ix.postings[tok] = ids
		}
		ids[id] = struct{}{}
	}
	ix.byItem[id] = indexedItem{tokens: kept, metaText: metaText}
}

// remove purges every posting for id.
func (ix *invertedIndex) remove(id string) {
	entry, ok := ix.byItem[id]
	if !ok {
		return
	}
	for _, tok := range entry.tokens {
		if ids, ok := ix.postings[tok]; ok {
			delete(ids, id)
			if len(ids) == 0 {
				delete(ix.postings, tok)
			}
		}
	}
	delete(ix.byItem, id)
}

// lookup returns the ids matching at least one query token, with the
// per-id count of overlapping tokens.
func (ix *invertedIndex) lookup(queryTokens []string) map[string]int {
	matches := make(map[string]int)
	for _, tok := range queryTokens {
		for id := range ix.postings[tok] {
			matches[id]++
		}
	}
	return matches
}

// metaText returns the indexed metadata text for id.
func (ix *invertedIndex) metaText(id string) string {
	return ix.byItem[id].metaText
}
