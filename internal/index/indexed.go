package index

import "kvstore/internal/store"

// Indexer keeps both search indexes in sync with whatever writes flow
// through a dispatch.Engine. It wraps rather than replaces the engine:
// call Index/Remove right after a write succeeds, the same way
// indexes.py's IndexedKVStore drives FullTextIndex/WordEmbeddingIndex from
// its own set/delete/bulk_set.
type Indexer struct {
	FullText  *FullTextIndex
	Embedding *EmbeddingIndex
}

func New(dataDir string) (*Indexer, error) {
	ft, err := NewFullTextIndex(dataDir)
	if err != nil {
		return nil, err
	}
	emb, err := NewEmbeddingIndex(dataDir)
	if err != nil {
		return nil, err
	}
	return &Indexer{FullText: ft, Embedding: emb}, nil
}

// Index updates both indexes after a successful Set.
func (ix *Indexer) Index(key, value string) error {
	if err := ix.FullText.IndexValue(key, value); err != nil {
		return err
	}
	return ix.Embedding.IndexValue(key, value)
}

// Remove drops key from both indexes after a successful Delete.
func (ix *Indexer) Remove(key string) error {
	if err := ix.FullText.RemoveKey(key); err != nil {
		return err
	}
	return ix.Embedding.RemoveKey(key)
}

// IndexBulk updates both indexes for every item in a successful BulkSet.
func (ix *Indexer) IndexBulk(items []store.Item) error {
	for _, item := range items {
		if err := ix.Index(item.Key, item.Value); err != nil {
			return err
		}
	}
	return nil
}
