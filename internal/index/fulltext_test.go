package index

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFullTextSearchIntersection(t *testing.T) {
	idx, err := NewFullTextIndex(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, idx.IndexValue("k1", "the quick brown fox"))
	require.NoError(t, idx.IndexValue("k2", "the lazy dog"))

	require.ElementsMatch(t, []string{"k1", "k2"}, idx.Search("the"))
	require.ElementsMatch(t, []string{"k1"}, idx.Search("quick fox"))
	require.Empty(t, idx.Search("nonexistentword"))
}

func TestFullTextReindexDropsStaleEntries(t *testing.T) {
	idx, err := NewFullTextIndex(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, idx.IndexValue("k1", "apple"))
	require.ElementsMatch(t, []string{"k1"}, idx.Search("apple"))

	require.NoError(t, idx.IndexValue("k1", "banana"))
	require.Empty(t, idx.Search("apple"))
	require.ElementsMatch(t, []string{"k1"}, idx.Search("banana"))
}

func TestFullTextRemoveKey(t *testing.T) {
	idx, err := NewFullTextIndex(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, idx.IndexValue("k1", "hello world"))
	require.NoError(t, idx.RemoveKey("k1"))
	require.Empty(t, idx.Search("hello"))
}

func TestEmbeddingSearchRanksSimilarText(t *testing.T) {
	idx, err := NewEmbeddingIndex(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, idx.IndexValue("k1", "aaaa"))
	require.NoError(t, idx.IndexValue("k2", "zzzz"))

	matches := idx.Search("aaaa", 2)
	require.Len(t, matches, 2)
	require.Equal(t, "k1", matches[0].Key)
	require.Greater(t, matches[0].Similarity, matches[1].Similarity)
}
