package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsert_DuplicateTextMerges(t *testing.T) {
	s := NewInMemoryStore(0.8)
	ctx := context.Background()

	n1, err := s.Upsert(ctx, Note{Tenant: "acme", Domain: "support", Text: "the sky is blue", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)

	n2, err := s.Upsert(ctx, Note{Tenant: "acme", Domain: "support", Text: "The sky is blue.", Embedding: []float32{0.9, 0.1, 0}})
	require.NoError(t, err)

	assert.Equal(t, n1.ID, n2.ID, "whitespace/case variants of the same text must merge into one note")

	results, err := s.SearchSimilar(ctx, []float32{1, 0, 0}, "acme", "support", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestUpsert_DistinctTextsDoNotMerge(t *testing.T) {
	s := NewInMemoryStore(0.8)
	ctx := context.Background()

	_, err := s.Upsert(ctx, Note{Tenant: "acme", Domain: "support", Text: "the sky is blue", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	_, err = s.Upsert(ctx, Note{Tenant: "acme", Domain: "support", Text: "grass is green", Embedding: []float32{0, 1, 0}})
	require.NoError(t, err)

	results, err := s.SearchSimilar(ctx, []float32{1, 0, 0}, "acme", "support", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchSimilar_RanksByScoreDescending(t *testing.T) {
	s := NewInMemoryStore(0.8)
	ctx := context.Background()

	_, _ = s.Upsert(ctx, Note{Tenant: "t", Domain: "d", Text: "a", Embedding: []float32{1, 0}})
	_, _ = s.Upsert(ctx, Note{Tenant: "t", Domain: "d", Text: "b", Embedding: []float32{0, 1}})

	results, err := s.SearchSimilar(ctx, []float32{1, 0}, "t", "d", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Note.Text)
	assert.True(t, results[0].Score >= results[1].Score)
}

func TestSearchSimilar_RespectsK(t *testing.T) {
	s := NewInMemoryStore(0.8)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		emb := make([]float32, 5)
		emb[i] = 1
		_, _ = s.Upsert(ctx, Note{Tenant: "t", Domain: "d", Text: string(rune('a' + i)), Embedding: emb})
	}
	results, err := s.SearchSimilar(ctx, []float32{1, 1, 1, 1, 1}, "t", "d", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMarkHelpfulAndHarmful(t *testing.T) {
	s := NewInMemoryStore(0.8)
	ctx := context.Background()
	n, err := s.Upsert(ctx, Note{Tenant: "t", Domain: "d", Text: "note", Embedding: []float32{1}})
	require.NoError(t, err)

	require.NoError(t, s.MarkHelpful(ctx, n.ID))
	require.NoError(t, s.MarkHarmful(ctx, n.ID))

	results, err := s.SearchSimilar(ctx, []float32{1}, "t", "d", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Note.HelpfulCount)
	assert.Equal(t, 1, results[0].Note.HarmfulCount)
}

func TestMarkHelpful_UnknownID(t *testing.T) {
	s := NewInMemoryStore(0.8)
	err := s.MarkHelpful(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestSearchSimilar_TenantIsolation(t *testing.T) {
	s := NewInMemoryStore(0.8)
	ctx := context.Background()
	_, _ = s.Upsert(ctx, Note{Tenant: "acme", Domain: "d", Text: "note", Embedding: []float32{1}})

	results, err := s.SearchSimilar(ctx, []float32{1}, "other-tenant", "d", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
