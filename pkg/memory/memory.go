// Package memory implements the durable "reasoning bank" (C4): embeddings
// indexed by similarity, retrieved per tenant/domain, with soft tombstones
// and helpful/harmful curation counters.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Note is a durable, embedding-indexed memory record (spec.md §3
// MemoryNote). Source is a supplemental field recording which stage
// produced it — Retrieve-seeded vs. curator-authored — mirroring the
// teacher's helpful_count/harmful_count curation idiom.
type Note struct {
	ID            string
	Tenant        string
	Domain        string
	Embedding     []float32
	Text          string
	CreatedAt     time.Time
	HelpfulCount  int
	HarmfulCount  int
	TombstonedAt  *time.Time
	Source        string
}

// Scored pairs a Note with its similarity score against a query embedding.
type Scored struct {
	Note  Note
	Score float64
}

// ErrUnavailable is returned by a Store whose backing adapter could not be
// reached. Per spec.md §4.2, this must never block the pipeline: callers
// treat it as "no notes found", not a fatal error.
var ErrUnavailable = errors.New("memory: store unavailable")

// Store is the Memory Store contract (spec.md §4.2).
type Store interface {
	Upsert(ctx context.Context, note Note) (Note, error)
	SearchSimilar(ctx context.Context, embedding []float32, tenant, domain string, k int) ([]Scored, error)
	MarkHelpful(ctx context.Context, id string) error
	MarkHarmful(ctx context.Context, id string) error
}

// DefaultMergeThreshold is applied when a caller passes a non-positive
// threshold to NewInMemoryStore (spec.md §6 "memory.similarity_merge_threshold").
const DefaultMergeThreshold = 0.8

// InMemoryStore is the default, always-available Store implementation:
// cosine similarity computed in pure Go, dedup-on-upsert per bucket.
type InMemoryStore struct {
	mu              sync.Mutex
	byBucket        map[string][]*Note // key: tenant+"\x00"+domain
	byID            map[string]*Note
	mergeThreshold  float64
	idFn            func() string
}

// NewInMemoryStore constructs an InMemoryStore. mergeThreshold <= 0 uses
// DefaultMergeThreshold.
func NewInMemoryStore(mergeThreshold float64) *InMemoryStore {
	if mergeThreshold <= 0 {
		mergeThreshold = DefaultMergeThreshold
	}
	return &InMemoryStore{
		byBucket:       make(map[string][]*Note),
		byID:           make(map[string]*Note),
		mergeThreshold: mergeThreshold,
		idFn:           func() string { return uuid.New().String() },
	}
}

func bucketKey(tenant, domain string) string {
	return tenant + "\x00" + domain
}

// Upsert inserts note, or merges it into the most similar existing note in
// the same (tenant, domain) bucket when similarity >= the merge threshold
// (spec.md §4.2, §8 round-trip law: "upserting the same note text twice
// yields one stored note"). Merging increments the existing note's
// counters rather than inserting a duplicate.
func (s *InMemoryStore) Upsert(ctx context.Context, note Note) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := bucketKey(note.Tenant, note.Domain)
	bucket := s.byBucket[key]

	var best *Note
	bestScore := -1.0
	normalizedText := normalizeText(note.Text)
	for _, existing := range bucket {
		if existing.TombstonedAt != nil {
			continue
		}
		score := cosineSimilarity(existing.Embedding, note.Embedding)
		if normalizeText(existing.Text) == normalizedText {
			score = 1.0
		}
		if score > bestScore {
			bestScore, best = score, existing
		}
	}

	if best != nil && bestScore >= s.mergeThreshold {
		best.HelpfulCount += note.HelpfulCount
		best.HarmfulCount += note.HarmfulCount
		return *best, nil
	}

	if note.ID == "" {
		note.ID = s.idFn()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	stored := note
	s.byBucket[key] = append(bucket, &stored)
	s.byID[stored.ID] = &stored
	return stored, nil
}

// SearchSimilar returns the top-k notes in (tenant, domain) ranked by
// cosine similarity to embedding, excluding tombstoned notes.
func (s *InMemoryStore) SearchSimilar(ctx context.Context, embedding []float32, tenant, domain string, k int) ([]Scored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.byBucket[bucketKey(tenant, domain)]
	scored := make([]Scored, 0, len(bucket))
	for _, note := range bucket {
		if note.TombstonedAt != nil {
			continue
		}
		scored = append(scored, Scored{Note: *note, Score: cosineSimilarity(note.Embedding, embedding)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Note.ID < scored[j].Note.ID
	})
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// MarkHelpful atomically increments a note's helpful counter.
func (s *InMemoryStore) MarkHelpful(ctx context.Context, id string) error {
	return s.adjust(id, func(n *Note) { n.HelpfulCount++ })
}

// MarkHarmful atomically increments a note's harmful counter.
func (s *InMemoryStore) MarkHarmful(ctx context.Context, id string) error {
	return s.adjust(id, func(n *Note) { n.HarmfulCount++ })
}

func (s *InMemoryStore) adjust(id string, fn func(*Note)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	note, ok := s.byID[id]
	if !ok {
		return errors.New("memory: note not found: " + id)
	}
	fn(note)
	return nil
}

func normalizeText(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if
// either vector is empty or they differ in length.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
