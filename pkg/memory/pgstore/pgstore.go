// Package pgstore is a durable memory.Store backed by Postgres via pgx/v5,
// with hand-written SQL rather than a generated ORM client (see DESIGN.md
// for why entgo.io/ent was dropped from this module). Schema migrations
// are embedded and applied on boot, mirroring the teacher's
// pkg/database/client.go migration-on-boot pattern.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cascadelabs/cascade/pkg/memory"
)

//go:embed migrations
var migrationsFS embed.FS

// Store is a Postgres-backed memory.Store. Similarity search pulls
// candidate rows by tenant+domain and scores them in Go; no pgvector
// extension is assumed.
type Store struct {
	db             *sql.DB
	mergeThreshold float64
}

// Config configures Open.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	MigrationsTable string
	MergeThreshold  float64
}

// Open connects to Postgres, applies any pending migrations, and returns a
// ready-to-use Store. The underlying *sql.DB is owned by the caller for
// shutdown; Store.Close closes it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	if err := applyMigrations(db, cfg.MigrationsTable); err != nil {
		db.Close()
		return nil, err
	}

	threshold := cfg.MergeThreshold
	if threshold <= 0 {
		threshold = memory.DefaultMergeThreshold
	}
	return &Store{db: db, mergeThreshold: threshold}, nil
}

func applyMigrations(db *sql.DB, migrationsTable string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("pgstore: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return fmt.Errorf("pgstore: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return fmt.Errorf("pgstore: migrate init: %w", err)
	}
	// Deliberately not calling m.Close(): it would close the shared *sql.DB
	// that Store keeps using afterward.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("pgstore: migrate up: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts note, or merges it into the most similar existing note in
// the same bucket when cosine similarity >= the merge threshold. Unlike
// memory.InMemoryStore, note texts are not compared, and a merge returns the
// existing row with its helpful/harmful counts unchanged; an inserted row
// starts with both counts at 0.
func (s *Store) Upsert(ctx context.Context, note memory.Note) (memory.Note, error) {
	candidates, err := s.bucketRows(ctx, note.Tenant, note.Domain)
	if err != nil {
		return memory.Note{}, err
	}

	var best *memory.Note
	bestScore := -1.0
	for i := range candidates {
		score := cosineSimilarity(candidates[i].Embedding, note.Embedding)
		if score > bestScore {
			bestScore, best = score, &candidates[i]
		}
	}
	if best != nil && bestScore >= s.mergeThreshold {
		return *best, nil
	}

	if note.ID == "" {
		note.ID = newID()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_notes (id, tenant, domain, embedding, text, helpful_count, harmful_count, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6)
	`, note.ID, note.Tenant, note.Domain, float32Slice(note.Embedding), note.Text, note.CreatedAt)
	if err != nil {
		return memory.Note{}, fmt.Errorf("pgstore: upsert: %w", err)
	}
	return note, nil
}

// SearchSimilar returns the top-k notes by cosine similarity within the
// given (tenant, domain) bucket.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, tenant, domain string, k int) ([]memory.Scored, error) {
	rows, err := s.bucketRows(ctx, tenant, domain)
	if err != nil {
		return nil, err
	}
	scored := make([]memory.Scored, len(rows))
	for i, n := range rows {
		scored[i] = memory.Scored{Note: n, Score: cosineSimilarity(n.Embedding, embedding)}
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
func (s *Store) MarkHelpful(ctx context.Context, id string) error {
	return s.increment(ctx, id, "helpful_count")
}

// MarkHarmful atomically increments a note's harmful counter.
func (s *Store) MarkHarmful(ctx context.Context, id string) error {
	return s.increment(ctx, id, "harmful_count")
}

func (s *Store) increment(ctx context.Context, id, column string) error {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE memory_notes SET %s = %s + 1 WHERE id = $1`, column, column), id)
	if err != nil {
		return fmt.Errorf("pgstore: increment %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pgstore: note not found: %s", id)
	}
	return nil
}

func (s *Store) bucketRows(ctx context.Context, tenant, domain string) ([]memory.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant, domain, embedding, text, helpful_count, harmful_count, created_at, tombstoned_at
		FROM memory_notes
		WHERE tenant = $1 AND domain = $2 AND tombstoned_at IS NULL
	`, tenant, domain)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query bucket: %w", err)
	}
	defer rows.Close()

	var notes []memory.Note
	for rows.Next() {
		var n memory.Note
		var embedding float32Slice
		if err := rows.Scan(&n.ID, &n.Tenant, &n.Domain, &embedding, &n.Text, &n.HelpfulCount, &n.HarmfulCount, &n.CreatedAt, &n.TombstonedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		n.Embedding = embedding
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

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

func newID() string {
	return fmt.Sprintf("note-%d", time.Now().UnixNano())
}
