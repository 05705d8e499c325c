package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Compile-time check that PostgresStore implements VectorStore.
var _ VectorStore = (*PostgresStore)(nil)

// PostgresStore provides vector storage and similarity search backed by
// PostgreSQL with the pgvector extension. Cosine distance is computed
// by the <=> operator inside the database, so it scales past the
// brute-force SQLite backend.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

// NewPostgresStore creates a connection pool for a pgvector-backed
// store. dims is the embedding dimensionality used when creating
// collection tables and must match the embedding model.
func NewPostgresStore(ctx context.Context, dsn string, dims int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	// Register pgvector types on every new connection.
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{pool: pool, dims: dims}, nil
}

// EnsureCollection creates the vector extension, the collection table
// and its course index if they do not exist.
func (s *PostgresStore) EnsureCollection(ctx context.Context, collection string) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		course_title TEXT NOT NULL,
		lesson_number INTEGER,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		embedding vector(%d) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, table, s.dims)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_course ON %s(course_title)`, table, table)
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("indexing collection %s: %w", collection, err)
	}
	return nil
}

// Upsert inserts records into the collection, replacing any existing
// record with the same ID. Records are sent as a single batch.
func (s *PostgresStore) Upsert(ctx context.Context, collection string, records []Record) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, document, course_title, lesson_number, chunk_index, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			course_title = EXCLUDED.course_title,
			lesson_number = EXCLUDED.lesson_number,
			chunk_index = EXCLUDED.chunk_index,
			embedding = EXCLUDED.embedding,
			created_at = EXCLUDED.created_at`, table)

	batch := &pgx.Batch{}
	for _, r := range records {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		batch.Queue(query, r.ID, r.Document, r.CourseTitle, r.LessonNumber, r.ChunkIndex, pgvector.NewVector(r.Embedding), createdAt)
	}

	br := s.pool.SendBatch(ctx, batch)
	for range records {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("upserting record: %w", err)
		}
	}
	return br.Close()
}

// Search returns the top-K records closest to the query embedding by
// cosine distance, restricted to those matching the filter.
func (s *PostgresStore) Search(ctx context.Context, collection string, embedding []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	args := []interface{}{pgvector.NewVector(embedding)}
	var conds []string
	if filter.CourseTitle != "" {
		args = append(args, filter.CourseTitle)
		conds = append(conds, fmt.Sprintf("course_title = $%d", len(args)))
	}
	if filter.LessonNumber != nil {
		args = append(args, *filter.LessonNumber)
		conds = append(conds, fmt.Sprintf("lesson_number = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, document, course_title, lesson_number, chunk_index, embedding, embedding <=> $1 AS distance
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, table, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []ScoredRecord
	for rows.Next() {
		var r Record
		var vec pgvector.Vector
		var distance float64
		if err := rows.Scan(&r.ID, &r.Document, &r.CourseTitle, &r.LessonNumber, &r.ChunkIndex, &vec, &distance); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Embedding = vec.Slice()
		results = append(results, ScoredRecord{Record: r, Distance: float32(distance)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return results, nil
}

// Count returns the number of records in the collection.
func (s *PostgresStore) Count(ctx context.Context, collection string) (int, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	return count, err
}

// Clear removes all records from the collection.
func (s *PostgresStore) Clear(ctx context.Context, collection string) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("clearing collection %s: %w", collection, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
