package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// validCollections guards the table names interpolated into SQL.
// Collection names never come from user input, but the allowlist keeps
// a typo from silently creating a stray table.
var validCollections = map[string]bool{
	CatalogCollection: true,
	ContentCollection: true,
}

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. Each collection maps to its own table. This
// is the default implementation of VectorStore; the pgvector-backed
// PostgresStore is the alternative for larger deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The database handle is shared with the catalog store and remains
// owned by it; Close on the SQLiteStore is a no-op.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func collectionTable(collection string) (string, error) {
	if !validCollections[collection] {
		return "", fmt.Errorf("unknown collection %q", collection)
	}
	return collection, nil
}

// EnsureCollection creates the collection table and its course index if
// they do not exist.
func (s *SQLiteStore) EnsureCollection(ctx context.Context, collection string) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		course_title TEXT NOT NULL,
		lesson_number INTEGER,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		embedding BLOB NOT NULL,
		created_at TEXT NOT NULL
	)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating collection %s: %w", collection, err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_course ON %s(course_title)`, table, table)
	if _, err := s.db.ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("indexing collection %s: %w", collection, err)
	}
	return nil
}

// Upsert inserts records into the collection, replacing any existing
// record with the same ID.
func (s *SQLiteStore) Upsert(ctx context.Context, collection string, records []Record) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, document, course_title, lesson_number, chunk_index, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document = excluded.document,
			course_title = excluded.course_title,
			lesson_number = excluded.lesson_number,
			chunk_index = excluded.chunk_index,
			embedding = excluded.embedding,
			created_at = excluded.created_at`, table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		var lesson interface{}
		if r.LessonNumber != nil {
			lesson = *r.LessonNumber
		}
		if _, err := stmt.ExecContext(ctx, r.ID, r.Document, r.CourseTitle, lesson, r.ChunkIndex, blob, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and similarity during the scan phase of
// Search. Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over the
// collection, restricted to records matching the filter, returning the
// top-K closest records ordered by ascending distance.
func (s *SQLiteStore) Search(ctx context.Context, collection string, embedding []float32, topK int, filter Filter) ([]ScoredRecord, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	queryNorm := norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding of matching rows to find
	// top-K candidates. The filter is applied here so topK counts
	// matching records, not all records.
	where, args := filterClause(filter)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT id, embedding FROM %s%s`, table, where), args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(embedding, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := fmt.Sprintf(`SELECT id, document, course_title, lesson_number, chunk_index, embedding, created_at
		FROM %s WHERE id IN (?`, table) + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		r, err := scanRecord(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{Record: r, Distance: 1 - scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// Sort results by distance ascending (IN query doesn't preserve order).
	sortByDistance(results)

	return results, nil
}

// filterClause renders a Filter as a WHERE clause with bind args.
// Returns the empty string for the zero filter.
func filterClause(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.CourseTitle != "" {
		conds = append(conds, "course_title = ?")
		args = append(args, f.CourseTitle)
	}
	if f.LessonNumber != nil {
		conds = append(conds, "lesson_number = ?")
		args = append(args, *f.LessonNumber)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var blob []byte
	var lesson sql.NullInt64
	var createdAt string
	if err := rows.Scan(&r.ID, &r.Document, &r.CourseTitle, &lesson, &r.ChunkIndex, &blob, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning full record: %w", err)
	}
	if lesson.Valid {
		n := int(lesson.Int64)
		r.LessonNumber = &n
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
	}
	r.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

// sortByDistance sorts ScoredRecords by Distance ascending. Used for
// small slices (topK).
func sortByDistance(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Distance < results[j-1].Distance; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Count returns the number of records in the collection.
func (s *SQLiteStore) Count(ctx context.Context, collection string) (int, error) {
	table, err := collectionTable(collection)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	return count, err
}

// Clear removes all records from the collection.
func (s *SQLiteStore) Clear(ctx context.Context, collection string) error {
	table, err := collectionTable(collection)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
		return fmt.Errorf("clearing collection %s: %w", collection, err)
	}
	return nil
}

// Close is a no-op; the underlying database handle is owned by the
// catalog store.
func (s *SQLiteStore) Close() error {
	return nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
