package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	findexerr "github.com/findexd/findex/internal/errors"
)

// CurrentSchemaVersion is the current database schema version.
const CurrentSchemaVersion = 1

// SQLiteStore is the relational system of record.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the store at path and runs
// migrations. Pass ":memory:" for an in-memory store in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Serialized access through one connection keeps writer semantics simple.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply %q: %w", p, err)
		}
	}
	return s.migrate()
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return findexerr.New(findexerr.ErrCodeSchemaMismatch,
			fmt.Sprintf("database schema version %d is newer than supported %d", version, CurrentSchemaVersion), nil)
	}
	if version == CurrentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

const schemaV1 = `
CREATE TABLE files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	ext TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT 'other',
	size INTEGER NOT NULL DEFAULT 0,
	mtime TIMESTAMP,
	ctime TIMESTAMP,
	indexed_at TIMESTAMP,
	content_hash TEXT NOT NULL DEFAULT '',
	mime TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	author TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	content_length INTEGER NOT NULL DEFAULT 0,
	word_count INTEGER NOT NULL DEFAULT 0,
	parse_confidence REAL NOT NULL DEFAULT 0,
	index_status TEXT NOT NULL DEFAULT 'pending',
	is_indexed INTEGER NOT NULL DEFAULT 0,
	needs_reindex INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	is_chunked INTEGER NOT NULL DEFAULT 0,
	total_chunks INTEGER NOT NULL DEFAULT 0,
	chunk_strategy TEXT NOT NULL DEFAULT '',
	avg_chunk_size INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_files_status ON files(index_status);
CREATE INDEX idx_files_type ON files(type);

CREATE TABLE file_chunks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	content_length INTEGER NOT NULL DEFAULT 0,
	start_position INTEGER NOT NULL DEFAULT 0,
	end_position INTEGER NOT NULL DEFAULT 0,
	is_indexed INTEGER NOT NULL DEFAULT 0,
	index_status TEXT NOT NULL DEFAULT 'pending',
	indexed_at TIMESTAMP,
	UNIQUE(file_id, chunk_index)
);
CREATE INDEX idx_chunks_file ON file_chunks(file_id);

CREATE TABLE index_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	folder_path TEXT NOT NULL,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	total_files INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX idx_jobs_folder ON index_jobs(folder_path, status);

CREATE TABLE search_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query TEXT NOT NULL,
	input_type TEXT NOT NULL DEFAULT 'text',
	search_type TEXT NOT NULL DEFAULT 'hybrid',
	models_used TEXT NOT NULL DEFAULT '',
	result_count INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
`

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- file operations ---

const fileColumns = `id, path, name, ext, type, size, mtime, ctime, indexed_at,
	content_hash, mime, title, author, keywords, content_length, word_count,
	parse_confidence, index_status, is_indexed, needs_reindex, retry_count,
	last_error, is_chunked, total_chunks, chunk_strategy, avg_chunk_size`

func scanFile(row interface{ Scan(...any) error }) (*FileRecord, error) {
	var f FileRecord
	var mtime, ctime, indexedAt sql.NullTime
	err := row.Scan(&f.ID, &f.Path, &f.Name, &f.Ext, &f.Type, &f.Size, &mtime, &ctime, &indexedAt,
		&f.ContentHash, &f.Mime, &f.Title, &f.Author, &f.Keywords, &f.ContentLength, &f.WordCount,
		&f.ParseConfidence, &f.IndexStatus, &f.IsIndexed, &f.NeedsReindex, &f.RetryCount,
		&f.LastError, &f.IsChunked, &f.TotalChunks, &f.ChunkStrategy, &f.AvgChunkSize)
	if err != nil {
		return nil, err
	}
	f.ModTime = mtime.Time
	f.CTime = ctime.Time
	f.IndexedAt = indexedAt.Time
	return &f, nil
}

// GetFile fetches a file by ID.
func (s *SQLiteStore) GetFile(ctx context.Context, id int64) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, findexerr.NotFound("file", id)
	}
	return f, err
}

// GetFileByPath fetches a file by its unique path.
func (s *SQLiteStore) GetFileByPath(ctx context.Context, path string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, findexerr.NotFound("file", path)
	}
	return f, err
}

// KnownFiles returns the store's view of all indexed paths, used by the
// incremental scanner diff.
func (s *SQLiteStore) KnownFiles(ctx context.Context) (map[string]*FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*FileRecord)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out[f.Path] = f
	}
	return out, rows.Err()
}

// SaveFileWithChunks atomically upserts the file row, replaces its
// chunks, and returns the file ID plus chunk IDs in chunk order. This is
// the per-file transactional write: either everything becomes visible
// or nothing does.
func (s *SQLiteStore) SaveFileWithChunks(ctx context.Context, f *FileRecord, chunks []*ChunkRecord) (int64, []int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO files (path, name, ext, type, size, mtime, ctime, indexed_at,
			content_hash, mime, title, author, keywords, content_length, word_count,
			parse_confidence, index_status, is_indexed, needs_reindex, retry_count,
			last_error, is_chunked, total_chunks, chunk_strategy, avg_chunk_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name=excluded.name, ext=excluded.ext, type=excluded.type, size=excluded.size,
			mtime=excluded.mtime, ctime=excluded.ctime, indexed_at=excluded.indexed_at,
			content_hash=excluded.content_hash, mime=excluded.mime, title=excluded.title,
			author=excluded.author, keywords=excluded.keywords,
			content_length=excluded.content_length, word_count=excluded.word_count,
			parse_confidence=excluded.parse_confidence, index_status=excluded.index_status,
			is_indexed=excluded.is_indexed, needs_reindex=excluded.needs_reindex,
			retry_count=excluded.retry_count, last_error=excluded.last_error,
			is_chunked=excluded.is_chunked, total_chunks=excluded.total_chunks,
			chunk_strategy=excluded.chunk_strategy, avg_chunk_size=excluded.avg_chunk_size`,
		f.Path, f.Name, f.Ext, f.Type, f.Size, f.ModTime, f.CTime, f.IndexedAt,
		f.ContentHash, f.Mime, f.Title, f.Author, f.Keywords, f.ContentLength, f.WordCount,
		f.ParseConfidence, f.IndexStatus, f.IsIndexed, f.NeedsReindex, f.RetryCount,
		f.LastError, f.IsChunked, f.TotalChunks, f.ChunkStrategy, f.AvgChunkSize)
	if err != nil {
		return 0, nil, fmt.Errorf("upsert file %s: %w", f.Path, err)
	}

	// The row may have been inserted or updated; resolve the ID by path.
	var fileID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM files WHERE path = ?`, f.Path).Scan(&fileID); err != nil {
		return 0, nil, fmt.Errorf("resolve file id for %s: %w", f.Path, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_chunks WHERE file_id = ?`, fileID); err != nil {
		return 0, nil, fmt.Errorf("delete old chunks: %w", err)
	}

	chunkIDs := make([]int64, 0, len(chunks))
	for _, c := range chunks {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO file_chunks (file_id, chunk_index, content, content_length,
				start_position, end_position, is_indexed, index_status, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			fileID, c.ChunkIndex, c.Content, c.ContentLength,
			c.StartPosition, c.EndPosition, c.IsIndexed, c.IndexStatus, c.IndexedAt)
		if err != nil {
			return 0, nil, fmt.Errorf("insert chunk %d: %w", c.ChunkIndex, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, nil, err
		}
		chunkIDs = append(chunkIDs, id)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, err
	}

	f.ID = fileID
	for i, c := range chunks {
		c.ID = chunkIDs[i]
		c.FileID = fileID
	}
	return fileID, chunkIDs, nil
}

// DeleteFile removes the file row; chunks cascade.
func (s *SQLiteStore) DeleteFile(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return findexerr.NotFound("file", id)
	}
	return nil
}

// SetFileStatus updates a file's index status. Failures record the
// error and bump the retry counter.
func (s *SQLiteStore) SetFileStatus(ctx context.Context, id int64, status IndexStatus, lastError string) error {
	if status == IndexStatusFailed {
		_, err := s.db.ExecContext(ctx, `
			UPDATE files SET index_status = ?, last_error = ?, retry_count = retry_count + 1, is_indexed = 0
			WHERE id = ?`, status, lastError, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE files SET index_status = ?, last_error = ? WHERE id = ?`, status, lastError, id)
	return err
}

// MarkReindex flags a file for reindexing. The file is no longer fully
// indexed, and the stored size is invalidated so the next scanner diff
// treats the path as changed.
func (s *SQLiteStore) MarkReindex(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET needs_reindex = 1, index_status = 'pending', is_indexed = 0, size = -1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return findexerr.NotFound("file", id)
	}
	return nil
}

// --- chunk operations ---

const chunkColumns = `id, file_id, chunk_index, content, content_length,
	start_position, end_position, is_indexed, index_status, indexed_at`

func scanChunk(row interface{ Scan(...any) error }) (*ChunkRecord, error) {
	var c ChunkRecord
	var indexedAt sql.NullTime
	err := row.Scan(&c.ID, &c.FileID, &c.ChunkIndex, &c.Content, &c.ContentLength,
		&c.StartPosition, &c.EndPosition, &c.IsIndexed, &c.IndexStatus, &indexedAt)
	if err != nil {
		return nil, err
	}
	c.IndexedAt = indexedAt.Time
	return &c, nil
}

// GetChunk fetches a chunk by ID.
func (s *SQLiteStore) GetChunk(ctx context.Context, id int64) (*ChunkRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM file_chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, findexerr.NotFound("chunk", id)
	}
	return c, err
}

// GetChunksByFile returns a file's chunks ordered by chunk_index.
func (s *SQLiteStore) GetChunksByFile(ctx context.Context, fileID int64) ([]*ChunkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM file_chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ChunkRecord
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkIDsByFile returns a file's chunk IDs.
func (s *SQLiteStore) ChunkIDsByFile(ctx context.Context, fileID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM file_chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllChunkIDs returns every chunk ID in the store, for consistency checks.
func (s *SQLiteStore) AllChunkIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM file_chunks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- job operations ---

const jobColumns = `id, folder_path, job_type, status, total_files, processed_files,
	error_count, started_at, completed_at, error_message, created_at`

func scanJob(row interface{ Scan(...any) error }) (*JobRecord, error) {
	var j JobRecord
	var started, completed sql.NullTime
	err := row.Scan(&j.ID, &j.FolderPath, &j.JobType, &j.Status, &j.TotalFiles,
		&j.ProcessedFiles, &j.ErrorCount, &started, &completed, &j.ErrorMessage, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	j.StartedAt = started.Time
	j.CompletedAt = completed.Time
	return &j, nil
}

// CreateJob inserts a pending job for folderPath. At most one
// pending/processing job may exist per folder; a second request returns
// a Conflict carrying the existing job.
func (s *SQLiteStore) CreateJob(ctx context.Context, folderPath string, jobType JobType) (*JobRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM index_jobs
		WHERE folder_path = ? AND status IN ('pending', 'processing')
		ORDER BY id DESC LIMIT 1`, folderPath)
	if existing, err := scanJob(row); err == nil {
		return existing, findexerr.Conflict("a job for %s is already %s", folderPath, existing.Status)
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO index_jobs (folder_path, job_type, status, created_at)
		VALUES (?, ?, 'pending', ?)`, folderPath, jobType, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &JobRecord{
		ID:         id,
		FolderPath: folderPath,
		JobType:    jobType,
		Status:     JobStatusPending,
		CreatedAt:  now,
	}, nil
}

// GetJob fetches a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM index_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, findexerr.NotFound("job", id)
	}
	return j, err
}

// StartJob transitions pending -> processing. Terminal jobs are left alone.
func (s *SQLiteStore) StartJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET status = 'processing', started_at = ?
		WHERE id = ? AND status = 'pending'`, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return findexerr.Conflict("job %d is not pending", id)
	}
	return nil
}

// SetJobTotal records the discovered file count.
func (s *SQLiteStore) SetJobTotal(ctx context.Context, id int64, total int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET total_files = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`, total, id)
	return err
}

// UpdateJobProgress sets the progress counters. processed_files never
// moves backwards within a job; error_count is stored as given.
func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, id int64, processed, errorCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs
		SET processed_files = MAX(processed_files, ?), error_count = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`, processed, errorCount, id)
	return err
}

// FinishJob transitions a job to a terminal state. Once terminal, a job
// never changes again.
func (s *SQLiteStore) FinishJob(ctx context.Context, id int64, status JobStatus, errorMessage string) error {
	if !status.Terminal() {
		return findexerr.Invalid("finish status must be terminal, got %s", status)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE index_jobs SET status = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		status, errorMessage, time.Now().UTC(), id)
	return err
}

// ListJobs returns recent jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM index_jobs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// --- search history ---

// AddSearchHistory appends one search observation.
func (s *SQLiteStore) AddSearchHistory(ctx context.Context, r *SearchHistoryRecord) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_history (query, input_type, search_type, models_used,
			result_count, response_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Query, r.InputType, r.SearchType, r.ModelsUsed, r.ResultCount, r.ResponseTimeMs, r.CreatedAt)
	return err
}

// RecentSearches returns the newest history rows.
func (s *SQLiteStore) RecentSearches(ctx context.Context, limit int) ([]*SearchHistoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, input_type, search_type, models_used, result_count, response_time_ms, created_at
		FROM search_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SearchHistoryRecord
	for rows.Next() {
		var r SearchHistoryRecord
		if err := rows.Scan(&r.ID, &r.Query, &r.InputType, &r.SearchType, &r.ModelsUsed,
			&r.ResultCount, &r.ResponseTimeMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- stats ---

// StoreStats summarizes the relational store.
type StoreStats struct {
	FileCount    int
	ChunkCount   int
	FilesByType  map[string]int
	IndexedCount int
	FailedCount  int
}

// Stats collects store-level counters.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	st := &StoreStats{FilesByType: make(map[string]int)}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&st.FileCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_chunks`).Scan(&st.ChunkCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE is_indexed = 1`).Scan(&st.IndexedCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE index_status = 'failed'`).Scan(&st.FailedCount); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM files GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		st.FilesByType[t] = n
	}
	return st, rows.Err()
}
