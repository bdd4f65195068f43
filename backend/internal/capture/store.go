package capture

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	apperrors "oliver-os/backend/pkg/errors"
	"oliver-os/backend/pkg/logger"
)

// Store persists memories and the processing queue in SQLite. Full-text
// search runs against an FTS5 index kept in sync by triggers, so the index
// update is atomic with the row it mirrors.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS captures (
	id                TEXT PRIMARY KEY,
	type              TEXT NOT NULL,
	content           TEXT NOT NULL,
	audio_url         TEXT NOT NULL DEFAULT '',
	transcript        TEXT NOT NULL DEFAULT '',
	duration_seconds  REAL NOT NULL DEFAULT 0,
	status            TEXT NOT NULL DEFAULT 'raw',
	metadata          TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS captures_fts USING fts5(
	content, transcript, content='captures', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS captures_ai AFTER INSERT ON captures BEGIN
	INSERT INTO captures_fts(rowid, content, transcript)
	VALUES (new.rowid, new.content, new.transcript);
END;

CREATE TRIGGER IF NOT EXISTS captures_ad AFTER DELETE ON captures BEGIN
	INSERT INTO captures_fts(captures_fts, rowid, content, transcript)
	VALUES ('delete', old.rowid, old.content, old.transcript);
END;

CREATE TRIGGER IF NOT EXISTS captures_au AFTER UPDATE ON captures BEGIN
	INSERT INTO captures_fts(captures_fts, rowid, content, transcript)
	VALUES ('delete', old.rowid, old.content, old.transcript);
	INSERT INTO captures_fts(rowid, content, transcript)
	VALUES (new.rowid, new.content, new.transcript);
END;

CREATE TABLE IF NOT EXISTS queue (
	id          TEXT PRIMARY KEY,
	memory_id   TEXT NOT NULL REFERENCES captures(id),
	status      TEXT NOT NULL DEFAULT 'pending',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status, created_at);
CREATE INDEX IF NOT EXISTS idx_captures_status ON captures(status);
`

// NewStore opens (or creates) the SQLite database at path and applies the
// schema. Use ":memory:" for an ephemeral store.
func NewStore(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.NewStorageFailed("open capture store", err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.NewStorageFailed("apply capture schema", err)
	}

	return &Store{db: db, logger: logger.Named("capture.store")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create stores a new memory in the raw state.
func (s *Store) Create(ctx context.Context, input CreateInput) (*Memory, error) {
	if !ValidType(input.Type) {
		return nil, apperrors.NewValidation("type", "unknown capture type: "+string(input.Type))
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, apperrors.NewValidation("content", "must not be empty")
	}

	now := time.Now().UTC()
	mem := &Memory{
		ID:        uuid.NewString(),
		Type:      input.Type,
		Content:   input.Content,
		AudioURL:  input.AudioURL,
		Status:    StatusRaw,
		Metadata:  input.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (id, type, content, audio_url, transcript, duration_seconds, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, '', 0, ?, ?, ?, ?)`,
		mem.ID, string(mem.Type), mem.Content, mem.AudioURL, string(mem.Status),
		encodeMetadata(mem.Metadata), formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, apperrors.NewStorageFailed("create memory", err)
	}

	s.logger.Debug("memory captured", zap.String("memory_id", mem.ID), zap.String("type", string(mem.Type)))
	return mem, nil
}

// Get returns a memory by id.
func (s *Store) Get(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, type, content, audio_url, transcript, duration_seconds, status, metadata, created_at, updated_at
		FROM captures WHERE id = ?`, id)
	mem, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewCaptureNotFound(id)
	}
	if err != nil {
		return nil, apperrors.NewStorageFailed("get memory", err)
	}
	return mem, nil
}

// Recent returns the newest memories first, optionally filtered by status.
func (s *Store) Recent(ctx context.Context, status Status, limit int) ([]*Memory, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, content, audio_url, transcript, duration_seconds, status, metadata, created_at, updated_at
		FROM captures
		WHERE ? = '' OR status = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, string(status), string(status), limit)
	if err != nil {
		return nil, apperrors.NewStorageFailed("list memories", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Timeline returns memories captured inside [from, to], oldest first.
func (s *Store) Timeline(ctx context.Context, from, to time.Time) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, content, audio_url, transcript, duration_seconds, status, metadata, created_at, updated_at
		FROM captures
		WHERE created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, rowid ASC`,
		formatTime(from.UTC()), formatTime(to.UTC()))
	if err != nil {
		return nil, apperrors.NewStorageFailed("memory timeline", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// Search runs a full-text query over content and transcript.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Memory, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return []*Memory{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.content, c.audio_url, c.transcript, c.duration_seconds, c.status, c.metadata, c.created_at, c.updated_at
		FROM captures_fts f
		JOIN captures c ON c.rowid = f.rowid
		WHERE captures_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery(q), limit)
	if err != nil {
		return nil, apperrors.NewStorageFailed("search memories", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// UpdateStatus moves a memory along its lifecycle, enforcing legal
// transitions. Metadata entries in extra are merged into the stored metadata.
func (s *Store) UpdateStatus(ctx context.Context, id string, to Status, extra map[string]interface{}) (*Memory, error) {
	if !ValidStatus(to) {
		return nil, apperrors.NewValidation("status", "unknown status: "+string(to))
	}
	mem, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !legalTransition(mem.Status, to) {
		return nil, apperrors.NewIllegalTransition(string(mem.Status), string(to))
	}

	if len(extra) > 0 {
		if mem.Metadata == nil {
			mem.Metadata = make(map[string]interface{}, len(extra))
		}
		for k, v := range extra {
			mem.Metadata[k] = v
		}
	}
	mem.Status = to
	mem.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE captures SET status = ?, metadata = ?, updated_at = ? WHERE id = ?`,
		string(mem.Status), encodeMetadata(mem.Metadata), formatTime(mem.UpdatedAt), id)
	if err != nil {
		return nil, apperrors.NewStorageFailed("update memory status", err)
	}

	s.logger.Debug("memory status updated",
		zap.String("memory_id", id), zap.String("status", string(to)))
	return mem, nil
}

// SetTranscript records the transcript and duration of a voice memory.
func (s *Store) SetTranscript(ctx context.Context, id, transcript string, durationSeconds float64) (*Memory, error) {
	mem, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	mem.Transcript = transcript
	mem.DurationSeconds = durationSeconds
	mem.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE captures SET transcript = ?, duration_seconds = ?, updated_at = ? WHERE id = ?`,
		transcript, durationSeconds, formatTime(mem.UpdatedAt), id)
	if err != nil {
		return nil, apperrors.NewStorageFailed("set transcript", err)
	}
	return mem, nil
}

// GetTicket returns a queue ticket by id.
func (s *Store) GetTicket(ctx context.Context, ticketID string) (*QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, memory_id, status, attempts, last_error, created_at, updated_at
		FROM queue WHERE id = ?`, ticketID)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewCaptureNotFound(ticketID)
	}
	if err != nil {
		return nil, apperrors.NewStorageFailed("get queue ticket", err)
	}
	return item, nil
}

// Stats summarizes stored memories and the pending queue depth.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus: make(map[Status]int),
		ByType:   make(map[Type]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, type, count(*) FROM captures GROUP BY status, type`)
	if err != nil {
		return nil, apperrors.NewStorageFailed("capture stats", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, typ string
		var count int
		if err := rows.Scan(&status, &typ, &count); err != nil {
			return nil, apperrors.NewStorageFailed("capture stats", err)
		}
		stats.ByStatus[Status(status)] += count
		stats.ByType[Type(typ)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageFailed("capture stats", err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT count(*) FROM queue WHERE status = 'pending'`)
	if err := row.Scan(&stats.Pending); err != nil {
		return nil, apperrors.NewStorageFailed("capture stats", err)
	}
	return stats, nil
}

// Queue operations

// Enqueue creates a fresh pending ticket for the memory. Enqueueing the same
// memory twice yields two tickets.
func (s *Store) Enqueue(ctx context.Context, memoryID string) (*QueueItem, error) {
	if _, err := s.Get(ctx, memoryID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	item := &QueueItem{
		ID:        uuid.NewString(),
		MemoryID:  memoryID,
		Status:    QueuePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (id, memory_id, status, attempts, last_error, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, '', ?, ?)`,
		item.ID, memoryID, formatTime(now), formatTime(now))
	if err != nil {
		return nil, apperrors.NewStorageFailed("enqueue memory", err)
	}

	s.logger.Debug("memory enqueued", zap.String("memory_id", memoryID), zap.String("ticket_id", item.ID))
	return item, nil
}

// PullPending returns up to limit pending tickets, oldest first.
func (s *Store) PullPending(ctx context.Context, limit int) ([]*QueueItem, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, memory_id, status, attempts, last_error, created_at, updated_at
		FROM queue
		WHERE status = 'pending'
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.NewStorageFailed("pull pending", err)
	}
	defer rows.Close()

	out := []*QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, apperrors.NewStorageFailed("pull pending", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkProcessing flags a ticket as picked up.
func (s *Store) MarkProcessing(ctx context.Context, ticketID string) error {
	return s.setTicket(ctx, ticketID, QueueProcessing, "", false)
}

// MarkCompleted finishes a ticket. Attempts count transitions out of
// processing, so completion bumps it too.
func (s *Store) MarkCompleted(ctx context.Context, ticketID string) error {
	return s.setTicket(ctx, ticketID, QueueCompleted, "", true)
}

// MarkFailed records a failure and increments the attempt count. Failed
// tickets stay failed; retries require a fresh Enqueue.
func (s *Store) MarkFailed(ctx context.Context, ticketID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.setTicket(ctx, ticketID, QueueFailed, msg, true)
}

func (s *Store) setTicket(ctx context.Context, ticketID string, status QueueStatus, lastError string, bumpAttempts bool) error {
	bump := 0
	if bumpAttempts {
		bump = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue SET status = ?, last_error = ?, attempts = attempts + ?, updated_at = ?
		WHERE id = ?`,
		string(status), lastError, bump, formatTime(time.Now().UTC()), ticketID)
	if err != nil {
		return apperrors.NewStorageFailed("update queue ticket", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewStorageFailed("update queue ticket", err)
	}
	if affected == 0 {
		return apperrors.NewCaptureNotFound(ticketID)
	}
	return nil
}

// Row scanning helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*Memory, error) {
	var mem Memory
	var typ, status, metadata, createdAt, updatedAt string
	if err := row.Scan(&mem.ID, &typ, &mem.Content, &mem.AudioURL, &mem.Transcript, &mem.DurationSeconds, &status, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	mem.Type = Type(typ)
	mem.Status = Status(status)
	mem.Metadata = decodeMetadata(metadata)
	mem.CreatedAt = parseTime(createdAt)
	mem.UpdatedAt = parseTime(updatedAt)
	return &mem, nil
}

func scanMemories(rows *sql.Rows) ([]*Memory, error) {
	out := []*Memory{}
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, apperrors.NewStorageFailed("scan memory", err)
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var status, createdAt, updatedAt string
	if err := row.Scan(&item.ID, &item.MemoryID, &status, &item.Attempts, &item.LastError, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	item.Status = QueueStatus(status)
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	return &item, nil
}

func encodeMetadata(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func decodeMetadata(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ftsQuery quotes each term so user input cannot inject FTS5 query syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
