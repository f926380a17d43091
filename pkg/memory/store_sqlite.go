package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical persistent memory storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process memory service. Use one shared connection to avoid
	// writer lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversation_turns_user_idx ON conversation_turns(user_id, created_at_ms, id);`,
		`CREATE TABLE IF NOT EXISTS diary_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			entry_type TEXT NOT NULL,
			content TEXT NOT NULL,
			importance INTEGER NOT NULL DEFAULT 5,
			created_at_ms INTEGER NOT NULL,
			exchange_start_ms INTEGER NOT NULL DEFAULT 0,
			exchange_end_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS diary_entries_user_idx ON diary_entries(user_id, entry_type, created_at_ms DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS diary_entries_exchange_idx ON diary_entries(user_id, entry_type, exchange_end_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS profile_facts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			category TEXT NOT NULL,
			fact_key TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			observed_at_ms INTEGER NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS profile_facts_unique ON profile_facts(user_id, category, fact_key);`,
		`CREATE INDEX IF NOT EXISTS profile_facts_user_idx ON profile_facts(user_id, observed_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS scheduled_followups (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			due_at_ms INTEGER NOT NULL,
			topic TEXT NOT NULL,
			context TEXT NOT NULL DEFAULT '',
			raw_line TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			executed_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS scheduled_followups_due_idx ON scheduled_followups(executed_at_ms, due_at_ms);`,
		`CREATE INDEX IF NOT EXISTS scheduled_followups_user_idx ON scheduled_followups(user_id, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS compaction_cursors (
			user_id TEXT PRIMARY KEY,
			last_exchange_end_ms INTEGER NOT NULL DEFAULT 0,
			updated_at_ms INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func timeToMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, turn ConversationTurn) (ConversationTurn, error) {
	if strings.TrimSpace(turn.UserID) == "" {
		return ConversationTurn{}, fmt.Errorf("append turn: empty user_id")
	}
	if turn.Role != RoleUser && turn.Role != RoleAgent {
		return ConversationTurn{}, fmt.Errorf("append turn: invalid role %q", turn.Role)
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO conversation_turns(user_id, role, content, created_at_ms)
VALUES(?, ?, ?, ?)`, turn.UserID, string(turn.Role), turn.Content, turn.CreatedAt.UnixMilli())
	if err != nil {
		return ConversationTurn{}, fmt.Errorf("append turn insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return ConversationTurn{}, fmt.Errorf("append turn id: %w", err)
	}
	turn.ID = id
	return turn, nil
}

func (s *SQLiteStore) ListTurns(ctx context.Context, q TurnQuery) ([]ConversationTurn, error) {
	if q.Limit <= 0 {
		q.Limit = 1
	}
	dir := "ASC"
	if q.Order == Descending {
		dir = "DESC"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, user_id, role, content, created_at_ms
FROM conversation_turns
WHERE user_id = ?
AND created_at_ms > ?
ORDER BY created_at_ms %s, id %s
LIMIT ?`, dir, dir), q.UserID, timeToMS(q.After), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	out := make([]ConversationTurn, 0, q.Limit)
	for rows.Next() {
		var t ConversationTurn
		var role string
		var createdMS int64
		if err := rows.Scan(&t.ID, &t.UserID, &role, &t.Content, &createdMS); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		t.CreatedAt = msToTime(createdMS)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) CountTurnsAfter(ctx context.Context, userID string, after time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM conversation_turns
WHERE user_id = ? AND created_at_ms > ?`, userID, timeToMS(after))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count turns after: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) AddDiaryEntry(ctx context.Context, entry DiaryEntry) (DiaryEntry, error) {
	if strings.TrimSpace(entry.UserID) == "" {
		return DiaryEntry{}, fmt.Errorf("add diary entry: empty user_id")
	}
	if entry.EntryType == EntryCompactSummary {
		return DiaryEntry{}, fmt.Errorf("add diary entry: compact summaries go through SaveCompactSummary")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Importance == 0 {
		entry.Importance = 5
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO diary_entries(user_id, entry_type, content, importance, created_at_ms, exchange_start_ms, exchange_end_ms)
VALUES(?, ?, ?, ?, ?, 0, 0)`,
		entry.UserID, string(entry.EntryType), entry.Content, entry.Importance, entry.CreatedAt.UnixMilli())
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("add diary entry insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("add diary entry id: %w", err)
	}
	entry.ID = id
	return entry, nil
}

func (s *SQLiteStore) ListDiaryEntries(ctx context.Context, q EntryQuery) ([]DiaryEntry, error) {
	if q.Limit <= 0 {
		q.Limit = 10
	}
	col := "created_at_ms"
	if q.OrderBy == ByExchangeEnd {
		col = "exchange_end_ms"
	}
	dir := "ASC"
	if q.Order == Descending {
		dir = "DESC"
	}

	where := "user_id = ?"
	args := []interface{}{q.UserID}
	if len(q.Types) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(q.Types)), ",")
		where += " AND entry_type IN (" + placeholders + ")"
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if !q.Before.IsZero() {
		where += " AND created_at_ms < ?"
		args = append(args, q.Before.UnixMilli())
	}
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, user_id, entry_type, content, importance, created_at_ms, exchange_start_ms, exchange_end_ms
FROM diary_entries
WHERE %s
ORDER BY %s %s, id %s
LIMIT ?`, where, col, dir, dir), args...)
	if err != nil {
		return nil, fmt.Errorf("list diary entries: %w", err)
	}
	defer rows.Close()

	out := make([]DiaryEntry, 0, q.Limit)
	for rows.Next() {
		e, err := scanDiaryEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diary entries: %w", err)
	}
	return out, nil
}

func scanDiaryEntry(rows *sql.Rows) (DiaryEntry, error) {
	var e DiaryEntry
	var entryType string
	var createdMS, startMS, endMS int64
	if err := rows.Scan(&e.ID, &e.UserID, &entryType, &e.Content, &e.Importance, &createdMS, &startMS, &endMS); err != nil {
		return DiaryEntry{}, fmt.Errorf("scan diary entry: %w", err)
	}
	e.EntryType = EntryType(entryType)
	e.CreatedAt = msToTime(createdMS)
	e.ExchangeStart = msToTime(startMS)
	e.ExchangeEnd = msToTime(endMS)
	return e, nil
}

func (s *SQLiteStore) UpsertProfileFact(ctx context.Context, fact ProfileFact) (ProfileFact, error) {
	if strings.TrimSpace(fact.UserID) == "" {
		return ProfileFact{}, fmt.Errorf("upsert profile fact: empty user_id")
	}
	if fact.Key == "" {
		fact.Key = contentKey(fact.Value)
	}
	if fact.ObservedAt.IsZero() {
		fact.ObservedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO profile_facts(user_id, category, fact_key, value, confidence, observed_at_ms)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id, category, fact_key) DO UPDATE SET
	value = excluded.value,
	confidence = CASE WHEN excluded.confidence > profile_facts.confidence THEN excluded.confidence ELSE profile_facts.confidence END,
	observed_at_ms = excluded.observed_at_ms`,
		fact.UserID, fact.Category, fact.Key, fact.Value, fact.Confidence, fact.ObservedAt.UnixMilli())
	if err != nil {
		return ProfileFact{}, fmt.Errorf("upsert profile fact: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
SELECT id, confidence FROM profile_facts
WHERE user_id = ? AND category = ? AND fact_key = ?`, fact.UserID, fact.Category, fact.Key)
	if err := row.Scan(&fact.ID, &fact.Confidence); err != nil {
		return ProfileFact{}, fmt.Errorf("read upserted profile fact: %w", err)
	}
	return fact, nil
}

func (s *SQLiteStore) ListProfileFacts(ctx context.Context, userID string, limit int) ([]ProfileFact, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, category, fact_key, value, confidence, observed_at_ms
FROM profile_facts
WHERE user_id = ?
ORDER BY observed_at_ms DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list profile facts: %w", err)
	}
	defer rows.Close()

	out := make([]ProfileFact, 0, limit)
	for rows.Next() {
		var f ProfileFact
		var observedMS int64
		if err := rows.Scan(&f.ID, &f.UserID, &f.Category, &f.Key, &f.Value, &f.Confidence, &observedMS); err != nil {
			return nil, fmt.Errorf("scan profile fact: %w", err)
		}
		f.ObservedAt = msToTime(observedMS)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profile facts: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) AddFollowUp(ctx context.Context, f ScheduledFollowUp) (ScheduledFollowUp, error) {
	if strings.TrimSpace(f.UserID) == "" {
		return ScheduledFollowUp{}, fmt.Errorf("add follow-up: empty user_id")
	}
	if f.DueAt.IsZero() {
		return ScheduledFollowUp{}, fmt.Errorf("add follow-up: zero due time")
	}
	if f.ID == "" {
		f.ID = "fup-" + uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO scheduled_followups(id, user_id, due_at_ms, topic, context, raw_line, created_at_ms, executed_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, 0)`,
		f.ID, f.UserID, f.DueAt.UnixMilli(), f.Topic, f.Context, f.RawLine, f.CreatedAt.UnixMilli())
	if err != nil {
		return ScheduledFollowUp{}, fmt.Errorf("add follow-up: %w", err)
	}
	return f, nil
}

func (s *SQLiteStore) DueFollowUps(ctx context.Context, now time.Time, limit int) ([]ScheduledFollowUp, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, due_at_ms, topic, context, raw_line, created_at_ms, executed_at_ms
FROM scheduled_followups
WHERE executed_at_ms = 0 AND due_at_ms <= ?
ORDER BY due_at_ms ASC
LIMIT ?`, now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("due follow-ups: %w", err)
	}
	defer rows.Close()

	return scanFollowUps(rows)
}

func (s *SQLiteStore) ListFollowUps(ctx context.Context, userID string, includeExecuted bool, limit int) ([]ScheduledFollowUp, error) {
	if limit <= 0 {
		limit = 20
	}
	executedFilter := 0
	if includeExecuted {
		executedFilter = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, due_at_ms, topic, context, raw_line, created_at_ms, executed_at_ms
FROM scheduled_followups
WHERE user_id = ?
AND (? = 1 OR executed_at_ms = 0)
ORDER BY due_at_ms ASC
LIMIT ?`, userID, executedFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	defer rows.Close()

	return scanFollowUps(rows)
}

func scanFollowUps(rows *sql.Rows) ([]ScheduledFollowUp, error) {
	out := []ScheduledFollowUp{}
	for rows.Next() {
		var f ScheduledFollowUp
		var dueMS, createdMS, executedMS int64
		if err := rows.Scan(&f.ID, &f.UserID, &dueMS, &f.Topic, &f.Context, &f.RawLine, &createdMS, &executedMS); err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		f.DueAt = msToTime(dueMS)
		f.CreatedAt = msToTime(createdMS)
		f.ExecutedAt = msToTime(executedMS)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate follow-ups: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) MarkFollowUpExecuted(ctx context.Context, id string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE scheduled_followups
SET executed_at_ms = ?
WHERE id = ? AND executed_at_ms = 0`, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark follow-up executed: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		row := s.db.QueryRowContext(ctx, `SELECT 1 FROM scheduled_followups WHERE id = ?`, id)
		var one int
		if err := row.Scan(&one); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("mark follow-up executed check: %w", err)
		}
		return ErrAlreadyExecuted
	}
	return nil
}

func (s *SQLiteStore) GetCompactionCursor(ctx context.Context, userID string) (CompactionCursor, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT user_id, last_exchange_end_ms, updated_at_ms
FROM compaction_cursors
WHERE user_id = ?`, userID)
	var cur CompactionCursor
	var endMS, updatedMS int64
	if err := row.Scan(&cur.UserID, &endMS, &updatedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CompactionCursor{UserID: userID}, nil
		}
		return CompactionCursor{}, fmt.Errorf("get compaction cursor: %w", err)
	}
	cur.LastExchangeEnd = msToTime(endMS)
	cur.UpdatedAt = msToTime(updatedMS)
	return cur, nil
}

func (s *SQLiteStore) SaveCompactSummary(ctx context.Context, entry DiaryEntry) (DiaryEntry, error) {
	if strings.TrimSpace(entry.UserID) == "" {
		return DiaryEntry{}, fmt.Errorf("save compact summary: empty user_id")
	}
	if entry.ExchangeStart.IsZero() || entry.ExchangeEnd.IsZero() {
		return DiaryEntry{}, fmt.Errorf("save compact summary: zero exchange range")
	}
	if entry.ExchangeEnd.Before(entry.ExchangeStart) {
		return DiaryEntry{}, fmt.Errorf("save compact summary: exchange_end before exchange_start")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Importance == 0 {
		entry.Importance = 5
	}
	entry.EntryType = EntryCompactSummary

	startMS := entry.ExchangeStart.UnixMilli()
	endMS := entry.ExchangeEnd.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("save compact summary begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM diary_entries
WHERE user_id = ? AND entry_type = ?
AND exchange_start_ms <= ? AND exchange_end_ms >= ?`,
		entry.UserID, string(EntryCompactSummary), endMS, startMS)
	var overlapping int
	if err := row.Scan(&overlapping); err != nil {
		return DiaryEntry{}, fmt.Errorf("save compact summary overlap check: %w", err)
	}
	if overlapping > 0 {
		return DiaryEntry{}, ErrRangeOverlap
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO diary_entries(user_id, entry_type, content, importance, created_at_ms, exchange_start_ms, exchange_end_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID, string(EntryCompactSummary), entry.Content, entry.Importance,
		entry.CreatedAt.UnixMilli(), startMS, endMS)
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("save compact summary insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("save compact summary id: %w", err)
	}

	now := nowMS()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO compaction_cursors(user_id, last_exchange_end_ms, updated_at_ms)
VALUES(?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	last_exchange_end_ms = CASE WHEN excluded.last_exchange_end_ms > compaction_cursors.last_exchange_end_ms THEN excluded.last_exchange_end_ms ELSE compaction_cursors.last_exchange_end_ms END,
	updated_at_ms = excluded.updated_at_ms`,
		entry.UserID, endMS, now); err != nil {
		return DiaryEntry{}, fmt.Errorf("save compact summary advance cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return DiaryEntry{}, fmt.Errorf("save compact summary commit: %w", err)
	}
	entry.ID = id
	return entry, nil
}
