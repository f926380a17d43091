package memory

import "time"

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// EntryType classifies diary entries. Compact summaries are the product of
// compaction and carry an exchange range; the other types are standalone.
type EntryType string

const (
	EntryCompactSummary EntryType = "compact_summary"
	EntryMilestone      EntryType = "milestone"
	EntryObservation    EntryType = "observation"
	EntryReflection     EntryType = "reflection"
)

// standaloneEntryTypes are the diary entry types that are not produced by
// compaction and therefore carry no exchange range.
var standaloneEntryTypes = []EntryType{EntryMilestone, EntryObservation, EntryReflection}

// ConversationTurn is one message in the append-only per-user transcript.
type ConversationTurn struct {
	ID        int64
	UserID    string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// DiaryEntry is a durable first-person memory record. ExchangeStart and
// ExchangeEnd are zero unless EntryType is EntryCompactSummary, in which case
// they delimit the span of transcript time the entry summarizes (inclusive).
type DiaryEntry struct {
	ID            int64
	UserID        string
	EntryType     EntryType
	Content       string
	Importance    int
	CreatedAt     time.Time
	ExchangeStart time.Time
	ExchangeEnd   time.Time
}

// IsCompactSummary reports whether the entry came out of compaction.
func (e DiaryEntry) IsCompactSummary() bool { return e.EntryType == EntryCompactSummary }

// ProfileFact is a keyed observation about the user. Key is derived from the
// content so that re-observing the same fact updates in place rather than
// accumulating duplicates.
type ProfileFact struct {
	ID         int64
	UserID     string
	Category   string
	Key        string
	Value      string
	Confidence float64
	ObservedAt time.Time
}

// ScheduledFollowUp is a deferred intention to re-engage the user.
// ExecutedAt stays zero until exactly one scheduler tick claims the item.
type ScheduledFollowUp struct {
	ID         string
	UserID     string
	DueAt      time.Time
	Topic      string
	Context    string
	RawLine    string
	CreatedAt  time.Time
	ExecutedAt time.Time
}

// Executed reports whether the follow-up has already been claimed.
func (f ScheduledFollowUp) Executed() bool { return !f.ExecutedAt.IsZero() }

// CompactionCursor is the per-user high-water mark of compaction: the
// exchange_end of the newest compact summary persisted for that user.
type CompactionCursor struct {
	UserID          string
	LastExchangeEnd time.Time
	UpdatedAt       time.Time
}

// SortOrder controls list direction for store queries.
type SortOrder string

const (
	Ascending  SortOrder = "asc"
	Descending SortOrder = "desc"
)

// TurnQuery selects conversation turns for one user.
// After is an exclusive lower bound on CreatedAt; zero means unbounded.
type TurnQuery struct {
	UserID string
	After  time.Time
	Order  SortOrder
	Limit  int
}

// EntryOrderBy selects the sort column for diary entry queries.
type EntryOrderBy string

const (
	ByCreatedAt   EntryOrderBy = "created_at"
	ByExchangeEnd EntryOrderBy = "exchange_end"
)

// EntryQuery selects diary entries for one user. Types empty means all types.
// Before is an exclusive upper bound on CreatedAt; zero means unbounded.
type EntryQuery struct {
	UserID  string
	Types   []EntryType
	Before  time.Time
	OrderBy EntryOrderBy
	Order   SortOrder
	Limit   int
}
