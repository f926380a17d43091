package memory

import (
	"context"
	"time"
)

// Store is the persistence contract for the memory engine. All methods are
// safe for concurrent use; writes within one method are atomic.
type Store interface {
	// Transcript.
	AppendTurn(ctx context.Context, turn ConversationTurn) (ConversationTurn, error)
	ListTurns(ctx context.Context, q TurnQuery) ([]ConversationTurn, error)
	CountTurnsAfter(ctx context.Context, userID string, after time.Time) (int, error)

	// Diary.
	AddDiaryEntry(ctx context.Context, entry DiaryEntry) (DiaryEntry, error)
	ListDiaryEntries(ctx context.Context, q EntryQuery) ([]DiaryEntry, error)

	// Profile facts.
	UpsertProfileFact(ctx context.Context, fact ProfileFact) (ProfileFact, error)
	ListProfileFacts(ctx context.Context, userID string, limit int) ([]ProfileFact, error)

	// Follow-ups.
	AddFollowUp(ctx context.Context, f ScheduledFollowUp) (ScheduledFollowUp, error)
	DueFollowUps(ctx context.Context, now time.Time, limit int) ([]ScheduledFollowUp, error)
	// MarkFollowUpExecuted claims the follow-up for execution. It succeeds
	// for exactly one caller; later callers get ErrAlreadyExecuted.
	MarkFollowUpExecuted(ctx context.Context, id string, at time.Time) error
	ListFollowUps(ctx context.Context, userID string, includeExecuted bool, limit int) ([]ScheduledFollowUp, error)

	// Compaction.
	GetCompactionCursor(ctx context.Context, userID string) (CompactionCursor, error)
	// SaveCompactSummary persists the summary and advances the user's
	// compaction cursor to entry.ExchangeEnd in one transaction. It returns
	// ErrRangeOverlap, leaving the cursor untouched, if the entry's range
	// intersects an existing compact summary for the user.
	SaveCompactSummary(ctx context.Context, entry DiaryEntry) (DiaryEntry, error)

	Close() error
}

// Retriever indexes memory text and answers semantic recall queries.
// Implementations must treat failures as non-fatal to the conversation path.
type Retriever interface {
	Index(ctx context.Context, userID, text string, metadata map[string]string) error
	Search(ctx context.Context, userID, query string, limit int) ([]SearchResult, error)
}

// SearchResult is one retrieval hit.
type SearchResult struct {
	Text     string
	Score    float64
	Metadata map[string]string
}
