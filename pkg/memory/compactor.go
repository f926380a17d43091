package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// SummaryFunc produces a first-person compact summary of a transcript.
// Implementations typically call an LLM provider.
type SummaryFunc func(ctx context.Context, transcript string) (string, error)

// Compactor folds the growing transcript into compact diary summaries.
// A compaction is triggered once the number of turns newer than the user's
// cursor reaches Interval; the summary is generated from the last Window
// turns and covers everything past the cursor.
type Compactor struct {
	store     Store
	summarize SummaryFunc
	interval  int
	window    int
	log       zerolog.Logger
}

// NewCompactor wires a compactor. interval and window fall back to sane
// values when non-positive.
func NewCompactor(store Store, summarize SummaryFunc, interval, window int, log zerolog.Logger) *Compactor {
	if interval <= 0 {
		interval = 10
	}
	if window <= 0 {
		window = 20
	}
	return &Compactor{
		store:     store,
		summarize: summarize,
		interval:  interval,
		window:    window,
		log:       log.With().Str("component", "compactor").Logger(),
	}
}

// MaybeCompact runs one compaction for the user if the trigger condition
// holds, otherwise it is a no-op. Generation failures abandon the attempt
// without touching the cursor; the next trigger retries naturally.
func (c *Compactor) MaybeCompact(ctx context.Context, userID string) (bool, error) {
	cursor, err := c.store.GetCompactionCursor(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("compaction cursor: %w", err)
	}

	pending, err := c.store.CountTurnsAfter(ctx, userID, cursor.LastExchangeEnd)
	if err != nil {
		return false, fmt.Errorf("count pending turns: %w", err)
	}
	if pending < c.interval {
		return false, nil
	}

	return true, c.compact(ctx, userID, cursor)
}

func (c *Compactor) compact(ctx context.Context, userID string, cursor CompactionCursor) error {
	recent, err := c.store.ListTurns(ctx, TurnQuery{
		UserID: userID,
		Order:  Descending,
		Limit:  c.window,
	})
	if err != nil {
		return fmt.Errorf("load turn window: %w", err)
	}
	// Newest-first from the store; summaries read oldest-first.
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	// Only turns past the cursor define the new exchange range. The older
	// window turns still feed the transcript for continuity.
	var start, end time.Time
	for _, t := range recent {
		if !t.CreatedAt.After(cursor.LastExchangeEnd) {
			continue
		}
		if start.IsZero() {
			start = t.CreatedAt
		}
		end = t.CreatedAt
	}
	if start.IsZero() {
		return nil
	}

	summary, err := c.summarize(ctx, buildTranscript(recent))
	if err != nil {
		c.log.Warn().Err(err).Str("user_id", userID).Msg("summary generation failed, compaction abandoned")
		return nil
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		c.log.Warn().Str("user_id", userID).Msg("empty summary, compaction abandoned")
		return nil
	}

	entry := DiaryEntry{
		UserID:        userID,
		EntryType:     EntryCompactSummary,
		Content:       summary,
		Importance:    5,
		ExchangeStart: start,
		ExchangeEnd:   end,
	}
	saved, err := c.store.SaveCompactSummary(ctx, entry)
	if err != nil {
		if errors.Is(err, ErrRangeOverlap) {
			// Another compaction of the same span won the race.
			c.log.Debug().Str("user_id", userID).Msg("compact summary range already covered")
			return nil
		}
		return fmt.Errorf("save compact summary: %w", err)
	}

	c.log.Info().
		Str("user_id", userID).
		Int64("entry_id", saved.ID).
		Time("exchange_start", start).
		Time("exchange_end", end).
		Msg("compacted conversation span")
	return nil
}

func buildTranscript(turns []ConversationTurn) string {
	var b strings.Builder
	for _, t := range turns {
		speaker := "Them"
		if t.Role == RoleAgent {
			speaker = "You"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.CreatedAt.Format("2006-01-02 15:04"), speaker, t.Content)
	}
	return b.String()
}
