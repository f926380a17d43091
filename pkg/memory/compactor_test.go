package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func listSummaries(t *testing.T, store *SQLiteStore, userID string) []DiaryEntry {
	t.Helper()
	out, err := store.ListDiaryEntries(context.Background(), EntryQuery{
		UserID:  userID,
		Types:   []EntryType{EntryCompactSummary},
		OrderBy: ByExchangeEnd,
		Order:   Ascending,
		Limit:   50,
	})
	if err != nil {
		t.Fatalf("list summaries: %v", err)
	}
	return out
}

func TestCompactor_BelowThresholdNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTurns(t, store, "u1", 9)

	called := false
	c := NewCompactor(store, func(context.Context, string) (string, error) {
		called = true
		return "summary", nil
	}, 10, 20, zerolog.Nop())

	triggered, err := c.MaybeCompact(ctx, "u1")
	if err != nil {
		t.Fatalf("maybe compact: %v", err)
	}
	if triggered || called {
		t.Fatalf("compaction fired below threshold (triggered=%v called=%v)", triggered, called)
	}
	if len(listSummaries(t, store, "u1")) != 0 {
		t.Fatal("unexpected summary written")
	}
}

func TestCompactor_SuccessiveRangesNonOverlapping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var transcripts []string
	c := NewCompactor(store, func(_ context.Context, transcript string) (string, error) {
		transcripts = append(transcripts, transcript)
		return "what we talked about", nil
	}, 10, 20, zerolog.Nop())

	seedTurns(t, store, "u1", 10)
	triggered, err := c.MaybeCompact(ctx, "u1")
	if err != nil {
		t.Fatalf("first compaction: %v", err)
	}
	if !triggered {
		t.Fatal("first compaction did not trigger")
	}

	summaries := listSummaries(t, store, "u1")
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if !summaries[0].ExchangeStart.Equal(at(1)) || !summaries[0].ExchangeEnd.Equal(at(10)) {
		t.Fatalf("first range wrong: [%v, %v]", summaries[0].ExchangeStart, summaries[0].ExchangeEnd)
	}

	// Immediately after compacting, nothing is pending.
	triggered, err = c.MaybeCompact(ctx, "u1")
	if err != nil {
		t.Fatalf("idle compaction: %v", err)
	}
	if triggered {
		t.Fatal("compaction retriggered with no new turns")
	}

	for i := 11; i <= 20; i++ {
		if _, err := store.AppendTurn(ctx, ConversationTurn{
			UserID: "u1", Role: RoleUser, Content: "turn", CreatedAt: at(i),
		}); err != nil {
			t.Fatalf("append turn %d: %v", i, err)
		}
	}
	if _, err := c.MaybeCompact(ctx, "u1"); err != nil {
		t.Fatalf("second compaction: %v", err)
	}

	summaries = listSummaries(t, store, "u1")
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if !summaries[1].ExchangeStart.Equal(at(11)) || !summaries[1].ExchangeEnd.Equal(at(20)) {
		t.Fatalf("second range wrong: [%v, %v]", summaries[1].ExchangeStart, summaries[1].ExchangeEnd)
	}
	if !summaries[1].ExchangeStart.After(summaries[0].ExchangeEnd) {
		t.Fatal("ranges overlap")
	}
	if len(transcripts) != 2 {
		t.Fatalf("expected 2 generation calls, got %d", len(transcripts))
	}
}

func TestCompactor_GenerationFailureAbandons(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedTurns(t, store, "u1", 10)

	fail := true
	c := NewCompactor(store, func(context.Context, string) (string, error) {
		if fail {
			return "", errors.New("model unavailable")
		}
		return "recovered summary", nil
	}, 10, 20, zerolog.Nop())

	triggered, err := c.MaybeCompact(ctx, "u1")
	if err != nil {
		t.Fatalf("failed attempt must not error: %v", err)
	}
	if !triggered {
		t.Fatal("expected trigger")
	}
	if len(listSummaries(t, store, "u1")) != 0 {
		t.Fatal("summary written despite generation failure")
	}
	cursor, err := store.GetCompactionCursor(ctx, "u1")
	if err != nil {
		t.Fatalf("get cursor: %v", err)
	}
	if !cursor.LastExchangeEnd.IsZero() {
		t.Fatalf("cursor advanced despite failure: %#v", cursor)
	}

	// The next trigger retries the same span.
	fail = false
	if _, err := c.MaybeCompact(ctx, "u1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	summaries := listSummaries(t, store, "u1")
	if len(summaries) != 1 || summaries[0].Content != "recovered summary" {
		t.Fatalf("retry did not persist: %#v", summaries)
	}
	if !summaries[0].ExchangeStart.Equal(at(1)) || !summaries[0].ExchangeEnd.Equal(at(10)) {
		t.Fatalf("retry range wrong: [%v, %v]", summaries[0].ExchangeStart, summaries[0].ExchangeEnd)
	}
}

func TestCompactor_WindowLimitsRange(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	// 30 uncompacted turns but a 20-turn window: the summary covers only
	// the turns the window saw.
	seedTurns(t, store, "u1", 30)

	c := NewCompactor(store, func(context.Context, string) (string, error) {
		return "summary", nil
	}, 10, 20, zerolog.Nop())

	if _, err := c.MaybeCompact(ctx, "u1"); err != nil {
		t.Fatalf("compact: %v", err)
	}
	summaries := listSummaries(t, store, "u1")
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if !summaries[0].ExchangeStart.Equal(at(11)) || !summaries[0].ExchangeEnd.Equal(at(30)) {
		t.Fatalf("window range wrong: [%v, %v]", summaries[0].ExchangeStart, summaries[0].ExchangeEnd)
	}
}

func TestBuildTranscript(t *testing.T) {
	turns := []ConversationTurn{
		{Role: RoleUser, Content: "hi", CreatedAt: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)},
		{Role: RoleAgent, Content: "hello", CreatedAt: time.Date(2026, 3, 10, 9, 31, 0, 0, time.UTC)},
	}
	got := buildTranscript(turns)
	want := "[2026-03-10 09:30] Them: hi\n[2026-03-10 09:31] You: hello\n"
	if got != want {
		t.Fatalf("transcript mismatch:\n%q\n%q", got, want)
	}
}
