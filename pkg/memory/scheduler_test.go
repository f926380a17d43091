package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func addFollowUp(t *testing.T, store *SQLiteStore, userID string, due time.Time, topic string) ScheduledFollowUp {
	t.Helper()
	f, err := store.AddFollowUp(context.Background(), ScheduledFollowUp{
		UserID:    userID,
		DueAt:     due,
		Topic:     topic,
		Context:   "context for " + topic,
		CreatedAt: due.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("add follow-up: %v", err)
	}
	return f
}

func TestScheduler_RejectsBadCron(t *testing.T) {
	store := newTestStore(t)
	_, err := NewScheduler(store, newTestAssembler(store), nil, nil, SchedulerConfig{
		CronExpr: "not a cron",
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected invalid cron expression to be rejected")
	}
}

func TestScheduler_TickExecutesDueOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	addFollowUp(t, store, "u1", now.Add(-time.Minute), "checkup")
	addFollowUp(t, store, "u1", now.Add(time.Hour), "later")

	var delivered []string
	gen := func(ctx context.Context, f ScheduledFollowUp, _ AssembledContext) (string, error) {
		return "thinking of you about " + f.Topic, nil
	}
	deliver := func(ctx context.Context, userID, text string) error {
		delivered = append(delivered, userID+": "+text)
		return nil
	}

	s, err := NewScheduler(store, newTestAssembler(store), gen, deliver, SchedulerConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if got := s.Tick(ctx, now); got != 1 {
		t.Fatalf("expected 1 executed, got %d", got)
	}
	if len(delivered) != 1 || delivered[0] != "u1: thinking of you about checkup" {
		t.Fatalf("unexpected deliveries: %v", delivered)
	}

	// Already-executed items do not fire again.
	if got := s.Tick(ctx, now); got != 0 {
		t.Fatalf("expected 0 on second tick, got %d", got)
	}
	if len(delivered) != 1 {
		t.Fatalf("duplicate delivery: %v", delivered)
	}
}

func TestScheduler_GenerationFailureLeavesUnclaimed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	addFollowUp(t, store, "u1", now.Add(-time.Minute), "checkup")

	fail := true
	gen := func(ctx context.Context, f ScheduledFollowUp, _ AssembledContext) (string, error) {
		if fail {
			return "", errors.New("model unavailable")
		}
		return "hello again", nil
	}
	var delivered atomic.Int32
	deliver := func(ctx context.Context, userID, text string) error {
		delivered.Add(1)
		return nil
	}

	s, err := NewScheduler(store, newTestAssembler(store), gen, deliver, SchedulerConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if got := s.Tick(ctx, now); got != 0 {
		t.Fatalf("failed generation must not execute, got %d", got)
	}
	if delivered.Load() != 0 {
		t.Fatal("nothing should be delivered on generation failure")
	}

	fail = false
	if got := s.Tick(ctx, now); got != 1 {
		t.Fatalf("retry should execute, got %d", got)
	}
	if delivered.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered.Load())
	}
}

func TestScheduler_ConcurrentTicksDeliverOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	addFollowUp(t, store, "u1", now.Add(-time.Minute), "checkup")

	gen := func(ctx context.Context, f ScheduledFollowUp, _ AssembledContext) (string, error) {
		return "hello", nil
	}
	var delivered atomic.Int32
	deliver := func(ctx context.Context, userID, text string) error {
		delivered.Add(1)
		return nil
	}

	s, err := NewScheduler(store, newTestAssembler(store), gen, deliver, SchedulerConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	var wg sync.WaitGroup
	total := atomic.Int32{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total.Add(int32(s.Tick(ctx, now)))
		}()
	}
	wg.Wait()

	if total.Load() != 1 {
		t.Fatalf("expected exactly 1 execution across ticks, got %d", total.Load())
	}
	if delivered.Load() != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", delivered.Load())
	}
}

func TestScheduler_ConcurrentTicksPersistOneProactiveTurn(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	svc := newTestService(t, store, func(ctx context.Context, prompt string) (string, error) {
		return "Hey, how did the interview go?", nil
	}, nil)

	addFollowUp(t, store, "u1", now.Add(-time.Minute), "interview")

	var delivered atomic.Int32
	deliver := func(ctx context.Context, userID, text string) error {
		delivered.Add(1)
		return nil
	}

	s, err := NewScheduler(store, svc.Assembler(), svc.ProactiveMessage, deliver, SchedulerConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx, now)
		}()
	}
	wg.Wait()

	if delivered.Load() != 1 {
		t.Fatalf("expected exactly 1 delivery, got %d", delivered.Load())
	}

	// The losers' generated messages never touch the transcript.
	turns, err := store.ListTurns(ctx, TurnQuery{UserID: "u1", Order: Ascending, Limit: 10})
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected exactly 1 proactive turn on the transcript, got %d: %#v", len(turns), turns)
	}
	if turns[0].Role != RoleAgent || turns[0].Content != "Hey, how did the interview go?" {
		t.Fatalf("unexpected proactive turn: %#v", turns[0])
	}
}

func TestScheduler_BatchLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := testBase

	for i := 0; i < 5; i++ {
		addFollowUp(t, store, "u1", now.Add(-time.Minute), fmt.Sprintf("topic %d", i))
	}

	gen := func(ctx context.Context, f ScheduledFollowUp, _ AssembledContext) (string, error) {
		return "hi", nil
	}
	s, err := NewScheduler(store, newTestAssembler(store), gen, nil, SchedulerConfig{Batch: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if got := s.Tick(ctx, now); got != 2 {
		t.Fatalf("expected batch of 2, got %d", got)
	}
	if got := s.Tick(ctx, now); got != 2 {
		t.Fatalf("expected next batch of 2, got %d", got)
	}
	if got := s.Tick(ctx, now); got != 1 {
		t.Fatalf("expected final 1, got %d", got)
	}
}

func TestScheduler_RunStops(t *testing.T) {
	store := newTestStore(t)
	s, err := NewScheduler(store, newTestAssembler(store), nil, nil, SchedulerConfig{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	s.Run(context.Background(), 10*time.Millisecond)
	s.Stop()
}
