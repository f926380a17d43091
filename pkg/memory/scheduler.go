package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog"
)

// ProactiveFunc generates the outbound text for a due follow-up, given the
// same layered context a normal reply would see.
type ProactiveFunc func(ctx context.Context, f ScheduledFollowUp, assembled AssembledContext) (string, error)

// DeliverFunc hands a generated proactive message to the outbound transport.
type DeliverFunc func(ctx context.Context, userID, text string) error

// Scheduler drains due follow-ups. Each item is generated first and then
// claimed with a compare-and-set on executed_at, so overlapping ticks may
// both generate but only the claim winner persists the agent turn and
// delivers; a failed generation leaves the item unclaimed for the next tick.
type Scheduler struct {
	store     Store
	assembler *Assembler
	generate  ProactiveFunc
	deliver   DeliverFunc
	cronExpr  string
	batch     int
	clock     func() time.Time
	log       zerolog.Logger

	gron      *gronx.Gronx
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// SchedulerConfig carries scheduler wiring.
type SchedulerConfig struct {
	// CronExpr gates how often Run actually drains, e.g. "*/5 * * * *".
	CronExpr string
	// Batch caps follow-ups drained per tick.
	Batch int
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// NewScheduler wires a scheduler. An invalid cron expression is rejected.
func NewScheduler(store Store, assembler *Assembler, generate ProactiveFunc, deliver DeliverFunc, cfg SchedulerConfig, log zerolog.Logger) (*Scheduler, error) {
	g := gronx.New()
	if cfg.CronExpr == "" {
		cfg.CronExpr = "* * * * *"
	}
	if !g.IsValid(cfg.CronExpr) {
		return nil, fmt.Errorf("invalid scheduler cron expression %q", cfg.CronExpr)
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 20
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Scheduler{
		store:     store,
		assembler: assembler,
		generate:  generate,
		deliver:   deliver,
		cronExpr:  cfg.CronExpr,
		batch:     cfg.Batch,
		clock:     cfg.Clock,
		log:       log.With().Str("component", "scheduler").Logger(),
		gron:      g,
		stopCh:    make(chan struct{}),
	}, nil
}

// Tick drains follow-ups due at now. It returns how many were executed.
// Failures are isolated per item.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	due, err := s.store.DueFollowUps(ctx, now, s.batch)
	if err != nil {
		s.log.Error().Err(err).Msg("load due follow-ups failed")
		return 0
	}

	executed := 0
	for _, f := range due {
		if s.runOne(ctx, f, now) {
			executed++
		}
	}
	return executed
}

func (s *Scheduler) runOne(ctx context.Context, f ScheduledFollowUp, now time.Time) bool {
	assembled, err := s.assembler.Assemble(ctx, f.UserID, f.Topic)
	if err != nil {
		s.log.Error().Err(err).Str("follow_up_id", f.ID).Msg("assemble context failed")
		return false
	}

	text, err := s.generate(ctx, f, assembled)
	if err != nil {
		// The item stays unclaimed; the next tick retries.
		s.log.Warn().Err(err).Str("follow_up_id", f.ID).Msg("proactive generation failed")
		return false
	}

	if err := s.store.MarkFollowUpExecuted(ctx, f.ID, now); err != nil {
		if errors.Is(err, ErrAlreadyExecuted) {
			s.log.Debug().Str("follow_up_id", f.ID).Msg("follow-up claimed by another tick")
			return false
		}
		s.log.Error().Err(err).Str("follow_up_id", f.ID).Msg("claim follow-up failed")
		return false
	}

	// Only the claim winner's message enters the transcript; the loser's
	// generated text is discarded above.
	if _, err := s.store.AppendTurn(ctx, ConversationTurn{
		UserID:    f.UserID,
		Role:      RoleAgent,
		Content:   text,
		CreatedAt: now,
	}); err != nil {
		s.log.Error().Err(err).Str("follow_up_id", f.ID).Msg("persist proactive turn failed")
	}

	if s.deliver != nil {
		if err := s.deliver(ctx, f.UserID, text); err != nil {
			s.log.Error().Err(err).Str("follow_up_id", f.ID).Msg("deliver proactive message failed")
		}
	}

	s.log.Info().
		Str("follow_up_id", f.ID).
		Str("user_id", f.UserID).
		Str("topic", f.Topic).
		Msg("follow-up executed")
	return true
}

// Run drives ticks on a fixed check interval, gated by the cron expression,
// until Stop is called or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, checkEvery time.Duration) {
	// Cron has minute resolution; checking once per minute avoids double
	// fires within the same due minute.
	if checkEvery <= 0 {
		checkEvery = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(checkEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				now := s.clock()
				due, err := s.gron.IsDue(s.cronExpr, now)
				if err != nil {
					s.log.Error().Err(err).Msg("cron evaluation failed")
					continue
				}
				if !due {
					continue
				}
				s.Tick(ctx, now)
			}
		}
	}()
}

// Stop halts Run and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.closeOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
