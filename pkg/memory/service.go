package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// GenerateFunc produces model output for a fully built prompt.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

// ServiceConfig tunes the conversational memory engine.
type ServiceConfig struct {
	// CompactInterval is how many uncompacted turns trigger compaction.
	CompactInterval int
	// ContextWindow is how many recent turns feed a compaction transcript.
	ContextWindow int
	// SummaryLimit, EntryLimit, TailLimit and FetchLimit mirror
	// AssemblerConfig.
	SummaryLimit int
	EntryLimit   int
	TailLimit    int
	FetchLimit   int
	// Location is the timezone all rendered times use.
	Location *time.Location
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Service is the conversational entry point: it persists turns, assembles
// context, generates replies and runs extraction and compaction as
// background maintenance.
type Service struct {
	store     Store
	retriever Retriever
	generate  GenerateFunc
	assembler *Assembler
	compactor *Compactor
	extractor *Extractor
	loc       *time.Location
	clock     func() time.Time
	log       zerolog.Logger

	bg sync.WaitGroup
}

// NewService wires the engine. generate handles conversational replies and
// summarize handles compaction; they may point at different models.
func NewService(store Store, retriever Retriever, generate, summarize GenerateFunc, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	assembler := NewAssembler(store, retriever, AssemblerConfig{
		SummaryLimit: cfg.SummaryLimit,
		EntryLimit:   cfg.EntryLimit,
		TailLimit:    cfg.TailLimit,
		FetchLimit:   cfg.FetchLimit,
	}, log)
	summaryFn := func(ctx context.Context, transcript string) (string, error) {
		return summarize(ctx, buildCompactionPrompt(transcript))
	}
	compactor := NewCompactor(store, summaryFn, cfg.CompactInterval, cfg.ContextWindow, log)
	resolver := NewWhenResolver(cfg.Location)
	extractor := NewExtractor(store, retriever, resolver, cfg.Clock, log)

	return &Service{
		store:     store,
		retriever: retriever,
		generate:  generate,
		assembler: assembler,
		compactor: compactor,
		extractor: extractor,
		loc:       cfg.Location,
		clock:     cfg.Clock,
		log:       log.With().Str("component", "memory_service").Logger(),
	}
}

// Assembler exposes the context assembler, e.g. for scheduler wiring.
func (s *Service) Assembler() *Assembler { return s.assembler }

// HandleTurn runs one full conversational exchange: assemble context,
// persist the inbound message, generate a reply, persist it, then kick off
// extraction and compaction in the background. The returned reply has
// directive lines stripped.
func (s *Service) HandleTurn(ctx context.Context, userID, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("handle turn: empty message")
	}

	now := s.clock()
	// Assemble before persisting so the live tail ends at the previous
	// exchange; the current message enters the prompt once, as the
	// trailing line.
	assembled, err := s.assembler.Assemble(ctx, userID, message)
	if err != nil {
		return "", fmt.Errorf("assemble context: %w", err)
	}

	if _, err := s.store.AppendTurn(ctx, ConversationTurn{
		UserID:    userID,
		Role:      RoleUser,
		Content:   message,
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("persist user turn: %w", err)
	}

	raw, err := s.generate(ctx, buildConversationPrompt(assembled, message, now, s.loc))
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}

	reply := StripDirectives(raw)
	if reply == "" {
		reply = strings.TrimSpace(raw)
	}

	if _, err := s.store.AppendTurn(ctx, ConversationTurn{
		UserID:    userID,
		Role:      RoleAgent,
		Content:   reply,
		CreatedAt: s.clock(),
	}); err != nil {
		return "", fmt.Errorf("persist agent turn: %w", err)
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 60*time.Second)
		defer cancel()
		s.maintain(bgCtx, userID, raw, message, reply)
	}()

	return reply, nil
}

// maintain runs the post-reply maintenance pass: directive extraction,
// retrieval indexing and compaction. Failures are logged, never surfaced.
func (s *Service) maintain(ctx context.Context, userID, raw, message, reply string) {
	if n := s.extractor.Apply(ctx, userID, raw); n > 0 {
		s.log.Debug().Str("user_id", userID).Int("applied", n).Msg("directives applied")
	}

	if s.retriever != nil {
		exchange := "Them: " + message + "\nYou: " + reply
		if err := s.retriever.Index(ctx, userID, exchange, map[string]string{"kind": "exchange"}); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("index exchange failed")
		}
	}

	if _, err := s.compactor.MaybeCompact(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("compaction failed")
	}
}

// ProactiveMessage generates the outbound text for a due follow-up. It has
// the ProactiveFunc shape expected by the scheduler. Generation has no side
// effects on the transcript: overlapping ticks may both call this, and only
// the tick that wins the executed claim persists and delivers the message.
func (s *Service) ProactiveMessage(ctx context.Context, f ScheduledFollowUp, assembled AssembledContext) (string, error) {
	raw, err := s.generate(ctx, buildProactivePrompt(f, assembled, s.loc))
	if err != nil {
		return "", fmt.Errorf("generate proactive message: %w", err)
	}
	text := StripDirectives(raw)
	if text == "" {
		return "", fmt.Errorf("generate proactive message: empty output")
	}
	return text, nil
}

// Reflect generates a reflective diary entry over the user's assembled
// memory and persists it. Reflections are standalone entries: they surface
// in later context as history older than the summary cutoff.
func (s *Service) Reflect(ctx context.Context, userID string) (DiaryEntry, error) {
	assembled, err := s.assembler.Assemble(ctx, userID, "")
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("assemble context: %w", err)
	}

	raw, err := s.generate(ctx, buildReflectionPrompt(assembled, s.loc))
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("generate reflection: %w", err)
	}
	text := strings.TrimSpace(StripDirectives(raw))
	if text == "" {
		return DiaryEntry{}, fmt.Errorf("generate reflection: empty output")
	}

	entry, err := s.store.AddDiaryEntry(ctx, DiaryEntry{
		UserID:    userID,
		EntryType: EntryReflection,
		Content:   text,
		CreatedAt: s.clock(),
	})
	if err != nil {
		return DiaryEntry{}, fmt.Errorf("persist reflection: %w", err)
	}

	if s.retriever != nil {
		if err := s.retriever.Index(ctx, userID, text, map[string]string{"kind": "reflection"}); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("index reflection failed")
		}
	}
	return entry, nil
}

// CompactNow forces a compaction check for the user, bypassing the
// background path. Mostly useful for tooling.
func (s *Service) CompactNow(ctx context.Context, userID string) (bool, error) {
	return s.compactor.MaybeCompact(ctx, userID)
}

// Flush waits for in-flight background maintenance to finish.
func (s *Service) Flush() { s.bg.Wait() }
