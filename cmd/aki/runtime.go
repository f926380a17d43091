package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/simonryu328/aki-the-bot/pkg/bus"
	"github.com/simonryu328/aki-the-bot/pkg/config"
	"github.com/simonryu328/aki-the-bot/pkg/logger"
	"github.com/simonryu328/aki-the-bot/pkg/memory"
	"github.com/simonryu328/aki-the-bot/pkg/providers"
)

// runtime bundles the wired engine for the chat and serve commands.
type runtime struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     *memory.SQLiteStore
	service   *memory.Service
	scheduler *memory.Scheduler
	bus       *bus.MessageBus
}

func buildRuntime(debug bool) (*runtime, error) {
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	log := logger.New(level, cfg.Log.Pretty)

	store, err := memory.NewSQLiteStore(cfg.DBFile())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider, err := providers.CreateProvider(cfg.Providers.OpenRouter)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var retriever memory.Retriever = memory.NoopRetriever{}
	if cfg.Retrieval.Enabled {
		r, err := memory.NewChromemRetriever(cfg.RetrievalDir(), nil)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open retriever: %w", err)
		}
		retriever = r
	}

	generate := func(ctx context.Context, prompt string) (string, error) {
		resp, err := provider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, providers.ChatOptions{
			Model:     cfg.Providers.OpenRouter.Model,
			MaxTokens: cfg.Providers.OpenRouter.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}
	summarize := func(ctx context.Context, prompt string) (string, error) {
		resp, err := provider.Chat(ctx, []providers.Message{{Role: "user", Content: prompt}}, providers.ChatOptions{
			Model:     cfg.Providers.OpenRouter.SummaryModel,
			MaxTokens: cfg.Providers.OpenRouter.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	service := memory.NewService(store, retriever, generate, summarize, memory.ServiceConfig{
		CompactInterval: cfg.Memory.CompactInterval,
		ContextWindow:   cfg.Memory.ContextWindow,
		SummaryLimit:    cfg.Memory.CompactSummaryLimit,
		EntryLimit:      cfg.Memory.MemoryEntryLimit,
		TailLimit:       cfg.Memory.ConversationContextLimit,
		FetchLimit:      cfg.Memory.DiaryFetchLimit,
		Location:        cfg.Location(),
	}, log)

	mbus := bus.NewMessageBus()
	deliver := func(ctx context.Context, userID, text string) error {
		mbus.PublishOutbound(bus.OutboundMessage{UserID: userID, Text: text, Kind: "follow_up"})
		return nil
	}

	scheduler, err := memory.NewScheduler(store, service.Assembler(), service.ProactiveMessage, deliver, memory.SchedulerConfig{
		CronExpr: cfg.Scheduler.Cron,
		Batch:    cfg.Scheduler.Batch,
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &runtime{
		cfg:       cfg,
		log:       log,
		store:     store,
		service:   service,
		scheduler: scheduler,
		bus:       mbus,
	}, nil
}

func (r *runtime) close() {
	r.scheduler.Stop()
	r.service.Flush()
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close store failed")
	}
}

func (r *runtime) startScheduler(ctx context.Context) {
	r.scheduler.Run(ctx, time.Minute)
}
