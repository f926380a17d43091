package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AssemblerConfig carries the tunable selection limits.
type AssemblerConfig struct {
	// SummaryLimit is how many recent compact summaries enter the context.
	SummaryLimit int
	// EntryLimit is how many standalone diary entries older than the
	// summary cutoff enter the context.
	EntryLimit int
	// TailLimit caps the live conversation tail.
	TailLimit int
	// FetchLimit caps raw diary reads before type filtering.
	FetchLimit int
}

func (c *AssemblerConfig) normalize() {
	if c.SummaryLimit <= 0 {
		c.SummaryLimit = 2
	}
	if c.EntryLimit <= 0 {
		c.EntryLimit = 2
	}
	if c.TailLimit <= 0 {
		c.TailLimit = 20
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 10
	}
}

// AssembledContext is the layered view handed to prompt construction.
// History and LiveTail are disjoint: every turn in LiveTail is strictly
// newer than the span covered by the newest summary in History.
type AssembledContext struct {
	UserID string
	// History is chronological: standalone entries older than the summary
	// cutoff, then the selected compact summaries.
	History []DiaryEntry
	// LiveTail is the chronological run of turns not yet covered by any
	// selected summary.
	LiveTail []ConversationTurn
	// Facts are the most recently observed profile facts.
	Facts []ProfileFact
	// Recall holds semantic retrieval hits, empty when retrieval is off.
	Recall []SearchResult
	// Cutoff is the exchange start of the oldest selected summary;
	// standalone entries in History all predate it. Zero without summaries.
	Cutoff time.Time
	// NewestCovered is the exchange end of the newest selected summary;
	// every turn in LiveTail is strictly newer. Zero without summaries.
	NewestCovered time.Time
}

// Assembler builds layered conversation context from the store.
type Assembler struct {
	store     Store
	retriever Retriever
	cfg       AssemblerConfig
	log       zerolog.Logger
}

// NewAssembler wires an assembler. retriever may be nil to disable recall.
func NewAssembler(store Store, retriever Retriever, cfg AssemblerConfig, log zerolog.Logger) *Assembler {
	cfg.normalize()
	return &Assembler{
		store:     store,
		retriever: retriever,
		cfg:       cfg,
		log:       log.With().Str("component", "assembler").Logger(),
	}
}

// Assemble builds the context for one user. query seeds semantic recall and
// may be empty. A user with no history gets empty layers, not an error.
func (a *Assembler) Assemble(ctx context.Context, userID, query string) (AssembledContext, error) {
	out := AssembledContext{UserID: userID}

	fetch := a.cfg.FetchLimit
	if fetch < a.cfg.SummaryLimit {
		fetch = a.cfg.SummaryLimit
	}
	summaries, err := a.store.ListDiaryEntries(ctx, EntryQuery{
		UserID:  userID,
		Types:   []EntryType{EntryCompactSummary},
		OrderBy: ByExchangeEnd,
		Order:   Descending,
		Limit:   fetch,
	})
	if err != nil {
		return AssembledContext{}, fmt.Errorf("load compact summaries: %w", err)
	}
	if len(summaries) > a.cfg.SummaryLimit {
		summaries = summaries[:a.cfg.SummaryLimit]
	}
	// Newest-first from the store; context reads oldest-first.
	for i, j := 0, len(summaries)-1; i < j; i, j = i+1, j-1 {
		summaries[i], summaries[j] = summaries[j], summaries[i]
	}

	// Standalone entries must predate the oldest selected summary so the
	// history never narrates the same span twice.
	var cutoff time.Time
	var newestCovered time.Time
	if len(summaries) > 0 {
		cutoff = summaries[0].ExchangeStart
		newestCovered = summaries[len(summaries)-1].ExchangeEnd
	}
	out.Cutoff = cutoff
	out.NewestCovered = newestCovered

	entryQuery := EntryQuery{
		UserID:  userID,
		Types:   standaloneEntryTypes,
		Before:  cutoff,
		OrderBy: ByCreatedAt,
		Order:   Descending,
		Limit:   fetch,
	}
	standalone, err := a.store.ListDiaryEntries(ctx, entryQuery)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("load standalone entries: %w", err)
	}
	if len(standalone) > a.cfg.EntryLimit {
		standalone = standalone[:a.cfg.EntryLimit]
	}
	for i, j := 0, len(standalone)-1; i < j; i, j = i+1, j-1 {
		standalone[i], standalone[j] = standalone[j], standalone[i]
	}

	out.History = append(out.History, standalone...)
	out.History = append(out.History, summaries...)

	tail, err := a.store.ListTurns(ctx, TurnQuery{
		UserID: userID,
		After:  newestCovered,
		Order:  Descending,
		Limit:  a.cfg.TailLimit,
	})
	if err != nil {
		return AssembledContext{}, fmt.Errorf("load live tail: %w", err)
	}
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	out.LiveTail = tail

	facts, err := a.store.ListProfileFacts(ctx, userID, a.cfg.FetchLimit)
	if err != nil {
		return AssembledContext{}, fmt.Errorf("load profile facts: %w", err)
	}
	out.Facts = facts

	if a.retriever != nil && strings.TrimSpace(query) != "" {
		hits, err := a.retriever.Search(ctx, userID, query, a.cfg.EntryLimit)
		if err != nil {
			// Recall is best-effort; the layered context stands on its own.
			a.log.Warn().Err(err).Str("user_id", userID).Msg("semantic recall failed")
		} else {
			out.Recall = hits
		}
	}

	return out, nil
}

// Render formats the assembled context as prompt text.
func (c AssembledContext) Render(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder

	if len(c.Facts) > 0 {
		b.WriteString("WHAT YOU KNOW ABOUT THEM:\n")
		for _, f := range c.Facts {
			fmt.Fprintf(&b, "- (%s) %s\n", f.Category, f.Value)
		}
		b.WriteString("\n")
	}

	if len(c.History) > 0 {
		b.WriteString("RECENT EXCHANGES:\n")
		for _, e := range c.History {
			if e.IsCompactSummary() {
				fmt.Fprintf(&b, "[%s - %s] %s\n",
					e.ExchangeStart.In(loc).Format("2006-01-02 15:04"),
					e.ExchangeEnd.In(loc).Format("2006-01-02 15:04"),
					e.Content)
			} else {
				fmt.Fprintf(&b, "[%s] (%s) %s\n",
					e.CreatedAt.In(loc).Format("2006-01-02 15:04"),
					e.EntryType, e.Content)
			}
		}
		b.WriteString("\n")
	}

	if len(c.Recall) > 0 {
		b.WriteString("THINGS THAT CAME TO MIND:\n")
		for _, r := range c.Recall {
			fmt.Fprintf(&b, "- %s\n", r.Text)
		}
		b.WriteString("\n")
	}

	if len(c.LiveTail) > 0 {
		b.WriteString("CURRENT CONVERSATION:\n")
		for _, t := range c.LiveTail {
			speaker := "Them"
			if t.Role == RoleAgent {
				speaker = "You"
			}
			fmt.Fprintf(&b, "[%s] %s: %s\n", t.CreatedAt.In(loc).Format("15:04"), speaker, t.Content)
		}
	}

	return b.String()
}
