package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DirectiveKind classifies one parsed line of generation output.
type DirectiveKind string

const (
	DirectiveObservation  DirectiveKind = "observation"
	DirectiveFollowUp     DirectiveKind = "follow_up"
	DirectiveUnrecognized DirectiveKind = "unrecognized"
)

const (
	observationPrefix = "OBSERVATION:"
	followUpPrefix    = "FOLLOW_UP:"
	nothingMarker     = "NOTHING_SIGNIFICANT"
)

// Directive is one structured instruction embedded in generation output.
type Directive struct {
	Kind     DirectiveKind
	Raw      string
	Category string // observation
	Content  string // observation
	When     string // follow-up
	Topic    string // follow-up
	Context  string // follow-up
}

// ParseDirectives scans raw generation output line by line for observation
// and follow-up directives. A NOTHING_SIGNIFICANT marker anywhere in the
// output short-circuits to no directives. Malformed lines come back as
// Unrecognized so callers can count them without acting on them.
func ParseDirectives(raw string) []Directive {
	if strings.Contains(raw, nothingMarker) {
		return nil
	}

	var out []Directive
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, observationPrefix):
			out = append(out, parseObservation(line))
		case strings.HasPrefix(line, followUpPrefix):
			out = append(out, parseFollowUp(line))
		}
	}
	return out
}

func parseObservation(line string) Directive {
	d := Directive{Kind: DirectiveUnrecognized, Raw: line}
	body := strings.TrimSpace(strings.TrimPrefix(line, observationPrefix))
	// Only the first separator splits; content may itself contain pipes.
	parts := strings.SplitN(body, "|", 2)
	if len(parts) != 2 {
		return d
	}
	category := strings.TrimSpace(parts[0])
	content := strings.TrimSpace(parts[1])
	if category == "" || content == "" {
		return d
	}
	d.Kind = DirectiveObservation
	d.Category = category
	d.Content = content
	return d
}

func parseFollowUp(line string) Directive {
	d := Directive{Kind: DirectiveUnrecognized, Raw: line}
	body := strings.TrimSpace(strings.TrimPrefix(line, followUpPrefix))
	// Exactly two separators are meaningful; extra pipes fold into context.
	parts := strings.SplitN(body, "|", 3)
	if len(parts) != 3 {
		return d
	}
	when := strings.TrimSpace(parts[0])
	topic := strings.TrimSpace(parts[1])
	context := strings.TrimSpace(parts[2])
	if when == "" || topic == "" {
		return d
	}
	d.Kind = DirectiveFollowUp
	d.When = when
	d.Topic = topic
	d.Context = context
	return d
}

// StripDirectives removes directive lines and the NOTHING_SIGNIFICANT
// marker from generation output, leaving the user-visible reply.
func StripDirectives(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, observationPrefix) || strings.HasPrefix(t, followUpPrefix) || t == nothingMarker {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// contentKey derives a short stable key from text so the same fact observed
// twice lands on the same row.
func contentKey(text string) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(text))))
	return hex.EncodeToString(sum[:])[:8]
}

// Extractor applies parsed directives to the store: observations become
// profile facts plus diary entries, follow-ups get their due time resolved
// and are scheduled.
type Extractor struct {
	store     Store
	retriever Retriever
	resolver  *WhenResolver
	clock     func() time.Time
	log       zerolog.Logger
}

// NewExtractor wires an extractor. retriever may be nil.
func NewExtractor(store Store, retriever Retriever, resolver *WhenResolver, clock func() time.Time, log zerolog.Logger) *Extractor {
	if clock == nil {
		clock = time.Now
	}
	return &Extractor{
		store:     store,
		retriever: retriever,
		resolver:  resolver,
		clock:     clock,
		log:       log.With().Str("component", "extractor").Logger(),
	}
}

// Apply parses raw generation output and persists every well-formed
// directive for the user. Malformed lines are skipped; one bad line never
// blocks the rest. It returns how many directives were applied.
func (e *Extractor) Apply(ctx context.Context, userID, raw string) int {
	applied := 0
	for _, d := range ParseDirectives(raw) {
		switch d.Kind {
		case DirectiveObservation:
			if err := e.applyObservation(ctx, userID, d); err != nil {
				e.log.Warn().Err(err).Str("user_id", userID).Msg("store observation failed")
				continue
			}
			applied++
		case DirectiveFollowUp:
			if err := e.applyFollowUp(ctx, userID, d); err != nil {
				e.log.Warn().Err(err).Str("user_id", userID).Msg("schedule follow-up failed")
				continue
			}
			applied++
		default:
			e.log.Debug().Str("user_id", userID).Str("line", d.Raw).Msg("unrecognized directive skipped")
		}
	}
	return applied
}

func (e *Extractor) applyObservation(ctx context.Context, userID string, d Directive) error {
	now := e.clock()
	if _, err := e.store.UpsertProfileFact(ctx, ProfileFact{
		UserID:     userID,
		Category:   d.Category,
		Key:        contentKey(d.Content),
		Value:      d.Content,
		Confidence: 0.8,
		ObservedAt: now,
	}); err != nil {
		return err
	}
	if _, err := e.store.AddDiaryEntry(ctx, DiaryEntry{
		UserID:    userID,
		EntryType: EntryObservation,
		Content:   d.Content,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if e.retriever != nil {
		if err := e.retriever.Index(ctx, userID, d.Content, map[string]string{"kind": "observation", "category": d.Category}); err != nil {
			e.log.Warn().Err(err).Str("user_id", userID).Msg("index observation failed")
		}
	}
	return nil
}

func (e *Extractor) applyFollowUp(ctx context.Context, userID string, d Directive) error {
	now := e.clock()
	due, fellBack := e.resolver.Resolve(d.When, now)
	if fellBack {
		e.log.Warn().
			Str("user_id", userID).
			Str("when", d.When).
			Time("due_at", due).
			Msg("unparseable follow-up time, defaulted to 24h")
	}
	_, err := e.store.AddFollowUp(ctx, ScheduledFollowUp{
		UserID:    userID,
		DueAt:     due,
		Topic:     d.Topic,
		Context:   d.Context,
		RawLine:   d.Raw,
		CreatedAt: now,
	})
	return err
}
