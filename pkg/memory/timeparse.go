package memory

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// WhenResolver turns free-form scheduling phrases into concrete times in a
// fixed timezone. Resolution order: ISO-8601, natural language, legacy
// tokens, then a 24-hour fallback.
type WhenResolver struct {
	loc    *time.Location
	parser *when.Parser
}

// NewWhenResolver builds a resolver for the given timezone. A nil location
// falls back to time.Local.
func NewWhenResolver(loc *time.Location) *WhenResolver {
	if loc == nil {
		loc = time.Local
	}
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return &WhenResolver{loc: loc, parser: p}
}

var isoLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC3339,
}

// Resolve parses phrase relative to now. The second return is true when the
// phrase was unparseable and the 24-hour fallback was applied.
func (r *WhenResolver) Resolve(phrase string, now time.Time) (time.Time, bool) {
	phrase = strings.TrimSpace(phrase)
	now = now.In(r.loc)
	if phrase == "" {
		return now.Add(24 * time.Hour), true
	}

	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, phrase, r.loc); err == nil {
			return t, false
		}
	}

	if res, err := r.parser.Parse(phrase, now); err == nil && res != nil {
		return res.Time, false
	}

	if t, ok := r.legacyToken(phrase, now); ok {
		return t, false
	}

	return now.Add(24 * time.Hour), true
}

// legacyToken handles the fixed vocabulary older generations of the
// scheduling prompt produced.
func (r *WhenResolver) legacyToken(phrase string, now time.Time) (time.Time, bool) {
	switch strings.ToLower(phrase) {
	case "tomorrow_morning":
		return atHourNextDay(now, 9), true
	case "tomorrow_evening":
		return atHourNextDay(now, 19), true
	case "in_24h":
		return now.Add(24 * time.Hour), true
	case "in_few_days":
		return now.AddDate(0, 0, 3), true
	case "next_week":
		return now.AddDate(0, 0, 7), true
	}
	return time.Time{}, false
}

func atHourNextDay(now time.Time, hour int) time.Time {
	next := now.AddDate(0, 0, 1)
	return time.Date(next.Year(), next.Month(), next.Day(), hour, 0, 0, 0, now.Location())
}
