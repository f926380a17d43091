package memory

import (
	"fmt"
	"strings"
	"time"
)

const conversationInstructions = `You are Aki, a warm companion with a continuous memory of this person.
Reply naturally in first person. Stay consistent with everything you remember.

After your reply you may add structured lines, each on its own line:
OBSERVATION: <category> | <what you learned about them>
FOLLOW_UP: <when> | <topic> | <context for future you>
If nothing is worth recording, add the single line NOTHING_SIGNIFICANT.`

const compactionInstructions = `Condense the conversation below into a short first-person diary entry.
Keep concrete facts, feelings and open threads. Write as "I", past tense.
Reply with the diary entry only.`

const proactiveInstructions = `You decided earlier to reach out about something. The moment has come.
Write one short, natural message that picks the thread back up. Do not
mention reminders or scheduling. Reply with the message only.`

const reflectionInstructions = `Step back from the conversation and write a short reflective diary
entry about this person: patterns you notice, how they seem to be
doing, what matters to them lately. Write as "I". Reply with the entry
only.`

func buildConversationPrompt(assembled AssembledContext, userMessage string, now time.Time, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(conversationInstructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "It is now %s.\n\n", now.In(locOrLocal(loc)).Format("Monday 2006-01-02 15:04"))
	if rendered := assembled.Render(loc); rendered != "" {
		b.WriteString(rendered)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Them: %s", userMessage)
	return b.String()
}

func buildCompactionPrompt(transcript string) string {
	return compactionInstructions + "\n\n" + transcript
}

func buildProactivePrompt(f ScheduledFollowUp, assembled AssembledContext, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(proactiveInstructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Topic: %s\n", f.Topic)
	if f.Context != "" {
		fmt.Fprintf(&b, "What you told yourself back then: %s\n", f.Context)
	}
	b.WriteString("\n")
	if rendered := assembled.Render(loc); rendered != "" {
		b.WriteString(rendered)
	}
	return b.String()
}

func buildReflectionPrompt(assembled AssembledContext, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(reflectionInstructions)
	b.WriteString("\n\n")
	if rendered := assembled.Render(loc); rendered != "" {
		b.WriteString(rendered)
	}
	return b.String()
}

func locOrLocal(loc *time.Location) *time.Location {
	if loc == nil {
		return time.Local
	}
	return loc
}
