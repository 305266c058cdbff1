package narration

import (
	"fmt"
	"strings"
)

const (
	defaultInstruction = "How would you describe what you are seeing to a blind person? " +
		"Limit your response to two sentences. Start with 'There is...'"

	defaultContinuation = "You are narrating a live scene for a blind person, one frame at a time. " +
		"Describe only what is new or has changed in this image compared to that narration, " +
		"in at most two sentences. If nothing meaningful changed, say so in a few words."
)

// Template holds the fixed instructions wrapped around the narration so far.
type Template struct {
	// Instruction is used for the first frame of a session.
	Instruction string
	// Continuation is used once the session has narrated something.
	Continuation string
}

func DefaultTemplate() Template {
	return Template{
		Instruction:  defaultInstruction,
		Continuation: defaultContinuation,
	}
}

func (t Template) Render(previous []string) string {
	if len(previous) == 0 {
		return t.Instruction
	}

	continuation := t.Continuation
	if continuation == "" {
		continuation = defaultContinuation
	}

	var b strings.Builder
	b.WriteString("Narration so far:\n")
	for i, text := range previous {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(text))
	}
	b.WriteString("\n")
	b.WriteString(continuation)
	return b.String()
}
