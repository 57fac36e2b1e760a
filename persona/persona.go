// Package persona builds the companion context instruction and screens
// transcripts for crisis phrases before they reach the language model.
package persona

import (
	"fmt"
	"strings"
)

// basePrompt frames the assistant as a gentle companion.
const basePrompt = "You are a warm, empathetic companion for an older adult. Reply gently, briefly, and encouragingly."

// CrisisResponse is spoken instead of a generated reply when a crisis phrase
// is detected. Keeping it fixed means the escalation message never depends
// on provider availability.
const CrisisResponse = "I am concerned about what you just said. I am notifying your emergency contact immediately. Please stay on the line."

// crisisPhrases trigger escalation on a plain substring match. A lexical
// screen is deliberately simple: it must work offline and never miss on
// these phrases, even at the price of false positives.
var crisisPhrases = []string{
	"fall",
	"fell",
	"chest pain",
	"hurt myself",
	"suicide",
	"emergency",
	"blood",
	"help me",
}

// Profile describes who the assistant is talking to.
type Profile struct {
	UserName string `json:"user_name"`
	// Extra is appended to the instruction verbatim, for caller-specific
	// guidance such as interests or care notes.
	Extra string `json:"extra"`
}

// Instruction renders the context instruction seeded into the conversation
// history.
func Instruction(profile Profile) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if profile.UserName != "" {
		fmt.Fprintf(&b, " You are talking with %s; address them by name now and then.", profile.UserName)
	}
	if profile.Extra != "" {
		b.WriteString(" ")
		b.WriteString(profile.Extra)
	}
	return b.String()
}

// ScreenResult reports the outcome of the crisis screen.
type ScreenResult struct {
	Safe     bool
	Matched  string // the phrase that triggered escalation, if any
	Response string // fixed supportive reply to speak when not safe
}

// Screen checks a transcript for crisis phrases. Matching is
// case-insensitive and purely lexical.
func Screen(transcript string) ScreenResult {
	lower := strings.ToLower(transcript)
	for _, phrase := range crisisPhrases {
		if strings.Contains(lower, phrase) {
			return ScreenResult{
				Safe:     false,
				Matched:  phrase,
				Response: CrisisResponse,
			}
		}
	}
	return ScreenResult{Safe: true}
}
