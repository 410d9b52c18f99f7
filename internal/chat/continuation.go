package chat

import (
	"context"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
)

// ContinuationMarker ends a reply that was cut short and offers to go on.
const ContinuationMarker = "(Shall I continue?)"

// IntentClassifier decides whether message agrees to prompt. api.Client
// implements it.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, prompt, message string) (bool, error)
}

var affirmativePhrases = map[string]bool{
	"y":               true,
	"yes":             true,
	"yeah":            true,
	"yep":             true,
	"yup":             true,
	"sure":            true,
	"ok":              true,
	"okay":            true,
	"please":          true,
	"please do":       true,
	"continue":        true,
	"please continue": true,
	"go on":           true,
	"go ahead":        true,
	"keep going":      true,
	"more":            true,
	"tell me more":    true,
	"of course":       true,
}

// affirmativeLeads may open a longer agreeing reply.
var affirmativeLeads = map[string]bool{
	"y": true, "yes": true, "yeah": true, "yep": true, "yup": true,
	"sure": true, "ok": true, "okay": true, "alright": true,
	"continue": true, "go": true, "keep": true, "please": true,
}

// affirmativeWords are the only words allowed after a lead.
var affirmativeWords = map[string]bool{
	"y": true, "yes": true, "yeah": true, "yep": true, "yup": true,
	"sure": true, "ok": true, "okay": true, "alright": true,
	"absolutely": true, "definitely": true, "of": true, "course": true,
	"please": true, "do": true, "continue": true, "carry": true,
	"go": true, "on": true, "ahead": true, "keep": true, "going": true,
	"more": true, "thanks": true, "thank": true, "you": true,
}

// maxAffirmativeWords bounds how long a reply can be and still count as a
// bare "go on".
const maxAffirmativeWords = 5

// HasContinuation reports whether text ends with ContinuationMarker.
func HasContinuation(text string) bool {
	return strings.HasSuffix(strings.TrimSpace(text), ContinuationMarker)
}

// StripContinuation removes a trailing ContinuationMarker.
func StripContinuation(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasSuffix(trimmed, ContinuationMarker) {
		return text
	}
	return strings.TrimSpace(strings.TrimSuffix(trimmed, ContinuationMarker))
}

// IsAffirmative matches short agreeing replies such as "yes please" or
// "go on". A reply that agrees and then asks for something else does not
// count.
func IsAffirmative(message string) bool {
	normalized := normalizePhrase(message)
	if normalized == "" {
		return false
	}
	if affirmativePhrases[normalized] {
		return true
	}
	words := strings.Fields(normalized)
	if len(words) > maxAffirmativeWords || !affirmativeLeads[words[0]] {
		return false
	}
	for _, w := range words[1:] {
		if !affirmativeWords[w] {
			return false
		}
	}
	return true
}

func normalizePhrase(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// wantsContinuation asks the classifier, falling back to phrase matching.
func wantsContinuation(ctx context.Context, classifier IntentClassifier, prompt, message string) bool {
	if classifier != nil {
		affirmative, err := classifier.ClassifyIntent(ctx, prompt, message)
		if err == nil {
			return affirmative
		}
		log.Debug().Err(err).Msg("Intent classification failed, using heuristic")
	}
	return IsAffirmative(message)
}
