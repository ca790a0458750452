// Package emotion maps reply text to a reaction emoji using keyword counting.
package emotion

import "strings"

// Tags returned by Classify. Discord-compatible emoji.
const (
	TagJoy        = "😄"
	TagSadness    = "😢"
	TagAnger      = "😠"
	TagFear       = "😨"
	TagSurprise   = "😮"
	TagNeutral    = "👍"
	TagExpressive = "🎭"
)

// category order is significant: ties break toward the earlier entry.
var categories = []struct {
	name     string
	keywords []string
	tag      string
}{
	{"joy", []string{"happy", "joy", "excited", "great", "wonderful", "love", "glad", "yay", "woohoo", "hehe", "haha"}, TagJoy},
	{"sadness", []string{"sad", "sorry", "unfortunate", "regret", "miss", "lonely", "sigh", "alas", "ugh"}, TagSadness},
	{"anger", []string{"angry", "mad", "furious", "annoyed", "frustrated", "grr", "ugh", "argh"}, TagAnger},
	{"fear", []string{"afraid", "scared", "worried", "nervous", "anxious", "eek", "yikes"}, TagFear},
	{"surprise", []string{"wow", "amazing", "incredible", "unexpected", "surprised", "whoa", "woah", "omg", "oh my"}, TagSurprise},
	{"neutral", []string{"ok", "fine", "alright", "neutral", "hmm", "mhm"}, TagNeutral},
}

// expressiveMarkers short-circuit scoring: stage directions win outright.
var expressiveMarkers = []string{"*", "moans", "sighs", "gasps", "squeals", "giggles", "laughs", "cries", "screams"}

// Classify returns the reaction tag for a piece of reply text.
// Substring counts, not token counts: a keyword embedded in a longer
// word still scores. Deterministic and total.
func Classify(text string) string {
	text = strings.ToLower(text)

	for _, marker := range expressiveMarkers {
		if strings.Contains(text, marker) {
			return TagExpressive
		}
	}

	bestTag := TagNeutral
	bestCount := 0
	for _, c := range categories {
		count := 0
		for _, kw := range c.keywords {
			count += strings.Count(text, kw)
		}
		if count > bestCount {
			bestCount = count
			bestTag = c.tag
		}
	}

	return bestTag
}
