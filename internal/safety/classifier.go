// Package safety derives a risk tier from raw user text.
package safety

import (
	"strings"
)

// Level is a three-tier classification of how urgently a user message
// suggests self-harm or crisis risk, ordered safe < caution < crisis.
type Level string

const (
	LevelSafe    Level = "safe"
	LevelCaution Level = "caution"
	LevelCrisis  Level = "crisis"
)

// severity orders levels for comparison.
var severity = map[Level]int{
	LevelSafe:    0,
	LevelCaution: 1,
	LevelCrisis:  2,
}

// ParseLevel maps a string onto a recognized level. Unknown values coerce
// to safe; callers are expected to pair the parsed value with an
// independent local classification so the stricter of the two governs.
func ParseLevel(s string) Level {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelCaution:
		return LevelCaution
	case LevelCrisis:
		return LevelCrisis
	default:
		return LevelSafe
	}
}

// Stricter returns the more severe of two levels.
func Stricter(a, b Level) Level {
	if severity[a] >= severity[b] {
		return a
	}
	return b
}

// DefaultCrisisTerms are explicit self-harm / harm-to-others indicators.
func DefaultCrisisTerms() []string {
	return []string{
		"kill myself",
		"end my life",
		"suicide",
		"suicidal",
		"want to die",
		"better off dead",
		"hurt myself",
		"harm myself",
		"self harm",
		"self-harm",
		"hurt someone",
		"kill someone",
	}
}

// DefaultCautionTerms are despair / hopelessness indicators.
func DefaultCautionTerms() []string {
	return []string{
		"hopeless",
		"worthless",
		"no point",
		"can't go on",
		"give up",
		"nobody cares",
		"no one cares",
		"alone forever",
		"hate myself",
		"empty inside",
	}
}

// Classifier is a deterministic keyword-based risk classifier. It is a pure
// function of the text and runs locally, independent of the model's
// self-reported level.
type Classifier struct {
	crisisTerms  []string
	cautionTerms []string
}

// NewClassifier creates a Classifier. Nil term lists fall back to defaults.
func NewClassifier(crisisTerms, cautionTerms []string) *Classifier {
	if crisisTerms == nil {
		crisisTerms = DefaultCrisisTerms()
	}
	if cautionTerms == nil {
		cautionTerms = DefaultCautionTerms()
	}
	return &Classifier{
		crisisTerms:  crisisTerms,
		cautionTerms: cautionTerms,
	}
}

// Classify returns crisis if any crisis term occurs in text, else caution
// if any caution term occurs, else safe. Matching is case-insensitive.
func (c *Classifier) Classify(text string) Level {
	lower := strings.ToLower(text)

	for _, term := range c.crisisTerms {
		if strings.Contains(lower, term) {
			return LevelCrisis
		}
	}
	for _, term := range c.cautionTerms {
		if strings.Contains(lower, term) {
			return LevelCaution
		}
	}
	return LevelSafe
}
