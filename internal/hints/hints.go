// Package hints decorates replies with hidden presentation markers such as
// [[mood:happy]] and strips them before display.
package hints

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var ErrEmptyText = errors.New("hints: empty text")

const (
	MoodHappy   = "happy"
	MoodSad     = "sad"
	MoodLoving  = "loving"
	MoodCurious = "curious"
	MoodNeutral = "neutral"
)

var markerRe = regexp.MustCompile(`\s*\[\[[a-z_]+:[a-z_]+\]\]`)

type moodRule struct {
	mood string
	re   *regexp.Regexp
}

var moodRules = []moodRule{
	{MoodLoving, regexp.MustCompile(`(?i)\b(love|miss(ed)? you|darling|sweetheart|hug|kiss)\b|❤|😘|🥰`)},
	{MoodSad, regexp.MustCompile(`(?i)\b(sorry|sad|unfortunately|miss|lonely|upset)\b|😢|😔`)},
	{MoodHappy, regexp.MustCompile(`(?i)\b(haha|great|awesome|glad|yay|fun|happy|congrat\w*)\b|😄|😊|😂|!{2,}`)},
	{MoodCurious, regexp.MustCompile(`\?\s*$`)},
}

// MoodHinter appends a mood marker guessed from keywords in the reply.
type MoodHinter struct{}

func NewMoodHinter() MoodHinter { return MoodHinter{} }

func (MoodHinter) Decorate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrEmptyText
	}
	if markerRe.MatchString(trimmed) {
		return trimmed, nil
	}
	return trimmed + " [[mood:" + Mood(trimmed) + "]]", nil
}

// Mood returns the first matching mood, or neutral.
func Mood(text string) string {
	for _, r := range moodRules {
		if r.re.MatchString(text) {
			return r.mood
		}
	}
	return MoodNeutral
}

// Strip removes every marker from text.
func Strip(text string) string {
	return strings.TrimSpace(markerRe.ReplaceAllString(text, ""))
}
