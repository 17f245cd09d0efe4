// Package intent classifies inbound worker messages into typed intents.
//
// Classification is ordered and exclusive: the first matcher in the list that
// recognizes a message wins. The default order is registration, emergency,
// schedule modification, information request and event response, because the
// keyword families overlap (a message about being sick often also mentions
// times). Anything unmatched is IntentUnknown with confidence 0.
package intent

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// Input is what a matcher sees. The forms are derived once per message.
type Input struct {
	// Raw is the message as received.
	Raw string
	// Lowered is trimmed and lower-cased but keeps punctuation, so times
	// such as "10:30" survive.
	Lowered string
	// Normalized is Lowered with .,!?;: stripped and whitespace collapsed.
	Normalized string
	// Cleaned is Raw with the same punctuation stripped and case preserved.
	Cleaned string
	// Context is the conversation context, possibly nil.
	Context *models.Context
}

// Matcher recognizes one topic.
type Matcher interface {
	Name() string
	Match(in Input) (models.Intent, bool)
}

// CodeChecker reports whether a normalized string is an active registration code.
type CodeChecker func(code string) bool

// Opts holds configuration options for a Classifier.
type Opts struct {
	CodeChecker CodeChecker
	Matchers    []Matcher
}

// Option defines a configuration option for a Classifier.
type Option func(*Opts)

// WithCodeChecker sets the registration-code lookup used by the registration matcher.
func WithCodeChecker(fn CodeChecker) Option {
	return func(o *Opts) { o.CodeChecker = fn }
}

// WithMatchers replaces the default matcher list. Order is precedence.
func WithMatchers(m ...Matcher) Option {
	return func(o *Opts) { o.Matchers = m }
}

// Classifier runs an ordered list of matchers.
type Classifier struct {
	matchers []Matcher
}

// New creates a Classifier with the default matcher order unless overridden.
func New(opts ...Option) *Classifier {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	matchers := cfg.Matchers
	if matchers == nil {
		matchers = DefaultMatchers(cfg.CodeChecker)
	}
	return &Classifier{matchers: matchers}
}

// DefaultMatchers returns the standard precedence list.
func DefaultMatchers(codes CodeChecker) []Matcher {
	return []Matcher{
		RegistrationMatcher{Codes: codes},
		EmergencyMatcher{},
		ScheduleMatcher{},
		InformationMatcher{},
		EventResponseMatcher{},
	}
}

// Matchers returns the matcher names in precedence order.
func (c *Classifier) Matchers() []string {
	names := make([]string, len(c.matchers))
	for i, m := range c.matchers {
		names[i] = m.Name()
	}
	return names
}

// Classify returns the first matching intent, or IntentUnknown.
func (c *Classifier) Classify(text string, ctx *models.Context) models.Intent {
	in := NewInput(text, ctx)
	for _, m := range c.matchers {
		if got, ok := m.Match(in); ok {
			got.Confidence = clamp(got.Confidence)
			got.OriginalText = text
			slog.Debug("Classifier.Classify matched", "matcher", m.Name(), "type", got.Type, "confidence", got.Confidence)
			return got
		}
	}
	slog.Debug("Classifier.Classify no match", "text_length", len(text))
	return models.UnknownIntent(text)
}

// NewInput derives the matcher views of text.
func NewInput(text string, ctx *models.Context) Input {
	lowered := strings.ToLower(strings.TrimSpace(stripVariationSelectors(text)))
	return Input{
		Raw:        text,
		Lowered:    lowered,
		Normalized: Normalize(text),
		Cleaned:    collapseSpaces(stripPunctuation(strings.TrimSpace(text))),
		Context:    ctx,
	}
}

// Normalize trims, lower-cases, strips .,!?;: and collapses whitespace.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(stripVariationSelectors(text)))
	return collapseSpaces(stripPunctuation(s))
}

func stripPunctuation(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':':
			return -1
		}
		return r
	}, s)
}

// stripVariationSelectors drops U+FE0F so "1️⃣" and "1⃣" compare equal.
func stripVariationSelectors(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\uFE0F' || r == '\uFE0E' {
			return -1
		}
		return r
	}, s)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// Acceptance thresholds per intent type.
var thresholds = map[models.IntentType]float64{
	models.IntentRegistration:         0.7,
	models.IntentEventResponse:        0.6,
	models.IntentEmergency:            0.7,
	models.IntentScheduleModification: 0.6,
	models.IntentInformationRequest:   0.6,
}

// DefaultThreshold applies to types without a published threshold.
const DefaultThreshold = 0.5

// Threshold returns the minimum confidence at which an intent of type t is acted on.
func Threshold(t models.IntentType) float64 {
	if v, ok := thresholds[t]; ok {
		return v
	}
	return DefaultThreshold
}

// Actionable reports whether the intent clears its type's threshold.
func Actionable(i models.Intent) bool {
	if i.Type == models.IntentUnknown {
		return false
	}
	return i.Confidence >= Threshold(i.Type)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
