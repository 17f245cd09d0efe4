package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// Keyword families, matched against normalized text.
var (
	injuryPattern       = regexp.MustCompile(`verletz|unfall|gestürzt|gebrochen|notaufnahme|krankenhaus|blutet|rettungswagen`)
	sickPattern         = regexp.MustCompile(`krank|fieber|grippe|erkält|übel|magen|migräne|corona|covid`)
	latePattern         = regexp.MustCompile(`verspät|zu spät|komme später|komme etwas später|im stau|stau auf|verpasst|\d+\s*min\w*\s*später`)
	cancellationPattern = regexp.MustCompile(`absagen|abgesagt|kann nicht kommen|kann doch nicht|schaffe es nicht|komme nicht|storniere|fällt für mich aus`)
	delayPattern        = regexp.MustCompile(`(\d{1,3})\s*min`)

	startTimePattern = regexp.MustCompile(`anfangen|beginnen|starten|früher kommen|später kommen|erst um|erst ab|ab \d`)
	endTimePattern   = regexp.MustCompile(`aufhören|früher gehen|früher weg|eher gehen|gehen um|schluss|feierabend|bis \d`)
	durationPattern  = regexp.MustCompile(`stunden?\s+(länger|kürzer|mehr|weniger|eher)|(mehr|weniger)\s+stunden|länger bleiben|länger arbeiten|kürzer|weniger zeit`)
	generalSchedule  = regexp.MustCompile(`verschieben|andere zeit|andere uhrzeit|zeit ändern|uhrzeit ändern|schicht tauschen|tauschen`)
	hoursPattern     = regexp.MustCompile(`(\d{1,2}(?:[.,]\d{1,2})?)\s*stunde`)

	// Times are extracted from the lowered form where ':' survives.
	timeWithPrefix = regexp.MustCompile(`(?:um|ab|bis|gegen)\s+(\d{1,2})(?:[:.](\d{2}))?`)
	timeWithUhr    = regexp.MustCompile(`(\d{1,2})(?:[:.](\d{2}))?\s*uhr`)

	locationPattern  = regexp.MustCompile(`\b(wo|wohin|adresse|treffpunkt|ort|anfahrt|parkplatz|parken|eingang)\b`)
	equipmentPattern = regexp.MustCompile(`kleidung|mitbringen|mitnehmen|ausrüstung|dresscode|schuhe|anziehen|werkzeug|uniform|arbeitskleidung`)
	contactPattern   = regexp.MustCompile(`ansprechpartner|ansprechperson|kontakt|telefonnummer|\bnummer\b|\bwen\b|vorgesetzt|schichtleit`)
	questionWords    = regexp.MustCompile(`^(was|wann|wie|warum|wieso|weshalb|wer|welche\w*|gibt es)\b`)

	requestTimePattern = regexp.MustCompile(`bedenkzeit|überlegen|melde mich|später melden|weiß noch nicht|weiss noch nicht|muss schauen|muss nachschauen|noch nicht sicher|gebe bescheid|sage später`)

	nameWord = regexp.MustCompile(`^[\p{L}][\p{L}-]*$`)
)

// Exact event-response vocabulary, keyed by normalized text.
var eventVocabulary = map[string]models.EventResponseType{
	"1": models.EventAccept, "1⃣": models.EventAccept, "ja": models.EventAccept,
	"jo": models.EventAccept, "jep": models.EventAccept, "jawohl": models.EventAccept,
	"ok": models.EventAccept, "okay": models.EventAccept, "klar": models.EventAccept,
	"gerne": models.EventAccept, "ja gerne": models.EventAccept, "ja klar": models.EventAccept,
	"zusage": models.EventAccept, "bin dabei": models.EventAccept, "ich bin dabei": models.EventAccept,
	"passt": models.EventAccept, "ich komme": models.EventAccept, "👍": models.EventAccept,

	"2": models.EventDecline, "2⃣": models.EventDecline, "nein": models.EventDecline,
	"nee": models.EventDecline, "ne": models.EventDecline, "absage": models.EventDecline,
	"kann nicht": models.EventDecline, "leider nicht": models.EventDecline,
	"leider nein": models.EventDecline, "nein danke": models.EventDecline, "keine zeit": models.EventDecline,

	"3": models.EventQuestion, "3⃣": models.EventQuestion, "frage": models.EventQuestion,
	"ich habe eine frage": models.EventQuestion, "eine frage": models.EventQuestion, "rückfrage": models.EventQuestion,
}

// RegistrationMatcher recognizes registration codes, and worker names while a
// registration awaits one.
type RegistrationMatcher struct {
	Codes CodeChecker
}

func (RegistrationMatcher) Name() string { return string(models.IntentRegistration) }

func (m RegistrationMatcher) Match(in Input) (models.Intent, bool) {
	if isCode(in, m.Codes) {
		return codeIntent(in), true
	}
	if !awaitingName(in.Context) {
		return models.Intent{}, false
	}
	if got := parseName(in); got.Registration.Kind == models.RegistrationKindName {
		return got, true
	}
	return models.Intent{}, false
}

// EmergencyMatcher recognizes injury, sickness, lateness and cancellation.
type EmergencyMatcher struct{}

func (EmergencyMatcher) Name() string { return string(models.IntentEmergency) }

func (EmergencyMatcher) Match(in Input) (models.Intent, bool) {
	text := in.Normalized
	payload := &models.EmergencyPayload{}
	var confidence float64
	switch {
	case injuryPattern.MatchString(text):
		payload.Kind, payload.Severity, confidence = models.EmergencyInjury, models.SeverityHigh, 0.9
	case sickPattern.MatchString(text):
		payload.Kind, payload.Severity, confidence = models.EmergencySick, models.SeverityMedium, 0.85
	case latePattern.MatchString(text):
		payload.Kind, payload.Severity, confidence = models.EmergencyLate, models.SeverityLow, 0.8
		if mm := delayPattern.FindStringSubmatch(text); mm != nil {
			if n, err := strconv.Atoi(mm[1]); err == nil {
				payload.DelayMinutes = n
				confidence = 0.9
			}
		}
		if payload.DelayMinutes > 60 {
			payload.Severity = models.SeverityMedium
		}
	case cancellationPattern.MatchString(text):
		payload.Kind, payload.Severity, confidence = models.EmergencyCancellation, models.SeverityMedium, 0.75
	default:
		return models.Intent{}, false
	}
	return models.Intent{Type: models.IntentEmergency, Confidence: confidence, Emergency: payload}, true
}

// ScheduleMatcher recognizes requests to change start, end or duration.
type ScheduleMatcher struct{}

func (ScheduleMatcher) Name() string { return string(models.IntentScheduleModification) }

func (ScheduleMatcher) Match(in Input) (models.Intent, bool) {
	if informationQuestion(in) {
		return models.Intent{}, false
	}
	text := in.Normalized
	payload := &models.SchedulePayload{}
	var confidence float64
	switch {
	case startTimePattern.MatchString(text):
		payload.Kind = models.ScheduleStartTime
		payload.RequestedTime = extractTime(in.Lowered)
		confidence = timedConfidence(payload.RequestedTime)
	case endTimePattern.MatchString(text):
		payload.Kind = models.ScheduleEndTime
		payload.RequestedTime = extractTime(in.Lowered)
		confidence = timedConfidence(payload.RequestedTime)
	case durationPattern.MatchString(text):
		payload.Kind = models.ScheduleDuration
		payload.DurationHours = extractHours(in.Lowered)
		confidence = 0.7
	case generalSchedule.MatchString(text):
		payload.Kind = models.ScheduleGeneral
		payload.RequestedTime = extractTime(in.Lowered)
		confidence = 0.6
	default:
		return models.Intent{}, false
	}
	return models.Intent{Type: models.IntentScheduleModification, Confidence: confidence, Schedule: payload}, true
}

// informationQuestion reports a question about where, what to bring or whom
// to ask. Times mentioned in it are context, not a change request.
func informationQuestion(in Input) bool {
	text := in.Normalized
	if !strings.Contains(in.Lowered, "?") && !questionWords.MatchString(text) && !strings.HasPrefix(text, "wo ") {
		return false
	}
	return locationPattern.MatchString(text) || equipmentPattern.MatchString(text) || contactPattern.MatchString(text)
}

// InformationMatcher recognizes questions about location, equipment and contacts.
type InformationMatcher struct{}

func (InformationMatcher) Name() string { return string(models.IntentInformationRequest) }

func (InformationMatcher) Match(in Input) (models.Intent, bool) {
	text := in.Normalized
	var kind models.InfoKind
	confidence := 0.8
	switch {
	case locationPattern.MatchString(text):
		kind = models.InfoLocation
	case equipmentPattern.MatchString(text):
		kind = models.InfoEquipment
	case contactPattern.MatchString(text):
		kind = models.InfoContact
	case strings.Contains(in.Lowered, "?") || questionWords.MatchString(text):
		kind, confidence = models.InfoGeneral, 0.6
	default:
		return models.Intent{}, false
	}
	return models.Intent{Type: models.IntentInformationRequest, Confidence: confidence, Information: &models.InformationPayload{Kind: kind}}, true
}

// EventResponseMatcher recognizes answers to a shift invitation.
type EventResponseMatcher struct{}

func (EventResponseMatcher) Name() string { return string(models.IntentEventResponse) }

func (EventResponseMatcher) Match(in Input) (models.Intent, bool) {
	text := in.Normalized
	if resp, ok := eventVocabulary[text]; ok {
		return eventIntent(resp, 0.9), true
	}
	if requestTimePattern.MatchString(text) {
		return eventIntent(models.EventRequestTime, 0.8), true
	}
	var yes, no bool
	for _, w := range strings.Fields(text) {
		switch w {
		case "ja":
			yes = true
		case "nein":
			no = true
		}
	}
	switch {
	case yes && !no:
		return eventIntent(models.EventAccept, 0.6), true
	case no && !yes:
		return eventIntent(models.EventDecline, 0.6), true
	}
	return models.Intent{}, false
}

// ParseEventResponse runs only the event-response matcher.
func ParseEventResponse(text string) models.Intent {
	return parseWith(EventResponseMatcher{}, text, nil)
}

// ParseScheduleModification runs only the schedule matcher.
func ParseScheduleModification(text string) models.Intent {
	return parseWith(ScheduleMatcher{}, text, nil)
}

// ParseEmergencyMessage runs only the emergency matcher.
func ParseEmergencyMessage(text string) models.Intent {
	return parseWith(EmergencyMatcher{}, text, nil)
}

// ParseInformationRequest runs only the information matcher.
func ParseInformationRequest(text string) models.Intent {
	return parseWith(InformationMatcher{}, text, nil)
}

// ParseOvertimeResponse reuses the event vocabulary and keeps only accept or decline.
func ParseOvertimeResponse(text string) models.Intent {
	got := ParseEventResponse(text)
	if got.Type != models.IntentEventResponse {
		return got
	}
	switch got.Event.Response {
	case models.EventAccept, models.EventDecline:
		return got
	}
	return models.UnknownIntent(text)
}

// ParseRegistrationResponse classifies text as a code, a name or invalid. It
// always returns a registration intent; invalid input has confidence 0.
func ParseRegistrationResponse(text string, codes CodeChecker) models.Intent {
	in := NewInput(text, nil)
	var got models.Intent
	if isCode(in, codes) {
		got = codeIntent(in)
	} else {
		got = parseName(in)
	}
	got.OriginalText = text
	return got
}

func parseWith(m Matcher, text string, ctx *models.Context) models.Intent {
	got, ok := m.Match(NewInput(text, ctx))
	if !ok {
		return models.UnknownIntent(text)
	}
	got.Confidence = clamp(got.Confidence)
	got.OriginalText = text
	return got
}

func isCode(in Input, codes CodeChecker) bool {
	candidate := in.Normalized
	if candidate == "" || strings.Contains(candidate, " ") {
		return false
	}
	if in.Context != nil && in.Context.Registration != nil && in.Context.Registration.Code != "" &&
		strings.EqualFold(in.Context.Registration.Code, candidate) {
		return true
	}
	return codes != nil && codes(candidate)
}

func codeIntent(in Input) models.Intent {
	return models.Intent{
		Type:         models.IntentRegistration,
		Confidence:   1.0,
		Registration: &models.RegistrationPayload{Kind: models.RegistrationKindCode, Code: strings.TrimSpace(in.Cleaned)},
	}
}

func awaitingName(ctx *models.Context) bool {
	if ctx == nil || ctx.Registration == nil || ctx.Registration.Completed {
		return false
	}
	switch ctx.Registration.Step {
	case models.RegistrationStepCodeReceived, models.RegistrationStepAwaitingName:
		return true
	}
	return false
}

// parseName accepts two or more letter words. All words capitalized scores
// 0.9; capitalized first and last words around lower-case particles
// ("Anna von der Heide") score 0.7.
func parseName(in Input) models.Intent {
	invalid := models.Intent{
		Type:         models.IntentRegistration,
		Confidence:   0,
		Registration: &models.RegistrationPayload{Kind: models.RegistrationKindInvalid},
	}
	words := strings.Fields(in.Cleaned)
	if len(words) < 2 || utf8.RuneCountInString(in.Cleaned) > 80 {
		return invalid
	}
	allCapitalized := true
	for _, w := range words {
		if !nameWord.MatchString(w) {
			return invalid
		}
		if !startsUpper(w) {
			allCapitalized = false
		}
	}
	confidence := 0.9
	if !allCapitalized {
		if !startsUpper(words[0]) || !startsUpper(words[len(words)-1]) {
			return invalid
		}
		confidence = 0.7
	}
	return models.Intent{
		Type:         models.IntentRegistration,
		Confidence:   confidence,
		Registration: &models.RegistrationPayload{Kind: models.RegistrationKindName, Name: strings.Join(words, " ")},
	}
}

func startsUpper(w string) bool {
	r, _ := utf8.DecodeRuneInString(w)
	return unicode.IsUpper(r)
}

func eventIntent(resp models.EventResponseType, confidence float64) models.Intent {
	return models.Intent{Type: models.IntentEventResponse, Confidence: confidence, Event: &models.EventPayload{Response: resp}}
}

func timedConfidence(requested string) float64 {
	if requested != "" {
		return 0.8
	}
	return 0.7
}

// extractTime returns the first HH:MM mentioned in text, or "". Minutes
// default to 00.
func extractTime(text string) string {
	for _, re := range []*regexp.Regexp{timeWithUhr, timeWithPrefix} {
		mm := re.FindStringSubmatch(text)
		if mm == nil {
			continue
		}
		hour, err := strconv.Atoi(mm[1])
		if err != nil || hour > 23 {
			continue
		}
		minute := 0
		if mm[2] != "" {
			minute, err = strconv.Atoi(mm[2])
			if err != nil || minute > 59 {
				continue
			}
		}
		return fmt.Sprintf("%02d:%02d", hour, minute)
	}
	return ""
}

func extractHours(text string) float64 {
	mm := hoursPattern.FindStringSubmatch(text)
	if mm == nil {
		return 0
	}
	h, err := strconv.ParseFloat(strings.Replace(mm[1], ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return h
}
