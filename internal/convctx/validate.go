package convctx

import (
	"fmt"
	"regexp"
	"time"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

var (
	datePattern  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	phonePattern = regexp.MustCompile(`^\+\d{10,15}$`)
)

// ValidationResult reports problems found in a context. Errors make the
// context invalid; warnings describe repairs applied to Sanitized.
type ValidationResult struct {
	IsValid   bool           `json:"isValid"`
	Errors    []string       `json:"errors"`
	Warnings  []string       `json:"warnings"`
	Sanitized models.Context `json:"sanitized"`
}

// Validate checks ctx. Negative counters are clamped to zero with a warning;
// malformed dates, times, severities, phone numbers, kinds, non-positive
// overtime values and list entries without timestamps are errors.
func Validate(ctx models.Context) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	s := ctx.Clone()

	clampCounter := func(name string, v *int) {
		if *v < 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("metadata.%s was %d, clamped to 0", name, *v))
			*v = 0
		}
	}
	clampCounter("messageCount", &s.Metadata.MessageCount)
	clampCounter("errorCount", &s.Metadata.ErrorCount)
	clampCounter("retryCount", &s.Metadata.RetryCount)

	fail := func(format string, args ...interface{}) {
		res.Errors = append(res.Errors, fmt.Sprintf(format, args...))
	}

	if sr := s.ShiftResponse; sr != nil {
		if sr.ShiftDate != "" && !isDate(sr.ShiftDate) {
			fail("shiftResponse.shiftDate %q is not YYYY-MM-DD", sr.ShiftDate)
		}
	}
	if sm := s.ScheduleModification; sm != nil {
		if !models.IsValidScheduleKind(sm.Kind) {
			fail("scheduleModification.kind %q is not a known kind", sm.Kind)
		}
		if sm.OriginalTime != "" && !timePattern.MatchString(sm.OriginalTime) {
			fail("scheduleModification.originalTime %q is not HH:MM", sm.OriginalTime)
		}
		if sm.RequestedTime != "" && !timePattern.MatchString(sm.RequestedTime) {
			fail("scheduleModification.requestedTime %q is not HH:MM", sm.RequestedTime)
		}
	}
	if e := s.Emergency; e != nil {
		if !models.IsValidEmergencyKind(e.Kind) {
			fail("emergency.kind %q is not a known kind", e.Kind)
		}
		switch e.Details.Severity {
		case models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
		default:
			fail("emergency.details.severity %q must be low, medium or high", e.Details.Severity)
		}
		if e.Details.DelayMinutes < 0 {
			fail("emergency.details.delayMinutes must not be negative")
		}
	}
	if o := s.Overtime; o != nil {
		if o.AdditionalHours <= 0 {
			fail("overtime.additionalHours must be positive, got %v", o.AdditionalHours)
		}
		if o.HourlyRate <= 0 {
			fail("overtime.hourlyRate must be positive, got %v", o.HourlyRate)
		}
	}
	for i, r := range s.InformationRequests {
		if !models.IsValidInfoKind(r.Kind) {
			fail("informationRequests[%d].kind %q is not a known kind", i, r.Kind)
		}
		if r.Timestamp.IsZero() {
			fail("informationRequests[%d].timestamp is missing", i)
		}
	}
	for i, u := range s.ContactUpdates {
		if !models.IsValidContactKind(u.Kind) {
			fail("contactUpdates[%d].kind %q is not a known kind", i, u.Kind)
		}
		if u.Timestamp.IsZero() {
			fail("contactUpdates[%d].timestamp is missing", i)
		}
		if u.Kind == models.ContactKindPhone && !phonePattern.MatchString(u.NewValue) {
			fail("contactUpdates[%d].newValue %q is not a +E.164 phone number", i, u.NewValue)
		}
	}
	if s.ResumeState != "" && !models.IsValidState(s.ResumeState) {
		fail("resumeState %q is not a known state", s.ResumeState)
	}

	res.IsValid = len(res.Errors) == 0
	res.Sanitized = s
	return res
}

func isDate(v string) bool {
	if !datePattern.MatchString(v) {
		return false
	}
	_, err := time.Parse(time.DateOnly, v)
	return err == nil
}

// IsPhone reports whether v is a canonical +E.164 channel address.
func IsPhone(v string) bool {
	return phonePattern.MatchString(v)
}

// IsTime reports whether v is an HH:MM time of day.
func IsTime(v string) bool {
	return timePattern.MatchString(v)
}
