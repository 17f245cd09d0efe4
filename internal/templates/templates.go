// Package templates renders the German reply texts sent to workers.
//
// Renderers take typed domain data and never the raw conversation context.
package templates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BTreeMap/ShiftPipe/internal/models"
)

// ErrorKind selects a generic error reply.
type ErrorKind string

const (
	ErrorInvalidResponse    ErrorKind = "invalid_response"
	ErrorRegistrationFailed ErrorKind = "registration_failed"
	ErrorInvalidCode        ErrorKind = "invalid_code"
	ErrorSystem             ErrorKind = "system_error"
	ErrorUnknown            ErrorKind = "unknown"
)

const (
	// SegmentLength is the number of characters in one SMS segment.
	SegmentLength = 160
	// MaxSegments is the longest message the transport accepts.
	MaxSegments = 10
)

var weekdays = [...]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"}

// FormatDate renders a YYYY-MM-DD date as "Montag, 03.03.2025". Unparseable
// input is returned unchanged.
func FormatDate(date string) string {
	d, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s, %s", weekdays[d.Weekday()], d.Format("02.01.2006"))
}

// FormatDeadline renders a deadline in loc as "04.03. um 12:00 Uhr".
func FormatDeadline(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("02.01. um 15:04") + " Uhr"
}

func formatHours(h float64) string {
	return strings.Replace(strconv.FormatFloat(h, 'f', -1, 64), ".", ",", 1)
}

func formatEuro(v float64) string {
	return strings.Replace(fmt.Sprintf("%.2f €", v), ".", ",", 1)
}

func greeting(name string) string {
	if name == "" {
		return "Hallo!"
	}
	return fmt.Sprintf("Hallo %s!", name)
}

// withName appends ", name" to a salutation when the name is known.
func withName(salutation, name string) string {
	if name == "" {
		return salutation
	}
	return salutation + ", " + name
}

func shiftTime(s models.Shift) string {
	switch {
	case s.StartTime != "" && s.EndTime != "":
		return fmt.Sprintf("%s bis %s Uhr", s.StartTime, s.EndTime)
	case s.StartTime != "":
		return fmt.Sprintf("ab %s Uhr", s.StartTime)
	default:
		return ""
	}
}

func contactLine(s *models.Shift) string {
	if s == nil || s.ContactName == "" {
		return "Bitte kläre die Details vor Ort mit deinem Ansprechpartner."
	}
	if s.ContactPhone == "" {
		return fmt.Sprintf("Bitte kläre die Details vor Ort mit %s.", s.ContactName)
	}
	return fmt.Sprintf("Bitte kläre die Details mit %s (%s).", s.ContactName, s.ContactPhone)
}

// ShiftNotification invites a worker to a shift with numbered choices.
func ShiftNotification(workerName string, s models.Shift) string {
	var b strings.Builder
	b.WriteString(greeting(workerName))
	b.WriteString(" Wir haben einen neuen Einsatz für dich:\n\n")
	fmt.Fprintf(&b, "📋 %s\n", s.Title)
	fmt.Fprintf(&b, "📅 %s\n", FormatDate(s.Date))
	if t := shiftTime(s); t != "" {
		fmt.Fprintf(&b, "🕐 %s\n", t)
	}
	if s.Location != "" {
		fmt.Fprintf(&b, "📍 %s\n", s.Location)
	}
	if s.HourlyRate > 0 {
		fmt.Fprintf(&b, "💶 %s pro Stunde\n", formatEuro(s.HourlyRate))
	}
	b.WriteString("\nHast du Zeit?\n1️⃣ Ja, ich bin dabei\n2️⃣ Nein, leider nicht\n3️⃣ Ich habe eine Frage")
	return b.String()
}

// RegistrationPrompt welcomes a new worker after a valid code and asks for
// their name.
func RegistrationPrompt() string {
	return "Willkommen bei ShiftPipe! 👋 Dein Code ist gültig. " +
		"Bitte schicke uns jetzt deinen vollständigen Namen (Vor- und Nachname)."
}

// RegistrationConfirmation confirms a completed registration.
func RegistrationConfirmation(name string) string {
	return fmt.Sprintf("Danke, %s! Deine Registrierung ist abgeschlossen. "+
		"Ab jetzt bekommst du unsere Einsatzangebote per SMS.", name)
}

// InvalidName asks for the name again.
func InvalidName() string {
	return "Das sieht nicht nach einem vollständigen Namen aus. " +
		"Bitte schicke deinen Vor- und Nachnamen, z.B. \"Max Mustermann\"."
}

// ShiftAccepted confirms an accepted shift.
func ShiftAccepted(workerName string, s models.Shift) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s! ✅ Du bist für \"%s\" am %s eingeplant.", withName("Super", workerName), s.Title, FormatDate(s.Date))
	if t := shiftTime(s); t != "" {
		fmt.Fprintf(&b, " Zeit: %s.", t)
	}
	if s.MeetingPoint != "" {
		fmt.Fprintf(&b, " Treffpunkt: %s.", s.MeetingPoint)
	} else if s.Location != "" {
		fmt.Fprintf(&b, " Ort: %s.", s.Location)
	}
	b.WriteString(" Wir freuen uns auf dich!")
	return b.String()
}

// ShiftDeclined confirms a declined shift.
func ShiftDeclined(workerName string, s models.Shift) string {
	return fmt.Sprintf("%s, aber danke für deine Rückmeldung zu \"%s\". "+
		"Wir melden uns beim nächsten Einsatz wieder bei dir.", withName("Schade", workerName), s.Title)
}

// TimeRequestConfirmation confirms that the worker may answer later.
func TimeRequestConfirmation(workerName string, s models.Shift, deadline time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s. Bitte gib uns bis %s Bescheid, ob du \"%s\" übernehmen kannst. "+
		"Antworte einfach mit 1 (Ja) oder 2 (Nein).", withName("Kein Problem", workerName), FormatDeadline(deadline, loc), s.Title)
}

// TimeRequestReminder is sent when a time-request deadline has passed.
func TimeRequestReminder(workerName string, s models.Shift) string {
	return fmt.Sprintf("%s Wir warten noch auf deine Antwort zu \"%s\" am %s. "+
		"Bitte antworte mit 1 (Ja) oder 2 (Nein).", greeting(workerName), s.Title, FormatDate(s.Date))
}

// ScheduleModificationConfirmation acknowledges a schedule change request and
// hands the worker off to the on-site contact.
func ScheduleModificationConfirmation(workerName string, mod models.ScheduleModificationContext, s *models.Shift) string {
	var head string
	switch mod.Kind {
	case models.ScheduleStartTime:
		if mod.RequestedTime != "" {
			head = fmt.Sprintf("%s. Wir haben notiert, dass du erst um %s Uhr anfangen möchtest.", withName("Alles klar", workerName), mod.RequestedTime)
		} else {
			head = fmt.Sprintf("%s. Wir haben notiert, dass du deinen Arbeitsbeginn ändern möchtest.", withName("Alles klar", workerName))
		}
	case models.ScheduleEndTime:
		if mod.RequestedTime != "" {
			head = fmt.Sprintf("%s. Wir haben notiert, dass du um %s Uhr Schluss machen möchtest.", withName("Alles klar", workerName), mod.RequestedTime)
		} else {
			head = fmt.Sprintf("%s. Wir haben notiert, dass du dein Arbeitsende ändern möchtest.", withName("Alles klar", workerName))
		}
	case models.ScheduleDuration:
		head = fmt.Sprintf("%s. Wir haben deine Anfrage zur Einsatzdauer notiert.", withName("Alles klar", workerName))
	default:
		head = fmt.Sprintf("%s. Wir haben deine Anfrage zur Terminänderung notiert.", withName("Danke", workerName))
	}
	return head + " " + contactLine(s)
}

// EmergencyConfirmation acknowledges an emergency report.
func EmergencyConfirmation(workerName string, e models.EmergencyContext) string {
	switch e.Kind {
	case models.EmergencyLate:
		if e.Details.DelayMinutes > 0 {
			return fmt.Sprintf("%s. Wir haben notiert, dass du etwa %d Minuten später kommst. "+
				"Bitte fahr vorsichtig!", withName("Danke für die Info", workerName), e.Details.DelayMinutes)
		}
		return fmt.Sprintf("%s. Wir haben deine Verspätung notiert. Bitte fahr vorsichtig!", withName("Danke für die Info", workerName))
	case models.EmergencySick:
		return fmt.Sprintf("%s! 🤒 Wir haben deine Krankmeldung erhalten und kümmern uns um Ersatz. "+
			"Bitte reiche deine Krankmeldung nach.", withName("Gute Besserung", workerName))
	case models.EmergencyInjury:
		return fmt.Sprintf("%s! Wir haben den Unfall notiert und ein Koordinator meldet sich sofort bei dir. "+
			"Im Notfall ruf bitte die 112 an.", withName("Das tut uns leid", workerName))
	case models.EmergencyCancellation:
		return fmt.Sprintf("%s. Wir haben deine Absage notiert.", withName("Danke für deine Nachricht", workerName))
	default:
		return fmt.Sprintf("%s. Ein Koordinator meldet sich so schnell wie möglich bei dir.", withName("Danke für deine Nachricht", workerName))
	}
}

// InformationResponse answers a question about a shift. A nil shift gets a
// hand-off reply.
func InformationResponse(kind models.InfoKind, s *models.Shift) string {
	if s == nil {
		return "Dazu haben wir gerade keine Einsatzdaten. Ein Koordinator meldet sich bei dir."
	}
	switch kind {
	case models.InfoLocation:
		msg := fmt.Sprintf("📍 Der Einsatz \"%s\" findet hier statt: %s.", s.Title, s.Location)
		if s.MeetingPoint != "" {
			msg += fmt.Sprintf(" Treffpunkt: %s.", s.MeetingPoint)
		}
		return msg
	case models.InfoEquipment:
		if s.Equipment == "" {
			return fmt.Sprintf("Für \"%s\" brauchst du keine besondere Ausrüstung. Bitte komm in bequemer Kleidung.", s.Title)
		}
		return fmt.Sprintf("Für \"%s\" bitte mitbringen: %s.", s.Title, s.Equipment)
	case models.InfoContact:
		if s.ContactName == "" {
			return "Dein Ansprechpartner vor Ort wird dir noch mitgeteilt."
		}
		if s.ContactPhone == "" {
			return fmt.Sprintf("Dein Ansprechpartner vor Ort ist %s.", s.ContactName)
		}
		return fmt.Sprintf("Dein Ansprechpartner vor Ort ist %s, erreichbar unter %s.", s.ContactName, s.ContactPhone)
	case models.InfoGeneral:
		msg := fmt.Sprintf("\"%s\" am %s", s.Title, FormatDate(s.Date))
		if t := shiftTime(*s); t != "" {
			msg += ", " + t
		}
		if s.Location != "" {
			msg += ", " + s.Location
		}
		return msg + ". Für weitere Fragen meldet sich ein Koordinator bei dir."
	default:
		return "Diese Frage können wir leider nicht automatisch beantworten. Ein Koordinator meldet sich bei dir."
	}
}

// OvertimeRequest asks a worker to stay longer.
func OvertimeRequest(workerName string, s models.Shift, hours, rate float64) string {
	return fmt.Sprintf("%s Kannst du bei \"%s\" heute %s Stunden länger bleiben? Vergütung: %s pro Stunde.\n"+
		"1️⃣ Ja\n2️⃣ Nein", greeting(workerName), s.Title, formatHours(hours), formatEuro(rate))
}

// OvertimeAccepted confirms accepted overtime.
func OvertimeAccepted(workerName string, hours float64) string {
	return fmt.Sprintf("%s! 💪 Wir haben %s zusätzliche Stunden für dich eingetragen.", withName("Danke", workerName), formatHours(hours))
}

// OvertimeDeclined confirms declined overtime.
func OvertimeDeclined(workerName string) string {
	return fmt.Sprintf("%s. Danke für deine Rückmeldung, wir planen ohne Überstunden.", withName("Alles klar", workerName))
}

// ContactUpdateConfirmation confirms a changed contact detail.
func ContactUpdateConfirmation(kind models.ContactKind, newValue string) string {
	var label string
	switch kind {
	case models.ContactKindPhone:
		label = "Telefonnummer"
	case models.ContactKindEmail:
		label = "E-Mail-Adresse"
	case models.ContactKindEmergencyContact:
		label = "Notfallkontakt"
	default:
		label = "Kontaktangabe"
	}
	return fmt.Sprintf("Deine %s wurde auf %s aktualisiert.", label, newValue)
}

// ErrorMessage renders a generic error reply.
func ErrorMessage(kind ErrorKind) string {
	switch kind {
	case ErrorInvalidResponse:
		return "Entschuldigung, das haben wir nicht verstanden. 🤔 Bitte antworte mit 1 (Ja), 2 (Nein) oder 3 (Frage)."
	case ErrorRegistrationFailed:
		return "Die Registrierung hat leider nicht geklappt. Bitte versuche es später noch einmal."
	case ErrorInvalidCode:
		return "Dieser Registrierungscode ist leider ungültig. Bitte prüfe den Code und versuche es erneut."
	case ErrorSystem:
		return "Es ist ein technischer Fehler aufgetreten. Bitte versuche es in ein paar Minuten noch einmal."
	default:
		return "Es ist ein Fehler aufgetreten. Ein Koordinator meldet sich bei dir."
	}
}

// NotUnderstood is the fallback when no choice is expected.
func NotUnderstood() string {
	return "Entschuldigung, das haben wir nicht verstanden. 🤔 " +
		"Bitte formuliere deine Nachricht anders oder wende dich an deinen Koordinator."
}

// QuestionPrompt invites the worker to ask their question.
func QuestionPrompt(s models.Shift) string {
	return fmt.Sprintf("Gerne! Was möchtest du zu \"%s\" wissen? "+
		"Frag uns z.B. nach Ort, Ausrüstung oder Ansprechpartner.", s.Title)
}

// ResumeEventPrompt repeats the pending shift question after an answer.
func ResumeEventPrompt() string {
	return "Bist du dabei? Antworte mit 1 (Ja) oder 2 (Nein)."
}

// CoordinatorAlert is the internal note sent to the coordinator number.
func CoordinatorAlert(workerName, phone, topic, detail string) string {
	if workerName == "" {
		workerName = "Unbekannt"
	}
	msg := fmt.Sprintf("[ShiftPipe] %s: %s (%s)", topic, workerName, phone)
	if detail != "" {
		msg += " - " + detail
	}
	return msg
}

// LengthCheck is the result of ValidateMessageLength.
type LengthCheck struct {
	Length   int  `json:"length"`
	Segments int  `json:"segments"`
	Valid    bool `json:"valid"`
}

// ValidateMessageLength counts characters and SMS segments.
func ValidateMessageLength(text string) LengthCheck {
	n := utf8.RuneCountInString(text)
	segments := (n + SegmentLength - 1) / SegmentLength
	return LengthCheck{Length: n, Segments: segments, Valid: segments <= MaxSegments}
}

// Truncate cuts text to at most max characters, ending in "..." only when
// something was cut.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
