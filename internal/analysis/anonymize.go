package analysis

import "regexp"

// Anonymization tokens. Replacement is deterministic and idempotent:
// re-anonymizing already-anonymized text produces no further changes, since
// the all-caps bracketed tokens match none of the patterns below.
const (
	tokenName    = "[NOMBRE]"
	tokenPhone   = "[TELEFONO]"
	tokenAge     = "[EDAD] años"
	tokenAddress = "[DIRECCION]"
)

var (
	// Capitalized word followed by lowercase letters, Spanish vowels included.
	nameRe    = regexp.MustCompile(`\b[A-Z][a-záéíóú]+\b`)
	phoneRe   = regexp.MustCompile(`\d{10}`)
	ageRe     = regexp.MustCompile(`(?i)\d+\s*(años|año)`)
	addressRe = regexp.MustCompile(`(?i)calle\s+[^,]+`)
)

// Anonymize strips personally identifying substrings from a transcript before
// it leaves the per-user boundary (similarity index, cross-user analysis).
func Anonymize(text string) string {
	out := nameRe.ReplaceAllString(text, tokenName)
	out = phoneRe.ReplaceAllString(out, tokenPhone)
	out = ageRe.ReplaceAllString(out, tokenAge)
	out = addressRe.ReplaceAllString(out, tokenAddress)
	return out
}

// AgeGroup buckets an exact age for cross-user analysis. Zero means unknown.
func AgeGroup(age int) string {
	switch {
	case age <= 0:
		return "desconocido"
	case age < 40:
		return "30-39"
	case age < 50:
		return "40-49"
	case age < 60:
		return "50-59"
	case age < 70:
		return "60-69"
	case age < 80:
		return "70-79"
	default:
		return "80+"
	}
}

// ConversationDoc is the non-identifying projection submitted to the
// similarity index.
type ConversationDoc struct {
	Content         string   `json:"content"`
	EmotionalState  string   `json:"emotionalState"`
	BehavioralCodes []string `json:"behavioralCodes"`
	Topics          []string `json:"topics"`
	AgeGroup        string   `json:"ageGroup"`
	Region          string   `json:"region"`
	CallDuration    int      `json:"callDuration"`
	Timestamp       string   `json:"timestamp"`
}

// NewConversationDoc builds the index document from an analysis result.
func NewConversationDoc(transcript string, r Result, age, durationSeconds int, timestamp string) ConversationDoc {
	codes := make([]string, len(r.BehavioralCodes))
	for i, c := range r.BehavioralCodes {
		codes[i] = string(c)
	}
	return ConversationDoc{
		Content:         Anonymize(transcript),
		EmotionalState:  string(r.EmotionalState),
		BehavioralCodes: codes,
		Topics:          r.Topics,
		AgeGroup:        AgeGroup(age),
		Region:          "mexico",
		CallDuration:    durationSeconds,
		Timestamp:       timestamp,
	}
}
