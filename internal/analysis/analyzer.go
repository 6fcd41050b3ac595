// Package analysis classifies call transcripts by keyword matching.
//
// Every function here is pure and deterministic: identical input text always
// yields identical output, so callers can unit-test against literal
// transcripts without mocking any collaborator. No I/O, no clocks.
package analysis

import (
	"strings"
	"unicode"
)

// Result aggregates all per-transcript classification outputs.
type Result struct {
	BehavioralCodes []Code
	EmotionalState  EmotionalState
	Topics          []string
	HealthMentions  []string
	FamilyMentions  []string
	NeedsIdentified []string
	ActionItems     []string
	FollowUpNeeded  bool
	CrisisDetected  bool
	Summary         string
}

// maxMentions caps the excerpt lists persisted per call.
const maxMentions = 5

// Analyze runs the full classifier set over one transcript.
func Analyze(transcript string) Result {
	lower := strings.ToLower(transcript)

	codes := DetectBehavioralCodes(transcript)
	state := DetectEmotionalState(transcript)
	topics := ExtractTopics(transcript)

	r := Result{
		BehavioralCodes: codes,
		EmotionalState:  state,
		Topics:          topics,
		HealthMentions:  ExtractHealthMentions(transcript),
		FamilyMentions:  ExtractFamilyMentions(transcript),
		NeedsIdentified: IdentifyNeeds(codes),
		ActionItems:     ActionItems(codes, state),
		FollowUpNeeded:  DetermineFollowUp(codes, state),
		CrisisDetected:  containsAny(lower, crisisPhrases),
		Summary:         Summary(codes, state, topics),
	}
	return r
}

// DetectBehavioralCodes returns every code whose keyword set matches the
// transcript. Emission order follows the fixed code enumeration.
func DetectBehavioralCodes(transcript string) []Code {
	lower := strings.ToLower(transcript)
	var codes []Code
	for _, e := range behavioralCodes {
		if containsAny(lower, e.Keywords) {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

// DetectEmotionalState maps a transcript to exactly one of the five buckets.
// Buckets are tested in priority order and the first match wins; with no
// match, the state is neutral.
//
// Sentiment keywords match on word boundaries, not raw substrings: "mal"
// must not fire inside "tamales", nor "bien" inside "también".
func DetectEmotionalState(transcript string) EmotionalState {
	words := wordNormalize(transcript)
	for _, e := range emotionBuckets {
		if containsAnyWord(words, e.Keywords) {
			return e.State
		}
	}
	return StateNeutral
}

// ExtractTopics returns matched topic labels in table order.
func ExtractTopics(transcript string) []string {
	lower := strings.ToLower(transcript)
	var topics []string
	for _, e := range topicTable {
		if containsAny(lower, e.Keywords) {
			topics = append(topics, e.Topic)
		}
	}
	return topics
}

// ExtractHealthMentions returns up to five sentences mentioning health, in
// transcript order.
func ExtractHealthMentions(transcript string) []string {
	return extractMentions(transcript, healthMentionKeywords)
}

// ExtractFamilyMentions returns up to five sentences mentioning family, in
// transcript order.
func ExtractFamilyMentions(transcript string) []string {
	return extractMentions(transcript, familyMentionKeywords)
}

// DetectCrisis reports whether the transcript contains any high-risk phrase.
// Independent of behavioral codes and emotional state.
func DetectCrisis(transcript string) bool {
	return containsAny(strings.ToLower(transcript), crisisPhrases)
}

// DetermineFollowUp is true when any urgent code fired or the emotional state
// is negative. A single urgent code is sufficient regardless of state; this
// is an OR, not a weighted score.
func DetermineFollowUp(codes []Code, state EmotionalState) bool {
	for _, c := range codes {
		if urgentCodes[c] {
			return true
		}
	}
	return state == StateNegative || state == StateVeryNegative
}

// IdentifyNeeds maps detected codes to standing needs, in code order.
func IdentifyNeeds(codes []Code) []string {
	var needs []string
	for _, c := range codes {
		if n, ok := needsByCode[c]; ok {
			needs = append(needs, n)
		}
	}
	return needs
}

// ActionItems derives the concrete follow-up actions for the care team.
func ActionItems(codes []Code, state EmotionalState) []string {
	has := make(map[Code]bool, len(codes))
	for _, c := range codes {
		has[c] = true
	}

	var actions []string
	if has[CodeHealth] {
		actions = append(actions, "Recordar sobre telemedicina gratuita")
	}
	if has[CodeLoneliness] {
		actions = append(actions, "Programar llamadas más frecuentes")
	}
	if state == StateNegative || state == StateVeryNegative {
		actions = append(actions, "Llamar mañana para seguimiento")
	}
	if has[CodeMedication] {
		actions = append(actions, "Preguntar si necesita ayuda con medicamentos")
	}
	return actions
}

// Summary renders the one-line operator summary.
func Summary(codes []Code, state EmotionalState, topics []string) string {
	var parts []string
	if state != "" {
		parts = append(parts, "Estado emocional: "+string(state))
	}
	if len(codes) > 0 {
		strs := make([]string, len(codes))
		for i, c := range codes {
			strs[i] = string(c)
		}
		parts = append(parts, "Códigos: "+strings.Join(strs, ", "))
	}
	if len(topics) > 0 {
		parts = append(parts, "Temas: "+strings.Join(topics, ", "))
	}
	return strings.Join(parts, " | ")
}

func extractMentions(transcript string, keywords []string) []string {
	var mentions []string
	for _, sentence := range splitSentences(transcript) {
		if containsAny(strings.ToLower(sentence), keywords) {
			mentions = append(mentions, strings.TrimSpace(sentence))
			if len(mentions) == maxMentions {
				break
			}
		}
	}
	return mentions
}

// splitSentences splits on sentence-terminal punctuation. Empty segments
// (consecutive terminators) are dropped.
func splitSentences(text string) []string {
	segs := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	out := segs[:0]
	for _, s := range segs {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// wordNormalize lowercases text and collapses non-letter runs to single
// spaces, padded so phrase keywords can be matched with boundaries.
func wordNormalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, text)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

func containsAnyWord(normalized string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(normalized, " "+kw+" ") {
			return true
		}
	}
	return false
}
