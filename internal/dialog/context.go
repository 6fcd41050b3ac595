// Package dialog prepares the personalized context handed to the voice
// assistant before each call: template variables, history analysis, and
// suggested conversation openers. Everything here is pure; persistence and
// similarity lookups stay with the callers.
package dialog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"companion-calls/internal/store"
)

// HistoryAnalysis condenses a user's past calls into the signals the
// assistant cares about.
type HistoryAnalysis struct {
	DominantTopics   []string
	EmotionalTrend   string
	FrequentCodes    []string
	PendingFollowUps []string
	TopicsToRevisit  []string
	TopicsToAvoid    []string
}

// Emotional trend labels, most positive first.
const (
	TrendUnknown        = "unknown"
	TrendImproving      = "mejorando"
	TrendStablePositive = "estable_positivo"
	TrendStable         = "estable"
	TrendStableNegative = "estable_negativo"
	TrendNeedsAttention = "necesita_atencion"
)

// BuildCallContext returns the variable map injected into the assistant's
// prompt template. History is expected newest-first.
func BuildCallContext(user store.User, history []store.CallRecord, now time.Time) map[string]any {
	lastTopics := "primera llamada"
	lastState := "neutral"
	specialNotes := ""
	if len(history) > 0 {
		last := history[0]
		if len(last.Topics) > 0 {
			lastTopics = strings.Join(last.Topics, ", ")
		}
		if last.Sentiment != "" {
			lastState = last.Sentiment
		}
		if last.FollowUpNeeded {
			specialNotes = "Seguimiento pendiente"
		}
	}

	return map[string]any{
		"user_name":            user.Name,
		"user_age":             user.Age(now),
		"migrant_name":         migrantName(user),
		"relationship":         relationship(user),
		"previous_calls":       len(history),
		"last_topics":          lastTopics,
		"last_emotional_state": lastState,
		"special_notes":        specialNotes,
	}
}

// AnalyzeHistory aggregates topics, behavioral codes, and sentiment across
// past calls. History is expected newest-first; ties in frequency keep
// first-seen order so results are stable.
func AnalyzeHistory(history []store.CallRecord) HistoryAnalysis {
	if len(history) == 0 {
		return HistoryAnalysis{EmotionalTrend: TrendUnknown}
	}

	topicCounts := newCounter()
	codeCounts := newCounter()
	var emotions []string
	var pendingFollowUps []string

	for _, call := range history {
		for _, topic := range call.Topics {
			topicCounts.add(topic)
		}
		for _, code := range call.BehavioralCodes {
			codeCounts.add(code)
		}
		if call.Sentiment != "" {
			emotions = append(emotions, call.Sentiment)
		}
		if call.FollowUpNeeded {
			pendingFollowUps = append(pendingFollowUps, call.ID)
		}
	}

	return HistoryAnalysis{
		DominantTopics:   topicCounts.top(5),
		EmotionalTrend:   EmotionalTrend(emotions),
		FrequentCodes:    codeCounts.top(5),
		PendingFollowUps: pendingFollowUps,
		TopicsToRevisit:  firstN(history[0].Topics, 3),
		TopicsToAvoid:    negativeTopics(history),
	}
}

// EmotionalTrend scores recorded sentiments, newest-first, with the three
// most recent calls counted at double weight.
func EmotionalTrend(emotions []string) string {
	if len(emotions) == 0 {
		return TrendUnknown
	}
	if len(emotions) == 1 {
		return emotions[0]
	}

	weights := map[string]float64{
		"muy_positivo": 2,
		"positivo":     1,
		"neutral":      0,
		"negativo":     -1,
		"muy_negativo": -2,
	}

	var score, total float64
	for i, e := range emotions {
		w := weights[e]
		if i < 3 {
			score += w * 2
			total += 2
		} else {
			score += w
			total++
		}
	}
	avg := score / total

	switch {
	case avg >= 1:
		return TrendImproving
	case avg >= 0:
		return TrendStablePositive
	case avg >= -0.5:
		return TrendStable
	case avg >= -1:
		return TrendStableNegative
	default:
		return TrendNeedsAttention
	}
}

// negativeTopics flags topics from calls that ended in a negative sentiment
// so the assistant can tread carefully. Capped at 3.
func negativeTopics(history []store.CallRecord) []string {
	var out []string
	seen := map[string]bool{}
	for _, call := range history {
		if call.Sentiment != "negativo" && call.Sentiment != "muy_negativo" {
			continue
		}
		for _, topic := range call.Topics {
			if seen[topic] {
				continue
			}
			seen[topic] = true
			out = append(out, topic)
			if len(out) == 3 {
				return out
			}
		}
	}
	return out
}

// ConversationStarters suggests openers keyed off the last call's topics.
// A user with no history gets the introduction opener.
func ConversationStarters(user store.User, a HistoryAnalysis) []string {
	companion := user.Companion
	if companion == "" {
		companion = "Lupita"
	}

	if len(a.DominantTopics) == 0 {
		return []string{fmt.Sprintf(
			"¡Hola %s! Soy %s. %s me pidió que la llamara para conocerla. ¿Cómo amaneció hoy?",
			user.Name, companion, migrantName(user))}
	}

	var starters []string
	for _, topic := range a.TopicsToRevisit {
		switch topic {
		case "salud":
			starters = append(starters, fmt.Sprintf(
				"¡Hola %s! ¿Cómo se ha sentido? La última vez me platicó que andaba un poco malita.", user.Name))
		case "familia":
			starters = append(starters, fmt.Sprintf(
				"¡Hola %s! ¿Cómo está la familia? ¿Ya vio a sus nietos?", user.Name))
		case "comida":
			starters = append(starters, fmt.Sprintf(
				"¡Hola %s! ¿Qué cocinó de rico estos días? Me quedé pensando en esa receta que me platicó.", user.Name))
		}
	}
	if len(starters) == 0 {
		starters = append(starters, fmt.Sprintf("¡Hola %s! ¿Cómo ha estado? Ya la extrañaba.", user.Name))
	}
	return starters
}

// Briefing renders a human-readable pre-call summary for operators.
func Briefing(user store.User, history []store.CallRecord, now time.Time) string {
	a := AnalyzeHistory(history)
	starters := ConversationStarters(user, a)

	var b strings.Builder
	fmt.Fprintf(&b, "=== BRIEFING PARA LLAMADA ===\n")
	fmt.Fprintf(&b, "Usuario: %s, %d años\n", fullName(user), user.Age(now))
	fmt.Fprintf(&b, "Familiar en USA: %s (%s)\n", migrantName(user), relationship(user))
	fmt.Fprintf(&b, "Llamadas anteriores: %d\n", len(history))

	if len(history) == 0 {
		b.WriteString("\nPRIMERA LLAMADA - Enfócate en conocerla y generar confianza\n")
	} else {
		fmt.Fprintf(&b, "Última llamada: hace %d días\n", daysSince(history[0].CreatedAt, now))
		fmt.Fprintf(&b, "Tendencia emocional: %s\n", a.EmotionalTrend)
		if len(a.TopicsToRevisit) > 0 {
			fmt.Fprintf(&b, "\nTemas para retomar: %s\n", strings.Join(a.TopicsToRevisit, ", "))
		}
		if len(a.PendingFollowUps) > 0 {
			fmt.Fprintf(&b, "\nSeguimientos pendientes: %d\n", len(a.PendingFollowUps))
		}
	}
	if len(a.TopicsToAvoid) > 0 {
		fmt.Fprintf(&b, "\nTemas sensibles: %s\n", strings.Join(a.TopicsToAvoid, ", "))
	}
	fmt.Fprintf(&b, "\nSugerencia de inicio:\n%s", starters[0])
	return b.String()
}

func migrantName(u store.User) string {
	if u.MigrantName != "" {
		return u.MigrantName
	}
	return "su familiar"
}

func relationship(u store.User) string {
	if u.Relationship != "" {
		return u.Relationship
	}
	return "familiar"
}

func fullName(u store.User) string {
	return strings.TrimSpace(u.Name + " " + u.LastName)
}

func daysSince(t, now time.Time) int {
	if t.IsZero() {
		return 0
	}
	d := int(now.Sub(t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func firstN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// counter tracks counts plus first-seen order for stable ranking.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter { return &counter{counts: map[string]int{}} }

func (c *counter) add(k string) {
	if _, ok := c.counts[k]; !ok {
		c.order = append(c.order, k)
	}
	c.counts[k]++
}

func (c *counter) top(n int) []string {
	keys := make([]string, len(c.order))
	copy(keys, c.order)
	sort.SliceStable(keys, func(i, j int) bool {
		return c.counts[keys[i]] > c.counts[keys[j]]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
