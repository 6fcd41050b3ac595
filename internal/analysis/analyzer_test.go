package analysis

import (
	"reflect"
	"testing"
)

func TestDetectBehavioralCodes_EnumerationOrder(t *testing.T) {
	// Family is mentioned before food in the text, but emission follows the
	// fixed code order, not mention order.
	got := DetectBehavioralCodes("Mi hija vino y cocinamos sopa, pero me siento sola")
	want := []Code{CodeLoneliness, CodeFamily, CodeFood}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("codes = %v, want %v", got, want)
	}
}

func TestDetectBehavioralCodes_NoMatch(t *testing.T) {
	if got := DetectBehavioralCodes("qué tal"); len(got) != 0 {
		t.Fatalf("expected no codes, got %v", got)
	}
}

func TestDetectEmotionalState_PriorityOrder(t *testing.T) {
	cases := []struct {
		text string
		want EmotionalState
	}{
		{"estoy muy feliz hoy", StateVeryPositive},
		// "feliz" (very positive) and "triste" (negative) co-occur; the
		// earlier bucket in priority order wins.
		{"a veces feliz, a veces triste", StateVeryPositive},
		{"todo bien por aquí", StatePositive},
		{"todo normal", StateNeutral},
		{"me siento mal", StateNegative},
		{"ha sido terrible", StateVeryNegative},
		{"", StateNeutral},
		{"xyzzy", StateNeutral},
	}
	for _, tc := range cases {
		if got := DetectEmotionalState(tc.text); got != tc.want {
			t.Fatalf("DetectEmotionalState(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestDetectEmotionalState_WordBoundaries(t *testing.T) {
	// "tamales" contains the substring "mal" and "también" contains "bien";
	// neither is a sentiment mention.
	cases := []string{
		"ayer hice tamales",
		"ella también vino",
	}
	for _, text := range cases {
		if got := DetectEmotionalState(text); got != StateNeutral {
			t.Fatalf("DetectEmotionalState(%q) = %q, want neutral", text, got)
		}
	}
}

func TestExtractTopics(t *testing.T) {
	got := ExtractTopics("Fui al doctor y luego a la iglesia con mi hijo")
	want := []string{"salud", "familia", "fe"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
}

func TestExtractHealthMentions_CapsAtFive(t *testing.T) {
	text := "Me duele el dolor. Tomé medicina. Vi al doctor. Fui al hospital. Tengo diabetes. Me subió la presión."
	got := ExtractHealthMentions(text)
	if len(got) != 5 {
		t.Fatalf("expected 5 mentions, got %d: %v", len(got), got)
	}
	if got[0] != "Me duele el dolor" {
		t.Fatalf("mentions must preserve transcript order, got first %q", got[0])
	}
}

func TestExtractFamilyMentions_TranscriptOrder(t *testing.T) {
	got := ExtractFamilyMentions("Hablé con mi nieta ayer! Mañana viene mi hermano. Hoy no salí.")
	want := []string{"Hablé con mi nieta ayer", "Mañana viene mi hermano"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mentions = %v, want %v", got, want)
	}
}

func TestDetectCrisis(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"ya no puedo más", true},
		{"necesito una ambulancia", true},
		{"es una emergencia", true},
		{"hoy cociné frijoles", false},
	}
	for _, tc := range cases {
		if got := DetectCrisis(tc.text); got != tc.want {
			t.Fatalf("DetectCrisis(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDetermineFollowUp(t *testing.T) {
	cases := []struct {
		name  string
		codes []Code
		state EmotionalState
		want  bool
	}{
		{"urgent code alone", []Code{CodeLoneliness}, StateVeryPositive, true},
		{"negative state alone", nil, StateNegative, true},
		{"very negative state alone", nil, StateVeryNegative, true},
		{"non-urgent code neutral", []Code{CodeFood, CodeFaith}, StateNeutral, false},
		{"nothing", nil, StateNeutral, false},
		{"health code", []Code{CodeHealth}, StateNeutral, true},
	}
	for _, tc := range cases {
		if got := DetermineFollowUp(tc.codes, tc.state); got != tc.want {
			t.Fatalf("%s: DetermineFollowUp = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestAnalyze_TamalesScenario(t *testing.T) {
	r := Analyze("Ayer hice tamales, me siento sola sin mi familia")

	wantCodes := map[Code]bool{CodeLoneliness: true, CodeFamily: true, CodeFood: true}
	for c := range wantCodes {
		found := false
		for _, got := range r.BehavioralCodes {
			if got == c {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected code %s in %v", c, r.BehavioralCodes)
		}
	}
	if r.EmotionalState != StateNeutral {
		t.Fatalf("state = %q, want neutral", r.EmotionalState)
	}
	if !r.FollowUpNeeded {
		t.Fatalf("expected follow-up via SOL")
	}
	if r.CrisisDetected {
		t.Fatalf("unexpected crisis flag")
	}
}

func TestIdentifyNeeds(t *testing.T) {
	got := IdentifyNeeds([]Code{CodeLoneliness, CodeFood, CodeSleep})
	want := []string{"Necesita más contacto social", "Problemas de sueño - revisar"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("needs = %v, want %v", got, want)
	}
}

func TestActionItems(t *testing.T) {
	got := ActionItems([]Code{CodeHealth, CodeMedication}, StateNegative)
	want := []string{
		"Recordar sobre telemedicina gratuita",
		"Llamar mañana para seguimiento",
		"Preguntar si necesita ayuda con medicamentos",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
}

func TestSummary(t *testing.T) {
	got := Summary([]Code{CodeFood}, StateNeutral, []string{"comida"})
	want := "Estado emocional: neutral | Códigos: COM | Temas: comida"
	if got != want {
		t.Fatalf("summary = %q, want %q", got, want)
	}
}
