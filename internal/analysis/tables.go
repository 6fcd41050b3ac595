package analysis

// Classification tables. These are configuration, not logic: adding a code,
// bucket, or topic must not require touching the matching algorithm.
// All matching is case-folded substring search, so keywords stay lowercase.

// Code is a short behavioral label detected in a transcript.
type Code string

const (
	CodeLoneliness Code = "SOL"
	CodeFamily     Code = "FAM"
	CodeHealth     Code = "SAL"
	CodeEmotion    Code = "EMO"
	CodeMemory     Code = "REC"
	CodeWorry      Code = "PRE"
	CodeGratitude  Code = "GRA"
	CodeRoutine    Code = "RUT"
	CodeFood       Code = "COM"
	CodeFaith      Code = "FE"
	CodeMoney      Code = "DIN"
	CodeMigration  Code = "MIG"
	CodeTechnology Code = "TEC"
	CodeNeighbors  Code = "VEC"
	CodeMedication Code = "MED"
	CodeSleep      Code = "SUE"
)

type codeEntry struct {
	Code     Code
	Label    string
	Keywords []string
}

// behavioralCodes is the fixed 16-code enumeration. Emission order for
// detection follows this slice, not mention order in the transcript.
var behavioralCodes = []codeEntry{
	{CodeLoneliness, "Soledad", []string{"solo", "sola", "soledad", "extraño", "extrañar", "falta", "nadie"}},
	{CodeFamily, "Familia", []string{"hijo", "hija", "nieto", "nieta", "familia", "hermano", "hermana"}},
	{CodeHealth, "Salud", []string{"dolor", "enfermo", "doctor", "medicina", "hospital", "síntoma"}},
	{CodeEmotion, "Emociones", []string{"llorar", "triste", "feliz", "contento", "preocupado", "angustia"}},
	{CodeMemory, "Recuerdos", []string{"recuerdo", "antes", "cuando era", "hace años", "mi época"}},
	{CodeWorry, "Preocupación", []string{"preocupa", "miedo", "angustia", "nervios", "ansiedad"}},
	{CodeGratitude, "Gratitud", []string{"gracias", "bendición", "agradezco", "qué bueno"}},
	{CodeRoutine, "Rutina", []string{"mañana", "todos los días", "siempre", "rutina", "costumbre"}},
	{CodeFood, "Comida", []string{"comida", "cocinar", "receta", "comer", "tamales", "sopa"}},
	{CodeFaith, "Fe", []string{"dios", "iglesia", "misa", "rezar", "bendición", "virgen"}},
	{CodeMoney, "Dinero", []string{"dinero", "caro", "pagar", "cuesta", "economía"}},
	{CodeMigration, "Migración", []string{"estados unidos", "allá", "cruzar", "frontera", "dólares"}},
	{CodeTechnology, "Tecnología", []string{"celular", "teléfono", "internet", "mensaje", "video"}},
	{CodeNeighbors, "Vecinos", []string{"vecino", "vecina", "colonia", "barrio", "comunidad"}},
	{CodeMedication, "Medicamentos", []string{"pastilla", "medicina", "receta", "farmacia", "tomar"}},
	{CodeSleep, "Sueño", []string{"dormir", "sueño", "insomnio", "descansar", "noche"}},
}

// EmotionalState is one of five ordered sentiment buckets.
type EmotionalState string

const (
	StateVeryPositive EmotionalState = "muy_positivo"
	StatePositive     EmotionalState = "positivo"
	StateNeutral      EmotionalState = "neutral"
	StateNegative     EmotionalState = "negativo"
	StateVeryNegative EmotionalState = "muy_negativo"
)

type emotionEntry struct {
	State    EmotionalState
	Keywords []string
}

// emotionBuckets are tested in this priority order; first match wins.
// Co-occurring sentiment words resolve to the earlier bucket.
var emotionBuckets = []emotionEntry{
	{StateVeryPositive, []string{"feliz", "contento", "alegre", "maravilloso", "excelente"}},
	{StatePositive, []string{"bien", "bueno", "gracias", "bonito", "tranquilo"}},
	{StateNeutral, []string{"normal", "igual", "ahí", "más o menos"}},
	{StateNegative, []string{"mal", "triste", "preocupado", "difícil", "cansado"}},
	{StateVeryNegative, []string{"terrible", "horrible", "llorar", "solo", "deprimido"}},
}

type topicEntry struct {
	Topic    string
	Keywords []string
}

var topicTable = []topicEntry{
	{"salud", []string{"doctor", "medicina", "dolor", "enfermo", "hospital"}},
	{"familia", []string{"hijo", "hija", "nieto", "esposo", "hermano"}},
	{"comida", []string{"cocinar", "comida", "receta", "comer"}},
	{"soledad", []string{"solo", "extraño", "falta"}},
	{"dinero", []string{"dinero", "pagar", "caro", "cuesta"}},
	{"fe", []string{"dios", "iglesia", "misa", "rezar"}},
	{"recuerdos", []string{"antes", "recuerdo", "cuando era"}},
}

var healthMentionKeywords = []string{
	"dolor", "medicina", "pastilla", "doctor", "hospital",
	"enfermo", "síntoma", "presión", "azúcar", "diabetes",
}

var familyMentionKeywords = []string{
	"hijo", "hija", "nieto", "nieta", "esposo",
	"esposa", "hermano", "hermana", "mamá", "papá",
}

var crisisPhrases = []string{
	"me quiero morir",
	"no quiero vivir",
	"suicid",
	"acabar con todo",
	"ya no puedo más",
	"emergencia",
	"ambulancia",
}

// urgentCodes force a follow-up regardless of emotional state.
var urgentCodes = map[Code]bool{
	CodeLoneliness: true,
	CodeHealth:     true,
	CodeEmotion:    true,
	CodeWorry:      true,
}

// needsByCode maps detected codes to the concrete need surfaced to the care
// team. Codes without an entry carry no standing need.
var needsByCode = map[Code]string{
	CodeLoneliness: "Necesita más contacto social",
	CodeHealth:     "Requiere atención médica",
	CodeWorry:      "Necesita apoyo emocional",
	CodeMoney:      "Preocupaciones económicas",
	CodeTechnology: "Ayuda con tecnología",
	CodeSleep:      "Problemas de sueño - revisar",
}

// CodeLabel returns the human label for a code, or the code itself when
// unknown.
func CodeLabel(c Code) string {
	for _, e := range behavioralCodes {
		if e.Code == c {
			return e.Label
		}
	}
	return string(c)
}
