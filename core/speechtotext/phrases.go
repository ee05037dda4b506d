package speechtotext

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/koscakluka/ema-companion/core/events"
	"gopkg.in/yaml.v3"
)

// Phrases lists the control phrases recognized in final transcripts. Matching
// is done on normalized text, so entries may use any casing or punctuation.
type Phrases struct {
	Wake      []string `yaml:"wake"`
	Sleep     []string `yaml:"sleep"`
	Satisfied []string `yaml:"satisfied"`
}

var nameVariants = []string{"baymax", "bay max", "baymex", "bemax", "bemex"}

// DefaultPhrases returns the built-in phrase tables, including the common
// mis-hearings of the companion's name.
func DefaultPhrases() Phrases {
	phrases := Phrases{
		Satisfied: []string{
			"you are satisfied with my care",
			"i am satisfied with your care",
			"satisfied with your care",
			"satisfied with my care",
			"i'm satisfied with your care",
			"satisfied with care",
			"satisfied",
			"yes i am satisfied",
		},
	}

	for _, name := range nameVariants {
		phrases.Wake = append(phrases.Wake, "hey "+name, "hi "+name, "hello "+name)
		if name != "bay max" {
			phrases.Wake = append(phrases.Wake, name)
		}
	}

	phrases.Sleep = []string{"goodnight", "good night", "see you later baymax"}
	for _, name := range nameVariants {
		phrases.Sleep = append(phrases.Sleep,
			"bye "+name,
			"goodbye "+name,
			"good bye "+name,
			"goodnight "+name,
			"good night "+name,
		)
		if name != "bay max" {
			phrases.Sleep = append(phrases.Sleep, "sleep "+name, "go to sleep "+name)
		}
	}

	return phrases
}

// LoadPhrases reads a YAML phrase file. Lists missing from the file keep
// their defaults.
func LoadPhrases(path string) (Phrases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Phrases{}, fmt.Errorf("failed to read phrase file: %w", err)
	}

	var loaded Phrases
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Phrases{}, fmt.Errorf("failed to parse phrase file %s: %w", path, err)
	}

	phrases := DefaultPhrases()
	if len(loaded.Wake) > 0 {
		phrases.Wake = loaded.Wake
	}
	if len(loaded.Sleep) > 0 {
		phrases.Sleep = loaded.Sleep
	}
	if len(loaded.Satisfied) > 0 {
		phrases.Satisfied = loaded.Satisfied
	}
	return phrases, nil
}

// PhraseMatcher classifies final transcripts into control directives.
type PhraseMatcher struct {
	wake      []string
	sleep     []string
	satisfied []string
}

func NewPhraseMatcher(phrases Phrases) *PhraseMatcher {
	return &PhraseMatcher{
		wake:      normalizeAll(phrases.Wake),
		sleep:     normalizeAll(phrases.Sleep),
		satisfied: normalizeAll(phrases.Satisfied),
	}
}

func (m *PhraseMatcher) IsWake(text string) bool  { return containsAny(Normalize(text), m.wake) }
func (m *PhraseMatcher) IsSleep(text string) bool { return containsAny(Normalize(text), m.sleep) }
func (m *PhraseMatcher) IsSatisfied(text string) bool {
	return containsAny(Normalize(text), m.satisfied)
}

// Classify returns the directives a final transcript carries, in emission
// order. A wake phrase only counts when no sleep or satisfaction phrase is
// present.
func (m *PhraseMatcher) Classify(text string) []events.DirectiveKind {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	hasSatisfied := containsAny(normalized, m.satisfied)
	hasSleep := containsAny(normalized, m.sleep)

	var directives []events.DirectiveKind
	if hasSatisfied {
		directives = append(directives, events.DirectiveSatisfied)
	}
	if hasSleep {
		directives = append(directives, events.DirectiveSleep)
	}
	if !hasSatisfied && !hasSleep && containsAny(normalized, m.wake) {
		directives = append(directives, events.DirectiveWake)
	}
	return directives
}

// Normalize lowercases text, turns punctuation into spaces and collapses
// whitespace.
func Normalize(text string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, text)
	return strings.Join(strings.Fields(mapped), " ")
}

// ShouldProcess reports whether a final transcript is worth a reply: at
// least minWords words, or a single word ending in terminal punctuation.
func ShouldProcess(transcript string, minWords int) bool {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return false
	}

	if len(words) >= max(minWords, 1) {
		return true
	}

	trimmed := strings.TrimRightFunc(transcript, unicode.IsSpace)
	return len(words) == 1 && strings.ContainsAny(trimmed[len(trimmed)-1:], ".!?")
}

func normalizeAll(phrases []string) []string {
	normalized := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		if p := Normalize(phrase); p != "" {
			normalized = append(normalized, p)
		}
	}
	return normalized
}

func containsAny(normalized string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
