package persona

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tone labels the register of a fallback message.
type Tone string

const (
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneMaternal     Tone = "maternal"
	ToneWise         Tone = "wise"
	ToneEnthusiastic Tone = "enthusiastic"
	ToneNeutral      Tone = "neutral"
)

var knownTones = map[Tone]struct{}{
	ToneFriendly:     {},
	ToneProfessional: {},
	ToneMaternal:     {},
	ToneWise:         {},
	ToneEnthusiastic: {},
	ToneNeutral:      {},
}

// FallbackBundle is the canned, in-voice reply served instead of a chat
// answer while a client is throttled.
type FallbackBundle struct {
	Message           string `json:"message"`
	Tone              Tone   `json:"tone"`
	Suggestion        string `json:"suggestion"`
	RetryAfterSeconds int    `json:"-"`
}

// fallbackEntry is one row of a table file. Notice is the short headline
// returned next to the bundle.
type fallbackEntry struct {
	Notice            string `yaml:"notice"`
	Message           string `yaml:"message"`
	Tone              Tone   `yaml:"tone"`
	Suggestion        string `yaml:"suggestion"`
	RetryAfterSeconds int    `yaml:"retryAfterSeconds"`
}

func (e fallbackEntry) bundle() FallbackBundle {
	return FallbackBundle{
		Message:           e.Message,
		Tone:              e.Tone,
		Suggestion:        e.Suggestion,
		RetryAfterSeconds: e.RetryAfterSeconds,
	}
}

// FallbackTable resolves personas to fallback bundles. It is immutable once
// built and safe for concurrent use.
type FallbackTable struct {
	entries map[ID]fallbackEntry
}

func defaultEntries() map[ID]fallbackEntry {
	return map[ID]fallbackEntry{
		Emma: {
			Notice:     "Oups ! 😅 Trop de messages d'un coup. Pause d'une minute ?",
			Message:    "En attendant, rappelle-toi que ton cycle est unique ! 💕",
			Tone:       ToneFriendly,
			Suggestion: "Reviens dans une minute pour continuer notre chat !",
		},
		Laure: {
			Notice:     "Limite atteinte. Nouvelle tentative dans 60 secondes.",
			Message:    "Profitez de cette pause pour noter vos ressentis du moment.",
			Tone:       ToneProfessional,
			Suggestion: "Service disponible dans 60 secondes.",
		},
		Sylvie: {
			Notice:     "Ma chérie, patiente un petit moment s'il te plaît.",
			Message:    "Prends ce temps pour respirer profondément, ma chérie.",
			Tone:       ToneMaternal,
			Suggestion: "Je serai là pour toi dans un instant.",
		},
		Christine: {
			Notice:     "Merci de patienter quelques instants.",
			Message:    "Ces moments de patience nous apprennent la sagesse.",
			Tone:       ToneWise,
			Suggestion: "Revenez quand vous le souhaiterez.",
		},
		Clara: {
			Notice:     "Hey ! 😊 Laisse-moi souffler une minute !",
			Message:    "C'est l'occasion parfaite pour un petit étirement ! 🌟",
			Tone:       ToneEnthusiastic,
			Suggestion: "On reprend très vite notre conversation !",
		},
		General: {
			Notice:     "Limite temporaire atteinte, patientez 1 minute",
			Message:    "Service temporairement limité",
			Tone:       ToneNeutral,
			Suggestion: "Retry in 60 seconds",
		},
	}
}

// DefaultFallbackTable returns the built-in table. retryAfterSeconds is
// stamped on every entry.
func DefaultFallbackTable(retryAfterSeconds int) *FallbackTable {
	entries := defaultEntries()
	for id, e := range entries {
		e.RetryAfterSeconds = retryAfterSeconds
		entries[id] = e
	}
	return &FallbackTable{entries: entries}
}

// LoadFallbackTable reads a YAML file keyed by persona id and overlays it on
// the built-in table. Entries without retryAfterSeconds inherit
// defaultRetryAfter. The result is validated before it is returned.
func LoadFallbackTable(path string, defaultRetryAfter int) (*FallbackTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fallback table: %w", err)
	}

	var overrides map[string]fallbackEntry
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse fallback table %s: %w", path, err)
	}

	table := DefaultFallbackTable(defaultRetryAfter)
	for key, entry := range overrides {
		id := ID(key)
		if !id.Valid() {
			return nil, fmt.Errorf("fallback table %s: unknown persona %q", path, key)
		}
		if entry.RetryAfterSeconds == 0 {
			entry.RetryAfterSeconds = defaultRetryAfter
		}
		table.entries[id] = entry
	}

	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("fallback table %s: %w", path, err)
	}
	return table, nil
}

func (t *FallbackTable) validate() error {
	if _, ok := t.entries[General]; !ok {
		return fmt.Errorf("missing default entry %q", General)
	}
	for id, e := range t.entries {
		if e.Message == "" {
			return fmt.Errorf("persona %q: message is required", id)
		}
		if _, ok := knownTones[e.Tone]; !ok {
			return fmt.Errorf("persona %q: unknown tone %q", id, e.Tone)
		}
		if e.RetryAfterSeconds < 0 {
			return fmt.Errorf("persona %q: negative retryAfterSeconds", id)
		}
	}
	return nil
}

func (t *FallbackTable) entry(raw string) fallbackEntry {
	if e, ok := t.entries[Parse(raw)]; ok {
		return e
	}
	return t.entries[General]
}

// Resolve returns the bundle for a persona identifier. It never fails:
// absent or unknown identifiers resolve to the default entry.
func (t *FallbackTable) Resolve(raw string) FallbackBundle {
	return t.entry(raw).bundle()
}

// Notice returns the short throttling headline for a persona.
func (t *FallbackTable) Notice(raw string) string {
	if n := t.entry(raw).Notice; n != "" {
		return n
	}
	return t.entries[General].Notice
}
