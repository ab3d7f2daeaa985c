package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/moodcycle-gateway/internal/model/chat"
	"github.com/zhouzirui/moodcycle-gateway/internal/model/persona"
)

// PromptTemplate holds the linguistic traits of a persona.
type PromptTemplate struct {
	Tone       string
	Vocabulary string
}

// PersonaPromptManager builds system prompts from persona traits and the
// user context sent by the app.
type PersonaPromptManager struct {
	templates map[persona.ID]*PromptTemplate
}

// preferenceLabels is ordered so prompts are deterministic.
var preferenceLabels = []struct {
	key   string
	label string
}{
	{"symptoms", "symptômes physiques"},
	{"moods", "gestion émotionnelle"},
	{"phyto", "remèdes naturels"},
	{"phases", "énergie cyclique"},
	{"lithotherapy", "lithothérapie"},
	{"rituals", "rituels bien-être"},
}

// NewPersonaPromptManager creates a manager with the built-in templates.
func NewPersonaPromptManager() *PersonaPromptManager {
	manager := &PersonaPromptManager{
		templates: make(map[persona.ID]*PromptTemplate),
	}
	manager.loadDefaultTemplates()
	return manager
}

// GetPromptTemplate returns the template of a persona.
func (pm *PersonaPromptManager) GetPromptTemplate(id persona.ID) (*PromptTemplate, error) {
	template, exists := pm.templates[id]
	if !exists {
		return nil, fmt.Errorf("prompt template not found for persona: %s", id)
	}
	return template, nil
}

// BuildSystemPrompt renders the system prompt for p and the app context.
func (pm *PersonaPromptManager) BuildSystemPrompt(p persona.Persona, ctx chat.Context) string {
	template, err := pm.GetPromptTemplate(p.ID)
	if err != nil {
		template = pm.templates[persona.Emma]
	}

	name := strings.TrimSpace(ctx.UserProfile.Prenom)
	if name == "" {
		name = "ma belle"
	}
	age := strings.TrimSpace(ctx.UserProfile.AgeRange)
	if age == "" {
		age = "non précisé"
	}
	phase := strings.TrimSpace(ctx.CurrentPhase)
	if phase == "" {
		phase = "non définie"
	}
	prefs := StrongPreferences(ctx.Preferences)
	prefLine := "découverte générale"
	if len(prefs) > 0 {
		prefLine = strings.Join(prefs, ", ")
	}

	return fmt.Sprintf(`Tu es Melune, IA bienveillante spécialisée dans le cycle féminin.

PROFIL UTILISATRICE:
- Nom: %s
- Âge: %s
- Persona: %s
- Phase actuelle: %s
- Préférences fortes: %s

STYLE DE COMMUNICATION:
- Approche: %s
- Ton: %s
- Vocabulaire: %s
- Exemple type: "%s"

RÈGLES:
- Maximum 200 mots
- Toujours terminer par question engageante
- Jamais de diagnostic médical
- Encourager consultation professionnelle si nécessaire
- Adapter le niveau selon l'expertise utilisatrice

Réponds selon ce persona et contexte:`,
		name, age, p.ID, phase, prefLine,
		p.Style, template.Tone, template.Vocabulary, p.OpeningLine,
	)
}

// StrongPreferences returns the labels of preferences scored 4 or more.
func StrongPreferences(prefs map[string]int) []string {
	var out []string
	for _, pref := range preferenceLabels {
		if prefs[pref.key] >= 4 {
			out = append(out, pref.label)
		}
	}
	return out
}

func (pm *PersonaPromptManager) loadDefaultTemplates() {
	pm.templates[persona.Emma] = &PromptTemplate{
		Tone:       "Encourageante, rassurante, patiente",
		Vocabulary: "Simple, accessible, évite jargon médical",
	}
	pm.templates[persona.Laure] = &PromptTemplate{
		Tone:       "Directe mais bienveillante, orientée solutions",
		Vocabulary: "Précis, informatif, termes techniques expliqués",
	}
	pm.templates[persona.Sylvie] = &PromptTemplate{
		Tone:       "Chaleureuse, rassurante, avec sagesse pratique",
		Vocabulary: "Empathique, mature, reconnaît les défis",
	}
	pm.templates[persona.Christine] = &PromptTemplate{
		Tone:       "Apaisante, mystique, sagesse ancestrale",
		Vocabulary: "Riche, métaphorique, connexion nature",
	}
	pm.templates[persona.Clara] = &PromptTemplate{
		Tone:       "Enthousiaste, précise, orientée optimisation",
		Vocabulary: "Technique accessible, références scientifiques",
	}
}
