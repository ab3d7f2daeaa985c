package persona

// Store exposes persona retrieval for HTTP handlers.
type Store interface {
	List() []Persona
	FindByID(id ID) (Persona, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Persona
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied personas.
func NewMemoryStore(items []Persona) *MemoryStore {
	return &MemoryStore{items: append([]Persona(nil), items...)}
}

// List returns the predefined persona list.
func (s *MemoryStore) List() []Persona {
	return append([]Persona(nil), s.items...)
}

// FindByID looks up a persona by identifier.
func (s *MemoryStore) FindByID(id ID) (Persona, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Persona{}, false
}

// Lookup returns the persona for raw input, falling back to a neutral voice
// when the identifier is unknown or not seeded.
func Lookup(s Store, raw string) Persona {
	id := Parse(raw)
	if p, ok := s.FindByID(id); ok {
		return p
	}
	return Persona{
		ID:    General,
		Name:  "MoodCycle",
		Tone:  ToneNeutral,
		Style: "Neutre et bienveillante",
	}
}
