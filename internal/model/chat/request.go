package chat

// Request is the body of POST /api/chat.
type Request struct {
	Message string  `json:"message"`
	Context Context `json:"context"`
}

// Context carries what the app knows about the user when she sends a message.
type Context struct {
	Persona           string         `json:"persona"`
	CurrentPhase      string         `json:"currentPhase,omitempty"`
	UserProfile       UserProfile    `json:"userProfile,omitempty"`
	Preferences       map[string]int `json:"preferences,omitempty"`
	CommunicationTone string         `json:"communicationTone,omitempty"`
}

// UserProfile is the onboarding data forwarded for prompt personalisation.
type UserProfile struct {
	Prenom   string `json:"prenom,omitempty"`
	AgeRange string `json:"ageRange,omitempty"`
}
