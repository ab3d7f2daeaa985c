package chat

import "time"

// Conversation captures the recent turns of one device.
type Conversation struct {
	DeviceID   string    `json:"deviceId"`
	PersonaID  string    `json:"personaId"`
	Phase      string    `json:"phase,omitempty"`
	Messages   []Message `json:"messages"`
	LastActive time.Time `json:"lastActive"`
}
