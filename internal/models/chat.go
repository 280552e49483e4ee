package models

// Identity is a chat participant as decoded from a verified token.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// User is a login roster entry supplied through configuration.
type User struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// ChatMessage is one persisted chat line. Timestamp is ISO-8601 so the
// on-disk history files stay readable as plain JSON documents.
type ChatMessage struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// PresenceEntry is one row of the presence snapshot broadcast on every
// join and leave: a roster identity plus its current liveness.
type PresenceEntry struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Online bool   `json:"online"`
}
