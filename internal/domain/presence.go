package domain

// PresenceEntry is one row of the online list pushed to clients.
type PresenceEntry struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}
