// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64

	// UnknownUserName is shown to peers when a profile carries no name.
	UnknownUserName = "Unknown User"
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type UserID string

// Profile is what the external identity store knows about a user.
type Profile struct {
	Name    string `json:"name"`
	Contact string `json:"contact"`
}

// Identity is resolved once per connection and never changes afterwards.
type Identity struct {
	ID      UserID `json:"id"`
	Name    string `json:"name"`
	Contact string `json:"-"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id string, p Profile) (Identity, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Identity{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	name := strings.TrimSpace(p.Name)
	if len(name) > MaxUsernameLen {
		name = name[:MaxUsernameLen]
	}
	return Identity{ID: UserID(id), Name: name, Contact: strings.TrimSpace(p.Contact)}, nil
}

// DisplayName never returns an empty string.
func (i Identity) DisplayName() string {
	if i.Name == "" {
		return UnknownUserName
	}
	return i.Name
}
