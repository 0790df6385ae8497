// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
)

const (
	MaxUserIDLen      = 64
	MaxDisplayNameLen = 64
)

var (
	ErrUserIDEmpty        = errors.New("user id empty")
	ErrUserIDTooLong      = errors.New("user id too long")
	ErrDisplayNameTooLong = errors.New("display name too long")
)

type UserID string

// Identity is an authenticated user reference handed over by the authenticator.
// The hub never creates identities on its own.
type Identity struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"displayName"`
}

// NewIdentity is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewIdentity(id, displayName string) (Identity, error) {
	if len(id) == 0 {
		return Identity{}, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return Identity{}, ErrUserIDTooLong
	}
	if len(displayName) > MaxDisplayNameLen {
		return Identity{}, ErrDisplayNameTooLong
	}
	if displayName == "" {
		displayName = id
	}
	return Identity{ID: UserID(id), DisplayName: displayName}, nil
}
