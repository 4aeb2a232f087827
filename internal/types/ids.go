// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

// SessionKey identifies a customer conversation as "<tenant>:<phone>".
type SessionKey string

type RunID string

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}

// Tenant returns the tenant component of the key, or "" for a bare phone key.
func (k SessionKey) Tenant() string {
	if i := strings.Index(string(k), ":"); i >= 0 {
		return string(k)[:i]
	}
	return ""
}

// Phone returns the customer phone component of the key.
func (k SessionKey) Phone() string {
	if i := strings.LastIndex(string(k), ":"); i >= 0 {
		return string(k)[i+1:]
	}
	return string(k)
}
