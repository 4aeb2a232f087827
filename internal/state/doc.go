// Package state provides storage implementations: a SQLite-backed session
// store and a JSON-file-backed catalog store.
package state

import "github.com/user/kasuwabot/internal/types"

// Compile-time interface compliance checks.
var _ types.SessionStore = (*SessionStore)(nil)
var _ types.CatalogStore = (*CatalogStore)(nil)
