// internal/types/interfaces.go
package types

import (
	"context"
	"time"
)

// SessionStore persists per-customer conversation state. CreateIfAbsent and
// SetWelcomeSent must behave as atomic read-modify-write per phone: two
// concurrent calls for the same phone must not create two sessions or
// transition the welcome flag twice.
type SessionStore interface {
	// Get returns the session for phone, or nil if none exists.
	Get(ctx context.Context, phone string) (*Session, error)
	// CreateIfAbsent returns the session for phone, creating it atomically
	// on first contact. The bool reports whether a new session was created.
	CreateIfAbsent(ctx context.Context, phone string, ad *AdSource) (*Session, bool, error)
	// AppendHistory appends one entry to the session's ordered history.
	AppendHistory(ctx context.Context, phone string, entry *HistoryEntry) error
	// History returns up to limit most recent entries in chronological order.
	History(ctx context.Context, phone string, limit int) ([]*HistoryEntry, error)
	// LastEntryAt returns the timestamp of the most recent history entry,
	// or the zero time if the history is empty.
	LastEntryAt(ctx context.Context, phone string) (time.Time, error)
	// SetWelcomeSent transitions HasReceivedWelcome false->true. The bool
	// reports whether this call performed the transition.
	SetWelcomeSent(ctx context.Context, phone string) (bool, error)
	// MarkReengaged records that a reengagement template was sent now.
	MarkReengaged(ctx context.Context, phone string) error
	// List returns all sessions.
	List(ctx context.Context) ([]*Session, error)
	// Dormant returns phones of welcomed sessions whose last history entry
	// predates cutoff and that have not been re-engaged since cutoff.
	Dormant(ctx context.Context, cutoff time.Time) ([]string, error)
}

// CatalogStore provides the curated Q&A catalog and the onboarding sequence.
// Both are owned and mutated by external management tooling; the core only
// reads them.
type CatalogStore interface {
	ListCatalog(ctx context.Context) ([]*CatalogEntry, error)
	OnboardingSequence(ctx context.Context) ([]*OnboardingStep, error)
}

// Transport is the messaging provider through which all customer-facing
// sends occur. Send errors wrapped in PermanentError are not retried.
type Transport interface {
	Send(ctx context.Context, msg *OutboundMessage) (*SendReceipt, error)
	Status(ctx context.Context, attemptID string) (DeliveryStatus, error)
}

// Transcriber converts an inbound voice note to text. Implementations are
// provider-specific; an empty transcript with nil error means "no speech".
type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL, contentType string) (string, error)
}

// Rehoster re-uploads media bytes to a publicly fetchable store and returns
// the new URI.
type Rehoster interface {
	Reupload(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Embedder computes an embedding vector for a text, enabling the match
// engine's semantic path. Optional: a nil Embedder disables it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}
