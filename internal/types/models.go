// internal/types/models.go
package types

import (
	"time"
)

// Sender marks which side of the conversation produced a history entry.
type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderAI       Sender = "ai"
)

// MessageType classifies the content of a history entry or onboarding step.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageAudio MessageType = "audio"
	MessageVideo MessageType = "video"
	MessageImage MessageType = "image"
)

// AdSource carries opaque click-to-WhatsApp attribution metadata captured
// from the first inbound webhook for a customer.
type AdSource struct {
	Headline string `json:"headline,omitempty"`
	Source   string `json:"source,omitempty"`
	Type     string `json:"type,omitempty"`
	CtwaClid string `json:"ctwa_clid,omitempty"`
}

// Session is the per-customer conversation state. Exactly one exists per
// phone number; it is created lazily on first contact and never deleted.
type Session struct {
	Phone              string     `json:"phone"`
	HasReceivedWelcome bool       `json:"has_received_welcome"`
	AdSource           *AdSource  `json:"ad_source,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastReengagedAt    *time.Time `json:"last_reengaged_at,omitempty"`
}

// HistoryEntry is one message in a session's append-only history. Seq is
// assigned by the store and is the authoritative chronological order.
type HistoryEntry struct {
	Seq       int64       `json:"seq"`
	Sender    Sender      `json:"sender"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// CatalogEntry is one curated question/answer pair. Question must be
// non-empty for the entry to be considered by the match engine. Embedding,
// when present, was precomputed by the catalog management tooling.
type CatalogEntry struct {
	ID          string    `json:"id,omitempty"`
	Question    string    `json:"question"`
	AnswerText  string    `json:"answer_text,omitempty"`
	AnswerAudio string    `json:"answer_audio,omitempty"`
	Embedding   []float64 `json:"embedding,omitempty"`
}

// OnboardingStep is one step of the fixed welcome sequence sent to a new
// customer. Text steps carry Content; audio/video steps carry MediaURL.
type OnboardingStep struct {
	Type     MessageType `json:"type"`
	Content  string      `json:"content,omitempty"`
	MediaURL string      `json:"media_url,omitempty"`
}

// MediaRef is an inbound media attachment as reported by the transport.
type MediaRef struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// InboundEvent is the core's single entry point payload: one customer
// message as received from the transport webhook.
type InboundEvent struct {
	Tenant   string     `json:"tenant"`
	From     string     `json:"from"`
	Text     string     `json:"text"`
	Media    []MediaRef `json:"media,omitempty"`
	AdSource *AdSource  `json:"ad_source,omitempty"`
	At       time.Time  `json:"at"`
}

// DeliveryStatus is the transport's view of an outbound message attempt.
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusAccepted  DeliveryStatus = "accepted"
	StatusSending   DeliveryStatus = "sending"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
	StatusUnknown   DeliveryStatus = "unknown"
)

// Terminal reports whether the status will not change further, which is the
// condition for releasing an ordered sequence to its next step.
func (s DeliveryStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed:
		return true
	}
	return false
}

// OutboundMessage is one transport send: exactly one of Body, MediaURLs, or
// TemplateSID drives the payload (template sends may also carry variables).
type OutboundMessage struct {
	To           string            `json:"to"`
	Body         string            `json:"body,omitempty"`
	MediaURLs    []string          `json:"media_urls,omitempty"`
	TemplateSID  string            `json:"template_sid,omitempty"`
	TemplateVars map[string]string `json:"template_vars,omitempty"`
}

// SendReceipt is the transport's acknowledgement of an accepted send.
type SendReceipt struct {
	AttemptID string         `json:"attempt_id"`
	Status    DeliveryStatus `json:"status"`
}
