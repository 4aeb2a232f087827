// Package twilio implements the outbound transport on the Twilio
// Programmable Messaging API, speaking WhatsApp.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	twiliogo "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/user/kasuwabot/internal/types"
)

// Options configures a Transport.
type Options struct {
	AccountSID        string
	AuthToken         string
	From              string // whatsapp sender, with or without the whatsapp: prefix
	StatusCallbackURL string
}

// Transport sends WhatsApp messages through Twilio and reads back message
// status for delivery confirmation polling.
type Transport struct {
	client *twiliogo.RestClient
	opts   Options
}

// New creates a Transport. Credentials are validated lazily on first send.
func New(opts Options) (*Transport, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials not configured")
	}
	if opts.From == "" {
		return nil, fmt.Errorf("twilio whatsapp sender not configured")
	}
	cl := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: opts.AccountSID,
		Password: opts.AuthToken,
	})
	return &Transport{client: cl, opts: opts}, nil
}

var _ types.Transport = (*Transport)(nil)

// Send delivers one outbound message. Exactly one of Body, MediaURLs, or
// TemplateSID on the message drives the payload shape.
func (t *Transport) Send(ctx context.Context, msg *types.OutboundMessage) (*types.SendReceipt, error) {
	params := &api.CreateMessageParams{}
	params.SetFrom(WhatsAppAddress(t.opts.From))
	params.SetTo(WhatsAppAddress(msg.To))

	switch {
	case msg.TemplateSID != "":
		params.SetContentSid(msg.TemplateSID)
		if len(msg.TemplateVars) > 0 {
			vars, err := json.Marshal(msg.TemplateVars)
			if err != nil {
				return nil, types.Permanent(fmt.Errorf("marshal template vars: %w", err))
			}
			params.SetContentVariables(string(vars))
		}
	case len(msg.MediaURLs) > 0:
		params.SetMediaUrl(msg.MediaURLs)
		if msg.Body != "" {
			params.SetBody(msg.Body)
		}
	case msg.Body != "":
		params.SetBody(msg.Body)
	default:
		return nil, types.Permanent(fmt.Errorf("outbound message has no payload"))
	}

	if t.opts.StatusCallbackURL != "" {
		params.SetStatusCallback(t.opts.StatusCallbackURL)
	}

	resp, err := t.client.Api.CreateMessage(params)
	if err != nil {
		return nil, classify(err)
	}
	if resp.Sid == nil {
		return nil, fmt.Errorf("twilio response missing message sid")
	}

	receipt := &types.SendReceipt{AttemptID: *resp.Sid, Status: types.StatusQueued}
	if resp.Status != nil {
		receipt.Status = ParseStatus(*resp.Status)
	}
	return receipt, nil
}

// Status fetches the current delivery status of a previously sent message.
func (t *Transport) Status(ctx context.Context, attemptID string) (types.DeliveryStatus, error) {
	resp, err := t.client.Api.FetchMessage(attemptID, &api.FetchMessageParams{})
	if err != nil {
		return types.StatusUnknown, classify(err)
	}
	if resp.Status == nil {
		return types.StatusUnknown, nil
	}
	return ParseStatus(*resp.Status), nil
}

// classify wraps Twilio 4xx errors (except rate limits) as permanent so
// the delivery retry loop fails fast on bad requests and dead credentials.
func classify(err error) error {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		if restErr.Status >= 400 && restErr.Status < 500 && restErr.Status != http.StatusTooManyRequests {
			return types.Permanent(err)
		}
	}
	return err
}

// ParseStatus maps a Twilio message status string onto a DeliveryStatus.
func ParseStatus(s string) types.DeliveryStatus {
	switch strings.ToLower(s) {
	case "queued":
		return types.StatusQueued
	case "accepted":
		return types.StatusAccepted
	case "sending":
		return types.StatusSending
	case "sent":
		return types.StatusSent
	case "delivered":
		return types.StatusDelivered
	case "read":
		return types.StatusRead
	case "failed", "undelivered", "canceled":
		return types.StatusFailed
	default:
		return types.StatusUnknown
	}
}

// WhatsAppAddress prefixes a phone number with the whatsapp: scheme if it
// is not already present.
func WhatsAppAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// StripWhatsAppPrefix removes the whatsapp: scheme from an inbound address.
func StripWhatsAppPrefix(addr string) string {
	return strings.TrimPrefix(addr, "whatsapp:")
}
