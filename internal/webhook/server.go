// internal/webhook/server.go
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/user/kasuwabot/internal/gateway"
	"github.com/user/kasuwabot/internal/live"
	"github.com/user/kasuwabot/internal/tenant"
	"github.com/user/kasuwabot/internal/twilio"
	"github.com/user/kasuwabot/internal/types"
)

// TenantHeader selects the tenant runtime for an inbound request. Absent
// means the default tenant.
const TenantHeader = "X-Tenant-Id"

// Server is the HTTP ingress: the provider webhook (ack-then-process), the
// status callback, a debug API over sessions, and the live websocket view.
type Server struct {
	gateway *gateway.Gateway
	tenants *tenant.Registry
	hub     *live.Hub
	mux     *http.ServeMux
}

// NewServer creates a webhook Server wired to the gateway and tenant
// registry.
func NewServer(gw *gateway.Gateway, tenants *tenant.Registry, hub *live.Hub) *Server {
	s := &Server{
		gateway: gw,
		tenants: tenants,
		hub:     hub,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleInbound)
	s.mux.HandleFunc("POST /twilio-status", s.handleStatusCallback)
	s.mux.HandleFunc("GET /api/sessions", s.handleAPISessions)
	s.mux.HandleFunc("GET /api/sessions/{phone}/history", s.handleAPIHistory)
	s.mux.HandleFunc("GET /api/live", s.handleLive)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleInbound parses the provider form, enqueues the event on the
// customer's lane, and acknowledges immediately. Processing failures never
// surface here; the provider would otherwise retry and duplicate messages.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	from := twilio.StripWhatsAppPrefix(r.PostFormValue("From"))
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}

	tenantKey := r.Header.Get(TenantHeader)
	if tenantKey == "" {
		tenantKey = tenant.DefaultTenant
	}
	if _, err := s.tenants.Resolve(tenantKey); err != nil {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}

	event := &types.InboundEvent{
		Tenant:   tenantKey,
		From:     from,
		Text:     r.PostFormValue("Body"),
		Media:    parseMedia(r),
		AdSource: parseAdSource(r),
		At:       time.Now(),
	}

	if err := s.gateway.HandleInbound(r.Context(), event); err != nil {
		slog.Error("enqueue inbound failed", "tenant", tenantKey, "from", from, "error", err)
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}

	// Ack-then-process: empty TwiML so the provider sends no auto-reply.
	w.Header().Set("Content-Type", "application/xml")
	fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`)
}

func parseMedia(r *http.Request) []types.MediaRef {
	n, err := strconv.Atoi(r.PostFormValue("NumMedia"))
	if err != nil || n <= 0 {
		return nil
	}
	media := make([]types.MediaRef, 0, n)
	for i := 0; i < n; i++ {
		url := r.PostFormValue(fmt.Sprintf("MediaUrl%d", i))
		if url == "" {
			continue
		}
		media = append(media, types.MediaRef{
			URL:         url,
			ContentType: r.PostFormValue(fmt.Sprintf("MediaContentType%d", i)),
		})
	}
	return media
}

func parseAdSource(r *http.Request) *types.AdSource {
	ad := &types.AdSource{
		Headline: r.PostFormValue("ReferralHeadline"),
		Source:   r.PostFormValue("ReferralSourceUrl"),
		Type:     r.PostFormValue("ReferralSourceType"),
		CtwaClid: r.PostFormValue("ReferralCtwaClid"),
	}
	if ad.Headline == "" && ad.Source == "" && ad.Type == "" && ad.CtwaClid == "" {
		return nil
	}
	return ad
}

// handleStatusCallback logs delivery receipts pushed by the provider.
// Polling remains the ordering mechanism; this is observability only.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	slog.Info("delivery receipt",
		"message_sid", r.PostFormValue("MessageSid"),
		"status", r.PostFormValue("MessageStatus"),
		"error_code", r.PostFormValue("ErrorCode"),
		"to", twilio.StripWhatsAppPrefix(r.PostFormValue("To")))
	w.WriteHeader(http.StatusNoContent)
}

type sessionResponse struct {
	Phone              string     `json:"phone"`
	HasReceivedWelcome bool       `json:"has_received_welcome"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastReengagedAt    *time.Time `json:"last_reengaged_at,omitempty"`
}

func (s *Server) handleAPISessions(w http.ResponseWriter, r *http.Request) {
	rt, err := s.tenants.Resolve(r.Header.Get(TenantHeader))
	if err != nil {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}
	sessions, err := rt.Sessions.List(r.Context())
	if err != nil {
		slog.Error("list sessions failed", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			Phone:              sess.Phone,
			HasReceivedWelcome: sess.HasReceivedWelcome,
			CreatedAt:          sess.CreatedAt,
			UpdatedAt:          sess.UpdatedAt,
			LastReengagedAt:    sess.LastReengagedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	rt, err := s.tenants.Resolve(r.Header.Get(TenantHeader))
	if err != nil {
		http.Error(w, "unknown tenant", http.StatusNotFound)
		return
	}
	phone := r.PathValue("phone")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
	}

	history, err := rt.Sessions.History(r.Context(), phone, limit)
	if err != nil {
		slog.Error("load history failed", "phone", phone, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if history == nil {
		history = []*types.HistoryEntry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// handleLive upgrades to a websocket and streams history events until the
// viewer disconnects.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	events, cancel := s.hub.Subscribe()
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeCtx, done := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			done()
			if err != nil {
				slog.Debug("live viewer disconnected", "error", err)
				return
			}
		}
	}
}
