// Package auth wires the OAuth2 authorization-code flow and the broker's
// JSON endpoints onto HTTP routes. Browser-facing routes (/login,
// /callback, /logout, /refresh) drive the interactive flow; the /api
// routes are thin adapters over the broker.
package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/scholartrack/foundry-broker/internal/broker"
	"github.com/scholartrack/foundry-broker/internal/config"
	"github.com/scholartrack/foundry-broker/internal/credential"
	"github.com/scholartrack/foundry-broker/internal/pkce"
)

// Handler serves the authentication routes for one Foundry client.
type Handler struct {
	cfg    *config.Config
	broker *broker.Broker
	creds  credential.Store
	flows  *FlowStore
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewHandler creates the handler set.
func NewHandler(cfg *config.Config, b *broker.Broker, creds credential.Store, clock clockwork.Clock, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		broker: b,
		creds:  creds,
		flows:  NewFlowStore(clock),
		clock:  clock,
		logger: logger,
	}
}

// RegisterRoutes registers all handlers on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleIndex)
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/callback", h.handleCallback)
	mux.HandleFunc("/logout", h.handleLogout)
	mux.HandleFunc("/refresh", h.handleRefresh)
	mux.HandleFunc("/api/auth/token-exchange", h.handleTokenExchange)
	mux.HandleFunc("/api/foundry-proxy", h.handleFoundryProxy)
}

// stateCookieName scopes the state cookie to one flow, so two tabs
// logging in at once cannot clobber each other's binding.
func stateCookieName(state string) string {
	if len(state) > 8 {
		state = state[:8]
	}
	return "auth_state_" + state
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("redirect")
	if !isLocalPath(target) {
		target = "/"
	}

	state, err := pkce.State()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var verifier, challenge string
	if h.cfg.Foundry.PKCEEnabled() {
		verifier, err = pkce.Verifier()
		if err != nil {
			h.logger.Error("failed to generate code verifier", "error", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		challenge = pkce.CodeChallenge(verifier)
	}

	h.flows.Put(Flow{State: state, CodeVerifier: verifier, RedirectTarget: target})

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName(state),
		Value:    state,
		Path:     "/",
		MaxAge:   int(flowTTL.Seconds()),
		HttpOnly: true,
		Secure:   isHTTPS(r),
		SameSite: sameSiteMode(r),
	})

	http.Redirect(w, r, h.broker.AuthCodeURL(state, challenge), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// Provider-reported error: surface it, never attempt an exchange.
	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = "Unknown error"
		}
		h.logger.Warn("provider returned error", "error", errCode, "description", desc)
		h.renderError(w, http.StatusBadRequest, "Authentication error: "+errCode+" - "+desc)
		return
	}

	code := q.Get("code")
	if code == "" {
		h.renderError(w, http.StatusBadRequest, "No authorization code received")
		return
	}

	state := q.Get("state")
	flow, res := h.flows.Consume(state)
	switch res {
	case ConsumeRepeat:
		// Duplicate invocation of the same callback; the first one did
		// the exchange, so just go home.
		http.Redirect(w, r, "/", http.StatusFound)
		return
	case ConsumeUnknown:
		h.logger.Warn("state mismatch", "received", state)
		h.renderError(w, http.StatusBadRequest, "Security error: Invalid state parameter")
		return
	}

	// Bind the callback to the browser that started the flow.
	cookie, err := r.Cookie(stateCookieName(state))
	if err != nil || cookie.Value != state {
		h.logger.Warn("state cookie missing or mismatched", "state", state)
		h.renderError(w, http.StatusBadRequest, "Security error: Invalid state parameter")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name: stateCookieName(state), Value: "", Path: "/", MaxAge: -1, HttpOnly: true,
	})

	if flow.CodeVerifier == "" {
		h.logger.Warn("code verifier not found - this is okay for confidential clients")
	}

	tokens, err := h.broker.ExchangeCode(r.Context(), code, flow.CodeVerifier)
	if err != nil {
		h.logger.Error("token exchange failed", "error", err)
		status, msg, _ := brokerErrorParts(err)
		h.renderError(w, status, msg)
		return
	}

	cred := credential.Credential{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    h.clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	if err := h.creds.Set(cred); err != nil {
		h.logger.Error("failed to persist credential", "error", err)
		h.renderError(w, http.StatusInternalServerError, "Failed to store credentials: "+err.Error())
		return
	}

	h.logger.Info("login completed", "expires_at", cred.ExpiresAt)
	http.Redirect(w, r, flow.RedirectTarget, http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Local invalidation only; provider-side revocation is out of scope.
	if err := h.creds.Clear(); err != nil {
		h.logger.Error("failed to clear credential", "error", err)
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// handleRefresh renews the access token with the stored refresh token.
// It runs only on explicit request, never automatically on expiry.
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.creds.Get()
	if !ok || cred.RefreshToken == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}

	tokens, err := h.broker.Refresh(r.Context(), cred.RefreshToken)
	if err != nil {
		h.logger.Error("token refresh failed", "error", err)
		status, msg, _ := brokerErrorParts(err)
		h.renderError(w, status, msg)
		return
	}

	next := credential.Credential{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    h.clock.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		// Providers may rotate or omit the refresh token; keep the old
		// one when none comes back.
		next.RefreshToken = cred.RefreshToken
	}
	if err := h.creds.Set(next); err != nil {
		h.logger.Error("failed to persist credential", "error", err)
		h.renderError(w, http.StatusInternalServerError, "Failed to store credentials: "+err.Error())
		return
	}

	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var req struct {
		Code         string `json:"code"`
		CodeVerifier string `json:"code_verifier"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return
	}

	tokens, err := h.broker.ExchangeCode(r.Context(), req.Code, req.CodeVerifier)
	if err != nil {
		status, msg, details := brokerErrorParts(err)
		writeJSONError(w, status, msg, details)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) handleFoundryProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return
	}

	var req broker.ProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body", err.Error())
		return
	}

	result, err := h.broker.Forward(r.Context(), req)
	if err != nil {
		status, msg, details := brokerErrorParts(err)
		writeJSONError(w, status, msg, details)
		return
	}

	// Downstream status and body pass through unchanged.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.Status)
	w.Write(result.Body)
}

// isLocalPath accepts only same-site redirect targets: an absolute path
// that is not protocol-relative ("//evil.test").
func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//")
}

func isHTTPS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func sameSiteMode(r *http.Request) http.SameSite {
	if isHTTPS(r) {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func brokerErrorParts(err error) (status int, msg, details string) {
	var be *broker.Error
	if errors.As(err, &be) {
		return be.Status, be.Message, be.Details
	}
	return http.StatusInternalServerError, "Internal server error", err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg, details string) {
	body := map[string]string{"error": msg}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
