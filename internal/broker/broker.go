// Package broker performs the confidential half of the Foundry OAuth2
// flow: exchanging authorization codes for tokens with the client secret,
// refreshing tokens, and forwarding authenticated calls to the Foundry
// API. It is the only place the client secret is used.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/scholartrack/foundry-broker/internal/config"
	"github.com/scholartrack/foundry-broker/internal/protocol"
)

// TokenResponse is the provider's token payload, passed through verbatim.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ProxyRequest describes one forwarded call to the Foundry API. The
// bearer token is supplied by the caller, not minted here.
type ProxyRequest struct {
	Endpoint string         `json:"endpoint"`
	Token    string         `json:"token"`
	Method   string         `json:"method,omitempty"`
	Body     map[string]any `json:"requestBody,omitempty"`
}

// ProxyResult carries the downstream status and JSON body unchanged.
type ProxyResult struct {
	Status int
	Body   json.RawMessage
}

// Broker is the credential broker: one service, two operations
// (ExchangeCode, Forward), plus the refresh extension point.
type Broker struct {
	foundry    config.Foundry
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	usedCodes map[string]struct{}
}

// New creates a broker. When an issuer is configured the authorization
// and token endpoints come from OIDC discovery; otherwise they are
// derived from the Foundry base URL.
func New(ctx context.Context, f config.Foundry, httpClient *http.Client, logger *slog.Logger) (*Broker, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   f.AuthorizeURL(),
		TokenURL:  f.TokenURL(),
		AuthStyle: oauth2.AuthStyleInHeader,
	}
	if f.Issuer != "" {
		discoveryCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		var (
			provider *gooidc.Provider
			err      error
		)
		for i := range 30 {
			provider, err = gooidc.NewProvider(discoveryCtx, f.Issuer)
			if err == nil {
				break
			}
			logger.Warn("provider discovery failed, retrying",
				"attempt", i+1, "issuer", f.Issuer, "error", err)
			time.Sleep(2 * time.Second)
		}
		if err != nil {
			return nil, fmt.Errorf("discover provider %s: %w", f.Issuer, err)
		}
		endpoint = provider.Endpoint()
		// Foundry authenticates confidential clients with Basic auth.
		endpoint.AuthStyle = oauth2.AuthStyleInHeader
		logger.Info("provider discovered", "issuer", f.Issuer, "token_url", endpoint.TokenURL)
	}

	return &Broker{
		foundry: f,
		oauth: &oauth2.Config{
			ClientID:     f.ClientID,
			ClientSecret: f.ClientSecret,
			RedirectURL:  f.RedirectURI,
			Endpoint:     endpoint,
			Scopes:       f.Scopes,
		},
		httpClient: httpClient,
		logger:     logger,
		usedCodes:  make(map[string]struct{}),
	}, nil
}

// AuthCodeURL builds the authorization URL for one login attempt.
// codeChallenge may be empty for configurations without PKCE.
func (b *Broker) AuthCodeURL(state, codeChallenge string) string {
	var opts []oauth2.AuthCodeOption
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return b.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode exchanges an authorization code for tokens. The code is
// single-use: a code that already completed an exchange is refused
// without another provider round trip.
func (b *Broker) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	if code == "" {
		return nil, &Error{Status: http.StatusBadRequest, Message: "Missing authorization code"}
	}

	b.mu.Lock()
	_, used := b.usedCodes[code]
	b.mu.Unlock()
	if used {
		return nil, &Error{
			Status:  http.StatusBadRequest,
			Message: "Authorization code already used",
			Details: "OAuth authorization codes can only be used once",
		}
	}

	var opts []oauth2.AuthCodeOption
	if codeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	} else {
		// Tolerated for confidential clients that skip PKCE.
		b.logger.Warn("no code verifier supplied, exchanging without PKCE")
	}

	token, err := b.oauth.Exchange(b.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, exchangeError(err)
	}

	b.mu.Lock()
	b.usedCodes[code] = struct{}{}
	b.mu.Unlock()

	return tokenResponse(token), nil
}

// Refresh obtains a new access token using a refresh token. It is an
// extension point only: nothing calls it automatically on expiry.
func (b *Broker) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, &Error{Status: http.StatusBadRequest, Message: "Missing refresh token"}
	}

	source := b.oauth.TokenSource(b.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, exchangeError(err)
	}
	return tokenResponse(token), nil
}

// Forward relays a call to the Foundry API with the caller's bearer
// token. GET requests carry their body as query parameters since the
// downstream rejects GET bodies; everything else is JSON. The downstream
// status and JSON body pass through unchanged, success or not.
func (b *Broker) Forward(ctx context.Context, pr ProxyRequest) (*ProxyResult, error) {
	if pr.Token == "" {
		return nil, &Error{Status: http.StatusBadRequest, Message: "Missing required parameter: token"}
	}
	if pr.Endpoint == "" {
		return nil, &Error{Status: http.StatusBadRequest, Message: "Missing required parameter: endpoint"}
	}
	if !b.endpointAllowed(pr.Endpoint) {
		return nil, &Error{
			Status:  http.StatusForbidden,
			Message: "Endpoint not allowed",
			Details: "Path is outside the configured allowed_endpoint_prefixes",
		}
	}

	method := strings.ToUpper(pr.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := b.foundry.URL + pr.Endpoint
	var reqBody io.Reader

	if method == http.MethodGet && len(pr.Body) > 0 {
		query := url.Values{}
		for _, key := range protocol.SortedKeys(pr.Body) {
			if pr.Body[key] == nil {
				continue
			}
			query.Add(key, fmt.Sprintf("%v", pr.Body[key]))
		}
		if encoded := query.Encode(); encoded != "" {
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + encoded
		}
	} else if method != http.MethodGet && len(pr.Body) > 0 {
		encoded, err := json.Marshal(pr.Body)
		if err != nil {
			return nil, &Error{Status: http.StatusBadRequest, Message: "Invalid request body", Details: err.Error()}
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, &Error{Status: http.StatusBadRequest, Message: "Invalid proxy request", Details: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+pr.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{
			Status:  http.StatusInternalServerError,
			Message: "Internal server error",
			Details: protocol.CleanGoErrorMessage(err.Error()),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{
			Status:  http.StatusBadGateway,
			Message: "Failed to read response from Foundry API",
			Details: err.Error(),
		}
	}

	if !json.Valid(body) {
		details := ""
		if wwwAuth := resp.Header.Get("Www-Authenticate"); wwwAuth != "" {
			code, desc, _ := protocol.ParseWWWAuthenticate(wwwAuth)
			details = strings.TrimSpace(code + " " + desc)
		}
		return nil, &Error{
			Status:  http.StatusBadGateway,
			Message: fmt.Sprintf("Failed to parse response: %s", http.StatusText(resp.StatusCode)),
			Details: details,
		}
	}

	return &ProxyResult{Status: resp.StatusCode, Body: body}, nil
}

func (b *Broker) endpointAllowed(endpoint string) bool {
	if len(b.foundry.AllowedEndpointPrefixes) == 0 {
		return true
	}
	for _, prefix := range b.foundry.AllowedEndpointPrefixes {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

// clientContext routes x/oauth2's internal requests through our client,
// which carries the TLS settings from config.
func (b *Broker) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

func tokenResponse(token *oauth2.Token) *TokenResponse {
	return &TokenResponse{
		AccessToken:  token.AccessToken,
		TokenType:    token.TokenType,
		ExpiresIn:    token.ExpiresIn,
		RefreshToken: token.RefreshToken,
	}
}

// exchangeError maps an x/oauth2 failure onto the broker error taxonomy:
// RFC 6749 errors keep the provider's status and description, transport
// failures become a generic 500 with the underlying message attached.
func exchangeError(err error) *Error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		if msg == "" {
			msg = strings.TrimSpace(string(re.Body))
		}
		status := http.StatusInternalServerError
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return &Error{Status: status, Message: "Token exchange failed: " + msg}
	}
	return &Error{
		Status:  http.StatusInternalServerError,
		Message: "Internal server error",
		Details: protocol.CleanGoErrorMessage(err.Error()),
	}
}
