package auth

import (
	"html/template"
	"net/http"
	"time"

	"github.com/scholartrack/foundry-broker/internal/protocol"
)

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>Foundry Credential Broker</title>
<style>
body { font-family: sans-serif; max-width: 48em; margin: 2em auto; }
pre { background: #f4f4f4; padding: 1em; overflow-x: auto; }
a.button { display: inline-block; padding: .4em 1em; border: 1px solid #888; text-decoration: none; color: #222; margin-right: .5em; }
.ok { color: #2a7a2a; } .warn { color: #a35b00; } .off { color: #888; }
</style>
</head>
<body>
<h1>Foundry Credential Broker</h1>
{{if .Authenticated}}
  {{if .Expired}}
  <p class="warn">Access token expired at {{.ExpiresAt}}.</p>
  {{else}}
  <p class="ok">Authenticated. Token expires at {{.ExpiresAt}}.</p>
  {{end}}
  {{if .Claims}}
  <h2>Access token claims</h2>
  <pre>{{.Claims}}</pre>
  {{end}}
  {{if .HasRefresh}}<a class="button" href="/refresh">Refresh token</a>{{end}}
  <a class="button" href="/logout">Log out</a>
{{else}}
  <p class="off">Not authenticated.</p>
  <a class="button" href="/login">Log in to Foundry</a>
{{end}}
</body>
</html>
`))

var errorTmpl = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><title>Authentication Error</title>
<style>body { font-family: sans-serif; max-width: 48em; margin: 2em auto; }</style>
</head>
<body>
<h1>Authentication Error</h1>
<p>{{.Message}}</p>
<p><a href="/login">Try again</a></p>
</body>
</html>
`))

type indexData struct {
	Authenticated bool
	Expired       bool
	ExpiresAt     string
	Claims        string
	HasRefresh    bool
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var data indexData
	if cred, ok := h.creds.Get(); ok {
		data.Authenticated = true
		data.Expired = !cred.Valid(h.clock.Now())
		data.ExpiresAt = cred.ExpiresAt.Format(time.RFC3339)
		data.HasRefresh = cred.RefreshToken != ""
		if protocol.IsJWT(cred.AccessToken) {
			if _, payload := protocol.DecodeJWTRaw(cred.AccessToken); payload != nil {
				data.Claims = protocol.PrettyJSON(payload)
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, data); err != nil {
		h.logger.Error("failed to render index page", "error", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := errorTmpl.Execute(w, struct{ Message string }{message}); err != nil {
		h.logger.Error("failed to render error page", "error", err)
	}
}
