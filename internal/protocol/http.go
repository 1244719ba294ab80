package protocol

import (
	"regexp"
	"strings"
)

// CleanGoErrorMessage removes Go HTTP client prefixes like `Get "http://...": `
// so network failures surface as the underlying message.
func CleanGoErrorMessage(msg string) string {
	for _, method := range []string{"Get", "Post", "Head", "Put", "Delete", "Patch"} {
		prefix := method + " \""
		if strings.HasPrefix(msg, prefix) {
			if idx := strings.Index(msg[len(prefix):], "\": "); idx >= 0 {
				return msg[len(prefix)+idx+3:]
			}
		}
	}
	return msg
}

var wwwAuthParamRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// ParseWWWAuthenticate extracts error, error_description, and error_uri
// from a WWW-Authenticate header value (RFC 6750 Section 3).
func ParseWWWAuthenticate(value string) (errCode, errDesc, errURI string) {
	for _, match := range wwwAuthParamRe.FindAllStringSubmatch(value, -1) {
		switch match[1] {
		case "error":
			errCode = match[2]
		case "error_description":
			errDesc = match[2]
		case "error_uri":
			errURI = match[2]
		}
	}
	return
}
