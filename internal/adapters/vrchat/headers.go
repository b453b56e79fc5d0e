package vrchat

import (
	"encoding/base64"
	"net/http"
)

// DefaultUserAgent is sent when the caller supplies none.
const DefaultUserAgent = "Mozilla/5.0"

// NewHeaders builds request headers from opaque credentials. A cookie string
// is passed through as is; a username and password become a Basic token.
// Both may be set. The result always carries a User-Agent.
func NewHeaders(cookie, username, password string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", DefaultUserAgent)
	if cookie != "" {
		h.Set("Cookie", cookie)
	}
	if username != "" && password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		h.Set("Authorization", "Basic "+token)
	}
	return h
}
