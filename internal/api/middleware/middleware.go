// Package middleware holds the HTTP middleware shared by the /fsapi endpoint
// and the admin API.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
)

// errorEnvelope matches the api package's envelope format for error responses.
type errorEnvelope struct {
	Error string `json:"error,omitempty"`
}

// writeError writes a JSON error matching the API envelope format.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: msg}) //nolint:errcheck
}

// clientIP returns the request's remote address without its port. Proxy
// headers count only when chi's RealIP ran first.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
