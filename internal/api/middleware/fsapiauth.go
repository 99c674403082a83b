package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/icholy/digest"

	"github.com/intercompbx/intercompbx/internal/auth"
)

// FSAPI authentication schemes.
const (
	SchemeNone   = "none"
	SchemeBasic  = "basic"
	SchemeDigest = "digest"
)

const (
	fsapiRealm   = "intercompbx"
	fsapiOpaque  = "intercompbx"
	nonceExpiry  = 5 * time.Minute
	digestMD5Alg = "MD5"
)

// FSAPIAuthConfig selects how the switch authenticates to /fsapi.
type FSAPIAuthConfig struct {
	Scheme   string
	Username string
	// Password is the plaintext secret. Digest requires it; basic uses it
	// when PasswordHash is empty.
	Password string
	// PasswordHash is an argon2id hash checked by the basic scheme.
	PasswordHash string
}

// FSAPIAuthenticator guards the /fsapi endpoint with HTTP basic or digest
// authentication as configured for mod_xml_curl.
type FSAPIAuthenticator struct {
	cfg    FSAPIAuthConfig
	guard  *FailureGuard
	logger *slog.Logger
	now    func() time.Time
	nonces sync.Map // nonce -> issued time.Time
}

// NewFSAPIAuthenticator validates cfg and returns an authenticator. guard may
// be nil to disable IP blocking.
func NewFSAPIAuthenticator(cfg FSAPIAuthConfig, guard *FailureGuard, logger *slog.Logger) (*FSAPIAuthenticator, error) {
	switch cfg.Scheme {
	case SchemeNone:
	case SchemeBasic:
		if cfg.Password == "" && cfg.PasswordHash == "" {
			return nil, fmt.Errorf("basic auth requires a password or password hash")
		}
	case SchemeDigest:
		if cfg.Password == "" {
			return nil, fmt.Errorf("digest auth requires a plaintext password")
		}
	default:
		return nil, fmt.Errorf("unknown fsapi auth scheme %q", cfg.Scheme)
	}
	return &FSAPIAuthenticator{
		cfg:    cfg,
		guard:  guard,
		logger: logger.With("subsystem", "fsapi_auth"),
		now:    time.Now,
	}, nil
}

// Middleware returns the authentication middleware.
func (a *FSAPIAuthenticator) Middleware(next http.Handler) http.Handler {
	if a.cfg.Scheme == SchemeNone {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if a.guard != nil && a.guard.Blocked(ip) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		var ok bool
		if a.cfg.Scheme == SchemeBasic {
			ok = a.checkBasic(w, r)
		} else {
			ok = a.checkDigest(w, r)
		}
		if !ok {
			return
		}
		if a.guard != nil {
			a.guard.Succeed(ip)
		}
		next.ServeHTTP(w, r)
	})
}

// SweepNonces forgets digest nonces older than the expiry window.
func (a *FSAPIAuthenticator) SweepNonces() {
	now := a.now()
	a.nonces.Range(func(k, v any) bool {
		if now.Sub(v.(time.Time)) > nonceExpiry {
			a.nonces.Delete(k)
		}
		return true
	})
}

func (a *FSAPIAuthenticator) fail(r *http.Request, reason string) {
	ip := clientIP(r)
	a.logger.Warn("fsapi authentication failed", "reason", reason, "ip", ip)
	if a.guard != nil {
		a.guard.Fail(ip)
	}
}

func (a *FSAPIAuthenticator) checkBasic(w http.ResponseWriter, r *http.Request) bool {
	challenge := func() {
		w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", fsapiRealm))
		writeError(w, http.StatusUnauthorized, "authentication required")
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		challenge()
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(a.cfg.Username)) != 1 {
		a.fail(r, "unknown user")
		challenge()
		return false
	}

	var match bool
	if a.cfg.PasswordHash != "" {
		var err error
		match, err = auth.CheckPassword(pass, a.cfg.PasswordHash)
		if err != nil {
			a.logger.Error("checking fsapi password hash", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return false
		}
	} else {
		match = subtle.ConstantTimeCompare([]byte(pass), []byte(a.cfg.Password)) == 1
	}
	if !match {
		a.fail(r, "wrong password")
		challenge()
		return false
	}
	return true
}

func (a *FSAPIAuthenticator) checkDigest(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(header), "digest ") {
		a.challengeDigest(w)
		return false
	}

	cred, err := digest.ParseCredentials(header)
	if err != nil {
		a.fail(r, "malformed credentials")
		writeError(w, http.StatusBadRequest, "malformed authorization header")
		return false
	}

	issued, ok := a.nonces.Load(cred.Nonce)
	if !ok || a.now().Sub(issued.(time.Time)) > nonceExpiry {
		a.nonces.Delete(cred.Nonce)
		a.challengeDigest(w)
		return false
	}
	if cred.Username != a.cfg.Username {
		a.fail(r, "unknown user")
		a.challengeDigest(w)
		return false
	}
	if cred.URI != r.URL.RequestURI() {
		a.fail(r, "uri mismatch")
		writeError(w, http.StatusBadRequest, "digest uri mismatch")
		return false
	}

	chal := digest.Challenge{
		Realm:     fsapiRealm,
		Nonce:     cred.Nonce,
		Opaque:    fsapiOpaque,
		Algorithm: digestMD5Alg,
	}
	expected, err := digest.Digest(&chal, digest.Options{
		Method:   r.Method,
		URI:      cred.URI,
		Username: cred.Username,
		Password: a.cfg.Password,
	})
	if err != nil {
		a.logger.Error("computing digest", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(cred.Response), []byte(expected.Response)) != 1 {
		a.fail(r, "wrong password")
		a.challengeDigest(w)
		return false
	}

	a.nonces.Delete(cred.Nonce)
	return true
}

func (a *FSAPIAuthenticator) challengeDigest(w http.ResponseWriter) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		a.logger.Error("generating nonce", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	nonce := hex.EncodeToString(buf)
	a.nonces.Store(nonce, a.now())

	chal := digest.Challenge{
		Realm:     fsapiRealm,
		Nonce:     nonce,
		Opaque:    fsapiOpaque,
		Algorithm: digestMD5Alg,
	}
	w.Header().Set("WWW-Authenticate", chal.String())
	writeError(w, http.StatusUnauthorized, "authentication required")
}
