package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Config holds all runtime configuration for the intercompbx server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	Hostname    string // name the switch posts as "hostname"; owns the verto client directory
	HTTPPort    int
	DataDir     string
	DatabaseURL string // postgres:// URL; the embedded SQLite database is used when empty
	LogLevel    string
	LogFormat   string // log output format: "text" or "json"

	FSAPIAuth         string // none, basic, or digest
	FSAPIUsername     string
	FSAPIPassword     string
	FSAPIPasswordHash string // argon2id hash, basic auth only

	AdminJWTSecret string // hex-encoded 32-byte secret for admin API tokens

	VertoPort int
	STUNPort  int

	ActionKinds         string // comma-separated action kinds to enable
	DIDContext          string // caller or extension
	NormalizeInboundDID bool
	AuditDocuments      bool
	TrustProxyHeaders   bool
}

// FSAPI authentication schemes.
const (
	FSAPIAuthNone   = "none"
	FSAPIAuthBasic  = "basic"
	FSAPIAuthDigest = "digest"
)

// defaults
const (
	defaultHTTPPort      = 8080
	defaultDataDir       = "./data"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultFSAPIAuth     = FSAPIAuthNone
	defaultFSAPIUsername = "freeswitch"
	defaultVertoPort     = 8081
	defaultSTUNPort      = 3478
	defaultActionKinds   = "bridge,conference"
	defaultDIDContext    = "caller"
)

// envPrefix is the prefix for all intercompbx environment variables.
const envPrefix = "INTERCOMPBX_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("intercompbx", flag.ContinueOnError)

	fs.StringVar(&cfg.Hostname, "hostname", defaultHostname(), "switch hostname matched against the posted hostname field")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the embedded database")
	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "PostgreSQL connection URL (embedded SQLite when empty)")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.FSAPIAuth, "fsapi-auth", defaultFSAPIAuth, "authentication for /fsapi (none, basic, digest)")
	fs.StringVar(&cfg.FSAPIUsername, "fsapi-username", defaultFSAPIUsername, "username the switch authenticates /fsapi requests with")
	fs.StringVar(&cfg.FSAPIPassword, "fsapi-password", "", "plaintext /fsapi password (required for digest)")
	fs.StringVar(&cfg.FSAPIPasswordHash, "fsapi-password-hash", "", "argon2id hash of the /fsapi password (basic only)")
	fs.StringVar(&cfg.AdminJWTSecret, "admin-jwt-secret", "", "hex-encoded 32-byte secret for admin API tokens (auto-generated if empty)")
	fs.IntVar(&cfg.VertoPort, "verto-port", defaultVertoPort, "verto websocket port rendered into verto.conf")
	fs.IntVar(&cfg.STUNPort, "stun-port", defaultSTUNPort, "STUN port rendered into verto.conf")
	fs.StringVar(&cfg.ActionKinds, "action-kinds", defaultActionKinds, "comma-separated dialplan action kinds to enable")
	fs.StringVar(&cfg.DIDContext, "did-context", defaultDIDContext, "calling context for DIDs dialed by lines (caller, extension)")
	fs.BoolVar(&cfg.NormalizeInboundDID, "normalize-inbound-did", false, "normalize inbound DIDs to E.164 before lookup")
	fs.BoolVar(&cfg.AuditDocuments, "audit-documents", false, "log every rendered document at info level")
	fs.BoolVar(&cfg.TrustProxyHeaders, "trust-proxy-headers", false, "take the client IP from X-Forwarded-For and X-Real-IP; enable only behind a trusted proxy")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// CLI flags take precedence over env vars.
	if err := applyEnvOverrides(fs); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envName maps a flag name to its environment variable, e.g. http-port to
// INTERCOMPBX_HTTP_PORT.
func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnvOverrides sets every flag that was not given on the command line
// from its environment variable, if present.
func applyEnvOverrides(fs *flag.FlagSet) error {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	var err error
	fs.VisitAll(func(f *flag.Flag) {
		if err != nil || set[f.Name] {
			return
		}
		val, ok := os.LookupEnv(envName(f.Name))
		if !ok || val == "" {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("parsing %s: %w", envName(f.Name), serr)
		}
	})
	return err
}

func defaultHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("hostname must not be empty")
	}
	for name, port := range map[string]int{
		"http-port":  c.HTTPPort,
		"verto-port": c.VertoPort,
		"stun-port":  c.STUNPort,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	c.FSAPIAuth = strings.ToLower(c.FSAPIAuth)
	switch c.FSAPIAuth {
	case FSAPIAuthNone:
	case FSAPIAuthBasic:
		if c.FSAPIPassword == "" && c.FSAPIPasswordHash == "" {
			return fmt.Errorf("fsapi-auth=basic requires fsapi-password or fsapi-password-hash")
		}
	case FSAPIAuthDigest:
		// Digest verification needs the plaintext secret.
		if c.FSAPIPassword == "" {
			return fmt.Errorf("fsapi-auth=digest requires fsapi-password")
		}
	default:
		return fmt.Errorf("fsapi-auth must be one of none, basic, digest; got %q", c.FSAPIAuth)
	}
	if c.FSAPIAuth != FSAPIAuthNone && c.FSAPIUsername == "" {
		return fmt.Errorf("fsapi-username must not be empty when fsapi-auth is %s", c.FSAPIAuth)
	}

	if len(c.ActionKindList()) == 0 {
		return fmt.Errorf("action-kinds must name at least one kind")
	}

	c.DIDContext = strings.ToLower(c.DIDContext)
	if c.DIDContext != "caller" && c.DIDContext != "extension" {
		return fmt.Errorf("did-context must be one of caller, extension; got %q", c.DIDContext)
	}

	return nil
}

// ActionKindList splits ActionKinds into trimmed, non-empty names.
func (c *Config) ActionKindList() []string {
	var kinds []string
	for _, k := range strings.Split(c.ActionKinds, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// AdminJWTSecretBytes returns the decoded 32-byte admin token secret.
// If no secret is configured, it generates a random key and stores the
// hex-encoded value back in the config for the process lifetime.
func (c *Config) AdminJWTSecretBytes() ([]byte, error) {
	if c.AdminJWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating admin jwt secret: %w", err)
		}
		c.AdminJWTSecret = hex.EncodeToString(key)
		slog.Warn("no admin-jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.AdminJWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding admin jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("admin jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
