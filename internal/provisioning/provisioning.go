// Package provisioning defines the read-only view of the switch's provisioned
// entities (domains, lines, extensions, gateways) that call routing consumes.
package provisioning

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// CallerID is a caller ID name/number pair.
type CallerID struct {
	Name   string
	Number string
}

// Domain is an intercom profile: a calling context that owns extensions and
// lines. DefaultCallerID is presented through gateways unless a line
// overrides it.
type Domain struct {
	ID              int64
	Name            string
	Port            int
	DefaultCallerID *CallerID
}

// Gateway is a carrier trunk profile. Lower Priority values are tried first.
type Gateway struct {
	ID       int64
	Domain   string
	Port     int
	Username string
	Password string
	Proxy    string
	Realm    string
	Priority int
	ACL      []string
}

// Extension is a numbered dialplan slot within a domain. Action is nil when
// no action is bound.
type Extension struct {
	ID        int64
	Number    string
	Domain    *Domain
	Voicemail bool
	Action    Action
}

// DomainName returns the extension's calling context, or "" when the domain
// was not loaded.
func (e *Extension) DomainName() string {
	if e == nil || e.Domain == nil {
		return ""
	}
	return e.Domain.Name
}

// DidExtension maps a carrier DID number to an optional Extension.
type DidExtension struct {
	ID        int64
	Number    string
	Extension *Extension
}

// OutboundExtension is a full-match number rule that routes a line's
// outbound dials through Gateway, or through the fallback list when Gateway
// is nil.
type OutboundExtension struct {
	ID         int64
	Name       string
	Expression string
	Gateway    *Gateway

	pattern *regexp.Regexp
}

// NewOutboundExtension compiles expr as a full-match pattern.
func NewOutboundExtension(id int64, name, expr string, gw *Gateway) (OutboundExtension, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)$`)
	if err != nil {
		return OutboundExtension{}, fmt.Errorf("compiling outbound extension %q: %w", name, err)
	}
	return OutboundExtension{
		ID:         id,
		Name:       name,
		Expression: expr,
		Gateway:    gw,
		pattern:    re,
	}, nil
}

// MustOutboundExtension is like NewOutboundExtension but panics on an invalid
// expression.
func MustOutboundExtension(id int64, name, expr string, gw *Gateway) OutboundExtension {
	o, err := NewOutboundExtension(id, name, expr, gw)
	if err != nil {
		panic(err)
	}
	return o
}

// Matches reports whether the whole number matches the rule.
func (o OutboundExtension) Matches(number string) bool {
	if o.pattern == nil {
		return false
	}
	return o.pattern.MatchString(number)
}

// Line is an internal registered endpoint.
type Line struct {
	ID       int64
	Name     string
	Username string
	Password string
	Domain   *Domain

	// ExtensionNumber is the number of the line's own extension, or "".
	ExtensionNumber string

	OutboundCallerID *CallerID

	// OutboundRules are in stored order; the first match wins.
	OutboundRules []OutboundExtension
}

// DomainName returns the line's domain name, or "".
func (l *Line) DomainName() string {
	if l == nil || l.Domain == nil {
		return ""
	}
	return l.Domain.Name
}

// OutsideLine is an external phone number that bridges can ring.
type OutsideLine struct {
	ID          int64
	Note        string
	PhoneNumber string
	Gateway     *Gateway
}

// VertoClient is a browser client session bound to an extension.
type VertoClient struct {
	ID        int64
	ClientID  string
	SessionID string
	Password  string
	Extension *Extension
	Created   time.Time
	Connected *time.Time
}

// Store is the lookup surface of the provisioning database. Lookups of a
// single entity return (nil, nil) when nothing matches.
type Store interface {
	LineByUsername(ctx context.Context, username string) (*Line, error)
	ExtensionByNumber(ctx context.Context, domain, number string) (*Extension, error)
	DidExtensionByNumber(ctx context.Context, number string) (*DidExtension, error)
	DidExtensions(ctx context.Context) ([]DidExtension, error)
	DomainByName(ctx context.Context, name string) (*Domain, error)
	Domains(ctx context.Context) ([]Domain, error)
	GatewayByDomain(ctx context.Context, domain string) (*Gateway, error)
	// Gateways returns every gateway ordered by priority.
	Gateways(ctx context.Context) ([]Gateway, error)
	ClientByID(ctx context.Context, clientID string) (*VertoClient, error)
}

// ClientPresence records verto client connect/disconnect events.
type ClientPresence interface {
	MarkConnected(ctx context.Context, clientID string, at time.Time) error
	MarkDisconnected(ctx context.Context, clientID string) error
}

// DiscardPresence is a ClientPresence that records nothing. It backs
// dispatch tables that must not change client state, such as previews.
type DiscardPresence struct{}

func (DiscardPresence) MarkConnected(context.Context, string, time.Time) error { return nil }
func (DiscardPresence) MarkDisconnected(context.Context, string) error { return nil }
