package dialplan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// RouteKind is the outcome of a resolution.
type RouteKind int

const (
	RouteNotFound RouteKind = iota
	RouteAction
	RouteGateway
)

func (k RouteKind) String() string {
	switch k {
	case RouteAction:
		return "action"
	case RouteGateway:
		return "gateway"
	default:
		return "not_found"
	}
}

// Caller identifies who placed a call: an internal line, or an opaque
// name/number pair delivered by a carrier trunk. Exactly one is set.
type Caller struct {
	Line    *provisioning.Line
	Inbound *provisioning.CallerID
}

// LineCaller returns a Caller for an internal line.
func LineCaller(l *provisioning.Line) Caller { return Caller{Line: l} }

// InboundCaller returns a Caller for a trunk-delivered caller ID, used verbatim.
func InboundCaller(name, number string) Caller {
	return Caller{Inbound: &provisioning.CallerID{Name: name, Number: number}}
}

// LocalID is the caller ID presented to internal lines. A line presents its
// name and its extension number, or its username when it has no extension.
func (c Caller) LocalID() provisioning.CallerID {
	switch {
	case c.Line != nil:
		number := c.Line.ExtensionNumber
		if number == "" {
			number = c.Line.Username
		}
		return provisioning.CallerID{Name: c.Line.Name, Number: number}
	case c.Inbound != nil:
		return *c.Inbound
	}
	return provisioning.CallerID{}
}

// Route is the result of resolving one signaling event.
type Route struct {
	Kind       RouteKind
	Context    string
	DestNumber string
	Caller     Caller
	Extension  *provisioning.Extension
	Action     provisioning.Action

	// Gateway is set on a gateway route with a rule-specific trunk; nil means
	// the fallback list.
	Gateway *provisioning.Gateway

	// Reason explains a not-found outcome.
	Reason string
}

func notFound(reason string) Route {
	return Route{Kind: RouteNotFound, Reason: reason}
}

// DIDContext selects the calling context reported when a line's outbound dial
// short-circuits to a provisioned DID.
type DIDContext string

const (
	// DIDContextCaller keeps the caller's own context.
	DIDContextCaller DIDContext = "caller"
	// DIDContextExtension uses the target extension's domain.
	DIDContextExtension DIDContext = "extension"
)

// ParseDIDContext validates a DIDContext name.
func ParseDIDContext(s string) (DIDContext, error) {
	switch DIDContext(s) {
	case DIDContextCaller, DIDContextExtension:
		return DIDContext(s), nil
	}
	return "", fmt.Errorf("invalid did context %q (must be caller or extension)", s)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithDIDContext sets the context mode for DID short-circuits.
func WithDIDContext(mode DIDContext) Option {
	return func(r *Resolver) { r.didContext = mode }
}

// WithInboundDIDNormalization normalizes trunk-delivered DIDs before lookup.
func WithInboundDIDNormalization(on bool) Option {
	return func(r *Resolver) { r.normalizeInbound = on }
}

// Resolver maps signaling events to routes.
type Resolver struct {
	store            provisioning.Store
	actions          *ActionRegistry
	logger           *slog.Logger
	didContext       DIDContext
	normalizeInbound bool
}

// NewResolver creates a Resolver reading from store.
func NewResolver(store provisioning.Store, actions *ActionRegistry, logger *slog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:      store,
		actions:    actions,
		logger:     logger.With("subsystem", "dialplan"),
		didContext: DIDContextCaller,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveLineCall resolves a dial from the line with the given username. The
// line must belong to callCtx. A provisioned extension in callCtx always
// wins; otherwise the normalized number is matched against the line's
// outbound rules in stored order.
func (r *Resolver) ResolveLineCall(ctx context.Context, callCtx, dest, username string) (Route, error) {
	if dest == "" || username == "" {
		return notFound("missing destination or username"), nil
	}

	line, err := r.store.LineByUsername(ctx, username)
	if err != nil {
		return Route{}, fmt.Errorf("looking up line %q: %w", username, err)
	}
	if line == nil {
		return notFound("unknown line"), nil
	}
	if line.DomainName() != callCtx {
		r.logger.Warn("line dialed outside its context",
			"line", line.Username,
			"line_context", line.DomainName(),
			"context", callCtx,
		)
		return notFound("line is not in the calling context"), nil
	}
	caller := LineCaller(line)

	ext, err := r.store.ExtensionByNumber(ctx, callCtx, dest)
	if err != nil {
		return Route{}, fmt.Errorf("looking up extension %s@%s: %w", dest, callCtx, err)
	}
	if ext != nil {
		action, ok := r.actions.Resolve(ext)
		if !ok {
			return notFound("extension has no action"), nil
		}
		return Route{
			Kind:       RouteAction,
			Context:    callCtx,
			DestNumber: ext.Number,
			Caller:     caller,
			Extension:  ext,
			Action:     action,
		}, nil
	}

	full, ok := NormalizeE164(dest)
	if !ok {
		return notFound("destination is not a routable number"), nil
	}

	for _, rule := range line.OutboundRules {
		if !rule.Matches(full) {
			continue
		}
		r.logger.Debug("outbound rule matched",
			"line", line.Username,
			"rule", rule.Name,
			"dest_number", full,
		)

		route, found, err := r.didShortCircuit(ctx, callCtx, full, caller)
		if err != nil {
			return Route{}, err
		}
		if found {
			return route, nil
		}
		return Route{
			Kind:       RouteGateway,
			Context:    callCtx,
			DestNumber: full,
			Caller:     caller,
			Gateway:    rule.Gateway,
		}, nil
	}
	return notFound("no outbound rule matched"), nil
}

// didShortCircuit routes a dial to a provisioned DID directly to its
// extension instead of out a gateway and back in.
func (r *Resolver) didShortCircuit(ctx context.Context, callCtx, full string, caller Caller) (Route, bool, error) {
	did, err := r.store.DidExtensionByNumber(ctx, full)
	if err != nil {
		return Route{}, false, fmt.Errorf("looking up did %s: %w", full, err)
	}
	if did == nil || did.Extension == nil {
		return Route{}, false, nil
	}
	action, ok := r.actions.Resolve(did.Extension)
	if !ok {
		return Route{}, false, nil
	}
	routeCtx := callCtx
	if r.didContext == DIDContextExtension && did.Extension.DomainName() != "" {
		routeCtx = did.Extension.DomainName()
	}
	return Route{
		Kind:       RouteAction,
		Context:    routeCtx,
		DestNumber: did.Extension.Number,
		Caller:     caller,
		Extension:  did.Extension,
		Action:     action,
	}, true, nil
}

// ResolveInboundCall resolves a call delivered by a trunk to did. The caller
// ID pair is passed through unchanged.
func (r *Resolver) ResolveInboundCall(ctx context.Context, callCtx, dest, did string, caller provisioning.CallerID) (Route, error) {
	if dest == "" || did == "" {
		return notFound("missing destination or did"), nil
	}
	if r.normalizeInbound {
		if full, ok := NormalizeE164(did); ok {
			did = full
		}
	}

	d, err := r.store.DidExtensionByNumber(ctx, did)
	if err != nil {
		return Route{}, fmt.Errorf("looking up did %s: %w", did, err)
	}
	if d == nil {
		return notFound("unknown did"), nil
	}
	if d.Extension == nil {
		return notFound("did has no extension"), nil
	}
	action, ok := r.actions.Resolve(d.Extension)
	if !ok {
		return notFound("extension has no action"), nil
	}
	return Route{
		Kind:       RouteAction,
		Context:    callCtx,
		DestNumber: dest,
		Caller:     Caller{Inbound: &caller},
		Extension:  d.Extension,
		Action:     action,
	}, nil
}

// Actions returns the registry used for resolution.
func (r *Resolver) Actions() *ActionRegistry { return r.actions }
