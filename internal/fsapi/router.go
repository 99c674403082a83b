package fsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Document outcomes reported to a Recorder.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Recorder observes every routed request.
type Recorder interface {
	ObserveDocument(route, outcome string)
}

type route struct {
	name    string
	match   Predicate
	handler Handler
	section *section
}

// Builder assembles the dispatch table. It is not safe for concurrent use;
// build the table once at startup and serve from the returned Router.
type Builder struct {
	hostname string
	logger   *slog.Logger
	routes   []route
	sections map[string]*SectionBuilder
	errs     []error
}

// NewBuilder starts a dispatch table whose predicates all require hostname.
func NewBuilder(hostname string, logger *slog.Logger) *Builder {
	return &Builder{
		hostname: hostname,
		logger:   logger.With("subsystem", "fsapi"),
		sections: make(map[string]*SectionBuilder),
	}
}

// Handle appends a top-level route. Routes are tried in registration order.
func (b *Builder) Handle(name string, match Predicate, h Handler) {
	b.routes = append(b.routes, route{
		name:    name,
		match:   match.with(FieldHostname, b.hostname),
		handler: h,
	})
	b.logger.Info("registered route", "route", name)
}

// Section returns the builder for the named section, adding a route that
// matches section=name on first use.
func (b *Builder) Section(name string, key Discriminant) *SectionBuilder {
	if s, ok := b.sections[name]; ok {
		return s
	}
	s := &SectionBuilder{
		name:     name,
		key:      key,
		handlers: make(map[string]SectionHandler),
		owner:    b,
	}
	b.sections[name] = s
	b.routes = append(b.routes, route{
		name:  name,
		match: Predicate{FieldSection: name}.with(FieldHostname, b.hostname),
	})
	return s
}

// Build validates the table and returns a Router. Later changes to the
// Builder do not affect the Router.
func (b *Builder) Build(opts ...RouterOption) (*Router, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("building dispatch table: %w", errors.Join(b.errs...))
	}
	seen := make(map[string]bool, len(b.routes))
	r := &Router{
		logger: b.logger,
		routes: make([]route, 0, len(b.routes)),
	}
	for _, rt := range b.routes {
		if seen[rt.name] {
			return nil, fmt.Errorf("building dispatch table: duplicate route %q", rt.name)
		}
		seen[rt.name] = true
		if s, ok := b.sections[rt.name]; ok && rt.handler == nil {
			rt.section = s.build(b.logger)
			rt.handler = rt.section
		}
		r.routes = append(r.routes, rt)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RouterOption configures a Router at build time.
type RouterOption func(*Router)

// WithRecorder reports every routed request to rec.
func WithRecorder(rec Recorder) RouterOption {
	return func(r *Router) { r.recorder = rec }
}

// WithAuditAll logs every produced document, not only those flagged Audit.
func WithAuditAll(on bool) RouterOption {
	return func(r *Router) { r.auditAll = on }
}

// Router is the built dispatch table. It is safe for concurrent use.
type Router struct {
	routes   []route
	logger   *slog.Logger
	recorder Recorder
	auditAll bool
}

// Route returns the document of the first route whose predicate matches f.
func (r *Router) Route(ctx context.Context, f Fields) (Document, error) {
	for _, rt := range r.routes {
		if !rt.match.Matches(f) {
			continue
		}
		doc, err := rt.handler.Document(ctx, f)
		r.observe(rt.name, err)
		if err != nil {
			return Document{}, err
		}
		if doc.Audit || r.auditAll {
			r.logger.Info("fsapi document", "route", rt.name, "body", doc.Body)
		}
		return doc, nil
	}
	r.observe("unmatched", ErrNotFound)
	return Document{}, ErrNotFound
}

func (r *Router) observe(name string, err error) {
	if r.recorder == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = OutcomeNotFound
	case err != nil:
		outcome = OutcomeError
	}
	r.recorder.ObserveDocument(name, outcome)
}

// RouteInfo describes one entry of the dispatch table.
type RouteInfo struct {
	Name  string            `json:"name"`
	Match map[string]string `json:"match"`
	Keys  []string          `json:"keys,omitempty"`
}

// Routes lists the dispatch table in match order.
func (r *Router) Routes() []RouteInfo {
	out := make([]RouteInfo, 0, len(r.routes))
	for _, rt := range r.routes {
		info := RouteInfo{Name: rt.name, Match: make(map[string]string, len(rt.match))}
		for k, v := range rt.match {
			info.Match[k] = v
		}
		if rt.section != nil {
			info.Keys = rt.section.keys()
		}
		out = append(out, info)
	}
	return out
}

// SectionKeys returns the number of registered keys per section.
func (r *Router) SectionKeys() map[string]int {
	out := make(map[string]int)
	for _, rt := range r.routes {
		if rt.section != nil {
			out[rt.name] = len(rt.section.handlers)
		}
	}
	return out
}
