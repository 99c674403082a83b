// Package intercom implements the mod_xml_curl handlers for intercom domains
// and carrier gateways, and registers them into the fsapi dispatch table.
package intercom

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/intercompbx/intercompbx/internal/dialplan"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
	"github.com/intercompbx/intercompbx/internal/render"
)

// ConferenceProfile is the conference.conf profile every room is created on.
const ConferenceProfile = "default"

// RouteRecorder observes resolved dialplan routes.
type RouteRecorder interface {
	ObserveRoute(kind string)
}

// VertoRecorder observes verto login outcomes.
type VertoRecorder interface {
	ObserveVertoLogin(outcome string)
}

// Verto login outcomes reported to a VertoRecorder.
const (
	VertoLoginOK              = "ok"
	VertoLoginUnknownClient   = "unknown_client"
	VertoLoginSessionMismatch = "session_mismatch"
)

// Deps are the collaborators shared by every handler.
type Deps struct {
	Hostname  string
	Store     provisioning.Store
	Presence  provisioning.ClientPresence
	Resolver  *dialplan.Resolver
	Dialer    *dialplan.Builder
	Renderer  render.Renderer
	Logger    *slog.Logger
	Routes    RouteRecorder
	Verto     VertoRecorder
	VertoPort int
	STUNPort  int

	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Deps) observeRoute(kind dialplan.RouteKind) {
	if d.Routes != nil {
		d.Routes.ObserveRoute(kind.String())
	}
}

func (d *Deps) observeVertoLogin(outcome string) {
	if d.Verto != nil {
		d.Verto.ObserveVertoLogin(outcome)
	}
}

func (d *Deps) render(name string, data any) (fsapi.Document, error) {
	body, err := d.Renderer.Render(name, data)
	if err != nil {
		return fsapi.Document{}, err
	}
	return fsapi.Document{Body: body}, nil
}

// Register adds every handler to b. Dialplan and directory keys come from the
// domains and gateways provisioned at the time of the call; the table does
// not follow later provisioning changes.
func Register(ctx context.Context, b *fsapi.Builder, d *Deps) error {
	domains, err := d.Store.Domains(ctx)
	if err != nil {
		return fmt.Errorf("loading domains: %w", err)
	}
	gateways, err := d.Store.Gateways(ctx)
	if err != nil {
		return fmt.Errorf("loading gateways: %w", err)
	}

	b.Handle("verto-login", fsapi.Predicate{fsapi.FieldAction: "verto_client_login"}, &VertoLoginHandler{deps: d})
	b.Handle("verto-disconnect", fsapi.Predicate{fsapi.FieldAction: "verto_client_disconnect"}, &VertoDisconnectHandler{deps: d})

	b.Section(fsapi.SectionConfiguration, fsapi.ConfigurationKey).
		Register("sofia", &SofiaConfigHandler{deps: d}).
		Register("verto", &VertoConfigHandler{deps: d}).
		Register("conference", &ConferenceConfigHandler{deps: d}).
		Register("acl", &ACLConfigHandler{deps: d})

	dp := b.Section(fsapi.SectionDialplan, fsapi.DialplanKey)
	dir := b.Section(fsapi.SectionDirectory, fsapi.DirectoryKey)
	hostnameIsDomain := false
	for _, dom := range domains {
		dp.Register(dom.Name, &LineCallHandler{deps: d})
		dir.Register(dom.Name, &LineAuthHandler{deps: d})
		if dom.Name == d.Hostname {
			hostnameIsDomain = true
		}
	}
	for _, gw := range gateways {
		dp.Register(gw.Domain, &InboundCallHandler{deps: d})
	}
	if hostnameIsDomain {
		d.Logger.Warn("hostname is an intercom domain, verto client auth disabled", "hostname", d.Hostname)
	} else {
		dir.Register(d.Hostname, &ClientAuthHandler{deps: d})
	}
	return nil
}
