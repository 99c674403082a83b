package intercom

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/intercompbx/intercompbx/internal/dialplan"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// DialplanData is the data of the bridge and outbound templates.
type DialplanData struct {
	Context    string
	DestNumber string
	Name       string
	Dialstring string
}

// ConferenceData is the data of the conference dialplan template.
type ConferenceData struct {
	Context    string
	DestNumber string
	Room       string
	Profile    string
}

// LineCallHandler answers dialplan requests from lines registered to an
// intercom domain.
type LineCallHandler struct {
	deps *Deps
}

func (h *LineCallHandler) SectionDocument(ctx context.Context, callCtx string, f fsapi.Fields) (fsapi.Document, error) {
	route, err := h.deps.Resolver.ResolveLineCall(ctx, callCtx,
		f.Get(fsapi.FieldDestinationNumber), f.Get(fsapi.FieldUserName))
	if err != nil {
		return fsapi.Document{}, err
	}
	return renderRoute(h.deps, route)
}

// InboundCallHandler answers dialplan requests for calls a carrier gateway
// delivers.
type InboundCallHandler struct {
	deps *Deps
}

func (h *InboundCallHandler) SectionDocument(ctx context.Context, callCtx string, f fsapi.Fields) (fsapi.Document, error) {
	caller := provisioning.CallerID{
		Name:   f.Get(fsapi.FieldCallerIDName),
		Number: f.Get(fsapi.FieldCallerIDNumber),
	}
	route, err := h.deps.Resolver.ResolveInboundCall(ctx, callCtx,
		f.Get(fsapi.FieldDestinationNumber), inboundDID(f), caller)
	if err != nil {
		return fsapi.Document{}, err
	}
	return renderRoute(h.deps, route)
}

// inboundDID returns the dialed DID: the To user, or the user part of the
// To URI when the engine did not split it out.
func inboundDID(f fsapi.Fields) string {
	if did := f.Get(fsapi.FieldSIPToUser); did != "" {
		return did
	}
	raw := f.Get(fsapi.FieldSIPToURI)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "sip:") && !strings.HasPrefix(raw, "sips:") {
		raw = "sip:" + raw
	}
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		return ""
	}
	return uri.User
}

func renderRoute(d *Deps, route dialplan.Route) (fsapi.Document, error) {
	d.observeRoute(route.Kind)

	switch route.Kind {
	case dialplan.RouteAction:
		return renderAction(d, route)

	case dialplan.RouteGateway:
		ds, err := d.Dialer.Outbound(route.Caller.Line, route.DestNumber, route.Gateway)
		if err != nil {
			return notRoutable(d, route, err)
		}
		doc, err := d.render("dialplan/outbound.xml", DialplanData{
			Context:    route.Context,
			DestNumber: route.DestNumber,
			Name:       "outbound",
			Dialstring: ds.String(),
		})
		if err != nil {
			return fsapi.Document{}, err
		}
		doc.Audit = true
		return doc, nil
	}

	d.Logger.Debug("no route", "context", route.Context, "reason", route.Reason)
	return fsapi.Document{}, fsapi.ErrNotFound
}

func renderAction(d *Deps, route dialplan.Route) (fsapi.Document, error) {
	tmpl := d.Resolver.Actions().Template(route.Action)

	switch a := route.Action.(type) {
	case *provisioning.Bridge:
		ds, err := d.Dialer.Bridge(route.Caller, route.Extension, a)
		if err != nil {
			return notRoutable(d, route, err)
		}
		return d.render(tmpl, DialplanData{
			Context:    route.Context,
			DestNumber: route.DestNumber,
			Name:       a.Name,
			Dialstring: ds.String(),
		})

	case *provisioning.Conference:
		return d.render(tmpl, ConferenceData{
			Context:    route.Context,
			DestNumber: route.DestNumber,
			Room:       a.Name,
			Profile:    ConferenceProfile,
		})
	}
	return fsapi.Document{}, fmt.Errorf("unhandled action kind %q", route.Action.Kind())
}

// notRoutable turns a provisioned number the engine cannot dial into a
// not-found answer; other errors pass through.
func notRoutable(d *Deps, route dialplan.Route, err error) (fsapi.Document, error) {
	if errors.Is(err, dialplan.ErrInvalidNumber) {
		d.Logger.Warn("unroutable number in dialstring",
			"context", route.Context,
			"dest_number", route.DestNumber,
			"error", err,
		)
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	return fsapi.Document{}, err
}
