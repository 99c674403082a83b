package intercom

import (
	"context"

	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// SofiaData is the data of sofia.conf when every profile is requested.
type SofiaData struct {
	Hostname string
	Domains  []provisioning.Domain
	Gateways []provisioning.Gateway
}

// ProfileData is the data of a single intercom profile.
type ProfileData struct {
	Hostname string
	Domain   provisioning.Domain
}

// GatewayData is the data of a single gateway profile.
type GatewayData struct {
	Hostname string
	Gateway  provisioning.Gateway
}

// SofiaConfigHandler answers sofia.conf requests. A profile thread asks for
// its own configuration by posting profile=<name>.
type SofiaConfigHandler struct {
	deps *Deps
}

func (h *SofiaConfigHandler) SectionDocument(ctx context.Context, _ string, f fsapi.Fields) (fsapi.Document, error) {
	store := h.deps.Store

	if name := f.Get(fsapi.FieldProfile); name != "" {
		dom, err := store.DomainByName(ctx, name)
		if err != nil {
			return fsapi.Document{}, err
		}
		if dom != nil {
			return h.deps.render("configuration/intercom.conf.xml", ProfileData{
				Hostname: h.deps.Hostname,
				Domain:   *dom,
			})
		}
		gw, err := store.GatewayByDomain(ctx, name)
		if err != nil {
			return fsapi.Document{}, err
		}
		if gw == nil {
			return fsapi.Document{}, fsapi.ErrNotFound
		}
		return h.deps.render("configuration/gateway.conf.xml", GatewayData{
			Hostname: h.deps.Hostname,
			Gateway:  *gw,
		})
	}

	domains, err := store.Domains(ctx)
	if err != nil {
		return fsapi.Document{}, err
	}
	gateways, err := store.Gateways(ctx)
	if err != nil {
		return fsapi.Document{}, err
	}
	return h.deps.render("configuration/sofia.conf.xml", SofiaData{
		Hostname: h.deps.Hostname,
		Domains:  domains,
		Gateways: gateways,
	})
}

// VertoConfigHandler answers verto.conf requests.
type VertoConfigHandler struct {
	deps *Deps
}

func (h *VertoConfigHandler) SectionDocument(_ context.Context, _ string, _ fsapi.Fields) (fsapi.Document, error) {
	return h.deps.render("configuration/verto.conf.xml", struct {
		Hostname string
		Port     int
		STUNPort int
	}{h.deps.Hostname, h.deps.VertoPort, h.deps.STUNPort})
}

// ConferenceConfigHandler answers conference.conf requests.
type ConferenceConfigHandler struct {
	deps *Deps
}

func (h *ConferenceConfigHandler) SectionDocument(_ context.Context, _ string, _ fsapi.Fields) (fsapi.Document, error) {
	return h.deps.render("configuration/conference.conf.xml", struct {
		Profile string
		Domain  string
	}{ConferenceProfile, h.deps.Hostname})
}

// ACLConfigHandler answers acl.conf requests with one allow list per gateway
// that has ACL addresses.
type ACLConfigHandler struct {
	deps *Deps
}

func (h *ACLConfigHandler) SectionDocument(ctx context.Context, _ string, _ fsapi.Fields) (fsapi.Document, error) {
	gateways, err := h.deps.Store.Gateways(ctx)
	if err != nil {
		return fsapi.Document{}, err
	}
	return h.deps.render("configuration/acl.conf.xml", struct {
		Gateways []provisioning.Gateway
	}{gateways})
}
