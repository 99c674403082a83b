package intercom

import (
	"context"

	"github.com/google/uuid"

	"github.com/intercompbx/intercompbx/internal/dialplan"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// LineAuthData is the data of the line-auth template.
type LineAuthData struct {
	Domain   string
	Line     *provisioning.Line
	CallerID provisioning.CallerID
}

// ClientAuthData is the data of the client-auth template.
type ClientAuthData struct {
	Domain    string
	Client    *provisioning.VertoClient
	Context   string
	Extension string
}

// LineAuthHandler answers registration auth requests for lines of an
// intercom domain.
type LineAuthHandler struct {
	deps *Deps
}

func (h *LineAuthHandler) SectionDocument(ctx context.Context, domain string, f fsapi.Fields) (fsapi.Document, error) {
	// The engine asks for gateways of a configured domain even with
	// parse=false; gateways live in sofia.conf.
	if f.Get(fsapi.FieldPurpose) == "gateways" {
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	username := f.Get(fsapi.FieldUser)
	if username == "" {
		return fsapi.Document{}, fsapi.ErrNotFound
	}

	dom, err := h.deps.Store.DomainByName(ctx, domain)
	if err != nil {
		return fsapi.Document{}, err
	}
	if dom == nil {
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	line, err := h.deps.Store.LineByUsername(ctx, username)
	if err != nil {
		return fsapi.Document{}, err
	}
	if line == nil || line.DomainName() != dom.Name {
		return fsapi.Document{}, fsapi.ErrNotFound
	}

	return h.deps.render("directory/line-auth.xml", LineAuthData{
		Domain:   dom.Name,
		Line:     line,
		CallerID: dialplan.LineCaller(line).LocalID(),
	})
}

// ClientAuthHandler answers verto channel auth requests on the switch's own
// hostname.
type ClientAuthHandler struct {
	deps *Deps
}

func (h *ClientAuthHandler) SectionDocument(ctx context.Context, domain string, f fsapi.Fields) (fsapi.Document, error) {
	clientID := f.Get(fsapi.FieldUser)
	if _, err := uuid.Parse(clientID); err != nil {
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	client, err := h.deps.Store.ClientByID(ctx, clientID)
	if err != nil {
		return fsapi.Document{}, err
	}
	if client == nil || client.Extension == nil {
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	return h.deps.render("directory/client-auth.xml", ClientAuthData{
		Domain:    domain,
		Client:    client,
		Context:   client.Extension.DomainName(),
		Extension: client.Extension.Number,
	})
}
