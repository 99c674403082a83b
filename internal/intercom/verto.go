package intercom

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/intercompbx/intercompbx/internal/fsapi"
)

// Verto event responses.
const (
	vertoOK   = "ok"
	vertoPunt = "punt"
)

// VertoLoginHandler records verto client logins. The engine disconnects the
// client when the response is "punt".
type VertoLoginHandler struct {
	deps *Deps
}

func (h *VertoLoginHandler) Document(ctx context.Context, f fsapi.Fields) (fsapi.Document, error) {
	clientID := vertoClientID(f.Get(fsapi.FieldClientID))
	sessionID := f.Get(fsapi.FieldSessionID)

	client, err := h.deps.Store.ClientByID(ctx, clientID)
	if err != nil {
		return fsapi.Document{}, err
	}
	if client == nil {
		h.deps.Logger.Warn("verto login for unknown client", "client_id", clientID)
		h.deps.observeVertoLogin(VertoLoginUnknownClient)
		return h.event(vertoPunt)
	}
	if client.SessionID != sessionID {
		h.deps.Logger.Error("verto session id mismatch",
			"client_id", clientID,
			"session_id", sessionID,
			"expected", client.SessionID,
		)
		h.deps.observeVertoLogin(VertoLoginSessionMismatch)
		return h.event(vertoPunt)
	}
	if err := h.deps.Presence.MarkConnected(ctx, clientID, h.deps.now()); err != nil {
		return fsapi.Document{}, err
	}
	h.deps.observeVertoLogin(VertoLoginOK)
	return h.event(vertoOK)
}

func (h *VertoLoginHandler) event(response string) (fsapi.Document, error) {
	return h.deps.render("verto/event.txt", struct{ Response string }{response})
}

// VertoDisconnectHandler clears the connected timestamp of a verto client.
type VertoDisconnectHandler struct {
	deps *Deps
}

func (h *VertoDisconnectHandler) Document(ctx context.Context, f fsapi.Fields) (fsapi.Document, error) {
	clientID := vertoClientID(f.Get(fsapi.FieldClientID))
	if _, err := uuid.Parse(clientID); err != nil {
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	client, err := h.deps.Store.ClientByID(ctx, clientID)
	if err != nil {
		return fsapi.Document{}, err
	}
	if client == nil {
		return fsapi.Document{}, fsapi.ErrNotFound
	}
	if err := h.deps.Presence.MarkDisconnected(ctx, clientID); err != nil {
		return fsapi.Document{}, err
	}
	return h.deps.render("verto/event.txt", struct{ Response string }{vertoOK})
}

// vertoClientID strips the login domain from a verto login name.
func vertoClientID(login string) string {
	id, _, _ := strings.Cut(login, "@")
	return id
}
