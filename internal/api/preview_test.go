package api

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/intercompbx/intercompbx/internal/dialplan"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/intercom"
	"github.com/intercompbx/intercompbx/internal/provisioning"
	"github.com/intercompbx/intercompbx/internal/render"
)

const (
	connectedClientID = "7d7d4f0e-4f2b-4f6e-9a51-2a0f3b8f1c11"
	idleClientID      = "3c1f9a2e-8b4d-4e6f-a1c2-5d7e9f0a1b33"
	idleSessionID     = "0b8b6c1e-5d7a-4a4b-8e0c-6c4e7f2d9a22"
)

type countingRecorder map[string]int

func (c countingRecorder) ObserveDocument(route, outcome string) { c[route+":"+outcome]++ }
func (c countingRecorder) ObserveRoute(kind string) { c["route:"+kind]++ }
func (c countingRecorder) ObserveVertoLogin(outcome string) { c["verto:"+outcome]++ }

// newPresenceServer wires a live table that writes presence into store and a
// preview table that must not.
func newPresenceServer(t *testing.T, store *provisioning.MemoryStore, rec countingRecorder) *Server {
	t.Helper()
	ctx := context.Background()

	tmpl, err := render.New()
	if err != nil {
		t.Fatalf("render.New() error: %v", err)
	}
	reg, err := dialplan.NewActionRegistry([]string{"bridge", "conference"})
	if err != nil {
		t.Fatalf("NewActionRegistry() error: %v", err)
	}

	build := func(presence provisioning.ClientPresence, routes intercom.RouteRecorder, verto intercom.VertoRecorder, opts ...fsapi.RouterOption) *fsapi.Router {
		b := fsapi.NewBuilder(testHostname, testLogger())
		d := &intercom.Deps{
			Hostname: testHostname,
			Store:    store,
			Presence: presence,
			Resolver: dialplan.NewResolver(store, reg, testLogger()),
			Dialer:   dialplan.NewBuilder(testHostname, nil),
			Renderer: tmpl,
			Logger:   testLogger(),
			Routes:   routes,
			Verto:    verto,
		}
		if err := intercom.Register(ctx, b, d); err != nil {
			t.Fatalf("Register() error: %v", err)
		}
		router, err := b.Build(opts...)
		if err != nil {
			t.Fatalf("Build() error: %v", err)
		}
		return router
	}

	deps := newTestDeps(t, nil)
	deps.Store = store
	deps.Dispatcher = build(store, rec, rec, fsapi.WithRecorder(rec), fsapi.WithAuditAll(true))
	deps.Preview = build(provisioning.DiscardPresence{}, nil, nil)
	return NewServer(deps)
}

func TestAdminPreviewLeavesPresenceAlone(t *testing.T) {
	connectedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ext := &provisioning.Extension{ID: 1, Number: "300", Domain: &provisioning.Domain{Name: "example.com"},
		Action: &provisioning.Conference{ID: 1, Name: "lobby"}}
	store := &provisioning.MemoryStore{
		DomainList: []provisioning.Domain{{ID: 1, Name: "example.com", Port: 5080}},
		Clients: []*provisioning.VertoClient{
			{ID: 1, ClientID: connectedClientID, SessionID: "s1", Extension: ext, Connected: &connectedAt},
			{ID: 2, ClientID: idleClientID, SessionID: idleSessionID, Extension: ext},
		},
	}
	rec := countingRecorder{}
	s := newPresenceServer(t, store, rec)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "disconnect",
			body: `{"hostname":"pbx.example.com","action":"verto_client_disconnect","client_id":"` + connectedClientID + `@pbx.example.com"}`,
		},
		{
			name: "login",
			body: `{"hostname":"pbx.example.com","action":"verto_client_login","client_id":"` + idleClientID + `","session_id":"` + idleSessionID + `"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := adminRequest(t, s, http.MethodPost, "/api/v1/preview", tt.body)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
			}
			var got previewResponse
			decodeData(t, rr, &got)
			if !got.Found || strings.TrimSpace(got.Document) != "ok" {
				t.Errorf("preview = %+v, want found ok", got)
			}
		})
	}

	ctx := context.Background()
	c, _ := store.ClientByID(ctx, connectedClientID)
	if c.Connected == nil || !c.Connected.Equal(connectedAt) {
		t.Errorf("connected client Connected = %v, want %v", c.Connected, connectedAt)
	}
	c, _ = store.ClientByID(ctx, idleClientID)
	if c.Connected != nil {
		t.Errorf("idle client Connected = %v, want nil", c.Connected)
	}
	if len(rec) != 0 {
		t.Errorf("live recorder observed %v during preview", rec)
	}
}

func TestAdminPreviewUnavailable(t *testing.T) {
	deps := newTestDeps(t, nil)
	deps.Preview = nil
	s := NewServer(deps)

	rr := adminRequest(t, s, http.MethodPost, "/api/v1/preview",
		`{"hostname":"pbx.example.com","section":"dialplan"}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
}
