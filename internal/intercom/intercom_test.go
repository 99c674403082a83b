package intercom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/intercompbx/intercompbx/internal/dialplan"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
	"github.com/intercompbx/intercompbx/internal/render"
)

const (
	testHostname = "pbx.example.com"
	testClientID = "7d7d4f0e-4f2b-4f6e-9a51-2a0f3b8f1c11"
	testSession  = "0b8b6c1e-5d7a-4a4b-8e0c-6c4e7f2d9a22"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type routeCounter map[string]int

func (c routeCounter) ObserveRoute(kind string) { c[kind]++ }

func (c routeCounter) ObserveVertoLogin(outcome string) { c["verto:"+outcome]++ }

func newTestStore() *provisioning.MemoryStore {
	example := &provisioning.Domain{ID: 1, Name: "example.com", Port: 5080}
	gwA := provisioning.Gateway{ID: 1, Domain: "gw-a.carrier", Port: 5090, Username: "acct", Password: "s3cret",
		Proxy: "sip.carrier.net", Realm: "carrier.net", Priority: 10, ACL: []string{"203.0.113.10/32"}}
	gwB := provisioning.Gateway{ID: 2, Domain: "gw-b.carrier", Port: 5091, Priority: 20}

	line101 := &provisioning.Line{
		ID:       1,
		Name:     "Kitchen",
		Username: "101",
		Password: "pw101",
		Domain:   example,
		OutboundRules: []provisioning.OutboundExtension{
			provisioning.MustOutboundExtension(1, "nanp", `\+1\d{10}`, nil),
		},
	}
	line102 := &provisioning.Line{ID: 2, Name: "Office", Username: "102", Password: "pw102", Domain: example}
	line103 := &provisioning.Line{ID: 3, Name: "Garage", Username: "103", Password: "pw103", Domain: example}

	mainBridge := &provisioning.Bridge{
		ID:   1,
		Name: "main",
		Lines: []provisioning.BridgeLine{
			{ID: 1, Username: "101"}, {ID: 2, Username: "102"}, {ID: 3, Username: "103"},
		},
	}
	ext102 := &provisioning.Extension{ID: 1, Number: "102", Domain: example, Action: mainBridge}
	ext300 := &provisioning.Extension{ID: 2, Number: "300", Domain: example,
		Action: &provisioning.Conference{ID: 2, Name: "lobby"}}

	return &provisioning.MemoryStore{
		DomainList:  []provisioning.Domain{*example},
		GatewayList: []provisioning.Gateway{gwB, gwA},
		Lines:       []*provisioning.Line{line101, line102, line103},
		Extensions:  []*provisioning.Extension{ext102, ext300},
		DidList: []provisioning.DidExtension{
			{ID: 1, Number: "+12125550123", Extension: ext300},
		},
		Clients: []*provisioning.VertoClient{
			{ID: 1, ClientID: testClientID, SessionID: testSession, Password: "cpw", Extension: ext300},
		},
	}
}

type harness struct {
	store  *provisioning.MemoryStore
	router *fsapi.Router
	routes routeCounter
	logs   *bytes.Buffer
}

// records returns the handler log records with the given message.
func (h *harness) records(t *testing.T, msg string) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader(h.logs.Bytes()))
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decoding log record: %v", err)
		}
		if rec["msg"] == msg {
			out = append(out, rec)
		}
	}
	return out
}

func newHarness(t *testing.T, hostname string) *harness {
	t.Helper()
	store := newTestStore()
	ctx := context.Background()

	tmpl, err := render.New()
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}
	reg, err := dialplan.NewActionRegistry([]string{"bridge", "conference"})
	if err != nil {
		t.Fatalf("NewActionRegistry: %v", err)
	}
	gateways, err := store.Gateways(ctx)
	if err != nil {
		t.Fatalf("Gateways: %v", err)
	}

	routes := routeCounter{}
	logs := &bytes.Buffer{}
	deps := &Deps{
		Hostname:  hostname,
		Store:     store,
		Presence:  store,
		Resolver:  dialplan.NewResolver(store, reg, testLogger()),
		Dialer:    dialplan.NewBuilder(hostname, gateways),
		Renderer:  tmpl,
		Logger:    slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
		Routes:    routes,
		Verto:     routes,
		VertoPort: 8082,
		STUNPort:  3478,
		Now:       func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
	b := fsapi.NewBuilder(hostname, testLogger())
	if err := Register(ctx, b, deps); err != nil {
		t.Fatalf("Register: %v", err)
	}
	router, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return &harness{store: store, router: router, routes: routes, logs: logs}
}

func (h *harness) route(t *testing.T, f fsapi.Fields) (fsapi.Document, error) {
	t.Helper()
	if _, ok := f[fsapi.FieldHostname]; !ok {
		f[fsapi.FieldHostname] = testHostname
	}
	return h.router.Route(context.Background(), f)
}

func mustContain(t *testing.T, body string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestLineCallToBridge(t *testing.T) {
	h := newHarness(t, testHostname)
	doc, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "example.com",
		"Caller-Destination-Number": "102",
		"variable_user_name":        "101",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body,
		`<context name="example.com">`,
		`expression="^102$"`,
		`[origination_caller_id_name=Kitchen,origination_caller_id_number=101]${sofia_contact(102@pbx.example.com)}:_:`+
			`[origination_caller_id_name=Kitchen,origination_caller_id_number=101]${sofia_contact(103@pbx.example.com)}`,
	)
	if strings.Contains(doc.Body, "(101@") {
		t.Error("caller rung as its own bridge member")
	}
	if doc.Audit {
		t.Error("bridge documents are not audited")
	}
	if h.routes["action"] != 1 {
		t.Errorf("routes = %v, want one action", h.routes)
	}
}

func TestLineCallOutbound(t *testing.T) {
	h := newHarness(t, testHostname)
	doc, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "example.com",
		"Caller-Destination-Number": "14155551234",
		"variable_user_name":        "101",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if !doc.Audit {
		t.Error("outbound gateway documents should be audited")
	}
	mustContain(t, doc.Body,
		`sofia/gateway/gw-a.carrier/+14155551234|`,
		`sofia/gateway/gw-b.carrier/+14155551234"`,
	)
	if h.routes["gateway"] != 1 {
		t.Errorf("routes = %v, want one gateway", h.routes)
	}
}

func TestLineCallNotFound(t *testing.T) {
	h := newHarness(t, testHostname)
	_, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "example.com",
		"Caller-Destination-Number": "12345",
		"variable_user_name":        "101",
	})
	if !errors.Is(err, fsapi.ErrNotFound) {
		t.Errorf("Route error = %v, want ErrNotFound", err)
	}
	if h.routes["not_found"] != 1 {
		t.Errorf("routes = %v, want one not_found", h.routes)
	}
}

func TestInboundCallToConference(t *testing.T) {
	h := newHarness(t, testHostname)
	doc, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "gw-a.carrier",
		"Caller-Destination-Number": "acct",
		"variable_sip_to_user":      "+12125550123",
		"Caller-Caller-ID-Name":     "ALICE",
		"Caller-Caller-ID-Number":   "+13105550000",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body,
		`<context name="gw-a.carrier">`,
		`expression="^acct$"`,
		`data="lobby@default"`,
	)
}

func TestInboundCallDIDFromURI(t *testing.T) {
	h := newHarness(t, testHostname)
	doc, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "gw-b.carrier",
		"Caller-Destination-Number": "acct",
		"variable_sip_to_uri":       "+12125550123@carrier.net:5060",
	})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body, `data="lobby@default"`)
}

func TestInboundCallUnknownDID(t *testing.T) {
	h := newHarness(t, testHostname)
	_, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "gw-a.carrier",
		"Caller-Destination-Number": "acct",
		"variable_sip_to_user":      "+16505550000",
	})
	if !errors.Is(err, fsapi.ErrNotFound) {
		t.Errorf("Route error = %v, want ErrNotFound", err)
	}
}

func TestUnregisteredContext(t *testing.T) {
	h := newHarness(t, testHostname)
	_, err := h.route(t, fsapi.Fields{
		"section":                   "dialplan",
		"Caller-Context":            "carrier.example",
		"Caller-Destination-Number": "acct",
	})
	if !errors.Is(err, fsapi.ErrNotFound) {
		t.Errorf("Route error = %v, want ErrNotFound", err)
	}
}

func TestLineAuth(t *testing.T) {
	h := newHarness(t, testHostname)

	doc, err := h.route(t, fsapi.Fields{"section": "directory", "key_value": "example.com", "user": "102"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body,
		`<user id="102">`,
		`<param name="password" value="pw102"/>`,
		`<variable name="effective_caller_id_name" value="Office"/>`,
	)

	for name, f := range map[string]fsapi.Fields{
		"gateways purpose": {"section": "directory", "key_value": "example.com", "user": "102", "purpose": "gateways"},
		"unknown user":     {"section": "directory", "key_value": "example.com", "user": "999"},
		"missing user":     {"section": "directory", "key_value": "example.com"},
	} {
		if _, err := h.route(t, f); !errors.Is(err, fsapi.ErrNotFound) {
			t.Errorf("%s: Route error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestClientAuth(t *testing.T) {
	h := newHarness(t, testHostname)

	doc, err := h.route(t, fsapi.Fields{"section": "directory", "key_value": testHostname, "user": testClientID})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body,
		`<user id="`+testClientID+`">`,
		`<variable name="user_context" value="example.com"/>`,
		`<variable name="effective_caller_id_number" value="300"/>`,
	)

	if _, err := h.route(t, fsapi.Fields{"section": "directory", "key_value": testHostname, "user": "not-a-uuid"}); !errors.Is(err, fsapi.ErrNotFound) {
		t.Errorf("Route error = %v, want ErrNotFound", err)
	}
}

func TestClientAuthDisabledWhenHostnameIsDomain(t *testing.T) {
	h := newHarness(t, "example.com")
	for _, info := range h.router.Routes() {
		if info.Name != fsapi.SectionDirectory {
			continue
		}
		if len(info.Keys) != 1 || info.Keys[0] != "example.com" {
			t.Errorf("directory keys = %v, want only example.com", info.Keys)
		}
	}
}

func TestSofiaConfig(t *testing.T) {
	h := newHarness(t, testHostname)

	doc, err := h.route(t, fsapi.Fields{"section": "configuration", "key_value": "sofia.conf"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body,
		`<profile name="example.com">`,
		`<param name="sip-port" value="5080"/>`,
		`<gateway name="gw-a.carrier">`,
		`<gateway name="gw-b.carrier">`,
		`<param name="apply-inbound-acl" value="gw-a.carrier"/>`,
	)

	doc, err = h.route(t, fsapi.Fields{"section": "configuration", "key_value": "sofia.conf", "profile": "gw-a.carrier"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	mustContain(t, doc.Body, `<param name="proxy" value="sip.carrier.net"/>`)
	if strings.Contains(doc.Body, `<profile name="example.com">`) {
		t.Error("single gateway profile included intercom profiles")
	}

	if _, err := h.route(t, fsapi.Fields{"section": "configuration", "key_value": "sofia.conf", "profile": "internal"}); !errors.Is(err, fsapi.ErrNotFound) {
		t.Errorf("Route error = %v, want ErrNotFound", err)
	}
}

func TestModuleConfigs(t *testing.T) {
	h := newHarness(t, testHostname)
	tests := []struct {
		keyValue string
		want     string
	}{
		{keyValue: "verto.conf", want: `value="$${local_ip_v4}:8082"`},
		{keyValue: "conference.conf", want: `<param name="domain" value="pbx.example.com"/>`},
		{keyValue: "acl.conf", want: `<node type="allow" cidr="203.0.113.10/32"/>`},
	}
	for _, tt := range tests {
		doc, err := h.route(t, fsapi.Fields{"section": "configuration", "key_value": tt.keyValue})
		if err != nil {
			t.Fatalf("Route(%s): %v", tt.keyValue, err)
		}
		mustContain(t, doc.Body, tt.want)
	}
}

func TestVertoLoginAndDisconnect(t *testing.T) {
	h := newHarness(t, testHostname)

	doc, err := h.route(t, fsapi.Fields{"action": "verto_client_login", "client_id": testClientID + "@" + testHostname, "session_id": testSession})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if doc.Body != "ok" {
		t.Errorf("login body = %q, want ok", doc.Body)
	}
	c, _ := h.store.ClientByID(context.Background(), testClientID)
	if c.Connected == nil || c.Connected.Year() != 2026 {
		t.Errorf("Connected = %v, want the login time", c.Connected)
	}

	doc, err = h.route(t, fsapi.Fields{"action": "verto_client_disconnect", "client_id": testClientID + "@" + testHostname})
	if err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if doc.Body != "ok" {
		t.Errorf("disconnect body = %q, want ok", doc.Body)
	}
	c, _ = h.store.ClientByID(context.Background(), testClientID)
	if c.Connected != nil {
		t.Errorf("Connected = %v, want nil after disconnect", c.Connected)
	}
}

func TestVertoLoginSessionMismatch(t *testing.T) {
	h := newHarness(t, testHostname)
	doc, err := h.route(t, fsapi.Fields{"action": "verto_client_login", "client_id": testClientID, "session_id": "wrong"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if doc.Body != "punt" {
		t.Errorf("body = %q, want punt", doc.Body)
	}
	c, _ := h.store.ClientByID(context.Background(), testClientID)
	if c.Connected != nil {
		t.Error("mismatched session marked the client connected")
	}
	if n := h.routes["verto:"+VertoLoginSessionMismatch]; n != 1 {
		t.Errorf("session mismatch count = %d, want 1", n)
	}
	recs := h.records(t, "verto session id mismatch")
	if len(recs) != 1 || recs[0]["level"] != "ERROR" {
		t.Errorf("mismatch log records = %v, want one ERROR record", recs)
	}
}

func TestVertoLoginOutcomesCounted(t *testing.T) {
	h := newHarness(t, testHostname)
	if _, err := h.route(t, fsapi.Fields{"action": "verto_client_login", "client_id": testClientID, "session_id": testSession}); err != nil {
		t.Fatalf("login: %v", err)
	}
	doc, err := h.route(t, fsapi.Fields{"action": "verto_client_login", "client_id": "00000000-0000-4000-8000-000000000000", "session_id": testSession})
	if err != nil {
		t.Fatalf("unknown client login: %v", err)
	}
	if doc.Body != "punt" {
		t.Errorf("unknown client body = %q, want punt", doc.Body)
	}
	if h.routes["verto:"+VertoLoginOK] != 1 || h.routes["verto:"+VertoLoginUnknownClient] != 1 {
		t.Errorf("verto outcomes = %v", h.routes)
	}
}

func TestVertoDisconnectInvalidClient(t *testing.T) {
	h := newHarness(t, testHostname)
	_, err := h.route(t, fsapi.Fields{"action": "verto_client_disconnect", "client_id": "bogus@" + testHostname})
	if !errors.Is(err, fsapi.ErrNotFound) {
		t.Errorf("Route error = %v, want ErrNotFound", err)
	}
}
