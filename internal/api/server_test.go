package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/intercompbx/intercompbx/internal/api/middleware"
	"github.com/intercompbx/intercompbx/internal/auth"
	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/provisioning"
	"github.com/intercompbx/intercompbx/internal/render"
)

const testHostname = "pbx.example.com"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T, fsapiAuth *middleware.FSAPIAuthenticator) *Server {
	t.Helper()
	return NewServer(newTestDeps(t, fsapiAuth))
}

func newTestDeps(t *testing.T, fsapiAuth *middleware.FSAPIAuthenticator) Deps {
	t.Helper()

	b := fsapi.NewBuilder(testHostname, testLogger())
	b.Handle("dialplan", fsapi.Predicate{fsapi.FieldSection: "dialplan"},
		fsapi.HandlerFunc(func(_ context.Context, f fsapi.Fields) (fsapi.Document, error) {
			return fsapi.Document{Body: "<document dest=\"" + f.Get(fsapi.FieldDestinationNumber) + "\"/>"}, nil
		}))
	b.Handle("directory", fsapi.Predicate{fsapi.FieldSection: "directory"},
		fsapi.HandlerFunc(func(context.Context, fsapi.Fields) (fsapi.Document, error) {
			return fsapi.Document{}, errors.New("store unavailable")
		}))
	router, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	tmpl, err := render.New()
	if err != nil {
		t.Fatalf("render.New() error: %v", err)
	}

	ext := &provisioning.Extension{ID: 1, Number: "300", Domain: &provisioning.Domain{Name: "example.com"},
		Action: &provisioning.Conference{ID: 1, Name: "lobby"}}
	store := &provisioning.MemoryStore{
		DomainList: []provisioning.Domain{{ID: 1, Name: "example.com", Port: 5080,
			DefaultCallerID: &provisioning.CallerID{Name: "Main", Number: "+12125550100"}}},
		GatewayList: []provisioning.Gateway{
			{ID: 2, Domain: "gw-b.carrier", Priority: 20, Password: "hidden"},
			{ID: 1, Domain: "gw-a.carrier", Priority: 10, Password: "hidden", ACL: []string{"203.0.113.10/32"}},
		},
		DidList: []provisioning.DidExtension{
			{ID: 1, Number: "+12125550123", Extension: ext},
			{ID: 2, Number: "+12125550199"},
		},
	}

	return Deps{
		Dispatcher:  router,
		Preview:     router,
		Renderer:    tmpl,
		Store:       store,
		FSAPIAuth:   fsapiAuth,
		Guard:       middleware.NewFailureGuard(middleware.DefaultGuardConfig(), testLogger()),
		AdminSecret: testSecret,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("# metrics\n")) //nolint:errcheck
		}),
		Logger:    testLogger(),
		StartTime: time.Now(),
	}
}

func postForm(s *Server, form url.Values, modify func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/fsapi", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if modify != nil {
		modify(req)
	}
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func adminRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	token, _, err := auth.IssueAdminToken(testSecret, "ops", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("IssueAdminToken() error: %v", err)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}{}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope %q: %v", rr.Body.String(), err)
	}
	if env.Error != "" {
		t.Fatalf("unexpected error: %s", env.Error)
	}
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decoding data: %v", err)
	}
}

func TestFSAPIDocument(t *testing.T) {
	s := newTestServer(t, nil)

	rr := postForm(s, url.Values{
		"hostname":                  {testHostname},
		"section":                   {"dialplan"},
		"Caller-Destination-Number": {"102"},
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != xmlContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := rr.Body.String(); body != `<document dest="102"/>` {
		t.Errorf("body = %q", body)
	}
}

func TestFSAPINotFoundIsStatus200(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name string
		form url.Values
	}{
		{"other hostname", url.Values{"hostname": {"elsewhere"}, "section": {"dialplan"}}},
		{"unknown section", url.Values{"hostname": {testHostname}, "section": {"phrases"}}},
		{"empty form", url.Values{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postForm(s, tt.form, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rr.Code)
			}
			if !strings.Contains(rr.Body.String(), `<result status="not found" />`) {
				t.Errorf("body = %q, want not-found document", rr.Body.String())
			}
		})
	}
}

func TestFSAPIHandlerErrorIs500(t *testing.T) {
	s := newTestServer(t, nil)
	rr := postForm(s, url.Values{"hostname": {testHostname}, "section": {"directory"}}, nil)
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestFSAPIRequiresPost(t *testing.T) {
	s := newTestServer(t, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/fsapi", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestFSAPIBasicAuth(t *testing.T) {
	a, err := middleware.NewFSAPIAuthenticator(middleware.FSAPIAuthConfig{
		Scheme:   middleware.SchemeBasic,
		Username: "freeswitch",
		Password: "s3cret",
	}, nil, testLogger())
	if err != nil {
		t.Fatalf("NewFSAPIAuthenticator() error: %v", err)
	}
	s := newTestServer(t, a)
	form := url.Values{"hostname": {testHostname}, "section": {"dialplan"}}

	if rr := postForm(s, form, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rr.Code)
	}
	rr := postForm(s, form, func(r *http.Request) { r.SetBasicAuth("freeswitch", "s3cret") })
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rr.Code)
	}

	// The admin API is not behind fsapi auth.
	health := httptest.NewRecorder()
	s.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if health.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.Code)
	}
}

func newGuardedServer(t *testing.T, trustProxy bool) (*Server, *middleware.FailureGuard) {
	t.Helper()
	guard := middleware.NewFailureGuard(middleware.DefaultGuardConfig(), testLogger())
	a, err := middleware.NewFSAPIAuthenticator(middleware.FSAPIAuthConfig{
		Scheme:   middleware.SchemeBasic,
		Username: "freeswitch",
		Password: "s3cret",
	}, guard, testLogger())
	if err != nil {
		t.Fatalf("NewFSAPIAuthenticator() error: %v", err)
	}
	deps := newTestDeps(t, a)
	deps.Guard = guard
	deps.TrustProxyHeaders = trustProxy
	return NewServer(deps), guard
}

func blockedSet(guard *middleware.FailureGuard) map[string]bool {
	out := make(map[string]bool)
	for _, b := range guard.BlockedIPs() {
		out[b.IP] = true
	}
	return out
}

func TestFSAPIGuardIgnoresSpoofedRealIP(t *testing.T) {
	s, guard := newGuardedServer(t, false)
	form := url.Values{"hostname": {testHostname}, "section": {"dialplan"}}

	forbidden := 0
	for i := 0; i < 50; i++ {
		rr := postForm(s, form, func(r *http.Request) {
			r.RemoteAddr = "198.51.100.7:5060"
			r.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i+1))
			r.Header.Set("X-Forwarded-For", fmt.Sprintf("192.0.2.%d", i+1))
			r.SetBasicAuth("freeswitch", "wrong")
		})
		if rr.Code == http.StatusForbidden {
			forbidden++
		}
	}
	if forbidden == 0 {
		t.Error("no request was refused after repeated failures")
	}
	blocked := blockedSet(guard)
	if !blocked["198.51.100.7"] || len(blocked) != 1 {
		t.Errorf("blocked = %v, want only the socket address", blocked)
	}

	// The block holds for correct credentials from the same socket.
	rr := postForm(s, form, func(r *http.Request) {
		r.RemoteAddr = "198.51.100.7:5060"
		r.Header.Set("X-Real-IP", "203.0.113.200")
		r.SetBasicAuth("freeswitch", "s3cret")
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("blocked client status = %d, want 403", rr.Code)
	}
}

func TestFSAPIGuardTrustsProxyHeadersWhenEnabled(t *testing.T) {
	s, guard := newGuardedServer(t, true)
	form := url.Values{"hostname": {testHostname}, "section": {"dialplan"}}

	for i := 0; i < 10; i++ {
		postForm(s, form, func(r *http.Request) {
			r.RemoteAddr = "10.0.0.2:44100"
			r.Header.Set("X-Real-IP", "203.0.113.9")
			r.SetBasicAuth("freeswitch", "wrong")
		})
	}
	blocked := blockedSet(guard)
	if !blocked["203.0.113.9"] || blocked["10.0.0.2"] {
		t.Errorf("blocked = %v, want the forwarded client and not the proxy", blocked)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	var health map[string]any
	decodeData(t, rr, &health)
	if health["status"] != "ok" {
		t.Errorf("health = %v", health)
	}

	rr = httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "# metrics") {
		t.Errorf("metrics = %d %q", rr.Code, rr.Body.String())
	}
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/api/v1/dispatch", "/api/v1/gateways", "/api/v1/dids", "/api/v1/domains", "/api/v1/blocked"} {
		rr := httptest.NewRecorder()
		s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s status = %d, want 401", path, rr.Code)
		}
	}
}

func TestAdminDispatch(t *testing.T) {
	s := newTestServer(t, nil)
	rr := adminRequest(t, s, http.MethodGet, "/api/v1/dispatch", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var got dispatchResponse
	decodeData(t, rr, &got)
	if len(got.Routes) != 2 || got.Routes[0].Name != "dialplan" || got.Routes[1].Name != "directory" {
		t.Fatalf("routes = %+v", got.Routes)
	}
	if got.Routes[0].Match[fsapi.FieldHostname] != testHostname {
		t.Errorf("route match = %v, want hostname %s", got.Routes[0].Match, testHostname)
	}
}

func TestAdminPreview(t *testing.T) {
	s := newTestServer(t, nil)

	rr := adminRequest(t, s, http.MethodPost, "/api/v1/preview",
		`{"hostname":"pbx.example.com","section":"dialplan","Caller-Destination-Number":"300"}`)
	var got previewResponse
	decodeData(t, rr, &got)
	if !got.Found || got.Document != `<document dest="300"/>` {
		t.Errorf("preview = %+v", got)
	}

	rr = adminRequest(t, s, http.MethodPost, "/api/v1/preview", `{"section":"dialplan"}`)
	got = previewResponse{}
	decodeData(t, rr, &got)
	if got.Found {
		t.Errorf("preview without hostname = %+v, want not found", got)
	}

	for _, body := range []string{"", "{", `{}`, `{"a":"b"}{"c":"d"}`} {
		if rr := adminRequest(t, s, http.MethodPost, "/api/v1/preview", body); rr.Code != http.StatusBadRequest {
			t.Errorf("preview %q status = %d, want 400", body, rr.Code)
		}
	}
}

func TestAdminGatewaysHidesPasswords(t *testing.T) {
	s := newTestServer(t, nil)
	rr := adminRequest(t, s, http.MethodGet, "/api/v1/gateways", "")
	if strings.Contains(rr.Body.String(), "hidden") {
		t.Fatalf("gateway password leaked: %s", rr.Body.String())
	}
	var got []gatewayResponse
	decodeData(t, rr, &got)
	if len(got) != 2 || got[0].Domain != "gw-a.carrier" {
		t.Fatalf("gateways = %+v, want priority order", got)
	}
	if len(got[0].ACL) != 1 || got[1].ACL == nil {
		t.Errorf("acl = %v / %v", got[0].ACL, got[1].ACL)
	}
}

func TestAdminDIDsAndDomains(t *testing.T) {
	s := newTestServer(t, nil)

	var dids []didResponse
	decodeData(t, adminRequest(t, s, http.MethodGet, "/api/v1/dids", ""), &dids)
	if len(dids) != 2 {
		t.Fatalf("dids = %+v", dids)
	}
	byNumber := map[string]didResponse{}
	for _, d := range dids {
		byNumber[d.Number] = d
	}
	bound := byNumber["+12125550123"]
	if bound.Extension == nil || *bound.Extension != "300" || bound.Action == nil || *bound.Action != "conference" {
		t.Errorf("bound did = %+v", bound)
	}
	if unbound := byNumber["+12125550199"]; unbound.Extension != nil || unbound.Action != nil {
		t.Errorf("unbound did = %+v", unbound)
	}

	var domains []domainResponse
	decodeData(t, adminRequest(t, s, http.MethodGet, "/api/v1/domains", ""), &domains)
	if len(domains) != 1 || domains[0].DefaultCallerID == nil || domains[0].DefaultCallerID.Number != "+12125550100" {
		t.Errorf("domains = %+v", domains)
	}

	var blocked []middleware.BlockedIP
	decodeData(t, adminRequest(t, s, http.MethodGet, "/api/v1/blocked", ""), &blocked)
	if len(blocked) != 0 {
		t.Errorf("blocked = %+v, want empty", blocked)
	}
}

func TestRateLimitedAdminAPI(t *testing.T) {
	deps := newTestDeps(t, nil)
	rl := middleware.NewIPRateLimiter(middleware.RateLimitConfig{
		Rate:            1,
		Burst:           1,
		CleanupInterval: time.Hour,
		MaxAge:          time.Hour,
	}, testLogger())
	defer rl.Stop()
	deps.Limiter = rl
	s := NewServer(deps)

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}
