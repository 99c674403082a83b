package api

import (
	"errors"
	"net/http"

	"github.com/intercompbx/intercompbx/internal/api/middleware"
	"github.com/intercompbx/intercompbx/internal/fsapi"
)

type dispatchResponse struct {
	Routes   []fsapi.RouteInfo `json:"routes"`
	Sections map[string]int    `json:"sections"`
}

// handleDispatch lists the dispatch table in match order.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dispatchResponse{
		Routes:   s.deps.Dispatcher.Routes(),
		Sections: s.deps.Dispatcher.SectionKeys(),
	})
}

type previewResponse struct {
	Found    bool   `json:"found"`
	Document string `json:"document"`
}

// handlePreview runs a field map through the preview dispatch table and
// returns the document the switch would receive.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.deps.Preview == nil {
		writeError(w, http.StatusServiceUnavailable, "preview is not available")
		return
	}
	var fields map[string]string
	if err := readJSON(http.MaxBytesReader(w, r.Body, maxFormBytes), &fields); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(fields) == 0 {
		writeError(w, http.StatusBadRequest, "fields are required")
		return
	}

	doc, err := s.deps.Preview.Route(r.Context(), fsapi.Fields(fields))
	if errors.Is(err, fsapi.ErrNotFound) {
		writeJSON(w, http.StatusOK, previewResponse{Found: false})
		return
	}
	if err != nil {
		s.logger.Error("previewing document",
			"operator", middleware.OperatorFromContext(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to build document")
		return
	}
	writeJSON(w, http.StatusOK, previewResponse{Found: true, Document: doc.Body})
}

type callerIDResponse struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

type domainResponse struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Port            int               `json:"port"`
	DefaultCallerID *callerIDResponse `json:"default_caller_id,omitempty"`
}

func (s *Server) handleDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.deps.Store.Domains(r.Context())
	if err != nil {
		s.logger.Error("listing domains", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list domains")
		return
	}
	out := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		item := domainResponse{ID: d.ID, Name: d.Name, Port: d.Port}
		if d.DefaultCallerID != nil {
			item.DefaultCallerID = &callerIDResponse{Name: d.DefaultCallerID.Name, Number: d.DefaultCallerID.Number}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// gatewayResponse omits the gateway password.
type gatewayResponse struct {
	ID       int64    `json:"id"`
	Domain   string   `json:"domain"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Proxy    string   `json:"proxy"`
	Realm    string   `json:"realm"`
	Priority int      `json:"priority"`
	ACL      []string `json:"acl"`
}

// handleGateways lists gateways in fallback order.
func (s *Server) handleGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.deps.Store.Gateways(r.Context())
	if err != nil {
		s.logger.Error("listing gateways", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list gateways")
		return
	}
	out := make([]gatewayResponse, 0, len(gateways))
	for _, g := range gateways {
		acl := g.ACL
		if acl == nil {
			acl = []string{}
		}
		out = append(out, gatewayResponse{
			ID:       g.ID,
			Domain:   g.Domain,
			Port:     g.Port,
			Username: g.Username,
			Proxy:    g.Proxy,
			Realm:    g.Realm,
			Priority: g.Priority,
			ACL:      acl,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type didResponse struct {
	Number    string  `json:"number"`
	Extension *string `json:"extension"`
	Domain    *string `json:"domain"`
	Action    *string `json:"action"`
}

// handleDIDs lists DID mappings with their bound extension and action kind.
func (s *Server) handleDIDs(w http.ResponseWriter, r *http.Request) {
	dids, err := s.deps.Store.DidExtensions(r.Context())
	if err != nil {
		s.logger.Error("listing did extensions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list dids")
		return
	}
	out := make([]didResponse, 0, len(dids))
	for _, d := range dids {
		item := didResponse{Number: d.Number}
		if ext := d.Extension; ext != nil {
			num, dom := ext.Number, ext.DomainName()
			item.Extension, item.Domain = &num, &dom
			if ext.Action != nil {
				kind := string(ext.Action.Kind())
				item.Action = &kind
			}
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleBlocked lists client IPs blocked after repeated /fsapi
// authentication failures.
func (s *Server) handleBlocked(w http.ResponseWriter, r *http.Request) {
	if s.deps.Guard == nil {
		writeJSON(w, http.StatusOK, []middleware.BlockedIP{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Guard.BlockedIPs())
}
