package api

import (
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/intercompbx/intercompbx/internal/fsapi"
	"github.com/intercompbx/intercompbx/internal/render"
)

const xmlContentType = "text/xml; charset=utf-8"

// handleFSAPI answers a mod_xml_curl request. Unrouted requests get the
// not-found document with status 200 so the switch falls back to its static
// configuration.
func (s *Server) handleFSAPI(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("parsing fsapi form", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	fields := fsapi.FieldsFromForm(r.PostForm)

	doc, err := s.deps.Dispatcher.Route(r.Context(), fields)
	switch {
	case errors.Is(err, fsapi.ErrNotFound):
		s.writeNotFound(w)
		return
	case err != nil:
		s.logger.Error("building fsapi document",
			"request_id", chimw.GetReqID(r.Context()),
			"section", fields.Get(fsapi.FieldSection),
			"key_value", fields.Get(fsapi.FieldKeyValue),
			"error", err,
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", xmlContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(doc.Body)) //nolint:errcheck
}

func (s *Server) writeNotFound(w http.ResponseWriter) {
	body, err := s.deps.Renderer.Render(render.NotFound, nil)
	if err != nil {
		s.logger.Error("rendering not-found document", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", xmlContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body)) //nolint:errcheck
}
