// Package fsapi dispatches mod_xml_curl callbacks from the call-control engine
// to registered document handlers.
//
// A Router matches the posted fields against an ordered list of predicates.
// Section routes (configuration, dialplan, directory) dispatch a second time
// on a discriminant taken from the request. The dispatch table is assembled
// with a Builder and is immutable once built.
package fsapi

import (
	"context"
	"errors"
	"net/url"
)

// ErrNotFound means no handler produced a document for the request. It is
// answered with the engine's "not found" document, not a transport error.
var ErrNotFound = errors.New("fsapi: not found")

// Field names posted by mod_xml_curl.
const (
	FieldHostname          = "hostname"
	FieldSection           = "section"
	FieldKeyValue          = "key_value"
	FieldAction            = "action"
	FieldProfile           = "profile"
	FieldPurpose           = "purpose"
	FieldUser              = "user"
	FieldCallerContext     = "Caller-Context"
	FieldDestinationNumber = "Caller-Destination-Number"
	FieldCallerIDName      = "Caller-Caller-ID-Name"
	FieldCallerIDNumber    = "Caller-Caller-ID-Number"
	FieldUserName          = "variable_user_name"
	FieldSIPToUser         = "variable_sip_to_user"
	FieldSIPToURI          = "variable_sip_to_uri"
	FieldClientID          = "client_id"
	FieldSessionID         = "session_id"
)

// Fields is the flat field map of one callback.
type Fields map[string]string

// FieldsFromForm flattens a parsed form, keeping the first value of each key.
func FieldsFromForm(form url.Values) Fields {
	f := make(Fields, len(form))
	for k, v := range form {
		if len(v) > 0 {
			f[k] = v[0]
		}
	}
	return f
}

// Get returns the value of key, or "".
func (f Fields) Get(key string) string { return f[key] }

// Document is a rendered response body.
type Document struct {
	Body string

	// Audit asks the router to log the body before returning it.
	Audit bool
}

// Handler produces the document for a matched request. It returns ErrNotFound
// (possibly wrapped) when it has nothing to say.
type Handler interface {
	Document(ctx context.Context, f Fields) (Document, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, f Fields) (Document, error)

func (fn HandlerFunc) Document(ctx context.Context, f Fields) (Document, error) {
	return fn(ctx, f)
}

// Predicate maps field names to required exact values.
type Predicate map[string]string

// Matches reports whether every field in p is present in f with the same value.
func (p Predicate) Matches(f Fields) bool {
	for k, want := range p {
		got, ok := f[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func (p Predicate) with(k, v string) Predicate {
	out := make(Predicate, len(p)+1)
	for key, val := range p {
		out[key] = val
	}
	out[k] = v
	return out
}
