package fsapi

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Section names.
const (
	SectionConfiguration = "configuration"
	SectionDialplan      = "dialplan"
	SectionDirectory     = "directory"
)

// Discriminant extracts the secondary dispatch key from a request. ok is false
// when the field it reads is missing or empty.
type Discriminant func(f Fields) (key string, ok bool)

// ConfigurationKey returns the module name: key_value up to the first '.'.
func ConfigurationKey(f Fields) (string, bool) {
	kv := f.Get(FieldKeyValue)
	if kv == "" {
		return "", false
	}
	module, _, _ := strings.Cut(kv, ".")
	return module, module != ""
}

// DialplanKey returns the calling context.
func DialplanKey(f Fields) (string, bool) {
	c := f.Get(FieldCallerContext)
	return c, c != ""
}

// DirectoryKey returns the directory domain.
func DirectoryKey(f Fields) (string, bool) {
	d := f.Get(FieldKeyValue)
	return d, d != ""
}

// SectionHandler handles requests for one discriminant value, which is
// passed in as key.
type SectionHandler interface {
	SectionDocument(ctx context.Context, key string, f Fields) (Document, error)
}

// SectionHandlerFunc adapts a function to SectionHandler.
type SectionHandlerFunc func(ctx context.Context, key string, f Fields) (Document, error)

func (fn SectionHandlerFunc) SectionDocument(ctx context.Context, key string, f Fields) (Document, error) {
	return fn(ctx, key, f)
}

// SectionBuilder collects the handlers of one section.
type SectionBuilder struct {
	name     string
	key      Discriminant
	handlers map[string]SectionHandler
	owner    *Builder
}

// Register binds h to the discriminant value key. Registering a key twice is
// reported by Builder.Build.
func (s *SectionBuilder) Register(key string, h SectionHandler) *SectionBuilder {
	if _, dup := s.handlers[key]; dup {
		s.owner.errs = append(s.owner.errs, fmt.Errorf("section %s: duplicate handler for %q", s.name, key))
		return s
	}
	s.handlers[key] = h
	s.owner.logger.Info("registered section handler", "section", s.name, "key", key)
	return s
}

// section is the built, read-only form of a SectionBuilder.
type section struct {
	name     string
	key      Discriminant
	handlers map[string]SectionHandler
	logger   *slog.Logger
}

func (s *SectionBuilder) build(logger *slog.Logger) *section {
	handlers := make(map[string]SectionHandler, len(s.handlers))
	for k, h := range s.handlers {
		handlers[k] = h
	}
	return &section{
		name:     s.name,
		key:      s.key,
		handlers: handlers,
		logger:   logger,
	}
}

func (s *section) Document(ctx context.Context, f Fields) (Document, error) {
	key, ok := s.key(f)
	if !ok {
		return Document{}, ErrNotFound
	}
	h, ok := s.handlers[key]
	if !ok {
		s.logger.Info("no handler for section key", "section", s.name, "key", key)
		return Document{}, ErrNotFound
	}
	return h.SectionDocument(ctx, key, f)
}

func (s *section) keys() []string {
	keys := make([]string, 0, len(s.handlers))
	for k := range s.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
