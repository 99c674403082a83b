// Package render produces the XML documents served to the call-control
// engine from templates embedded in the binary.
package render

import (
	"bytes"
	"embed"
	"encoding/xml"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"text/template"
)

// NotFound is the template answered for every unrouted request.
const NotFound = "not-found.xml"

//go:embed templates
var templateFS embed.FS

// Renderer turns a template name and data into a document body.
type Renderer interface {
	Render(name string, data any) (string, error)
}

// Templates is the parsed template set. Templates are named by their path
// under templates/, e.g. "dialplan/bridge.xml".
type Templates struct {
	set *template.Template
}

var funcs = template.FuncMap{
	"xml":   escapeXML,
	"regex": regexp.QuoteMeta,
	"dict":  dict,
}

// New parses every embedded template.
func New() (*Templates, error) {
	root, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("opening templates: %w", err)
	}
	set := template.New("").Funcs(funcs).Option("missingkey=error")
	err = fs.WalkDir(root, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		body, err := fs.ReadFile(root, path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if _, err := set.New(path).Parse(string(body)); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Templates{set: set}, nil
}

// Render executes the named template.
func (t *Templates) Render(name string, data any) (string, error) {
	tmpl := t.set.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("template %q not found", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// Names lists the parsed templates.
func (t *Templates) Names() []string {
	var names []string
	for _, tmpl := range t.set.Templates() {
		if tmpl.Name() != "" {
			names = append(names, tmpl.Name())
		}
	}
	return names
}

func escapeXML(v any) string {
	var sb strings.Builder
	xml.EscapeText(&sb, []byte(fmt.Sprint(v)))
	return sb.String()
}

func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, fmt.Errorf("dict: odd number of arguments")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict: key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}
