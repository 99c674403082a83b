package dialplan

import (
	"fmt"
	"strings"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// actionTemplates maps each action variant to the dialplan document that
// executes it.
var actionTemplates = map[provisioning.ActionKind]string{
	provisioning.KindBridge:     "dialplan/bridge.xml",
	provisioning.KindConference: "dialplan/conference.xml",
}

// ActionRegistry resolves an extension to its bound action. The set of
// routable kinds is fixed when the registry is built.
type ActionRegistry struct {
	enabled map[provisioning.ActionKind]bool
	kinds   []provisioning.ActionKind
}

// NewActionRegistry enables the named action kinds. An unknown or repeated
// name is an error.
func NewActionRegistry(names []string) (*ActionRegistry, error) {
	r := &ActionRegistry{enabled: make(map[provisioning.ActionKind]bool)}
	for _, name := range names {
		kind := provisioning.ActionKind(strings.ToLower(strings.TrimSpace(name)))
		if _, ok := actionTemplates[kind]; !ok {
			return nil, fmt.Errorf("unknown action kind %q", name)
		}
		if r.enabled[kind] {
			return nil, fmt.Errorf("action kind %q listed twice", name)
		}
		r.enabled[kind] = true
		r.kinds = append(r.kinds, kind)
	}
	if len(r.kinds) == 0 {
		return nil, fmt.Errorf("no action kinds enabled")
	}
	return r, nil
}

// Kinds returns the enabled kinds in configuration order.
func (r *ActionRegistry) Kinds() []provisioning.ActionKind {
	out := make([]provisioning.ActionKind, len(r.kinds))
	copy(out, r.kinds)
	return out
}

// Resolve returns the extension's action, or false when none is bound or its
// kind is not enabled.
func (r *ActionRegistry) Resolve(ext *provisioning.Extension) (provisioning.Action, bool) {
	if ext == nil || ext.Action == nil {
		return nil, false
	}
	if !r.enabled[ext.Action.Kind()] {
		return nil, false
	}
	return ext.Action, true
}

// Template returns the document template for an action.
func (r *ActionRegistry) Template(a provisioning.Action) string {
	return actionTemplates[a.Kind()]
}
