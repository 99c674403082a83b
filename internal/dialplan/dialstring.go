package dialplan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

// Dialstring separators understood by the call-control engine.
const (
	ParallelSeparator = ":_:"
	FailoverSeparator = "|"
)

// Leg is one originate instruction: a destination address tagged with the
// caller ID to present.
type Leg struct {
	CallerID provisioning.CallerID
	Address  string
}

func (l Leg) String() string {
	return fmt.Sprintf("[origination_caller_id_name=%s,origination_caller_id_number=%s]%s",
		l.CallerID.Name, l.CallerID.Number, l.Address)
}

// FailoverGroup is a list of alternative legs to one destination, tried in order.
type FailoverGroup []Leg

func (g FailoverGroup) String() string {
	parts := make([]string, len(g))
	for i, leg := range g {
		parts[i] = leg.String()
	}
	return strings.Join(parts, FailoverSeparator)
}

// Dialstring is the complete call-leg description for one call. Parallel legs
// and failover groups are rung simultaneously.
type Dialstring struct {
	Parallel []Leg
	Failover []FailoverGroup
}

// Empty reports whether the dialstring has no legs.
func (d Dialstring) Empty() bool {
	if len(d.Parallel) > 0 {
		return false
	}
	for _, g := range d.Failover {
		if len(g) > 0 {
			return false
		}
	}
	return true
}

// Legs returns the number of legs across all parts.
func (d Dialstring) Legs() int {
	n := len(d.Parallel)
	for _, g := range d.Failover {
		n += len(g)
	}
	return n
}

func (d Dialstring) String() string {
	parts := make([]string, 0, len(d.Parallel)+len(d.Failover))
	for _, leg := range d.Parallel {
		parts = append(parts, leg.String())
	}
	for _, g := range d.Failover {
		if len(g) == 0 {
			continue
		}
		parts = append(parts, g.String())
	}
	return strings.Join(parts, ParallelSeparator)
}

// Builder produces dialstrings for bridge actions and gateway routes. It holds
// the global gateway fallback list, fixed at construction.
type Builder struct {
	hostname string
	gateways []provisioning.Gateway
}

// NewBuilder returns a Builder that addresses lines registered on hostname and
// falls back to gateways in priority order.
func NewBuilder(hostname string, gateways []provisioning.Gateway) *Builder {
	sorted := make([]provisioning.Gateway, len(gateways))
	copy(sorted, gateways)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Builder{hostname: hostname, gateways: sorted}
}

// Gateways returns the fallback list in priority order.
func (b *Builder) Gateways() []provisioning.Gateway {
	out := make([]provisioning.Gateway, len(b.gateways))
	copy(out, b.gateways)
	return out
}

// Bridge fans a call out to every member of bridge except the caller. ext is
// the extension the bridge is bound to; its domain default caller ID is
// presented on gateway legs for line callers.
func (b *Builder) Bridge(caller Caller, ext *provisioning.Extension, bridge *provisioning.Bridge) (Dialstring, error) {
	local := caller.LocalID()
	outbound := local
	if caller.Line != nil && ext != nil && ext.Domain != nil && ext.Domain.DefaultCallerID != nil {
		outbound = *ext.Domain.DefaultCallerID
	}

	var ds Dialstring
	for _, member := range bridge.Lines {
		if caller.Line != nil && member.ID == caller.Line.ID {
			continue
		}
		ds.Parallel = append(ds.Parallel, Leg{
			CallerID: local,
			Address:  b.lineAddress(member.Username),
		})
	}

	for _, ol := range bridge.OutsideLines {
		if caller.Inbound != nil && caller.Inbound.Number == ol.PhoneNumber {
			continue
		}
		group, err := b.failover(ol.PhoneNumber, ol.Gateway, outbound)
		if err != nil {
			return Dialstring{}, fmt.Errorf("outside line %d: %w", ol.ID, err)
		}
		ds.Failover = append(ds.Failover, group)
	}
	return ds, nil
}

// Outbound routes a line's dial to gw, or to the fallback list when gw is nil.
func (b *Builder) Outbound(line *provisioning.Line, dest string, gw *provisioning.Gateway) (Dialstring, error) {
	group, err := b.failover(dest, gw, OutboundCallerID(line))
	if err != nil {
		return Dialstring{}, err
	}
	return Dialstring{Failover: []FailoverGroup{group}}, nil
}

// OutboundCallerID returns the caller ID a line presents through a gateway:
// its own, then its domain default, then its name and username.
func OutboundCallerID(line *provisioning.Line) provisioning.CallerID {
	if line.OutboundCallerID != nil {
		return *line.OutboundCallerID
	}
	if line.Domain != nil && line.Domain.DefaultCallerID != nil {
		return *line.Domain.DefaultCallerID
	}
	return provisioning.CallerID{Name: line.Name, Number: line.Username}
}

func (b *Builder) failover(number string, gw *provisioning.Gateway, cid provisioning.CallerID) (FailoverGroup, error) {
	full, ok := NormalizeE164(number)
	if !ok {
		return nil, fmt.Errorf("%q: %w", number, ErrInvalidNumber)
	}
	gateways := b.gateways
	if gw != nil {
		gateways = []provisioning.Gateway{*gw}
	}
	group := make(FailoverGroup, 0, len(gateways))
	for _, g := range gateways {
		group = append(group, Leg{
			CallerID: cid,
			Address:  fmt.Sprintf("sofia/gateway/%s/%s", g.Domain, full),
		})
	}
	return group, nil
}

func (b *Builder) lineAddress(username string) string {
	return fmt.Sprintf("${sofia_contact(%s@%s)}", username, b.hostname)
}
