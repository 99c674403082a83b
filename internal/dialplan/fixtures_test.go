package dialplan

import (
	"log/slog"
	"os"

	"github.com/intercompbx/intercompbx/internal/provisioning"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	store   *provisioning.MemoryStore
	example *provisioning.Domain
	other   *provisioning.Domain
	gwA     provisioning.Gateway
	gwB     provisioning.Gateway
	line101 *provisioning.Line
	main    *provisioning.Bridge
	ext102  *provisioning.Extension
}

// newFixture provisions two domains, two gateways, three lines, a bridge on
// extension 102, an unbound extension 200, and a DID routed to a conference
// in the other domain.
func newFixture() *fixture {
	f := &fixture{}
	f.example = &provisioning.Domain{ID: 1, Name: "example.com", Port: 5080}
	f.other = &provisioning.Domain{
		ID:              2,
		Name:            "other.example",
		Port:            5082,
		DefaultCallerID: &provisioning.CallerID{Name: "Other Inc", Number: "+12125550100"},
	}
	f.gwA = provisioning.Gateway{ID: 1, Domain: "gw-a.carrier", Priority: 10}
	f.gwB = provisioning.Gateway{ID: 2, Domain: "gw-b.carrier", Priority: 20}

	f.line101 = &provisioning.Line{
		ID:       1,
		Name:     "Kitchen",
		Username: "101",
		Domain:   f.example,
		OutboundRules: []provisioning.OutboundExtension{
			provisioning.MustOutboundExtension(1, "nanp", `\+1\d{10}`, nil),
		},
	}
	line102 := &provisioning.Line{ID: 2, Name: "Office", Username: "102", Domain: f.example, ExtensionNumber: "102"}
	line103 := &provisioning.Line{ID: 3, Name: "Garage", Username: "103", Domain: f.example}

	f.main = &provisioning.Bridge{
		ID:   1,
		Name: "main",
		Lines: []provisioning.BridgeLine{
			{ID: 1, Name: "Kitchen", Username: "101"},
			{ID: 2, Name: "Office", Username: "102"},
			{ID: 3, Name: "Garage", Username: "103"},
		},
	}
	f.ext102 = &provisioning.Extension{ID: 1, Number: "102", Domain: f.example, Action: f.main}
	ext200 := &provisioning.Extension{ID: 2, Number: "200", Domain: f.example}
	ext300 := &provisioning.Extension{
		ID:     3,
		Number: "300",
		Domain: f.other,
		Action: &provisioning.Conference{ID: 2, Name: "lobby"},
	}

	f.store = &provisioning.MemoryStore{
		DomainList:  []provisioning.Domain{*f.example, *f.other},
		GatewayList: []provisioning.Gateway{f.gwB, f.gwA},
		Lines:       []*provisioning.Line{f.line101, line102, line103},
		Extensions:  []*provisioning.Extension{f.ext102, ext200, ext300},
		DidList: []provisioning.DidExtension{
			{ID: 1, Number: "+12125550123", Extension: ext300},
			{ID: 2, Number: "+12125550199"},
			{ID: 3, Number: "2125550123", Extension: f.ext102},
		},
	}
	return f
}

func (f *fixture) resolver(opts ...Option) *Resolver {
	reg, err := NewActionRegistry([]string{"bridge", "conference"})
	if err != nil {
		panic(err)
	}
	return NewResolver(f.store, reg, testLogger(), opts...)
}

func (f *fixture) builder() *Builder {
	return NewBuilder("pbx.example.com", f.store.GatewayList)
}
