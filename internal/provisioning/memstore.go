package provisioning

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs tests and fixtures; fields may
// be populated directly before the store is shared.
type MemoryStore struct {
	DomainList  []Domain
	GatewayList []Gateway
	Lines       []*Line
	Extensions  []*Extension
	DidList     []DidExtension
	Clients     []*VertoClient

	mu sync.Mutex
}

// Compile-time interface checks.
var (
	_ Store          = (*MemoryStore)(nil)
	_ ClientPresence = (*MemoryStore)(nil)
)

func (m *MemoryStore) LineByUsername(_ context.Context, username string) (*Line, error) {
	for _, l := range m.Lines {
		if l.Username == username {
			return l, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ExtensionByNumber(_ context.Context, domain, number string) (*Extension, error) {
	for _, e := range m.Extensions {
		if e.Number == number && e.DomainName() == domain {
			return e, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) DidExtensionByNumber(_ context.Context, number string) (*DidExtension, error) {
	for i := range m.DidList {
		if m.DidList[i].Number == number {
			d := m.DidList[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) DidExtensions(_ context.Context) ([]DidExtension, error) {
	out := make([]DidExtension, len(m.DidList))
	copy(out, m.DidList)
	return out, nil
}

func (m *MemoryStore) DomainByName(_ context.Context, name string) (*Domain, error) {
	for i := range m.DomainList {
		if m.DomainList[i].Name == name {
			d := m.DomainList[i]
			return &d, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Domains(_ context.Context) ([]Domain, error) {
	out := make([]Domain, len(m.DomainList))
	copy(out, m.DomainList)
	return out, nil
}

func (m *MemoryStore) GatewayByDomain(_ context.Context, domain string) (*Gateway, error) {
	for i := range m.GatewayList {
		if m.GatewayList[i].Domain == domain {
			g := m.GatewayList[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Gateways(_ context.Context) ([]Gateway, error) {
	out := make([]Gateway, len(m.GatewayList))
	copy(out, m.GatewayList)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out, nil
}

func (m *MemoryStore) ClientByID(_ context.Context, clientID string) (*VertoClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Clients {
		if c.ClientID == clientID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) MarkConnected(_ context.Context, clientID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Clients {
		if c.ClientID == clientID {
			t := at
			c.Connected = &t
		}
	}
	return nil
}

func (m *MemoryStore) MarkDisconnected(_ context.Context, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.Clients {
		if c.ClientID == clientID {
			c.Connected = nil
		}
	}
	return nil
}
