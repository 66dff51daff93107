package cluster

import (
	"errors"
	"testing"

	"sumgrid/internal/config"
)

func threeNodeConfig() config.Config {
	return config.Config{
		Nodes: []config.NodeRecord{
			{ID: 1, IP: "10.0.0.1", Port: 8000},
			{ID: 2, IP: "10.0.0.2", Port: 8000},
			{ID: 3, IP: "10.0.0.3", Port: 8000},
		},
		API: config.APIConfig{Key: "sk-or-test"},
	}
}

func TestResolveIdentityFromTopology(t *testing.T) {
	ident, err := ResolveIdentity(threeNodeConfig(), 2, Overrides{})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.ID != 2 {
		t.Fatalf("identity id should equal requested id, got %d", ident.ID)
	}
	if ident.Address() != "10.0.0.2:8000" {
		t.Fatalf("unexpected address: %q", ident.Address())
	}
}

func TestResolveIdentityCLIOverridesWin(t *testing.T) {
	ident, err := ResolveIdentity(threeNodeConfig(), 2, Overrides{IP: "127.0.0.1", Port: 9999})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.IP != "127.0.0.1" || ident.Port != 9999 {
		t.Fatalf("overrides should take precedence, got %+v", ident)
	}
}

func TestResolveIdentityTopologyOutranksEnvironment(t *testing.T) {
	ident, err := ResolveIdentity(threeNodeConfig(), 1, Overrides{EnvIP: "10.9.9.9", EnvPort: 9999})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.Address() != "10.0.0.1:8000" {
		t.Fatalf("topology bind should win over environment, got %q", ident.Address())
	}
}

func TestResolveIdentityEnvironmentFillsTopologyGaps(t *testing.T) {
	cfg := threeNodeConfig()
	cfg.Nodes[0].IP = ""
	cfg.Nodes[0].Port = 0

	ident, err := ResolveIdentity(cfg, 1, Overrides{EnvIP: "10.9.9.9", EnvPort: 9999})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.Address() != "10.9.9.9:9999" {
		t.Fatalf("environment should fill missing bind values, got %q", ident.Address())
	}

	// An explicit flag still beats both sources.
	ident, err = ResolveIdentity(cfg, 1, Overrides{IP: "127.0.0.1", Port: 8080, EnvIP: "10.9.9.9", EnvPort: 9999})
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.Address() != "127.0.0.1:8080" {
		t.Fatalf("flags should win over every other source, got %q", ident.Address())
	}
}

func TestResolveIdentityUnknownNodeID(t *testing.T) {
	_, err := ResolveIdentity(threeNodeConfig(), 7, Overrides{})
	if !errors.Is(err, ErrUnknownNodeID) {
		t.Fatalf("expected ErrUnknownNodeID, got %v", err)
	}
}

func TestResolveIdentityMissingBindInfo(t *testing.T) {
	cfg := threeNodeConfig()
	cfg.Nodes[1].IP = ""
	_, err := ResolveIdentity(cfg, 2, Overrides{})
	if !errors.Is(err, ErrMissingBindInfo) {
		t.Fatalf("expected ErrMissingBindInfo, got %v", err)
	}

	// The same topology works once the CLI supplies the bind address.
	ident, err := ResolveIdentity(cfg, 2, Overrides{IP: "0.0.0.0"})
	if err != nil {
		t.Fatalf("resolve with override: %v", err)
	}
	if ident.IP != "0.0.0.0" {
		t.Fatalf("unexpected ip: %q", ident.IP)
	}
}
