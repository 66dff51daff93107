package main

import (
	"errors"
	"flag"
	"testing"

	"sumgrid/internal/cluster"
	"sumgrid/internal/config"
)

func newFS() *flag.FlagSet {
	return flag.NewFlagSet("sumnode", flag.ContinueOnError)
}

func TestParseFlagsExplicit(t *testing.T) {
	opts, err := parseFlags(newFS(), []string{"--node-id", "2", "--ip", "10.0.0.5", "--port", "9001", "--config", "topo.yaml"}, nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.nodeID != 2 || opts.ip != "10.0.0.5" || opts.port != 9001 || opts.configPath != "topo.yaml" {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestParseFlagsEnvSupplies(t *testing.T) {
	env := map[string]string{"NODE_ID": "3", "NODE_IP": "10.0.0.9", "NODE_PORT": "9100"}
	opts, err := parseFlags(newFS(), nil, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.nodeID != 3 {
		t.Fatalf("NODE_ID should supply the node id, got %+v", opts)
	}
	// Environment bind values are fallbacks, never flag values.
	if opts.ip != "" || opts.port != 0 {
		t.Fatalf("env must not masquerade as flags, got %+v", opts)
	}
	if opts.envIP != "10.0.0.9" || opts.envPort != 9100 {
		t.Fatalf("env bind values lost: %+v", opts)
	}
	if opts.configPath != "config.yaml" {
		t.Fatalf("default config path lost: %q", opts.configPath)
	}
}

func TestParseFlagsCLIOutranksEnv(t *testing.T) {
	env := map[string]string{"NODE_ID": "3", "NODE_PORT": "9100"}
	opts, err := parseFlags(newFS(), []string{"--node-id", "1", "--port", "8000"}, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.nodeID != 1 || opts.port != 8000 {
		t.Fatalf("flags should outrank env, got %+v", opts)
	}
}

func TestEnvDoesNotOverrideTopologyBind(t *testing.T) {
	cfg := config.Config{
		Nodes: []config.NodeRecord{
			{ID: 1, IP: "10.0.0.1", Port: 8000},
			{ID: 2, IP: "10.0.0.2", Port: 8000},
		},
	}
	env := map[string]string{"NODE_IP": "10.9.9.9", "NODE_PORT": "9999"}

	opts, err := parseFlags(newFS(), []string{"--node-id", "1"}, env)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ident, err := cluster.ResolveIdentity(cfg, opts.nodeID, opts.overrides())
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.Address() != "10.0.0.1:8000" {
		t.Fatalf("topology must outrank environment, got bind %s", ident.Address())
	}

	// The same environment does supply the bind when the topology omits it.
	cfg.Nodes[0].IP = ""
	cfg.Nodes[0].Port = 0
	ident, err = cluster.ResolveIdentity(cfg, opts.nodeID, opts.overrides())
	if err != nil {
		t.Fatalf("resolve identity: %v", err)
	}
	if ident.Address() != "10.9.9.9:9999" {
		t.Fatalf("environment should fill the missing bind, got %s", ident.Address())
	}
}

func TestParseFlagsMissingNodeID(t *testing.T) {
	_, err := parseFlags(newFS(), nil, nil)
	if !errors.Is(err, errNodeIDRequired) {
		t.Fatalf("expected errNodeIDRequired, got %v", err)
	}
}

func TestParseFlagsBadEnvNumbers(t *testing.T) {
	if _, err := parseFlags(newFS(), nil, map[string]string{"NODE_ID": "two"}); err == nil {
		t.Fatalf("bad NODE_ID should fail")
	}
	if _, err := parseFlags(newFS(), nil, map[string]string{"NODE_ID": "1", "NODE_PORT": "ninety"}); err == nil {
		t.Fatalf("bad NODE_PORT should fail")
	}
}
