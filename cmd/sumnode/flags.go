package main

import (
	"errors"
	"flag"
	"fmt"
	"strconv"

	"sumgrid/internal/cluster"
)

// options are the resolved startup parameters. Flags outrank the topology
// file; NODE_IP and NODE_PORT from the environment are carried separately
// and only fill bind values the topology leaves empty.
type options struct {
	nodeID     int
	ip         string
	port       int
	configPath string

	envIP   string
	envPort int
}

var errNodeIDRequired = errors.New("node id is required (--node-id or NODE_ID)")

// parseFlags resolves options from args and env. env supplies the NODE_ID
// default and the NODE_IP/NODE_PORT bind fallbacks so the binary runs
// unchanged in containers.
func parseFlags(fs *flag.FlagSet, args []string, env map[string]string) (options, error) {
	var opts options

	defaultID := 0
	if raw, ok := env["NODE_ID"]; ok && raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return options{}, fmt.Errorf("invalid NODE_ID %q: %w", raw, err)
		}
		defaultID = id
	}
	opts.envIP = env["NODE_IP"]
	if raw, ok := env["NODE_PORT"]; ok && raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return options{}, fmt.Errorf("invalid NODE_PORT %q: %w", raw, err)
		}
		opts.envPort = p
	}

	fs.IntVar(&opts.nodeID, "node-id", defaultID, "this node's id in the topology (required)")
	fs.StringVar(&opts.ip, "ip", "", "bind ip override")
	fs.IntVar(&opts.port, "port", 0, "bind port override")
	fs.StringVar(&opts.configPath, "config", "config.yaml", "path to the topology file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if opts.nodeID == 0 {
		return options{}, errNodeIDRequired
	}
	return opts, nil
}

// overrides maps the parsed options onto the identity resolver's bind
// sources.
func (o options) overrides() cluster.Overrides {
	return cluster.Overrides{
		IP:      o.ip,
		Port:    o.port,
		EnvIP:   o.envIP,
		EnvPort: o.envPort,
	}
}
