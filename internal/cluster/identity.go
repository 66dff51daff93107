// Package cluster resolves which topology entry the running process is,
// derives the peer set, and tracks runtime liveness and leadership state.
package cluster

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"sumgrid/internal/config"
)

var (
	ErrUnknownNodeID   = errors.New("cluster: node id not present in topology")
	ErrMissingBindInfo = errors.New("cluster: no bind address or port available")
	ErrEmptyPeerSet    = errors.New("cluster: topology has no peers")
)

// Identity is the single topology record for the current process plus its
// effective bind address. Constructed once at startup and passed to every
// component that needs it; never looked up through globals.
type Identity struct {
	ID   int
	IP   string
	Port int
}

// Overrides carries bind values from outside the topology. IP and Port are
// explicit CLI flags and outrank the topology record; EnvIP and EnvPort come
// from the environment and only fill values the topology leaves empty. Zero
// values mean "not set".
type Overrides struct {
	IP   string
	Port int

	EnvIP   string
	EnvPort int
}

// Address is the host:port form of the bind address.
func (id Identity) Address() string {
	return net.JoinHostPort(id.IP, strconv.Itoa(id.Port))
}

// ResolveIdentity binds the process to one topology entry. Bind precedence:
// explicit CLI override, then the topology-configured value, then the
// environment.
func ResolveIdentity(cfg config.Config, nodeID int, ov Overrides) (Identity, error) {
	rec, ok := cfg.Node(nodeID)
	if !ok {
		return Identity{}, fmt.Errorf("%w: %d", ErrUnknownNodeID, nodeID)
	}

	ident := Identity{ID: nodeID, IP: rec.IP, Port: rec.Port}
	if ident.IP == "" {
		ident.IP = ov.EnvIP
	}
	if ident.Port == 0 {
		ident.Port = ov.EnvPort
	}
	if ov.IP != "" {
		ident.IP = ov.IP
	}
	if ov.Port != 0 {
		ident.Port = ov.Port
	}

	if ident.IP == "" || ident.Port == 0 {
		return Identity{}, fmt.Errorf("%w: node %d", ErrMissingBindInfo, nodeID)
	}
	return ident, nil
}
