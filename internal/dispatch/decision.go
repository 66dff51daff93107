package dispatch

import "fmt"

// Action is where a request gets handled.
type Action int

const (
	ServeLocal Action = iota
	Forward
	CallProvider
)

func (a Action) String() string {
	switch a {
	case ServeLocal:
		return "serve_local"
	case Forward:
		return "forward"
	case CallProvider:
		return "call_provider"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is one routing choice for one request. PeerID is only meaningful
// for Forward. Decisions are produced per request and never persisted.
type Decision struct {
	Action Action
	PeerID int
}

// Policy picks a destination for requests that still have hop budget. The
// trigger condition for forwarding versus a direct provider call is a
// deployment choice, so it is injected rather than hard-coded.
type Policy func(req Request) Decision

// CapabilityPolicy forwards requests whose capability a specific peer
// advertises and sends everything else to the provider.
func CapabilityPolicy(capabilities map[string]int) Policy {
	return func(req Request) Decision {
		if req.Capability != "" {
			if peerID, ok := capabilities[req.Capability]; ok {
				return Decision{Action: Forward, PeerID: peerID}
			}
		}
		return Decision{Action: CallProvider}
	}
}
