package dispatch

import (
	"encoding/json"
	"fmt"
)

// Request is the envelope every node exchanges over /dispatch. HopCount is
// decremented at each forwarding hop; a request that arrives with no budget
// left is always served locally, which bounds forwarding even across a
// misconfigured or cyclic peer set.
type Request struct {
	Payload      json.RawMessage `json:"payload"`
	HopCount     int             `json:"hop_count"`
	OriginNodeID int             `json:"origin_node_id"`
	Capability   string          `json:"capability,omitempty"`
}

// Response is the envelope returned to the caller. Exactly one of Result
// and Error is meaningful; ServedBy always identifies who produced it.
type Response struct {
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	ServedBy string          `json:"served_by"`
}

// GenerationPayload is the provider-bound request body.
type GenerationPayload struct {
	Prompt string `json:"prompt"`
}

// ServedByProvider marks responses produced by the external model provider.
const ServedByProvider = "provider"

// ServedByNode marks responses produced by a cluster node.
func ServedByNode(id int) string {
	return fmt.Sprintf("node-%d", id)
}
