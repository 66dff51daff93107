// Package dispatch decides, per request, whether this node serves it,
// forwards it to a peer, or calls the external model provider, and carries
// that decision out under a bounded retry and fallback policy.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"sumgrid/internal/cluster"
	"sumgrid/internal/observability"
)

var ErrProviderUnavailable = errors.New("dispatch: provider unavailable")

// LocalHandler serves a request on this node without further forwarding.
type LocalHandler interface {
	ServeLocal(ctx context.Context, req Request) (json.RawMessage, error)
}

// Provider is the external model endpoint a generation request falls
// through to.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RouterConfig bounds forwarding and provider retries.
type RouterConfig struct {
	ForwardTimeout   time.Duration
	ProviderAttempts int
	Backoff          Backoff
	Policy           Policy
}

// DefaultRouterConfig matches the documented dispatch policy: 10s forward
// timeout, one forward retry, three provider attempts with exponential
// backoff.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ForwardTimeout:   10 * time.Second,
		ProviderAttempts: 3,
		Backoff:          DefaultBackoff(),
	}
}

// Router executes dispatch decisions. Identity and registry are immutable;
// the router itself holds no per-request state, so concurrent dispatches
// proceed independently and retry sleeps never block anything but their own
// request.
type Router struct {
	identity cluster.Identity
	registry *cluster.PeerRegistry
	provider Provider
	local    LocalHandler
	cfg      RouterConfig
	client   *http.Client
	logger   zerolog.Logger
}

// NewRouter wires a router for this node. local may be nil when the node
// exposes no local service; such requests fall through to the provider.
func NewRouter(
	identity cluster.Identity,
	registry *cluster.PeerRegistry,
	prov Provider,
	local LocalHandler,
	cfg RouterConfig,
	logger zerolog.Logger,
) *Router {
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = DefaultRouterConfig().ForwardTimeout
	}
	if cfg.ProviderAttempts <= 0 {
		cfg.ProviderAttempts = DefaultRouterConfig().ProviderAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Router{
		identity: identity,
		registry: registry,
		provider: prov,
		local:    local,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.ForwardTimeout},
		logger:   logger,
	}
}

// Decide picks the destination for one request. An exhausted hop budget
// always wins: the request is served locally, never forwarded again. A
// policy choice to forward is discarded when the peer is not in the
// registry.
func (r *Router) Decide(req Request) Decision {
	if req.HopCount <= 0 {
		return Decision{Action: ServeLocal}
	}
	if r.cfg.Policy == nil {
		return Decision{Action: CallProvider}
	}
	dec := r.cfg.Policy(req)
	if dec.Action == Forward {
		if dec.PeerID == r.identity.ID {
			return Decision{Action: ServeLocal}
		}
		if _, ok := r.registry.Peer(dec.PeerID); !ok {
			return Decision{Action: CallProvider}
		}
	}
	return dec
}

// Dispatch decides and executes. It always returns a structured response;
// dispatch failures surface in the Error field, never as a crash.
func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	dec := r.Decide(req)
	dest := r.destinationLabel(dec)
	observability.RecordDispatchDecision(r.nodeLabel(), dest)
	r.logger.Info().
		Str("decision", dec.Action.String()).
		Str("destination", dest).
		Int("hop_count", req.HopCount).
		Int("origin", req.OriginNodeID).
		Msg("dispatch decision")

	switch dec.Action {
	case ServeLocal:
		return r.serveLocal(ctx, req)
	case Forward:
		return r.forward(ctx, dec.PeerID, req)
	default:
		return r.callProvider(ctx, req)
	}
}

func (r *Router) serveLocal(ctx context.Context, req Request) Response {
	servedBy := ServedByNode(r.identity.ID)
	if r.local == nil {
		return r.callProvider(ctx, req)
	}
	result, err := r.local.ServeLocal(ctx, req)
	if err != nil {
		observability.RecordDispatchOutcome(r.nodeLabel(), servedBy, "failure")
		r.logger.Error().Err(err).Msg("local service failed")
		return Response{Error: err.Error(), ServedBy: servedBy}
	}
	observability.RecordDispatchOutcome(r.nodeLabel(), servedBy, "success")
	return Response{Result: result, ServedBy: servedBy}
}

// forward sends the envelope to the chosen peer with its hop budget reduced
// by one. On failure it retries the same peer once, then falls back to a
// direct provider call so a dead peer bounds latency instead of hanging the
// request.
func (r *Router) forward(ctx context.Context, peerID int, req Request) Response {
	rec, ok := r.registry.Peer(peerID)
	if !ok {
		return r.callProvider(ctx, req)
	}
	dest := fmt.Sprintf("peer-%d", peerID)

	fwd := req
	fwd.HopCount--

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		resp, err := r.postEnvelope(ctx, cluster.Address(rec), fwd)
		if err == nil {
			observability.RecordDispatchOutcome(r.nodeLabel(), dest, "success")
			return resp
		}
		lastErr = err
		outcome := "retry"
		if attempt == 2 {
			outcome = "fallback"
		}
		observability.RecordDispatchOutcome(r.nodeLabel(), dest, outcome)
		r.logger.Warn().
			Err(err).
			Int("peer", peerID).
			Int("attempt", attempt).
			Msg("forward attempt failed")
	}

	r.logger.Warn().
		Err(lastErr).
		Int("peer", peerID).
		Msg("peer unreachable, falling back to provider")
	return r.callProvider(ctx, req)
}

func (r *Router) postEnvelope(ctx context.Context, addr string, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("dispatch: encode envelope: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.ForwardTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		"http://"+addr+"/dispatch", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("dispatch: build forward request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := r.client.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("dispatch: peer returned status %d", httpResp.StatusCode)
	}
	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("dispatch: decode peer response: %w", err)
	}
	return resp, nil
}

// callProvider invokes the external provider with bounded exponential
// backoff. Exhaustion surfaces ErrProviderUnavailable to the caller rather
// than retrying indefinitely.
func (r *Router) callProvider(ctx context.Context, req Request) Response {
	var gen GenerationPayload
	if err := json.Unmarshal(req.Payload, &gen); err != nil || gen.Prompt == "" {
		return Response{
			Error:    "dispatch: payload is not a generation request",
			ServedBy: ServedByNode(r.identity.ID),
		}
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.ProviderAttempts; attempt++ {
		out, err := r.provider.Complete(ctx, gen.Prompt)
		if err == nil {
			result, merr := json.Marshal(map[string]string{"completion": out})
			if merr != nil {
				return Response{Error: merr.Error(), ServedBy: ServedByProvider}
			}
			observability.RecordDispatchOutcome(r.nodeLabel(), ServedByProvider, "success")
			return Response{Result: result, ServedBy: ServedByProvider}
		}
		lastErr = err
		r.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Msg("provider call failed")

		if attempt == r.cfg.ProviderAttempts {
			break
		}
		observability.RecordDispatchOutcome(r.nodeLabel(), ServedByProvider, "retry")
		select {
		case <-time.After(r.cfg.Backoff.Delay(attempt)):
		case <-ctx.Done():
			observability.RecordDispatchOutcome(r.nodeLabel(), ServedByProvider, "failure")
			return Response{Error: ctx.Err().Error(), ServedBy: ServedByProvider}
		}
	}

	observability.RecordDispatchOutcome(r.nodeLabel(), ServedByProvider, "failure")
	r.logger.Error().Err(lastErr).Msg("provider attempts exhausted")
	return Response{
		Error:    fmt.Sprintf("%v: %v", ErrProviderUnavailable, lastErr),
		ServedBy: ServedByProvider,
	}
}

func (r *Router) destinationLabel(dec Decision) string {
	switch dec.Action {
	case ServeLocal:
		return ServedByNode(r.identity.ID)
	case Forward:
		return fmt.Sprintf("peer-%d", dec.PeerID)
	default:
		return ServedByProvider
	}
}

func (r *Router) nodeLabel() string {
	return observability.NodeLabel(r.identity.ID)
}
