package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/universalai-xyz/5dee-x402-gateway/challenge"
	"github.com/universalai-xyz/5dee-x402-gateway/config"
	"github.com/universalai-xyz/5dee-x402-gateway/evmchain"
	"github.com/universalai-xyz/5dee-x402-gateway/facilitatorclient"
	"github.com/universalai-xyz/5dee-x402-gateway/kvstore"
	"github.com/universalai-xyz/5dee-x402-gateway/logger"
	"github.com/universalai-xyz/5dee-x402-gateway/metrics"
	"github.com/universalai-xyz/5dee-x402-gateway/network"
	"github.com/universalai-xyz/5dee-x402-gateway/replay"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
	"github.com/universalai-xyz/5dee-x402-gateway/settle"
	"github.com/universalai-xyz/5dee-x402-gateway/svmfacilitator"
	"github.com/universalai-xyz/5dee-x402-gateway/verify"
	"github.com/universalai-xyz/5dee-x402-gateway/x402types"
)

// Gateway orchestrates the per-request payment pipeline: it chains
// the challenge builder, verifier, settlement engine, and replay store under
// one entry point, Handle.
type Gateway struct {
	cfg      *config.Config
	registry *network.Registry
	nonces   *replay.Store
	chains   *evmchain.Registry
	svm      *svmfacilitator.Facilitator
	log      logger.Logger
	metrics  metrics.Recorder

	mu           sync.Mutex
	facilitators map[string]*facilitatorclient.Client
}

// New builds a Gateway over the given static registry and dependencies. svm
// may be nil if no SVM fee payer is configured; networks whose vm is SVM
// will then fail to resolve a provider.
func New(cfg *config.Config, registry *network.Registry, kv kvstore.Store, chains *evmchain.Registry, svm *svmfacilitator.Facilitator, log logger.Logger, rec metrics.Recorder) *Gateway {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Gateway{
		cfg:          cfg,
		registry:     registry,
		nonces:       replay.New(kv, log),
		chains:       chains,
		svm:          svm,
		log:          log,
		metrics:      rec,
		facilitators: make(map[string]*facilitatorclient.Client),
	}
}

// Supported lists every active network as a (scheme, network) pair; all of
// them speak x402types.X402Version. It is
// independent of the per-request pipeline and safe to expose as a discovery
// endpoint.
func (g *Gateway) Supported() []x402types.PaymentRequirement {
	active := g.registry.Active(g.cfg)
	out := make([]x402types.PaymentRequirement, 0, len(active))
	for id := range active {
		out = append(out, x402types.PaymentRequirement{Scheme: x402types.SchemeExact, Network: id})
	}
	return out
}

// Handle runs one request through the pipeline state machine.
func (g *Gateway) Handle(ctx context.Context, req *Request) (*Outcome, error) {
	requestID := x402types.GeneratePaymentID("req_")

	r, ok := g.cfg.Routes[req.RouteKey]
	if !ok {
		return nil, fmt.Errorf("gateway: unknown route %q", req.RouteKey)
	}
	active := g.registry.Active(g.cfg)

	if req.PaymentHeader == "" {
		return g.challengeOutcome(active, r, req.Resource, "", "")
	}

	env, err := x402types.DecodeHeader(req.PaymentHeader)
	if err != nil {
		if code(err) == x402types.ErrMalformedHeader {
			return rejectBadRequest(err), nil
		}
		return g.challengeOutcome(active, r, req.Resource, code(err), err.Error())
	}

	if paymentID, has, idErr := env.PaymentID(); idErr == nil && has {
		if cached, cacheErr := g.nonces.GetCached(ctx, paymentID); cacheErr == nil && cached != nil && cached.Route == req.RouteKey {
			g.metrics.IncCounter("idempotent_hit", map[string]string{"network": env.Network})
			return &Outcome{Action: ActionProceed, ReceiptHeader: cached.CachedReceiptHeader}, nil
		}
	}

	desc, ok := active[env.Network]
	if !ok {
		return g.challengeOutcome(active, r, req.Resource, x402types.ErrUnknownNetwork, fmt.Sprintf("network %q is not active", env.Network))
	}

	verifier, err := verify.Select(desc, g.dialChain, g.dialFacilitator, g.nonces, g.svm, g.cfg.StrictBalanceCheck)
	if err != nil {
		return g.challengeOutcome(active, r, req.Resource, x402types.ErrUnknownNetwork, err.Error())
	}

	started := time.Now()
	result, err := verifier.Verify(ctx, env, desc, r)
	g.metrics.ObserveLatency("verify", time.Since(started), map[string]string{"network": desc.ID})
	if err != nil {
		g.metrics.IncCounter("verify_fail", map[string]string{"network": desc.ID})
		if code(err) == x402types.ErrMalformedHeader {
			return rejectBadRequest(err), nil
		}
		return g.challengeOutcome(active, r, req.Resource, code(err), err.Error())
	}

	nonceKey, err := nonceKeyFor(env, desc)
	if err != nil {
		return g.challengeOutcome(active, r, req.Resource, x402types.ErrMalformedHeader, err.Error())
	}

	if g.cfg.EnableCreditSystem {
		consumed, credErr := g.nonces.ConsumeCredit(ctx, result.Payer, r.RouteKey)
		if credErr == nil && consumed {
			g.metrics.IncCounter("credit_consumed", map[string]string{"network": desc.ID})
			return &Outcome{Action: ActionProceed, CreditConsumed: true}, nil
		}
	}

	reserved, err := g.nonces.Reserve(ctx, nonceKey, replay.NonceMeta{
		Network: desc.ID, Payer: result.Payer, Route: r.RouteKey, VM: string(desc.VM), Timestamp: time.Now().Unix(),
	})
	if err != nil || !reserved {
		return g.challengeOutcome(active, r, req.Resource, x402types.ErrNonceInFlight, "nonce already used or settlement in progress")
	}

	settler, err := settle.Select(desc, g.dialChain, g.dialFacilitator, g.svm, g.cfg.ConfirmationTimeout)
	if err != nil {
		_ = g.nonces.Release(ctx, nonceKey)
		return g.challengeOutcome(active, r, req.Resource, x402types.ErrSettlementFailed, err.Error())
	}

	settleStarted := time.Now()
	settlement, err := settler.Settle(ctx, env, desc, r)
	g.metrics.ObserveLatency("settle", time.Since(settleStarted), map[string]string{"network": desc.ID})
	if err != nil {
		g.metrics.IncCounter("settle_fail", map[string]string{"network": desc.ID})
		_ = g.nonces.Release(ctx, nonceKey)
		g.log.Warn("settlement failed", map[string]any{"request_id": requestID, "network": desc.ID, "route": r.RouteKey, "error": err.Error()})
		return g.challengeOutcome(active, r, req.Resource, x402types.ErrSettlementFailed, err.Error())
	}

	_ = g.nonces.Confirm(ctx, nonceKey, replay.NonceMeta{
		Network: desc.ID, Payer: result.Payer, Route: r.RouteKey, VM: string(desc.VM),
		Timestamp: time.Now().Unix(), TxHash: settlement.TxHash, ChainID: settlement.ChainID,
		BlockNumber: settlement.BlockNumber, Facilitator: settlement.Facilitator,
	})
	g.metrics.IncCounter("settled", map[string]string{"network": desc.ID})
	g.log.Info("settlement confirmed", map[string]any{"request_id": requestID, "network": desc.ID, "route": r.RouteKey, "tx_hash": settlement.TxHash})

	receiptB64, err := x402types.EncodeReceipt(x402types.Receipt{
		Success: true, TxHash: settlement.TxHash, Network: settlement.ChainID,
		BlockNumber: settlement.BlockNumber, Facilitator: settlement.Facilitator,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: encode receipt: %w", err)
	}

	if paymentID, has, idErr := env.PaymentID(); idErr == nil && has {
		_ = g.nonces.Cache(ctx, paymentID, replay.IdempotencyRecord{
			Timestamp: time.Now().Unix(), CachedReceiptHeader: receiptB64, Route: r.RouteKey,
		})
	}

	payer := result.Payer
	policy := r.CreditPolicy
	enableCredit := g.cfg.EnableCreditSystem
	nonces := g.nonces
	routeKey := r.RouteKey
	metricsRec := g.metrics
	hook := func(hookCtx context.Context, backendStatus int) {
		if !enableCredit || !policy.CreditOnStatusCodes[backendStatus] {
			return
		}
		if _, err := nonces.IssueCredit(hookCtx, payer, routeKey, policy.MaxCreditsPerPayer, time.Duration(policy.CreditTTLSeconds)*time.Second); err != nil {
			metricsRec.IncCounter("credit_issue_fail", map[string]string{"route": routeKey})
		}
	}

	return &Outcome{Action: ActionProceed, ReceiptHeader: receiptB64, CreditHook: hook}, nil
}

// challengeOutcome builds a 402 response: the challenge body for the active
// networks, with an optional error/message/reason describing why this
// request is being challenged (empty for a cold 402 with no payment header).
func (g *Gateway) challengeOutcome(active map[string]network.Descriptor, r route.Descriptor, resource, errCode, reason string) (*Outcome, error) {
	var svmFeePayer string
	if g.svm != nil {
		svmFeePayer = g.svm.PublicKey()
	}
	headerB64, body, err := challenge.Build(g.registry, active, r, resource, svmFeePayer)
	if err != nil {
		return nil, fmt.Errorf("gateway: build challenge: %w", err)
	}
	if errCode != "" {
		body.Error = errCode
		body.Reason = reason
		body.Message = reason
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode challenge body: %w", err)
	}
	return &Outcome{
		Action:                ActionChallenge,
		StatusCode:            402,
		Body:                  raw,
		PaymentRequiredHeader: headerB64,
	}, nil
}

func nonceKeyFor(env *x402types.PaymentEnvelope, desc network.Descriptor) (string, error) {
	if network.IsSVM(desc) {
		payload, err := env.SVMPayload()
		if err != nil {
			return "", err
		}
		return replay.NonceKeySVM(payload.Transaction), nil
	}
	payload, err := env.EVMPayload()
	if err != nil {
		return "", err
	}
	return replay.NonceKeyEVM(payload.Authorization.Nonce), nil
}

func rejectBadRequest(err error) *Outcome {
	body, _ := json.Marshal(x402types.ChallengeBody{X402Version: x402types.X402Version, Error: x402types.ErrMalformedHeader, Message: err.Error()})
	return &Outcome{Action: ActionReject, StatusCode: 400, Body: body}
}

func code(err error) string {
	if xe, ok := err.(*x402types.Error); ok {
		return xe.Code
	}
	return ""
}

func (g *Gateway) dialChain(ctx context.Context, desc network.Descriptor) (*evmchain.Client, error) {
	return g.chains.Get(ctx, desc.ID, func(ctx context.Context) (*evmchain.Client, error) {
		rpcURL, ok := g.cfg.Lookup(desc.RPCURLRef)
		if !ok {
			return nil, fmt.Errorf("no rpc url configured for %s", desc.ID)
		}
		return evmchain.Dial(ctx, rpcURL, common.HexToAddress(desc.Token.Address), g.cfg.SettlementPrivateKeyHex, g.log)
	})
}

func (g *Gateway) dialFacilitator(desc network.Descriptor) (*facilitatorclient.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.facilitators[desc.ID]; ok {
		return c, nil
	}
	if desc.Facilitator == nil {
		return nil, fmt.Errorf("network %s has no facilitator configured", desc.ID)
	}
	url, ok := g.cfg.Lookup(desc.Facilitator.URLRef)
	if !ok {
		return nil, fmt.Errorf("no facilitator url configured for %s", desc.ID)
	}
	apiKey, _ := g.cfg.Lookup(desc.Facilitator.APIKeyRef)
	client := facilitatorclient.New(url, apiKey, g.cfg.FacilitatorTimeout)
	g.facilitators[desc.ID] = client
	return client, nil
}
