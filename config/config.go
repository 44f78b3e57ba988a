// Package config loads the gateway's process-wide configuration once at
// startup into an immutable value that is passed through the component
// graph, rather than read from package globals inside the core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/universalai-xyz/5dee-x402-gateway/route"
)

// Config is the gateway's validated, immutable runtime configuration.
type Config struct {
	// SettlementPrivateKeyHex signs local-EVM settlement transactions.
	SettlementPrivateKeyHex string `validate:"required"`

	// SVMFeePayerKeyBase58 co-signs and submits SVM settlements. Empty
	// disables SVM networks.
	SVMFeePayerKeyBase58 string
	SVMRPCURL            string

	// KVStoreURL points at the backing key-value service (e.g. redis://...).
	KVStoreURL string `validate:"required"`

	// EnableCreditSystem is the master flag for the credit-compensation
	// subsystem.
	EnableCreditSystem bool

	// StrictBalanceCheck, when true, turns a failed balance-check RPC call
	// into a hard verification failure instead of the documented fail-soft
	// "unknown, allow" behavior.
	StrictBalanceCheck bool

	DefaultTimeout        time.Duration
	FacilitatorTimeout    time.Duration
	ConfirmationTimeout   time.Duration

	Routes map[string]route.Descriptor

	env map[string]string
}

// Load reads a .env file (if present) and then environment variables into a
// validated Config. envPrefix-less keys are read directly; see Lookup for how
// arbitrary config-key references (rpcUrlRef, backendKeyRef, apiKeyRef) are
// resolved against the same environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := snapshotEnv()

	timeout := 30 * time.Second
	if v, ok := env["X402_DEFAULT_TIMEOUT_SECONDS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			timeout = time.Duration(n) * time.Second
		}
	}
	facilitatorTimeout := 15 * time.Second
	if v, ok := env["X402_FACILITATOR_TIMEOUT_SECONDS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			facilitatorTimeout = time.Duration(n) * time.Second
		}
	}
	confirmTimeout := 60 * time.Second
	if v, ok := env["X402_CONFIRMATION_TIMEOUT_SECONDS"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			confirmTimeout = time.Duration(n) * time.Second
		}
	}

	cfg := &Config{
		SettlementPrivateKeyHex: env["X402_SETTLEMENT_PRIVATE_KEY"],
		SVMFeePayerKeyBase58:    env["X402_SVM_FEE_PAYER_KEY"],
		SVMRPCURL:               env["X402_SVM_RPC_URL"],
		KVStoreURL:              env["X402_KV_STORE_URL"],
		EnableCreditSystem:      env["X402_ENABLE_CREDIT_SYSTEM"] == "true",
		StrictBalanceCheck:      env["X402_STRICT_BALANCE_CHECK"] == "true",
		DefaultTimeout:          timeout,
		FacilitatorTimeout:      facilitatorTimeout,
		ConfirmationTimeout:     confirmTimeout,
		Routes:                  map[string]route.Descriptor{},
		env:                     env,
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Lookup resolves a config-key reference (an rpcUrlRef, backendKeyRef, or
// apiKeyRef) against the process environment. It satisfies
// network.EnvResolver.
func (c *Config) Lookup(ref string) (string, bool) {
	if ref == "" {
		return "", false
	}
	v, ok := c.env[ref]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// HasSVMFeePayer satisfies network.EnvResolver.
func (c *Config) HasSVMFeePayer() bool {
	return c.SVMFeePayerKeyBase58 != "" && c.SVMRPCURL != ""
}

// WithRoutes returns a copy of c with the given route table installed.
// Routes are immutable after load, per the data model.
func (c *Config) WithRoutes(routes []route.Descriptor) *Config {
	clone := *c
	clone.Routes = make(map[string]route.Descriptor, len(routes))
	for _, r := range routes {
		clone.Routes[r.RouteKey] = r.WithDefaults()
	}
	return &clone
}

func snapshotEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}
