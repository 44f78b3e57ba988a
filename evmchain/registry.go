package evmchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/universalai-xyz/5dee-x402-gateway/logger"
)

// Factory builds one network's Client on first use.
type Factory func(ctx context.Context) (*Client, error)

// Registry lazily constructs and memoizes one Client per network ID. A
// client's dial cost (RPC handshake, chain ID fetch) is paid at most once per
// process, under a read-compare-write discipline: callers check for an
// existing client under a read lock first, and only take the write lock to
// build one when none exists yet.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	log     logger.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(log logger.Logger) *Registry {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Registry{clients: make(map[string]*Client), log: log}
}

// Get returns the memoized Client for networkID, dialing it via build if
// this is the first request for that network.
func (r *Registry) Get(ctx context.Context, networkID string, build Factory) (*Client, error) {
	r.mu.RLock()
	c, ok := r.clients[networkID]
	r.mu.RUnlock()
	if ok {
		return c, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[networkID]; ok {
		return c, nil
	}
	c, err := build(ctx)
	if err != nil {
		return nil, fmt.Errorf("evmchain registry dial %s: %w", networkID, err)
	}
	r.clients[networkID] = c
	r.log.Info("dialed evm network", map[string]any{"network": networkID})
	return c, nil
}

// CloseAll closes every memoized client.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Close()
	}
	r.clients = make(map[string]*Client)
}
