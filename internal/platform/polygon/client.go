// Package polygon provides read-only access to Polygon JSON-RPC nodes.
// It maintains a pool of public endpoints and fails over between them,
// remembering the last endpoint that answered.
package polygon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/luthebao/xtools-sub000/internal/domain"
)

// nonceClient is the slice of the eth client the pool needs. Satisfied by
// *ethclient.Client; tests substitute fakes.
type nonceClient interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// DialFunc opens a JSON-RPC connection to the given endpoint.
type DialFunc func(ctx context.Context, endpoint string) (nonceClient, error)

func ethDial(ctx context.Context, endpoint string) (nonceClient, error) {
	return ethclient.DialContext(ctx, endpoint)
}

// Pool is a failover set of Polygon RPC endpoints. Lookups start at the
// endpoint that most recently succeeded and walk the rest of the list in
// order when it fails. Connections are dialed lazily and reused.
type Pool struct {
	endpoints []string
	timeout   time.Duration
	dial      DialFunc
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[string]nonceClient
	current int // index of the last endpoint that succeeded
}

// PoolConfig holds the Pool construction parameters.
type PoolConfig struct {
	Endpoints []string
	Timeout   time.Duration
}

// NewPool creates a Pool over the given endpoints. Timeout bounds each
// individual RPC attempt; the caller's context bounds the whole lookup.
func NewPool(cfg PoolConfig, logger *slog.Logger) (*Pool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("polygon: at least one rpc endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Pool{
		endpoints: cfg.Endpoints,
		timeout:   timeout,
		dial:      ethDial,
		clients:   make(map[string]nonceClient),
		logger:    logger.With(slog.String("component", "polygon")),
	}, nil
}

var _ domain.NonceResolver = (*Pool)(nil)

// NonceAt returns the wallet's transaction count, trying each endpoint in
// turn starting from the last one that worked. Returns
// domain.ErrAllEndpointsFailed when every endpoint errors.
func (p *Pool) NonceAt(ctx context.Context, address string) (int64, error) {
	if !common.IsHexAddress(address) {
		return -1, fmt.Errorf("polygon: invalid address %q", address)
	}
	addr := common.HexToAddress(address)

	p.mu.Lock()
	start := p.current
	p.mu.Unlock()

	var lastErr error
	for i := 0; i < len(p.endpoints); i++ {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		idx := (start + i) % len(p.endpoints)
		endpoint := p.endpoints[idx]

		nonce, err := p.nonceFrom(ctx, endpoint, addr)
		if err != nil {
			lastErr = err
			p.logger.Debug("rpc endpoint failed",
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()))
			p.evict(endpoint)
			continue
		}

		p.mu.Lock()
		p.current = idx
		p.mu.Unlock()
		return int64(nonce), nil
	}

	return -1, fmt.Errorf("%w: last error: %v", domain.ErrAllEndpointsFailed, lastErr)
}

func (p *Pool) nonceFrom(ctx context.Context, endpoint string, addr common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	client, err := p.clientFor(ctx, endpoint)
	if err != nil {
		return 0, err
	}
	return client.PendingNonceAt(ctx, addr)
}

func (p *Pool) clientFor(ctx context.Context, endpoint string) (nonceClient, error) {
	p.mu.Lock()
	if c, ok := p.clients[endpoint]; ok {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	c, err := p.dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("polygon: dial %s: %w", endpoint, err)
	}

	p.mu.Lock()
	p.clients[endpoint] = c
	p.mu.Unlock()
	return c, nil
}

// evict drops a cached connection so the next attempt redials.
func (p *Pool) evict(endpoint string) {
	p.mu.Lock()
	delete(p.clients, endpoint)
	p.mu.Unlock()
}

// Endpoints returns the configured endpoint list.
func (p *Pool) Endpoints() []string {
	out := make([]string, len(p.endpoints))
	copy(out, p.endpoints)
	return out
}
