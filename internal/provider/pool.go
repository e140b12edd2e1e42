package provider

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/modelbridge-ai/modelbridge/pkg/metrics"
)

// Factory builds a backend client for a credential set. Called once per
// distinct (backend, credentials) key for the pool's lifetime.
type Factory func(backend Backend, credentials string) (Client, error)

// Pool owns long-lived backend clients keyed by backend identity and a
// fingerprint of the credential set. Clients are reused across requests and
// never evicted mid-session; the key space is bounded by the few distinct
// backend/credential combinations a process uses.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]Client
	factory Factory
}

// NewPool creates a client pool backed by factory.
func NewPool(factory Factory) *Pool {
	return &Pool{
		clients: make(map[string]Client),
		factory: factory,
	}
}

func poolKey(backend Backend, credentials string) string {
	sum := sha256.Sum256([]byte(credentials))
	return string(backend) + ":" + hex.EncodeToString(sum[:8])
}

// Get returns the pooled client for the backend and credentials, creating it
// on first use. Concurrent first-use is safe: at most one client is stored
// per key.
func (p *Pool) Get(backend Backend, credentials string) (Client, error) {
	key := poolKey(backend, credentials)

	p.mu.RLock()
	c, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return c, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := p.factory(backend, credentials)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", backend, err)
	}
	p.clients[key] = c
	metrics.PooledClients.Inc()
	return c, nil
}

// Len reports the number of pooled clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}
