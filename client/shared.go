package client

import (
	"sync"

	"github.com/ruteri/secure-rpc-broker/interfaces"
)

// SharedProxy is the client-side view of the server's shared variables.
//
// Writes go to a local cache and are then replicated to the server through
// the built-in update function, best-effort: a failed sync is logged, never
// returned, so the write itself always appears to succeed (at-most-once
// replication). Reads never contact the server; a client reads its own last
// written value, not another client's concurrent write, unless it makes its
// own explicit call to a function that consults the server store.
type SharedProxy struct {
	client *Client

	mu    sync.RWMutex
	cache map[string]any
}

func newSharedProxy(c *Client) *SharedProxy {
	return &SharedProxy{client: c, cache: make(map[string]any)}
}

// Set writes the local cache and replicates the value to the server.
func (p *SharedProxy) Set(key string, value any) {
	p.mu.Lock()
	p.cache[key] = value
	p.mu.Unlock()

	if _, err := p.client.Call(updateSharedVarFunc, key, value); err != nil {
		// Best-effort replication: visible in logs, invisible to the writer.
		p.client.log.Error(interfaces.ErrSync.Error(), "key", key, "err", err)
	}
}

// Get reads the local cache only.
func (p *SharedProxy) Get(key string) (any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, ok := p.cache[key]
	return value, ok
}

// updateSharedVarFunc mirrors the server's built-in alias.
const updateSharedVarFunc = "__update_shared_var__"
