package twitch

import "sync"

// Factory hands out one Client per set of tenant credentials so the token
// cache and rate limiter survive across monitoring cycles.
type Factory struct {
	opts Options

	mu      sync.Mutex
	clients map[string]*cachedClient
}

type cachedClient struct {
	secret string
	client *Client
}

// NewFactory creates a client factory sharing the given options.
func NewFactory(opts Options) *Factory {
	return &Factory{opts: opts, clients: make(map[string]*cachedClient)}
}

// For returns the client for the credentials, building a new one when the
// secret changed since the last call.
func (f *Factory) For(clientID, clientSecret string) *Client {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.clients[clientID]; ok && cached.secret == clientSecret {
		return cached.client
	}
	c := NewClient(clientID, clientSecret, f.opts)
	f.clients[clientID] = &cachedClient{secret: clientSecret, client: c}
	return c
}
