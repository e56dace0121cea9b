package llm

import "fmt"

// Registry holds the configured provider clients keyed by provider id.
// Built once at startup from configuration; read-only afterwards so tests
// can substitute providers without process-wide side effects.
type Registry struct {
	clients    map[string]Client
	defaultKey string
}

// NewRegistry builds a registry from pre-constructed clients.
func NewRegistry(clients map[string]Client, defaultKey string) (*Registry, error) {
	if len(clients) == 0 {
		return nil, fmt.Errorf("at least one llm provider must be configured")
	}
	if _, ok := clients[defaultKey]; !ok {
		return nil, fmt.Errorf("default provider %q is not among configured providers", defaultKey)
	}

	return &Registry{clients: clients, defaultKey: defaultKey}, nil
}

// Get resolves a provider client by key; empty key selects the default.
func (r *Registry) Get(key string) (Client, error) {
	if key == "" {
		key = r.defaultKey
	}

	client, ok := r.clients[key]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q", key)
	}

	return client, nil
}

// DefaultKey returns the id of the default provider.
func (r *Registry) DefaultKey() string { return r.defaultKey }

// Keys lists the configured provider ids.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.clients))
	for key := range r.clients {
		keys = append(keys, key)
	}
	return keys
}
