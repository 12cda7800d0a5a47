package rollup

import (
	"sort"
	"sync"
)

// Network names a rollup deployment.
type Network string

const (
	NetworkMainnet   Network = "mainnet"
	NetworkTestnet   Network = "testnet"
	NetworkLocalhost Network = "localhost"
	NetworkUnknown   Network = "unknown"
)

// NetworkInfo describes a supported network.
type NetworkInfo struct {
	Name Network
	// ChainID of the base chain the rollup settles on.
	ChainID uint64
	// MinPollInterval is the smallest TxInfo polling interval the node tolerates.
	MinPollIntervalMS int
}

// NetworkRegistry holds the networks the simulator knows how to drive.
// It is safe for concurrent use.
type NetworkRegistry struct {
	mu      sync.RWMutex
	entries map[Network]*NetworkInfo
}

// NewNetworkRegistry creates an empty registry.
func NewNetworkRegistry() *NetworkRegistry {
	return &NetworkRegistry{
		entries: make(map[Network]*NetworkInfo),
	}
}

// Register adds or replaces a network definition.
func (r *NetworkRegistry) Register(info *NetworkInfo) {
	if info == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Name] = info
}

// Get returns the network definition, or nil if unknown.
func (r *NetworkRegistry) Get(name Network) *NetworkInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[name]
}

// Names returns the registered network names, sorted.
func (r *NetworkRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Validate returns a NetworkNotSupported error for unregistered networks.
func (r *NetworkRegistry) Validate(name Network) error {
	if r.Get(name) == nil {
		return NewError(KindNetworkNotSupported, string(name))
	}
	return nil
}

// DefaultNetworks returns a registry with the public deployments and a local devnet.
func DefaultNetworks() *NetworkRegistry {
	r := NewNetworkRegistry()
	r.Register(&NetworkInfo{Name: NetworkMainnet, ChainID: 30, MinPollIntervalMS: 1000})
	r.Register(&NetworkInfo{Name: NetworkTestnet, ChainID: 31, MinPollIntervalMS: 1000})
	r.Register(&NetworkInfo{Name: NetworkLocalhost, ChainID: 33, MinPollIntervalMS: 10})
	return r
}
