package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coinvault/backend/internal/models"
)

// Registry maps currency symbols to their adapters. Adapters register at
// startup; a duplicate symbol is a configuration error, not a runtime race.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]CoinAdapter
	disabled map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]CoinAdapter),
		disabled: make(map[string]bool),
	}
}

// Register adds an adapter. It fails if the symbol is already taken.
func (r *Registry) Register(a CoinAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbol := a.Symbol()
	if _, exists := r.adapters[symbol]; exists {
		return fmt.Errorf("adapter for symbol %q already registered", symbol)
	}
	r.adapters[symbol] = a
	return nil
}

// Get returns the enabled adapter for symbol, or ErrAdapterDisabled.
func (r *Registry) Get(symbol string) (CoinAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[symbol]
	if !ok || r.disabled[symbol] {
		return nil, models.ErrAdapterDisabled
	}
	return a, nil
}

// SetEnabled toggles a symbol without unregistering its adapter.
func (r *Registry) SetEnabled(symbol string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[symbol] = !enabled
}

// Symbols returns the enabled symbols in stable order.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make([]string, 0, len(r.adapters))
	for s := range r.adapters {
		if !r.disabled[s] {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	return symbols
}
