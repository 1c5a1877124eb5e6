package channel

import (
	"fmt"
	"strings"
	"sync"
)

// Registry holds all registered channel senders. It must be created via
// NewRegistry and passed explicitly to components that need it.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{senders: map[string]Sender{}}
}

// Register adds a sender to the registry.
func (r *Registry) Register(sender Sender) error {
	if sender == nil {
		return fmt.Errorf("sender is nil")
	}
	ct := strings.ToLower(strings.TrimSpace(sender.Type()))
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.senders[ct]; exists {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.senders[ct] = sender
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(sender Sender) {
	if err := r.Register(sender); err != nil {
		panic(err)
	}
}

// Get returns the sender for the given channel type.
func (r *Registry) Get(channelType string) (Sender, bool) {
	ct := strings.ToLower(strings.TrimSpace(channelType))
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[ct]
	return sender, ok
}

// Types returns the registered channel types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.senders))
	for ct := range r.senders {
		types = append(types, ct)
	}
	return types
}
