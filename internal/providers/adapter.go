// Package providers implements the channel provider adapter registry (C1):
// a process-local, lock-guarded map of named adapters that normalize
// provider-shaped payloads into the canonical InboundMessage, send
// outbound text, and map provider status callbacks onto the Message
// status taxonomy.
package providers

import (
	"context"
	"sync"
	"time"
)

// InboundMessage is the canonical shape every adapter normalizes a
// provider-shaped inbound payload into.
type InboundMessage struct {
	ExternalID       string
	SenderExternalID string
	SenderName       string
	Timestamp        time.Time
	Text             string
	Raw              []byte
}

// StatusUpdate is the canonical shape every adapter normalizes a
// provider-shaped status callback into.
type StatusUpdate struct {
	ProviderMessageID string
	Status            string // sent|delivered|read|failed, or "" if unrecognized
}

// Adapter is the four-operation contract a channel provider implements.
// SendText may be unimplemented by inbound-only adapters; callers check
// CanSend before invoking it.
type Adapter interface {
	// Name is the provider_name key the adapter is registered under.
	Name() string
	// ParseInbound normalizes a raw provider payload into an InboundMessage.
	// Returns an apperr validation error if sender_external_id cannot be
	// extracted.
	ParseInbound(ctx context.Context, raw []byte) (InboundMessage, error)
	// BuildMockPayload constructs a raw payload shaped like this provider's
	// wire format, for developer-only inbound simulation.
	BuildMockPayload(senderExternalID, senderName, text string) []byte
	// CanSend reports whether SendText is implemented.
	CanSend() bool
	// SendText delivers outbound text through the provider and returns the
	// provider's message identifier for later status reconciliation.
	SendText(ctx context.Context, channelConfig map[string]string, to, text string) (providerMessageID string, err error)
	// ParseStatus normalizes a raw provider status callback.
	ParseStatus(ctx context.Context, raw []byte) (StatusUpdate, error)
}

// Registry is a process-local lookup of adapters by provider name,
// registered once at composition root in cmd/api and cmd/worker.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for its Name().
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Lookup returns the adapter registered for providerName, or ok=false if
// none is registered (UnknownProvider at the call site).
func (r *Registry) Lookup(providerName string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[providerName]
	return adapter, ok
}
