// Package agentrt declares the contract a future tool_call journey node
// would invoke. No implementation exists in this core: agent tool
// registries and LLM routing quality are external collaborators, not
// something this substrate provides. The interface exists so a journey
// graph can name a tool_call node today (see
// internal/journeys/engine.NodeToolCall) without a wire-format change
// once a concrete tool runtime lands.
package agentrt

import "context"

// Callable is one named tool a tool_call node's config can reference.
type Callable interface {
	// Name is the tool key a journey's tool_call node config references.
	Name() string
	// Call invokes the tool with its resolved arguments and returns a
	// result to merge into the run's step output.
	Call(ctx context.Context, args map[string]any) (map[string]any, error)
}
