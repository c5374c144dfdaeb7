// Package knowledge declares the contract a future knowledge-base
// lookup would implement to ground AI-assisted replies. No
// implementation exists in this core (see jobs.TaskKnowledgeSync's
// no-op handler) — knowledge retrieval quality is an explicit
// Non-goal. The interface is kept so the knowledge.sync job contract
// has a concrete consumer shape to target later without a wire-format
// change.
package knowledge

import "context"

// Retriever returns the passages most relevant to a query within an
// organization's knowledge base.
type Retriever interface {
	Retrieve(ctx context.Context, organizationID string, query string, topK int) ([]string, error)
}
