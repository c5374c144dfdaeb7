// Package attribution implements the C5 multi-touch credit-split
// engine: a pure function over an ordered touchpoint sequence and a
// credit model, mirroring internal/leadrules's no-I/O, deterministic
// shape. Touchpoint loading, conversion detection, and persistence
// live in internal/analytics, which calls Split and writes the result.
package attribution

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Model names the credit-split strategy.
type Model string

const (
	ModelFirstTouch Model = "first_touch"
	ModelLastTouch  Model = "last_touch"
	ModelLinear     Model = "linear"
)

// TouchpointKind distinguishes an outbound Message touchpoint from a
// journey send_message step touchpoint. Per the Open Question (a)
// decision in SPEC_FULL.md §9, a journey step is not a separate
// touchpoint: internal/analytics builds one touchpoint per outbound
// Message, marked TouchpointJourneyStep when a journey step created it,
// and Dedup keeps one entry per Message id.
type TouchpointKind string

const (
	TouchpointMessage     TouchpointKind = "message"
	TouchpointJourneyStep TouchpointKind = "journey_step"
)

// Touchpoint is one outbound interaction eligible for attribution
// credit within a conversion's lookback window.
type Touchpoint struct {
	Ref       string
	Kind      TouchpointKind
	MessageID uuid.UUID
	Timestamp time.Time
}

// Credit is one row of the credit-split result for a single touchpoint.
type Credit struct {
	TouchpointRef string
	Weight        float64
}

// Sort orders touchpoints by timestamp ascending, ties broken by Ref
// ascending, matching spec.md §4.5's ordering rule. Callers should sort
// before calling Split so tie-breaking is stable and callers that only
// need the ordered set can reuse this directly.
func Sort(points []Touchpoint) []Touchpoint {
	out := append([]Touchpoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Ref < out[j].Ref
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Split computes per-touchpoint credit weights under a model. points
// must already be in the canonical order (see Sort); Split does not
// re-sort so callers control tie-breaking explicitly. Returns nil for
// N=0 (no Attribution rows written), per spec.md §4.5. The function is
// pure: it performs no I/O and never returns an error — an unknown
// model yields no credits rather than a panic, matching C2's "never
// throws" design.
func Split(points []Touchpoint, model Model) []Credit {
	n := len(points)
	if n == 0 {
		return nil
	}

	switch model {
	case ModelFirstTouch:
		return []Credit{{TouchpointRef: points[0].Ref, Weight: 1}}
	case ModelLastTouch:
		return []Credit{{TouchpointRef: points[n-1].Ref, Weight: 1}}
	case ModelLinear:
		weight := 1.0 / float64(n)
		credits := make([]Credit, n)
		for i, p := range points {
			credits[i] = Credit{TouchpointRef: p.Ref, Weight: weight}
		}
		return credits
	default:
		return nil
	}
}

// Dedup removes touchpoints that share the same underlying Message id:
// a journey send_message step and the Message it created are the same
// send, so only one touchpoint is kept for it. The Message-kind entry
// wins so Ref is stable regardless of which source is scanned first.
func Dedup(points []Touchpoint) []Touchpoint {
	byMessage := make(map[uuid.UUID]Touchpoint, len(points))
	var order []uuid.UUID
	for _, p := range points {
		existing, ok := byMessage[p.MessageID]
		if !ok {
			byMessage[p.MessageID] = p
			order = append(order, p.MessageID)
			continue
		}
		if existing.Kind == TouchpointJourneyStep && p.Kind == TouchpointMessage {
			byMessage[p.MessageID] = p
		}
	}
	out := make([]Touchpoint, 0, len(order))
	for _, id := range order {
		out = append(out, byMessage[id])
	}
	return out
}
