// Package engine implements the journey graph's pure, side-effect-free
// logic: node/trigger config shapes, entry-node resolution, branch
// selection, and condition evaluation. Like internal/leadrules, it
// performs no I/O — internal/journeys/service drives it against state
// loaded from the repository.
package engine

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Node types.
const (
	NodeSendMessage = "send_message"
	NodeDelay       = "delay"
	NodeCondition   = "condition"
	NodeTagUpdate   = "tag_update"
	NodeWebhook     = "webhook"
	// NodeToolCall is accepted as a valid node type in a journey graph but
	// has no executor: agent tool-calling is an external collaborator,
	// not a capability this core implements. See internal/agentrt.
	NodeToolCall = "tool_call"
)

// Trigger types.
const (
	TriggerInboundMessage = "inbound_message"
	TriggerTagChange      = "tag_change"
	TriggerStageChange    = "stage_change"
	TriggerTime           = "time"
)

// Branch labels a condition node's outgoing edges carry.
const (
	LabelTrue  = "true"
	LabelFalse = "false"
)

// Node is one vertex of a journey graph. Config is kept as a raw
// key/value map rather than a tagged union so unknown future node
// kinds round-trip through storage without losing data; kind-specific
// config is decoded on demand via the As* helpers.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// Edge connects two nodes. Label disambiguates a condition node's
// branches ("true"/"false"); edges from other node types normally omit
// it.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Trigger is one of a journey's entry conditions.
type Trigger struct {
	Type                 string     `json:"type"`
	TextIncludes         string     `json:"text_includes,omitempty"`
	TagsAny              []string   `json:"tags_any,omitempty"`
	Stages               []string   `json:"stages,omitempty"`
	ScheduledAt          *time.Time `json:"scheduled_at,omitempty"`
	LastActiveWithinDays *int       `json:"last_active_within_days,omitempty"`
}

// SendMessageConfig is the send_message node's decoded config.
type SendMessageConfig struct {
	ChannelID uuid.UUID
	Text      string
}

// DelayConfig is the delay node's decoded config.
type DelayConfig struct {
	DelayMinutes int
}

// ConditionConfig is the condition node's decoded config.
type ConditionConfig struct {
	TagsAny      []string
	TextIncludes string
	MinScore     *int
}

// TagUpdateConfig is the tag_update node's decoded config.
type TagUpdateConfig struct {
	AddTags    []string
	RemoveTags []string
	SetStage   *string
}

// WebhookConfig is the webhook node's decoded config.
type WebhookConfig struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// LeadContext is the subset of Lead state condition nodes evaluate
// against.
type LeadContext struct {
	Tags  []string
	Score int
}

// TriggerEvent carries the inputs a non-time trigger type matches
// against. Time triggers carry no TriggerEvent shape: TriggerMatches
// returns false for them and no sweep evaluates them, so a time
// trigger never starts a run.
type TriggerEvent struct {
	Type  string
	Text  string
	Tags  []string
	Stage string
}

// AsSendMessage decodes a send_message node's config.
func AsSendMessage(cfg map[string]any) (SendMessageConfig, bool) {
	idStr, _ := cfg["channel_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		return SendMessageConfig{}, false
	}
	text, _ := cfg["text"].(string)
	return SendMessageConfig{ChannelID: id, Text: text}, true
}

// AsDelay decodes a delay node's config.
func AsDelay(cfg map[string]any) DelayConfig {
	minutes := 0
	switch v := cfg["delay_minutes"].(type) {
	case float64:
		minutes = int(v)
	case int:
		minutes = v
	}
	return DelayConfig{DelayMinutes: minutes}
}

// AsCondition decodes a condition node's config.
func AsCondition(cfg map[string]any) ConditionConfig {
	var out ConditionConfig
	out.TagsAny = stringSlice(cfg["tags_any"])
	out.TextIncludes, _ = cfg["text_includes"].(string)
	if v, ok := cfg["min_score"].(float64); ok {
		score := int(v)
		out.MinScore = &score
	}
	return out
}

// AsTagUpdate decodes a tag_update node's config.
func AsTagUpdate(cfg map[string]any) TagUpdateConfig {
	var out TagUpdateConfig
	out.AddTags = stringSlice(cfg["add_tags"])
	out.RemoveTags = stringSlice(cfg["remove_tags"])
	if v, ok := cfg["set_stage"].(string); ok && v != "" {
		out.SetStage = &v
	}
	return out
}

// AsWebhook decodes a webhook node's config.
func AsWebhook(cfg map[string]any) WebhookConfig {
	var out WebhookConfig
	out.URL, _ = cfg["url"].(string)
	out.Method, _ = cfg["method"].(string)
	if out.Method == "" {
		out.Method = "POST"
	}
	out.Body, _ = cfg["body"].(string)
	if raw, ok := cfg["headers"].(map[string]any); ok {
		out.Headers = make(map[string]string, len(raw))
		for k, v := range raw {
			if s, ok := v.(string); ok {
				out.Headers[k] = s
			}
		}
	}
	return out
}

// EntryNode returns the node with no incoming edge, the graph's
// traversal start. When several nodes qualify, the first one in node
// order is chosen so traversal is deterministic.
func EntryNode(nodes []Node, edges []Edge) (string, bool) {
	hasIncoming := make(map[string]bool, len(edges))
	for _, e := range edges {
		hasIncoming[e.To] = true
	}
	for _, n := range nodes {
		if !hasIncoming[n.ID] {
			return n.ID, true
		}
	}
	return "", false
}

// NextEdge resolves the outgoing edge from fromNodeID given a label
// ("" for non-branching nodes). If exactly one edge carries the
// requested label, it is returned. If the label is empty, every
// outgoing edge (labeled or not) is a candidate. If no edge carries a
// non-empty requested label, every outgoing edge becomes a candidate
// instead. Exactly one candidate is returned; multiple candidates yield
// ambiguous=true; zero candidates yield ok=false.
func NextEdge(edges []Edge, fromNodeID, label string) (toNodeID string, ok bool, ambiguous bool) {
	var candidates []Edge
	for _, e := range edges {
		if e.From != fromNodeID {
			continue
		}
		if label != "" && e.Label == label {
			candidates = append(candidates, e)
		} else if label == "" {
			candidates = append(candidates, e)
		}
	}
	if label != "" && len(candidates) == 0 {
		// No edge carries the requested label; fall back to any single
		// outgoing edge per spec.md §4.4's condition fallback rule.
		for _, e := range edges {
			if e.From == fromNodeID {
				candidates = append(candidates, e)
			}
		}
	}
	switch len(candidates) {
	case 0:
		return "", false, false
	case 1:
		return candidates[0].To, true, false
	default:
		return "", false, true
	}
}

// EvaluateCondition evaluates a condition node and returns the branch
// label to follow.
func EvaluateCondition(cfg ConditionConfig, lead LeadContext, triggerText string) string {
	if len(cfg.TagsAny) > 0 && !intersects(cfg.TagsAny, lead.Tags) {
		return LabelFalse
	}
	if cfg.TextIncludes != "" && !strings.Contains(strings.ToLower(triggerText), strings.ToLower(cfg.TextIncludes)) {
		return LabelFalse
	}
	if cfg.MinScore != nil && lead.Score < *cfg.MinScore {
		return LabelFalse
	}
	return LabelTrue
}

// TriggerMatches evaluates a non-time trigger against an event.
func TriggerMatches(t Trigger, ev TriggerEvent) bool {
	if t.Type != ev.Type {
		return false
	}
	switch ev.Type {
	case TriggerInboundMessage:
		return t.TextIncludes == "" || strings.Contains(strings.ToLower(ev.Text), strings.ToLower(t.TextIncludes))
	case TriggerTagChange:
		return len(t.TagsAny) == 0 || intersects(t.TagsAny, ev.Tags)
	case TriggerStageChange:
		return len(t.Stages) == 0 || contains(t.Stages, ev.Stage)
	default:
		return false
	}
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[v] = true
	}
	for _, v := range a {
		if set[v] {
			return true
		}
	}
	return false
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
