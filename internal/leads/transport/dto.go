// Package transport defines the HTTP wire types for the leads module.
package transport

import (
	"time"

	"github.com/google/uuid"
)

// ListLeadsRequest is the query binding for GET /v1/leads.
type ListLeadsRequest struct {
	Stage  string `form:"stage"`
	Source string `form:"source"`
	Tag    string `form:"tag"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// LeadResponse is the wire representation of a Lead.
type LeadResponse struct {
	ID             uuid.UUID      `json:"id"`
	ContactID      uuid.UUID      `json:"contactId"`
	Stage          string         `json:"stage"`
	Tags           []string       `json:"tags"`
	Score          int            `json:"score"`
	Source         string         `json:"source,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	LastActivityAt time.Time      `json:"lastActivityAt"`
	ConvertedAt    *time.Time     `json:"convertedAt,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// ListLeadsResponse is the paginated result for GET /v1/leads.
type ListLeadsResponse struct {
	Leads []LeadResponse `json:"leads"`
	Total int            `json:"total"`
}

// SignalsRequest is the body for POST /v1/leads/:id/signals.
type SignalsRequest struct {
	Signals []string `json:"signals"`
	Text    string   `json:"text"`
}

// SignalsResponse reports the outcome of applying signals: the
// resulting lead state and which rules matched.
type SignalsResponse struct {
	Lead         LeadResponse `json:"lead"`
	MatchedRules []string     `json:"matchedRules"`
}

// RuleConditionsDTO mirrors leadrules.Conditions for the wire format.
type RuleConditionsDTO struct {
	TextIncludes []string `json:"text_includes,omitempty"`
	SignalsAny   []string `json:"signals_any,omitempty"`
	TagsAny      []string `json:"tags_any,omitempty"`
	TagsAll      []string `json:"tags_all,omitempty"`
	StageIn      []string `json:"stage_in,omitempty"`
	SourceIn     []string `json:"source_in,omitempty"`
	MinScore     *int     `json:"min_score,omitempty"`
	MaxScore     *int     `json:"max_score,omitempty"`
}

// RuleActionsDTO mirrors leadrules.Actions for the wire format.
type RuleActionsDTO struct {
	AddTags     []string `json:"add_tags,omitempty"`
	RemoveTags  []string `json:"remove_tags,omitempty"`
	SetStage    *string  `json:"set_stage,omitempty"`
	SetScore    *int     `json:"set_score,omitempty"`
	ScoreDelta  *int     `json:"score_delta,omitempty"`
	AssignQueue *string  `json:"assign_queue,omitempty"`
	SetSource   *string  `json:"set_source,omitempty"`
}

// RuleDTO is the wire representation of a lead rule.
type RuleDTO struct {
	ID          uuid.UUID         `json:"id,omitempty"`
	Enabled     bool              `json:"enabled"`
	Priority    int               `json:"priority"`
	StopOnMatch bool              `json:"stop_on_match"`
	Conditions  RuleConditionsDTO `json:"conditions"`
	Actions     RuleActionsDTO    `json:"actions"`
}

// PutRulesRequest is the body for PUT /v1/lead-rules: the complete
// ordered rule set for the caller's organization.
type PutRulesRequest struct {
	Rules []RuleDTO `json:"rules"`
}

// RulesResponse is the response for GET/PUT /v1/lead-rules.
type RulesResponse struct {
	Rules []RuleDTO `json:"rules"`
}
