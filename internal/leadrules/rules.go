// Package leadrules implements the lead rule engine (C2): a pure,
// side-effect-free function that applies an ordered list of declarative
// rules to a lead snapshot plus evaluation context and produces a
// minimal diff of changed fields. The engine performs no I/O — it is
// evaluated by internal/leads against a snapshot read from the
// repository, and the diff is written back by the caller.
package leadrules

import "strings"

// LeadSnapshot is the subset of Lead state rule conditions/actions read
// from and write to.
type LeadSnapshot struct {
	Tags     []string
	Stage    string
	Score    int
	Source   string
	Metadata map[string]any
}

// RuleContext carries the per-call inputs a rule's conditions are
// evaluated against, distinct from the lead's persisted state.
type RuleContext struct {
	Text    string
	Signals []string
}

// Conditions are ANDed together; an empty list is vacuously true.
type Conditions struct {
	TextIncludes []string `json:"text_includes,omitempty"`
	SignalsAny   []string `json:"signals_any,omitempty"`
	TagsAny      []string `json:"tags_any,omitempty"`
	TagsAll      []string `json:"tags_all,omitempty"`
	StageIn      []string `json:"stage_in,omitempty"`
	SourceIn     []string `json:"source_in,omitempty"`
	MinScore     *int     `json:"min_score,omitempty"`
	MaxScore     *int     `json:"max_score,omitempty"`
}

// Actions are applied in the fixed order documented on Evaluate.
type Actions struct {
	AddTags     []string `json:"add_tags,omitempty"`
	RemoveTags  []string `json:"remove_tags,omitempty"`
	SetStage    *string  `json:"set_stage,omitempty"`
	SetScore    *int     `json:"set_score,omitempty"`
	ScoreDelta  *int     `json:"score_delta,omitempty"`
	AssignQueue *string  `json:"assign_queue,omitempty"`
	SetSource   *string  `json:"set_source,omitempty"`
}

// Rule is one declarative rule entry. ID is optional (rules without a
// persisted identity, e.g. in tests, still evaluate).
type Rule struct {
	ID          string
	Enabled     bool
	Conditions  Conditions
	Actions     Actions
	StopOnMatch bool
	Priority    int
}

// Updates is the minimal diff produced by Evaluate: only fields a
// matched rule actually changed are non-nil/non-empty.
type Updates struct {
	Tags     []string
	Stage    *string
	Score    *int
	Source   *string
	Metadata map[string]any
}

// IsEmpty reports whether no rule produced any change.
func (u Updates) IsEmpty() bool {
	return u.Tags == nil && u.Stage == nil && u.Score == nil && u.Source == nil && len(u.Metadata) == 0
}

// MatchedRule records a rule that matched, for the caller to persist
// as an audit trail.
type MatchedRule struct {
	RuleID string
}

// Evaluate applies rules in order to snapshot+context and returns the
// minimal diff plus the list of matched rule references. The function
// is pure: identical inputs always yield identical outputs (P3), and it
// never returns an error — malformed individual rules are skipped
// rather than aborting evaluation, per spec.md §7 ("rule evaluation
// never throws").
func Evaluate(snapshot LeadSnapshot, ctx RuleContext, rules []Rule) (Updates, []MatchedRule) {
	working := snapshot
	var matched []MatchedRule

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if !matches(rule.Conditions, working, ctx) {
			continue
		}

		working = applyActions(working, rule.Actions)
		matched = append(matched, MatchedRule{RuleID: rule.ID})

		if rule.StopOnMatch {
			break
		}
	}

	return diff(snapshot, working), matched
}

func matches(c Conditions, lead LeadSnapshot, ctx RuleContext) bool {
	if len(c.TextIncludes) > 0 && !anyCaseInsensitiveSubstring(ctx.Text, c.TextIncludes) {
		return false
	}
	if len(c.SignalsAny) > 0 && !intersects(c.SignalsAny, ctx.Signals) {
		return false
	}
	if len(c.TagsAny) > 0 && !intersects(c.TagsAny, lead.Tags) {
		return false
	}
	if len(c.TagsAll) > 0 && !containsAll(lead.Tags, c.TagsAll) {
		return false
	}
	if len(c.StageIn) > 0 && !contains(c.StageIn, lead.Stage) {
		return false
	}
	if len(c.SourceIn) > 0 && !contains(c.SourceIn, lead.Source) {
		return false
	}
	score := lead.Score
	if c.MinScore != nil && score < *c.MinScore {
		return false
	}
	if c.MaxScore != nil && score > *c.MaxScore {
		return false
	}
	return true
}

// applyActions applies one rule's actions to a working copy in the
// fixed order from spec.md §4.2: add_tags, remove_tags, set_stage,
// set_score (wins over score_delta), assign_queue, set_source.
func applyActions(lead LeadSnapshot, a Actions) LeadSnapshot {
	next := lead
	next.Tags = append([]string(nil), lead.Tags...)
	next.Metadata = cloneMetadata(lead.Metadata)

	if len(a.AddTags) > 0 {
		next.Tags = unionTags(next.Tags, a.AddTags)
	}
	if len(a.RemoveTags) > 0 {
		next.Tags = subtractTags(next.Tags, a.RemoveTags)
	}
	if a.SetStage != nil {
		next.Stage = *a.SetStage
	}
	if a.SetScore != nil {
		next.Score = *a.SetScore
	} else if a.ScoreDelta != nil {
		next.Score += *a.ScoreDelta
	}
	if a.AssignQueue != nil {
		next.Metadata["assignment_queue"] = *a.AssignQueue
	}
	if a.SetSource != nil {
		next.Source = *a.SetSource
	}
	return next
}

// diff computes the minimal set of changed fields between before and after.
func diff(before, after LeadSnapshot) Updates {
	var u Updates
	if !equalStringSlices(before.Tags, after.Tags) {
		u.Tags = after.Tags
	}
	if before.Stage != after.Stage {
		stage := after.Stage
		u.Stage = &stage
	}
	if before.Score != after.Score {
		score := after.Score
		u.Score = &score
	}
	if before.Source != after.Source {
		source := after.Source
		u.Source = &source
	}
	if changedMetadata := metadataDiff(before.Metadata, after.Metadata); len(changedMetadata) > 0 {
		u.Metadata = changedMetadata
	}
	return u
}

func metadataDiff(before, after map[string]any) map[string]any {
	changed := make(map[string]any)
	for k, v := range after {
		if bv, ok := before[k]; !ok || bv != v {
			changed[k] = v
		}
	}
	return changed
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func unionTags(existing, add []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, t := range existing {
		seen[t] = true
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func subtractTags(existing, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, t := range remove {
		drop[t] = true
	}
	out := make([]string, 0, len(existing))
	for _, t := range existing {
		if !drop[t] {
			out = append(out, t)
		}
	}
	return out
}

func anyCaseInsensitiveSubstring(text string, candidates []string) bool {
	lower := strings.ToLower(text)
	for _, c := range candidates {
		if strings.Contains(lower, strings.ToLower(c)) {
			return true
		}
	}
	return false
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

func containsAll(haystack, needles []string) bool {
	set := make(map[string]bool, len(haystack))
	for _, v := range haystack {
		set[v] = true
	}
	for _, n := range needles {
		if !set[n] {
			return false
		}
	}
	return true
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
