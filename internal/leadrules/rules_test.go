package leadrules

import "testing"

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestEvaluate_AddTagsAndSetStage(t *testing.T) {
	snapshot := LeadSnapshot{Tags: []string{"existing"}, Stage: "new", Score: 0, Source: "whatsapp"}
	ctx := RuleContext{Text: "I want a demo please", Signals: []string{}}
	rules := []Rule{
		{
			ID:      "demo-intent",
			Enabled: true,
			Conditions: Conditions{
				TextIncludes: []string{"demo"},
			},
			Actions: Actions{
				AddTags:  []string{"hot-lead"},
				SetStage: strPtr("qualified"),
			},
			StopOnMatch: true,
		},
	}

	updates, matched := Evaluate(snapshot, ctx, rules)

	if len(matched) != 1 || matched[0].RuleID != "demo-intent" {
		t.Fatalf("expected demo-intent to match, got %+v", matched)
	}
	if updates.Stage == nil || *updates.Stage != "qualified" {
		t.Fatalf("expected stage updated to qualified, got %+v", updates.Stage)
	}
	want := []string{"existing", "hot-lead"}
	if len(updates.Tags) != len(want) {
		t.Fatalf("expected tags %v, got %v", want, updates.Tags)
	}
	for i, tag := range want {
		if updates.Tags[i] != tag {
			t.Fatalf("expected tags %v, got %v", want, updates.Tags)
		}
	}
}

func TestEvaluate_StopOnMatchHaltsLaterRules(t *testing.T) {
	snapshot := LeadSnapshot{Stage: "new", Score: 0}
	ctx := RuleContext{Signals: []string{"pricing_viewed"}}
	rules := []Rule{
		{
			ID:          "first",
			Enabled:     true,
			Conditions:  Conditions{SignalsAny: []string{"pricing_viewed"}},
			Actions:     Actions{SetStage: strPtr("interested")},
			StopOnMatch: true,
		},
		{
			ID:         "second",
			Enabled:    true,
			Conditions: Conditions{SignalsAny: []string{"pricing_viewed"}},
			Actions:    Actions{SetStage: strPtr("converted")},
		},
	}

	updates, matched := Evaluate(snapshot, ctx, rules)

	if len(matched) != 1 || matched[0].RuleID != "first" {
		t.Fatalf("expected only first rule to match, got %+v", matched)
	}
	if updates.Stage == nil || *updates.Stage != "interested" {
		t.Fatalf("expected stage interested, got %+v", updates.Stage)
	}
}

func TestEvaluate_ScoreDeltaAccumulatesAcrossRules(t *testing.T) {
	snapshot := LeadSnapshot{Score: 10}
	ctx := RuleContext{Signals: []string{"email_opened", "link_clicked"}}
	rules := []Rule{
		{ID: "r1", Enabled: true, Conditions: Conditions{SignalsAny: []string{"email_opened"}}, Actions: Actions{ScoreDelta: intPtr(5)}},
		{ID: "r2", Enabled: true, Conditions: Conditions{SignalsAny: []string{"link_clicked"}}, Actions: Actions{ScoreDelta: intPtr(15)}},
	}

	updates, matched := Evaluate(snapshot, ctx, rules)

	if len(matched) != 2 {
		t.Fatalf("expected both rules to match, got %+v", matched)
	}
	if updates.Score == nil || *updates.Score != 30 {
		t.Fatalf("expected score 30, got %+v", updates.Score)
	}
}

func TestEvaluate_SetScoreWinsOverScoreDelta(t *testing.T) {
	snapshot := LeadSnapshot{Score: 10}
	rules := []Rule{
		{ID: "r1", Enabled: true, Actions: Actions{SetScore: intPtr(99), ScoreDelta: intPtr(5)}},
	}

	updates, _ := Evaluate(snapshot, RuleContext{}, rules)

	if updates.Score == nil || *updates.Score != 99 {
		t.Fatalf("expected set_score to win, got %+v", updates.Score)
	}
}

func TestEvaluate_DisabledRuleNeverMatches(t *testing.T) {
	snapshot := LeadSnapshot{Score: 0}
	rules := []Rule{
		{ID: "off", Enabled: false, Actions: Actions{SetScore: intPtr(100)}},
	}

	updates, matched := Evaluate(snapshot, RuleContext{}, rules)

	if len(matched) != 0 {
		t.Fatalf("expected no matches, got %+v", matched)
	}
	if !updates.IsEmpty() {
		t.Fatalf("expected empty updates, got %+v", updates)
	}
}

func TestEvaluate_MinMaxScoreBounds(t *testing.T) {
	min, max := 10, 20
	rules := []Rule{
		{ID: "in-range", Enabled: true, Conditions: Conditions{MinScore: &min, MaxScore: &max}, Actions: Actions{AddTags: []string{"mid-tier"}}},
	}

	below, _ := Evaluate(LeadSnapshot{Score: 5}, RuleContext{}, rules)
	if !below.IsEmpty() {
		t.Fatalf("expected no match below min, got %+v", below)
	}

	within, matched := Evaluate(LeadSnapshot{Score: 15}, RuleContext{}, rules)
	if len(matched) != 1 || len(within.Tags) != 1 {
		t.Fatalf("expected match within range, got %+v / %+v", within, matched)
	}

	above, _ := Evaluate(LeadSnapshot{Score: 25}, RuleContext{}, rules)
	if !above.IsEmpty() {
		t.Fatalf("expected no match above max, got %+v", above)
	}
}

func TestEvaluate_TagsAllRequiresEveryTag(t *testing.T) {
	rules := []Rule{
		{ID: "all-tags", Enabled: true, Conditions: Conditions{TagsAll: []string{"vip", "renewal"}}, Actions: Actions{SetSource: strPtr("account-mgmt")}},
	}

	partial, matched := Evaluate(LeadSnapshot{Tags: []string{"vip"}}, RuleContext{}, rules)
	if len(matched) != 0 || !partial.IsEmpty() {
		t.Fatalf("expected no match with partial tags, got %+v", partial)
	}

	full, matched := Evaluate(LeadSnapshot{Tags: []string{"vip", "renewal"}}, RuleContext{}, rules)
	if len(matched) != 1 || full.Source == nil || *full.Source != "account-mgmt" {
		t.Fatalf("expected match with full tag set, got %+v", full)
	}
}

func TestEvaluate_RemoveTagsAppliesAfterAddTags(t *testing.T) {
	rules := []Rule{
		{ID: "swap", Enabled: true, Actions: Actions{AddTags: []string{"a", "b"}, RemoveTags: []string{"b"}}},
	}

	updates, _ := Evaluate(LeadSnapshot{Tags: []string{}}, RuleContext{}, rules)

	if len(updates.Tags) != 1 || updates.Tags[0] != "a" {
		t.Fatalf("expected tags [a], got %v", updates.Tags)
	}
}

func TestEvaluate_AssignQueueSetsMetadata(t *testing.T) {
	rules := []Rule{
		{ID: "route", Enabled: true, Actions: Actions{AssignQueue: strPtr("sales-priority")}},
	}

	updates, _ := Evaluate(LeadSnapshot{Metadata: map[string]any{}}, RuleContext{}, rules)

	if updates.Metadata == nil || updates.Metadata["assignment_queue"] != "sales-priority" {
		t.Fatalf("expected assignment_queue metadata set, got %+v", updates.Metadata)
	}
}

// Idempotence (P3): evaluating the same snapshot/context/rules twice
// produces identical diffs.
func TestEvaluate_Idempotent(t *testing.T) {
	snapshot := LeadSnapshot{Tags: []string{"existing"}, Stage: "new", Score: 5, Source: "whatsapp"}
	ctx := RuleContext{Text: "interested in demo", Signals: []string{"pricing_viewed"}}
	rules := []Rule{
		{ID: "demo-intent", Enabled: true, Conditions: Conditions{TextIncludes: []string{"demo"}}, Actions: Actions{AddTags: []string{"hot-lead"}, ScoreDelta: intPtr(10)}},
	}

	first, firstMatched := Evaluate(snapshot, ctx, rules)
	second, secondMatched := Evaluate(snapshot, ctx, rules)

	if len(firstMatched) != len(secondMatched) {
		t.Fatalf("expected identical match count, got %d vs %d", len(firstMatched), len(secondMatched))
	}
	if (first.Score == nil) != (second.Score == nil) || *first.Score != *second.Score {
		t.Fatalf("expected identical score diff across calls, got %+v vs %+v", first.Score, second.Score)
	}
}

func TestEvaluate_NoRulesProducesEmptyDiff(t *testing.T) {
	updates, matched := Evaluate(LeadSnapshot{Score: 1}, RuleContext{}, nil)
	if !updates.IsEmpty() || len(matched) != 0 {
		t.Fatalf("expected empty diff with no rules, got %+v / %+v", updates, matched)
	}
}
