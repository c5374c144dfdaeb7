package engine

import "testing"

func TestEntryNode_PicksNodeWithNoIncomingEdge(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	edges := []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}}

	entry, ok := EntryNode(nodes, edges)
	if !ok || entry != "a" {
		t.Fatalf("expected entry a, got %q ok=%v", entry, ok)
	}
}

func TestEntryNode_EmptyGraphYieldsNotOK(t *testing.T) {
	if _, ok := EntryNode(nil, nil); ok {
		t.Fatalf("expected ok=false for empty graph")
	}
}

func TestNextEdge_SingleUnlabeledEdge(t *testing.T) {
	edges := []Edge{{From: "a", To: "b"}}
	to, ok, ambiguous := NextEdge(edges, "a", "")
	if !ok || ambiguous || to != "b" {
		t.Fatalf("expected to=b ok=true ambiguous=false, got to=%q ok=%v ambiguous=%v", to, ok, ambiguous)
	}
}

func TestNextEdge_LabeledBranchSelectsMatchingEdge(t *testing.T) {
	edges := []Edge{
		{From: "c", To: "d", Label: "true"},
		{From: "c", To: "e", Label: "false"},
	}
	to, ok, ambiguous := NextEdge(edges, "c", "true")
	if !ok || ambiguous || to != "d" {
		t.Fatalf("expected to=d, got to=%q ok=%v ambiguous=%v", to, ok, ambiguous)
	}
}

func TestNextEdge_MissingLabelFallsBackToSingleEdge(t *testing.T) {
	edges := []Edge{{From: "c", To: "d"}}
	to, ok, ambiguous := NextEdge(edges, "c", "true")
	if !ok || ambiguous || to != "d" {
		t.Fatalf("expected fallback to single edge, got to=%q ok=%v ambiguous=%v", to, ok, ambiguous)
	}
}

func TestNextEdge_MultipleUnlabeledEdgesAreAmbiguous(t *testing.T) {
	edges := []Edge{{From: "c", To: "d"}, {From: "c", To: "e"}}
	_, ok, ambiguous := NextEdge(edges, "c", "")
	if ok || !ambiguous {
		t.Fatalf("expected ambiguous branch, got ok=%v ambiguous=%v", ok, ambiguous)
	}
}

func TestNextEdge_NoOutgoingEdgeYieldsNotOK(t *testing.T) {
	_, ok, ambiguous := NextEdge(nil, "z", "")
	if ok || ambiguous {
		t.Fatalf("expected ok=false ambiguous=false for terminal node")
	}
}

func TestEvaluateCondition_TagsAnyFalseBranch(t *testing.T) {
	cfg := ConditionConfig{TagsAny: []string{"purchase"}}
	label := EvaluateCondition(cfg, LeadContext{Tags: []string{"browsing"}}, "")
	if label != LabelFalse {
		t.Fatalf("expected false branch, got %q", label)
	}
}

func TestEvaluateCondition_TagsAnyTrueBranch(t *testing.T) {
	cfg := ConditionConfig{TagsAny: []string{"purchase"}}
	label := EvaluateCondition(cfg, LeadContext{Tags: []string{"purchase"}}, "")
	if label != LabelTrue {
		t.Fatalf("expected true branch, got %q", label)
	}
}

func TestEvaluateCondition_NoConditionsYieldsTrue(t *testing.T) {
	label := EvaluateCondition(ConditionConfig{}, LeadContext{}, "")
	if label != LabelTrue {
		t.Fatalf("expected true branch with no conditions, got %q", label)
	}
}

func TestTriggerMatches_InboundMessageTextIncludes(t *testing.T) {
	trig := Trigger{Type: TriggerInboundMessage, TextIncludes: "price"}
	if !TriggerMatches(trig, TriggerEvent{Type: TriggerInboundMessage, Text: "what is the Price?"}) {
		t.Fatalf("expected case-insensitive substring match")
	}
	if TriggerMatches(trig, TriggerEvent{Type: TriggerInboundMessage, Text: "hello"}) {
		t.Fatalf("expected no match for unrelated text")
	}
}

func TestTriggerMatches_TypeMismatchNeverMatches(t *testing.T) {
	trig := Trigger{Type: TriggerStageChange, Stages: []string{"converted"}}
	if TriggerMatches(trig, TriggerEvent{Type: TriggerInboundMessage, Text: "anything"}) {
		t.Fatalf("expected no match across trigger types")
	}
}
