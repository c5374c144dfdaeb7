package attribution

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustTouchpoint(ref string, offset time.Duration, base time.Time) Touchpoint {
	return Touchpoint{Ref: ref, Kind: TouchpointMessage, MessageID: uuid.New(), Timestamp: base.Add(offset)}
}

func TestSplit_LinearThreeTouchpoints(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Touchpoint{
		mustTouchpoint("t1", 0, base),
		mustTouchpoint("t2", time.Hour, base),
		mustTouchpoint("t3", 2*time.Hour, base),
	}

	credits := Split(points, ModelLinear)

	if len(credits) != 3 {
		t.Fatalf("expected 3 credits, got %d", len(credits))
	}
	var sum float64
	for _, c := range credits {
		if c.Weight != 1.0/3.0 {
			t.Fatalf("expected weight 1/3, got %v", c.Weight)
		}
		sum += c.Weight
	}
	if diff := sum - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("expected weights to sum to 1, got %v", sum)
	}
}

func TestSplit_LastTouch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Touchpoint{
		mustTouchpoint("t1", 0, base),
		mustTouchpoint("t2", time.Hour, base),
		mustTouchpoint("t3", 2*time.Hour, base),
	}

	credits := Split(points, ModelLastTouch)

	if len(credits) != 1 || credits[0].TouchpointRef != "t3" || credits[0].Weight != 1 {
		t.Fatalf("expected single credit on t3 weight 1, got %+v", credits)
	}
}

func TestSplit_FirstTouch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Touchpoint{
		mustTouchpoint("t1", 0, base),
		mustTouchpoint("t2", time.Hour, base),
	}

	credits := Split(points, ModelFirstTouch)

	if len(credits) != 1 || credits[0].TouchpointRef != "t1" || credits[0].Weight != 1 {
		t.Fatalf("expected single credit on t1 weight 1, got %+v", credits)
	}
}

func TestSplit_ZeroTouchpointsYieldsNoCredits(t *testing.T) {
	if credits := Split(nil, ModelLinear); credits != nil {
		t.Fatalf("expected no credits for empty touchpoint set, got %+v", credits)
	}
}

func TestSplit_UnknownModelYieldsNoCredits(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Touchpoint{mustTouchpoint("t1", 0, base)}

	if credits := Split(points, Model("bogus")); credits != nil {
		t.Fatalf("expected no credits for unknown model, got %+v", credits)
	}
}

func TestSort_OrdersByTimestampThenRef(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []Touchpoint{
		{Ref: "b", Timestamp: base},
		{Ref: "a", Timestamp: base},
		{Ref: "c", Timestamp: base.Add(time.Minute)},
	}

	sorted := Sort(points)

	if sorted[0].Ref != "a" || sorted[1].Ref != "b" || sorted[2].Ref != "c" {
		t.Fatalf("expected order a,b,c got %+v", sorted)
	}
}

func TestDedup_JourneyStepAndMessageCollapseToOne(t *testing.T) {
	messageID := uuid.New()
	points := []Touchpoint{
		{Ref: "step-1", Kind: TouchpointJourneyStep, MessageID: messageID},
		{Ref: "msg-1", Kind: TouchpointMessage, MessageID: messageID},
	}

	deduped := Dedup(points)

	if len(deduped) != 1 {
		t.Fatalf("expected dedup to collapse to 1 touchpoint, got %d", len(deduped))
	}
	if deduped[0].Kind != TouchpointMessage {
		t.Fatalf("expected the Message-kind entry to win, got %+v", deduped[0])
	}
}
