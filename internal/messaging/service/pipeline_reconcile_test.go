package service

import "testing"

func TestStatusTransitionAllowedMonotonicProgression(t *testing.T) {
	cases := []struct {
		current string
		next    string
		want    bool
	}{
		{"pending", "sent", true},
		{"sent", "delivered", true},
		{"delivered", "read", true},
		{"sent", "pending", false},
		{"read", "delivered", false},
		{"delivered", "delivered", false},
	}

	for _, c := range cases {
		got := statusTransitionAllowed(c.current, c.next)
		if got != c.want {
			t.Errorf("statusTransitionAllowed(%q, %q) = %v, want %v", c.current, c.next, got, c.want)
		}
	}
}

func TestStatusTransitionAllowedFailedIsTerminal(t *testing.T) {
	if statusTransitionAllowed("failed", "sent") {
		t.Fatal("failed should never transition to another status")
	}
	if statusTransitionAllowed("failed", "delivered") {
		t.Fatal("failed should never transition to another status")
	}
}

func TestStatusTransitionAllowedFailedBlockedAfterDeliveredOrRead(t *testing.T) {
	if statusTransitionAllowed("delivered", "failed") {
		t.Fatal("a delivered message should not regress to failed")
	}
	if statusTransitionAllowed("read", "failed") {
		t.Fatal("a read message should not regress to failed")
	}
	if !statusTransitionAllowed("sent", "failed") {
		t.Fatal("a sent message should be allowed to transition to failed")
	}
	if !statusTransitionAllowed("pending", "failed") {
		t.Fatal("a pending message should be allowed to transition to failed")
	}
}

func TestStatusTransitionAllowedUnknownCurrentStatus(t *testing.T) {
	if !statusTransitionAllowed("unknown", "sent") {
		t.Fatal("an unrecognized current status should not block progression")
	}
}

func TestStatusTransitionAllowedUnknownNextStatus(t *testing.T) {
	if statusTransitionAllowed("pending", "unknown") {
		t.Fatal("an unrecognized next status should never be accepted")
	}
}
