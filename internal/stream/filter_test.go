package stream

import "testing"

func TestFilter_EmptyIncludeAllowsAll(t *testing.T) {
	f := NewFilter(nil, nil)
	for _, typ := range []string{"DetectionSummaryEvent", "UserActivityAuditEvent", ""} {
		if !f.Allows(typ) {
			t.Errorf("empty filter should allow %q", typ)
		}
	}
}

func TestFilter_IncludeList(t *testing.T) {
	f := NewFilter([]string{"DetectionSummaryEvent"}, nil)

	if !f.Allows("DetectionSummaryEvent") {
		t.Error("included type should be allowed")
	}
	if f.Allows("UserActivityAuditEvent") {
		t.Error("type outside the include list should be dropped")
	}
}

func TestFilter_ExcludeList(t *testing.T) {
	f := NewFilter(nil, []string{"AuthActivityAuditEvent"})

	if f.Allows("AuthActivityAuditEvent") {
		t.Error("excluded type should be dropped")
	}
	if !f.Allows("DetectionSummaryEvent") {
		t.Error("non-excluded type should be allowed")
	}
}

// TestFilter_ExclusionWins verifies that a type listed in both sets is
// dropped: the exclude list always takes precedence.
func TestFilter_ExclusionWins(t *testing.T) {
	f := NewFilter([]string{"DetectionSummaryEvent"}, []string{"DetectionSummaryEvent"})

	if f.Allows("DetectionSummaryEvent") {
		t.Error("a type in both include and exclude must be dropped")
	}
}
