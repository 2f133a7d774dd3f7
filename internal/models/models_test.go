package models

import "testing"

func TestCanTransitionCase(t *testing.T) {
	tests := []struct {
		from, to CaseStatus
		want     bool
	}{
		{CaseStatusReported, CaseStatusSearching, true},
		{CaseStatusReported, CaseStatusClosed, true},
		{CaseStatusSearching, CaseStatusFound, true},
		{CaseStatusFound, CaseStatusClosed, true},
		{CaseStatusClosed, CaseStatusReported, false},
		{CaseStatusFound, CaseStatusSearching, false},
		{CaseStatusReported, CaseStatusReported, false},
		{CaseStatusClosed, CaseStatusClosed, false},
		{"bogus", CaseStatusClosed, false},
		{CaseStatusReported, "bogus", false},
	}
	for _, tt := range tests {
		if got := CanTransitionCase(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionCase(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		ok   bool
	}{
		{"urgent", PriorityUrgent, true},
		{"HIGH", PriorityHigh, true},
		{" normal ", PriorityNormal, true},
		{"low", PriorityLow, true},
		{"critical", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		if ok != tt.ok {
			t.Errorf("ParsePriority(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestPriorityRankOrdering(t *testing.T) {
	order := []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
	if Priority("nonsense").Rank() != PriorityNormal.Rank() {
		t.Error("unknown priority should rank as normal")
	}
}

func TestQueueEntryIsTerminal(t *testing.T) {
	for _, tt := range []struct {
		status EntryStatus
		want   bool
	}{
		{EntryStatusQueued, false},
		{EntryStatusProcessing, false},
		{EntryStatusCompleted, true},
		{EntryStatusFailed, true},
	} {
		e := QueueEntry{Status: tt.status}
		if e.IsTerminal() != tt.want {
			t.Errorf("IsTerminal(%s) = %v, want %v", tt.status, e.IsTerminal(), tt.want)
		}
	}
}

func TestMatchIsFinalized(t *testing.T) {
	if (Match{Status: MatchStatusPendingReview}).IsFinalized() {
		t.Error("pending_review must not be finalized")
	}
	if !(Match{Status: MatchStatusVerified}).IsFinalized() {
		t.Error("verified must be finalized")
	}
	if !(Match{Status: MatchStatusFalsePositive}).IsFinalized() {
		t.Error("false_positive must be finalized")
	}
}
