package domain_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"medq/internal/modules/chat/domain"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestEntryResolvesOnce(t *testing.T) {
	t.Parallel()
	entry := domain.QAEntry{ID: "e1", Question: "Q", Answer: domain.Pending(), Followups: []string{}}

	followups := []string{"next?"}
	if !entry.Resolve(domain.TextAnswer("A"), followups, at) {
		t.Fatalf("first resolve should apply")
	}
	followups[0] = "mutated"
	if entry.Followups[0] != "next?" {
		t.Fatalf("followups must be copied, got %v", entry.Followups)
	}
	if entry.AnsweredAt != at {
		t.Fatalf("answered at not set")
	}
	if entry.Resolve(domain.ErrorAnswer("late"), nil, at.Add(time.Minute)) {
		t.Fatalf("second resolve must be ignored")
	}
	if entry.Answer != domain.TextAnswer("A") {
		t.Fatalf("answer changed after second resolve: %+v", entry.Answer)
	}
}

func TestEntryResolveErrorDropsFollowups(t *testing.T) {
	t.Parallel()
	entry := domain.QAEntry{ID: "e1", Answer: domain.Pending()}
	if !entry.Resolve(domain.ErrorAnswer("boom"), []string{"x"}, at) {
		t.Fatalf("error resolve should apply")
	}
	if entry.Followups == nil || len(entry.Followups) != 0 {
		t.Fatalf("error entries carry an empty followup list, got %#v", entry.Followups)
	}
	pending := domain.QAEntry{Answer: domain.Pending()}
	if pending.Resolve(domain.Pending(), nil, at) {
		t.Fatalf("resolving to pending must be rejected")
	}
}

func TestSessionHeadlineFromFirstQuestion(t *testing.T) {
	t.Parallel()
	s := domain.Session{ID: "s1"}
	if s.Title() != domain.DefaultHeadline {
		t.Fatalf("expected default title, got %q", s.Title())
	}
	s.Append(domain.QAEntry{ID: "e1", Question: "  First?  ", Answer: domain.Pending()})
	s.Append(domain.QAEntry{ID: "e2", Question: "Second?", Answer: domain.Pending()})
	if s.Headline != "First?" {
		t.Fatalf("expected headline from first question, got %q", s.Headline)
	}
	if idx := s.PendingEntry(); idx != 0 {
		t.Fatalf("expected first pending entry at 0, got %d", idx)
	}
	if idx, ok := s.Entry("e2"); !ok || idx != 1 {
		t.Fatalf("entry lookup failed: %d %v", idx, ok)
	}

	named := domain.Session{ID: "s2", Headline: "Named"}
	named.Append(domain.QAEntry{ID: "e3", Question: "Q"})
	if named.Headline != "Named" {
		t.Fatalf("explicit headline overwritten: %q", named.Headline)
	}
}

func TestRemoveRepairsSelection(t *testing.T) {
	t.Parallel()
	state := domain.SessionsState{
		Sessions:          []domain.Session{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		SelectedSessionID: "a",
	}
	if !state.Remove("a") || state.SelectedSessionID != "b" {
		t.Fatalf("expected selection on b, got %q", state.SelectedSessionID)
	}
	if !state.Remove("c") || state.SelectedSessionID != "b" {
		t.Fatalf("removing an unselected session must keep selection, got %q", state.SelectedSessionID)
	}
	if state.Remove("missing") {
		t.Fatalf("unknown session must not be removed")
	}
	if !state.Remove("b") || state.SelectedSessionID != "" || len(state.Sessions) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestNormalizeRepairsStoredState(t *testing.T) {
	t.Parallel()
	state := domain.SessionsState{
		SelectedSessionID: "ghost",
		Sessions: []domain.Session{{
			ID: "s1",
			QAHistory: []domain.QAEntry{
				{ID: "e1", Answer: domain.TextAnswer("done")},
				{ID: "e2", Answer: domain.Pending()},
			},
		}},
	}
	if !state.Normalize(at) {
		t.Fatalf("normalize should report changes")
	}
	if state.SelectedSessionID != "s1" {
		t.Fatalf("dangling selection not repaired: %q", state.SelectedSessionID)
	}
	history := state.Sessions[0].QAHistory
	if history[0].Followups == nil || history[0].Answer != domain.TextAnswer("done") {
		t.Fatalf("resolved entry changed: %+v", history[0])
	}
	if history[1].Answer != domain.ErrorAnswer(domain.InterruptedMessage) {
		t.Fatalf("pending entry not interrupted: %+v", history[1].Answer)
	}
	if state.Normalize(at) {
		t.Fatalf("second normalize should be a no-op")
	}

	empty := domain.SessionsState{}
	if empty.Normalize(at) || empty.Sessions == nil {
		t.Fatalf("empty state should gain an empty slice without reporting changes")
	}
}

func TestCloneSharesNothing(t *testing.T) {
	t.Parallel()
	state := domain.SessionsState{Sessions: []domain.Session{{
		ID:        "s1",
		QAHistory: []domain.QAEntry{{ID: "e1", Followups: []string{"f"}}},
	}}}
	copied := state.Clone()
	copied.Sessions[0].QAHistory[0].Followups[0] = "changed"
	copied.Sessions[0].QAHistory = append(copied.Sessions[0].QAHistory, domain.QAEntry{ID: "e2"})
	if state.Sessions[0].QAHistory[0].Followups[0] != "f" || len(state.Sessions[0].QAHistory) != 1 {
		t.Fatalf("clone leaked into original: %+v", state)
	}
}

func TestStateJSONShape(t *testing.T) {
	t.Parallel()
	state := domain.SessionsState{
		SelectedSessionID: "s1",
		Sessions: []domain.Session{{
			ID:        "s1",
			Headline:  "Q",
			CreatedAt: at,
			QAHistory: []domain.QAEntry{{ID: "e1", Question: "Q", Answer: domain.TextAnswer("A"), Followups: []string{"F"}, AskedAt: at}},
		}},
	}
	raw, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"selectedSessionId":"s1"`, `"qaHistory"`, `"followupQuestions":["F"]`, `"status":"text"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("expected %s in %s", key, raw)
		}
	}
	if strings.Contains(string(raw), "answeredAt") {
		t.Fatalf("unanswered entry must omit answeredAt: %s", raw)
	}
}
