package memory

import (
	"testing"
	"time"

	"github.com/originflow/conductor/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEpisodic_AppendAndHistory(t *testing.T) {
	s := NewEpisodicStore(testDB(t))

	records := []Record{
		{SessionID: "s1", Type: InteractionUserMessage, Content: "analyze the turbine blade geometry", Tags: []string{"turbine"}},
		{SessionID: "s1", AgentID: "planner", Type: InteractionPlanCreated, Content: "plan with three steps"},
		{SessionID: "s1", AgentID: "executor", Type: InteractionToolCall, Content: "ran geometry analyzer", Tags: []string{"turbine"}},
		{SessionID: "s2", Type: InteractionUserMessage, Content: "different session"},
	}
	for i, rec := range records {
		rec.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		if err := s.Append(rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	history, err := s.History("s1", HistoryFilter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 records, got %d", len(history))
	}
	if history[0].Type != InteractionUserMessage {
		t.Errorf("expected chronological order, first type = %s", history[0].Type)
	}

	// Filter by type.
	tools, err := s.History("s1", HistoryFilter{Types: []InteractionType{InteractionToolCall}})
	if err != nil {
		t.Fatalf("history filtered: %v", err)
	}
	if len(tools) != 1 || tools[0].AgentID != "executor" {
		t.Errorf("expected one tool_call record from executor, got %v", tools)
	}

	// Filter by tag with limit.
	tagged, err := s.History("s1", HistoryFilter{Tag: "turbine", Limit: 1})
	if err != nil {
		t.Fatalf("history tagged: %v", err)
	}
	if len(tagged) != 1 {
		t.Errorf("expected limit to cap results at 1, got %d", len(tagged))
	}
}

func TestEpisodic_Search(t *testing.T) {
	s := NewEpisodicStore(testDB(t))

	if err := s.Append(Record{SessionID: "s1", Type: InteractionToolCall, Content: "simulated airflow over wing"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(Record{SessionID: "s2", Type: InteractionToolCall, Content: "validated material stress"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	found, err := s.Search("airflow", HistoryFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || found[0].SessionID != "s1" {
		t.Errorf("expected one match from s1, got %v", found)
	}
}

func TestEpisodic_SummaryLifecycle(t *testing.T) {
	s := NewEpisodicStore(testDB(t))

	if err := s.Append(Record{SessionID: "s1", AgentID: "planner", Type: InteractionUserMessage, Content: "optimize bracket design"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(Record{SessionID: "s1", AgentID: "executor", Type: InteractionToolCall, Content: "bracket simulation complete"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	summary, err := s.Summary("s1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary == nil {
		t.Fatal("expected summary, got nil")
	}
	if summary.InteractionCount != 2 {
		t.Errorf("expected interaction count 2, got %d", summary.InteractionCount)
	}
	if len(summary.Agents) != 2 {
		t.Errorf("expected 2 distinct agents, got %v", summary.Agents)
	}
	if !contains(summary.Topics, "bracket") {
		t.Errorf("expected 'bracket' topic, got %v", summary.Topics)
	}
	if summary.Closed {
		t.Error("summary should not be closed yet")
	}

	closed, err := s.CloseSession("s1")
	if err != nil {
		t.Fatalf("close session: %v", err)
	}
	if !closed.Closed || closed.EndedAt == nil {
		t.Errorf("expected closed summary with end time, got %+v", closed)
	}
}

func TestEpisodic_SummaryMissing(t *testing.T) {
	s := NewEpisodicStore(testDB(t))
	summary, err := s.Summary("nope")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary != nil {
		t.Errorf("expected nil summary for unknown session, got %+v", summary)
	}
}

func TestEpisodic_Purge(t *testing.T) {
	s := NewEpisodicStore(testDB(t))

	old := Record{SessionID: "old", Type: InteractionEpisode, Content: "ancient history",
		CreatedAt: time.Now().Add(-48 * time.Hour)}
	if err := s.Append(old); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if err := s.Append(Record{SessionID: "new", Type: InteractionEpisode, Content: "recent work"}); err != nil {
		t.Fatalf("append new: %v", err)
	}

	purged, err := s.PurgeOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged record, got %d", purged)
	}

	remaining, err := s.History("new", HistoryFilter{})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("expected recent record to survive, got %d", len(remaining))
	}
}

func TestExtractTopics(t *testing.T) {
	topics := extractTopics("Analyze the turbine blade stress under rotation", nil)
	if !contains(topics, "turbine") || !contains(topics, "stress") {
		t.Errorf("expected turbine and stress topics, got %v", topics)
	}
	for _, short := range []string{"the", "under"} {
		if contains(topics, short) {
			t.Errorf("stopword or short word %q should be excluded: %v", short, topics)
		}
	}
}
