package memory

import (
	"testing"
	"time"
)

func testSemantic(t *testing.T) *SemanticStore {
	t.Helper()
	return NewSemanticStore(testDB(t), &HashEmbedder{Dim: 32}, 3)
}

func TestSemantic_SaveAndGet(t *testing.T) {
	s := testSemantic(t)

	id, err := s.SaveItem(KnowledgeItem{
		Type:       "fact",
		Title:      "titanium fatigue limit",
		Content:    "Ti-6Al-4V fatigue strength drops sharply above 400C",
		Domain:     "materials",
		Tags:       []string{"titanium", "fatigue"},
		Confidence: 0.8,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	item, err := s.GetItem(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item == nil {
		t.Fatal("expected item, got nil")
	}
	if item.Domain != "materials" || len(item.Tags) != 2 {
		t.Errorf("unexpected item: %+v", item)
	}
	if len(item.Embedding) != 32 {
		t.Errorf("expected computed embedding of dim 32, got %d", len(item.Embedding))
	}
}

func TestSemantic_GetMissing(t *testing.T) {
	s := testSemantic(t)
	item, err := s.GetItem("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item != nil {
		t.Errorf("expected nil for unknown id, got %+v", item)
	}
}

func TestSemantic_RetrieveRanksAndBumpsAccess(t *testing.T) {
	s := testSemantic(t)

	// The hash embedder gives identical vectors only for identical text, so
	// an exact-match item must outrank unrelated ones.
	exactID, err := s.SaveItem(KnowledgeItem{
		Type: "fact", Title: "turbine blade cooling",
		Content: "film cooling holes reduce surface temperature", Confidence: 0.9,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveItem(KnowledgeItem{
		Type: "fact", Title: "unrelated",
		Content: "warehouse shelving load ratings", Confidence: 0.9,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	results, err := s.Retrieve("turbine blade cooling film cooling holes reduce surface temperature", 1)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Item.ID != exactID {
		t.Errorf("expected exact-match item first, got %s", results[0].Item.ID)
	}

	item, err := s.GetItem(exactID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.AccessCount != 1 {
		t.Errorf("expected access count 1 after retrieval, got %d", item.AccessCount)
	}
}

func TestSemantic_Lookups(t *testing.T) {
	s := testSemantic(t)

	if _, err := s.SaveItem(KnowledgeItem{Type: "fact", Title: "a", Content: "a",
		Domain: "materials", Tags: []string{"alloy"}, Confidence: 0.5}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := s.SaveItem(KnowledgeItem{Type: "fact", Title: "b", Content: "b",
		Domain: "aerodynamics", Confidence: 0.5}); err != nil {
		t.Fatalf("save: %v", err)
	}

	byTag, err := s.ItemsByTag("alloy")
	if err != nil {
		t.Fatalf("by tag: %v", err)
	}
	if len(byTag) != 1 || byTag[0].Title != "a" {
		t.Errorf("unexpected tag lookup: %v", byTag)
	}

	byDomain, err := s.ItemsByDomain("aerodynamics")
	if err != nil {
		t.Fatalf("by domain: %v", err)
	}
	if len(byDomain) != 1 || byDomain[0].Title != "b" {
		t.Errorf("unexpected domain lookup: %v", byDomain)
	}
}

func TestSemantic_FeedbackClamps(t *testing.T) {
	s := testSemantic(t)

	id, err := s.SaveItem(KnowledgeItem{Type: "fact", Title: "t", Content: "c", Confidence: 0.95})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Feedback(id, true); err != nil {
		t.Fatalf("feedback: %v", err)
	}
	item, _ := s.GetItem(id)
	if item.Confidence != 1.0 {
		t.Errorf("expected confidence clamped to 1.0, got %f", item.Confidence)
	}

	for i := 0; i < 12; i++ {
		if err := s.Feedback(id, false); err != nil {
			t.Fatalf("feedback: %v", err)
		}
	}
	item, _ = s.GetItem(id)
	if item.Confidence != 0.0 {
		t.Errorf("expected confidence clamped to 0.0, got %f", item.Confidence)
	}
}

func TestSemantic_FeedbackUnknown(t *testing.T) {
	s := testSemantic(t)
	if err := s.Feedback("nope", true); err == nil {
		t.Error("expected error for unknown item")
	}
}

func TestSemantic_ReinforcementThreshold(t *testing.T) {
	s := testSemantic(t)

	// Two reinforcements stay below the threshold of three.
	for i := 0; i < 2; i++ {
		if err := s.Reinforce("simulation step times out", "retry with coarser mesh", "simulation", true); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}
	patterns, err := s.Patterns(0, "")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("pattern created before threshold: %v", patterns)
	}

	// The third reinforcement creates the pattern.
	if err := s.Reinforce("simulation step times out", "retry with coarser mesh", "simulation", false); err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	patterns, err = s.Patterns(0, "simulation")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(patterns))
	}
	p := patterns[0]
	if p.UsageCount != 3 {
		t.Errorf("expected usage count 3, got %d", p.UsageCount)
	}
	if p.SuccessRate < 0.66 || p.SuccessRate > 0.67 {
		t.Errorf("expected success rate 2/3, got %f", p.SuccessRate)
	}

	// Further identical reinforcements merge into the existing pattern.
	if err := s.Reinforce("simulation step times out", "retry with coarser mesh", "simulation", true); err != nil {
		t.Fatalf("reinforce: %v", err)
	}
	patterns, _ = s.Patterns(0, "")
	if len(patterns) != 1 {
		t.Fatalf("expected merge, got %d patterns", len(patterns))
	}
	if patterns[0].UsageCount != 4 {
		t.Errorf("expected usage count 4 after merge, got %d", patterns[0].UsageCount)
	}
	if patterns[0].SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %f", patterns[0].SuccessRate)
	}
}

func TestSemantic_PatternsFilter(t *testing.T) {
	s := testSemantic(t)

	for i := 0; i < 3; i++ {
		if err := s.Reinforce("tool output missing field", "re-run with strict schema", "tools", true); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		if err := s.Reinforce("plan exceeds duration cap", "split into parallel groups", "planning", false); err != nil {
			t.Fatalf("reinforce: %v", err)
		}
	}

	good, err := s.Patterns(0.7, "")
	if err != nil {
		t.Fatalf("patterns: %v", err)
	}
	if len(good) != 1 || good[0].Domain != "tools" {
		t.Errorf("expected only the successful pattern, got %v", good)
	}
}

func TestSemantic_Consolidate(t *testing.T) {
	s := testSemantic(t)

	// Low-confidence never-accessed item should be removed.
	if _, err := s.SaveItem(KnowledgeItem{Type: "fact", Title: "junk", Content: "x", Confidence: 0.1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	// High-confidence item survives even without access.
	keepID, err := s.SaveItem(KnowledgeItem{Type: "fact", Title: "keep", Content: "y", Confidence: 0.9})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	itemsRemoved, _, err := s.Consolidate(3, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if itemsRemoved != 1 {
		t.Errorf("expected 1 item removed, got %d", itemsRemoved)
	}
	kept, _ := s.GetItem(keepID)
	if kept == nil {
		t.Error("high-confidence item should survive consolidation")
	}
}

func TestTextSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"retry with coarser mesh", "retry with coarser mesh", 1.0, 1.0},
		{"retry with coarser mesh", "completely different text here", 0, 0.1},
		{"", "anything", 0, 0},
	}
	for _, tc := range tests {
		got := textSimilarity(tc.a, tc.b)
		if got < tc.min || got > tc.max {
			t.Errorf("textSimilarity(%q, %q) = %f, want [%f, %f]", tc.a, tc.b, got, tc.min, tc.max)
		}
	}
}
