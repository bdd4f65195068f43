package linking

import (
	"testing"
	"time"

	"oliver-os/backend/internal/graph"
)

func nodeAt(nodeType graph.NodeType, title, content string, created time.Time, tags ...string) *graph.Node {
	return &graph.Node{
		ID:      title,
		Type:    nodeType,
		Title:   title,
		Content: content,
		Metadata: graph.NodeMetadata{
			CreatedAt: created,
			UpdatedAt: created,
			Tags:      tags,
		},
	}
}

func TestSemanticScore(t *testing.T) {
	if got := semanticScore(0); got != 1 {
		t.Errorf("Expected rank 0 to score 1.0, got %f", got)
	}
	if got := semanticScore(semanticRankK); got != 0 {
		t.Errorf("Expected rank K to score 0, got %f", got)
	}
	if got := semanticScore(100); got != 0 {
		t.Errorf("Expected deep ranks to floor at 0, got %f", got)
	}
	prev := 2.0
	for rank := 0; rank < semanticRankK; rank++ {
		score := semanticScore(rank)
		if score >= prev {
			t.Fatalf("Expected score to decrease with rank, got %f at rank %d", score, rank)
		}
		prev = score
	}
}

func TestEntityScore(t *testing.T) {
	now := time.Now()
	a := nodeAt(graph.NodeTypeNote, "Acme pitch", "meeting with jane about acme robotics funding", now)
	b := nodeAt(graph.NodeTypeNote, "Acme notes", "acme robotics jane funding roadmap", now)
	c := nodeAt(graph.NodeTypeNote, "Garden", "tomatoes and herbs in spring", now)

	high := entityScore(a, b)
	low := entityScore(a, c)
	if high <= low {
		t.Errorf("Expected overlapping nodes to outscore disjoint ones: %f vs %f", high, low)
	}
	if high > 1 {
		t.Errorf("Expected entity score capped at 1, got %f", high)
	}
	if low != 0 {
		t.Errorf("Expected disjoint token sets to score 0, got %f", low)
	}
}

func TestEntityScore_StopwordsAndShortTokens(t *testing.T) {
	now := time.Now()
	a := nodeAt(graph.NodeTypeNote, "A", "the and for it is", now)
	b := nodeAt(graph.NodeTypeNote, "B", "the and for at on", now)
	if got := entityScore(a, b); got != 0 {
		t.Errorf("Expected stopwords and short tokens to be ignored, got %f", got)
	}
}

func TestTemporalScore_Steps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		gap  time.Duration
		want float64
	}{
		{3 * 24 * time.Hour, 1.0},
		{20 * 24 * time.Hour, 0.7},
		{60 * 24 * time.Hour, 0.4},
		{365 * 24 * time.Hour, 0.1},
	}
	for _, tc := range cases {
		a := nodeAt(graph.NodeTypeNote, "A", "", base)
		b := nodeAt(graph.NodeTypeNote, "B", "", base.Add(tc.gap))
		if got := temporalScore(a, b); got != tc.want {
			t.Errorf("gap %v: expected %f, got %f", tc.gap, tc.want, got)
		}
		// Symmetric in the order of endpoints
		if got := temporalScore(b, a); got != tc.want {
			t.Errorf("gap %v reversed: expected %f, got %f", tc.gap, tc.want, got)
		}
	}
}

func TestExplicitScore(t *testing.T) {
	now := time.Now()
	jane := nodeAt(graph.NodeTypePerson, "jane", "engineer at acme", now, "acme")
	mention := nodeAt(graph.NodeTypeNote, "Standup", "talked with @jane about the launch", now, "acme")
	plain := nodeAt(graph.NodeTypeNote, "Standup", "talked about the launch", now)

	if got := explicitScore(mention, jane); got != 1.0 {
		t.Errorf("Expected mention plus shared tag to score 1.0, got %f", got)
	}
	if got := explicitScore(plain, jane); got != 0 {
		t.Errorf("Expected no reference to score 0, got %f", got)
	}

	// Titles written out plain count as mentions too
	bare := nodeAt(graph.NodeTypeNote, "Standup", "met jane at the office", now)
	if got := explicitScore(bare, jane); got != 0.5 {
		t.Errorf("Expected bare title mention to score 0.5, got %f", got)
	}
	partial := nodeAt(graph.NodeTypeNote, "Standup", "trip to janesville", now)
	if got := explicitScore(partial, jane); got != 0 {
		t.Errorf("Expected no score for a partial word match, got %f", got)
	}
}

func TestTopicScore(t *testing.T) {
	now := time.Now()
	a := nodeAt(graph.NodeTypeProject, "Acme launch plan", "", now, "acme", "launch")
	b := nodeAt(graph.NodeTypeProject, "Acme launch retro", "", now, "acme", "launch")
	c := nodeAt(graph.NodeTypeNote, "Grocery list", "", now)

	same := topicScore(a, b)
	diff := topicScore(a, c)
	if same <= diff {
		t.Errorf("Expected same-topic pair to outscore unrelated pair: %f vs %f", same, diff)
	}
	if same > 1 {
		t.Errorf("Expected topic score capped at 1, got %f", same)
	}
}

func TestCombine_WeightsSumToOne(t *testing.T) {
	full := Signals{Semantic: 1, Entity: 1, Topic: 1, Temporal: 1, Explicit: 1}
	if got := combine(full, true); got < 0.999 || got > 1.001 {
		t.Errorf("Expected topic-weighted combination of maxed signals to be 1, got %f", got)
	}
	if got := combine(full, false); got < 0.999 || got > 1.001 {
		t.Errorf("Expected combination without topic to be 1, got %f", got)
	}
	if got := combine(Signals{}, true); got != 0 {
		t.Errorf("Expected zero signals to combine to 0, got %f", got)
	}
}
