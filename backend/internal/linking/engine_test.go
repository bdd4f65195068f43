package linking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"oliver-os/backend/internal/graph"
)

// keywordEmbedder maps keywords to axes so similarity ranking is predictable
type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, 3)
	if strings.Contains(lower, "acme") {
		vec[0] = 1
	}
	if strings.Contains(lower, "robot") {
		vec[1] = 1
	}
	if strings.Contains(lower, "grocery") {
		vec[2] = 1
	}
	return vec, nil
}

func seedStore(t *testing.T) (*graph.MemoryStore, *graph.Node, *graph.Node, *graph.Node) {
	t.Helper()
	store := graph.NewMemoryStore(keywordEmbedder{})
	ctx := context.Background()

	jane, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypePerson,
		Title:   "jane doe",
		Content: "engineer at acme robotics",
		Tags:    []string{"acme"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	grocery, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypeNote,
		Title:   "Grocery list",
		Content: "grocery run for the week",
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	source, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypeNote,
		Title:   "Standup notes",
		Content: "talked with @jane doe about acme robotics launch",
		Tags:    []string{"acme"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	return store, source, jane, grocery
}

func TestEngine_AutoLinkNode(t *testing.T) {
	store, source, jane, grocery := seedStore(t)
	engine := NewEngine(store, 0.6, 7)
	ctx := context.Background()

	created, err := engine.AutoLinkNode(ctx, source.ID)
	if err != nil {
		t.Fatalf("AutoLinkNode failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("Expected exactly one link, got %d", len(created))
	}

	link := created[0]
	if link.TargetID != jane.ID {
		t.Errorf("Expected link to jane, got target %s", link.TargetID)
	}
	if link.Type != graph.RelationMentions {
		t.Errorf("Expected mentions link for person with entity overlap, got %s", link.Type)
	}
	if link.Strength < 0.6 || link.Strength > 1 {
		t.Errorf("Expected strength in [0.6,1], got %f", link.Strength)
	}
	if link.Reasoning == "" {
		t.Error("Expected a reasoning string")
	}

	// Forward edge and its mirror must both exist
	rels, err := store.GetRelationships(ctx, source.ID)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	var forward, inverse bool
	for _, rel := range rels {
		if rel.SourceID == source.ID && rel.TargetID == jane.ID && rel.Type == graph.RelationMentions {
			forward = true
		}
		if rel.SourceID == jane.ID && rel.TargetID == source.ID && rel.Type == graph.RelationMentions {
			inverse = true
		}
		if rel.Metadata["provenance"] != graph.ProvenanceAutomatic {
			t.Errorf("Expected automatic provenance, got %v", rel.Metadata["provenance"])
		}
	}
	if !forward || !inverse {
		t.Errorf("Expected both directions, forward=%v inverse=%v", forward, inverse)
	}

	// Weakly related node stays unlinked
	groceryRels, err := store.GetRelationships(ctx, grocery.ID)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(groceryRels) != 0 {
		t.Errorf("Expected no links on the grocery note, got %d", len(groceryRels))
	}
}

func TestEngine_AutoLinkNode_Idempotent(t *testing.T) {
	store, source, _, _ := seedStore(t)
	engine := NewEngine(store, 0.6, 7)
	ctx := context.Background()

	if _, err := engine.AutoLinkNode(ctx, source.ID); err != nil {
		t.Fatalf("first AutoLinkNode failed: %v", err)
	}
	before, _ := store.GetRelationships(ctx, source.ID)

	if _, err := engine.AutoLinkNode(ctx, source.ID); err != nil {
		t.Fatalf("second AutoLinkNode failed: %v", err)
	}
	after, err := store.GetRelationships(ctx, source.ID)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(after) != len(before) {
		t.Errorf("Relinking must not grow the edge set: %d -> %d", len(before), len(after))
	}
}

func TestEngine_FindRelationships_DoesNotWrite(t *testing.T) {
	store, source, _, _ := seedStore(t)
	engine := NewEngine(store, 0.6, 7)
	ctx := context.Background()

	suggestions, err := engine.FindRelationships(ctx, source.ID)
	if err != nil {
		t.Fatalf("FindRelationships failed: %v", err)
	}
	if len(suggestions) == 0 {
		t.Fatal("Expected at least one suggestion")
	}
	for _, s := range suggestions {
		if s.Signals.Topic != 0 {
			t.Error("Preview suggestions must not include the topic signal")
		}
	}

	rels, err := store.GetRelationships(ctx, source.ID)
	if err != nil {
		t.Fatalf("GetRelationships failed: %v", err)
	}
	if len(rels) != 0 {
		t.Errorf("Preview must not create edges, found %d", len(rels))
	}
}

func TestEngine_MaxLinksCap(t *testing.T) {
	store := graph.NewMemoryStore(keywordEmbedder{})
	ctx := context.Background()

	// All candidates share the acme axis and heavy token overlap
	for _, title := range []string{"acme alpha", "acme beta", "acme gamma"} {
		if _, err := store.CreateNode(ctx, graph.CreateNodeInput{
			Type:    graph.NodeTypeProject,
			Title:   title,
			Content: "acme robotics launch planning roadmap",
			Tags:    []string{"acme"},
		}); err != nil {
			t.Fatalf("CreateNode failed: %v", err)
		}
	}
	source, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypeProject,
		Title:   "acme master plan",
		Content: "acme robotics launch planning roadmap",
		Tags:    []string{"acme"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	engine := NewEngine(store, 0.6, 2)
	created, err := engine.AutoLinkNode(ctx, source.ID)
	if err != nil {
		t.Fatalf("AutoLinkNode failed: %v", err)
	}
	if len(created) > 2 {
		t.Errorf("Expected at most 2 links, got %d", len(created))
	}
}

// axisEmbedder puts omega texts on their own axis, orthogonal to the rest
type axisEmbedder struct{}

func (axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "omega") {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

// brokenEmbedder fails every call
type brokenEmbedder struct{}

func (brokenEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("embedding offline")
}

// seedMentionPair creates a person and a note that names her, with full
// entity, temporal, tag and mention overlap
func seedMentionPair(t *testing.T, store *graph.MemoryStore) (source, person *graph.Node) {
	t.Helper()
	ctx := context.Background()

	person, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypePerson,
		Title:   "jane",
		Content: "jane planning launch milestones sync review",
		Tags:    []string{"launch"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	source, err = store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypeNote,
		Title:   "Jane launch sync",
		Content: "with @jane planning launch milestones sync review",
		Tags:    []string{"launch"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	return source, person
}

func TestEngine_ScoresNodesOutsideSemanticResults(t *testing.T) {
	store := graph.NewMemoryStore(axisEmbedder{})
	ctx := context.Background()

	// Enough near-identical filler to fill the whole ranking horizon
	for i := 0; i < semanticRankK+1; i++ {
		if _, err := store.CreateNode(ctx, graph.CreateNodeInput{
			Type:    graph.NodeTypeNote,
			Title:   fmt.Sprintf("filler %d", i),
			Content: "filler",
		}); err != nil {
			t.Fatalf("CreateNode failed: %v", err)
		}
	}
	jane, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypePerson,
		Title:   "jane",
		Content: "jane planning launch milestones sync review omega",
		Tags:    []string{"launch"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	source, err := store.CreateNode(ctx, graph.CreateNodeInput{
		Type:    graph.NodeTypeNote,
		Title:   "Jane launch sync",
		Content: "with @jane planning launch milestones sync review",
		Tags:    []string{"launch"},
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}

	engine := NewEngine(store, 0.6, 7)
	created, err := engine.AutoLinkNode(ctx, source.ID)
	if err != nil {
		t.Fatalf("AutoLinkNode failed: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("Expected exactly one link, got %d", len(created))
	}
	link := created[0]
	if link.TargetID != jane.ID {
		t.Fatalf("Expected link to the person crowded out of the semantic results, got target %s", link.TargetID)
	}
	if link.Signals.Semantic != 0 {
		t.Errorf("Expected zero semantic signal outside the ranking, got %f", link.Signals.Semantic)
	}
	if link.Type != graph.RelationMentions {
		t.Errorf("Expected mentions link, got %s", link.Type)
	}
	if link.Strength < 0.6 {
		t.Errorf("Expected strength above threshold, got %f", link.Strength)
	}
}

func TestEngine_AutoLinkNode_NoEmbedder(t *testing.T) {
	store := graph.NewMemoryStore(nil)
	source, jane := seedMentionPair(t, store)
	engine := NewEngine(store, 0.6, 7)

	created, err := engine.AutoLinkNode(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("AutoLinkNode failed: %v", err)
	}
	if len(created) != 1 || created[0].TargetID != jane.ID {
		t.Fatalf("Expected a link to jane without any embedder, got %v", created)
	}
	if created[0].Signals.Semantic != 0 {
		t.Errorf("Expected zero semantic signal without an embedder, got %f", created[0].Signals.Semantic)
	}
}

func TestEngine_AutoLinkNode_EmbeddingOutage(t *testing.T) {
	store := graph.NewMemoryStore(brokenEmbedder{})
	source, jane := seedMentionPair(t, store)
	engine := NewEngine(store, 0.6, 7)

	created, err := engine.AutoLinkNode(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("Expected linking to survive an embedding outage: %v", err)
	}
	if len(created) != 1 || created[0].TargetID != jane.ID {
		t.Fatalf("Expected a link to jane despite the outage, got %v", created)
	}
}

func TestEngine_NodeNotFound(t *testing.T) {
	store := graph.NewMemoryStore(keywordEmbedder{})
	engine := NewEngine(store, 0.6, 7)

	if _, err := engine.AutoLinkNode(context.Background(), "ghost"); err == nil {
		t.Error("Expected error for unknown node")
	}
}

func TestInverseType(t *testing.T) {
	cases := map[graph.RelationType]graph.RelationType{
		graph.RelationRelatedTo:  graph.RelationRelatedTo,
		graph.RelationPartOf:     graph.RelationPartOf,
		graph.RelationMentions:   graph.RelationMentions,
		graph.RelationDependsOn:  graph.RelationRelatedTo,
		graph.RelationInspiredBy: graph.RelationRelatedTo,
	}
	for in, want := range cases {
		if got := inverseType(in); got != want {
			t.Errorf("inverseType(%s): expected %s, got %s", in, want, got)
		}
	}
}
