package graph

import (
	"context"
	"strings"
	"testing"

	apperrors "oliver-os/backend/pkg/errors"
)

// stubEmbedder maps keywords to axes so similarity is predictable
type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	vec := make([]float32, 3)
	if strings.Contains(lower, "coffee") {
		vec[0] = 1
	}
	if strings.Contains(lower, "robot") {
		vec[1] = 1
	}
	if strings.Contains(lower, "garden") {
		vec[2] = 1
	}
	return vec, nil
}

func newTestStore() *MemoryStore {
	return NewMemoryStore(stubEmbedder{})
}

func mustCreateNode(t *testing.T, store *MemoryStore, nodeType NodeType, title, content string, tags ...string) *Node {
	t.Helper()
	node, err := store.CreateNode(context.Background(), CreateNodeInput{
		Type:    nodeType,
		Title:   title,
		Content: content,
		Tags:    tags,
	})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	return node
}

func TestMemoryStore_CreateNode(t *testing.T) {
	store := newTestStore()
	node := mustCreateNode(t, store, NodeTypeConcept, "Coffee brewing", "Notes on coffee extraction", "coffee")

	if node.ID == "" {
		t.Error("Expected node to get an id")
	}
	if node.Metadata.CreatedAt.IsZero() {
		t.Error("Expected created_at to be set")
	}
	if len(node.Metadata.Embedding) == 0 {
		t.Error("Expected embedding to be derived on create")
	}

	fetched, err := store.GetNode(context.Background(), node.ID)
	if err != nil {
		t.Fatalf("GetNode failed: %v", err)
	}
	if fetched.Title != "Coffee brewing" {
		t.Errorf("Expected title 'Coffee brewing', got '%s'", fetched.Title)
	}
}

func TestMemoryStore_CreateNode_Validation(t *testing.T) {
	store := newTestStore()

	_, err := store.CreateNode(context.Background(), CreateNodeInput{Type: "widget", Title: "x"})
	if !apperrors.IsValidation(err) {
		t.Errorf("Expected validation error for unknown type, got %v", err)
	}

	_, err = store.CreateNode(context.Background(), CreateNodeInput{Type: NodeTypeNote, Title: "   "})
	if !apperrors.IsValidation(err) {
		t.Errorf("Expected validation error for blank title, got %v", err)
	}
}

func TestMemoryStore_GetNode_NotFound(t *testing.T) {
	store := newTestStore()
	_, err := store.GetNode(context.Background(), "no-such-id")
	if !apperrors.IsNotFound(err) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestMemoryStore_UpdateNode_MonotonicUpdatedAt(t *testing.T) {
	store := newTestStore()
	node := mustCreateNode(t, store, NodeTypeNote, "First", "body")

	title := "Second"
	updated, err := store.UpdateNode(context.Background(), node.ID, NodePatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}
	if !updated.Metadata.UpdatedAt.After(node.Metadata.UpdatedAt) {
		t.Error("Expected updated_at to advance on update")
	}
	if updated.Title != "Second" {
		t.Errorf("Expected title 'Second', got '%s'", updated.Title)
	}
}

func TestMemoryStore_UpdateNode_RederivesEmbedding(t *testing.T) {
	store := newTestStore()
	node := mustCreateNode(t, store, NodeTypeNote, "Coffee", "about coffee")

	content := "about robots now"
	updated, err := store.UpdateNode(context.Background(), node.ID, NodePatch{Content: &content})
	if err != nil {
		t.Fatalf("UpdateNode failed: %v", err)
	}
	// coffee axis stays from the title, robot axis must appear
	if updated.Metadata.Embedding[1] != 1 {
		t.Error("Expected embedding to be re-derived after content change")
	}
}

func TestMemoryStore_DeleteNode_CascadesRelationships(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	a := mustCreateNode(t, store, NodeTypeNote, "A", "")
	b := mustCreateNode(t, store, NodeTypeNote, "B", "")
	c := mustCreateNode(t, store, NodeTypeNote, "C", "")

	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, c.ID}} {
		if _, err := store.CreateRelationship(ctx, CreateRelationshipInput{
			SourceID: pair[0], TargetID: pair[1], Type: RelationRelatedTo,
		}); err != nil {
			t.Fatalf("CreateRelationship failed: %v", err)
		}
	}

	deleted, err := store.DeleteNode(ctx, b.ID)
	if err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	if !deleted {
		t.Fatal("Expected node to be deleted")
	}

	for _, id := range []string{a.ID, c.ID} {
		rels, err := store.GetRelationships(ctx, id)
		if err != nil {
			t.Fatalf("GetRelationships failed: %v", err)
		}
		if len(rels) != 0 {
			t.Errorf("Expected no surviving edges on %s, got %d", id, len(rels))
		}
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalRelationships != 0 {
		t.Errorf("Expected 0 relationships after cascade, got %d", stats.TotalRelationships)
	}
}

func TestMemoryStore_CreateRelationship_DuplicateRejected(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	a := mustCreateNode(t, store, NodeTypeNote, "A", "")
	b := mustCreateNode(t, store, NodeTypeNote, "B", "")

	if _, err := store.CreateRelationship(ctx, CreateRelationshipInput{
		SourceID: a.ID, TargetID: b.ID, Type: RelationRelatedTo,
	}); err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}

	_, err := store.CreateRelationship(ctx, CreateRelationshipInput{
		SourceID: a.ID, TargetID: b.ID, Type: RelationMentions,
	})
	if !apperrors.IsConflict(err) {
		t.Errorf("Expected conflict for duplicate ordered pair, got %v", err)
	}

	// Reverse direction is a different ordered pair
	if _, err := store.CreateRelationship(ctx, CreateRelationshipInput{
		SourceID: b.ID, TargetID: a.ID, Type: RelationRelatedTo,
	}); err != nil {
		t.Errorf("Expected reverse edge to be allowed, got %v", err)
	}
}

func TestMemoryStore_CreateRelationship_UnknownEndpoint(t *testing.T) {
	store := newTestStore()
	a := mustCreateNode(t, store, NodeTypeNote, "A", "")

	_, err := store.CreateRelationship(context.Background(), CreateRelationshipInput{
		SourceID: a.ID, TargetID: "ghost", Type: RelationRelatedTo,
	})
	if !apperrors.IsNotFound(err) {
		t.Errorf("Expected not-found for unknown target, got %v", err)
	}
}

func TestMemoryStore_GetRelatedNodes_UndirectedBFS(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	a := mustCreateNode(t, store, NodeTypeNote, "A", "")
	b := mustCreateNode(t, store, NodeTypeNote, "B", "")
	c := mustCreateNode(t, store, NodeTypeNote, "C", "")
	d := mustCreateNode(t, store, NodeTypeNote, "D", "")

	// a -> b -> c, d -> c (edge direction must not matter for traversal)
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, c.ID}, {d.ID, c.ID}} {
		if _, err := store.CreateRelationship(ctx, CreateRelationshipInput{
			SourceID: pair[0], TargetID: pair[1], Type: RelationRelatedTo,
		}); err != nil {
			t.Fatalf("CreateRelationship failed: %v", err)
		}
	}

	depth1, err := store.GetRelatedNodes(ctx, a.ID, 1)
	if err != nil {
		t.Fatalf("GetRelatedNodes failed: %v", err)
	}
	if len(depth1) != 1 || depth1[0].ID != b.ID {
		t.Errorf("Expected only B at depth 1, got %d nodes", len(depth1))
	}

	depth3, err := store.GetRelatedNodes(ctx, a.ID, 3)
	if err != nil {
		t.Fatalf("GetRelatedNodes failed: %v", err)
	}
	if len(depth3) != 3 {
		t.Errorf("Expected B, C and D at depth 3, got %d nodes", len(depth3))
	}
	for _, node := range depth3 {
		if node.ID == a.ID {
			t.Error("Origin must not appear in its own related set")
		}
	}
}

func TestMemoryStore_SearchNodes(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	mustCreateNode(t, store, NodeTypeConcept, "Coffee brewing", "pour over notes")
	mustCreateNode(t, store, NodeTypeNote, "Garden plan", "tomatoes and herbs", "gardening")

	hits, err := store.SearchNodes(ctx, "COFFEE", 10)
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("Expected 1 hit for case-insensitive title match, got %d", len(hits))
	}

	hits, err = store.SearchNodes(ctx, "gardening", 10)
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("Expected tag match to count, got %d hits", len(hits))
	}

	hits, err = store.SearchNodes(ctx, "   ", 10)
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("Expected blank query to match nothing, got %d hits", len(hits))
	}

	// Repeating a query without mutations returns the same ordered results
	first, err := store.SearchNodes(ctx, "r", 10)
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	second, err := store.SearchNodes(ctx, "r", 10)
	if err != nil {
		t.Fatalf("SearchNodes failed: %v", err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("Expected both queries to match both nodes, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("Expected identical ordering at position %d: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestMemoryStore_SemanticSearch(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	coffee := mustCreateNode(t, store, NodeTypeConcept, "Coffee brewing", "coffee extraction")
	mustCreateNode(t, store, NodeTypeConcept, "Robot arm", "robot kinematics")

	hits, err := store.SemanticSearch(ctx, "coffee roasting", 5)
	if err != nil {
		t.Fatalf("SemanticSearch failed: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("Expected hits")
	}
	if hits[0].Node.ID != coffee.ID {
		t.Errorf("Expected coffee node ranked first, got '%s'", hits[0].Node.Title)
	}
	if hits[0].Score <= 0 || hits[0].Score > 1 {
		t.Errorf("Expected score in (0,1], got %f", hits[0].Score)
	}
}

func TestMemoryStore_GetStats(t *testing.T) {
	store := newTestStore()
	ctx := context.Background()
	a := mustCreateNode(t, store, NodeTypeProject, "P", "")
	b := mustCreateNode(t, store, NodeTypeTask, "T", "")

	if _, err := store.CreateRelationship(ctx, CreateRelationshipInput{
		SourceID: b.ID, TargetID: a.ID, Type: RelationPartOf,
	}); err != nil {
		t.Fatalf("CreateRelationship failed: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.TotalNodes != 2 {
		t.Errorf("Expected 2 nodes, got %d", stats.TotalNodes)
	}
	if stats.NodesByType[NodeTypeProject] != 1 || stats.NodesByType[NodeTypeTask] != 1 {
		t.Errorf("Unexpected nodes-by-type breakdown: %v", stats.NodesByType)
	}
	if stats.TotalRelationships != 1 {
		t.Errorf("Expected 1 relationship, got %d", stats.TotalRelationships)
	}
	// One edge touches both nodes
	if stats.AverageNodeRelationships != 1 {
		t.Errorf("Expected average 1.0, got %f", stats.AverageNodeRelationships)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); got != 1 {
		t.Errorf("Expected identical vectors to score 1, got %f", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
		t.Errorf("Expected orthogonal vectors to score 0, got %f", got)
	}
	if got := Cosine(nil, []float32{1}); got != 0 {
		t.Errorf("Expected empty vector to score 0, got %f", got)
	}
}
