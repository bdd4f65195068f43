package graph

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "oliver-os/backend/pkg/errors"
	"oliver-os/backend/pkg/logger"
	"go.uber.org/zap"
)

// Embedder converts text to a vector. The store treats it as a black box and
// never fails a write because of it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the graph storage contract. MemoryStore is the reference
// implementation; Neo4jStore preserves the same contract on a durable backend.
type Store interface {
	CreateNode(ctx context.Context, input CreateNodeInput) (*Node, error)
	GetNode(ctx context.Context, id string) (*Node, error)
	UpdateNode(ctx context.Context, id string, patch NodePatch) (*Node, error)
	DeleteNode(ctx context.Context, id string) (bool, error)
	ListNodes(ctx context.Context, nodeType NodeType) ([]*Node, error)
	SearchNodes(ctx context.Context, query string, limit int) ([]*Node, error)
	SemanticSearch(ctx context.Context, text string, k int) ([]ScoredNode, error)
	CreateRelationship(ctx context.Context, input CreateRelationshipInput) (*Relationship, error)
	GetRelationship(ctx context.Context, id string) (*Relationship, error)
	UpdateRelationship(ctx context.Context, id string, patch RelationshipPatch) (*Relationship, error)
	DeleteRelationship(ctx context.Context, id string) (bool, error)
	GetRelationships(ctx context.Context, nodeID string) ([]Relationship, error)
	GetRelatedNodes(ctx context.Context, id string, depth int) ([]*Node, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// MemoryStore is the in-process reference implementation. All mutation is
// serialized by a single mutex so parallel callers cannot leave a
// relationship pointing at a deleted node.
type MemoryStore struct {
	mu        sync.RWMutex
	nodes     map[string]*Node
	nodeOrder []string
	rels      map[string]*Relationship
	relPairs  map[string]string // "source|target" -> relationship id
	relOrder  []string
	embedder  Embedder
	logger    *zap.Logger
}

// NewMemoryStore creates an in-memory graph store. The embedder is optional;
// without one, nodes simply carry no embedding and semantic search returns
// empty results.
func NewMemoryStore(embedder Embedder) *MemoryStore {
	return &MemoryStore{
		nodes:    make(map[string]*Node),
		rels:     make(map[string]*Relationship),
		relPairs: make(map[string]string),
		embedder: embedder,
		logger:   logger.Named("graph"),
	}
}

func pairKey(sourceID, targetID string) string {
	return sourceID + "|" + targetID
}

// CreateNode assigns an id, stamps timestamps, defaults the tag set and
// derives the embedding (best-effort).
func (s *MemoryStore) CreateNode(ctx context.Context, input CreateNodeInput) (*Node, error) {
	if !ValidNodeType(input.Type) {
		return nil, apperrors.NewValidation("type", "unknown node type: "+string(input.Type))
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, apperrors.NewValidation("title", "must not be empty")
	}

	now := time.Now().UTC()
	node := &Node{
		ID:      uuid.NewString(),
		Type:    input.Type,
		Title:   input.Title,
		Content: input.Content,
		Metadata: NodeMetadata{
			CreatedAt: now,
			UpdatedAt: now,
			Tags:      normalizeTags(input.Tags),
			Extra:     input.Extra,
		},
	}
	node.Metadata.Embedding = s.deriveEmbedding(ctx, node)

	s.mu.Lock()
	s.nodes[node.ID] = node
	s.nodeOrder = append(s.nodeOrder, node.ID)
	s.mu.Unlock()

	s.logger.Debug("node created",
		zap.String("node_id", node.ID),
		zap.String("type", string(node.Type)),
	)
	return s.snapshot(node), nil
}

// GetNode returns the node with its live relationship list populated.
func (s *MemoryStore) GetNode(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.nodes[id]
	if !ok {
		return nil, apperrors.NewNodeNotFound(id)
	}
	out := s.snapshot(node)
	out.Relationships = s.incidentEdgesLocked(id)
	return out, nil
}

// UpdateNode merges the patch and always refreshes the updated timestamp,
// keeping it monotonically non-decreasing. Title or content edits re-derive
// the embedding.
func (s *MemoryStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*Node, error) {
	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NewNodeNotFound(id)
	}

	textChanged := false
	if patch.Type != nil {
		if !ValidNodeType(*patch.Type) {
			s.mu.Unlock()
			return nil, apperrors.NewValidation("type", "unknown node type: "+string(*patch.Type))
		}
		node.Type = *patch.Type
	}
	if patch.Title != nil && *patch.Title != node.Title {
		node.Title = *patch.Title
		textChanged = true
	}
	if patch.Content != nil && *patch.Content != node.Content {
		node.Content = *patch.Content
		textChanged = true
	}
	if patch.Tags != nil {
		node.Metadata.Tags = normalizeTags(patch.Tags)
	}
	if patch.Extra != nil {
		if node.Metadata.Extra == nil {
			node.Metadata.Extra = make(map[string]interface{}, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			node.Metadata.Extra[k] = v
		}
	}

	now := time.Now().UTC()
	if !now.After(node.Metadata.UpdatedAt) {
		now = node.Metadata.UpdatedAt.Add(time.Nanosecond)
	}
	node.Metadata.UpdatedAt = now
	s.mu.Unlock()

	if textChanged {
		emb := s.deriveEmbedding(ctx, node)
		s.mu.Lock()
		if current, ok := s.nodes[id]; ok {
			current.Metadata.Embedding = emb
		}
		s.mu.Unlock()
	}

	return s.GetNode(ctx, id)
}

// DeleteNode removes the node and every incident relationship atomically.
func (s *MemoryStore) DeleteNode(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[id]; !ok {
		return false, nil
	}
	delete(s.nodes, id)
	for i, nid := range s.nodeOrder {
		if nid == id {
			s.nodeOrder = append(s.nodeOrder[:i], s.nodeOrder[i+1:]...)
			break
		}
	}

	for relID, rel := range s.rels {
		if rel.SourceID == id || rel.TargetID == id {
			s.removeRelationshipLocked(relID)
		}
	}

	s.logger.Debug("node deleted", zap.String("node_id", id))
	return true, nil
}

// ListNodes returns all nodes in store order, optionally filtered by type.
func (s *MemoryStore) ListNodes(ctx context.Context, nodeType NodeType) ([]*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Node, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		node := s.nodes[id]
		if nodeType != "" && node.Type != nodeType {
			continue
		}
		out = append(out, s.snapshot(node))
	}
	return out, nil
}

// SearchNodes does a case-insensitive substring match over title, content and
// tags, returning at most limit results in store order. Ranking is layered on
// top by consumers.
func (s *MemoryStore) SearchNodes(ctx context.Context, query string, limit int) ([]*Node, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []*Node{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Node
	for _, id := range s.nodeOrder {
		node := s.nodes[id]
		if nodeMatches(node, q) {
			out = append(out, s.snapshot(node))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	if out == nil {
		out = []*Node{}
	}
	return out, nil
}

func nodeMatches(node *Node, q string) bool {
	if strings.Contains(strings.ToLower(node.Title), q) {
		return true
	}
	if strings.Contains(strings.ToLower(node.Content), q) {
		return true
	}
	for _, tag := range node.Metadata.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// SemanticSearch embeds the query and ranks nodes by cosine similarity of
// their stored embeddings. Nodes without an embedding are skipped.
func (s *MemoryStore) SemanticSearch(ctx context.Context, text string, k int) ([]ScoredNode, error) {
	if s.embedder == nil {
		return []ScoredNode{}, nil
	}
	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperrors.NewUpstreamFailed("embedding", err)
	}

	s.mu.RLock()
	hits := make([]ScoredNode, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		node := s.nodes[id]
		if len(node.Metadata.Embedding) == 0 {
			continue
		}
		hits = append(hits, ScoredNode{
			Node:  s.snapshot(node),
			Score: Cosine(queryVec, node.Metadata.Embedding),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// CreateRelationship validates both endpoints, rejects duplicates for the
// same ordered pair and defaults strength to 0.5.
func (s *MemoryStore) CreateRelationship(ctx context.Context, input CreateRelationshipInput) (*Relationship, error) {
	if !ValidRelationType(input.Type) {
		return nil, apperrors.NewValidation("type", "unknown relationship type: "+string(input.Type))
	}
	if input.SourceID == input.TargetID {
		return nil, apperrors.NewValidation("target_node_id", "relationship endpoints must differ")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[input.SourceID]; !ok {
		return nil, apperrors.NewNodeNotFound(input.SourceID)
	}
	if _, ok := s.nodes[input.TargetID]; !ok {
		return nil, apperrors.NewNodeNotFound(input.TargetID)
	}
	if _, ok := s.relPairs[pairKey(input.SourceID, input.TargetID)]; ok {
		return nil, apperrors.NewDuplicateRelationship(input.SourceID, input.TargetID)
	}

	strength := input.Strength
	if strength == 0 {
		strength = 0.5
	}
	rel := &Relationship{
		ID:        uuid.NewString(),
		SourceID:  input.SourceID,
		TargetID:  input.TargetID,
		Type:      input.Type,
		Strength:  clamp01(strength),
		Metadata:  input.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	s.rels[rel.ID] = rel
	s.relPairs[pairKey(rel.SourceID, rel.TargetID)] = rel.ID
	s.relOrder = append(s.relOrder, rel.ID)

	s.logger.Debug("relationship created",
		zap.String("relationship_id", rel.ID),
		zap.String("source", rel.SourceID),
		zap.String("target", rel.TargetID),
		zap.String("type", string(rel.Type)),
	)
	out := *rel
	return &out, nil
}

// GetRelationship returns a relationship by id.
func (s *MemoryStore) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rel, ok := s.rels[id]
	if !ok {
		return nil, apperrors.NewRelationshipNotFound(id)
	}
	out := *rel
	return &out, nil
}

// UpdateRelationship patches strength and metadata, used on re-scoring.
func (s *MemoryStore) UpdateRelationship(ctx context.Context, id string, patch RelationshipPatch) (*Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel, ok := s.rels[id]
	if !ok {
		return nil, apperrors.NewRelationshipNotFound(id)
	}
	if patch.Strength != nil {
		rel.Strength = clamp01(*patch.Strength)
	}
	if patch.Metadata != nil {
		if rel.Metadata == nil {
			rel.Metadata = make(map[string]interface{}, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			rel.Metadata[k] = v
		}
	}
	out := *rel
	return &out, nil
}

// DeleteRelationship removes a single edge; returns whether anything was deleted.
func (s *MemoryStore) DeleteRelationship(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rels[id]; !ok {
		return false, nil
	}
	s.removeRelationshipLocked(id)
	return true, nil
}

// GetRelationships returns every edge touching nodeID, in creation order.
func (s *MemoryStore) GetRelationships(ctx context.Context, nodeID string) ([]Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return nil, apperrors.NewNodeNotFound(nodeID)
	}
	return s.incidentEdgesLocked(nodeID), nil
}

// GetRelatedNodes walks relationships as undirected edges breadth-first up to
// depth hops, excluding the origin node.
func (s *MemoryStore) GetRelatedNodes(ctx context.Context, id string, depth int) ([]*Node, error) {
	if depth < 1 {
		depth = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[id]; !ok {
		return nil, apperrors.NewNodeNotFound(id)
	}

	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []*Node

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, current := range frontier {
			for _, relID := range s.relOrder {
				rel := s.rels[relID]
				var neighbor string
				switch current {
				case rel.SourceID:
					neighbor = rel.TargetID
				case rel.TargetID:
					neighbor = rel.SourceID
				default:
					continue
				}
				if visited[neighbor] {
					continue
				}
				visited[neighbor] = true
				if node, ok := s.nodes[neighbor]; ok {
					out = append(out, s.snapshot(node))
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}
	if out == nil {
		out = []*Node{}
	}
	return out, nil
}

// GetStats returns an aggregate snapshot of the graph.
func (s *MemoryStore) GetStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		TotalNodes:          len(s.nodes),
		NodesByType:         make(map[NodeType]int),
		TotalRelationships:  len(s.rels),
		RelationshipsByType: make(map[RelationType]int),
	}
	for _, node := range s.nodes {
		stats.NodesByType[node.Type]++
	}
	for _, rel := range s.rels {
		stats.RelationshipsByType[rel.Type]++
	}
	if stats.TotalNodes > 0 {
		// Each edge touches two nodes.
		stats.AverageNodeRelationships = float64(2*stats.TotalRelationships) / float64(stats.TotalNodes)
	}
	return stats, nil
}

// Internal helpers. Callers hold the appropriate lock.

func (s *MemoryStore) incidentEdgesLocked(nodeID string) []Relationship {
	out := []Relationship{}
	for _, relID := range s.relOrder {
		rel := s.rels[relID]
		if rel.SourceID == nodeID || rel.TargetID == nodeID {
			out = append(out, *rel)
		}
	}
	return out
}

func (s *MemoryStore) removeRelationshipLocked(relID string) {
	rel, ok := s.rels[relID]
	if !ok {
		return
	}
	delete(s.rels, relID)
	delete(s.relPairs, pairKey(rel.SourceID, rel.TargetID))
	for i, id := range s.relOrder {
		if id == relID {
			s.relOrder = append(s.relOrder[:i], s.relOrder[i+1:]...)
			break
		}
	}
}

// snapshot returns a copy safe to hand to callers.
func (s *MemoryStore) snapshot(node *Node) *Node {
	out := *node
	out.Metadata.Tags = append([]string(nil), node.Metadata.Tags...)
	if node.Metadata.Embedding != nil {
		out.Metadata.Embedding = append([]float32(nil), node.Metadata.Embedding...)
	}
	if node.Metadata.Extra != nil {
		extra := make(map[string]interface{}, len(node.Metadata.Extra))
		for k, v := range node.Metadata.Extra {
			extra[k] = v
		}
		out.Metadata.Extra = extra
	}
	out.Relationships = nil
	return &out
}

func (s *MemoryStore) deriveEmbedding(ctx context.Context, node *Node) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, node.Title+"\n"+node.Content)
	if err != nil {
		s.logger.Warn("failed to derive node embedding",
			zap.String("node_id", node.ID),
			zap.Error(err),
		)
		return nil
	}
	return vec
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Cosine computes cosine similarity between two vectors, mapped into [0,1].
// Mismatched or empty vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	// Negative similarity carries no linking signal.
	return clamp01(sim)
}
