package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	apperrors "oliver-os/backend/pkg/errors"
	"oliver-os/backend/pkg/logger"
	"go.uber.org/zap"
)

// Neo4jStore is the durable Store implementation. It preserves the exact
// contract of MemoryStore on a Neo4j backend; the reference behavior and the
// contract tests live with MemoryStore.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	embedder Embedder
	logger   *zap.Logger
}

// NewNeo4jStore creates a graph store backed by Neo4j.
func NewNeo4jStore(driver neo4j.DriverWithContext, embedder Embedder) *Neo4jStore {
	return &Neo4jStore{
		driver:   driver,
		embedder: embedder,
		logger:   logger.Named("graph.neo4j"),
	}
}

// Close closes the underlying driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

// CreateNode assigns an id, stamps timestamps and derives the embedding.
func (s *Neo4jStore) CreateNode(ctx context.Context, input CreateNodeInput) (*Node, error) {
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
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, node.Title+"\n"+node.Content)
		if err != nil {
			s.logger.Warn("failed to derive node embedding", zap.String("node_id", node.ID), zap.Error(err))
		} else {
			node.Metadata.Embedding = vec
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		CREATE (n:Knowledge {
			id: $id, type: $type, title: $title, content: $content,
			tags: $tags, embedding: $embedding, extra: $extra,
			created_at: datetime($now), updated_at: datetime($now)
		})
		RETURN n.id as id
	`
	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":        node.ID,
		"type":      string(node.Type),
		"title":     node.Title,
		"content":   node.Content,
		"tags":      node.Metadata.Tags,
		"embedding": float32sTo64(node.Metadata.Embedding),
		"extra":     marshalJSON(node.Metadata.Extra),
		"now":       now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, apperrors.NewStorageFailed("create node", err)
	}

	s.logger.Debug("node created", zap.String("node_id", node.ID), zap.String("type", string(node.Type)))
	return node, nil
}

// GetNode returns the node with its live relationship list populated.
func (s *Neo4jStore) GetNode(ctx context.Context, id string) (*Node, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `MATCH (n:Knowledge {id: $id}) RETURN `+nodeReturnClause, map[string]interface{}{"id": id})
	if err != nil {
		return nil, apperrors.NewStorageFailed("get node", err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return nil, apperrors.NewStorageFailed("get node", err)
		}
		return nil, apperrors.NewNodeNotFound(id)
	}
	node := nodeFromRecord(result.Record())

	rels, err := s.GetRelationships(ctx, id)
	if err != nil {
		return nil, err
	}
	node.Relationships = rels
	return node, nil
}

// UpdateNode merges the patch, refreshes updated_at and re-derives the
// embedding on title/content change.
func (s *Neo4jStore) UpdateNode(ctx context.Context, id string, patch NodePatch) (*Node, error) {
	current, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}

	textChanged := false
	if patch.Type != nil {
		if !ValidNodeType(*patch.Type) {
			return nil, apperrors.NewValidation("type", "unknown node type: "+string(*patch.Type))
		}
		current.Type = *patch.Type
	}
	if patch.Title != nil && *patch.Title != current.Title {
		current.Title = *patch.Title
		textChanged = true
	}
	if patch.Content != nil && *patch.Content != current.Content {
		current.Content = *patch.Content
		textChanged = true
	}
	if patch.Tags != nil {
		current.Metadata.Tags = normalizeTags(patch.Tags)
	}
	if patch.Extra != nil {
		if current.Metadata.Extra == nil {
			current.Metadata.Extra = make(map[string]interface{}, len(patch.Extra))
		}
		for k, v := range patch.Extra {
			current.Metadata.Extra[k] = v
		}
	}
	if textChanged && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, current.Title+"\n"+current.Content)
		if err != nil {
			s.logger.Warn("failed to re-derive node embedding", zap.String("node_id", id), zap.Error(err))
		} else {
			current.Metadata.Embedding = vec
		}
	}
	now := time.Now().UTC()
	if !now.After(current.Metadata.UpdatedAt) {
		now = current.Metadata.UpdatedAt.Add(time.Microsecond)
	}
	current.Metadata.UpdatedAt = now

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MATCH (n:Knowledge {id: $id})
		SET n.type = $type, n.title = $title, n.content = $content,
		    n.tags = $tags, n.embedding = $embedding, n.extra = $extra,
		    n.updated_at = datetime($now)
		RETURN n.id as id
	`
	result, err := session.Run(ctx, query, map[string]interface{}{
		"id":        id,
		"type":      string(current.Type),
		"title":     current.Title,
		"content":   current.Content,
		"tags":      current.Metadata.Tags,
		"embedding": float32sTo64(current.Metadata.Embedding),
		"extra":     marshalJSON(current.Metadata.Extra),
		"now":       now.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, apperrors.NewStorageFailed("update node", err)
	}
	if _, err := result.Single(ctx); err != nil {
		return nil, apperrors.NewNodeNotFound(id)
	}
	return current, nil
}

// DeleteNode removes the node and every incident relationship atomically
// (DETACH DELETE), so no edge can reference a deleted node.
func (s *Neo4jStore) DeleteNode(ctx context.Context, id string) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n:Knowledge {id: $id})
		WITH n, count(n) as found
		DETACH DELETE n
		RETURN found
	`, map[string]interface{}{"id": id})
	if err != nil {
		return false, apperrors.NewStorageFailed("delete node", err)
	}
	if result.Next(ctx) {
		return true, nil
	}
	return false, nil
}

// ListNodes returns nodes in creation order, optionally filtered by type.
func (s *Neo4jStore) ListNodes(ctx context.Context, nodeType NodeType) ([]*Node, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `MATCH (n:Knowledge) WHERE $type = '' OR n.type = $type RETURN ` + nodeReturnClause + ` ORDER BY n.created_at`
	result, err := session.Run(ctx, query, map[string]interface{}{"type": string(nodeType)})
	if err != nil {
		return nil, apperrors.NewStorageFailed("list nodes", err)
	}

	out := []*Node{}
	for result.Next(ctx) {
		out = append(out, nodeFromRecord(result.Record()))
	}
	return out, result.Err()
}

// SearchNodes does a case-insensitive substring match over title, content and tags.
func (s *Neo4jStore) SearchNodes(ctx context.Context, query string, limit int) ([]*Node, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []*Node{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	cypher := `
		MATCH (n:Knowledge)
		WHERE toLower(n.title) CONTAINS $q
		   OR toLower(n.content) CONTAINS $q
		   OR any(tag IN n.tags WHERE toLower(tag) CONTAINS $q)
		RETURN ` + nodeReturnClause + `
		ORDER BY n.created_at
		LIMIT $limit
	`
	result, err := session.Run(ctx, cypher, map[string]interface{}{"q": q, "limit": limit})
	if err != nil {
		return nil, apperrors.NewStorageFailed("search nodes", err)
	}

	out := []*Node{}
	for result.Next(ctx) {
		out = append(out, nodeFromRecord(result.Record()))
	}
	return out, result.Err()
}

// SemanticSearch ranks nodes by cosine similarity against the query embedding.
func (s *Neo4jStore) SemanticSearch(ctx context.Context, text string, k int) ([]ScoredNode, error) {
	if s.embedder == nil {
		return []ScoredNode{}, nil
	}
	queryVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, apperrors.NewUpstreamFailed("embedding", err)
	}

	nodes, err := s.ListNodes(ctx, "")
	if err != nil {
		return nil, err
	}
	hits := make([]ScoredNode, 0, len(nodes))
	for _, node := range nodes {
		if len(node.Metadata.Embedding) == 0 {
			continue
		}
		hits = append(hits, ScoredNode{Node: node, Score: Cosine(queryVec, node.Metadata.Embedding)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// CreateRelationship validates endpoints and rejects duplicates for the
// ordered pair.
func (s *Neo4jStore) CreateRelationship(ctx context.Context, input CreateRelationshipInput) (*Relationship, error) {
	if !ValidRelationType(input.Type) {
		return nil, apperrors.NewValidation("type", "unknown relationship type: "+string(input.Type))
	}
	if input.SourceID == input.TargetID {
		return nil, apperrors.NewValidation("target_node_id", "relationship endpoints must differ")
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	exists, err := session.Run(ctx, `
		OPTIONAL MATCH (a:Knowledge {id: $source})
		OPTIONAL MATCH (b:Knowledge {id: $target})
		OPTIONAL MATCH (a)-[r:LINKED]->(b)
		RETURN a.id as source, b.id as target, r.id as existing
	`, map[string]interface{}{"source": input.SourceID, "target": input.TargetID})
	if err != nil {
		return nil, apperrors.NewStorageFailed("create relationship", err)
	}
	record, err := exists.Single(ctx)
	if err != nil {
		return nil, apperrors.NewStorageFailed("create relationship", err)
	}
	if getStringFromRecord(record, "source") == "" {
		return nil, apperrors.NewNodeNotFound(input.SourceID)
	}
	if getStringFromRecord(record, "target") == "" {
		return nil, apperrors.NewNodeNotFound(input.TargetID)
	}
	if getStringFromRecord(record, "existing") != "" {
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
	_, err = session.Run(ctx, `
		MATCH (a:Knowledge {id: $source})
		MATCH (b:Knowledge {id: $target})
		CREATE (a)-[r:LINKED {
			id: $id, type: $type, strength: $strength,
			metadata: $metadata, created_at: datetime($now)
		}]->(b)
	`, map[string]interface{}{
		"source":   rel.SourceID,
		"target":   rel.TargetID,
		"id":       rel.ID,
		"type":     string(rel.Type),
		"strength": rel.Strength,
		"metadata": marshalJSON(rel.Metadata),
		"now":      rel.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, apperrors.NewStorageFailed("create relationship", err)
	}
	return rel, nil
}

// GetRelationship returns a relationship by id.
func (s *Neo4jStore) GetRelationship(ctx context.Context, id string) (*Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (a:Knowledge)-[r:LINKED {id: $id}]->(b:Knowledge)
		RETURN `+relReturnClause, map[string]interface{}{"id": id})
	if err != nil {
		return nil, apperrors.NewStorageFailed("get relationship", err)
	}
	if !result.Next(ctx) {
		return nil, apperrors.NewRelationshipNotFound(id)
	}
	rel := relFromRecord(result.Record())
	return &rel, nil
}

// UpdateRelationship patches strength and metadata.
func (s *Neo4jStore) UpdateRelationship(ctx context.Context, id string, patch RelationshipPatch) (*Relationship, error) {
	current, err := s.GetRelationship(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.Strength != nil {
		current.Strength = clamp01(*patch.Strength)
	}
	if patch.Metadata != nil {
		if current.Metadata == nil {
			current.Metadata = make(map[string]interface{}, len(patch.Metadata))
		}
		for k, v := range patch.Metadata {
			current.Metadata[k] = v
		}
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.Run(ctx, `
		MATCH ()-[r:LINKED {id: $id}]->()
		SET r.strength = $strength, r.metadata = $metadata
	`, map[string]interface{}{
		"id":       id,
		"strength": current.Strength,
		"metadata": marshalJSON(current.Metadata),
	})
	if err != nil {
		return nil, apperrors.NewStorageFailed("update relationship", err)
	}
	return current, nil
}

// DeleteRelationship removes a single edge.
func (s *Neo4jStore) DeleteRelationship(ctx context.Context, id string) (bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH ()-[r:LINKED {id: $id}]->()
		WITH r, count(r) as found
		DELETE r
		RETURN found
	`, map[string]interface{}{"id": id})
	if err != nil {
		return false, apperrors.NewStorageFailed("delete relationship", err)
	}
	return result.Next(ctx), nil
}

// GetRelationships returns every edge touching nodeID.
func (s *Neo4jStore) GetRelationships(ctx context.Context, nodeID string) ([]Relationship, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	check, err := session.Run(ctx, `MATCH (n:Knowledge {id: $id}) RETURN n.id as id`, map[string]interface{}{"id": nodeID})
	if err != nil {
		return nil, apperrors.NewStorageFailed("get relationships", err)
	}
	if !check.Next(ctx) {
		return nil, apperrors.NewNodeNotFound(nodeID)
	}

	result, err := session.Run(ctx, `
		MATCH (a:Knowledge)-[r:LINKED]->(b:Knowledge)
		WHERE a.id = $id OR b.id = $id
		RETURN `+relReturnClause+`
		ORDER BY r.created_at
	`, map[string]interface{}{"id": nodeID})
	if err != nil {
		return nil, apperrors.NewStorageFailed("get relationships", err)
	}

	out := []Relationship{}
	for result.Next(ctx) {
		out = append(out, relFromRecord(result.Record()))
	}
	return out, result.Err()
}

// GetRelatedNodes walks edges as undirected breadth-first up to depth hops.
func (s *Neo4jStore) GetRelatedNodes(ctx context.Context, id string, depth int) ([]*Node, error) {
	if depth < 1 {
		depth = 1
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	check, err := session.Run(ctx, `MATCH (n:Knowledge {id: $id}) RETURN n.id as id`, map[string]interface{}{"id": id})
	if err != nil {
		return nil, apperrors.NewStorageFailed("get related nodes", err)
	}
	if !check.Next(ctx) {
		return nil, apperrors.NewNodeNotFound(id)
	}

	// Variable-length patterns cannot take a parameterized bound, so the
	// depth is interpolated; it is an int, not caller text.
	cypher := fmt.Sprintf(`
		MATCH (origin:Knowledge {id: $id})-[:LINKED*1..%d]-(n:Knowledge)
		WHERE n.id <> $id
		RETURN DISTINCT `+nodeReturnClause+`
		ORDER BY n.created_at
	`, depth)
	result, err := session.Run(ctx, cypher, map[string]interface{}{"id": id})
	if err != nil {
		return nil, apperrors.NewStorageFailed("get related nodes", err)
	}

	out := []*Node{}
	for result.Next(ctx) {
		out = append(out, nodeFromRecord(result.Record()))
	}
	return out, result.Err()
}

// GetStats returns an aggregate snapshot of the graph.
func (s *Neo4jStore) GetStats(ctx context.Context) (*Stats, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	stats := &Stats{
		NodesByType:         make(map[NodeType]int),
		RelationshipsByType: make(map[RelationType]int),
	}

	nodes, err := session.Run(ctx, `MATCH (n:Knowledge) RETURN n.type as type, count(n) as count`, nil)
	if err != nil {
		return nil, apperrors.NewStorageFailed("graph stats", err)
	}
	for nodes.Next(ctx) {
		record := nodes.Record()
		count := int(getInt64FromRecord(record, "count"))
		stats.NodesByType[NodeType(getStringFromRecord(record, "type"))] = count
		stats.TotalNodes += count
	}

	rels, err := session.Run(ctx, `MATCH ()-[r:LINKED]->() RETURN r.type as type, count(r) as count`, nil)
	if err != nil {
		return nil, apperrors.NewStorageFailed("graph stats", err)
	}
	for rels.Next(ctx) {
		record := rels.Record()
		count := int(getInt64FromRecord(record, "count"))
		stats.RelationshipsByType[RelationType(getStringFromRecord(record, "type"))] = count
		stats.TotalRelationships += count
	}

	if stats.TotalNodes > 0 {
		stats.AverageNodeRelationships = float64(2*stats.TotalRelationships) / float64(stats.TotalNodes)
	}
	return stats, nil
}

// Record decoding helpers

const nodeReturnClause = `
	n.id as id, n.type as type, n.title as title, n.content as content,
	n.tags as tags, n.embedding as embedding, n.extra as extra,
	n.created_at as created_at, n.updated_at as updated_at
`

const relReturnClause = `
	r.id as id, a.id as source, b.id as target, r.type as type,
	r.strength as strength, r.metadata as metadata, r.created_at as created_at
`

func nodeFromRecord(record *neo4j.Record) *Node {
	return &Node{
		ID:      getStringFromRecord(record, "id"),
		Type:    NodeType(getStringFromRecord(record, "type")),
		Title:   getStringFromRecord(record, "title"),
		Content: getStringFromRecord(record, "content"),
		Metadata: NodeMetadata{
			CreatedAt: getTimeFromRecord(record, "created_at"),
			UpdatedAt: getTimeFromRecord(record, "updated_at"),
			Tags:      getStringSliceFromRecord(record, "tags"),
			Embedding: getEmbeddingFromRecord(record, "embedding"),
			Extra:     unmarshalJSON(getStringFromRecord(record, "extra")),
		},
	}
}

func relFromRecord(record *neo4j.Record) Relationship {
	return Relationship{
		ID:        getStringFromRecord(record, "id"),
		SourceID:  getStringFromRecord(record, "source"),
		TargetID:  getStringFromRecord(record, "target"),
		Type:      RelationType(getStringFromRecord(record, "type")),
		Strength:  getFloat64FromRecord(record, "strength"),
		Metadata:  unmarshalJSON(getStringFromRecord(record, "metadata")),
		CreatedAt: getTimeFromRecord(record, "created_at"),
	}
}

func getStringFromRecord(record *neo4j.Record, key string) string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func getFloat64FromRecord(record *neo4j.Record, key string) float64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if f, ok := val.(float64); ok {
		return f
	}
	return 0
}

func getInt64FromRecord(record *neo4j.Record, key string) int64 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return 0
	}
	if n, ok := val.(int64); ok {
		return n
	}
	return 0
}

func getTimeFromRecord(record *neo4j.Record, key string) time.Time {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return time.Time{}
	}
	if t, ok := val.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func getStringSliceFromRecord(record *neo4j.Record, key string) []string {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return []string{}
	}
	if slice, ok := val.([]interface{}); ok {
		out := make([]string, 0, len(slice))
		for _, v := range slice {
			if str, ok := v.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return []string{}
}

func getEmbeddingFromRecord(record *neo4j.Record, key string) []float32 {
	val, ok := record.Get(key)
	if !ok || val == nil {
		return nil
	}
	if slice, ok := val.([]interface{}); ok {
		out := make([]float32, 0, len(slice))
		for _, v := range slice {
			if f, ok := v.(float64); ok {
				out = append(out, float32(f))
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func float32sTo64(in []float32) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func marshalJSON(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON(s string) map[string]interface{} {
	if s == "" {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
