package graph

import "time"

// NodeType classifies a knowledge node. The set is closed.
type NodeType string

const (
	NodeTypeBusinessIdea NodeType = "business_idea"
	NodeTypeProject      NodeType = "project"
	NodeTypePerson       NodeType = "person"
	NodeTypeConcept      NodeType = "concept"
	NodeTypeTask         NodeType = "task"
	NodeTypeNote         NodeType = "note"
)

// ValidNodeType reports whether t is one of the closed node types
func ValidNodeType(t NodeType) bool {
	switch t {
	case NodeTypeBusinessIdea, NodeTypeProject, NodeTypePerson, NodeTypeConcept, NodeTypeTask, NodeTypeNote:
		return true
	}
	return false
}

// RelationType classifies a relationship. The set is closed.
type RelationType string

const (
	RelationRelatedTo  RelationType = "related_to"
	RelationPartOf     RelationType = "part_of"
	RelationDependsOn  RelationType = "depends_on"
	RelationInspiredBy RelationType = "inspired_by"
	RelationMentions   RelationType = "mentions"
)

// ValidRelationType reports whether t is one of the closed relationship types
func ValidRelationType(t RelationType) bool {
	switch t {
	case RelationRelatedTo, RelationPartOf, RelationDependsOn, RelationInspiredBy, RelationMentions:
		return true
	}
	return false
}

// Provenance values recorded in relationship metadata
const (
	ProvenanceUser      = "user"
	ProvenanceAI        = "ai"
	ProvenanceAutomatic = "automatic"
)

// NodeMetadata carries timestamps, tags and the derived embedding
type NodeMetadata struct {
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Tags      []string               `json:"tags"`
	Embedding []float32              `json:"embedding,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Node is a typed knowledge unit. Relationships are derived on read,
// never stored on the node itself.
type Node struct {
	ID            string         `json:"id"`
	Type          NodeType       `json:"type"`
	Title         string         `json:"title"`
	Content       string         `json:"content"`
	Metadata      NodeMetadata   `json:"metadata"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Relationship is a directed, typed, strength-scored edge between two nodes
type Relationship struct {
	ID       string                 `json:"id"`
	SourceID string                 `json:"source_node_id"`
	TargetID string                 `json:"target_node_id"`
	Type     RelationType           `json:"type"`
	Strength float64                `json:"strength"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// CreateNodeInput is the caller-facing input for CreateNode
type CreateNodeInput struct {
	Type    NodeType               `json:"type"`
	Title   string                 `json:"title"`
	Content string                 `json:"content"`
	Tags    []string               `json:"tags,omitempty"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// NodePatch carries partial updates for UpdateNode. Nil fields are left as-is.
type NodePatch struct {
	Type    *NodeType              `json:"type,omitempty"`
	Title   *string                `json:"title,omitempty"`
	Content *string                `json:"content,omitempty"`
	Tags    []string               `json:"tags,omitempty"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}

// CreateRelationshipInput is the caller-facing input for CreateRelationship
type CreateRelationshipInput struct {
	SourceID string                 `json:"source_node_id"`
	TargetID string                 `json:"target_node_id"`
	Type     RelationType           `json:"type"`
	Strength float64                `json:"strength,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RelationshipPatch carries partial updates for UpdateRelationship
type RelationshipPatch struct {
	Strength *float64               `json:"strength,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ScoredNode is a semantic search hit with its similarity score
type ScoredNode struct {
	Node  *Node   `json:"node"`
	Score float64 `json:"score"`
}

// Stats is an aggregate snapshot of the graph
type Stats struct {
	TotalNodes               int                  `json:"total_nodes"`
	NodesByType              map[NodeType]int     `json:"nodes_by_type"`
	TotalRelationships       int                  `json:"total_relationships"`
	RelationshipsByType      map[RelationType]int `json:"relationships_by_type"`
	AverageNodeRelationships float64              `json:"average_node_relationships"`
}
