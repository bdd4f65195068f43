package linking

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"oliver-os/backend/internal/graph"
	apperrors "oliver-os/backend/pkg/errors"
	"oliver-os/backend/pkg/logger"
)

// Suggestion is one proposed link from a source node to a candidate.
type Suggestion struct {
	TargetID  string             `json:"target_node_id"`
	Type      graph.RelationType `json:"type"`
	Strength  float64            `json:"strength"`
	Signals   Signals            `json:"signals"`
	Reasoning string             `json:"reasoning"`
}

// Engine scores candidate pairs and materializes relationships. Every other
// node in the graph is a candidate; the semantic search only contributes the
// rank-based signal, the remaining signals are computed pairwise.
type Engine struct {
	store     graph.Store
	threshold float64
	maxLinks  int
	logger    *zap.Logger
}

// NewEngine builds a linking engine. Threshold is the minimum combined score
// for a link; maxLinks caps links created per source node.
func NewEngine(store graph.Store, threshold float64, maxLinks int) *Engine {
	if threshold <= 0 {
		threshold = 0.6
	}
	if maxLinks <= 0 {
		maxLinks = 7
	}
	return &Engine{
		store:     store,
		threshold: threshold,
		maxLinks:  maxLinks,
		logger:    logger.Named("linking"),
	}
}

// FindRelationships scores candidates for the node and returns suggestions
// above the threshold without creating anything. The topic signal is left
// out here; it exists to stabilize automatic linking, and previews should
// show the raw affinity.
func (e *Engine) FindRelationships(ctx context.Context, nodeID string) ([]Suggestion, error) {
	return e.suggest(ctx, nodeID, false)
}

// AutoLinkNode scores candidates and creates the winning relationships in
// both directions. A failure on one candidate is logged and skipped; the
// rest still link.
func (e *Engine) AutoLinkNode(ctx context.Context, nodeID string) ([]Suggestion, error) {
	suggestions, err := e.suggest(ctx, nodeID, true)
	if err != nil {
		return nil, err
	}

	created := make([]Suggestion, 0, len(suggestions))
	for _, s := range suggestions {
		if err := e.materialize(ctx, nodeID, s); err != nil {
			e.logger.Warn("failed to create automatic link",
				zap.String("source", nodeID),
				zap.String("target", s.TargetID),
				zap.Error(err))
			continue
		}
		created = append(created, s)
	}

	e.logger.Info("automatic linking finished",
		zap.String("node_id", nodeID),
		zap.Int("candidates", len(suggestions)),
		zap.Int("linked", len(created)))
	return created, nil
}

func (e *Engine) suggest(ctx context.Context, nodeID string, withTopic bool) ([]Suggestion, error) {
	source, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}

	candidates, err := e.store.ListNodes(ctx, "")
	if err != nil {
		return nil, err
	}
	ranks := e.semanticRanks(ctx, source)

	suggestions := []Suggestion{}
	byID := make(map[string]*graph.Node, len(candidates))
	for _, cand := range candidates {
		if cand.ID == nodeID {
			continue
		}
		byID[cand.ID] = cand

		sig := Signals{
			Entity:   entityScore(source, cand),
			Temporal: temporalScore(source, cand),
			Explicit: explicitScore(source, cand),
		}
		if rank, ok := ranks[cand.ID]; ok {
			sig.Semantic = semanticScore(rank)
		}
		if withTopic {
			sig.Topic = topicScore(source, cand)
		}

		strength := combine(sig, withTopic)
		if strength < e.threshold {
			continue
		}
		suggestions = append(suggestions, Suggestion{
			TargetID:  cand.ID,
			Type:      decideType(source, cand, sig),
			Strength:  strength,
			Signals:   sig,
			Reasoning: reasoning(sig),
		})
	}

	// Strongest first; creation time breaks ties so reruns are stable.
	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].Strength != suggestions[j].Strength {
			return suggestions[i].Strength > suggestions[j].Strength
		}
		return byID[suggestions[i].TargetID].Metadata.CreatedAt.Before(byID[suggestions[j].TargetID].Metadata.CreatedAt)
	})
	if len(suggestions) > e.maxLinks {
		suggestions = suggestions[:e.maxLinks]
	}
	return suggestions, nil
}

// semanticRanks ranks the corpus against the source text and maps candidate
// id to its position in the results. One extra slot covers the source node
// turning up in its own results. Candidates outside the results score zero
// on the semantic signal, and so does everything when the ranking itself is
// unavailable: scoring continues on the remaining signals.
func (e *Engine) semanticRanks(ctx context.Context, source *graph.Node) map[string]int {
	hits, err := e.store.SemanticSearch(ctx, source.Title+"\n"+source.Content, semanticRankK+1)
	if err != nil {
		e.logger.Warn("semantic ranking unavailable",
			zap.String("node_id", source.ID),
			zap.Error(err))
		return nil
	}
	ranks := make(map[string]int, len(hits))
	rank := 0
	for _, hit := range hits {
		if hit.Node.ID == source.ID {
			continue
		}
		ranks[hit.Node.ID] = rank
		rank++
	}
	return ranks
}

// materialize writes the forward edge and its inverse. An already-existing
// edge is refreshed only when the new strength clearly beats the old one,
// so repeated relinking does not churn the graph.
func (e *Engine) materialize(ctx context.Context, sourceID string, s Suggestion) error {
	meta := map[string]interface{}{
		"provenance": graph.ProvenanceAutomatic,
		"reasoning":  s.Reasoning,
	}

	if err := e.upsertEdge(ctx, sourceID, s.TargetID, s.Type, s.Strength, meta); err != nil {
		return err
	}
	if err := e.upsertEdge(ctx, s.TargetID, sourceID, inverseType(s.Type), s.Strength, meta); err != nil {
		// The forward edge stands on its own; losing the inverse is not
		// worth failing the suggestion.
		e.logger.Warn("failed to create inverse link",
			zap.String("source", s.TargetID),
			zap.String("target", sourceID),
			zap.Error(err))
	}
	return nil
}

func (e *Engine) upsertEdge(ctx context.Context, sourceID, targetID string, relType graph.RelationType, strength float64, meta map[string]interface{}) error {
	_, err := e.store.CreateRelationship(ctx, graph.CreateRelationshipInput{
		SourceID: sourceID,
		TargetID: targetID,
		Type:     relType,
		Strength: strength,
		Metadata: meta,
	})
	if err == nil {
		return nil
	}
	if !apperrors.IsConflict(err) {
		return err
	}

	// Ordered pair already linked. Refresh only on a clear improvement.
	existing, findErr := e.findEdge(ctx, sourceID, targetID)
	if findErr != nil {
		return findErr
	}
	if strength <= existing.Strength+0.1 {
		return nil
	}
	_, err = e.store.UpdateRelationship(ctx, existing.ID, graph.RelationshipPatch{
		Strength: &strength,
		Metadata: meta,
	})
	return err
}

func (e *Engine) findEdge(ctx context.Context, sourceID, targetID string) (*graph.Relationship, error) {
	rels, err := e.store.GetRelationships(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	for i := range rels {
		if rels[i].SourceID == sourceID && rels[i].TargetID == targetID {
			return &rels[i], nil
		}
	}
	return nil, apperrors.NewRelationshipNotFound(sourceID + "->" + targetID)
}

// decideType picks the relationship type from the signal profile and the
// endpoint types. Order matters: the first matching rule wins.
func decideType(source, target *graph.Node, sig Signals) graph.RelationType {
	if (source.Type == graph.NodeTypePerson || target.Type == graph.NodeTypePerson) &&
		(sig.Entity > 0.5 || mentionsTitle(source, target)) {
		return graph.RelationMentions
	}
	if sig.Semantic > 0.7 {
		return graph.RelationRelatedTo
	}
	if isIdeaLike(source.Type) && isIdeaLike(target.Type) {
		return graph.RelationRelatedTo
	}
	if source.Type == graph.NodeTypeTask || target.Type == graph.NodeTypeTask {
		return graph.RelationDependsOn
	}
	return graph.RelationRelatedTo
}

func isIdeaLike(t graph.NodeType) bool {
	return t == graph.NodeTypeProject || t == graph.NodeTypeBusinessIdea
}

// inverseType maps a relationship type to the type of its mirror edge.
// Symmetric types mirror as themselves; directional ones fall back to a
// plain association rather than asserting the reverse dependency.
func inverseType(t graph.RelationType) graph.RelationType {
	switch t {
	case graph.RelationRelatedTo, graph.RelationPartOf, graph.RelationMentions:
		return t
	}
	return graph.RelationRelatedTo
}

// reasoning names the signals that drove the score, strongest evidence only.
func reasoning(sig Signals) string {
	parts := []string{}
	if sig.Semantic > 0.5 {
		parts = append(parts, fmt.Sprintf("semantic similarity %.2f", sig.Semantic))
	}
	if sig.Entity > 0.5 {
		parts = append(parts, fmt.Sprintf("shared entities %.2f", sig.Entity))
	}
	if sig.Topic > 0.5 {
		parts = append(parts, fmt.Sprintf("topic overlap %.2f", sig.Topic))
	}
	if sig.Temporal > 0.5 {
		parts = append(parts, fmt.Sprintf("temporal proximity %.2f", sig.Temporal))
	}
	if sig.Explicit > 0.5 {
		parts = append(parts, fmt.Sprintf("explicit reference %.2f", sig.Explicit))
	}
	if len(parts) == 0 {
		return "combined weak signals"
	}
	return strings.Join(parts, ", ")
}
