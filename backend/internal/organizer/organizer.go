package organizer

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"oliver-os/backend/internal/capture"
	"oliver-os/backend/internal/graph"
	"oliver-os/backend/internal/linking"
	apperrors "oliver-os/backend/pkg/errors"
	"oliver-os/backend/pkg/logger"
)

// Generator produces text from a prompt. Satisfied by adapter.LLMAdapter.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userMsg string) (string, error)
}

// Linker turns a freshly organized node into graph links. Satisfied by
// linking.Engine.
type Linker interface {
	AutoLinkNode(ctx context.Context, nodeID string) ([]linking.Suggestion, error)
}

// Organizer turns raw memories into structured knowledge nodes and hands
// them to the linking engine.
type Organizer struct {
	captures *capture.Store
	store    graph.Store
	llm      Generator
	linker   Linker
	logger   *zap.Logger
}

// New creates an organizer.
func New(captures *capture.Store, store graph.Store, llm Generator, linker Linker) *Organizer {
	return &Organizer{
		captures: captures,
		store:    store,
		llm:      llm,
		linker:   linker,
		logger:   logger.Named("organizer"),
	}
}

// structured is the shape the extraction prompt asks for.
type structured struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Tags        []string `json:"tags"`
	Entities    []string `json:"entities"`
	ActionItems []string `json:"action_items"`
}

const extractionPrompt = `You are a knowledge organizer. Extract the structure of the user's thought and answer with a single JSON object, nothing else:
{
  "type": one of "business_idea", "project", "person", "concept", "task", "note",
  "title": a short descriptive title (max 10 words),
  "summary": a one-paragraph summary in the user's voice,
  "tags": up to 5 lowercase topic tags,
  "entities": people, companies and products mentioned,
  "action_items": concrete follow-ups, if any
}`

// Process organizes one memory end to end: it moves the memory into
// processing, extracts structure, creates the knowledge node, runs automatic
// linking, and advances the memory to organized, then to linked once linking
// actually produced edges. If the node was never created, the memory is
// handed back to raw so a later run can retry.
func (o *Organizer) Process(ctx context.Context, memoryID string) (*graph.Node, error) {
	mem, err := o.captures.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	if _, err := o.captures.UpdateStatus(ctx, memoryID, capture.StatusProcessing, nil); err != nil {
		return nil, err
	}

	text := mem.Content
	if mem.Type == capture.TypeVoice && mem.Transcript != "" {
		text = mem.Transcript
	}

	node, err := o.organize(ctx, mem, text)
	if err != nil {
		// Hand the memory back so it is not stranded in processing.
		if _, resetErr := o.captures.UpdateStatus(ctx, memoryID, capture.StatusRaw, nil); resetErr != nil {
			o.logger.Error("failed to reset memory after organize failure",
				zap.String("memory_id", memoryID), zap.Error(resetErr))
		}
		return nil, err
	}

	if _, err := o.captures.UpdateStatus(ctx, memoryID, capture.StatusOrganized, map[string]interface{}{
		"node_id": node.ID,
	}); err != nil {
		return node, err
	}

	// Linking failures do not undo organization; the node exists and can be
	// relinked later. The memory only reaches linked when edges were created.
	links, linkErr := o.linker.AutoLinkNode(ctx, node.ID)
	if linkErr != nil {
		o.logger.Warn("automatic linking failed",
			zap.String("memory_id", memoryID),
			zap.String("node_id", node.ID),
			zap.Error(linkErr))
	}
	if len(links) > 0 {
		if _, err := o.captures.UpdateStatus(ctx, memoryID, capture.StatusLinked, nil); err != nil {
			return node, err
		}
	}

	o.logger.Info("memory organized",
		zap.String("memory_id", memoryID),
		zap.String("node_id", node.ID),
		zap.String("node_type", string(node.Type)))
	return node, nil
}

// organize extracts structure from the text and creates the node. When the
// upstream model fails or returns garbage, the memory still becomes a note
// node so nothing captured is ever lost.
func (o *Organizer) organize(ctx context.Context, mem *capture.Memory, text string) (*graph.Node, error) {
	input := graph.CreateNodeInput{
		Type:    graph.NodeTypeNote,
		Title:   fallbackTitle(text),
		Content: text,
		Extra: map[string]interface{}{
			"memory_id":    mem.ID,
			"capture_type": string(mem.Type),
		},
	}

	raw, err := o.llm.Generate(ctx, extractionPrompt, text)
	if err != nil {
		o.logger.Warn("structure extraction failed, storing as note",
			zap.String("memory_id", mem.ID), zap.Error(err))
	} else if s, ok := parseStructured(raw); ok {
		if graph.ValidNodeType(graph.NodeType(s.Type)) {
			input.Type = graph.NodeType(s.Type)
		}
		if strings.TrimSpace(s.Title) != "" {
			input.Title = s.Title
		}
		if strings.TrimSpace(s.Summary) != "" {
			input.Content = s.Summary + "\n\n" + text
		}
		input.Tags = s.Tags
		if len(s.Entities) > 0 {
			input.Extra["entities"] = s.Entities
		}
		if len(s.ActionItems) > 0 {
			input.Extra["action_items"] = s.ActionItems
		}
	} else {
		o.logger.Warn("unparseable extraction output, storing as note",
			zap.String("memory_id", mem.ID))
	}

	return o.store.CreateNode(ctx, input)
}

// RefineIdea asks the model to expand a business idea node with next steps
// and appends the result to the node content.
func (o *Organizer) RefineIdea(ctx context.Context, nodeID string) (*graph.Node, error) {
	node, err := o.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.Type != graph.NodeTypeBusinessIdea {
		return nil, apperrors.NewValidation("node_id", "refinement only applies to business_idea nodes")
	}

	prompt := "You are a startup advisor. Given the idea below, list concrete next steps, open risks and a sharper one-line pitch. Be brief and practical."
	refined, err := o.llm.Generate(ctx, prompt, node.Title+"\n\n"+node.Content)
	if err != nil {
		return nil, err
	}

	content := node.Content + "\n\n## Refinement\n\n" + strings.TrimSpace(refined)
	updated, err := o.store.UpdateNode(ctx, nodeID, graph.NodePatch{Content: &content})
	if err != nil {
		return nil, err
	}

	// The refined content may surface new connections.
	if _, err := o.linker.AutoLinkNode(ctx, nodeID); err != nil {
		o.logger.Warn("relinking after refinement failed",
			zap.String("node_id", nodeID), zap.Error(err))
	}
	return updated, nil
}

// parseStructured pulls the first balanced JSON object out of model output.
// Models wrap JSON in prose and code fences often enough that a plain
// Unmarshal of the whole reply is not reliable.
func parseStructured(raw string) (structured, bool) {
	var s structured
	block, ok := firstJSONObject(raw)
	if !ok {
		return s, false
	}
	if err := json.Unmarshal([]byte(block), &s); err != nil {
		return s, false
	}
	if s.Type == "" && s.Title == "" && s.Summary == "" {
		return s, false
	}
	return s, true
}

func firstJSONObject(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return raw[start : i+1], true
			}
		}
	}
	return "", false
}

// fallbackTitle derives a title from the first line of the text.
func fallbackTitle(text string) string {
	line := strings.TrimSpace(text)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	const max = 80
	if len(line) > max {
		line = strings.TrimSpace(line[:max]) + "..."
	}
	if line == "" {
		return "Untitled capture"
	}
	return line
}
