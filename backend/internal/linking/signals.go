package linking

import (
	"math"
	"strings"
	"time"

	"oliver-os/backend/internal/graph"
)

// Signal scores for one candidate pair. Every component is in [0,1].
type Signals struct {
	Semantic float64 `json:"semantic"`
	Entity   float64 `json:"entity"`
	Topic    float64 `json:"topic"`
	Temporal float64 `json:"temporal"`
	Explicit float64 `json:"explicit"`
}

// semanticRankK is the rank horizon for the semantic signal: the hit at
// rank 0 scores 1.0, decaying linearly to 0 at rank K.
const semanticRankK = 15

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "day": {}, "get": {}, "has": {},
	"him": {}, "his": {}, "how": {}, "man": {}, "new": {}, "now": {},
	"old": {}, "see": {}, "two": {}, "way": {}, "who": {}, "its": {},
	"did": {}, "yes": {}, "this": {}, "that": {}, "with": {}, "from": {},
	"they": {}, "will": {}, "have": {}, "been": {}, "were": {}, "said": {},
	"each": {}, "which": {}, "their": {}, "about": {}, "would": {},
	"there": {}, "could": {}, "other": {}, "into": {}, "more": {},
	"some": {}, "then": {}, "them": {}, "these": {}, "than": {},
	"also": {}, "just": {}, "like": {}, "over": {}, "only": {},
	"very": {}, "when": {}, "what": {}, "your": {}, "should": {},
}

// semanticScore maps a candidate's rank in the similarity results to [0,1].
func semanticScore(rank int) float64 {
	return math.Max(0, 1-float64(rank)/semanticRankK)
}

// entityTokens extracts the token set used for entity overlap: lowercased
// words of at least three characters, minus stopwords.
func entityTokens(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(word) < 3 {
			continue
		}
		if _, skip := stopwords[word]; skip {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}

// entityScore measures token overlap between two nodes' title+content. The
// 0.8 shrink factor lets a strong partial overlap reach full score.
func entityScore(a, b *graph.Node) float64 {
	setA := entityTokens(a.Title + " " + a.Content)
	setB := entityTokens(b.Title + " " + b.Content)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}
	max := len(setA)
	if len(setB) > max {
		max = len(setB)
	}
	score := float64(shared) / (0.8 * float64(max))
	return math.Min(score, 1.0)
}

// temporalScore steps down with the gap between creation times.
func temporalScore(a, b *graph.Node) float64 {
	gap := a.Metadata.CreatedAt.Sub(b.Metadata.CreatedAt)
	if gap < 0 {
		gap = -gap
	}
	switch {
	case gap <= 7*24*time.Hour:
		return 1.0
	case gap <= 30*24*time.Hour:
		return 0.7
	case gap <= 90*24*time.Hour:
		return 0.4
	}
	return 0.1
}

// explicitScore rewards a mention of the candidate's title in the source
// text and any shared tag.
func explicitScore(source, candidate *graph.Node) float64 {
	score := 0.0
	if mentionsTitle(source, candidate) {
		score += 0.5
	}
	if sharedTag(source.Metadata.Tags, candidate.Metadata.Tags) {
		score += 0.5
	}
	return math.Min(score, 1.0)
}

// mentionsTitle reports whether the source text names the candidate's title,
// either as an @mention or as a bare word-bounded phrase. People and
// companies are usually written out plain, so the @ prefix is not required.
func mentionsTitle(source, candidate *graph.Node) bool {
	title := strings.ToLower(strings.TrimSpace(candidate.Title))
	if title == "" {
		return false
	}
	text := strings.ToLower(source.Title + " " + source.Content)
	if strings.Contains(text, "@"+title) {
		return true
	}
	return containsPhrase(text, title)
}

// containsPhrase matches phrase inside text on word boundaries, so "jane"
// does not match "janeiro".
func containsPhrase(text, phrase string) bool {
	for from := 0; ; {
		idx := strings.Index(text[from:], phrase)
		if idx < 0 {
			return false
		}
		start := from + idx
		end := start + len(phrase)
		if (start == 0 || !isWordChar(text[start-1])) && (end == len(text) || !isWordChar(text[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordChar(c byte) bool {
	return c == '_' ||
		('a' <= c && c <= 'z') ||
		('A' <= c && c <= 'Z') ||
		('0' <= c && c <= '9')
}

// topicScore blends tag Jaccard similarity, type equality and title word
// overlap.
func topicScore(a, b *graph.Node) float64 {
	score := 0.5 * tagJaccard(a.Metadata.Tags, b.Metadata.Tags)
	if a.Type == b.Type {
		score += 0.3
	}
	score += 0.2 * titleOverlap(a.Title, b.Title)
	return math.Min(score, 1.0)
}

func tagJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = struct{}{}
	}
	shared := 0
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		lower := strings.ToLower(t)
		if _, dup := setB[lower]; dup {
			continue
		}
		setB[lower] = struct{}{}
		if _, ok := setA[lower]; ok {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func sharedTag(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[strings.ToLower(t)]; ok {
			return true
		}
	}
	return false
}

func titleOverlap(a, b string) float64 {
	setA := entityTokens(a)
	setB := entityTokens(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}
	min := len(setA)
	if len(setB) < min {
		min = len(setB)
	}
	return float64(shared) / float64(min)
}

// combine folds the signals into one score. The topic signal only
// participates when withTopic is set; without it the remaining weight
// shifts to the semantic and entity signals.
func combine(sig Signals, withTopic bool) float64 {
	if withTopic {
		return 0.35*sig.Semantic + 0.25*sig.Entity + 0.15*sig.Topic + 0.15*sig.Temporal + 0.10*sig.Explicit
	}
	return 0.40*sig.Semantic + 0.30*sig.Entity + 0.15*sig.Temporal + 0.15*sig.Explicit
}
