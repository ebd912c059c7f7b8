// Package search implements the search engine (C5): an in-memory,
// mutex-guarded tool index supporting case-insensitive regex search and a
// BM25-style ranked keyword search with semantic-equivalent boosting.
package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rupinder2/mcp-gateway/internal/model"
)

// ErrInvalidPattern is returned by [Index.SearchRegex] when query fails to
// compile as a regular expression.
var ErrInvalidPattern = errors.New("search: invalid regex pattern")

// IndexedTool is a single entry in the search index.
type IndexedTool struct {
	ServerName     string
	ToolName       string
	NamespacedName string
	Description    string
	InputSchema    json.RawMessage
	SearchableText string
	DeferLoading   bool
}

// Index is the gateway's in-memory tool search index. The zero value is not
// usable; create one with [New].
type Index struct {
	mu    sync.RWMutex
	tools map[string]IndexedTool
	// order records namespaced names in first-insertion order, so ties in
	// BM25 score and regex match order break the same way every time.
	order []string
}

// New creates an empty Index.
func New() *Index {
	return &Index{tools: make(map[string]IndexedTool)}
}

func (idx *Index) insert(t IndexedTool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, exists := idx.tools[t.NamespacedName]; !exists {
		idx.order = append(idx.order, t.NamespacedName)
	}
	idx.tools[t.NamespacedName] = t
}

// IndexTool indexes a single freshly discovered tool using the weighted
// searchable-text variant (tool name and description counted twice).
func (idx *Index) IndexTool(serverName string, tool model.ToolDescriptor) {
	namespaced := model.NamespacedName(serverName, tool.Name)
	idx.insert(IndexedTool{
		ServerName:     serverName,
		ToolName:       tool.Name,
		NamespacedName: namespaced,
		Description:    tool.Description,
		InputSchema:    tool.InputSchema,
		SearchableText: buildSearchableText(tool.Name, tool.Description, tool.InputSchema, true),
		DeferLoading:   true,
	})
}

// IndexTools indexes every tool discovered from serverName.
func (idx *Index) IndexTools(serverName string, tools []model.ToolDescriptor) {
	for _, t := range tools {
		idx.IndexTool(serverName, t)
	}
}

// IndexToolMetadata indexes a tool from stored [model.ToolMetadata], using
// the unweighted searchable-text variant. Used to rebuild the index without
// rediscovering tools from downstream servers. A metadata entry with an
// empty NamespacedName is ignored.
func (idx *Index) IndexToolMetadata(meta model.ToolMetadata) {
	if meta.NamespacedName == "" {
		return
	}
	idx.insert(IndexedTool{
		ServerName:     meta.ServerName,
		ToolName:       meta.ToolName,
		NamespacedName: meta.NamespacedName,
		Description:    meta.Description,
		InputSchema:    meta.InputSchema,
		SearchableText: buildSearchableText(meta.ToolName, meta.Description, meta.InputSchema, false),
		DeferLoading:   true,
	})
}

// IndexAllMetadata indexes every entry in metas.
func (idx *Index) IndexAllMetadata(metas []model.ToolMetadata) {
	for _, m := range metas {
		idx.IndexToolMetadata(m)
	}
}

// RemoveServerTools removes every tool namespaced under "{serverName}__".
func (idx *Index) RemoveServerTools(serverName string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	prefix := serverName + "__"
	kept := idx.order[:0]
	for _, name := range idx.order {
		if strings.HasPrefix(name, prefix) {
			delete(idx.tools, name)
			continue
		}
		kept = append(kept, name)
	}
	idx.order = kept
}

// GetAllTools returns every indexed tool in insertion order.
func (idx *Index) GetAllTools() []IndexedTool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]IndexedTool, 0, len(idx.order))
	for _, name := range idx.order {
		out = append(out, idx.tools[name])
	}
	return out
}

// GetTool returns the indexed tool for namespacedName, if present.
func (idx *Index) GetTool(namespacedName string) (IndexedTool, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.tools[namespacedName]
	return t, ok
}

// Search dispatches to SearchRegex or SearchBM25 depending on useRegex.
func (idx *Index) Search(query string, limit int, useRegex bool) ([]IndexedTool, error) {
	if useRegex {
		return idx.SearchRegex(query, limit)
	}
	return idx.SearchBM25(query, limit), nil
}

// SearchRegex compiles query as a case-insensitive regular expression and
// returns up to limit tools whose searchable text matches, in insertion
// order. Returns [ErrInvalidPattern] if query fails to compile.
func (idx *Index) SearchRegex(query string, limit int) ([]IndexedTool, error) {
	pattern, err := regexp.Compile("(?i)" + query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []IndexedTool
	for _, name := range idx.order {
		if limit > 0 && len(out) >= limit {
			break
		}
		t := idx.tools[name]
		if pattern.MatchString(t.SearchableText) {
			out = append(out, t)
		}
	}
	if out == nil {
		out = []IndexedTool{}
	}
	return out, nil
}

// semanticEquivalents is the closed table of BM25 semantic boosts.
var semanticEquivalents = map[string][]string{
	"search":        {"query", "find", "lookup", "fetch", "get"},
	"query":         {"search", "find", "lookup"},
	"documentation": {"docs", "document", "guide", "reference", "manual"},
	"docs":          {"documentation", "document", "guide"},
	"library":       {"package", "module", "dependency"},
	"mcp":           {"model", "context", "protocol"},
}

// stopWords are ignored during BM25 keyword extraction, alongside any token
// of length ≤ 2.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"can": {}, "could": {}, "did": {}, "do": {}, "does": {}, "doing": {}, "for": {},
	"from": {}, "had": {}, "has": {}, "have": {}, "having": {}, "he": {}, "her": {},
	"him": {}, "his": {}, "how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {},
	"it": {}, "its": {}, "itself": {}, "may": {}, "might": {}, "must": {}, "my": {},
	"myself": {}, "no": {}, "nor": {}, "not": {}, "now": {}, "of": {}, "off": {}, "on": {},
	"once": {}, "only": {}, "or": {}, "other": {}, "our": {}, "ourselves": {}, "out": {},
	"over": {}, "own": {}, "shall": {}, "she": {}, "should": {}, "so": {}, "some": {},
	"such": {}, "than": {}, "that": {}, "the": {}, "their": {}, "them": {}, "themselves": {},
	"then": {}, "there": {}, "these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"to": {}, "too": {}, "under": {}, "until": {}, "up": {}, "very": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "whom": {},
	"whose": {}, "will": {}, "with": {}, "would": {}, "you": {}, "your": {}, "yourself": {},
	"am": {}, "been": {}, "being": {}, "but": {}, "because": {}, "against": {}, "between": {},
	"during": {}, "before": {}, "after": {}, "above": {}, "below": {}, "down": {}, "again": {},
	"further": {}, "here": {}, "all": {}, "any": {}, "both": {}, "each": {}, "few": {},
	"more": {}, "most": {}, "same": {}, "about": {}, "get": {}, "me": {}, "himself": {},
	"herself": {},
}

var keywordPattern = regexp.MustCompile(`\b[a-zA-Z_]+\b`)

// extractKeywords lowercases text, extracts word tokens, and drops stop
// words and tokens of length ≤ 2.
func extractKeywords(text string) []string {
	matches := keywordPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(matches))
	for _, w := range matches {
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// SearchBM25 ranks every indexed tool against query's extracted keywords and
// returns the top limit tools with score > 0, descending by score, ties
// broken by insertion order. An empty keyword set (e.g. a query made
// entirely of stop words) returns no results.
func (idx *Index) SearchBM25(query string, limit int) []IndexedTool {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return []IndexedTool{}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	type scoredTool struct {
		tool  IndexedTool
		score float64
		pos   int
	}
	results := make([]scoredTool, 0, len(idx.order))
	for pos, name := range idx.order {
		t := idx.tools[name]
		s := bm25Score(keywords, t.ToolName, t.Description, t.SearchableText)
		if s > 0 {
			results = append(results, scoredTool{tool: t, score: s, pos: pos})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].pos < results[j].pos
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	out := make([]IndexedTool, len(results))
	for i, r := range results {
		out[i] = r.tool
	}
	return out
}

// bm25Score computes the BM25-style relevance score for a single tool
// against an already-extracted, already-lowercased keyword list.
func bm25Score(keywords []string, toolName, description, searchableText string) float64 {
	nameLower := strings.ToLower(toolName)
	descLower := strings.ToLower(description)
	textLower := strings.ToLower(searchableText)

	nameWords := splitNameWords(nameLower)
	descWords := strings.Fields(descLower)

	var score float64
	nameMatches, descMatches := 0, 0

	for _, k := range keywords {
		if strings.Contains(nameLower, k) {
			score += 8
			nameMatches++
			if strings.HasPrefix(nameLower, k) {
				score += 4
			}
		}

		if strings.Contains(descLower, k) {
			score += 15
			descMatches++
			head := descLower
			if len(head) > 100 {
				head = head[:100]
			}
			if strings.Contains(head, k) {
				score += 5
			}
		}

		if count := strings.Count(textLower, k); count > 0 {
			score += float64(count) * 0.5
		}

		for _, equiv := range semanticEquivalents[k] {
			if strings.Contains(nameLower, equiv) {
				score += 5
			}
			if strings.Contains(descLower, equiv) {
				score += 8
			}
		}

		for _, w := range nameWords {
			if len(w) > 3 && w != k && strings.Contains(w, k) {
				score += 2
			}
		}
		for _, w := range descWords {
			w = strings.Trim(w, ".,;:")
			if len(w) > 3 && w != k && strings.Contains(w, k) {
				score += 1
			}
		}
	}

	switch {
	case nameMatches > 0 && descMatches > 0:
		score *= 2.0
	case descMatches >= len(keywords):
		score *= 1.8
	case float64(nameMatches+descMatches) >= 0.7*float64(len(keywords)):
		score *= 1.4
	}

	return score
}

func splitNameWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '_' || r == '-'
	})
}

// buildSearchableText concatenates a tool's searchable fields with single
// spaces, skipping empties. When weighted is true, tool_name and
// description are each counted twice (used for live indexing); when false,
// once (used when rebuilding the index from stored metadata).
func buildSearchableText(toolName, description string, inputSchema json.RawMessage, weighted bool) string {
	var parts []string
	add := func(s string) {
		if s != "" {
			parts = append(parts, s)
		}
	}

	if weighted {
		add(toolName)
	}
	add(toolName)
	if weighted {
		add(description)
	}
	add(description)

	if len(inputSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(inputSchema, &schema); err == nil {
			if props, ok := schema["properties"].(map[string]any); ok {
				names := make([]string, 0, len(props))
				for name := range props {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					add(name)
					propMap, ok := props[name].(map[string]any)
					if !ok {
						continue
					}
					if desc, ok := propMap["description"].(string); ok {
						add(desc)
					}
					if enumVals, ok := propMap["enum"].([]any); ok {
						for _, v := range enumVals {
							add(stringify(v))
						}
					}
				}
			}
			if required, ok := schema["required"].([]any); ok {
				for _, r := range required {
					add(stringify(r))
				}
			}
		}
	}

	return strings.Join(parts, " ")
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
