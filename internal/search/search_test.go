package search

import (
	"errors"
	"testing"

	"github.com/rupinder2/mcp-gateway/internal/model"
)

func weatherTool() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:        "get_weather",
		Description: "Get current weather conditions",
		InputSchema: []byte(`{"type":"object","properties":{"city":{"type":"string","description":"City name"}},"required":["city"]}`),
	}
}

func emailTool() model.ToolDescriptor {
	return model.ToolDescriptor{
		Name:        "send_email",
		Description: "Send an email",
	}
}

func TestIndexTool_BuildsWeightedSearchableText(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())

	tool, ok := idx.GetTool("weatherco__get_weather")
	if !ok {
		t.Fatal("tool not indexed")
	}
	if tool.SearchableText == "" {
		t.Fatal("searchable text is empty")
	}
	// Weighted: name and description each appear twice.
	nameCount := countOccurrences(tool.SearchableText, "get_weather")
	if nameCount != 2 {
		t.Errorf("tool name occurrences = %d, want 2 (weighted)", nameCount)
	}
}

func TestIndexToolMetadata_BuildsUnweightedSearchableText(t *testing.T) {
	idx := New()
	idx.IndexToolMetadata(model.ToolMetadata{
		NamespacedName: "weatherco__get_weather",
		ServerName:     "weatherco",
		ToolName:       "get_weather",
		Description:    "Get current weather conditions",
	})

	tool, _ := idx.GetTool("weatherco__get_weather")
	if countOccurrences(tool.SearchableText, "get_weather") != 1 {
		t.Errorf("expected unweighted searchable text to contain the tool name once")
	}
}

func TestIndexToolMetadata_EmptyNamespacedNameIgnored(t *testing.T) {
	idx := New()
	idx.IndexToolMetadata(model.ToolMetadata{NamespacedName: "", ToolName: "orphan"})
	if len(idx.GetAllTools()) != 0 {
		t.Error("expected empty-namespaced-name metadata to be ignored")
	}
}

func TestRemoveServerTools_OnlyAffectsOwnedServer(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())
	idx.IndexTool("newsco", emailTool())

	idx.RemoveServerTools("weatherco")

	if _, ok := idx.GetTool("weatherco__get_weather"); ok {
		t.Error("weatherco tool still indexed")
	}
	if _, ok := idx.GetTool("newsco__send_email"); !ok {
		t.Error("newsco tool incorrectly removed")
	}
}

func TestSearchRegex_InvalidPatternError(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())

	_, err := idx.SearchRegex("[invalid(", 5)
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("err = %v, want ErrInvalidPattern", err)
	}
}

func TestSearchRegex_CaseInsensitiveAndOrderPreserving(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())
	idx.IndexTool("newsco", emailTool())

	results, err := idx.SearchRegex("WEATHER", 5)
	if err != nil {
		t.Fatalf("SearchRegex: %v", err)
	}
	if len(results) != 1 || results[0].NamespacedName != "weatherco__get_weather" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchRegex_RespectsLimit(t *testing.T) {
	idx := New()
	for _, name := range []string{"a", "b", "c"} {
		idx.IndexTool(name, model.ToolDescriptor{Name: "do_thing", Description: "does a thing"})
	}

	results, err := idx.SearchRegex("thing", 2)
	if err != nil {
		t.Fatalf("SearchRegex: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(results))
	}
}

func TestSearchBM25_RanksDescriptionAndNameMatchFirst(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())
	idx.IndexTool("newsco", emailTool())

	results := idx.SearchBM25("weather", 5)
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1 (send_email scores 0 and is excluded)", len(results))
	}
	if results[0].NamespacedName != "weatherco__get_weather" {
		t.Errorf("results[0] = %+v, want get_weather", results[0])
	}
}

func TestSearchBM25_NoKeywordsReturnsEmpty(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())

	// "the" and "is" are stop words; "a" is ≤2 chars.
	results := idx.SearchBM25("the is a", 5)
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
}

func TestSearchBM25_RespectsLimit(t *testing.T) {
	idx := New()
	for _, name := range []string{"a", "b", "c"} {
		idx.IndexTool(name, model.ToolDescriptor{Name: "search_docs", Description: "search documentation library"})
	}

	results := idx.SearchBM25("search", 2)
	if len(results) != 2 {
		t.Errorf("len(results) = %d, want 2", len(results))
	}
}

func TestSearchBM25_Deterministic(t *testing.T) {
	idx := New()
	idx.IndexTool("weatherco", weatherTool())
	idx.IndexTool("newsco", emailTool())
	idx.IndexTool("docsco", model.ToolDescriptor{Name: "search_docs", Description: "Search the documentation library"})

	first := idx.SearchBM25("search documentation", 5)
	second := idx.SearchBM25("search documentation", 5)

	if len(first) != len(second) {
		t.Fatalf("non-deterministic result length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].NamespacedName != second[i].NamespacedName {
			t.Errorf("non-deterministic ordering at %d: %q vs %q", i, first[i].NamespacedName, second[i].NamespacedName)
		}
	}
}

func TestSearchBM25_SemanticEquivalentBoost(t *testing.T) {
	idx := New()
	idx.IndexTool("docsco", model.ToolDescriptor{Name: "find_guide", Description: "Helps you find a reference guide"})

	// "search" has no literal match in name/description, but its semantic
	// equivalents (find, lookup, ...) do appear, so it should still score.
	results := idx.SearchBM25("search", 5)
	if len(results) != 1 {
		t.Fatalf("expected the semantic-equivalent match to score > 0, got %d results", len(results))
	}
}

func TestGetAllTools_PreservesInsertionOrder(t *testing.T) {
	idx := New()
	idx.IndexTool("c", model.ToolDescriptor{Name: "third"})
	idx.IndexTool("a", model.ToolDescriptor{Name: "first"})
	idx.IndexTool("b", model.ToolDescriptor{Name: "second"})

	all := idx.GetAllTools()
	want := []string{"c__third", "a__first", "b__second"}
	if len(all) != len(want) {
		t.Fatalf("len(all) = %d, want %d", len(all), len(want))
	}
	for i, w := range want {
		if all[i].NamespacedName != w {
			t.Errorf("all[%d] = %q, want %q", i, all[i].NamespacedName, w)
		}
	}
}

func countOccurrences(haystack, needle string) int {
	count := 0
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			count++
			i += len(needle) - 1
		}
	}
	return count
}
