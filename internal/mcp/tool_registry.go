package mcp

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
	"sync"
)

// ToolCategory groups tools by the component they drive.
type ToolCategory string

const (
	CategoryAgent  ToolCategory = "agent"
	CategoryVoice  ToolCategory = "voice"
	CategorySearch ToolCategory = "search"
)

// ToolMetadata describes a registered tool for discovery.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	// ReadOnly tools never change backend state.
	ReadOnly bool     `json:"read_only"`
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry indexes tool metadata so assistants can search it.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds or replaces a tool. Unnamed tools are ignored.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every tool, optionally restricted to one category, sorted
// by name.
func (r *ToolRegistry) List(category ToolCategory) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		if category == "" || tool.Category == category {
			out = append(out, tool)
		}
	}
	slices.SortFunc(out, func(a, b *ToolMetadata) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is one match. Score is 3 for an exact name, 2 for a name
// match and 1 for a description or keyword match.
type SearchResult struct {
	Tool        *ToolMetadata `json:"tool"`
	Score       int           `json:"score"`
	MatchReason string        `json:"match_reason"`
}

// Search matches query case-insensitively against names, descriptions and
// keywords. A query that compiles as a regular expression is also matched
// as one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string, category ToolCategory) []SearchResult {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	lower := strings.ToLower(query)
	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		re = nil
	}
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), lower) || (re != nil && re.MatchString(s))
	}

	var out []SearchResult
	for _, tool := range r.List(category) {
		switch {
		case strings.ToLower(tool.Name) == lower:
			out = append(out, SearchResult{Tool: tool, Score: 3, MatchReason: "exact name match"})
		case matches(tool.Name):
			out = append(out, SearchResult{Tool: tool, Score: 2, MatchReason: "name matches query"})
		case matches(tool.Description):
			out = append(out, SearchResult{Tool: tool, Score: 1, MatchReason: "description matches query"})
		case slices.ContainsFunc(tool.Keywords, matches):
			out = append(out, SearchResult{Tool: tool, Score: 1, MatchReason: "keyword matches query"})
		}
	}
	slices.SortStableFunc(out, func(a, b SearchResult) int { return cmp.Compare(b.Score, a.Score) })
	return out
}
