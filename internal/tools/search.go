package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// webSearcher is the part of a langchaingo search tool used here.
type webSearcher interface {
	Call(ctx context.Context, input string) (string, error)
}

type SearchTool struct {
	client webSearcher
}

func NewSearchTool(maxResults int) (*SearchTool, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchTool{client: ddg}, nil
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for current information."
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
		},
		"required": []string{"query"},
	}
}

// searchPrefixes are stripped from plan actions such as "Search the web
// for go 1.25 release notes".
var searchPrefixes = []string{"search the web for", "search the internet for", "search for", "look up", "find", "search"}

func (s *SearchTool) ArgsFromText(text string) (string, error) {
	query := strings.TrimSpace(text)
	lower := strings.ToLower(query)
	for _, p := range searchPrefixes {
		if strings.HasPrefix(lower, p+" ") {
			query = strings.TrimSpace(query[len(p):])
			break
		}
	}
	if query == "" {
		return "", fmt.Errorf("empty search query")
	}
	return jsonArgs(map[string]any{"query": query})
}

func (s *SearchTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	res, err := s.client.Call(ctx, args.Query)
	if err != nil {
		return "", fmt.Errorf("search failed: %w", err)
	}
	if strings.TrimSpace(res) == "" {
		return fmt.Sprintf("No results for %q.", args.Query), nil
	}
	return res, nil
}
