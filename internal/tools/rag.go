package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/tmc/langchaingo/vectorstores"
)

const ragResults = 4

// DocumentLoader reads a local file into documents.
type DocumentLoader func(ctx context.Context, path string) ([]schema.Document, error)

type RAGTool struct {
	Store    vectorstores.VectorStore
	Load     DocumentLoader
	splitter textsplitter.TextSplitter
}

func NewRAGTool(store vectorstores.VectorStore, load DocumentLoader) *RAGTool {
	return &RAGTool{
		Store: store,
		Load:  load,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(1000),
			textsplitter.WithChunkOverlap(100),
		),
	}
}

func (r *RAGTool) Name() string {
	return "rag"
}

func (r *RAGTool) Description() string {
	return "Search and retrieve information from uploaded documents."
}

func (r *RAGTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The natural language query to search for",
			},
		},
		"required": []string{"query"},
	}
}

func (r *RAGTool) ArgsFromText(text string) (string, error) {
	return jsonArgs(map[string]any{"query": text})
}

func (r *RAGTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}
	if args.Query == "" {
		return "", fmt.Errorf("query is required")
	}

	docs, err := r.Store.SimilaritySearch(ctx, args.Query, ragResults)
	if err != nil {
		return "", fmt.Errorf("retrieval failed: %w", err)
	}
	if len(docs) == 0 {
		return "No matching documents found.", nil
	}

	var b strings.Builder
	for i, d := range docs {
		src, _ := d.Metadata["source"].(string)
		if src == "" {
			src = "unknown"
		}
		fmt.Fprintf(&b, "[%d] (%s, score %.2f)\n%s\n\n", i+1, src, d.Score, d.PageContent)
	}
	return strings.TrimSpace(b.String()), nil
}

// Ingest loads a file, splits it into chunks and adds them to the store.
// It returns the number of chunks stored.
func (r *RAGTool) Ingest(ctx context.Context, path string) (int, error) {
	docs, err := r.Load(ctx, path)
	if err != nil {
		return 0, err
	}
	chunks, err := textsplitter.SplitDocuments(r.splitter, docs)
	if err != nil {
		return 0, fmt.Errorf("failed to split %s: %w", filepath.Base(path), err)
	}
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]any{}
		}
		chunks[i].Metadata["source"] = filepath.Base(path)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	if _, err := r.Store.AddDocuments(ctx, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	return len(chunks), nil
}
