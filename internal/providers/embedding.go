package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/qdrant"

	"github.com/rahul/switchboard/pkg/config"
)

type embeddingHandle struct {
	embedder embeddings.Embedder
}

func (h *embeddingHandle) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return h.embedder.EmbedQuery(ctx, text)
}

// searchHandle is an embedding handle backed by a vector store.
type searchHandle struct {
	embeddingHandle
	store vectorstores.VectorStore
}

func (h *searchHandle) Search(ctx context.Context, query string, k int) ([]string, error) {
	docs, err := h.store.SimilaritySearch(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.PageContent)
	}
	return out, nil
}

// NewEmbedder builds an OpenAI-compatible embedder from the main provider
// credentials.
func NewEmbedder(name string, p config.ProviderConfig, model string) (embeddings.Embedder, error) {
	var extra []openai.Option
	if model != "" {
		extra = append(extra, openai.WithEmbeddingModel(model))
	}
	client, err := NewChatModel(name, p, "", extra...)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(client)
}

// NewVectorStore connects to the configured qdrant collection. It returns
// nil, nil when no qdrant url is configured.
func NewVectorStore(rag config.RAGConfig, embedder embeddings.Embedder) (vectorstores.VectorStore, error) {
	if rag.QdrantURL == "" {
		return nil, nil
	}
	u, err := url.Parse(rag.QdrantURL)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant url: %w", err)
	}
	opts := []qdrant.Option{
		qdrant.WithURL(*u),
		qdrant.WithCollectionName(rag.Collection),
		qdrant.WithEmbedder(embedder),
	}
	if rag.APIKey != "" {
		opts = append(opts, qdrant.WithAPIKey(rag.APIKey))
	}
	store, err := qdrant.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return store, nil
}
