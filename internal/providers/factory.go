package providers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/tmc/langchaingo/vectorstores"

	"github.com/rahul/switchboard/internal/capability"
	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/pkg/config"
)

// ErrNoBackend is returned for capabilities that have no implementation.
var ErrNoBackend = errors.New("no backend available")

// Factory builds capability handles from configuration. It implements
// capability.Factory.
type Factory struct {
	cfg      *config.Config
	provider string
	base     config.ProviderConfig
	logger   *observability.Logger

	// Store, when set, is attached to embedding handles for similarity
	// search. Built from the rag section otherwise.
	Store vectorstores.VectorStore
}

func NewFactory(cfg *config.Config, logger *observability.Logger) (*Factory, error) {
	name, base := cfg.GetDefaultProvider()
	if name == "" {
		return nil, fmt.Errorf("no enabled provider found in config")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Factory{cfg: cfg, provider: name, base: base, logger: logger.With("providers")}, nil
}

// providerFor merges a capability's overrides onto the main provider.
func (f *Factory) providerFor(id capability.ID) (config.ProviderConfig, config.CapabilityConfig) {
	cc := f.cfg.Capabilities[string(id)]
	p := f.base
	if cc.APIKey != "" {
		p.APIKey = cc.APIKey
	}
	if cc.BaseURL != "" {
		p.BaseURL = cc.BaseURL
	}
	return p, cc
}

func (f *Factory) Build(ctx context.Context, id capability.ID) (capability.Handle, error) {
	p, cc := f.providerFor(id)

	switch id {
	case capability.Text:
		model, err := NewChatModel(f.provider, p, cc.Model)
		if err != nil {
			return nil, err
		}
		return &textHandle{model: model}, nil

	case capability.Vision:
		model, err := NewChatModel(f.provider, p, cc.Model)
		if err != nil {
			return nil, err
		}
		return &visionHandle{model: model}, nil

	case capability.SpeechInput:
		return NewWhisper(p.APIKey, p.BaseURL, cc.Model, f.logger), nil

	case capability.SpeechOutput:
		out := filepath.Join(f.cfg.App.Workspace, "audio")
		return NewSpeaker(p.APIKey, p.BaseURL, cc.Model, cc.Voice, out, f.logger), nil

	case capability.Embedding:
		model := cc.Model
		if model == "" {
			model = f.cfg.RAG.EmbeddingModel
		}
		embedder, err := NewEmbedder(f.provider, p, model)
		if err != nil {
			return nil, err
		}
		store := f.Store
		if store == nil {
			store, err = NewVectorStore(f.cfg.RAG, embedder)
			if err != nil {
				f.logger.Warn("vector store unavailable, embedding without search", err)
			}
		}
		if store == nil {
			return &embeddingHandle{embedder: embedder}, nil
		}
		return &searchHandle{embeddingHandle: embeddingHandle{embedder: embedder}, store: store}, nil

	case capability.Document:
		return documentHandle{}, nil

	default:
		return nil, fmt.Errorf("%w for %s", ErrNoBackend, id)
	}
}
