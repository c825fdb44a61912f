package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rahul/switchboard/internal/agent"
	"github.com/rahul/switchboard/internal/capability"
	"github.com/rahul/switchboard/internal/governance"
	"github.com/rahul/switchboard/internal/observability"
	"github.com/rahul/switchboard/internal/oracle"
	"github.com/rahul/switchboard/internal/providers"
	"github.com/rahul/switchboard/internal/store"
	"github.com/rahul/switchboard/internal/tools"
	"github.com/rahul/switchboard/pkg/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "switchboard",
	Short: "Multi-capability assistant that plans, loads, executes and releases",
	Long: `Switchboard answers chat messages by planning the work with a main-brain
model, loading only the capabilities the plan needs (vision, speech,
embedding, documents), running the steps and writing a single reply.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is everything a command needs, wired from one config file.
type app struct {
	cfg       *config.Config
	logger    *observability.Logger
	history   *store.HistoryStore
	resources *capability.Manager
	registry  *tools.Registry
	rag       *tools.RAGTool
	orch      *agent.Orchestrator
}

func setup(ctx context.Context, logger *observability.Logger) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	factory, err := providers.NewFactory(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Main brain
	pName, pCfg := cfg.GetDefaultProvider()
	model, err := providers.NewChatModel(pName, pCfg, pCfg.Model)
	if err != nil {
		return nil, fmt.Errorf("main brain: %w", err)
	}
	brain := oracle.WithTimeout(oracle.NewLLM(model, logger), cfg.Timeouts.Oracle.Std())

	if err := os.MkdirAll(cfg.App.Workspace, 0755); err != nil {
		return nil, err
	}
	history, err := store.NewHistoryStore(cfg.Memory.Path)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, history: history}
	if a.registry, err = newRegistry(cfg, history, logger); err != nil {
		history.Close()
		return nil, err
	}

	if cfg.RAG.QdrantURL != "" {
		embedder, err := providers.NewEmbedder(pName, pCfg, cfg.RAG.EmbeddingModel)
		if err != nil {
			logger.Warn("embedder unavailable, rag disabled", err)
		} else if vs, err := providers.NewVectorStore(cfg.RAG, embedder); err != nil {
			logger.Warn("qdrant unavailable, rag disabled", err)
		} else {
			factory.Store = vs
			a.rag = tools.NewRAGTool(vs, providers.LoadDocuments)
			a.registry.Register(a.rag)
		}
	}

	var pinned []capability.ID
	for _, name := range cfg.Resources.AlwaysResident {
		if id, ok := capability.Parse(name); ok {
			pinned = append(pinned, id)
		} else {
			logger.Warn(fmt.Sprintf("ignoring unknown always_resident capability %q", name), nil)
		}
	}
	a.resources = capability.NewManager(factory, capability.Options{
		Enabled:        func(id capability.ID) bool { return cfg.CapabilityEnabled(string(id)) },
		AlwaysResident: pinned,
		LoadTimeout:    cfg.Resources.LoadTimeout.Std(),
		Logger:         logger,
	})
	if err := a.resources.Init(ctx); err != nil {
		logger.Warn("warming resident capabilities failed", err)
	}

	a.orch, err = agent.NewOrchestrator(agent.Deps{
		Oracle:          brain,
		Resources:       a.resources,
		Tools:           a.registry,
		Memory:          history,
		Prompts:         agent.NewPromptManager(cfg.App.Prompts),
		Logger:          logger,
		HistorySize:     cfg.Memory.HistorySize,
		MaxUsers:        cfg.Memory.MaxUsers,
		RetrieveLimit:   cfg.Memory.RetrieveLimit,
		MemoryTimeout:   cfg.Timeouts.Memory.Std(),
		ProviderTimeout: cfg.Timeouts.Provider.Std(),
	})
	if err != nil {
		history.Close()
		return nil, err
	}
	return a, nil
}

func newRegistry(cfg *config.Config, history *store.HistoryStore, logger *observability.Logger) (*tools.Registry, error) {
	gov, err := governance.NewPolicyEngine(governance.Rules{
		DenyTools:     cfg.Policy.DenyTools,
		AdminTools:    cfg.Policy.AdminTools,
		DenyPatterns:  cfg.Policy.DenyPatterns,
		ToolArguments: cfg.Policy.ToolArguments,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(fmt.Sprintf("tool policy loaded with %d rules", gov.Len()))

	registry := tools.NewRegistry()
	registry.Policy = gov
	registry.IsAdmin = cfg.IsAdmin
	registry.Timeout = cfg.Timeouts.Tool.Std()
	registry.Logger = logger

	if searchTool, err := tools.NewSearchTool(5); err != nil {
		logger.Warn("search tool unavailable", err)
	} else {
		registry.Register(searchTool)
	}
	registry.Register(tools.NewFilesystemTool(cfg.App.Workspace))
	registry.Register(tools.NewScraperTool())
	registry.Register(tools.NewCronTool(history))
	registry.Register(tools.NewShellTool(cfg.App.Workspace))
	registry.Register(tools.NewBrowserTool(filepath.Join(cfg.App.Workspace, "screenshots"), true))
	registry.Register(tools.NewSystemTool(filepath.Join(cfg.App.Workspace, "screenshots")))
	return registry, nil
}

func (a *app) Close(ctx context.Context) {
	if b, ok := a.registry.Get("browser").(*tools.BrowserTool); ok {
		_ = b.Close()
	}
	if err := a.resources.Shutdown(ctx); err != nil {
		a.logger.Warn("capability shutdown incomplete", err)
	}
	if err := a.history.Close(); err != nil {
		a.logger.Warn("closing memory store", err)
	}
}
