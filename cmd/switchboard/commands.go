package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rahul/switchboard/internal/agent"
	"github.com/rahul/switchboard/internal/engine"
	"github.com/rahul/switchboard/internal/gateway"
	"github.com/rahul/switchboard/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat gateways, task scheduler and live dashboard",
	RunE:  runServe,
}

var (
	askUser     string
	askImage    string
	askAudio    string
	askDocument string
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Run a single turn from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Split documents and add them to the qdrant collection",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print resident capabilities, tools and memory stats as JSON",
	RunE:  runStatus,
}

func init() {
	askCmd.Flags().StringVar(&askUser, "user", "cli", "user id for memory and history")
	askCmd.Flags().StringVar(&askImage, "image", "", "image URL to attach")
	askCmd.Flags().StringVar(&askAudio, "audio", "", "audio file to attach")
	askCmd.Flags().StringVar(&askDocument, "document", "", "document file to attach")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full response as JSON")
}

func runServe(cmd *cobra.Command, args []string) error {
	observability.PrintBanner()
	observability.InitializeTerminal()
	defer observability.CleanupTerminal()

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())
	logger := observability.NewLoggerTo(observability.NewTermWriter(), filepath.Join("logs", "llm.jsonl"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}

	inbox := filepath.Join(a.cfg.App.Workspace, "inbox")
	gateways := gateway.Multi{}
	if tgCfg, ok := a.cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, a.orch, inbox, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		gateways["telegram"] = tg
	}
	if dcCfg, ok := a.cfg.GetGatewayConfig("discord"); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, a.orch, inbox, logger)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		gateways["discord"] = dc
	}
	if len(gateways) == 0 {
		return fmt.Errorf("no gateway is enabled; set gateways.telegram or gateways.discord in %s", cfgFile)
	}

	scheduler := agent.NewScheduler(a.orch, a.history, gateways, logger)
	go scheduler.Start(ctx)

	// Live resource dashboard
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var active []string
				for _, id := range a.resources.Active() {
					active = append(active, string(id))
				}
				observability.PrintLiveStatus(active)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				observability.Heartbeat()
				logger.LogHeartbeat()
			}
		}
	}()

	for name, g := range gateways {
		go func(name string, g gateway.Messenger) {
			if err := g.Start(); err != nil {
				logger.Error(fmt.Sprintf("gateway %s died", name), err)
				stop()
			}
		}(name, g)
	}

	<-ctx.Done()

	for name, g := range gateways {
		if err := g.Stop(); err != nil {
			logger.Warn(fmt.Sprintf("stopping gateway %s", name), err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Close(shutdownCtx)
	log.Println("\033[95m[ EXIT ] CORE DE-INITIALIZED. GOODBYE.\033[0m")
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.NewLoggerTo(os.Stderr, filepath.Join("logs", "llm.jsonl"))
	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	req := agent.Request{
		Message: strings.Join(args, " "),
		UserID:  askUser,
		Context: map[string]string{},
	}
	for key, val := range map[string]string{
		engine.AttachImageURL:     askImage,
		engine.AttachAudioPath:    askAudio,
		engine.AttachDocumentPath: askDocument,
	} {
		if val != "" {
			req.Context[key] = val
		}
	}

	resp := a.orch.Process(ctx, req)
	if askJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Response)
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.NewLoggerTo(os.Stderr, "")
	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if a.rag == nil {
		return fmt.Errorf("rag is not configured; set rag.qdrant_url in %s", cfgFile)
	}

	total := 0
	for _, root := range args {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			n, err := a.rag.Ingest(ctx, path)
			if err != nil {
				logger.Warn(fmt.Sprintf("skipping %s", path), err)
				return nil
			}
			total += n
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", path, n)
			return nil
		})
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d chunks\n", total)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, observability.NewNopLogger())
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(a.orch.Status(ctx))
}
