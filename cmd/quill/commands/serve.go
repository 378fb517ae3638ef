package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/orchestrator"
	"github.com/dyluth/quill/internal/printer"
	"github.com/spf13/cobra"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator as an HTTP service",
	Long: `Run the orchestrator with its HTTP API:
  • POST /stories                 - run a workflow and return its result
  • GET  /stories/:id             - final or current result
  • GET  /stories/:id/status      - current phase and pending requests
  • GET  /stories/:id/history     - every message of the workflow
  • GET  /agents                  - agent statuses
  • POST /send                    - inbound messages (http broker)
  • GET  /healthz                 - broker connectivity

With the memory broker the agents run inside this process.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (default from quill.yml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Configuration error", err.Error(), []string{"Run 'quill init' to create a quill.yml"})
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return printer.Error("Failed to connect", err.Error(), nil)
	}
	defer p.Close()

	if cfg.Broker.Type == config.BrokerMemory {
		if err := p.startAgents(ctx); err != nil {
			return printer.Error("Failed to start agents", err.Error(), nil)
		}
	}

	o, err := p.newOrchestrator()
	if err != nil {
		return err
	}
	if err := o.Start(); err != nil {
		return printer.Error("Failed to start orchestrator", err.Error(), nil)
	}
	defer o.Stop()

	listen := serveListen
	if listen == "" {
		listen = cfg.Orchestrator.Listen
	}
	server := orchestrator.NewServer(o, p.broker, listen)
	if err := server.Start(); err != nil {
		return printer.Error("Failed to start orchestrator server", err.Error(), nil)
	}

	printer.Success("Orchestrator '%s' listening on %s (broker: %s, history: %s)\n",
		o.Name(), server.Addr(), cfg.Broker.Type, cfg.History.Type)

	<-ctx.Done()
	printer.Info("\nShutting down...\n")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
