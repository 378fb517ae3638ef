package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/printer"
	"github.com/spf13/cobra"
)

const defaultAgentListen = ":8081"

var (
	agentName    string
	agentListen  string
	agentOrigins []string
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run one agent service",
	Long: `Run one agent from quill.yml as a standalone service.

The agent subscribes to the configured broker under its name and serves:
  • GET  /health - liveness and broker connectivity
  • POST /send   - direct message injection
  • GET  /status - current state and counters

Runs until interrupted (SIGINT/SIGTERM), then finishes queued requests.`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().StringVar(&agentName, "name", "", "Agent name from quill.yml (required)")
	agentCmd.Flags().StringVar(&agentListen, "listen", "", "HTTP listen address (default from quill.yml, else :8081)")
	agentCmd.Flags().StringSliceVar(&agentOrigins, "allow-origin", nil, "Allow browser requests from this origin (repeatable)")
	_ = agentCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(agentCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Configuration error", err.Error(), []string{"Run 'quill init' to create a quill.yml"})
	}

	a, ok := cfg.Agents[agentName]
	if !ok {
		return printer.Error(fmt.Sprintf("Unknown agent '%s'", agentName),
			"The agent is not defined in the agents section of quill.yml.", nil)
	}
	if cfg.Broker.Type == config.BrokerMemory {
		printer.Warning("Broker type is 'memory': replies only reach an orchestrator in this process.\n")
	}

	listen := agentListen
	if listen == "" {
		listen = a.Listen
	}
	if listen == "" {
		listen = defaultAgentListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return printer.Error("Failed to connect", err.Error(), nil)
	}
	defer p.Close()

	svc, err := p.newService(agentName)
	if err != nil {
		return printer.Error("Failed to create agent", err.Error(), nil)
	}

	// The /send listener only runs while the service is subscribed.
	if err := svc.Start(ctx, true); err != nil {
		return printer.Error("Failed to start agent", err.Error(), nil)
	}

	server := agent.NewServer(svc, p.broker, agent.ServerConfig{Addr: listen, AllowOrigins: agentOrigins})
	if err := server.Start(); err != nil {
		svc.Stop(true)
		return printer.Error("Failed to start agent server", err.Error(), nil)
	}

	printer.Success("Agent '%s' (%s) listening on %s\n", agentName, a.Role, server.Addr())

	<-ctx.Done()
	log.Printf("[INFO] Shutdown signal received for agent '%s'", agentName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	shutdownErr := server.Shutdown(shutdownCtx)

	if err := svc.Stop(false); err != nil {
		return err
	}
	return shutdownErr
}
