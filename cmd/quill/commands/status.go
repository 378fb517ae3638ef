package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/quill/internal/agent"
	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/printer"
	"github.com/spf13/cobra"
)

var (
	statusURLs    []string
	statusJSON    bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of running agents",
	Long: `Probe each agent's GET /status endpoint and show its state.

Agents are taken from the url fields in quill.yml. Extra agents can be given
with --url name=http://host:port. Agents that do not answer are reported as
unreachable.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringSliceVar(&statusURLs, "url", nil, "Agent to probe as name=url (repeatable)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 5*time.Second, "Time to wait for all agents")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Configuration error", err.Error(), []string{"Run 'quill init' to create a quill.yml"})
	}

	probers, err := statusProbers(cfg, statusURLs)
	if err != nil {
		return printer.Error("Invalid --url", err.Error(), []string{"Use --url author=http://localhost:8081"})
	}
	if len(probers) == 0 {
		if statusJSON {
			printer.Println("[]")
			return nil
		}
		printer.Println("No agent URLs configured.")
		printer.Println()
		printer.Println("Add a url to each agent in quill.yml or pass --url name=http://host:port.")
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
	defer cancel()
	statuses := probeAll(ctx, probers)

	if statusJSON {
		enc := json.NewEncoder(printer.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(statuses)
	}
	return printer.Table([]string{"Agent", "Role", "Status", "Last Heartbeat"}, statusRows(cfg, statuses, time.Now()))
}

// statusProbers merges configured agent URLs with name=url overrides.
func statusProbers(cfg *config.QuillConfig, overrides []string) ([]*agent.RemoteProber, error) {
	probers := remoteProbers(cfg)
	for _, raw := range overrides {
		name, url, ok := strings.Cut(raw, "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("expected name=url, got %q", raw)
		}
		replaced := false
		for i, p := range probers {
			if p.Name == name {
				probers[i] = agent.NewRemoteProber(name, url)
				replaced = true
			}
		}
		if !replaced {
			probers = append(probers, agent.NewRemoteProber(name, url))
		}
	}
	return probers, nil
}

func probeAll(ctx context.Context, probers []*agent.RemoteProber) []agent.AgentStatus {
	statuses := make([]agent.AgentStatus, len(probers))
	var wg sync.WaitGroup
	for i, p := range probers {
		wg.Add(1)
		go func(i int, p *agent.RemoteProber) {
			defer wg.Done()
			statuses[i] = p.Probe(ctx)
		}(i, p)
	}
	wg.Wait()
	return statuses
}

func statusRows(cfg *config.QuillConfig, statuses []agent.AgentStatus, now time.Time) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, st := range statuses {
		role := "-"
		if a, ok := cfg.Agents[st.Name]; ok {
			role = a.Role
		}
		heartbeat := "-"
		if !st.LastHeartbeat.IsZero() {
			heartbeat = formatDuration(now.Sub(st.LastHeartbeat)) + " ago"
		}
		rows = append(rows, []string{st.Name, role, printer.State(string(st.State)), heartbeat})
	}
	return rows
}
