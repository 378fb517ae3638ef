package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/quill/internal/orchestrator"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/watch"
	"github.com/spf13/cobra"
)

var (
	watchURL      string
	watchInterval time.Duration
	watchTimeout  time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <correlation-id>",
	Short: "Follow a workflow running on 'quill serve'",
	Long: `Poll a running orchestrator and print each phase change of one workflow
until it completes or fails.

The orchestrator URL defaults to the listen address in quill.yml.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchURL, "url", "", "Orchestrator base URL (default from quill.yml)")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 500*time.Millisecond, "Poll interval")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 30*time.Minute, "Give up after this long")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	baseURL := watchURL
	if baseURL == "" {
		cfg, err := loadConfig()
		if err != nil {
			return printer.Error("Configuration error", err.Error(), []string{"Pass --url http://host:port"})
		}
		baseURL = listenURL(cfg.Orchestrator.Listen)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cid := args[0]
	client := watch.NewClient(baseURL)
	start := time.Now()

	final, err := watch.PollStatus(ctx, client, cid, watchInterval, watchTimeout, func(st orchestrator.TaskStatus) {
		printer.Printf("[%s] %-15s %s  pending=%d\n",
			formatDuration(time.Since(start)), st.State, printer.State(string(st.Status)), st.Pending)
	})
	if err != nil {
		return printer.ErrorWithContext("Watch failed", err.Error(), map[string]string{"Orchestrator": baseURL}, nil)
	}

	if final.Status == orchestrator.StatusComplete {
		result, err := client.Result(ctx, cid)
		if err != nil {
			return printer.Error("Failed to fetch result", err.Error(), nil)
		}
		printResult(result)
		return nil
	}

	return printer.ErrorWithContext("Story creation failed", "", map[string]string{
		"Correlation ID": cid,
		"Phase":          string(final.Phase),
	}, []string{fmt.Sprintf("Inspect the messages: quill history %s", cid)})
}

// listenURL turns a listen address such as ":8080" into a local base URL.
func listenURL(listen string) string {
	host := listen
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return "http://" + host
}
