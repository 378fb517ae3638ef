package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/filter"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/timespec"
	"github.com/dyluth/quill/pkg/message"
	"github.com/spf13/cobra"
)

var (
	historyJSON  bool
	historySince string
	historyUntil string
	historyKind  string
	historyAgent string
)

var historyCmd = &cobra.Command{
	Use:   "history <correlation-id>",
	Short: "Show the message history of a workflow",
	Long: `Show every message recorded for one workflow, in arrival order.

History is read from the store configured in quill.yml. The memory store only
lives inside a running process, so use the redis or sqlite store to inspect
workflows afterwards.

Filters (ANDed together):
  --since 10m / --until 2025-10-29T13:00:00Z   time window
  --kind 'illustration_*'                      payload kind glob
  --agent illustrator                          sender or recipient`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output raw messages as JSON")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Only messages after this time (duration like 1h or RFC3339)")
	historyCmd.Flags().StringVar(&historyUntil, "until", "", "Only messages before this time (duration like 1h or RFC3339)")
	historyCmd.Flags().StringVar(&historyKind, "kind", "", "Only messages whose kind matches this glob")
	historyCmd.Flags().StringVar(&historyAgent, "agent", "", "Only messages sent to or by this agent")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("Configuration error", err.Error(), []string{"Run 'quill init' to create a quill.yml"})
	}
	criteria, err := historyCriteria(time.Now())
	if err != nil {
		return printer.Error("Invalid filter", err.Error(), nil)
	}
	if cfg.History.Type == config.HistoryMemory {
		return printer.Error("No persistent history",
			"History type is 'memory', so nothing outlives the process that ran the workflow.",
			[]string{"Set history.type to 'sqlite' or 'redis' in quill.yml (or pass --history)"})
	}

	p, err := newPipeline(cmd.Context(), cfg)
	if err != nil {
		return printer.Error("Failed to connect", err.Error(), nil)
	}
	defer p.Close()

	msgs, err := p.history.List(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to read history: %w", err)
	}
	msgs = criteria.Apply(msgs)

	if historyJSON {
		if msgs == nil {
			msgs = []*message.Message{}
		}
		enc := json.NewEncoder(printer.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}

	if len(msgs) == 0 {
		printer.Printf("No messages recorded for %s.\n", args[0])
		return nil
	}
	return printer.Table([]string{"Time", "Sender", "Recipient", "Type", "Kind", "In Reply To"}, historyRows(msgs))
}

func historyCriteria(now time.Time) (*filter.Criteria, error) {
	since, until, err := timespec.ParseRange(historySince, historyUntil, now)
	if err != nil {
		return nil, err
	}
	c := &filter.Criteria{
		SinceTimestampMs: since,
		UntilTimestampMs: until,
		KindGlob:         historyKind,
		Agent:            historyAgent,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid --kind pattern %q: %w", historyKind, err)
	}
	return c, nil
}

func historyRows(msgs []*message.Message) [][]string {
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		replyTo := "-"
		if m.InReplyTo != "" {
			replyTo = shortID(m.InReplyTo)
		}
		rows = append(rows, []string{
			time.UnixMilli(m.CreatedAtMs).Format("15:04:05.000"),
			m.Sender,
			m.Recipient,
			string(m.Type),
			string(m.Kind),
			replyTo,
		})
	}
	return rows
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
