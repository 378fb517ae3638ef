package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dyluth/quill/internal/config"
	"github.com/dyluth/quill/internal/orchestrator"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/pkg/message"
	"github.com/spf13/cobra"
)

var (
	createPlot    string
	createThemes  []string
	createAge     string
	createLength  string
	createStyle   string
	createTitle   string
	createTimeout time.Duration
	createJSON    bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an illustrated story from an idea",
	Long: `Create runs one workflow: the author writes the story, the illustrator draws
each scene and the publisher assembles the book.

With the memory broker the three agents run inside this process. With the
redis or http broker they must already be running ('quill agent --name ...').
With the http broker, create also listens on orchestrator.listen for the
agents' replies, so no 'quill serve' may own that address.

Examples:
  quill create --plot "A lighthouse keeper's daughter befriends a whale"
  quill create --plot "A robot learns to paint" --length medium --style watercolor --json`,
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVar(&createPlot, "plot", "", "Story plot (required)")
	createCmd.Flags().StringSliceVar(&createThemes, "theme", nil, "Theme to weave into the story (repeatable)")
	createCmd.Flags().StringVar(&createAge, "age", "", "Target reader age range (default 8-12)")
	createCmd.Flags().StringVar(&createLength, "length", "", "Story length: short, medium or long (default short)")
	createCmd.Flags().StringVar(&createStyle, "style", "", "Art style: children_book, cartoon, watercolor or line_art")
	createCmd.Flags().StringVar(&createTitle, "title", "", "Book title (chosen by the author if omitted)")
	createCmd.Flags().DurationVar(&createTimeout, "timeout", 0, "Overall workflow timeout (default from quill.yml)")
	createCmd.Flags().BoolVar(&createJSON, "json", false, "Output the workflow result as JSON")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
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

	if cfg.Broker.Type == config.BrokerHTTP {
		inbound := orchestrator.NewServer(o, p.broker, cfg.Orchestrator.Listen)
		if err := inbound.Start(); err != nil {
			return printer.Error("Failed to start reply listener", err.Error(), []string{
				"Stop any 'quill serve' using orchestrator.listen, or submit the story to it instead",
			})
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			inbound.Shutdown(shutdownCtx)
		}()
	}

	idea := message.StoryIdea{
		Plot:      createPlot,
		Themes:    createThemes,
		TargetAge: createAge,
		Length:    message.Length(createLength),
		ArtStyle:  createStyle,
		Title:     createTitle,
	}

	if !createJSON {
		printer.Step("Creating story...\n")
	}
	result := o.CreateStory(ctx, idea, createTimeout)

	if createJSON {
		enc := json.NewEncoder(printer.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
	} else if result.Status == orchestrator.StatusComplete {
		printResult(result)
	}

	if result.Status != orchestrator.StatusComplete {
		details := map[string]string{"Correlation ID": result.CorrelationID}
		if result.FailedPhase != "" {
			details["Phase"] = string(result.FailedPhase)
		}
		return printer.ErrorWithContext("Story creation failed", result.Error, details, []string{
			fmt.Sprintf("Inspect the messages: quill history %s", result.CorrelationID),
		})
	}
	return nil
}

func printResult(result *orchestrator.WorkflowResult) {
	printer.Success("%s\n", result.Metadata.Title)
	printer.Printf("\n  Correlation ID: %s\n", result.CorrelationID)
	printer.Printf("  Chapters: %d  Images: %d  Pages: %d\n",
		result.Metadata.Chapters, result.Metadata.Images, result.Metadata.PageCount)
	printer.Printf("  Took: %s\n", formatDuration(result.FinishedAt.Sub(result.StartedAt)))

	formats := make([]string, 0, len(result.Publications))
	for format := range result.Publications {
		formats = append(formats, format)
	}
	sort.Strings(formats)

	printer.Println("\nPublications:")
	for _, format := range formats {
		printer.Printf("  %-9s %s\n", format, result.Publications[format])
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
