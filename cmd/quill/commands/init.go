package commands

import (
	"fmt"
	"os"

	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Quill project",
	Long: `Initialize a new Quill project with a default configuration and an
example external author tool.

Creates:
  • quill.yml - Project configuration file
  • agents/example-author/ - Example tool demonstrating the stdin/stdout contract

Use --force to reinitialize an existing project (WARNING: destroys existing configuration).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Force reinitialization (removes existing quill.yml and agents/example-author)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if err := scaffold.Initialize(dir, forceInit); err != nil {
		return printer.Error("Initialization failed", err.Error(), nil)
	}

	printer.Success("Successfully initialized Quill project!\n")
	printer.Println("\nCreated:")
	for _, path := range scaffold.CreatedFiles() {
		printer.Printf("  ✓ %s\n", path)
	}
	printer.Println("\nNext steps:")
	printer.Println("  1. Pick the author and illustrator backends in quill.yml")
	printer.Println("  2. Run 'quill create --plot \"...\"' to make your first book")
	return nil
}
