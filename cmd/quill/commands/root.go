package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/dyluth/quill/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version string
	commit  string
	date    string
)

// settings holds process-level overrides from flags and QUILL_* variables.
var settings = viper.New()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - distributed picture-book pipeline",
	Long: `Quill turns a story idea into an illustrated book by coordinating three
agents: an author, an illustrator and a publisher.

Agents can run inside the quill process or as separate services connected
through Redis or HTTP. Every message of a workflow is kept in a history
store and can be inspected with 'quill history'.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", config.ConfigFileName, "Path to quill.yml")
	flags.String("broker", "", "Broker type override (memory, redis, http)")
	flags.String("redis-url", "", "Redis URL override")
	flags.String("namespace", "", "Namespace override for Redis keys and channels")
	flags.String("history", "", "History store override (memory, redis, sqlite)")
	flags.String("output-dir", "", "Directory for generated images and books")

	for _, name := range []string{"config", "broker", "redis-url", "namespace", "history", "output-dir"} {
		_ = settings.BindPFlag(name, flags.Lookup(name))
	}
	settings.SetEnvPrefix("QUILL")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()
}

// loadConfig reads quill.yml and applies flag and environment overrides.
// Without an explicit --config (or QUILL_CONFIG) a missing file falls back to
// the built-in single-process configuration.
func loadConfig() (*config.QuillConfig, error) {
	path := settings.GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || settings.IsSet("config") {
			return nil, err
		}
		cfg = config.Default()
	}

	if v := settings.GetString("broker"); v != "" {
		cfg.Broker.Type = v
	}
	if v := settings.GetString("redis-url"); v != "" {
		cfg.Broker.RedisURL = v
	}
	if v := settings.GetString("namespace"); v != "" {
		cfg.Namespace = v
	}
	if v := settings.GetString("history"); v != "" {
		cfg.History.Type = v
	}
	if v := settings.GetString("output-dir"); v != "" {
		cfg.OutputDir = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
