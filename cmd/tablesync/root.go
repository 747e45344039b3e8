package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/logging"
)

// rootOptions holds the state shared by every subcommand.
type rootOptions struct {
	configFile string
	envFile    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "tablesync",
		Short: "Copy database tables to and from dated CSV or XLSX files",
		Long: `tablesync exports every configured table to <table>_<yyyyMMdd>.<ext>
in a folder, or imports those files by truncating each table and bulk
loading the file contents.

Settings come from, in increasing precedence: defaults, the --config YAML
file, the .env file and environment, and command-line flags.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" {
				return nil
			}
			return opts.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "YAML config file (keys are lower-case variable names)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded into the environment if present")

	// Names match the loader's flag keys; values override every other source.
	pf.String("mode", "", "sync direction: export|e|import|i (SYNC_MODE)")
	pf.String("tables", "", "comma-separated table names (SYNC_TABLES)")
	pf.String("format", "", "file format: csv or xlsx (SYNC_FILE_FORMAT)")
	pf.String("folder", "", "folder for exchanged files (SYNC_FILE_FOLDER)")
	pf.String("encoding", "", "CSV character set (SYNC_CSV_ENCODING)")
	pf.Bool("continue-on-error", false, "keep going after a failed table (SYNC_CONTINUE_ON_ERROR)")
	pf.String("source", "", "source database descriptor (SOURCE_DB)")
	pf.String("destination", "", "destination database descriptor (DESTINATION_DB)")
	pf.String("cron", "", "cron expression for recurring runs (SYNC_CRON)")
	pf.String("interval", "", "delay between recurring runs (SYNC_INTERVAL)")
	pf.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	pf.String("log-format", "", "text or json (LOG_FORMAT)")

	_ = rootCmd.RegisterFlagCompletionFunc("mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"export", "import"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"csv", "xlsx"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// load reads the dotenv file, builds the configuration and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.LoadFrom(config.Sources{
		File:  o.configFile,
		Flags: cmd.Flags(),
	})
	if err != nil {
		return err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	o.cfg = cfg
	o.logger = slog.Default()

	o.logger.Debug("configuration loaded", "config", cfg.String())
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tablesync %s (commit %s)\n", Version, GitCommit)
		},
	}
}
