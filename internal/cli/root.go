// Package cli implements the syncctl operator commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"qbwc-sync/internal/config"
	"qbwc-sync/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	cfg    config.Config
	logger *zap.Logger
}

var validFormats = []string{"text", "json"}

// NewRootCommand creates the syncctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{cfg: config.Load()}

	cmd := &cobra.Command{
		Use:           "syncctl",
		Short:         "Operate the accounting connector sync service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			if opts.ConfigFile != "" {
				cfg, err := config.LoadFile(opts.ConfigFile)
				if err != nil {
					return err
				}
				opts.cfg = cfg
			}
			level := opts.cfg.LogLevel
			if opts.Verbose {
				level = "debug"
			}
			logger, err := logging.New(opts.cfg.Env, level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "TOML config file (environment variables still win)")

	cmd.AddCommand(NewCatalogCommand(opts))
	cmd.AddCommand(NewTranslateCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
