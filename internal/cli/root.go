// Package cli holds the reconciler command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	Format     string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Record reconciliation engine",
		Long:  "Matches records between two data sources and tracks the review of the matches.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: configs/config.yaml lookup)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewValidateRulesCommand(opts))
	cmd.AddCommand(NewDryRunCommand(opts))
	cmd.AddCommand(NewRegistryCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	if o.ConfigPath != "" {
		return config.LoadFromFile(o.ConfigPath)
	}
	return config.Load()
}

func (o *RootOptions) newLogger(cfg config.LoggingConfig) logger.Logger {
	level := cfg.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	return logger.NewStructured(level, cfg.Format)
}
