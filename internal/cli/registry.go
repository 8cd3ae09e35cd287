// internal/cli/registry.go
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"reconciliation-engine/pkg/registry"
)

func NewRegistryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the worker activity registry",
	}
	cmd.AddCommand(newRegistryListCommand(rootOpts))
	cmd.AddCommand(newRegistryValidateCommand(rootOpts))
	return cmd
}

func newRegistryListCommand(rootOpts *RootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List registered activities",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := openRegistry(path)
			if err != nil {
				return err
			}
			return writeActivities(rootOpts, reg.Activities, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "registry file (default: built-in registry)")
	return cmd
}

func newRegistryValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:           "validate",
		Short:         "Check a registry file for missing fields and duplicates",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			reg, err := openRegistry(path)
			if err == nil {
				err = reg.Validate()
			}
			if err != nil {
				fmt.Fprintf(w, "ERROR: %s\n", err)
				return err
			}
			fmt.Fprintf(w, "OK: %d activities\n", len(reg.Activities))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "registry file (default: built-in registry)")
	return cmd
}

func openRegistry(path string) (*registry.ActivityRegistry, error) {
	if path == "" {
		return registry.Default()
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return reg, nil
}

func writeActivities(opts *RootOptions, activities []registry.Activity, w io.Writer) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(activities)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK TYPE\tCATEGORY\tTIMEOUT\tRETRIES\tSTATUS")
	for _, a := range activities {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", a.TaskType, a.Category, a.Timeout, a.Retries, a.ImplementationStatus)
	}
	return tw.Flush()
}
