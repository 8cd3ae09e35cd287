// internal/cli/validate.go
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type RuleValidationResult struct {
	Valid  bool     `json:"valid"`
	Rules  int      `json:"rules"`
	Errors []string `json:"errors,omitempty"`
}

func NewValidateRulesCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "validate-rules",
		Short: "Check a rule set file without running a job",
		Long: `Parse a YAML or JSON rule set and apply the checks a job creation applies:
known rule types and algorithms, non-negative weights, thresholds within [0,1].`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateRules(rootOpts, file, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule set file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runValidateRules(opts *RootOptions, file string, w io.Writer) error {
	result := RuleValidationResult{Valid: true}

	rf, err := readRuleFile(file)
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.Rules = len(rf.RuleSet)
		if err := rf.RuleSet.Validate(); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, err.Error())
		}
		if t := rf.ConfidenceThreshold; t != nil && (*t < 0 || *t > 1) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("confidence_threshold %v outside [0,1]", *t))
		}
	}

	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else if result.Valid {
		fmt.Fprintf(w, "OK: %d rule(s) valid\n", result.Rules)
	} else {
		for _, e := range result.Errors {
			fmt.Fprintf(w, "ERROR: %s\n", e)
		}
	}

	if !result.Valid {
		return fmt.Errorf("rule set %s is invalid", file)
	}
	return nil
}
