// internal/cli/dryrun.go
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reconciliation-engine/internal/common/config"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/progress"
	"reconciliation-engine/internal/reconciliation/service"
	"reconciliation-engine/internal/reconciliation/source"
	"reconciliation-engine/internal/reconciliation/store"
)

type DryRunOptions struct {
	RulesFile   string
	SourceAFile string
	SourceBFile string
	ChunkSize   int
	Threshold   float64
	Timeout     time.Duration
}

type DryRunReport struct {
	Job        *models.ReconciliationJob     `json:"job"`
	Statistics *models.JobStatistics         `json:"statistics"`
	Results    []models.ReconciliationResult `json:"results"`
}

func NewDryRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := DryRunOptions{}

	cmd := &cobra.Command{
		Use:   "dry-run",
		Short: "Reconcile two record files in memory and print the matches",
		Long: `Run one reconciliation job against in-memory storage. Record files hold a
list of {id, fields} objects in YAML or JSON. Nothing is persisted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewNoOpLogger()
			if rootOpts.LogLevel != "" {
				log = logger.NewStructured(rootOpts.LogLevel, "console")
			}
			report, err := runDryRun(cmd.Context(), opts, log)
			if err != nil {
				return err
			}
			return writeDryRunReport(cmd.OutOrStdout(), rootOpts.Format, report)
		},
	}

	cmd.Flags().StringVar(&opts.RulesFile, "rules", "", "rule set file")
	cmd.Flags().StringVar(&opts.SourceAFile, "source-a", "", "records of source A")
	cmd.Flags().StringVar(&opts.SourceBFile, "source-b", "", "records of source B")
	cmd.Flags().IntVar(&opts.ChunkSize, "chunk-size", 100, "records of source A per chunk")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", 0, "confidence threshold (default: rule file value or 0.8)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "job timeout")
	for _, f := range []string{"rules", "source-a", "source-b"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// terminalSignal closes done once the job reaches a terminal state.
type terminalSignal struct {
	jobID uuid.UUID
	done  chan struct{}
}

func (s *terminalSignal) Publish(_ context.Context, p models.JobProgress) {
	if p.JobID == s.jobID && p.Status.IsTerminal() {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

func runDryRun(ctx context.Context, opts DryRunOptions, log logger.Logger) (*DryRunReport, error) {
	rf, err := readRuleFile(opts.RulesFile)
	if err != nil {
		return nil, err
	}
	recordsA, err := readRecords(opts.SourceAFile)
	if err != nil {
		return nil, err
	}
	recordsB, err := readRecords(opts.SourceBFile)
	if err != nil {
		return nil, err
	}

	sourceA, sourceB := uuid.New(), uuid.New()
	records := source.NewMemorySource()
	records.Put(sourceA, recordsA)
	records.Put(sourceB, recordsB)
	st := store.NewMemoryStore()

	// The job id is unknown until CreateJob returns; the signal sink reads it afterwards.
	signal := &terminalSignal{done: make(chan struct{})}
	svc := service.New(config.ReconciliationConfig{
		MaxConcurrentJobs: 1,
		ChunkSize:         opts.ChunkSize,
		ProgressCeiling:   80,
		JobTimeoutSeconds: int(opts.Timeout.Seconds()),
	}, service.Dependencies{
		Store:   st,
		Records: records,
		Sink:    progress.Multi{progress.NewLogSink(log), signal},
	}, log)

	name := rf.Name
	if name == "" {
		name = "dry-run"
	}
	threshold := rf.ConfidenceThreshold
	if opts.Threshold > 0 {
		threshold = &opts.Threshold
	}

	job, err := svc.CreateJob(ctx, service.CreateJobRequest{
		ProjectID:           uuid.New(),
		SourceAID:           sourceA,
		SourceBID:           sourceB,
		Name:                name,
		RuleSet:             rf.RuleSet,
		ConfidenceThreshold: threshold,
	})
	if err != nil {
		return nil, err
	}
	signal.jobID = job.ID

	if _, err := svc.StartJob(ctx, job.ID); err != nil {
		return nil, err
	}

	select {
	case <-signal.done:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
		return nil, ctx.Err()
	}
	// The terminal event is published before the run loop returns.
	if err := svc.Shutdown(ctx); err != nil {
		return nil, err
	}

	final, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if final.Status != models.JobCompleted {
		msg := string(final.Status)
		if final.ErrorMessage != nil {
			msg = *final.ErrorMessage
		}
		return nil, fmt.Errorf("dry run did not complete: %s", msg)
	}

	report := &DryRunReport{Job: final}
	if report.Statistics, err = svc.JobStatistics(ctx, job.ID); err != nil {
		return nil, err
	}
	for page := 1; ; page++ {
		p, err := svc.GetResults(ctx, job.ID, page, 100)
		if err != nil {
			return nil, err
		}
		report.Results = append(report.Results, p.Items...)
		if len(p.Items) == 0 || len(report.Results) >= p.Total {
			break
		}
	}
	return report, nil
}

func writeDryRunReport(w io.Writer, format string, r *DryRunReport) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintf(w, "job %s: %s\n", r.Job.ID, r.Job.Status)
	fmt.Fprintf(w, "records: %d processed, %d matched, %d unmatched (match rate %.2f)\n",
		r.Job.ProcessedRecords, r.Job.MatchedRecords, r.Job.UnmatchedRecords, r.Statistics.MatchRate)
	for _, res := range r.Results {
		if res.RecordBID == nil {
			fmt.Fprintf(w, "  %-20s  -> (none)\n", res.RecordAID)
			continue
		}
		fmt.Fprintf(w, "  %-20s  -> %-20s  %.3f  %s\n", res.RecordAID, *res.RecordBID, *res.ConfidenceScore, res.MatchType)
	}
	return nil
}
