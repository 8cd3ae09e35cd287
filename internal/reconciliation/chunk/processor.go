// Package chunk runs the matching loop of one reconciliation job, one source A window at a time.
package chunk

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/common/metrics"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/matching"
	"reconciliation-engine/internal/reconciliation/source"
)

const (
	DefaultChunkSize       = 100
	DefaultProgressCeiling = 80
	defaultLoadPageSize    = 1000
)

// ResultWriter persists one chunk of results atomically.
type ResultWriter interface {
	SaveResults(ctx context.Context, jobID uuid.UUID, results []models.ReconciliationResult) error
}

// Reporter is told about every committed chunk. It must not block for long.
type Reporter interface {
	Report(ctx context.Context, sum Summary, ev models.JobProgress)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, sum Summary, ev models.JobProgress)

func (f ReporterFunc) Report(ctx context.Context, sum Summary, ev models.JobProgress) {
	f(ctx, sum, ev)
}

// Summary is the running tally of a job. Offset is the source A position up to which results are committed.
type Summary struct {
	Total     int
	Processed int
	Matched   int
	Unmatched int
	Offset    int
	Chunks    int
}

// AbortError stops a run after Offset records were committed.
type AbortError struct {
	Op     string
	Offset int
	Err    error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%s failed after offset %d: %v", e.Op, e.Offset, e.Err)
}

func (e *AbortError) Unwrap() error { return e.Err }

type Options struct {
	ChunkSize       int
	ProgressCeiling int
	// LoadPageSize is the window used to read source B into memory.
	LoadPageSize int
}

type Processor struct {
	records source.RecordSource
	results ResultWriter
	opts    Options
	logger  logger.Logger
}

func NewProcessor(records source.RecordSource, results ResultWriter, opts Options, log logger.Logger) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ProgressCeiling <= 0 || opts.ProgressCeiling >= 100 {
		opts.ProgressCeiling = DefaultProgressCeiling
	}
	if opts.LoadPageSize <= 0 {
		opts.LoadPageSize = defaultLoadPageSize
	}
	return &Processor{
		records: records,
		results: results,
		opts:    opts,
		logger:  log.WithFields(map[string]interface{}{"component": "chunk_processor"}),
	}
}

// Run matches source A against source B starting at resume, committing one chunk at a time.
// On error the returned Summary still describes everything committed so far.
func (p *Processor) Run(ctx context.Context, job *models.ReconciliationJob, reporter Reporter, resume int) (Summary, error) {
	if resume < 0 {
		resume = 0
	}
	sum := Summary{Processed: resume, Offset: resume}
	if resume > 0 {
		sum.Matched = job.MatchedRecords
		sum.Unmatched = job.UnmatchedRecords
	}

	var recordsB []models.Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := p.records.Count(gctx, job.SourceAID)
		sum.Total = n
		return err
	})
	g.Go(func() error {
		recs, err := source.LoadAll(gctx, p.records, job.SourceBID, p.opts.LoadPageSize)
		recordsB = recs
		return err
	})
	if err := g.Wait(); err != nil {
		return sum, &AbortError{Op: "load sources", Offset: sum.Offset, Err: err}
	}

	idx := newCandidateIndex(job.RuleSet, recordsB)
	size := p.opts.ChunkSize
	chunks := (sum.Total + size - 1) / size

	log := p.logger.WithFields(map[string]interface{}{"jobId": job.ID.String()})
	log.Info("matching started", map[string]interface{}{
		"total":   sum.Total,
		"sourceB": len(recordsB),
		"chunks":  chunks,
		"resume":  resume,
	})

	for offset := resume; offset < sum.Total; offset += size {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		started := time.Now()

		batch, err := p.records.Load(ctx, job.SourceAID, offset, size)
		if err != nil {
			return sum, &AbortError{Op: "load chunk", Offset: sum.Offset, Err: err}
		}
		if len(batch) == 0 {
			break
		}

		results, matched := p.matchChunk(job, idx, batch, offset)
		if err := p.results.SaveResults(ctx, job.ID, results); err != nil {
			return sum, &AbortError{Op: "persist chunk", Offset: sum.Offset, Err: err}
		}

		sum.Processed += len(batch)
		sum.Matched += matched
		sum.Unmatched += len(batch) - matched
		sum.Offset = offset + len(batch)
		sum.Chunks++

		metrics.ChunkDuration.Observe(time.Since(started).Seconds())
		metrics.RecordsProcessed.WithLabelValues("matched").Add(float64(matched))
		metrics.RecordsProcessed.WithLabelValues("unmatched").Add(float64(len(batch) - matched))

		reporter.Report(ctx, sum, p.event(job, sum, offset/size+1, chunks))
	}

	log.Info("matching finished", map[string]interface{}{
		"processed": sum.Processed,
		"matched":   sum.Matched,
		"unmatched": sum.Unmatched,
	})
	return sum, nil
}

func (p *Processor) event(job *models.ReconciliationJob, sum Summary, chunk, chunks int) models.JobProgress {
	pct := 0
	if sum.Total > 0 {
		pct = sum.Processed * 100 / sum.Total
	}
	if pct > p.opts.ProgressCeiling {
		pct = p.opts.ProgressCeiling
	}
	total := sum.Total
	return models.JobProgress{
		JobID:            job.ID,
		ProjectID:        job.ProjectID,
		Status:           models.JobProcessing,
		Progress:         pct,
		TotalRecords:     &total,
		ProcessedRecords: sum.Processed,
		MatchedRecords:   sum.Matched,
		UnmatchedRecords: sum.Unmatched,
		CurrentPhase:     fmt.Sprintf("Processing chunk %d/%d", chunk, chunks),
	}
}

// matchChunk produces exactly one result per source A record.
func (p *Processor) matchChunk(job *models.ReconciliationJob, idx *candidateIndex, batch []models.Record, offset int) ([]models.ReconciliationResult, int) {
	now := time.Now().UTC()
	out := make([]models.ReconciliationResult, 0, len(batch))
	matched := 0

	for _, a := range batch {
		res := models.ReconciliationResult{
			ID:        uuid.New(),
			JobID:     job.ID,
			RecordAID: a.ID,
			Status:    models.ResultUnmatched,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var best *models.Record
		var bestScore float64
		var bestType matching.RuleType
		for _, i := range idx.candidates(a, offset, len(batch)) {
			b := &idx.records[i]
			score, ok := job.RuleSet.Evaluate(a.Fields, b.Fields)
			if !ok || score.Confidence < job.ConfidenceThreshold {
				continue
			}
			if best == nil || score.Confidence > bestScore || (score.Confidence == bestScore && b.ID < best.ID) {
				best, bestScore, bestType = b, score.Confidence, score.MatchType
			}
		}

		if best != nil {
			id, conf := best.ID, models.RoundConfidence(bestScore)
			res.RecordBID = &id
			res.ConfidenceScore = &conf
			res.MatchType = bestType
			res.Status = models.ResultPending
			matched++
		}
		out = append(out, res)
	}
	return out, matched
}
