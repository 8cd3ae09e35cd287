package chunk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "reconciliation-engine/internal/common/errors"
	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
	"reconciliation-engine/internal/reconciliation/matching"
	"reconciliation-engine/internal/reconciliation/source"
)

// ==========================
// Test Helper Functions
// ==========================

type recordingWriter struct {
	mu      sync.Mutex
	calls   int
	failOn  int
	results []models.ReconciliationResult
}

func (w *recordingWriter) SaveResults(_ context.Context, _ uuid.UUID, results []models.ReconciliationResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failOn > 0 && w.calls == w.failOn {
		return apperrors.NewDatabaseError("save_results", errors.New("connection reset"))
	}
	w.results = append(w.results, results...)
	return nil
}

type recordingReporter struct {
	events []models.JobProgress
	sums   []Summary
	after  func(n int)
}

func (r *recordingReporter) Report(_ context.Context, sum Summary, ev models.JobProgress) {
	r.events = append(r.events, ev)
	r.sums = append(r.sums, sum)
	if r.after != nil {
		r.after(len(r.events))
	}
}

func rec(id string, kv ...string) models.Record {
	fields := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[kv[i]] = kv[i+1]
	}
	return models.Record{ID: id, Fields: fields}
}

func newJob(rules matching.RuleSet, threshold float64) *models.ReconciliationJob {
	return &models.ReconciliationJob{
		ID:                  uuid.New(),
		ProjectID:           uuid.New(),
		SourceAID:           uuid.New(),
		SourceBID:           uuid.New(),
		RuleSet:             rules,
		ConfidenceThreshold: threshold,
		Status:              models.JobProcessing,
	}
}

var exactOnInvoice = matching.RuleSet{{Field: "invoice", Type: matching.Exact, Weight: 1, Threshold: 1}}

// seedInvoices gives source A n invoices and source B a partner for every even one.
func seedInvoices(src *source.MemorySource, job *models.ReconciliationJob, n int) {
	var a, b []models.Record
	for i := 0; i < n; i++ {
		a = append(a, rec(fmt.Sprintf("a-%04d", i), "invoice", fmt.Sprintf("INV-%d", i)))
		if i%2 == 0 {
			b = append(b, rec(fmt.Sprintf("b-%04d", i), "invoice", fmt.Sprintf("inv-%d", i)))
		}
	}
	src.Put(job.SourceAID, a)
	src.Put(job.SourceBID, b)
}

func newTestProcessor(t *testing.T, src source.RecordSource, w ResultWriter) *Processor {
	return NewProcessor(src, w, Options{ChunkSize: 100, ProgressCeiling: 80, LoadPageSize: 64}, logger.NewTestLogger(t))
}

// ==========================
// Run Tests
// ==========================

func TestRun_ExactIndexAcrossChunks(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(exactOnInvoice, 0.8)
	seedInvoices(src, job, 250)
	w := &recordingWriter{}
	rep := &recordingReporter{}

	sum, err := newTestProcessor(t, src, w).Run(context.Background(), job, rep, 0)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 250, Processed: 250, Matched: 125, Unmatched: 125, Offset: 250, Chunks: 3}, sum)
	assert.Len(t, w.results, 250, "one result per source A record")
	assert.Equal(t, 3, w.calls)

	require.Len(t, rep.events, 3)
	assert.Equal(t, "Processing chunk 1/3", rep.events[0].CurrentPhase)
	assert.Equal(t, "Processing chunk 3/3", rep.events[2].CurrentPhase)
	assert.Equal(t, []int{40, 80, 80}, []int{rep.events[0].Progress, rep.events[1].Progress, rep.events[2].Progress})
	assert.Equal(t, 250, *rep.events[2].TotalRecords)

	for _, r := range w.results {
		if r.Status == models.ResultPending {
			require.NotNil(t, r.RecordBID)
			require.NotNil(t, r.ConfidenceScore)
			assert.Equal(t, 1.0, *r.ConfidenceScore)
			assert.Equal(t, matching.Exact, r.MatchType)
			assert.Equal(t, "b"+r.RecordAID[1:], *r.RecordBID)
		} else {
			assert.Equal(t, models.ResultUnmatched, r.Status)
			assert.Nil(t, r.RecordBID)
			assert.Nil(t, r.ConfidenceScore)
		}
	}
}

func TestRun_TieBreakPrefersLowestRecordB(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(matching.RuleSet{{Field: "name", Type: matching.Fuzzy, Weight: 1, Threshold: 0.5}}, 0.5)
	src.Put(job.SourceAID, []models.Record{
		rec("a-1", "name", "acme corp"),
		rec("a-2", "name", "zzzz"),
		rec("a-3", "name", "yyyy"),
	})
	src.Put(job.SourceBID, []models.Record{
		rec("b-9", "name", "acme corp"),
		rec("b-2", "name", "acme corp"),
		rec("b-5", "name", "acme cor"),
	})
	w := &recordingWriter{}

	_, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
	require.NoError(t, err)
	require.Len(t, w.results, 3)
	require.NotNil(t, w.results[0].RecordBID)
	assert.Equal(t, "b-2", *w.results[0].RecordBID)
	assert.Equal(t, matching.Exact, w.results[0].MatchType)
}

func TestRun_JobThresholdGatesCandidates(t *testing.T) {
	src := source.NewMemorySource()
	rules := matching.RuleSet{{Field: "name", Type: matching.Fuzzy, Weight: 1, Threshold: 0}}
	job := newJob(rules, 0.9)
	src.Put(job.SourceAID, []models.Record{rec("a-1", "name", "kitten")})
	src.Put(job.SourceBID, []models.Record{rec("b-1", "name", "sitting")})
	w := &recordingWriter{}

	sum, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Unmatched)
	assert.Equal(t, models.ResultUnmatched, w.results[0].Status)
}

func TestRun_ZeroThresholdExactRuleDoesNotBlock(t *testing.T) {
	src := source.NewMemorySource()
	rules := matching.RuleSet{
		{Field: "ref", Type: matching.Exact, Weight: 1, Threshold: 0},
		{Field: "name", Type: matching.Fuzzy, Weight: 3, Threshold: 0.5},
	}
	job := newJob(rules, 0.6)
	src.Put(job.SourceAID, []models.Record{rec("a-1", "ref", "R-1", "name", "acme corp")})
	src.Put(job.SourceBID, []models.Record{rec("b-1", "ref", "R-2", "name", "acme corp")})
	w := &recordingWriter{}

	sum, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Matched)
	require.NotNil(t, w.results[0].RecordBID)
	assert.Equal(t, "b-1", *w.results[0].RecordBID)
	assert.InDelta(t, 0.75, *w.results[0].ConfidenceScore, 1e-9)
}

func TestRun_ConfidenceRoundedToStoredPrecision(t *testing.T) {
	src := source.NewMemorySource()
	rules := matching.RuleSet{
		{Field: "ref", Type: matching.Exact, Weight: 1, Threshold: 0},
		{Field: "invoice", Type: matching.Exact, Weight: 2, Threshold: 1},
	}
	job := newJob(rules, 0.5)
	src.Put(job.SourceAID, []models.Record{rec("a-1", "ref", "R-1", "invoice", "INV-1")})
	src.Put(job.SourceBID, []models.Record{rec("b-1", "ref", "R-2", "invoice", "INV-1")})
	w := &recordingWriter{}

	_, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
	require.NoError(t, err)
	require.NotNil(t, w.results[0].ConfidenceScore)
	assert.Equal(t, 0.6667, *w.results[0].ConfidenceScore)
}

func TestRun_ContainsIndexReachesOutsideWindow(t *testing.T) {
	src := source.NewMemorySource()
	var a, b []models.Record
	for i := 0; i < 150; i++ {
		a = append(a, rec(fmt.Sprintf("a-%03d", i), "memo", fmt.Sprintf("filler %d", i)))
		b = append(b, rec(fmt.Sprintf("b-%03d", i), "memo", fmt.Sprintf("unrelated-%d", i)))
	}
	a[0] = rec("a-000", "memo", "wire transfer acme")
	b[149] = rec("b-149", "memo", "acme")

	t.Run("contains uses token index", func(t *testing.T) {
		job := newJob(matching.RuleSet{{Field: "memo", Type: matching.Contains, Weight: 1, Threshold: 0.8}}, 0.8)
		src.Put(job.SourceAID, a)
		src.Put(job.SourceBID, b)
		w := &recordingWriter{}

		_, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
		require.NoError(t, err)
		require.NotNil(t, w.results[0].RecordBID)
		assert.Equal(t, "b-149", *w.results[0].RecordBID)
		assert.Equal(t, matching.Contains, w.results[0].MatchType)
	})

	t.Run("fuzzy only scans its window", func(t *testing.T) {
		job := newJob(matching.RuleSet{{Field: "memo", Type: matching.Fuzzy, Variant: matching.Cosine, Weight: 1, Threshold: 0.3}}, 0.3)
		src.Put(job.SourceAID, a)
		src.Put(job.SourceBID, b)
		w := &recordingWriter{}

		_, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
		require.NoError(t, err)
		assert.Nil(t, w.results[0].RecordBID)
	})
}

func TestRun_PersistFailureKeepsCommittedChunks(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(exactOnInvoice, 0.8)
	seedInvoices(src, job, 250)
	w := &recordingWriter{failOn: 2}
	rep := &recordingReporter{}

	sum, err := newTestProcessor(t, src, w).Run(context.Background(), job, rep, 0)
	require.Error(t, err)

	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, 100, abort.Offset)
	assert.Equal(t, "persist chunk", abort.Op)
	assert.True(t, apperrors.IsDatabase(err))

	assert.Equal(t, 100, sum.Offset)
	assert.Equal(t, 100, sum.Processed)
	assert.Len(t, w.results, 100)
	assert.Len(t, rep.events, 1)
}

func TestRun_CancellationStopsAtChunkBoundary(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(exactOnInvoice, 0.8)
	seedInvoices(src, job, 250)
	w := &recordingWriter{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rep := &recordingReporter{after: func(n int) {
		if n == 1 {
			cancel()
		}
	}}

	sum, err := newTestProcessor(t, src, w).Run(ctx, job, rep, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 100, sum.Offset)
	assert.Len(t, w.results, 100, "committed results are kept")
}

func TestRun_ResumeFromOffset(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(exactOnInvoice, 0.8)
	seedInvoices(src, job, 250)
	job.MatchedRecords, job.UnmatchedRecords = 50, 50
	w := &recordingWriter{}
	rep := &recordingReporter{}

	sum, err := newTestProcessor(t, src, w).Run(context.Background(), job, rep, 100)
	require.NoError(t, err)
	assert.Len(t, w.results, 150)
	assert.Equal(t, 250, sum.Processed)
	assert.Equal(t, 125, sum.Matched)
	assert.Equal(t, "Processing chunk 2/3", rep.events[0].CurrentPhase)
}

func TestRun_MissingSourceAborts(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(exactOnInvoice, 0.8)
	src.Put(job.SourceAID, []models.Record{rec("a-1", "invoice", "1")})

	_, err := newTestProcessor(t, src, &recordingWriter{}).Run(context.Background(), job, &recordingReporter{}, 0)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRun_EmptySourceA(t *testing.T) {
	src := source.NewMemorySource()
	job := newJob(exactOnInvoice, 0.8)
	src.Put(job.SourceAID, nil)
	src.Put(job.SourceBID, []models.Record{rec("b-1", "invoice", "1")})
	w := &recordingWriter{}

	sum, err := newTestProcessor(t, src, w).Run(context.Background(), job, &recordingReporter{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Processed)
	assert.Equal(t, 0, w.calls)
}

// ==========================
// Index Tests
// ==========================

func TestCandidateIndex(t *testing.T) {
	b := []models.Record{
		rec("b-0", "ref", "Alpha Beta"),
		rec("b-1", "ref", "gamma"),
		rec("b-2", "ref", " ALPHA beta "),
	}

	exact := newCandidateIndex(matching.RuleSet{{Field: "ref", Type: matching.Exact, Weight: 1, Threshold: 1}}, b)
	assert.Equal(t, []int{0, 2}, exact.candidates(rec("a", "ref", "alpha beta"), 0, 1))
	assert.Empty(t, exact.candidates(rec("a", "ref", "delta"), 0, 3), "exact lookups never scan")

	tokens := newCandidateIndex(matching.RuleSet{{Field: "ref", Type: matching.Contains, Weight: 1, Threshold: 0.8}}, b)
	assert.Equal(t, []int{0, 1, 2}, tokens.candidates(rec("a", "ref", "beta"), 1, 1))

	unblocked := newCandidateIndex(matching.RuleSet{{Field: "ref", Type: matching.Exact, Weight: 1}}, b)
	assert.Equal(t, blockWindow, unblocked.mode, "a zero threshold exact rule rejects nothing")
	assert.Equal(t, []int{1, 2}, unblocked.candidates(rec("a", "ref", "delta"), 1, 5))

	window := newCandidateIndex(matching.RuleSet{{Field: "ref", Type: matching.Fuzzy, Weight: 1}}, b)
	assert.Equal(t, []int{1, 2}, window.candidates(rec("a", "ref", "x"), 1, 5))
}
