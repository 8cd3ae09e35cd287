package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconciliation-engine/internal/common/logger"
	"reconciliation-engine/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const validRules = `
name: invoices vs payments
confidence_threshold: 0.9
rule_set:
  - field: invoice_no
    rule_type: exact
    weight: 1
    threshold: 1
`

// ==========================
// validate-rules
// ==========================

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		format   string
		wantErr  bool
		contains string
	}{
		{"valid text", validRules, "text", false, "OK: 1 rule(s) valid"},
		{
			name: "unknown algorithm",
			body: `
rule_set:
  - field: name
    rule_type: fuzzy
    algorithm: metaphone
    weight: 1
`,
			format:   "text",
			wantErr:  true,
			contains: "unknown algorithm fuzzy/metaphone",
		},
		{"empty set", "rule_set: []\n", "text", true, "rule set is empty"},
		{
			name: "threshold out of range",
			body: `
confidence_threshold: 1.5
rule_set:
  - {field: name, rule_type: exact, weight: 1}
`,
			format:   "json",
			wantErr:  true,
			contains: `"valid": false`,
		},
		{"not yaml", "rule_set: [", "text", true, "parse rules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "rules.yaml", tt.body)
			out, err := execute(t, "validate-rules", "--format", tt.format, "--file", path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out, tt.contains)
		})
	}
}

func TestValidateRules_RequiresFile(t *testing.T) {
	_, err := execute(t, "validate-rules")
	assert.Error(t, err)
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	path := writeFile(t, "rules.yaml", validRules)
	_, err := execute(t, "validate-rules", "--format", "xml", "--file", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

// ==========================
// registry
// ==========================

func TestRegistryList(t *testing.T) {
	out, err := execute(t, "registry", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "start-reconciliation-job")
	assert.Contains(t, out, "batch-resolve-matches")

	out, err = execute(t, "--format", "json", "registry", "list")
	require.NoError(t, err)
	var activities []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &activities))
	assert.Len(t, activities, 2)
}

func TestRegistryValidate(t *testing.T) {
	out, err := execute(t, "registry", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 2 activities")

	dup := writeFile(t, "registry.json", `{"activities":[
		{"id":"a","displayName":"A","taskType":"x","category":"c"},
		{"id":"a","displayName":"B","taskType":"y","category":"c"}]}`)
	out, err = execute(t, "registry", "validate", "--path", dup)
	require.Error(t, err)
	assert.Contains(t, out, "duplicate activity ID: a")

	_, err = execute(t, "registry", "validate", "--path", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// ==========================
// dry-run
// ==========================

func dryRunFiles(t *testing.T) (rules, a, b string) {
	t.Helper()
	var sa, sb strings.Builder
	sa.WriteString("[")
	sb.WriteString("[")
	for i := 0; i < 30; i++ {
		if i > 0 {
			sa.WriteString(",")
			sb.WriteString(",")
		}
		fmt.Fprintf(&sa, `{"id":"a-%d","fields":{"invoice_no":"INV-%03d","amount":"%d"}}`, i, i, i*10)
		no := i
		if i%3 == 0 {
			no = 1000 + i
		}
		fmt.Fprintf(&sb, `{"id":"b-%d","fields":{"invoice_no":"INV-%03d"}}`, i, no)
	}
	sa.WriteString("]")
	sb.WriteString("]")
	return writeFile(t, "rules.yaml", validRules), writeFile(t, "a.json", sa.String()), writeFile(t, "b.json", sb.String())
}

func TestRunDryRun(t *testing.T) {
	rules, a, b := dryRunFiles(t)

	report, err := runDryRun(context.Background(), DryRunOptions{
		RulesFile:   rules,
		SourceAFile: a,
		SourceBFile: b,
		ChunkSize:   7,
		Timeout:     time.Minute,
	}, logger.NewTestLogger(t))
	require.NoError(t, err)

	assert.Equal(t, models.JobCompleted, report.Job.Status)
	assert.Equal(t, 100, report.Job.Progress)
	assert.Equal(t, 30, report.Job.ProcessedRecords)
	assert.Equal(t, 20, report.Job.MatchedRecords)
	assert.Equal(t, 10, report.Job.UnmatchedRecords)
	assert.Len(t, report.Results, 30)
	assert.InDelta(t, 0.9, report.Job.ConfidenceThreshold, 1e-9)
	assert.InDelta(t, 20.0/30.0, report.Statistics.MatchRate, 1e-6)
}

func TestDryRunCommand_JSON(t *testing.T) {
	rules, a, b := dryRunFiles(t)

	out, err := execute(t, "dry-run", "--format", "json", "--rules", rules, "--source-a", a, "--source-b", b)
	require.NoError(t, err)

	var report DryRunReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, models.JobCompleted, report.Job.Status)
	assert.Len(t, report.Results, 30)
}

func TestRunDryRun_MissingRecordID(t *testing.T) {
	rules, _, b := dryRunFiles(t)
	a := writeFile(t, "a.yaml", "- fields: {invoice_no: INV-001}\n")

	_, err := runDryRun(context.Background(), DryRunOptions{
		RulesFile: rules, SourceAFile: a, SourceBFile: b, ChunkSize: 10, Timeout: time.Minute,
	}, logger.NewTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no id")
}

// ==========================
// Health endpoints
// ==========================

func TestHealthMux(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	broken := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		path       string
		checks     map[string]healthCheck
		wantStatus int
		wantBody   string
	}{
		{"health", "/health", nil, http.StatusOK, `"status":"healthy"`},
		{"ready", "/ready", map[string]healthCheck{"postgres": healthy}, http.StatusOK, `"status":"ready"`},
		{"not ready", "/ready", map[string]healthCheck{"postgres": healthy, "redis": broken}, http.StatusServiceUnavailable, `"redis":"connection refused"`},
		{"metrics", "/metrics", nil, http.StatusOK, "go_goroutines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(newHealthMux(tt.checks))
			defer srv.Close()

			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body bytes.Buffer
			_, err = body.ReadFrom(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, body.String(), tt.wantBody)
		})
	}
}

func TestRetryWithBackoff(t *testing.T) {
	log := logger.NewTestLogger(t)

	calls := 0
	err := retryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	}, 5, time.Millisecond, log, "probe")
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retryWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("down")
	}, 3, time.Millisecond, log, "probe")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "probe failed after 3 attempts")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = retryWithBackoff(ctx, func() error { return errors.New("down") }, 5, time.Hour, log, "probe")
	assert.ErrorIs(t, err, context.Canceled)
}
