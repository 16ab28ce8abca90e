package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/yieldwatch/internal/models"
)

// writeConfig writes a memory-backed config without provider keys.
func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yieldwatch.toml")
	content := `
[storage]
backend = "memory"

[sync]
request_delay = "0s"

[logging]
level = "error"
outputs = ["console"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	for _, key := range []string{"EODHD_API_KEY", "FMP_API_KEY", "ALPHAVANTAGE_API_KEY", "YIELDWATCH_STORAGE_BACKEND"} {
		t.Setenv(key, "")
	}
	return path
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions([]string{
		"--config", "a.toml", "--config", "b.toml",
		"--historical", "--days=45", "--force", "--symbols", "KO, pep,,",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, configPaths{"a.toml", "b.toml"}, opts.configs)
	assert.True(t, opts.historical)
	assert.True(t, opts.force)
	assert.False(t, opts.dividends)
	assert.Equal(t, 45, opts.days)
	assert.Equal(t, []string{"KO", "pep"}, opts.symbols)
}

func TestParseOptions_RejectsNegativeDays(t *testing.T) {
	_, err := parseOptions([]string{"--days=-1"}, io.Discard)
	assert.Error(t, err)
}

func TestRun_Help(t *testing.T) {
	var stderr bytes.Buffer
	code := run(context.Background(), []string{"--help"}, io.Discard, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stderr.String(), "--stats")
}

func TestRun_UnknownFlag(t *testing.T) {
	code := run(context.Background(), []string{"--bogus"}, io.Discard, io.Discard)
	assert.Equal(t, 2, code)
}

func TestRun_Version(t *testing.T) {
	var stdout bytes.Buffer
	code := run(context.Background(), []string{"--version"}, &stdout, io.Discard)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "yieldwatch ")
}

func TestRun_Stats(t *testing.T) {
	cfg := writeConfig(t)
	var stdout bytes.Buffer

	code := run(context.Background(), []string{"--config", cfg, "--stats"}, &stdout, io.Discard)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "Total stocks: 0")
	assert.Contains(t, stdout.String(), "historical_prices")
}

func TestRun_EmptyWorkingSetSucceeds(t *testing.T) {
	cfg := writeConfig(t)
	var stdout bytes.Buffer

	code := run(context.Background(), []string{"--config", cfg}, &stdout, io.Discard)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "quotes: total=0 updated=0 skipped=0 failed=0")
}

func TestRun_FailuresExitNonZero(t *testing.T) {
	cfg := writeConfig(t)
	var stdout bytes.Buffer

	code := run(context.Background(), []string{"--config", cfg, "--symbols", "KO"}, &stdout, io.Discard)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "quotes: total=1 updated=0 skipped=0 failed=1")
	assert.Contains(t, stdout.String(), "KO: no provider available")
}

func TestRun_HistoricalAndDividendsMerge(t *testing.T) {
	cfg := writeConfig(t)
	var stdout bytes.Buffer

	code := run(context.Background(), []string{"--config", cfg, "--historical", "--dividends", "--symbols", "KO,PEP"}, &stdout, io.Discard)
	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "total=4 updated=0 skipped=0 failed=4")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	r := &models.BatchResult{DataType: models.DataDividends}
	r.Record("KO", models.OutcomeUpdated, nil)
	r.Record("PEP", models.OutcomeSkipped, nil)
	r.Record("T", models.OutcomeFailed, assert.AnError)

	printSummary(&buf, r)

	assert.Equal(t,
		"dividends: total=3 updated=1 skipped=1 failed=1\nErrors:\n  T: "+assert.AnError.Error()+"\n",
		buf.String())
}

func TestPrintSafety(t *testing.T) {
	var buf bytes.Buffer
	printSafety(&buf, map[string]models.SafetyResult{
		"PEP": {Score: 72.5, Grade: "B"},
		"KO":  {Score: 88, Grade: "A", Warnings: []string{"payout ratio above 60%"}, Stale: true},
	})

	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("KO")), bytes.Index(buf.Bytes(), []byte("PEP")))
	assert.Contains(t, out, "(stale)")
	assert.Contains(t, out, "payout ratio above 60%")
	assert.Contains(t, out, "2 symbols scored")
}
