package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopac/internal/errors"
	"gopac/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	g := &globalFlags{logLevel: "ERROR"}
	root := &cobra.Command{Use: "gopac", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(newRunCmd(g), newCFRCmd(g), newReportCmd(g))
	root.SetArgs(args)
	root.SetOut(io.Discard)
	return root.Execute()
}

func TestRunCommand_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "run.json")
	mdPath := filepath.Join(dir, "report.md")
	csvPath := filepath.Join(dir, "failures.csv")

	err := execute(t, "run", "--pairs", "3000", "--offset", "10", "--moduli", "6,30,210",
		"--workers", "2", "--json", jsonPath, "--out", mdPath, "--failures-csv", csvPath)
	require.NoError(t, err)

	saved, err := readSavedRun(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, uint64(3000), saved.Manifest.Parameters.Pairs)
	assert.Equal(t, []uint64{6, 30, 210}, saved.Snapshot.Moduli)
	assert.Equal(t, uint64(3000), saved.Snapshot.Totals.Anchors)
	assert.True(t, saved.Snapshot.Holds())

	md, err := os.ReadFile(mdPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "### Residues mod 210")

	csvData, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	assert.Len(t, lines, int(saved.Snapshot.Totals.Failures)+1)
	assert.True(t, strings.HasPrefix(lines[1], "56,263,269,532,6,523,9,true,3^2,3,"))

	htmlPath := filepath.Join(dir, "report.html")
	xlsxPath := filepath.Join(dir, "report.xlsx")
	require.NoError(t, execute(t, "report", "--snapshot", jsonPath, "--html", htmlPath, "--xlsx", xlsxPath))
	assert.FileExists(t, htmlPath)
	assert.FileExists(t, xlsxPath)
}

func TestRunCommand_ConfigurationErrors(t *testing.T) {
	err := execute(t, "run", "--pairs", "10", "--moduli", "6,42")
	require.Error(t, err)
	assert.Equal(t, 2, errors.ExitCode(err))

	err = execute(t, "run", "--pairs", "10", "--resume")
	require.Error(t, err)
	assert.Equal(t, 2, errors.ExitCode(err))

	err = execute(t, "run", "--pairs", "0")
	require.Error(t, err)
	assert.Equal(t, 2, errors.ExitCode(err))
}

func TestCFRCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "cfr.md")
	require.NoError(t, execute(t, "cfr", "--primes", "10000", "--moduli", "30,210,2310", "--out", out))
	md, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(md), "### Composite failure rate")
	assert.Contains(t, string(md), "| 2310 |")
}

func TestReportCommand_BadInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))
	err := execute(t, "report", "--snapshot", path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidInput, errors.Classify(err))
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.AnchorsMerged(42, 52)

	srv := httptest.NewServer(newRouter(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "42")
}
