package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/metricstore/internal/errors"
	"github.com/xtxerr/metricstore/internal/server"
)

func writeConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "metricstore.yaml")
	cfg := "data_dir: " + filepath.Join(dir, "data") + "\n" +
		"export:\n  dir: " + filepath.Join(dir, "export") + "\n" +
		"buckets:\n  - name: cpu\n    granularity: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

const records = `{"timestamp":"2024-01-15T10:00:00Z","value":1}
{"timestamp":"2024-01-15T10:00:30Z","value":2}

{"timestamp":"2024-01-15T10:05:00Z","value":3}
`

func TestCLI_WriteRead(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, records, "--config", cfg, "write", "-b", "cpu")
	require.NoError(t, err)
	var wr server.WriteResponse
	require.NoError(t, json.Unmarshal([]byte(out), &wr))
	assert.Equal(t, 3, wr.Written)

	out, err = execute(t, "", "--config", cfg, "read", "-b", "cpu", "--from", "2024-01-15", "--to", "2024-01-16")
	require.NoError(t, err)
	got := lines(out)
	require.Len(t, got, 3)

	var first server.RecordResponse
	require.NoError(t, json.Unmarshal([]byte(got[0]), &first))
	assert.Equal(t, 1.0, first.Payload["value"])
}

func TestCLI_WriteInvalid(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "{\"timestamp\":\"2024-01-15T10:00:00Z\"}\nnot json\n", "--config", cfg, "write", "-b", "cpu")
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRecord(err))
	assert.Contains(t, err.Error(), "line 2")

	var wr server.WriteResponse
	require.NoError(t, json.Unmarshal([]byte(out), &wr))
	assert.Equal(t, 1, wr.Written)
}

func TestCLI_MissingFlags(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "", "--config", cfg, "read", "--from", "2024-01-15", "--to", "2024-01-16")
	assert.True(t, errors.IsValidation(err))

	_, err = execute(t, "", "--config", cfg, "compress", "-b", "cpu")
	assert.True(t, errors.IsValidation(err))

	_, err = execute(t, "", "--config", cfg, "expand", "-b", "nope", "--day", "2024-01-15")
	assert.True(t, errors.IsNotFound(err))
}

func TestCLI_CompressExpandDigest(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, records, "--config", cfg, "write", "-b", "cpu")
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfg, "digest", "-b", "cpu", "--day", "2024-01-15")
	require.NoError(t, err)
	var before server.DigestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &before))

	_, err = execute(t, "", "--config", cfg, "compress", "-b", "cpu", "--day", "2024-01-15")
	require.NoError(t, err)

	out, err = execute(t, "", "--config", cfg, "days", "-b", "cpu")
	require.NoError(t, err)
	var info dayInfo
	require.NoError(t, json.Unmarshal([]byte(lines(out)[0]), &info))
	assert.Equal(t, "2024-01-15", info.Day)
	assert.Equal(t, "compacted", info.State)
	assert.Equal(t, 1, info.Files)

	_, err = execute(t, "", "--config", cfg, "expand", "-b", "cpu", "--day", "2024-01-15")
	require.NoError(t, err)

	_, err = execute(t, "", "--config", cfg, "compress", "--before", "2024-01-16")
	require.NoError(t, err)

	out, err = execute(t, "", "--config", cfg, "digest", "-b", "cpu", "--day", "2024-01-15")
	require.NoError(t, err)
	var after server.DigestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &after))
	assert.Equal(t, before.Digest, after.Digest)
}

func TestCLI_ExportQuery(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, records, "--config", cfg, "write", "-b", "cpu")
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfg, "export", "-b", "cpu", "--day", "2024-01-15")
	require.NoError(t, err)
	var exp server.ExportResponse
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, int64(3), exp.Rows)
	assert.FileExists(t, exp.Path)

	custom := filepath.Join(t.TempDir(), "day.parquet")
	out, err = execute(t, "", "--config", cfg, "export", "-b", "cpu", "--day", "2024-01-15", "-o", custom)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &exp))
	assert.Equal(t, custom, exp.Path)
	assert.FileExists(t, custom)

	out, err = execute(t, "", "--config", cfg, "query", "-b", "cpu", "--from", "2024-01-15", "--to", "2024-01-16", "--by-minute")
	require.NoError(t, err)
	assert.Len(t, lines(out), 2)

	out, err = execute(t, "", "--config", cfg, "query", "-b", "cpu", "--from", "2024-01-15", "--to", "2024-01-16", "--limit", "1")
	require.NoError(t, err)
	assert.Len(t, lines(out), 1)
}

func TestCLI_Config(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "", "--config", cfg, "config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration OK (1 buckets)")
	assert.Contains(t, out, "Resource Requirements")

	out, err = execute(t, "", "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "name: cpu")

	_, err = execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "config", "check")
	assert.Error(t, err)
}

func TestCLI_RetentionStats(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, records, "--config", cfg, "write", "-b", "cpu")
	require.NoError(t, err)

	out, err := execute(t, "", "--config", cfg, "retention", "--dry-run")
	require.NoError(t, err)
	var info cleanupInfo
	require.NoError(t, json.Unmarshal([]byte(lines(out)[0]), &info))
	assert.Equal(t, "cpu", info.Bucket)

	out, err = execute(t, "", "--config", cfg, "stats", "--usage")
	require.NoError(t, err)
	assert.Contains(t, out, "cpu:")

	out, err = execute(t, "", "--config", cfg, "version")
	require.NoError(t, err)
	assert.Equal(t, "metricstore dev\n", out)
}
