package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/listing-codes/codes"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		prefixFlag, transactionFlag, buildingFlag = "", "", ""
		repairFlag = false
	})
	err := run()
	return out.String(), err
}

func TestCLI_ReserveAndVerify(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")
	cfgFile := filepath.Join(t.TempDir(), "none.yaml")

	out, err := execute(t, "--config", cfgFile, "--db", db, "reserve", "--transaction", "전세", "--building", "빌라")
	require.NoError(t, err, out)

	var alloc codes.Allocation
	require.NoError(t, json.Unmarshal([]byte(out), &alloc))
	assert.Equal(t, codes.Code("BL-0001"), alloc.Code)

	out, err = execute(t, "--config", cfgFile, "--db", db, "preview", "--prefix", "BL")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &alloc))
	assert.Equal(t, codes.Code("BL-0002"), alloc.Code)

	out, err = execute(t, "--config", cfgFile, "--db", db, "verify")
	require.NoError(t, err, out)
	assert.JSONEq(t, "null", out)
}

func TestCLI_ImportAndExport(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "cli.db")
	csvPath := filepath.Join(dir, "legacy.csv")
	xlsxPath := filepath.Join(dir, "out.xlsx")
	require.NoError(t, os.WriteFile(csvPath, []byte("번호\nR-0007\nR-0003\n"), 0o644))

	out, err := execute(t, "--config", filepath.Join(dir, "none.yaml"), "--db", db, "import", csvPath)
	require.NoError(t, err, out)

	var report codes.ImportReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 2, report.Imported)

	_, err = execute(t, "--config", filepath.Join(dir, "none.yaml"), "--db", db, "export", xlsxPath)
	require.NoError(t, err)

	info, err := os.Stat(xlsxPath)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestCLI_Rules(t *testing.T) {
	out, err := execute(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "rules")
	require.NoError(t, err)
	assert.Contains(t, out, `"prefix": "BO"`)
}

// syncCounter is a log sink that records flushes.
type syncCounter struct {
	bytes.Buffer
	syncs int
}

func (s *syncCounter) Sync() error {
	s.syncs++
	return nil
}

func TestCLI_FailingCommandStillFlushesLogs(t *testing.T) {
	// GIVEN: A logger whose flushes are counted
	// WHEN: A command fails after logging
	// THEN: The logger is still synced before exit

	sink := &syncCounter{}
	orig := buildLogger
	buildLogger = func(zc zap.Config) (*zap.Logger, error) {
		return zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(zc.EncoderConfig), sink, zc.Level)), nil
	}
	t.Cleanup(func() { buildLogger = orig })

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\n"), 0o644))

	_, err := execute(t, "--config", filepath.Join(dir, "none.yaml"), "--db", filepath.Join(dir, "cli.db"), "import", csvPath)
	require.ErrorIs(t, err, codes.ErrInvalidImport)
	assert.Positive(t, sink.syncs)
}
