package blackbox

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sovereign/internal/testutil"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestHandler_TeesToConsoleAndFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	clk := testutil.NewFakeClock(testutil.Epoch)
	var console bytes.Buffer

	h, err := New(slog.NewTextHandler(&console, nil), dir, WithClock(clk))
	require.NoError(t, err)
	defer h.Close()

	logger := slog.New(h).With("module", "monitor")
	logger.Info("cycle complete", "event", "monitor_cycle", "evaluated", 3)
	logger.Debug("details")

	assert.Contains(t, console.String(), "cycle complete")
	assert.NotContains(t, console.String(), "details", "console keeps its own level")

	path := filepath.Join(dir, "survivor_20250101.log")
	assert.Equal(t, path, h.Path())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "cycle complete", lines[0]["msg"])
	assert.Equal(t, "monitor", lines[0]["module"])
	assert.Equal(t, float64(3), lines[0]["evaluated"])
	assert.Equal(t, "DEBUG", lines[1]["level"])
}

func TestHandler_RotatesDaily(t *testing.T) {
	dir := t.TempDir()
	clk := testutil.NewFakeClock(testutil.Epoch)
	h, err := New(slog.NewTextHandler(&bytes.Buffer{}, nil), dir, WithClock(clk))
	require.NoError(t, err)
	defer h.Close()

	logger := slog.New(h)
	logger.Info("day one")
	clk.Advance(24 * time.Hour)
	logger.Info("day two")
	logger.WithGroup("g").Info("day two again", "k", "v")

	assert.Len(t, readLines(t, filepath.Join(dir, "survivor_20250101.log")), 1)
	second := readLines(t, filepath.Join(dir, "survivor_20250102.log"))
	require.Len(t, second, 2)
	assert.Equal(t, map[string]any{"k": "v"}, second[1]["g"])
}

func TestHandler_AppendsAcrossHandlers(t *testing.T) {
	dir := t.TempDir()
	clk := testutil.NewFakeClock(testutil.Epoch)
	for i := 0; i < 2; i++ {
		h, err := New(slog.NewTextHandler(&bytes.Buffer{}, nil), dir, WithClock(clk))
		require.NoError(t, err)
		slog.New(h).Warn("restart")
		require.NoError(t, h.Close())
	}
	assert.Len(t, readLines(t, filepath.Join(dir, FileName(testutil.Epoch))), 2)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil, t.TempDir())
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(slog.NewTextHandler(&bytes.Buffer{}, nil), filepath.Join(file, "sub"))
	assert.Error(t, err)
}
