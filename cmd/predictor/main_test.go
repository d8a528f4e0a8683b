package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxiflow/models"
	"taxiflow/tripdata"
)

func setupEnv(t *testing.T) (string, string) {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "input")
	out := filepath.Join(root, "output")
	require.NoError(t, os.MkdirAll(in, 0o755))

	model, err := filepath.Abs("../../artifact/testdata/lin_reg.json")
	require.NoError(t, err)
	t.Setenv("TAXIFLOW_MODEL_PATH", model)
	t.Setenv("TAXIFLOW_BATCH_INPUT_DIR", in)
	t.Setenv("TAXIFLOW_BATCH_OUTPUT_DIR", out)
	t.Setenv("TAXIFLOW_BATCH_PROCESSED_DIR", filepath.Join(root, "processed"))
	t.Setenv("TAXIFLOW_BATCH_CHUNK_SIZE", "2")
	t.Setenv("TAXIFLOW_LOG_LEVEL", "disabled")
	t.Setenv("TAXIFLOW_MONITOR_CPU_SAMPLE_WINDOW", "0s")
	return in, out
}

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, tripdata.WriteParquet(f, []models.TripRecord{
		{PULocationID: 161, DOLocationID: 236, TripDistance: 2.5},
		{PULocationID: 236, DOLocationID: 161, TripDistance: 1.8},
		{PULocationID: 142, DOLocationID: 79, TripDistance: 4.2},
	}))
	require.NoError(t, f.Close())
	return path
}

func TestRunCommand(t *testing.T) {
	in, out := setupEnv(t)
	input := writeInput(t, in, "taxi_batch_cli.parquet")

	cmd := newRootCommand()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"run", "--input", input, "--batch-id", "cli", "--format", "csv"})

	require.NoError(t, cmd.ExecuteContext(context.Background()))

	written := strings.TrimSpace(stdout.String())
	assert.Equal(t, out, filepath.Dir(written))
	assert.Regexp(t, `predictions_cli_\d{8}_\d{6}\.csv$`, written)
	assert.FileExists(t, written)
	assert.NoFileExists(t, input)
}

func TestRunCommandRequiresInput(t *testing.T) {
	setupEnv(t)
	cmd := newRootCommand()
	cmd.SetArgs([]string{"run"})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestRunCommandMissingModel(t *testing.T) {
	in, _ := setupEnv(t)
	t.Setenv("TAXIFLOW_MODEL_PATH", filepath.Join(t.TempDir(), "absent.bin"))
	input := writeInput(t, in, "a.parquet")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"run", "--input", input})
	assert.Error(t, cmd.ExecuteContext(context.Background()))
	assert.FileExists(t, input)
}

func TestIsInputEvent(t *testing.T) {
	tests := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "in/taxi_batch_a.parquet", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "in/trips.csv", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "in/.taxi_batch_a.parquet.tmp", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "in/taxi_batch_a.parquet", Op: fsnotify.Remove}, false},
		{fsnotify.Event{Name: "in/taxi_batch_a.parquet", Op: fsnotify.Rename}, false},
		{fsnotify.Event{Name: "in/notes.txt", Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isInputEvent(tt.event), tt.event.String())
	}
}

func TestWatchInputDirTriggers(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	trigger, err := watchInputDir(ctx, dir)
	require.NoError(t, err)

	writeInput(t, dir, "taxi_batch_w.parquet")

	select {
	case <-trigger:
	case <-time.After(5 * time.Second):
		t.Fatal("no trigger for new input file")
	}
}
