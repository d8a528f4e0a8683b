package monitor

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxiflow/errors"
	"taxiflow/metrics"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fixedSampler struct {
	snap  Snapshot
	err   error
	calls atomic.Int64
}

func (f *fixedSampler) Sample(context.Context) (Snapshot, error) {
	f.calls.Add(1)
	return f.snap, f.err
}

func TestWarnings(t *testing.T) {
	tests := []struct {
		name string
		snap Snapshot
		want []string
	}{
		{"healthy", Snapshot{CPUPercent: 20, MemoryPercent: 40, MemoryAvailableGB: 8}, nil},
		{"memory at ceiling is fine", Snapshot{MemoryPercent: 90, MemoryAvailableGB: 8}, nil},
		{"memory high", Snapshot{MemoryPercent: 95, MemoryAvailableGB: 8}, []string{"memory"}},
		{"cpu high", Snapshot{CPUPercent: 99, MemoryAvailableGB: 8}, []string{"cpu"}},
		{"low available", Snapshot{MemoryAvailableGB: 0.5}, []string{"available_memory"}},
		{"everything", Snapshot{CPUPercent: 99, MemoryPercent: 95, MemoryAvailableGB: 0.2}, []string{"memory", "cpu", "available_memory"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, w := range DefaultThresholds.Warnings(tt.snap) {
				got = append(got, w.Resource)
				assert.NotEmpty(t, w.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckNeverFails(t *testing.T) {
	s := &fixedSampler{snap: Snapshot{MemoryPercent: 97, MemoryAvailableGB: 4}, err: errors.New("disk unavailable")}
	m := New(s, DefaultThresholds)

	snap, warnings := m.Check(context.Background())

	assert.Equal(t, 97.0, snap.MemoryPercent)
	require.Len(t, warnings, 1)
	assert.Equal(t, "memory", warnings[0].Resource)
}

func TestCheckSkipsMissingReadings(t *testing.T) {
	metrics.MemoryAvailableGB.Set(6)
	metrics.CPUPercent.Set(12)
	s := &fixedSampler{
		snap: Snapshot{CPUPercent: 97, Missing: []string{ResourceMemory}},
		err:  errors.New("memory: not available"),
	}

	_, warnings := New(s, DefaultThresholds).Check(context.Background())

	require.Len(t, warnings, 1)
	assert.Equal(t, ResourceCPU, warnings[0].Resource)
	assert.Equal(t, 6.0, testutil.ToFloat64(metrics.MemoryAvailableGB))
	assert.Equal(t, 97.0, testutil.ToFloat64(metrics.CPUPercent))
}

func TestWarningsIgnoreMissingReadings(t *testing.T) {
	snap := Snapshot{Missing: []string{ResourceCPU, ResourceMemory, ResourceDisk}}
	assert.Empty(t, DefaultThresholds.Warnings(snap))
	assert.False(t, snap.Has(ResourceDisk))
	assert.True(t, Snapshot{}.Has(ResourceDisk))
}

func TestWatchStopsWithContext(t *testing.T) {
	s := &fixedSampler{snap: Snapshot{MemoryAvailableGB: 4}}
	m := New(s, DefaultThresholds)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Watch(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatchDisabled(t *testing.T) {
	s := &fixedSampler{}
	New(s, DefaultThresholds).Watch(context.Background(), 0)
	assert.Zero(t, s.calls.Load())
}

func TestSystemSampler(t *testing.T) {
	snap, err := SystemSampler{CPUWindow: 10 * time.Millisecond, DiskPath: os.TempDir()}.Sample(context.Background())
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}
	assert.GreaterOrEqual(t, snap.MemoryPercent, 0.0)
	assert.Greater(t, snap.MemoryAvailableGB, 0.0)
	assert.False(t, snap.Time.IsZero())
}
