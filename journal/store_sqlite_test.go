package journal

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewEntry(t *testing.T) {
	a := NewEntry()
	b := NewEntry()
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotNil(t, a.Params)
	assert.NotNil(t, a.Metrics)
}

func TestSQLiteStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewEntry()
	first.RunID = "run-1"
	first.ExperimentID = "3"
	first.ExperimentName = "Test_Decorator"
	first.RunName = "train_model"
	first.TrackingURI = "http://localhost:5000"
	first.Status = "FINISHED"
	first.Params["learning_rate"] = "0.001"
	first.Metrics["accuracy"] = 0.93
	first.StartedAt = base
	first.EndedAt = base.Add(2 * time.Second)
	require.NoError(t, s.Record(first))

	second := NewEntry()
	second.RunID = "run-2"
	second.RunName = "evaluate"
	second.Status = "FAILED"
	second.Error = "boom"
	second.StartedAt = base.Add(time.Minute)
	require.NoError(t, s.Record(second))

	entries, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "run-2", entries[0].RunID)
	assert.Equal(t, "boom", entries[0].Error)
	assert.True(t, entries[0].EndedAt.IsZero())
	assert.Empty(t, entries[0].Params)

	got := entries[1]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Test_Decorator", got.ExperimentName)
	assert.Equal(t, "FINISHED", got.Status)
	assert.Equal(t, map[string]string{"learning_rate": "0.001"}, got.Params)
	assert.InDelta(t, 0.93, got.Metrics["accuracy"], 1e-9)
	assert.True(t, got.StartedAt.Equal(base))
	assert.True(t, got.EndedAt.Equal(first.EndedAt))
}

func TestSQLiteStore_RecordReplacesByID(t *testing.T) {
	s := newTestStore(t)

	e := NewEntry()
	e.RunID = "run-1"
	e.Status = "RUNNING"
	e.StartedAt = time.Now()
	require.NoError(t, s.Record(e))

	e.Status = "FINISHED"
	e.EndedAt = e.StartedAt.Add(time.Second)
	require.NoError(t, s.Record(e))

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "FINISHED", entries[0].Status)
}

func TestSQLiteStore_ListLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		e := NewEntry()
		e.StartedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Record(e))
	}

	entries, err := s.List(3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	all, err := s.List(-1)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestSQLiteStore_NonFiniteMetrics(t *testing.T) {
	s := newTestStore(t)

	e := NewEntry()
	e.RunID = "run-diverged"
	e.Status = "FINISHED"
	e.Metrics["loss"] = math.NaN()
	e.Metrics["grad_norm"] = math.Inf(1)
	e.Metrics["floor"] = math.Inf(-1)
	e.Metrics["acc"] = 0.5
	e.StartedAt = time.Now()
	require.NoError(t, s.Record(e))

	entries, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0].Metrics
	assert.True(t, math.IsNaN(got["loss"]))
	assert.True(t, math.IsInf(got["grad_norm"], 1))
	assert.True(t, math.IsInf(got["floor"], -1))
	assert.Equal(t, 0.5, got["acc"])
}
