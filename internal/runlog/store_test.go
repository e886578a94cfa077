package runlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddGetList(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := s.Add(ctx, Run{
		Creator:    "Alice",
		OutputDir:  "/out",
		StartedAt:  base,
		FinishedAt: base.Add(time.Minute),
		Completed:  1,
		Failed:     1,
		Results: []JobResult{
			{Name: "Sales", Status: "success", Path: "/out/Sales.json", Attempts: map[string]int{"resolving_action": 2}},
			{Name: "Ops", Status: "failed", Error: "no file", Kind: "reconciliation_timeout"},
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	_, err = s.Add(ctx, Run{ID: "later", StartedAt: base.Add(time.Hour), Aborted: true})
	require.NoError(t, err)

	got, err := s.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Creator)
	assert.Equal(t, base, got.StartedAt)
	require.Len(t, got.Results, 2)
	assert.Equal(t, 2, got.Results[0].Attempts["resolving_action"])
	assert.Equal(t, "reconciliation_timeout", got.Results[1].Kind)

	runs, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "later", runs[0].ID)
	assert.True(t, runs[0].Aborted)

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "later", latest.ID)
}

func TestGetMissing(t *testing.T) {
	_, err := openMemory(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = openMemory(t).Latest(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompactKeepsNewest(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := s.Add(ctx, Run{ID: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Hour)})
		require.NoError(t, err)
	}

	removed, err := s.Compact(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	runs, err := s.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "e", runs[0].ID)
	assert.Equal(t, "d", runs[1].ID)
}

func TestOpenFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "runs.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Add(context.Background(), Run{})
	require.NoError(t, err)
	assert.FileExists(t, path)
}
