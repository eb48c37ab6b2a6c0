package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/in-the-loop-labs/pair-review/internal/storage"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

func TestDiffStat(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nx\nc\nd\n"

	add, del := DiffStat(before, after)
	assert.Equal(t, 2, add) // x and d
	assert.Equal(t, 1, del) // b
}

func TestDiffStat_Identical(t *testing.T) {
	add, del := DiffStat("same\n", "same\n")
	assert.Zero(t, add)
	assert.Zero(t, del)
}

func TestService_CreateAndGetRun(t *testing.T) {
	svc := NewService(storage.New(t.TempDir()))
	ctx := context.Background()

	levels := []types.LevelConfig{
		{Level: 1, Voices: []types.VoiceConfig{{Provider: "anthropic", Model: "claude"}}},
	}
	run, err := svc.CreateRun(ctx, "rev-1", "anthropic", "claude", levels)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "pending", run.Status)

	got, err := svc.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, levels, got.Levels)
}

func TestService_UpdateRunStatus(t *testing.T) {
	svc := NewService(storage.New(t.TempDir()))
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "rev-1", "anthropic", "claude", nil)
	require.NoError(t, err)

	updated, err := svc.UpdateRunStatus(ctx, run.ID, "running")
	require.NoError(t, err)
	assert.Equal(t, "running", updated.Status)
}

func TestService_SuggestionsWithDiffStats(t *testing.T) {
	svc := NewService(storage.New(t.TempDir()))
	ctx := context.Background()

	run, err := svc.CreateRun(ctx, "rev-1", "anthropic", "claude", nil)
	require.NoError(t, err)

	sugg, err := svc.AddSuggestion(ctx, &Suggestion{
		RunID:  run.ID,
		File:   "handler.go",
		Title:  "check the error",
		Before: "do()\n",
		After:  "if err := do(); err != nil {\n\treturn err\n}\n",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sugg.ID)
	assert.Equal(t, 3, sugg.Additions)
	assert.Equal(t, 1, sugg.Deletions)

	count, err := svc.SuggestionCount(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	list, err := svc.Suggestions(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "check the error", list[0].Title)
}
