// Package review manages analysis run metadata and the suggestions a run
// produces. The sync layer consumes this data for progress-card
// enrichment and intro cards; the analysis workers write it.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/in-the-loop-labs/pair-review/internal/storage"
	"github.com/in-the-loop-labs/pair-review/pkg/types"
)

// Suggestion is one proposed change produced by an analysis run.
type Suggestion struct {
	ID        string `json:"id"`
	RunID     string `json:"runID"`
	File      string `json:"file"`
	Title     string `json:"title"`
	Severity  string `json:"severity,omitempty"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after,omitempty"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Service manages run and suggestion records.
type Service struct {
	storage *storage.Storage
}

// NewService creates a review service over a storage root.
func NewService(store *storage.Storage) *Service {
	return &Service{storage: store}
}

// CreateRun records a new analysis run with its level configuration.
func (s *Service) CreateRun(ctx context.Context, reviewID, provider, model string, levels []types.LevelConfig) (*types.Run, error) {
	now := time.Now().UnixMilli()
	run := &types.Run{
		ID:       ulid.Make().String(),
		ReviewID: reviewID,
		Provider: provider,
		Model:    model,
		Status:   "pending",
		Levels:   levels,
		Time:     types.RunTime{Created: now, Updated: now},
	}

	if err := s.storage.Put(ctx, []string{"run", run.ID}, run); err != nil {
		return nil, fmt.Errorf("failed to save run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by id.
func (s *Service) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	var run types.Run
	if err := s.storage.Get(ctx, []string{"run", runID}, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// UpdateRunStatus moves a run to a new status.
func (s *Service) UpdateRunStatus(ctx context.Context, runID, status string) (*types.Run, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	run.Status = status
	run.Time.Updated = time.Now().UnixMilli()

	if err := s.storage.Put(ctx, []string{"run", runID}, run); err != nil {
		return nil, err
	}
	return run, nil
}

// AddSuggestion records a suggestion, computing its diff stats from the
// before/after content.
func (s *Service) AddSuggestion(ctx context.Context, sugg *Suggestion) (*Suggestion, error) {
	if sugg.ID == "" {
		sugg.ID = ulid.Make().String()
	}
	sugg.Additions, sugg.Deletions = DiffStat(sugg.Before, sugg.After)

	if err := s.storage.Put(ctx, []string{"suggestion", sugg.RunID, sugg.ID}, sugg); err != nil {
		return nil, fmt.Errorf("failed to save suggestion: %w", err)
	}
	return sugg, nil
}

// Suggestions lists a run's suggestions in insertion order.
func (s *Service) Suggestions(ctx context.Context, runID string) ([]*Suggestion, error) {
	var out []*Suggestion
	err := s.storage.Scan(ctx, []string{"suggestion", runID}, func(key string, data json.RawMessage) error {
		var sugg Suggestion
		if err := json.Unmarshal(data, &sugg); err != nil {
			return err
		}
		out = append(out, &sugg)
		return nil
	})
	return out, err
}

// SuggestionCount returns how many suggestions a run has produced. Used
// for the session intro card when a conversation is seeded from a run.
func (s *Service) SuggestionCount(ctx context.Context, runID string) (int, error) {
	keys, err := s.storage.List(ctx, []string{"suggestion", runID})
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
