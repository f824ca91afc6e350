package store

import (
	"context"
	"time"

	"github.com/artpar/apppublish/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists publish runs and the per-package stage outcomes within them.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.PublishRun) error
	FinishRun(ctx context.Context, id string, status domain.RunStatus, message string, finishedAt time.Time) error
	CompleteRun(ctx context.Context, run *domain.PublishRun, stages []*domain.StageRecord) error
	GetRun(ctx context.Context, id string) (*domain.PublishRun, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]domain.PublishRun, error)

	// Stage operations
	RecordStage(ctx context.Context, stage *domain.StageRecord) error
	ListStages(ctx context.Context, runID string) ([]domain.StageRecord, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options are within valid bounds.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
