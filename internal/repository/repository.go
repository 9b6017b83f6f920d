package repository

import (
	"context"
	"time"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
)

// StackRepository persists per-stack runtime records. Writes are
// last-write-wins by stack ID.
type StackRepository interface {
	UpsertStack(ctx context.Context, record *domain.StackRecord) error
	GetStack(ctx context.Context, stackID string) (*domain.StackRecord, error)
	ListStacks(ctx context.Context) ([]domain.StackRecord, error)
}

// PlanRepository stores the most recently applied plan per stack.
type PlanRepository interface {
	SaveCurrentPlan(ctx context.Context, stackID string, plan domain.DeploymentPlan) error
	GetCurrentPlan(ctx context.Context, stackID string) (*domain.DeploymentPlan, error)
}

// SnapshotRepository retains at most one pre-upgrade snapshot per stack.
// Saving replaces any existing snapshot.
type SnapshotRepository interface {
	SaveSnapshot(ctx context.Context, snapshot domain.PlanSnapshot) error
	GetSnapshot(ctx context.Context, stackID string) (*domain.PlanSnapshot, error)
	DeleteSnapshot(ctx context.Context, stackID string) error
}

// HealthRepository stores the bounded health history per stack.
type HealthRepository interface {
	AppendHealthSnapshot(ctx context.Context, snapshot domain.HealthSnapshot) error
	LatestHealthSnapshot(ctx context.Context, stackID string) (*domain.HealthSnapshot, error)
	ListHealthSnapshots(ctx context.Context, stackID string, since time.Time, limit int) ([]domain.HealthSnapshot, error)
	PruneHealthSnapshots(ctx context.Context, stackID string, before time.Time) error
}

// EventRepository persists per-operation progress events.
type EventRepository interface {
	AppendEvent(ctx context.Context, event domain.DeploymentEvent) error
	ListEvents(ctx context.Context, stackID string, limit int) ([]domain.DeploymentEvent, error)
}
