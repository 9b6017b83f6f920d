// Package postgres implements the persistence interfaces on PostgreSQL.
// Plans and snapshots are stored as JSONB documents; the engine treats
// persistence as a key-value-by-stack-id store with last-write-wins writes.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.StackRepository    = (*Repository)(nil)
	_ repository.PlanRepository     = (*Repository)(nil)
	_ repository.SnapshotRepository = (*Repository)(nil)
	_ repository.HealthRepository   = (*Repository)(nil)
	_ repository.EventRepository    = (*Repository)(nil)
)

// Ping verifies database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertStack writes a stack record, replacing any previous row.
func (r *Repository) UpsertStack(ctx context.Context, record *domain.StackRecord) error {
	const query = `INSERT INTO stacks (
		stack_id, stack_name, organization_id, environment_id,
		mode, deploy_status, migration_status,
		current_version, target_version, maintenance_stopped, rollback_disabled, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	ON CONFLICT (stack_id) DO UPDATE SET
		stack_name = EXCLUDED.stack_name,
		organization_id = EXCLUDED.organization_id,
		environment_id = EXCLUDED.environment_id,
		mode = EXCLUDED.mode,
		deploy_status = EXCLUDED.deploy_status,
		migration_status = EXCLUDED.migration_status,
		current_version = EXCLUDED.current_version,
		target_version = EXCLUDED.target_version,
		maintenance_stopped = EXCLUDED.maintenance_stopped,
		rollback_disabled = EXCLUDED.rollback_disabled,
		updated_at = EXCLUDED.updated_at`
	stopped, err := json.Marshal(record.MaintenanceStopped)
	if err != nil {
		return fmt.Errorf("encode maintenance set: %w", err)
	}
	_, err = r.pool.Exec(ctx, query,
		record.StackID, record.StackName, record.OrganizationID, record.EnvironmentID,
		string(record.Mode), string(record.DeployStatus), string(record.MigrationStatus),
		record.CurrentVersion, record.TargetVersion, stopped, record.RollbackDisabled, record.UpdatedAt.UTC(),
	)
	return err
}

// GetStack fetches one stack record.
func (r *Repository) GetStack(ctx context.Context, stackID string) (*domain.StackRecord, error) {
	const query = `SELECT stack_id, stack_name, organization_id, environment_id,
		mode, deploy_status, migration_status,
		current_version, target_version, maintenance_stopped, rollback_disabled, updated_at
		FROM stacks WHERE stack_id = $1`
	return scanStack(r.pool.QueryRow(ctx, query, stackID))
}

// ListStacks returns every stack record.
func (r *Repository) ListStacks(ctx context.Context) ([]domain.StackRecord, error) {
	const query = `SELECT stack_id, stack_name, organization_id, environment_id,
		mode, deploy_status, migration_status,
		current_version, target_version, maintenance_stopped, rollback_disabled, updated_at
		FROM stacks ORDER BY stack_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.StackRecord
	for rows.Next() {
		record, err := scanStack(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStack(row rowScanner) (*domain.StackRecord, error) {
	var (
		record  domain.StackRecord
		mode    string
		deploy  string
		migr    string
		stopped []byte
	)
	err := row.Scan(
		&record.StackID, &record.StackName, &record.OrganizationID, &record.EnvironmentID,
		&mode, &deploy, &migr,
		&record.CurrentVersion, &record.TargetVersion, &stopped, &record.RollbackDisabled, &record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	record.Mode = domain.OperationMode(mode)
	record.DeployStatus = domain.DeploymentStatus(deploy)
	record.MigrationStatus = domain.MigrationStatus(migr)
	if len(stopped) > 0 {
		if err := json.Unmarshal(stopped, &record.MaintenanceStopped); err != nil {
			return nil, fmt.Errorf("decode maintenance set: %w", err)
		}
	}
	return &record, nil
}

// SaveCurrentPlan stores the active plan for a stack.
func (r *Repository) SaveCurrentPlan(ctx context.Context, stackID string, plan domain.DeploymentPlan) error {
	const query = `INSERT INTO stack_plans (stack_id, plan, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (stack_id) DO UPDATE SET plan = EXCLUDED.plan, updated_at = NOW()`
	encoded, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	_, err = r.pool.Exec(ctx, query, stackID, encoded)
	return err
}

// GetCurrentPlan fetches the active plan for a stack.
func (r *Repository) GetCurrentPlan(ctx context.Context, stackID string) (*domain.DeploymentPlan, error) {
	const query = `SELECT plan FROM stack_plans WHERE stack_id = $1`
	var encoded []byte
	if err := r.pool.QueryRow(ctx, query, stackID).Scan(&encoded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var plan domain.DeploymentPlan
	if err := json.Unmarshal(encoded, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// SaveSnapshot stores the single pre-upgrade snapshot, replacing any
// previous one.
func (r *Repository) SaveSnapshot(ctx context.Context, snapshot domain.PlanSnapshot) error {
	const query = `INSERT INTO stack_snapshots (stack_id, version, plan, taken_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stack_id) DO UPDATE SET
			version = EXCLUDED.version,
			plan = EXCLUDED.plan,
			taken_at = EXCLUDED.taken_at`
	encoded, err := json.Marshal(snapshot.Plan)
	if err != nil {
		return fmt.Errorf("encode snapshot plan: %w", err)
	}
	_, err = r.pool.Exec(ctx, query, snapshot.StackID, snapshot.Version, encoded, snapshot.TakenAt.UTC())
	return err
}

// GetSnapshot fetches the retained snapshot for a stack.
func (r *Repository) GetSnapshot(ctx context.Context, stackID string) (*domain.PlanSnapshot, error) {
	const query = `SELECT stack_id, version, plan, taken_at FROM stack_snapshots WHERE stack_id = $1`
	var (
		snapshot domain.PlanSnapshot
		encoded  []byte
	)
	err := r.pool.QueryRow(ctx, query, stackID).Scan(&snapshot.StackID, &snapshot.Version, &encoded, &snapshot.TakenAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(encoded, &snapshot.Plan); err != nil {
		return nil, fmt.Errorf("decode snapshot plan: %w", err)
	}
	return &snapshot, nil
}

// DeleteSnapshot discards the retained snapshot, if any.
func (r *Repository) DeleteSnapshot(ctx context.Context, stackID string) error {
	const query = `DELETE FROM stack_snapshots WHERE stack_id = $1`
	_, err := r.pool.Exec(ctx, query, stackID)
	return err
}

// AppendHealthSnapshot adds one snapshot to the stack's history.
func (r *Repository) AppendHealthSnapshot(ctx context.Context, snapshot domain.HealthSnapshot) error {
	const query = `INSERT INTO health_snapshots (stack_id, taken_at, snapshot) VALUES ($1, $2, $3)`
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode health snapshot: %w", err)
	}
	_, err = r.pool.Exec(ctx, query, snapshot.StackID, snapshot.TakenAt.UTC(), encoded)
	return err
}

// LatestHealthSnapshot returns the most recent snapshot for a stack.
func (r *Repository) LatestHealthSnapshot(ctx context.Context, stackID string) (*domain.HealthSnapshot, error) {
	const query = `SELECT snapshot FROM health_snapshots WHERE stack_id = $1 ORDER BY taken_at DESC LIMIT 1`
	var encoded []byte
	if err := r.pool.QueryRow(ctx, query, stackID).Scan(&encoded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var snapshot domain.HealthSnapshot
	if err := json.Unmarshal(encoded, &snapshot); err != nil {
		return nil, fmt.Errorf("decode health snapshot: %w", err)
	}
	return &snapshot, nil
}

// ListHealthSnapshots returns snapshots taken after since, newest first.
func (r *Repository) ListHealthSnapshots(ctx context.Context, stackID string, since time.Time, limit int) ([]domain.HealthSnapshot, error) {
	const query = `SELECT snapshot FROM health_snapshots
		WHERE stack_id = $1 AND taken_at > $2
		ORDER BY taken_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, stackID, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []domain.HealthSnapshot
	for rows.Next() {
		var encoded []byte
		if err := rows.Scan(&encoded); err != nil {
			return nil, err
		}
		var snapshot domain.HealthSnapshot
		if err := json.Unmarshal(encoded, &snapshot); err != nil {
			return nil, fmt.Errorf("decode health snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// PruneHealthSnapshots drops history older than the cutoff.
func (r *Repository) PruneHealthSnapshots(ctx context.Context, stackID string, before time.Time) error {
	const query = `DELETE FROM health_snapshots WHERE stack_id = $1 AND taken_at < $2`
	_, err := r.pool.Exec(ctx, query, stackID, before.UTC())
	return err
}

// AppendEvent persists one progress event for audit.
func (r *Repository) AppendEvent(ctx context.Context, event domain.DeploymentEvent) error {
	const query = `INSERT INTO deployment_events (stack_id, operation_id, step, phase, outcome, message, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.pool.Exec(ctx, query,
		event.StackID, event.OperationID, event.Step, event.Phase, event.Outcome, event.Message, event.OccurredAt.UTC())
	return err
}

// ListEvents returns the most recent events for a stack, newest first.
func (r *Repository) ListEvents(ctx context.Context, stackID string, limit int) ([]domain.DeploymentEvent, error) {
	const query = `SELECT stack_id, operation_id, step, phase, outcome, message, occurred_at
		FROM deployment_events WHERE stack_id = $1 ORDER BY occurred_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, query, stackID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.DeploymentEvent
	for rows.Next() {
		var event domain.DeploymentEvent
		if err := rows.Scan(&event.StackID, &event.OperationID, &event.Step, &event.Phase, &event.Outcome, &event.Message, &event.OccurredAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
