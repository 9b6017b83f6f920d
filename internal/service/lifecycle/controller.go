// Package lifecycle owns the operation-mode state machine, the per-environment
// lock and the single retained pre-upgrade snapshot. Every mode, deployment
// status and migration status transition goes through the Controller; nothing
// else writes them.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/service/plan"
)

// Operation kinds.
const (
	KindDeploy   = "deploy"
	KindUpgrade  = "upgrade"
	KindRollback = "rollback"
)

// PlanExecutor realizes a plan against the runtime. deploy.Executor is the
// production implementation.
type PlanExecutor interface {
	Execute(ctx context.Context, operationID string, plan *domain.DeploymentPlan) domain.DeploymentResult
}

// Operation is the accepted-and-running handle returned by asynchronous
// commands. Done is closed when the operation finishes.
type Operation struct {
	ID         string
	StackID    string
	Kind       string
	AcceptedAt time.Time

	done   chan struct{}
	result domain.DeploymentResult
}

// Done reports completion.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Result is valid after Done is closed.
func (o *Operation) Result() domain.DeploymentResult { return o.result }

// Controller drives all lifecycle-changing operations for stacks.
type Controller struct {
	stacks    repository.StackRepository
	plans     repository.PlanRepository
	snapshots repository.SnapshotRepository
	executor  PlanExecutor
	runtime   docker.Runtime
	locks     *EnvLocks
	logger    *slog.Logger

	stopTimeout time.Duration
	metrics     *operationMetrics

	now func() time.Time
}

// NewController wires the lifecycle controller.
func NewController(stacks repository.StackRepository, plans repository.PlanRepository, snapshots repository.SnapshotRepository, executor PlanExecutor, runtime docker.Runtime, logger *slog.Logger, stopTimeout time.Duration) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Controller{
		stacks:      stacks,
		plans:       plans,
		snapshots:   snapshots,
		executor:    executor,
		runtime:     runtime,
		locks:       NewEnvLocks(),
		logger:      logger.With("component", "lifecycle"),
		stopTimeout: stopTimeout,
		metrics:     newOperationMetrics(),
		now:         time.Now,
	}
}

// GetStack returns the persisted runtime record for a stack.
func (c *Controller) GetStack(ctx context.Context, stackID string) (*domain.StackRecord, error) {
	return c.stacks.GetStack(ctx, stackID)
}

// Deploy builds a plan from the manifest and realizes it. Structural errors
// and lock rejections return synchronously; runtime progress is reported
// through the operation handle and progress stream.
func (c *Controller) Deploy(ctx context.Context, manifest domain.StackManifest) (*Operation, error) {
	p, err := plan.Build(manifest)
	if err != nil {
		return nil, err
	}

	// The lock is taken before the mode check so a concurrent operation is
	// reported as contention, not as the transient mode it left behind.
	op := c.newOperation(manifest.StackID, KindDeploy)
	if err := c.locks.TryAcquire(manifest.EnvironmentID, op.ID); err != nil {
		return nil, err
	}

	record, err := c.loadOrInitRecord(ctx, manifest)
	if err != nil {
		c.locks.Release(manifest.EnvironmentID)
		return nil, err
	}
	switch record.Mode {
	case domain.ModeNormal, domain.ModeStopped, domain.ModeFailed:
	default:
		c.locks.Release(manifest.EnvironmentID)
		return nil, domain.NewOperationError(domain.ReasonInvalidTransition,
			"cannot deploy stack %s while %s", record.StackID, record.Mode)
	}

	record.Mode = domain.ModeMigrating
	record.DeployStatus = domain.DeployDeploying
	record.MigrationStatus = domain.MigrationNone
	record.TargetVersion = manifest.Version
	record.RollbackDisabled = manifest.RollbackDisabled
	if err := c.saveRecord(ctx, record); err != nil {
		c.locks.Release(manifest.EnvironmentID)
		return nil, err
	}

	go c.runPlan(op, record, p, domain.MigrationNone)
	return op, nil
}

// Upgrade transitions a healthy stack to a new version, retaining the
// previous plan as the single rollback snapshot. A voluntary downgrade
// discards any retained snapshot instead of creating one.
func (c *Controller) Upgrade(ctx context.Context, manifest domain.StackManifest) (*Operation, error) {
	p, err := plan.Build(manifest)
	if err != nil {
		return nil, err
	}

	op := c.newOperation(manifest.StackID, KindUpgrade)
	if err := c.locks.TryAcquire(manifest.EnvironmentID, op.ID); err != nil {
		return nil, err
	}

	record, err := c.stacks.GetStack(ctx, manifest.StackID)
	if err != nil {
		c.locks.Release(manifest.EnvironmentID)
		return nil, err
	}
	if record.Mode != domain.ModeNormal {
		c.locks.Release(manifest.EnvironmentID)
		return nil, domain.NewOperationError(domain.ReasonInvalidTransition,
			"cannot upgrade stack %s while %s", record.StackID, record.Mode)
	}

	if err := c.retainSnapshot(ctx, record, manifest.Version); err != nil {
		c.locks.Release(manifest.EnvironmentID)
		return nil, err
	}

	record.Mode = domain.ModeMigrating
	record.DeployStatus = domain.DeployUpgrading
	record.MigrationStatus = domain.MigrationRunning
	record.TargetVersion = manifest.Version
	record.RollbackDisabled = manifest.RollbackDisabled
	if err := c.saveRecord(ctx, record); err != nil {
		c.locks.Release(manifest.EnvironmentID)
		return nil, err
	}

	go c.runPlan(op, record, p, domain.MigrationRunning)
	return op, nil
}

// retainSnapshot stores the current plan as the one rollback snapshot before
// an upgrade. Only one snapshot is ever retained; a newer upgrade replaces
// the older snapshot, and a downgrade clears it.
func (c *Controller) retainSnapshot(ctx context.Context, record *domain.StackRecord, targetVersion string) error {
	if CompareVersions(targetVersion, record.CurrentVersion) <= 0 {
		// Voluntary downgrade (or same-version redeploy): never offered for
		// rollback, so no snapshot survives it.
		if err := c.snapshots.DeleteSnapshot(ctx, record.StackID); err != nil {
			return fmt.Errorf("discard snapshot: %w", err)
		}
		return nil
	}
	current, err := c.plans.GetCurrentPlan(ctx, record.StackID)
	if err != nil {
		if err == repository.ErrNotFound {
			return nil
		}
		return fmt.Errorf("load current plan: %w", err)
	}
	snapshot := domain.PlanSnapshot{
		StackID: record.StackID,
		Version: record.CurrentVersion,
		Plan:    *current,
		TakenAt: c.now().UTC(),
	}
	if err := c.snapshots.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("retain snapshot: %w", err)
	}
	return nil
}

// Rollback restores the single retained snapshot. It is accepted only when
// the most recent transition ended in Failed after an upgrade attempt, a
// snapshot exists, and the stack does not disable rollback.
func (c *Controller) Rollback(ctx context.Context, stackID string) (*Operation, error) {
	record, err := c.stacks.GetStack(ctx, stackID)
	if err != nil {
		return nil, err
	}

	op := c.newOperation(stackID, KindRollback)
	if err := c.locks.TryAcquire(record.EnvironmentID, op.ID); err != nil {
		return nil, err
	}

	if record.RollbackDisabled {
		c.locks.Release(record.EnvironmentID)
		return nil, domain.NewOperationError(domain.ReasonRollbackDisabled,
			"stack %s disables rollback", stackID)
	}
	if record.Mode != domain.ModeFailed || record.MigrationStatus != domain.MigrationFailed {
		c.locks.Release(record.EnvironmentID)
		return nil, domain.NewOperationError(domain.ReasonInvalidTransition,
			"rollback requires a failed upgrade; stack %s is %s", stackID, record.Mode)
	}
	snapshot, err := c.snapshots.GetSnapshot(ctx, stackID)
	if err != nil {
		c.locks.Release(record.EnvironmentID)
		if err == repository.ErrNotFound {
			return nil, domain.NewOperationError(domain.ReasonNoSnapshot,
				"no snapshot retained for stack %s", stackID)
		}
		return nil, err
	}

	record.Mode = domain.ModeMigrating
	record.DeployStatus = domain.DeployRollingBack
	record.TargetVersion = snapshot.Version
	if err := c.saveRecord(ctx, record); err != nil {
		c.locks.Release(record.EnvironmentID)
		return nil, err
	}

	go c.runRollback(op, record, snapshot)
	return op, nil
}

// EnterMaintenance stops every managed container except those marked to be
// ignored during maintenance, remembering exactly which were stopped.
func (c *Controller) EnterMaintenance(ctx context.Context, stackID string) error {
	record, err := c.stacks.GetStack(ctx, stackID)
	if err != nil {
		return err
	}
	opID := uuid.NewString()
	if err := c.locks.TryAcquire(record.EnvironmentID, opID); err != nil {
		return err
	}
	defer c.locks.Release(record.EnvironmentID)
	if record.Mode != domain.ModeNormal {
		return domain.NewOperationError(domain.ReasonInvalidTransition,
			"cannot enter maintenance while %s", record.Mode)
	}

	containers, err := c.runtime.ListStackContainers(ctx, stackID)
	if err != nil {
		return domain.NewOperationError(domain.ReasonRuntimeFailure, "list containers: %v", err)
	}

	var stopped []string
	for _, state := range containers {
		if !state.Running() {
			continue
		}
		if state.Labels[docker.LabelIgnore] == "true" {
			continue
		}
		if err := c.runtime.StopContainer(ctx, state.ID, c.stopTimeout); err != nil {
			return domain.NewOperationError(domain.ReasonRuntimeFailure,
				"stop %s: %v", state.Name, err)
		}
		stopped = append(stopped, state.Labels[docker.LabelContext])
	}

	record.Mode = domain.ModeMaintenance
	record.MaintenanceStopped = stopped
	c.logger.Info("maintenance entered", "stack_id", stackID, "stopped", len(stopped))
	return c.saveRecord(ctx, record)
}

// ExitMaintenance restarts exactly the set of services stopped on entry.
func (c *Controller) ExitMaintenance(ctx context.Context, stackID string) error {
	record, err := c.stacks.GetStack(ctx, stackID)
	if err != nil {
		return err
	}
	opID := uuid.NewString()
	if err := c.locks.TryAcquire(record.EnvironmentID, opID); err != nil {
		return err
	}
	defer c.locks.Release(record.EnvironmentID)
	if record.Mode != domain.ModeMaintenance {
		return domain.NewOperationError(domain.ReasonInvalidTransition,
			"stack %s is not in maintenance", stackID)
	}

	containers, err := c.runtime.ListStackContainers(ctx, stackID)
	if err != nil {
		return domain.NewOperationError(domain.ReasonRuntimeFailure, "list containers: %v", err)
	}
	wantStart := make(map[string]struct{}, len(record.MaintenanceStopped))
	for _, name := range record.MaintenanceStopped {
		wantStart[name] = struct{}{}
	}
	for _, state := range containers {
		if _, ok := wantStart[state.Labels[docker.LabelContext]]; !ok {
			continue
		}
		if err := c.runtime.StartContainer(ctx, state.ID); err != nil {
			return domain.NewOperationError(domain.ReasonRuntimeFailure,
				"start %s: %v", state.Name, err)
		}
	}

	record.Mode = domain.ModeNormal
	record.MaintenanceStopped = nil
	c.logger.Info("maintenance exited", "stack_id", stackID)
	return c.saveRecord(ctx, record)
}

// StopStack stops every managed container and parks the stack in Stopped.
func (c *Controller) StopStack(ctx context.Context, stackID string) error {
	record, err := c.stacks.GetStack(ctx, stackID)
	if err != nil {
		return err
	}
	opID := uuid.NewString()
	if err := c.locks.TryAcquire(record.EnvironmentID, opID); err != nil {
		return err
	}
	defer c.locks.Release(record.EnvironmentID)
	if record.Mode != domain.ModeNormal {
		return domain.NewOperationError(domain.ReasonInvalidTransition,
			"cannot stop stack while %s", record.Mode)
	}

	containers, err := c.runtime.ListStackContainers(ctx, stackID)
	if err != nil {
		return domain.NewOperationError(domain.ReasonRuntimeFailure, "list containers: %v", err)
	}
	for _, state := range containers {
		if !state.Running() {
			continue
		}
		if err := c.runtime.StopContainer(ctx, state.ID, c.stopTimeout); err != nil {
			return domain.NewOperationError(domain.ReasonRuntimeFailure,
				"stop %s: %v", state.Name, err)
		}
	}
	record.Mode = domain.ModeStopped
	return c.saveRecord(ctx, record)
}

// StartStack starts every managed container of a stopped stack.
func (c *Controller) StartStack(ctx context.Context, stackID string) error {
	record, err := c.stacks.GetStack(ctx, stackID)
	if err != nil {
		return err
	}
	opID := uuid.NewString()
	if err := c.locks.TryAcquire(record.EnvironmentID, opID); err != nil {
		return err
	}
	defer c.locks.Release(record.EnvironmentID)
	if record.Mode != domain.ModeStopped {
		return domain.NewOperationError(domain.ReasonInvalidTransition,
			"stack %s is not stopped", stackID)
	}

	containers, err := c.runtime.ListStackContainers(ctx, stackID)
	if err != nil {
		return domain.NewOperationError(domain.ReasonRuntimeFailure, "list containers: %v", err)
	}
	for _, state := range containers {
		if state.Running() {
			continue
		}
		if err := c.runtime.StartContainer(ctx, state.ID); err != nil {
			return domain.NewOperationError(domain.ReasonRuntimeFailure,
				"start %s: %v", state.Name, err)
		}
	}
	record.Mode = domain.ModeNormal
	return c.saveRecord(ctx, record)
}

// Recover clears Failed after operator intervention without touching
// containers.
func (c *Controller) Recover(ctx context.Context, stackID string) error {
	record, err := c.stacks.GetStack(ctx, stackID)
	if err != nil {
		return err
	}
	if record.Mode != domain.ModeFailed {
		return domain.NewOperationError(domain.ReasonInvalidTransition,
			"stack %s is not failed", stackID)
	}
	record.Mode = domain.ModeNormal
	record.DeployStatus = domain.DeployIdle
	record.MigrationStatus = domain.MigrationNone
	record.TargetVersion = ""
	return c.saveRecord(ctx, record)
}

func (c *Controller) runPlan(op *Operation, record *domain.StackRecord, p *domain.DeploymentPlan, migration domain.MigrationStatus) {
	defer close(op.done)
	defer c.locks.Release(record.EnvironmentID)
	started := c.now()

	// Detached from the request context: an accepted operation runs to
	// completion or failure on its own.
	ctx := context.Background()
	result := c.executor.Execute(ctx, op.ID, p)
	op.result = result

	if result.Success {
		record.Mode = domain.ModeNormal
		record.DeployStatus = domain.DeployIdle
		record.CurrentVersion = p.StackVersion
		record.TargetVersion = ""
		if migration == domain.MigrationRunning {
			record.MigrationStatus = domain.MigrationSucceeded
		}
		if err := c.plans.SaveCurrentPlan(ctx, record.StackID, *p); err != nil {
			c.logger.Error("save current plan failed", "stack_id", record.StackID, "error", err)
		}
	} else {
		record.Mode = domain.ModeFailed
		record.DeployStatus = domain.DeployFailed
		if migration == domain.MigrationRunning {
			record.MigrationStatus = domain.MigrationFailed
		}
	}
	if err := c.saveRecord(ctx, record); err != nil {
		c.logger.Error("persist stack record failed", "stack_id", record.StackID, "error", err)
	}

	outcome := "succeeded"
	if !result.Success {
		outcome = "failed"
	}
	c.metrics.observe(op.Kind, outcome, c.now().Sub(started))
	c.logger.Info("operation finished", "operation_id", op.ID, "stack_id", record.StackID, "kind", op.Kind, "outcome", outcome)
}

func (c *Controller) runRollback(op *Operation, record *domain.StackRecord, snapshot *domain.PlanSnapshot) {
	defer close(op.done)
	defer c.locks.Release(record.EnvironmentID)
	started := c.now()

	ctx := context.Background()
	result := c.executor.Execute(ctx, op.ID, &snapshot.Plan)
	op.result = result

	if result.Success {
		record.Mode = domain.ModeNormal
		record.DeployStatus = domain.DeployIdle
		record.MigrationStatus = domain.MigrationNone
		record.CurrentVersion = snapshot.Version
		record.TargetVersion = ""
		if err := c.plans.SaveCurrentPlan(ctx, record.StackID, snapshot.Plan); err != nil {
			c.logger.Error("save current plan failed", "stack_id", record.StackID, "error", err)
		}
		if err := c.snapshots.DeleteSnapshot(ctx, record.StackID); err != nil {
			c.logger.Warn("delete consumed snapshot failed", "stack_id", record.StackID, "error", err)
		}
	} else {
		record.Mode = domain.ModeFailed
		record.DeployStatus = domain.DeployFailed
	}
	if err := c.saveRecord(ctx, record); err != nil {
		c.logger.Error("persist stack record failed", "stack_id", record.StackID, "error", err)
	}

	outcome := "succeeded"
	if !result.Success {
		outcome = "failed"
	}
	c.metrics.observe(op.Kind, outcome, c.now().Sub(started))
	c.logger.Info("rollback finished", "operation_id", op.ID, "stack_id", record.StackID, "outcome", outcome)
}

func (c *Controller) loadOrInitRecord(ctx context.Context, manifest domain.StackManifest) (*domain.StackRecord, error) {
	record, err := c.stacks.GetStack(ctx, manifest.StackID)
	if err == nil {
		return record, nil
	}
	if err != repository.ErrNotFound {
		return nil, err
	}
	return &domain.StackRecord{
		StackID:         manifest.StackID,
		StackName:       manifest.StackName,
		OrganizationID:  manifest.OrganizationID,
		EnvironmentID:   manifest.EnvironmentID,
		Mode:            domain.ModeNormal,
		DeployStatus:    domain.DeployIdle,
		MigrationStatus: domain.MigrationNone,
	}, nil
}

func (c *Controller) newOperation(stackID, kind string) *Operation {
	return &Operation{
		ID:         uuid.NewString(),
		StackID:    stackID,
		Kind:       kind,
		AcceptedAt: c.now().UTC(),
		done:       make(chan struct{}),
	}
}

func (c *Controller) saveRecord(ctx context.Context, record *domain.StackRecord) error {
	record.UpdatedAt = c.now().UTC()
	return c.stacks.UpsertStack(ctx, record)
}
