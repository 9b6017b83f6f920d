// Package deploy realizes deployment plans against a container runtime with
// minimal, auditable side effects.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/sethvargo/go-retry"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/pkg/config"
)

// Progress event phases, one per step transition.
const (
	PhaseNetworks = "networks"
	PhasePull     = "pull"
	PhaseReplace  = "replace_existing"
	PhaseCreate   = "create"
	PhaseStart    = "start"
	PhaseLiveness = "liveness"
)

// Progress event outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Sink receives ordered progress events for an operation.
type Sink interface {
	Publish(event domain.ProgressEvent)
}

// CredentialResolver supplies registry auth for image pulls.
// docker.RegistryCredentials is the production implementation.
type CredentialResolver interface {
	ResolveAuth(ref string) (string, error)
}

// Executor drives a container runtime through a deployment plan strictly in
// step order. Steps are not parallelized; ordering is the correctness
// mechanism.
type Executor struct {
	runtime docker.Runtime
	creds   CredentialResolver
	events  repository.EventRepository
	sink    Sink
	logger  *slog.Logger

	stopTimeout   time.Duration
	pullTimeout   time.Duration
	createTimeout time.Duration
	startTimeout  time.Duration
	removeTimeout time.Duration
	retryMax      uint64
	retryBase     time.Duration

	now func() time.Time
}

// NewExecutor constructs an executor. creds, events and sink may be nil.
func NewExecutor(runtime docker.Runtime, creds CredentialResolver, events repository.EventRepository, sink Sink, logger *slog.Logger, cfg config.ServerConfig) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	retryMax := cfg.RetryMax
	if retryMax < 0 {
		retryMax = 0
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	return &Executor{
		runtime:       runtime,
		creds:         creds,
		events:        events,
		sink:          sink,
		logger:        logger.With("component", "executor"),
		stopTimeout:   orDefault(cfg.StopTimeout, 30*time.Second),
		pullTimeout:   orDefault(cfg.PullTimeout, 5*time.Minute),
		createTimeout: orDefault(cfg.CreateTimeout, time.Minute),
		startTimeout:  orDefault(cfg.StartTimeout, time.Minute),
		removeTimeout: orDefault(cfg.RemoveTimeout, time.Minute),
		retryMax:      uint64(retryMax),
		retryBase:     retryBase,
		now:           time.Now,
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Execute runs the plan. On the first hard failure execution stops; steps
// already applied are left running and the result reports exactly which steps
// succeeded. An externally cancelled context lets the current step finish and
// then stops advancing.
func (e *Executor) Execute(ctx context.Context, operationID string, plan *domain.DeploymentPlan) domain.DeploymentResult {
	result := domain.DeploymentResult{StackVersion: plan.StackVersion}
	ensured := make(map[string]struct{}, len(plan.Networks))

	for i := range plan.Steps {
		step := plan.Steps[i]

		if err := ctx.Err(); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("operation cancelled before step %s", step.ContextName))
			e.emit(plan, operationID, step.ContextName, PhaseCreate, OutcomeSkipped, "operation cancelled")
			break
		}

		// Runtime calls within a step keep running even when the operation
		// is cancelled; create/start are not safely interruptible mid-call.
		stepCtx := context.WithoutCancel(ctx)

		if err := e.runStep(stepCtx, plan, operationID, step, ensured); err != nil {
			e.logger.Error("step failed", "stack_id", plan.StackID, "step", step.ContextName, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", step.ContextName, err))
			result.CompletedAt = e.now().UTC()
			return result
		}
		result.Deployed = append(result.Deployed, step.ContextName)
	}

	result.Success = len(result.Deployed) == len(plan.Steps)
	result.CompletedAt = e.now().UTC()
	return result
}

func (e *Executor) runStep(ctx context.Context, plan *domain.DeploymentPlan, operationID string, step domain.DeploymentStep, ensured map[string]struct{}) error {
	e.emit(plan, operationID, step.ContextName, PhaseNetworks, OutcomeRunning, "")
	if err := e.ensureNetworks(ctx, plan, step, ensured); err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseNetworks, OutcomeFailed, err.Error())
		return err
	}
	e.emit(plan, operationID, step.ContextName, PhaseNetworks, OutcomeSucceeded, "")

	ref := step.ImageRef()
	e.emit(plan, operationID, step.ContextName, PhasePull, OutcomeRunning, ref)
	var auth string
	if e.creds != nil {
		resolved, err := e.creds.ResolveAuth(ref)
		if err != nil {
			e.emit(plan, operationID, step.ContextName, PhasePull, OutcomeFailed, err.Error())
			return err
		}
		auth = resolved
	}
	if err := e.withRetry(ctx, e.pullTimeout, func(callCtx context.Context) error {
		return e.runtime.PullImage(callCtx, ref, auth)
	}); err != nil {
		e.emit(plan, operationID, step.ContextName, PhasePull, OutcomeFailed, err.Error())
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	e.emit(plan, operationID, step.ContextName, PhasePull, OutcomeSucceeded, "")

	if err := e.replaceExisting(ctx, plan, operationID, step); err != nil {
		return err
	}

	e.emit(plan, operationID, step.ContextName, PhaseCreate, OutcomeRunning, "")
	var containerID string
	if err := e.withRetry(ctx, e.createTimeout, func(callCtx context.Context) error {
		id, createErr := e.runtime.CreateContainer(callCtx, containerSpec(plan, step))
		if createErr != nil {
			return createErr
		}
		containerID = id
		return nil
	}); err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseCreate, OutcomeFailed, err.Error())
		return fmt.Errorf("create container %s: %w", step.ContainerName, err)
	}
	extraNetworks := step.Networks
	if len(extraNetworks) > 0 {
		extraNetworks = extraNetworks[1:]
	}
	for _, network := range extraNetworks {
		if err := e.runtime.ConnectNetwork(ctx, network, containerID, []string{step.ContextName}); err != nil {
			e.emit(plan, operationID, step.ContextName, PhaseCreate, OutcomeFailed, err.Error())
			return fmt.Errorf("connect %s to %s: %w", step.ContainerName, network, err)
		}
	}
	e.emit(plan, operationID, step.ContextName, PhaseCreate, OutcomeSucceeded, containerID)

	e.emit(plan, operationID, step.ContextName, PhaseStart, OutcomeRunning, "")
	if err := e.withRetry(ctx, e.startTimeout, func(callCtx context.Context) error {
		return e.runtime.StartContainer(callCtx, containerID)
	}); err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseStart, OutcomeFailed, err.Error())
		return fmt.Errorf("start container %s: %w", step.ContainerName, err)
	}
	e.emit(plan, operationID, step.ContextName, PhaseStart, OutcomeSucceeded, "")

	if err := e.verifyLiveness(ctx, containerID); err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseLiveness, OutcomeFailed, err.Error())
		return fmt.Errorf("liveness %s: %w", step.ContainerName, err)
	}
	e.emit(plan, operationID, step.ContextName, PhaseLiveness, OutcomeSucceeded, "")
	return nil
}

func (e *Executor) ensureNetworks(ctx context.Context, plan *domain.DeploymentPlan, step domain.DeploymentStep, ensured map[string]struct{}) error {
	defByResolved := make(map[string]domain.NetworkDefinition, len(plan.Networks))
	for _, def := range plan.Networks {
		defByResolved[def.ResolvedName] = def
	}
	for _, name := range step.Networks {
		if _, done := ensured[name]; done {
			continue
		}
		exists, err := e.runtime.NetworkExists(ctx, name)
		if err != nil {
			return fmt.Errorf("check network %s: %w", name, err)
		}
		def := defByResolved[name]
		if !exists {
			if def.External {
				// External networks are never created by the engine.
				return fmt.Errorf("external network %s not found", name)
			}
			if err := e.runtime.CreateNetwork(ctx, name); err != nil {
				return fmt.Errorf("create network %s: %w", name, err)
			}
		}
		ensured[name] = struct{}{}
	}
	return nil
}

func (e *Executor) replaceExisting(ctx context.Context, plan *domain.DeploymentPlan, operationID string, step domain.DeploymentStep) error {
	existingID, err := e.runtime.ContainerIDByName(ctx, step.ContainerName)
	if err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseReplace, OutcomeFailed, err.Error())
		return fmt.Errorf("lookup container %s: %w", step.ContainerName, err)
	}
	if existingID == "" {
		e.emit(plan, operationID, step.ContextName, PhaseReplace, OutcomeSkipped, "no existing container")
		return nil
	}

	e.emit(plan, operationID, step.ContextName, PhaseReplace, OutcomeRunning, existingID)
	if err := e.withRetry(ctx, e.stopTimeout+10*time.Second, func(callCtx context.Context) error {
		return e.runtime.StopContainer(callCtx, existingID, e.stopTimeout)
	}); err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseReplace, OutcomeFailed, err.Error())
		return fmt.Errorf("stop container %s: %w", step.ContainerName, err)
	}
	if err := e.withRetry(ctx, e.removeTimeout, func(callCtx context.Context) error {
		return e.runtime.RemoveContainer(callCtx, existingID)
	}); err != nil {
		e.emit(plan, operationID, step.ContextName, PhaseReplace, OutcomeFailed, err.Error())
		return fmt.Errorf("remove container %s: %w", step.ContainerName, err)
	}
	e.emit(plan, operationID, step.ContextName, PhaseReplace, OutcomeSucceeded, "")
	return nil
}

func (e *Executor) verifyLiveness(ctx context.Context, containerID string) error {
	state, err := e.runtime.InspectContainer(ctx, containerID)
	if err != nil {
		return err
	}
	if !state.Running() {
		reason := state.State
		if state.ExitCode != 0 {
			reason = fmt.Sprintf("%s (exit code %d)", state.State, state.ExitCode)
		}
		return fmt.Errorf("container not running: %s", reason)
	}
	return nil
}

// withRetry wraps one runtime call with a per-call timeout and bounded retry.
// Only transient socket errors are retried; application failures surface
// immediately.
func (e *Executor) withRetry(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(e.retryMax, retry.NewExponential(e.retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(callCtx); err != nil {
			if docker.IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

func (e *Executor) emit(plan *domain.DeploymentPlan, operationID, step, phase, outcome, message string) {
	event := domain.ProgressEvent{
		StackID:     plan.StackID,
		OperationID: operationID,
		Step:        step,
		Phase:       phase,
		Outcome:     outcome,
		Message:     message,
		OccurredAt:  e.now().UTC(),
	}
	if e.sink != nil {
		e.sink.Publish(event)
	}
	if e.events != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		record := domain.DeploymentEvent{
			StackID:     event.StackID,
			OperationID: event.OperationID,
			Step:        event.Step,
			Phase:       event.Phase,
			Outcome:     event.Outcome,
			Message:     event.Message,
			OccurredAt:  event.OccurredAt,
		}
		if err := e.events.AppendEvent(persistCtx, record); err != nil {
			e.logger.Warn("persist progress event failed", "stack_id", plan.StackID, "step", step, "error", err)
		}
	}
}

func containerSpec(plan *domain.DeploymentPlan, step domain.DeploymentStep) docker.ContainerSpec {
	env := make([]string, 0, len(step.Env))
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	ports := nat.PortMap{}
	if !step.Internal {
		for _, p := range step.Ports {
			proto := p.Protocol
			if proto == "" {
				proto = "tcp"
			}
			port := nat.Port(p.ContainerPort + "/" + proto)
			ports[port] = append(ports[port], nat.PortBinding{HostIP: p.HostIP, HostPort: p.HostPort})
		}
	}

	binds := make([]string, 0, len(step.Volumes))
	for _, v := range step.Volumes {
		bind := v.Source + ":" + v.Target
		if v.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}

	labels := map[string]string{
		docker.LabelStack:   plan.StackID,
		docker.LabelContext: step.ContextName,
		docker.LabelVersion: plan.StackVersion,
	}
	if step.IgnoreInMaint {
		labels[docker.LabelIgnore] = "true"
	}

	return docker.ContainerSpec{
		Name:     step.ContainerName,
		Image:    step.ImageRef(),
		Env:      env,
		Labels:   labels,
		Ports:    ports,
		Binds:    binds,
		Networks: step.Networks,
		Aliases:  []string{step.ContextName},
	}
}
