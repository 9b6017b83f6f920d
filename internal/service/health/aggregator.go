// Package health periodically inspects deployed stacks and produces
// point-in-time snapshots. It is strictly read-only on the container runtime
// and never takes the environment lock, so it may observe a deployment mid
// flight; the operation mode on the stack record tells it how to interpret
// what it sees.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
)

// historyWindow bounds the retained snapshot history per stack.
const historyWindow = 24 * time.Hour

// EndpointProber checks an HTTP health endpoint.
type EndpointProber interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber probes endpoints with a plain GET.
type HTTPProber struct {
	Client *http.Client
}

// Probe performs the request and treats any 2xx status as healthy.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// BusChecker reports message bus reachability. Optional; stacks without a
// bus leave it nil.
type BusChecker interface {
	CheckBus(ctx context.Context) domain.BusHealth
}

// Aggregator polls every known stack on a fixed interval.
type Aggregator struct {
	stacks  repository.StackRepository
	plans   repository.PlanRepository
	history repository.HealthRepository
	runtime docker.Runtime
	prober  EndpointProber
	bus     BusChecker
	logger  *slog.Logger

	interval time.Duration
	metrics  *pollMetrics

	now func() time.Time
}

// NewAggregator wires the health aggregator. bus may be nil.
func NewAggregator(stacks repository.StackRepository, plans repository.PlanRepository, history repository.HealthRepository, runtime docker.Runtime, prober EndpointProber, bus BusChecker, logger *slog.Logger, interval time.Duration) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if prober == nil {
		prober = &HTTPProber{}
	}
	return &Aggregator{
		stacks:   stacks,
		plans:    plans,
		history:  history,
		runtime:  runtime,
		prober:   prober,
		bus:      bus,
		logger:   logger.With("component", "health"),
		interval: interval,
		metrics:  newPollMetrics(),
		now:      time.Now,
	}
}

// Run executes the polling loop until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	if a == nil {
		return
	}
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info("health aggregator started", "interval", a.interval)
	a.pollAll(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("health aggregator stopped")
			return
		case <-ticker.C:
			a.pollAll(ctx)
		}
	}
}

func (a *Aggregator) pollAll(ctx context.Context) {
	records, err := a.stacks.ListStacks(ctx)
	if err != nil {
		a.logger.Error("list stacks failed", "error", err)
		return
	}
	for i := range records {
		record := records[i]
		snapshot := a.Collect(ctx, &record)
		a.metrics.observe(string(snapshot.Status))
		if err := a.history.AppendHealthSnapshot(ctx, snapshot); err != nil {
			a.logger.Error("append health snapshot failed", "stack_id", record.StackID, "error", err)
			continue
		}
		if err := a.history.PruneHealthSnapshots(ctx, record.StackID, snapshot.TakenAt.Add(-historyWindow)); err != nil {
			a.logger.Warn("prune health history failed", "stack_id", record.StackID, "error", err)
		}
	}
}

// Collect produces one snapshot for the stack. Mode decides how container
// observations are graded; raw observation never feeds back into mode.
func (a *Aggregator) Collect(ctx context.Context, record *domain.StackRecord) domain.HealthSnapshot {
	snapshot := domain.HealthSnapshot{
		OrganizationID: record.OrganizationID,
		EnvironmentID:  record.EnvironmentID,
		StackID:        record.StackID,
		Mode:           record.Mode,
		CurrentVersion: record.CurrentVersion,
		TargetVersion:  record.TargetVersion,
		TakenAt:        a.now().UTC(),
	}

	infra := domain.InfraHealth{Status: domain.HealthHealthy}
	if err := a.runtime.Ping(ctx); err != nil {
		infra = domain.InfraHealth{Status: domain.HealthUnhealthy, Detail: err.Error()}
	}
	snapshot.Infra = &infra
	if infra.Status != domain.HealthHealthy {
		snapshot.Status = domain.HealthUnknown
		return snapshot
	}

	if a.bus != nil {
		bus := a.bus.CheckBus(ctx)
		snapshot.Bus = &bus
	}

	plan, err := a.plans.GetCurrentPlan(ctx, record.StackID)
	if err != nil {
		if err != repository.ErrNotFound {
			a.logger.Warn("load plan failed", "stack_id", record.StackID, "error", err)
		}
		snapshot.Status = domain.HealthUnknown
		return snapshot
	}

	expectedDown := expectedDownSet(record)
	for _, step := range plan.Steps {
		service := a.observeService(ctx, step)
		_, down := expectedDown[step.ContextName]
		if (down || record.Mode == domain.ModeStopped) && service.Status != domain.HealthHealthy {
			service.Status = domain.HealthUnknown
			service.LastReason = "intentionally stopped"
			service.ExpectedDown = true
		}
		snapshot.Services = append(snapshot.Services, service)
	}

	snapshot.Status = aggregate(record.Mode, snapshot.Services, snapshot.Bus)
	return snapshot
}

// expectedDownSet returns the context names whose containers are supposed to
// be stopped in the current mode. In Stopped mode every service is expected
// down; the caller handles that case directly.
func expectedDownSet(record *domain.StackRecord) map[string]struct{} {
	down := make(map[string]struct{})
	if record.Mode == domain.ModeMaintenance {
		for _, name := range record.MaintenanceStopped {
			down[name] = struct{}{}
		}
	}
	return down
}

func (a *Aggregator) observeService(ctx context.Context, step domain.DeploymentStep) domain.ServiceHealth {
	service := domain.ServiceHealth{ContextName: step.ContextName, Status: domain.HealthUnknown}

	state, err := a.runtime.InspectContainer(ctx, step.ContainerName)
	if err != nil {
		if err == docker.ErrNotFound {
			service.LastReason = "container not found"
			service.Status = domain.HealthUnhealthy
		} else {
			service.LastReason = err.Error()
		}
		return service
	}
	service.ContainerID = state.ID
	service.ContainerState = state.State
	service.RestartCount = state.RestartCount

	switch {
	case state.Running() && state.Health == "unhealthy":
		service.Status = domain.HealthDegraded
		service.LastReason = "container healthcheck failing"
	case state.Running():
		service.Status = domain.HealthHealthy
	default:
		service.Status = domain.HealthUnhealthy
		service.LastReason = fmt.Sprintf("container %s (exit %d)", state.State, state.ExitCode)
	}

	if step.HealthEndpoint != "" && state.Running() {
		if err := a.prober.Probe(ctx, step.HealthEndpoint); err != nil {
			service.EndpointStatus = domain.HealthUnhealthy
			service.Status = domain.HealthDegraded
			service.LastReason = fmt.Sprintf("endpoint: %v", err)
		} else {
			service.EndpointStatus = domain.HealthHealthy
		}
	}
	return service
}

// aggregate folds the per-source observations into one overall status. The
// operation mode wins over raw observation: a migrating stack is Unknown, a
// stopped stack is Healthy when everything expected down is down.
func aggregate(mode domain.OperationMode, services []domain.ServiceHealth, bus *domain.BusHealth) domain.HealthStatus {
	switch mode {
	case domain.ModeMigrating:
		return domain.HealthUnknown
	case domain.ModeStopped:
		return domain.HealthHealthy
	case domain.ModeFailed:
		return domain.HealthUnhealthy
	}

	overall := domain.HealthHealthy
	for _, service := range services {
		if service.ExpectedDown {
			continue
		}
		switch service.Status {
		case domain.HealthUnhealthy:
			return domain.HealthUnhealthy
		case domain.HealthDegraded:
			overall = domain.HealthDegraded
		case domain.HealthUnknown:
			if overall == domain.HealthHealthy {
				overall = domain.HealthDegraded
			}
		}
	}
	if bus != nil && bus.Status == domain.HealthUnhealthy {
		if overall == domain.HealthHealthy {
			overall = domain.HealthDegraded
		}
	}
	return overall
}

// Latest returns the most recent snapshot for a stack.
func (a *Aggregator) Latest(ctx context.Context, stackID string) (*domain.HealthSnapshot, error) {
	return a.history.LatestHealthSnapshot(ctx, stackID)
}

// History returns snapshots since the given time, newest first, bounded by
// limit.
func (a *Aggregator) History(ctx context.Context, stackID string, since time.Time, limit int) ([]domain.HealthSnapshot, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	if since.IsZero() {
		since = a.now().Add(-historyWindow)
	}
	return a.history.ListHealthSnapshots(ctx, stackID, since, limit)
}
