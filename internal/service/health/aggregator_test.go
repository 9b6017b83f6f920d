package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/docker"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/domain"
	"github.com/Wiesenwischer/ReadyStackGo-sub000/internal/repository"
)

type fakeHealthRuntime struct {
	pingErr    error
	containers map[string]docker.ContainerState
}

func (f *fakeHealthRuntime) Ping(context.Context) error { return f.pingErr }

func (f *fakeHealthRuntime) ContainerIDByName(context.Context, string) (string, error) {
	return "", docker.ErrNotFound
}

func (f *fakeHealthRuntime) InspectContainer(_ context.Context, nameOrID string) (docker.ContainerState, error) {
	state, ok := f.containers[nameOrID]
	if !ok {
		return docker.ContainerState{}, docker.ErrNotFound
	}
	return state, nil
}

func (f *fakeHealthRuntime) ListStackContainers(context.Context, string) ([]docker.ContainerState, error) {
	return nil, nil
}

func (f *fakeHealthRuntime) CreateContainer(context.Context, docker.ContainerSpec) (string, error) {
	return "", errors.New("read only")
}
func (f *fakeHealthRuntime) StartContainer(context.Context, string) error { return nil }
func (f *fakeHealthRuntime) StopContainer(context.Context, string, time.Duration) error {
	return nil
}
func (f *fakeHealthRuntime) RemoveContainer(context.Context, string) error         { return nil }
func (f *fakeHealthRuntime) RenameContainer(context.Context, string, string) error { return nil }
func (f *fakeHealthRuntime) NetworkExists(context.Context, string) (bool, error)   { return true, nil }
func (f *fakeHealthRuntime) CreateNetwork(context.Context, string) error           { return nil }
func (f *fakeHealthRuntime) ConnectNetwork(context.Context, string, string, []string) error {
	return nil
}
func (f *fakeHealthRuntime) PullImage(context.Context, string, string) error { return nil }

var _ docker.Runtime = (*fakeHealthRuntime)(nil)

type fakePlanStore struct {
	plans map[string]domain.DeploymentPlan
}

func (f *fakePlanStore) SaveCurrentPlan(_ context.Context, stackID string, plan domain.DeploymentPlan) error {
	f.plans[stackID] = plan
	return nil
}

func (f *fakePlanStore) GetCurrentPlan(_ context.Context, stackID string) (*domain.DeploymentPlan, error) {
	plan, ok := f.plans[stackID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := plan
	return &copied, nil
}

type fakeHistory struct {
	mu        sync.Mutex
	appended  []domain.HealthSnapshot
	prunedAt  []time.Time
	appendErr error
}

func (f *fakeHistory) AppendHealthSnapshot(_ context.Context, snapshot domain.HealthSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, snapshot)
	return nil
}

func (f *fakeHistory) LatestHealthSnapshot(_ context.Context, stackID string) (*domain.HealthSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.appended) - 1; i >= 0; i-- {
		if f.appended[i].StackID == stackID {
			copied := f.appended[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeHistory) ListHealthSnapshots(_ context.Context, stackID string, since time.Time, limit int) ([]domain.HealthSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HealthSnapshot
	for _, snapshot := range f.appended {
		if snapshot.StackID == stackID && snapshot.TakenAt.After(since) {
			out = append(out, snapshot)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistory) PruneHealthSnapshots(_ context.Context, _ string, before time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prunedAt = append(f.prunedAt, before)
	return nil
}

type fakeStackList struct {
	records []domain.StackRecord
}

func (f *fakeStackList) UpsertStack(context.Context, *domain.StackRecord) error { return nil }

func (f *fakeStackList) GetStack(_ context.Context, stackID string) (*domain.StackRecord, error) {
	for i := range f.records {
		if f.records[i].StackID == stackID {
			copied := f.records[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStackList) ListStacks(context.Context) ([]domain.StackRecord, error) {
	return f.records, nil
}

type fakeProber struct {
	fail map[string]error
}

func (f *fakeProber) Probe(_ context.Context, url string) error {
	return f.fail[url]
}

func testPlan() domain.DeploymentPlan {
	return domain.DeploymentPlan{
		StackVersion: "1.0.0",
		StackID:      "stack-1",
		StackName:    "shop",
		Steps: []domain.DeploymentStep{
			{ContextName: "db", ContainerName: "shop-db", Order: 0},
			{ContextName: "api", ContainerName: "shop-api", Order: 1, HealthEndpoint: "http://localhost:8080/healthz"},
			{ContextName: "gateway", ContainerName: "shop-gateway", Order: 2},
		},
	}
}

func testRecord(mode domain.OperationMode) *domain.StackRecord {
	return &domain.StackRecord{
		StackID:        "stack-1",
		StackName:      "shop",
		OrganizationID: "org-1",
		EnvironmentID:  "env-1",
		Mode:           mode,
		CurrentVersion: "1.0.0",
	}
}

func newTestAggregator(runtime *fakeHealthRuntime, prober EndpointProber) (*Aggregator, *fakeHistory, *fakeStackList) {
	history := &fakeHistory{}
	stacks := &fakeStackList{}
	plans := &fakePlanStore{plans: map[string]domain.DeploymentPlan{"stack-1": testPlan()}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	agg := NewAggregator(stacks, plans, history, runtime, prober, nil, logger, time.Minute)
	return agg, history, stacks
}

func runningContainers() map[string]docker.ContainerState {
	return map[string]docker.ContainerState{
		"shop-db":      {ID: "c-db", Name: "shop-db", State: "running"},
		"shop-api":     {ID: "c-api", Name: "shop-api", State: "running"},
		"shop-gateway": {ID: "c-gw", Name: "shop-gateway", State: "running"},
	}
}

func TestCollectHealthyStack(t *testing.T) {
	runtime := &fakeHealthRuntime{containers: runningContainers()}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	snapshot := agg.Collect(context.Background(), testRecord(domain.ModeNormal))
	if snapshot.Status != domain.HealthHealthy {
		t.Fatalf("status = %s, want healthy", snapshot.Status)
	}
	if len(snapshot.Services) != 3 {
		t.Fatalf("services = %d, want 3", len(snapshot.Services))
	}
	for _, service := range snapshot.Services {
		if service.Status != domain.HealthHealthy {
			t.Errorf("service %s = %s, want healthy", service.ContextName, service.Status)
		}
	}
	if snapshot.Services[1].EndpointStatus != domain.HealthHealthy {
		t.Errorf("api endpoint status = %s, want healthy", snapshot.Services[1].EndpointStatus)
	}
}

func TestCollectExitedContainerUnhealthy(t *testing.T) {
	containers := runningContainers()
	containers["shop-api"] = docker.ContainerState{ID: "c-api", State: "exited", ExitCode: 137}
	runtime := &fakeHealthRuntime{containers: containers}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	snapshot := agg.Collect(context.Background(), testRecord(domain.ModeNormal))
	if snapshot.Status != domain.HealthUnhealthy {
		t.Fatalf("status = %s, want unhealthy", snapshot.Status)
	}
}

func TestCollectEndpointFailureDegrades(t *testing.T) {
	runtime := &fakeHealthRuntime{containers: runningContainers()}
	prober := &fakeProber{fail: map[string]error{
		"http://localhost:8080/healthz": errors.New("connection refused"),
	}}
	agg, _, _ := newTestAggregator(runtime, prober)

	snapshot := agg.Collect(context.Background(), testRecord(domain.ModeNormal))
	if snapshot.Status != domain.HealthDegraded {
		t.Fatalf("status = %s, want degraded", snapshot.Status)
	}
	api := snapshot.Services[1]
	if api.EndpointStatus != domain.HealthUnhealthy {
		t.Errorf("api endpoint = %s, want unhealthy", api.EndpointStatus)
	}
}

func TestCollectMaintenanceIgnoresStoppedSet(t *testing.T) {
	containers := runningContainers()
	containers["shop-api"] = docker.ContainerState{ID: "c-api", State: "exited"}
	containers["shop-gateway"] = docker.ContainerState{ID: "c-gw", State: "exited"}
	runtime := &fakeHealthRuntime{containers: containers}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	record := testRecord(domain.ModeMaintenance)
	record.MaintenanceStopped = []string{"api", "gateway"}

	snapshot := agg.Collect(context.Background(), record)
	if snapshot.Status != domain.HealthHealthy {
		t.Fatalf("status = %s, want healthy (stopped services were expected down)", snapshot.Status)
	}
	for _, service := range snapshot.Services {
		if service.ContextName == "db" {
			if service.ExpectedDown {
				t.Errorf("running service db flagged expected down")
			}
			continue
		}
		if service.Status != domain.HealthUnknown {
			t.Errorf("service %s = %s, want unknown", service.ContextName, service.Status)
		}
		if !service.ExpectedDown {
			t.Errorf("service %s not flagged expected down", service.ContextName)
		}
	}
}

func TestCollectMaintenanceUnexpectedFailureStillCounts(t *testing.T) {
	containers := runningContainers()
	containers["shop-api"] = docker.ContainerState{ID: "c-api", State: "exited"}
	containers["shop-db"] = docker.ContainerState{ID: "c-db", State: "exited", ExitCode: 1}
	runtime := &fakeHealthRuntime{containers: containers}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	record := testRecord(domain.ModeMaintenance)
	record.MaintenanceStopped = []string{"api"}

	snapshot := agg.Collect(context.Background(), record)
	if snapshot.Status != domain.HealthUnhealthy {
		t.Fatalf("status = %s, want unhealthy (db was not in the stopped set)", snapshot.Status)
	}
}

func TestCollectMigratingReportsUnknown(t *testing.T) {
	containers := runningContainers()
	containers["shop-api"] = docker.ContainerState{ID: "c-api", State: "exited"}
	runtime := &fakeHealthRuntime{containers: containers}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	snapshot := agg.Collect(context.Background(), testRecord(domain.ModeMigrating))
	if snapshot.Status != domain.HealthUnknown {
		t.Fatalf("status = %s, want unknown during migration", snapshot.Status)
	}
}

func TestCollectStoppedStackHealthy(t *testing.T) {
	runtime := &fakeHealthRuntime{containers: map[string]docker.ContainerState{}}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	snapshot := agg.Collect(context.Background(), testRecord(domain.ModeStopped))
	if snapshot.Status != domain.HealthHealthy {
		t.Fatalf("status = %s, want healthy for stopped stack", snapshot.Status)
	}
}

func TestCollectRuntimeDownReportsUnknown(t *testing.T) {
	runtime := &fakeHealthRuntime{pingErr: errors.New("cannot connect to docker daemon")}
	agg, _, _ := newTestAggregator(runtime, &fakeProber{})

	snapshot := agg.Collect(context.Background(), testRecord(domain.ModeNormal))
	if snapshot.Status != domain.HealthUnknown {
		t.Fatalf("status = %s, want unknown when the runtime is unreachable", snapshot.Status)
	}
	if snapshot.Infra == nil || snapshot.Infra.Status != domain.HealthUnhealthy {
		t.Fatalf("infra = %+v, want unhealthy", snapshot.Infra)
	}
}

func TestPollAppendsAndPrunesHistory(t *testing.T) {
	runtime := &fakeHealthRuntime{containers: runningContainers()}
	agg, history, stacks := newTestAggregator(runtime, &fakeProber{})
	stacks.records = []domain.StackRecord{*testRecord(domain.ModeNormal)}

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	agg.now = func() time.Time { return fixed }

	agg.pollAll(context.Background())

	if len(history.appended) != 1 {
		t.Fatalf("appended = %d, want 1", len(history.appended))
	}
	if got := history.appended[0].TakenAt; !got.Equal(fixed) {
		t.Errorf("taken at = %v, want %v", got, fixed)
	}
	if len(history.prunedAt) != 1 {
		t.Fatalf("pruned = %d, want 1", len(history.prunedAt))
	}
	if want := fixed.Add(-24 * time.Hour); !history.prunedAt[0].Equal(want) {
		t.Errorf("prune cutoff = %v, want %v", history.prunedAt[0], want)
	}
}
