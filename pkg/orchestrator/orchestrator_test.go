package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stackd/stackd/pkg/graph"
	"github.com/stackd/stackd/pkg/initrun"
	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/storage"
	"github.com/stackd/stackd/pkg/supervisor"
	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

// captureSupervisor records the environment and mounts each service was
// started with, and can fail a specific service's start.
type captureSupervisor struct {
	*supervisor.NopSupervisor

	mu     sync.Mutex
	failOn string
	env    map[string]map[string]string
	mounts map[string][]volume.Mount
}

func newCaptureSupervisor() *captureSupervisor {
	return &captureSupervisor{
		NopSupervisor: supervisor.NewNopSupervisor(),
		env:           make(map[string]map[string]string),
		mounts:        make(map[string][]volume.Mount),
	}
}

func (s *captureSupervisor) Start(ctx context.Context, svc *types.Service, env map[string]string, mounts []volume.Mount) (*supervisor.Handle, error) {
	if svc.Name == s.failOn {
		return nil, fmt.Errorf("start failed")
	}
	s.mu.Lock()
	s.env[svc.Name] = env
	s.mounts[svc.Name] = mounts
	s.mu.Unlock()
	return s.NopSupervisor.Start(ctx, svc, env, mounts)
}

type recordingInit struct {
	mu       sync.Mutex
	executed []string
}

func (e *recordingInit) Exec(ctx context.Context, svc *types.Service, script *types.InitScript) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed = append(e.executed, script.Name)
	return nil
}

func (e *recordingInit) names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.executed...)
}

// knoweakTopology is a database with an initialized volume plus a web
// service that depends on it and references its address.
func knoweakTopology() *types.Topology {
	return &types.Topology{
		Name: "knoweak",
		Services: []*types.Service{
			{
				Name:  "database",
				Image: "mysql:8.0",
				Ports: []*types.PortMapping{{Published: 3306, Target: 3306, Protocol: "tcp"}},
				Mounts: []*types.VolumeMount{
					{Source: "db-data", Target: "/var/lib/mysql"},
				},
				Index: 0,
			},
			{
				Name:      "web",
				Image:     "knoweak/web:latest",
				DependsOn: []string{"database"},
				Environment: map[string]string{
					"DB_HOST": "${database.host}",
					"DB_ADDR": "${database.addr}",
				},
				Ports: []*types.PortMapping{{Published: 8080, Target: 8080, Protocol: "tcp"}},
				Index: 1,
			},
		},
		Volumes: []*types.Volume{
			{
				Name:   "db-data",
				Driver: "local",
				InitScripts: []*types.InitScript{
					{Name: "create-schema", Command: []string{"true"}},
					{Name: "seed-domains", Command: []string{"true"}},
				},
				Index: 0,
			},
		},
	}
}

func newVolumeManager(t *testing.T, base string) *volume.Manager {
	t.Helper()
	driver, err := volume.NewLocalDriver(base)
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}
	return volume.NewManager(driver, 2)
}

func newTestRun(t *testing.T, topo *types.Topology, sup supervisor.Supervisor, init *recordingInit, volBase string) *Run {
	t.Helper()
	deps := Deps{
		Supervisor: sup,
		Volumes:    newVolumeManager(t, volBase),
	}
	if init != nil {
		deps.InitExecutor = func(volPath string) initrun.Executor { return init }
	}
	run, err := New(topo, deps, Options{ReadyTimeout: 2 * time.Second, StopTimeout: time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return run
}

func TestNew_RejectsCycle(t *testing.T) {
	topo := &types.Topology{
		Name: "cyclic",
		Services: []*types.Service{
			{Name: "a", DependsOn: []string{"b"}, Index: 0},
			{Name: "b", DependsOn: []string{"a"}, Index: 1},
		},
	}

	_, err := New(topo, Deps{Supervisor: supervisor.NewNopSupervisor()}, Options{})
	if err == nil {
		t.Fatal("New() should reject a cyclic topology")
	}
	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Errorf("New() error = %T, want *graph.CycleError", err)
	}
}

func TestNew_RejectsReferenceToNonDependency(t *testing.T) {
	topo := &types.Topology{
		Name: "bad-ref",
		Services: []*types.Service{
			{Name: "database", Index: 0},
			{
				Name:        "web",
				Environment: map[string]string{"DB_HOST": "${database.host}"},
				Index:       1,
			},
		},
	}

	_, err := New(topo, Deps{Supervisor: supervisor.NewNopSupervisor()}, Options{})
	if err == nil {
		t.Fatal("New() should reject address reference without depends_on")
	}
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("New() error = %T, want *types.ConfigError", err)
	}
}

func TestRun_UpBringsTopologyUp(t *testing.T) {
	sup := newCaptureSupervisor()
	init := &recordingInit{}
	run := newTestRun(t, knoweakTopology(), sup, init, t.TempDir())

	if err := run.Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	for _, name := range []string{"database", "web"} {
		if run.State(name) != types.StateRunning {
			t.Errorf("State(%s) = %s, want running", name, run.State(name))
		}
	}

	started := sup.Started()
	if len(started) != 2 || started[0] != "database" || started[1] != "web" {
		t.Errorf("start order = %v, want [database web]", started)
	}

	// Init scripts ran in declared order, once.
	want := []string{"create-schema", "seed-domains"}
	got := init.names()
	if len(got) != len(want) {
		t.Fatalf("init scripts executed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("executed[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	// The web service saw the database's address.
	if sup.env["web"]["DB_HOST"] != "127.0.0.1" {
		t.Errorf("web DB_HOST = %s, want 127.0.0.1", sup.env["web"]["DB_HOST"])
	}
	if sup.env["web"]["DB_ADDR"] != "127.0.0.1:3306" {
		t.Errorf("web DB_ADDR = %s, want 127.0.0.1:3306", sup.env["web"]["DB_ADDR"])
	}

	// The database got its volume mounted by host path.
	mounts := sup.mounts["database"]
	if len(mounts) != 1 || mounts[0].Name != "db-data" || mounts[0].Source == "" {
		t.Errorf("database mounts = %+v, want one resolved db-data mount", mounts)
	}
}

func TestRun_SecondUpReusesVolumeAndSkipsInit(t *testing.T) {
	volBase := t.TempDir()

	first := &recordingInit{}
	run1 := newTestRun(t, knoweakTopology(), newCaptureSupervisor(), first, volBase)
	if err := run1.Up(context.Background()); err != nil {
		t.Fatalf("first Up() error = %v", err)
	}
	if err := run1.Down(context.Background()); err != nil {
		t.Fatalf("Down() error = %v", err)
	}

	second := &recordingInit{}
	run2 := newTestRun(t, knoweakTopology(), newCaptureSupervisor(), second, volBase)
	if err := run2.Up(context.Background()); err != nil {
		t.Fatalf("second Up() error = %v", err)
	}

	if len(second.names()) != 0 {
		t.Errorf("second run executed init scripts %v, want none", second.names())
	}
}

func TestRun_ReadinessTimeoutFailsRun(t *testing.T) {
	// A port with nothing listening.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	closedAddr := ln.Addr().String()
	ln.Close()

	topo := knoweakTopology()
	topo.Services[0].Readiness = &types.ReadinessSpec{
		Type:     types.ProbeTCP,
		Target:   closedAddr,
		Timeout:  300 * time.Millisecond,
		Interval: 50 * time.Millisecond,
	}

	sup := newCaptureSupervisor()
	run := newTestRun(t, topo, sup, &recordingInit{}, t.TempDir())

	err = run.Up(context.Background())
	if err == nil {
		t.Fatal("Up() should fail when readiness never passes")
	}
	var timeoutErr *ReadinessTimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Up() error = %T (%v), want *ReadinessTimeoutError", err, err)
	}
	if timeoutErr.Service != "database" {
		t.Errorf("timeout service = %s, want database", timeoutErr.Service)
	}

	// The dependent never started; the failed service's process was still
	// stopped during teardown.
	if run.State("web") != types.StatePending {
		t.Errorf("State(web) = %s, want pending", run.State("web"))
	}
	if run.State("database") != types.StateFailed {
		t.Errorf("State(database) = %s, want failed", run.State("database"))
	}
	stopped := sup.Stopped()
	if len(stopped) != 1 || stopped[0] != "database" {
		t.Errorf("stopped = %v, want [database]", stopped)
	}
}

func TestRun_StartFailureTearsDownStarted(t *testing.T) {
	sup := newCaptureSupervisor()
	sup.failOn = "web"
	run := newTestRun(t, knoweakTopology(), sup, &recordingInit{}, t.TempDir())

	if err := run.Up(context.Background()); err == nil {
		t.Fatal("Up() should fail when a service fails to start")
	}

	stopped := sup.Stopped()
	if len(stopped) != 1 || stopped[0] != "database" {
		t.Errorf("stopped = %v, want [database]", stopped)
	}
	if run.State("web") != types.StateFailed {
		t.Errorf("State(web) = %s, want failed", run.State("web"))
	}
}

func TestRun_DownStopsInReverseOrder(t *testing.T) {
	sup := newCaptureSupervisor()
	run := newTestRun(t, knoweakTopology(), sup, &recordingInit{}, t.TempDir())

	if err := run.Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if err := run.Down(context.Background()); err != nil {
		t.Fatalf("Down() error = %v", err)
	}

	stopped := sup.Stopped()
	if len(stopped) != 2 || stopped[0] != "web" || stopped[1] != "database" {
		t.Errorf("stop order = %v, want [web database]", stopped)
	}
	for _, name := range []string{"database", "web"} {
		if run.State(name) != types.StateStopped {
			t.Errorf("State(%s) = %s, want stopped", name, run.State(name))
		}
	}
}

func TestRun_JournalsProgress(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBoltStore() error = %v", err)
	}
	defer store.Close()

	deps := Deps{
		Supervisor: newCaptureSupervisor(),
		Volumes:    newVolumeManager(t, t.TempDir()),
		Store:      store,
		InitExecutor: func(string) initrun.Executor {
			return &recordingInit{}
		},
	}
	run, err := New(knoweakTopology(), deps, Options{Source: "/tmp/knoweak.yaml"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := run.Up(context.Background()); err != nil {
		t.Fatalf("Up() error = %v", err)
	}

	latest, err := store.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if latest.ID != run.ID || latest.Status != storage.RunStatusCompleted {
		t.Errorf("LatestRun() = %+v, want run %s completed", latest, run.ID)
	}
	if latest.File != "/tmp/knoweak.yaml" {
		t.Errorf("LatestRun().File = %s, want /tmp/knoweak.yaml", latest.File)
	}

	records, err := store.ListServiceStates(run.ID)
	if err != nil {
		t.Fatalf("ListServiceStates() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("journal has %d service records, want 2", len(records))
	}
	for _, rec := range records {
		if rec.State != types.StateRunning {
			t.Errorf("journaled state for %s = %s, want running", rec.Name, rec.State)
		}
	}

	if err := run.Down(context.Background()); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	latest, err = store.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if latest.Status != storage.RunStatusStopped {
		t.Errorf("LatestRun().Status = %s, want stopped", latest.Status)
	}
}

// restorableSupervisor adds journal-based handle restoration on top of the
// capturing fake.
type restorableSupervisor struct {
	*captureSupervisor
}

func (s *restorableSupervisor) Restore(service string, addr signals.Address, pid int) *supervisor.Handle {
	return &supervisor.Handle{Service: service, Address: addr, PID: pid}
}

func TestRun_RestoreThenDown(t *testing.T) {
	sup := &restorableSupervisor{captureSupervisor: newCaptureSupervisor()}
	run := newTestRun(t, knoweakTopology(), sup, &recordingInit{}, t.TempDir())

	records := []*storage.ServiceRecord{
		{RunID: "run-9", Name: "database", State: types.StateRunning, Address: "127.0.0.1:3306", PID: 4242},
		{RunID: "run-9", Name: "web", State: types.StateRunning, Address: "127.0.0.1:8080", PID: 4243},
	}
	if err := run.Restore("run-9", records); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if run.ID != "run-9" {
		t.Errorf("run.ID = %s, want run-9", run.ID)
	}

	if err := run.Down(context.Background()); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	stopped := sup.Stopped()
	if len(stopped) != 2 || stopped[0] != "web" || stopped[1] != "database" {
		t.Errorf("stop order = %v, want [web database]", stopped)
	}
}

func TestRun_RestoreSkipsInactiveServices(t *testing.T) {
	sup := &restorableSupervisor{captureSupervisor: newCaptureSupervisor()}
	run := newTestRun(t, knoweakTopology(), sup, &recordingInit{}, t.TempDir())

	records := []*storage.ServiceRecord{
		{RunID: "run-9", Name: "database", State: types.StateRunning, PID: 4242},
		{RunID: "run-9", Name: "web", State: types.StateStopped},
	}
	if err := run.Restore("run-9", records); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if err := run.Down(context.Background()); err != nil {
		t.Fatalf("Down() error = %v", err)
	}
	stopped := sup.Stopped()
	if len(stopped) != 1 || stopped[0] != "database" {
		t.Errorf("stopped = %v, want [database]", stopped)
	}
}
