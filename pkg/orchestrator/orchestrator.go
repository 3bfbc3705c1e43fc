package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackd/stackd/pkg/env"
	"github.com/stackd/stackd/pkg/events"
	"github.com/stackd/stackd/pkg/graph"
	"github.com/stackd/stackd/pkg/initrun"
	"github.com/stackd/stackd/pkg/log"
	"github.com/stackd/stackd/pkg/metrics"
	"github.com/stackd/stackd/pkg/probe"
	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/storage"
	"github.com/stackd/stackd/pkg/supervisor"
	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

// ReadinessTimeoutError reports a service that started but never passed
// its readiness probe within the allowed window. Dependents waiting on the
// service are never released.
type ReadinessTimeoutError struct {
	Service string
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("service %s did not become ready within %s", e.Service, e.Timeout)
}

// Options tunes run behavior
type Options struct {
	// Source is the topology file path recorded in the journal
	Source string

	// ReadyTimeout bounds the readiness wait for services whose spec does
	// not set its own timeout
	ReadyTimeout time.Duration

	// StopTimeout bounds graceful shutdown per service
	StopTimeout time.Duration

	// ProbeInterval is the default readiness polling interval
	ProbeInterval time.Duration

	// DryRun walks the lifecycle without executing init scripts. Pair it
	// with a no-op supervisor to start no processes either.
	DryRun bool
}

// DefaultOptions returns Options with sensible defaults
func DefaultOptions() Options {
	return Options{
		ReadyTimeout:  60 * time.Second,
		StopTimeout:   10 * time.Second,
		ProbeInterval: probe.DefaultInterval,
	}
}

// Deps are the collaborators a run drives. Store and Broker may be nil,
// in which case journaling and event publication are skipped.
type Deps struct {
	Supervisor supervisor.Supervisor
	Volumes    *volume.Manager
	Store      storage.Store
	Broker     *events.Broker

	// InitExecutor builds the executor used for a volume's init scripts.
	// Defaults to running them as local processes inside the volume path.
	InitExecutor func(volPath string) initrun.Executor
}

// Run drives one topology through its lifecycle: configuration injection,
// volume provisioning, process start, readiness gating, one-time
// initialization, and reverse-order teardown.
type Run struct {
	ID    string
	topo  *types.Topology
	order []string
	opts  Options
	deps  Deps

	injector *env.Injector
	board    *signals.Board

	mu      sync.Mutex
	states  map[string]types.ServiceState
	handles map[string]*supervisor.Handle
	started []string // start order, for reverse teardown
}

// New validates the topology and prepares a run. Reference validation and
// cycle detection happen here, before anything is started.
func New(topo *types.Topology, deps Deps, opts Options) (*Run, error) {
	order, err := graph.Resolve(topo)
	if err != nil {
		return nil, err
	}

	board := signals.NewBoard(topo.ServiceNames())
	injector := env.NewInjector(topo, board)
	if err := injector.Validate(); err != nil {
		return nil, err
	}

	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultOptions().ReadyTimeout
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultOptions().StopTimeout
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = DefaultOptions().ProbeInterval
	}
	if deps.InitExecutor == nil {
		deps.InitExecutor = func(volPath string) initrun.Executor {
			return &initrun.LocalExecutor{VolumePath: volPath}
		}
	}

	states := make(map[string]types.ServiceState, len(order))
	for _, name := range order {
		states[name] = types.StatePending
	}

	return &Run{
		ID:       uuid.NewString(),
		topo:     topo,
		order:    order,
		opts:     opts,
		deps:     deps,
		injector: injector,
		board:    board,
		states:   states,
		handles:  make(map[string]*supervisor.Handle),
	}, nil
}

// Order returns the resolved start order.
func (r *Run) Order() []string {
	return append([]string(nil), r.order...)
}

// State returns a service's current lifecycle state.
func (r *Run) State(service string) types.ServiceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[service]
}

// Up brings every service in the topology to running. Services start
// concurrently but each waits for its declared dependencies to reach
// running first. The first failure cancels everything in flight and tears
// down what already started, in reverse start order.
func (r *Run) Up(ctx context.Context) error {
	logger := log.WithRunID(r.ID)
	logger.Info().Str("topology", r.topo.Name).Strs("order", r.order).Msg("starting run")

	r.journalRun(storage.RunStatusStarted, time.Time{})
	r.publish(&events.Event{Type: events.EventRunStarted, RunID: r.ID})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		failOnce sync.Once
		runErr   error
	)
	for _, name := range r.order {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := r.bringUp(ctx, name); err != nil {
				failOnce.Do(func() {
					runErr = err
					cancel()
				})
			}
		}(name)
	}
	wg.Wait()

	if runErr != nil {
		logger.Error().Err(runErr).Msg("run failed, tearing down started services")
		r.stopStarted(context.WithoutCancel(ctx))
		r.journalRun(storage.RunStatusFailed, time.Now())
		r.publish(&events.Event{Type: events.EventRunFailed, RunID: r.ID, Message: runErr.Error()})
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return runErr
	}

	logger.Info().Msg("all services running")
	r.journalRun(storage.RunStatusCompleted, time.Time{})
	r.publish(&events.Event{Type: events.EventRunCompleted, RunID: r.ID})
	metrics.RunsTotal.WithLabelValues("completed").Inc()
	return nil
}

// bringUp walks one service through the lifecycle. Any error leaves the
// service failed; context cancellation from a sibling failure surfaces as
// the context error.
func (r *Run) bringUp(ctx context.Context, name string) error {
	svc := r.topo.Service(name)
	logger := log.WithService(name)

	// Gate on dependencies reaching running.
	for _, dep := range svc.DependsOn {
		cell, err := r.board.Running(dep)
		if err != nil {
			return err
		}
		if err := cell.Await(ctx); err != nil {
			return err
		}
	}

	envMap, err := r.injector.Render(ctx, svc)
	if err != nil {
		return r.fail(name, err)
	}
	r.setState(name, types.StateConfigInjected)

	mounts, volPaths, err := r.ensureVolumes(ctx, svc)
	if err != nil {
		return r.fail(name, err)
	}
	r.setState(name, types.StateVolumesReady)

	startedAt := time.Now()
	handle, err := r.deps.Supervisor.Start(ctx, svc, envMap, mounts)
	if err != nil {
		return r.fail(name, err)
	}
	r.mu.Lock()
	r.handles[name] = handle
	r.started = append(r.started, name)
	r.mu.Unlock()
	r.setState(name, types.StateStarting)

	addrCell, err := r.board.Address(name)
	if err != nil {
		return r.fail(name, err)
	}
	addrCell.Publish(handle.Address)

	if err := r.awaitReady(ctx, svc, handle.Address); err != nil {
		return r.fail(name, err)
	}
	readyCell, err := r.board.Ready(name)
	if err != nil {
		return r.fail(name, err)
	}
	readyCell.Set()

	if err := r.runInitScripts(ctx, svc, volPaths); err != nil {
		return r.fail(name, err)
	}

	r.setState(name, types.StateRunning)
	runningCell, err := r.board.Running(name)
	if err != nil {
		return r.fail(name, err)
	}
	runningCell.Set()

	metrics.ServicesRunning.Inc()
	metrics.ServiceStartDuration.Observe(time.Since(startedAt).Seconds())
	logger.Info().Str("address", handle.Address.String()).Msg("service running")
	return nil
}

// ensureVolumes provisions the service's named volumes and resolves every
// mount to a host path. It returns the mounts for the supervisor and the
// named-volume paths keyed by volume name for init script execution.
func (r *Run) ensureVolumes(ctx context.Context, svc *types.Service) ([]volume.Mount, map[string]string, error) {
	var mounts []volume.Mount
	volPaths := make(map[string]string)

	for _, m := range svc.Mounts {
		if m.HostPath {
			mounts = append(mounts, volume.Mount{Source: m.Source, Target: m.Target, ReadOnly: m.ReadOnly})
			continue
		}

		vol := r.topo.Volume(m.Source)
		if vol == nil {
			return nil, nil, fmt.Errorf("service %s mounts unknown volume %s", svc.Name, m.Source)
		}

		info, err := r.deps.Volumes.Ensure(ctx, vol)
		if err != nil {
			metrics.VolumesEnsuredTotal.WithLabelValues("error").Inc()
			return nil, nil, err
		}
		if info.Created {
			metrics.VolumesEnsuredTotal.WithLabelValues("created").Inc()
			r.publish(&events.Event{Type: events.EventVolumeCreated, RunID: r.ID, Volume: vol.Name})
		} else {
			metrics.VolumesEnsuredTotal.WithLabelValues("reused").Inc()
			r.publish(&events.Event{Type: events.EventVolumeReused, RunID: r.ID, Volume: vol.Name})
		}
		if r.deps.Store != nil {
			_ = r.deps.Store.SaveVolume(&storage.VolumeRecord{
				Name:      vol.Name,
				ID:        vol.ID,
				Path:      info.Path,
				CreatedAt: time.Now(),
			})
		}

		volPaths[vol.Name] = info.Path
		mounts = append(mounts, volume.Mount{Name: vol.Name, Source: info.Path, Target: m.Target, ReadOnly: m.ReadOnly})
	}
	return mounts, volPaths, nil
}

// awaitReady blocks until the service's readiness probe passes. Services
// without a probe are ready as soon as they start.
func (r *Run) awaitReady(ctx context.Context, svc *types.Service, addr signals.Address) error {
	spec := svc.Readiness
	if spec == nil || spec.Type == types.ProbeNone {
		return nil
	}

	prober, err := probe.New(spec, addr)
	if err != nil {
		return err
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.opts.ReadyTimeout
	}
	interval := spec.Interval
	if interval <= 0 {
		interval = r.opts.ProbeInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err = probe.Wait(waitCtx, prober, interval)
	metrics.ReadinessWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		// Distinguish our own deadline from a cancellation that came down
		// from the parent (a sibling failed or the user interrupted).
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &ReadinessTimeoutError{Service: svc.Name, Timeout: timeout}
		}
		return err
	}
	return nil
}

// runInitScripts executes any pending init scripts on the service's named
// volumes, in volume mount order, after the service is ready.
func (r *Run) runInitScripts(ctx context.Context, svc *types.Service, volPaths map[string]string) error {
	for _, m := range svc.Mounts {
		if m.HostPath {
			continue
		}
		vol := r.topo.Volume(m.Source)
		if vol == nil || len(vol.InitScripts) == 0 {
			continue
		}
		volPath := volPaths[vol.Name]

		runner := initrun.NewRunner(r.deps.InitExecutor(volPath))
		pending, err := runner.Pending(volPath, vol)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			continue
		}
		if r.opts.DryRun {
			logger := log.WithVolume(vol.Name)
			logger.Info().Int("pending", len(pending)).Msg("dry run, skipping init scripts")
			continue
		}

		r.setState(svc.Name, types.StateInitializing)
		for _, script := range pending {
			r.publish(&events.Event{Type: events.EventScriptStarted, RunID: r.ID, Volume: vol.Name, Script: script.Name})
		}
		if err := runner.Run(ctx, svc, vol, volPath); err != nil {
			metrics.InitScriptsTotal.WithLabelValues("failed").Inc()
			var scriptErr *initrun.ScriptError
			if errors.As(err, &scriptErr) {
				r.publish(&events.Event{Type: events.EventScriptFailed, RunID: r.ID, Volume: vol.Name, Script: scriptErr.Script, Message: err.Error()})
			}
			return err
		}
		metrics.InitScriptsTotal.WithLabelValues("completed").Add(float64(len(pending)))
		for _, script := range pending {
			r.publish(&events.Event{Type: events.EventScriptCompleted, RunID: r.ID, Volume: vol.Name, Script: script.Name})
		}
	}
	return nil
}

// Down stops every started service in reverse start order.
func (r *Run) Down(ctx context.Context) error {
	logger := log.WithRunID(r.ID)
	logger.Info().Msg("stopping run")

	var firstErr error
	for _, name := range r.reverseStarted() {
		r.mu.Lock()
		handle := r.handles[name]
		r.mu.Unlock()
		if handle == nil {
			continue
		}

		wasRunning := r.State(name) == types.StateRunning
		r.setState(name, types.StateStopping)

		stopCtx, cancel := context.WithTimeout(ctx, r.opts.StopTimeout)
		err := r.deps.Supervisor.Stop(stopCtx, handle)
		cancel()
		if err != nil {
			logger := log.WithService(name)
			logger.Error().Err(err).Msg("failed to stop service")
			if firstErr == nil {
				firstErr = err
			}
			r.setState(name, types.StateFailed)
			continue
		}

		r.setState(name, types.StateStopped)
		if wasRunning {
			metrics.ServicesRunning.Dec()
		}
	}

	r.journalRun(storage.RunStatusStopped, time.Now())
	r.publish(&events.Event{Type: events.EventRunStopped, RunID: r.ID})
	return firstErr
}

// RemoveVolumes destroys every volume declared by the topology along with
// its data and init markers. A subsequent run recreates them fresh.
func (r *Run) RemoveVolumes(ctx context.Context) error {
	var firstErr error
	for _, vol := range r.topo.Volumes {
		if err := r.deps.Volumes.Remove(ctx, vol); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if r.deps.Store != nil {
			_ = r.deps.Store.DeleteVolume(vol.Name)
		}
		r.publish(&events.Event{Type: events.EventVolumeRemoved, RunID: r.ID, Volume: vol.Name})
	}
	return firstErr
}

// Restore rebuilds handles and states from journaled service records so a
// later invocation can tear down services started by an earlier one. The
// supervisor must support handle restoration from a pid.
func (r *Run) Restore(runID string, records []*storage.ServiceRecord) error {
	type restorer interface {
		Restore(service string, addr signals.Address, pid int) *supervisor.Handle
	}
	rs, ok := r.deps.Supervisor.(restorer)
	if !ok {
		return fmt.Errorf("supervisor does not support restoring handles")
	}

	byName := make(map[string]*storage.ServiceRecord, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	r.ID = runID
	r.mu.Lock()
	defer r.mu.Unlock()
	// Rebuild start order from the resolved order so teardown still runs
	// in reverse dependency order.
	for _, name := range r.order {
		rec := byName[name]
		if rec == nil || !rec.State.Active() {
			continue
		}
		addr := parseAddress(rec.Address)
		r.handles[name] = rs.Restore(name, addr, rec.PID)
		r.states[name] = rec.State
		r.started = append(r.started, name)
	}
	return nil
}

func (r *Run) reverseStarted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.started))
	for i, name := range r.started {
		out[len(r.started)-1-i] = name
	}
	return out
}

// fail marks the service failed and returns the error unchanged.
func (r *Run) fail(name string, err error) error {
	r.setState(name, types.StateFailed)
	return err
}

func (r *Run) setState(name string, state types.ServiceState) {
	r.mu.Lock()
	r.states[name] = state
	handle := r.handles[name]
	r.mu.Unlock()

	logger := log.WithService(name)
	logger.Debug().Str("state", string(state)).Msg("service state changed")
	r.publish(&events.Event{Type: events.EventServiceState, RunID: r.ID, Service: name, State: state})

	if r.deps.Store != nil {
		rec := &storage.ServiceRecord{
			RunID:     r.ID,
			Name:      name,
			State:     state,
			UpdatedAt: time.Now(),
		}
		if handle != nil {
			rec.Address = handle.Address.String()
			rec.PID = handle.PID
		}
		_ = r.deps.Store.SaveServiceState(rec)
	}
}

// stopStarted tears down everything started so far, in reverse start
// order. Used on the failure path; errors are logged, not returned.
func (r *Run) stopStarted(ctx context.Context) {
	for _, name := range r.reverseStarted() {
		r.mu.Lock()
		handle := r.handles[name]
		r.mu.Unlock()
		if handle == nil {
			continue
		}

		// A failed service's process may still be alive; stop it but keep
		// the failed state visible.
		failed := r.State(name) == types.StateFailed
		if !failed {
			r.setState(name, types.StateStopping)
		}
		stopCtx, cancel := context.WithTimeout(ctx, r.opts.StopTimeout)
		err := r.deps.Supervisor.Stop(stopCtx, handle)
		cancel()
		if err != nil {
			logger := log.WithService(name)
			logger.Error().Err(err).Msg("failed to stop service during teardown")
			r.setState(name, types.StateFailed)
			continue
		}
		if !failed {
			r.setState(name, types.StateStopped)
		}
	}
}

func (r *Run) journalRun(status storage.RunStatus, finishedAt time.Time) {
	if r.deps.Store == nil {
		return
	}
	rec := &storage.RunRecord{
		ID:        r.ID,
		Topology:  r.topo.Name,
		File:      r.opts.Source,
		Status:    status,
		StartedAt: time.Now(),
	}
	if existing, err := r.deps.Store.GetRun(r.ID); err == nil {
		rec.StartedAt = existing.StartedAt
	}
	rec.FinishedAt = finishedAt
	_ = r.deps.Store.SaveRun(rec)
}

func (r *Run) publish(event *events.Event) {
	if r.deps.Broker == nil {
		return
	}
	r.deps.Broker.Publish(event)
}

func parseAddress(s string) signals.Address {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return signals.Address{}
	}
	port, _ := strconv.Atoi(portStr)
	return signals.Address{Host: host, Port: port}
}
