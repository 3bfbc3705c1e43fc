package types

import (
	"time"
)

// Topology is the full declared deployment: services, volumes, and the
// dependency relation between services. It is constructed once per
// orchestration run and treated as read-only afterwards.
type Topology struct {
	Name     string
	Services []*Service
	Volumes  []*Volume
}

// Service looks up a service by name. Returns nil if not declared.
func (t *Topology) Service(name string) *Service {
	for _, s := range t.Services {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Volume looks up a named volume. Returns nil if not declared.
func (t *Topology) Volume(name string) *Volume {
	for _, v := range t.Volumes {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// ServiceNames returns service names in declaration order.
func (t *Topology) ServiceNames() []string {
	names := make([]string, 0, len(t.Services))
	for _, s := range t.Services {
		names = append(names, s.Name)
	}
	return names
}

// Service represents a single deployable process unit within the topology.
type Service struct {
	Name        string
	Image       string
	Command     []string // local run command (x-command), used by the exec supervisor
	DependsOn   []string
	Ports       []*PortMapping
	Environment map[string]string
	Mounts      []*VolumeMount
	Readiness   *ReadinessSpec
	Labels      map[string]string

	// Index is the position of the service in the source document.
	// The dependency resolver uses it as a deterministic tie-break.
	Index int
}

/// PortMapping defines port exposure (host:container).
type PortMapping struct {
	HostIP    string
	Published int // Port on the host. 0 means dynamically assigned.
	Target    int // Port inside the service.
	Protocol  string
}

// VolumeMount binds a named volume or a host path into a service's
// filesystem namespace. Host-path binds are read/write pass-throughs with
// no lifecycle management.
type VolumeMount struct {
	Source   string // Volume name, or host path when HostPath is true
	Target   string // Path inside the service
	ReadOnly bool
	HostPath bool
}

// Volume represents persistent storage with a lifecycle independent of any
/// single service: created once, reused across restarts, destroyed only on
// explicit teardown.
type Volume struct {
	Name        string
	ID          string // Assigned at creation, stable for the volume's lifetime
	Driver      string
	Labels      map[string]string
	InitScripts []*InitScript

	// Index is the position of the volume in the source document.
	Index int
}

// InitScript is an ordered unit of one-time setup work associated with a
// volume. It executes at most once per volume lifetime, tracked via a
// marker persisted in the volume itself.
type InitScript struct {
	Name    string
	Command []string
}

// ReadinessSpec configures how the readiness of a started service is
// observed. The orchestrator only consumes the resulting boolean signal.
type ReadinessSpec struct {
	Type     ProbeType
	Target   string        // address or URL; defaults to the service's published address
	Timeout  time.Duration // bound on the Starting -> Running wait
	Interval time.Duration // time between probe attempts
}

// ProbeType defines the kind of readiness probe.
type ProbeType string

const (
	ProbeTCP  ProbeType = "tcp"
	ProbeHTTP ProbeType = "http"
	// ProbeNone marks a service ready as soon as the supervisor reports
	// it started.
	ProbeNone ProbeType = "none"
)

// ServiceState represents a service's position in the lifecycle state
// machine driven by the orchestrator.
type ServiceState string

const (
	StatePending        ServiceState = "pending"
	StateConfigInjected ServiceState = "config-injected"
	StateVolumesReady   ServiceState = "volumes-ready"
	StateStarting       ServiceState = "starting"
	StateInitializing   ServiceState = "initializing"
	StateRunning        ServiceState = "running"
	StateStopping       ServiceState = "stopping"
	StateStopped        ServiceState = "stopped"
	StateFailed         ServiceState = "failed"
)

// Active reports whether a service in this state has an underlying process
// that teardown must stop.
func (s ServiceState) Active() bool {
	switch s {
	case StateStarting, StateInitializing, StateRunning:
		return true
	}
	return false
}
