/*
Package types defines the core data structures used throughout stackd.

This package contains the fundamental types that represent the declared
deployment topology: services, their dependencies, ports, environment,
volumes, volume mounts, and one-time initialization scripts. These types are
used by all other packages for parsing, resolution, and orchestration logic.

# Core Types

Topology:
  - Topology: the full set of declared services and volumes
  - Service: a single deployable process unit
  - PortMapping: host:container port exposure
  - VolumeMount: binds a volume or host path into a service

Storage:
  - Volume: a named unit of persistent storage, lifecycle independent of
    any service instance
  - InitScript: one-time setup work tied to a volume's first creation

Lifecycle:
  - ServiceState: the per-service state machine positions
    (pending -> config-injected -> volumes-ready -> starting ->
    initializing -> running -> stopping -> stopped)
  - ReadinessSpec: how readiness of a started service is observed

All types are plain data: serializable, constructed once by the parser, and
treated as read-only during an orchestration run. ConfigError, defined here
because both the parser and the configuration injector raise it, reports any
inconsistency in the declared topology before execution begins.
*/
package types
