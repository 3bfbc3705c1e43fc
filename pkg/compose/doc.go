/*
Package compose parses topology descriptions written in Compose YAML into
the stackd domain model, and serializes them back.

Parsing is delegated to compose-go for the heavy lifting (schema shapes,
short/long mount syntax, port strings), then converted into types.Topology
with two stackd-specific behaviors layered on top:

  - Declaration order of services and volumes is recovered from the raw
    document; the dependency resolver uses it as a deterministic tie-break.
  - Interpolation is disabled so ${service.host}, ${service.port} and
    ${service.addr} references in environment values reach the
    configuration injector verbatim.

Three extension fields are understood:

	services.<name>.x-command       local run command for the exec supervisor
	services.<name>.x-readiness     probe type/target/timeout/interval
	volumes.<name>.x-init-scripts   ordered one-time bootstrap scripts

Validate enforces the topology invariants: no duplicate service or volume
names, no self-dependencies, no references to undeclared services or
volumes. All failures are *types.ConfigError and occur before any service
is started. Cycle detection is deliberately not done here; the resolver
owns it and reports it as a distinct error class.

Marshal round-trips: parsing and re-serializing preserves all declared
fields and declaration order.
*/
package compose
