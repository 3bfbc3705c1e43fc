/*
Package orchestrator drives a topology through its lifecycle.

A Run is one orchestration attempt over a parsed topology. Construction
validates everything that can fail statically (dangling references,
dependency cycles, unknown address references); Up then brings services to
running concurrently, each gated on its dependencies:

	pending → config-injected → volumes-ready → starting
	        → [initializing] → running

Dependents wait on the running signal, not on process start: a service
with a readiness probe holds its dependents until the probe passes, and a
freshly created volume's init scripts run to completion before the owning
service counts as running. The first failure cancels everything in flight
and tears down already-started services in reverse start order; Down does
the same for a healthy run.

Progress is journaled to the store and published on the event broker, so
a later invocation can restore handles from the journal and tear down
services started by an earlier one.
*/
package orchestrator
