/*
Package signals provides the synchronization primitives that connect the
orchestrator to its external collaborators.

Supervisors deliver runtime addresses and probes deliver readiness as
one-shot notifications. Rather than callback chains, each service gets
single-assignment cells the orchestrator can await:

  - AddressCell: the host/port assigned once the supervisor starts the
    service. The configuration injector awaits it when a dependent service
    references the address.
  - FlagCell: a one-shot boolean used for both the external readiness
    signal and the orchestrator's own running transition that gates
    dependents.

A Board groups the cells for one orchestration run, allocated up front for
every declared service. All Await methods honor context cancellation, which
is how orchestration-wide aborts propagate into pending waits.
*/
package signals
