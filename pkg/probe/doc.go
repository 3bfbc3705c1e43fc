/*
Package probe implements readiness probing for orchestrated services.

A service is not considered up until its readiness probe passes; dependents
are gated on that signal rather than on process start. Two probe types are
supported:

  - TCP: the service's port accepts a connection
  - HTTP: an endpoint on the service answers with a 2xx/3xx status

Probers implement a common interface so the orchestrator can poll them
uniformly:

	type Prober interface {
		Probe(ctx context.Context) Result
		Type() types.ProbeType
	}

Wait polls a prober until it reports ready or the deadline on the context
expires. Services that declare no readiness probe are considered ready as
soon as their process starts.
*/
package probe
