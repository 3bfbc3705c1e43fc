/*
Package metrics exposes Prometheus metrics for the orchestrator.

Metrics are package-level collectors registered at init time and updated
from the orchestrator as runs progress: run outcomes, running service
count, readiness wait times, volume ensure operations and init script
executions. Handler returns the standard promhttp handler for serving
them when a metrics address is configured.
*/
package metrics
