/*
Package supervisor starts and stops the processes behind orchestrated
services.

ExecSupervisor runs each service's declared command as a local child
process with the rendered environment and volume paths injected, and
stops it with SIGTERM escalating to SIGKILL after a grace period. Handles
carry the service's address and pid; a handle can be restored from a
journaled pid so a later invocation can tear down services started by an
earlier one.

NopSupervisor implements the same interface without launching anything,
for dry runs and tests.
*/
package supervisor
