package supervisor

import (
	"context"

	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

// Handle identifies a started service process. It carries enough detail
// (address, pid) to probe and stop the service, including from a process
// other than the one that started it.
type Handle struct {
	Service string
	Address signals.Address
	PID     int

	waiter waiter
}

// waiter is how a handle stops the process it tracks. In-process handles
// wrap the exec.Cmd; restored handles only know the pid.
type waiter interface {
	stop(ctx context.Context) error
}

// Supervisor starts and stops service processes
type Supervisor interface {
	// Start launches the service with the rendered environment and volume
	// mounts and returns a handle for it
	Start(ctx context.Context, svc *types.Service, env map[string]string, mounts []volume.Mount) (*Handle, error)

	// Stop terminates the service behind the handle
	Stop(ctx context.Context, handle *Handle) error
}
