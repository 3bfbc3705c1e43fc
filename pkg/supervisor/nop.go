package supervisor

import (
	"context"
	"sync"

	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

// NopSupervisor pretends to start services without launching anything.
// It backs dry runs and tests: handles get the service's declared address
// and a zero pid, and Stop always succeeds.
type NopSupervisor struct {
	mu      sync.Mutex
	started []string
	stopped []string
}

// NewNopSupervisor creates a no-op supervisor
func NewNopSupervisor() *NopSupervisor {
	return &NopSupervisor{}
}

// Start records the service as started and returns a handle with its
// declared address
func (s *NopSupervisor) Start(ctx context.Context, svc *types.Service, env map[string]string, mounts []volume.Mount) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, svc.Name)
	return &Handle{Service: svc.Name, Address: serviceAddress(svc)}, nil
}

// Stop records the service as stopped
func (s *NopSupervisor) Stop(ctx context.Context, handle *Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = append(s.stopped, handle.Service)
	return nil
}

// Started returns the services started so far, in start order
func (s *NopSupervisor) Started() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.started...)
}

// Stopped returns the services stopped so far, in stop order
func (s *NopSupervisor) Stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.stopped...)
}
