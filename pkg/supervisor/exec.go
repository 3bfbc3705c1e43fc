package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/stackd/stackd/pkg/log"
	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

// DefaultStopTimeout is how long a process gets to exit after SIGTERM
// before it is killed.
const DefaultStopTimeout = 10 * time.Second

// ExecSupervisor runs services as local child processes. Services must
// declare an x-command; the image field is carried for documentation but
// not executed.
type ExecSupervisor struct {
	// StopTimeout bounds the SIGTERM grace period before SIGKILL
	StopTimeout time.Duration
}

// NewExecSupervisor creates a supervisor running services as local processes
func NewExecSupervisor(stopTimeout time.Duration) *ExecSupervisor {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &ExecSupervisor{StopTimeout: stopTimeout}
}

// Start launches the service command with the rendered environment. Each
// volume mount is exposed to the process as STACKD_VOLUME_<NAME> holding
// the mount's source path.
func (s *ExecSupervisor) Start(ctx context.Context, svc *types.Service, env map[string]string, mounts []volume.Mount) (*Handle, error) {
	if len(svc.Command) == 0 {
		return nil, fmt.Errorf("service %s has no command to execute", svc.Name)
	}

	cmd := exec.Command(svc.Command[0], svc.Command[1:]...)
	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}
	for _, mount := range mounts {
		if mount.Name == "" {
			continue
		}
		cmd.Env = append(cmd.Env, mountEnvVar(mount.Name)+"="+mount.Source)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group so a stop signal reaches the service but not us.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start service %s: %w", svc.Name, err)
	}

	handle := &Handle{
		Service: svc.Name,
		Address: serviceAddress(svc),
		PID:     cmd.Process.Pid,
	}
	handle.waiter = &cmdWaiter{cmd: cmd, stopTimeout: s.StopTimeout}

	logger := log.WithService(svc.Name)
	logger.Info().
		Int("pid", handle.PID).
		Str("address", handle.Address.String()).
		Msg("service process started")
	return handle, nil
}

// Stop terminates the service with SIGTERM, escalating to SIGKILL after
// the grace period.
func (s *ExecSupervisor) Stop(ctx context.Context, handle *Handle) error {
	if handle.waiter == nil {
		handle.waiter = &pidWaiter{pid: handle.PID, stopTimeout: s.StopTimeout}
	}
	if err := handle.waiter.stop(ctx); err != nil {
		return fmt.Errorf("failed to stop service %s: %w", handle.Service, err)
	}
	logger := log.WithService(handle.Service)
	logger.Info().Msg("service process stopped")
	return nil
}

// Restore rebuilds a handle for a process started by an earlier
// invocation, identified only by its recorded pid.
func (s *ExecSupervisor) Restore(service string, addr signals.Address, pid int) *Handle {
	return &Handle{
		Service: service,
		Address: addr,
		PID:     pid,
		waiter:  &pidWaiter{pid: pid, stopTimeout: s.StopTimeout},
	}
}

// serviceAddress derives the address dependents should use: localhost plus
// the first published port. Services without published ports get port 0;
// dependents cannot reference them, which validation already guarantees.
func serviceAddress(svc *types.Service) signals.Address {
	addr := signals.Address{Host: "127.0.0.1"}
	if len(svc.Ports) > 0 {
		addr.Port = svc.Ports[0].Published
		if svc.Ports[0].HostIP != "" {
			addr.Host = svc.Ports[0].HostIP
		}
	}
	return addr
}

func mountEnvVar(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.NewReplacer("-", "_", ".", "_").Replace(upper)
	return "STACKD_VOLUME_" + upper
}

// cmdWaiter stops a process this supervisor started itself.
type cmdWaiter struct {
	cmd         *exec.Cmd
	stopTimeout time.Duration
}

func (w *cmdWaiter) stop(ctx context.Context) error {
	if w.cmd.Process == nil {
		return nil
	}

	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		if isProcessDone(err) {
			_ = w.cmd.Wait()
			return nil
		}
		return err
	}

	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case <-done:
		return nil
	case <-time.After(w.stopTimeout):
	case <-ctx.Done():
	}

	_ = w.cmd.Process.Kill()
	<-done
	return nil
}

// pidWaiter stops a process known only by pid, as restored from the
// journal by a later invocation.
type pidWaiter struct {
	pid         int
	stopTimeout time.Duration
}

func (w *pidWaiter) stop(ctx context.Context) error {
	proc, err := os.FindProcess(w.pid)
	if err != nil {
		return nil
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Process already exited.
		return nil
	}

	deadline := time.Now().Add(w.stopTimeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			break
		}
		// Signal 0 probes for existence without delivering anything.
		if err := proc.Signal(syscall.Signal(0)); err != nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	_ = proc.Signal(syscall.SIGKILL)
	return nil
}

func isProcessDone(err error) bool {
	return err == os.ErrProcessDone || strings.Contains(err.Error(), "process already finished")
}
