package initrun

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/stackd/stackd/pkg/log"
	"github.com/stackd/stackd/pkg/types"
	"github.com/stackd/stackd/pkg/volume"
)

// markerSubdir is where completion markers live inside a volume's metadata
// directory. A marker's presence is the durable record that the script ran
// to completion.
const markerSubdir = "init"

// ScriptError reports a failed init script. It is fatal to the owning
// service's startup and is not retried automatically; re-running the
// orchestration resumes from this script.
type ScriptError struct {
	Volume string
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("init script %s on volume %s failed: %v", e.Script, e.Volume, e.Err)
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Executor runs a single init script against a service. The default
// executor runs the script's command locally; tests substitute fakes.
type Executor interface {
	Exec(ctx context.Context, svc *types.Service, script *types.InitScript) error
}

// Runner executes a volume's init scripts in declared order, at most once
// per volume lifetime, resumably.
type Runner struct {
	exec Executor
}

// NewRunner creates a runner backed by the given executor.
func NewRunner(exec Executor) *Runner {
	return &Runner{exec: exec}
}

type marker struct {
	Script      string    `json:"script"`
	CompletedAt time.Time `json:"completed_at"`
}

// Pending returns the scripts not yet marked complete in the volume, in
// declared order. A fresh volume has everything pending; a fully
// initialized one has nothing.
func (r *Runner) Pending(volPath string, vol *types.Volume) ([]*types.InitScript, error) {
	var pending []*types.InitScript
	for _, script := range vol.InitScripts {
		done, err := completed(volPath, script.Name)
		if err != nil {
			return nil, err
		}
		if !done {
			pending = append(pending, script)
		}
	}
	return pending, nil
}

// Run executes every pending script for the volume, in declared order.
// Each script's completion is recorded durably in the volume before the
// next script starts, so a crash mid-sequence resumes from the first
// unrecorded script on the next orchestration. A failed script stops the
// sequence without writing its marker.
func (r *Runner) Run(ctx context.Context, svc *types.Service, vol *types.Volume, volPath string) error {
	pending, err := r.Pending(volPath, vol)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	logger := log.WithVolume(vol.Name)
	skipped := len(vol.InitScripts) - len(pending)
	if skipped > 0 {
		logger.Info().Int("completed", skipped).Msg("resuming init, skipping completed scripts")
	}

	for _, script := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		logger.Info().Str("script", script.Name).Msg("running init script")

		if err := r.exec.Exec(ctx, svc, script); err != nil {
			return &ScriptError{Volume: vol.Name, Script: script.Name, Err: err}
		}
		if err := markComplete(volPath, script.Name); err != nil {
			return &ScriptError{Volume: vol.Name, Script: script.Name, Err: err}
		}
		logger.Info().Str("script", script.Name).Msg("init script completed")
	}
	return nil
}

func markerPath(volPath, script string) string {
	return filepath.Join(volPath, volume.MetaDir, markerSubdir, script+".done")
}

func completed(volPath, script string) (bool, error) {
	_, err := os.Stat(markerPath(volPath, script))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read init marker: %w", err)
	}
	return true, nil
}

func markComplete(volPath, script string) error {
	dir := filepath.Join(volPath, volume.MetaDir, markerSubdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	data, err := json.Marshal(marker{Script: script, CompletedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to encode marker: %w", err)
	}

	// Write-then-rename so a crash never leaves a partial marker behind.
	tmp := markerPath(volPath, script) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write marker: %w", err)
	}
	if err := os.Rename(tmp, markerPath(volPath, script)); err != nil {
		return fmt.Errorf("failed to commit marker: %w", err)
	}
	return nil
}

// LocalExecutor runs init script commands as local processes, with the
// volume path exposed to the command via STACKD_VOLUME_PATH.
type LocalExecutor struct {
	VolumePath string
	Env        []string
}

// Exec runs the script command and waits for it to finish.
func (e *LocalExecutor) Exec(ctx context.Context, svc *types.Service, script *types.InitScript) error {
	if len(script.Command) == 0 {
		return fmt.Errorf("init script %s has no command", script.Name)
	}

	cmd := exec.CommandContext(ctx, script.Command[0], script.Command[1:]...)
	cmd.Env = append(os.Environ(), e.Env...)
	if e.VolumePath != "" {
		cmd.Env = append(cmd.Env, "STACKD_VOLUME_PATH="+e.VolumePath)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command failed: %w", err)
	}
	return nil
}
