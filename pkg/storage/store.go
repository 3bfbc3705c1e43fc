package storage

import (
	"time"

	"github.com/stackd/stackd/pkg/types"
)

// RunStatus is the overall status of a recorded orchestration run.
type RunStatus string

const (
	RunStatusStarted   RunStatus = "started"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
)

// RunRecord describes one orchestration run.
type RunRecord struct {
	ID         string    `json:"id"`
	Topology   string    `json:"topology"`
	File       string    `json:"file"`
	Status     RunStatus `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// ServiceRecord captures a service's last observed state within a run,
// with enough supervisor detail (address, pid) to tear it down from a
// later process.
type ServiceRecord struct {
	RunID     string             `json:"run_id"`
	Name      string             `json:"name"`
	State     types.ServiceState `json:"state"`
	Address   string             `json:"address,omitempty"`
	PID       int                `json:"pid,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// VolumeRecord tracks an ensured volume.
type VolumeRecord struct {
	Name      string    `json:"name"`
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists orchestration runs, service states and volume records so
// a later invocation can inspect or tear down what an earlier one started.
type Store interface {
	SaveRun(run *RunRecord) error
	GetRun(id string) (*RunRecord, error)
	LatestRun() (*RunRecord, error)

	SaveServiceState(rec *ServiceRecord) error
	ListServiceStates(runID string) ([]*ServiceRecord, error)

	SaveVolume(rec *VolumeRecord) error
	GetVolume(name string) (*VolumeRecord, error)
	DeleteVolume(name string) error

	Close() error
}
