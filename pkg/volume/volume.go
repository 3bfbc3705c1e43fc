package volume

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stackd/stackd/pkg/log"
	"github.com/stackd/stackd/pkg/types"
)

// MetaDir is the directory inside a volume reserved for stackd metadata:
// the volume identity record and init script completion markers. It shares
// the volume's lifecycle exactly.
const MetaDir = ".stackd"

// VolumeError reports a storage backend failure after retries were
// exhausted. It is fatal to the affected service's startup.
type VolumeError struct {
	Volume string
	Op     string
	Err    error
}

func (e *VolumeError) Error() string {
	return fmt.Sprintf("volume %s: %s failed: %v", e.Volume, e.Op, e.Err)
}

func (e *VolumeError) Unwrap() error {
	return e.Err
}

// Info describes an ensured volume: its stable identity, the host path it
// attaches at, and whether this call created it.
type Info struct {
	ID      string
	Path    string
	Created bool
}

// Mount is a resolved bind of a host path into a service's filesystem
// namespace. Name is the declared volume name (empty for plain binds).
type Mount struct {
	Name     string
	Source   string
	Target   string
	ReadOnly bool
}

// Manager is a thin policy layer over a storage backend Driver. It
// guarantees volumes are created exactly once, reused unchanged across
// restarts, and never silently recreated.
type Manager struct {
	driver Driver

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	maxRetries    uint64
	retryInterval time.Duration
}

// NewManager creates a volume manager. Backend failures during Ensure are
// retried up to maxRetries times with exponential backoff before being
// surfaced as a VolumeError.
func NewManager(driver Driver, maxRetries uint64) *Manager {
	return &Manager{
		driver:        driver,
		locks:         make(map[string]*sync.Mutex),
		maxRetries:    maxRetries,
		retryInterval: 100 * time.Millisecond,
	}
}

// lockFor returns the mutex serializing operations on one volume, so
// concurrent Ensure calls for the same volume perform exactly one creation.
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// Ensure makes sure the named volume exists: created if missing, reused
// unchanged if present. The second call for an existing volume is a no-op
// returning the same identity. Recreation requires an explicit Remove
// followed by Ensure.
func (m *Manager) Ensure(ctx context.Context, v *types.Volume) (Info, error) {
	lock := m.lockFor(v.Name)
	lock.Lock()
	defer lock.Unlock()

	logger := log.WithVolume(v.Name)

	var info Info
	op := func() error {
		exists, err := m.driver.Exists(v)
		if err != nil {
			return err
		}
		if exists {
			id, err := m.driver.Identity(v)
			if err != nil {
				return err
			}
			info = Info{ID: id, Path: m.driver.Path(v), Created: false}
			return nil
		}
		id, err := m.driver.Create(v)
		if err != nil {
			return err
		}
		info = Info{ID: id, Path: m.driver.Path(v), Created: true}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.retryInterval
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, m.maxRetries), ctx)); err != nil {
		return Info{}, &VolumeError{Volume: v.Name, Op: "ensure", Err: err}
	}

	v.ID = info.ID
	if info.Created {
		logger.Info().Str("path", info.Path).Msg("volume created")
	} else {
		logger.Debug().Str("path", info.Path).Msg("volume reused")
	}
	return info, nil
}

// Remove destroys the named volume and all its data. This is the only
// destructive path; Ensure never removes anything.
func (m *Manager) Remove(ctx context.Context, v *types.Volume) error {
	lock := m.lockFor(v.Name)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.driver.Remove(v); err != nil {
		return &VolumeError{Volume: v.Name, Op: "remove", Err: err}
	}
	logger := log.WithVolume(v.Name)
	logger.Info().Msg("volume removed")
	return nil
}

// Path returns the host attach path for a volume.
func (m *Manager) Path(v *types.Volume) string {
	return m.driver.Path(v)
}
