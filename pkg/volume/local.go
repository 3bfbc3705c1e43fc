package volume

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/stackd/stackd/pkg/types"
)

const (
	// DefaultVolumesPath is the base directory for local volumes
	DefaultVolumesPath = "/var/lib/stackd/volumes"

	identityFile = "volume.json"
)

// Driver defines the storage backend primitives the manager builds policy
// on: existence check, create, attach path, remove, and a stable identity
// that survives restarts.
type Driver interface {
	// Exists reports whether the volume's backing storage is present.
	Exists(v *types.Volume) (bool, error)

	// Create provisions backing storage and returns the volume identity.
	Create(v *types.Volume) (string, error)

	// Identity returns the identity assigned when the volume was created.
	Identity(v *types.Volume) (string, error)

	// Path returns the host path the volume attaches at.
	Path(v *types.Volume) string

	// Remove destroys the volume and its data.
	Remove(v *types.Volume) error
}

// LocalDriver implements a simple directory-backed volume driver. The
// volume identity is recorded in a metadata file inside the volume so it
// persists for the volume's lifetime.
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a new local volume driver
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}

	return &LocalDriver{basePath: basePath}, nil
}

type volumeIdentity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Exists reports whether the volume directory is present.
func (d *LocalDriver) Exists(v *types.Volume) (bool, error) {
	_, err := os.Stat(d.Path(v))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat volume directory: %w", err)
	}
	return true, nil
}

// Create creates the volume directory and records its identity.
func (d *LocalDriver) Create(v *types.Volume) (string, error) {
	volumePath := d.Path(v)

	metaPath := filepath.Join(volumePath, MetaDir)
	if err := os.MkdirAll(metaPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create volume directory: %w", err)
	}

	identity := volumeIdentity{
		ID:        uuid.New().String(),
		Name:      v.Name,
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(identity)
	if err != nil {
		return "", fmt.Errorf("failed to encode volume identity: %w", err)
	}
	if err := os.WriteFile(filepath.Join(metaPath, identityFile), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write volume identity: %w", err)
	}

	return identity.ID, nil
}

// Identity reads back the identity recorded at creation.
func (d *LocalDriver) Identity(v *types.Volume) (string, error) {
	data, err := os.ReadFile(filepath.Join(d.Path(v), MetaDir, identityFile))
	if err != nil {
		return "", fmt.Errorf("failed to read volume identity: %w", err)
	}
	var identity volumeIdentity
	if err := json.Unmarshal(data, &identity); err != nil {
		return "", fmt.Errorf("failed to decode volume identity: %w", err)
	}
	return identity.ID, nil
}

// Path returns the host path for a volume.
func (d *LocalDriver) Path(v *types.Volume) string {
	return filepath.Join(d.basePath, v.Name)
}

// Remove deletes the volume directory and all contents.
func (d *LocalDriver) Remove(v *types.Volume) error {
	volumePath := d.Path(v)

	if _, err := os.Stat(volumePath); os.IsNotExist(err) {
		return nil // Already removed
	}

	if err := os.RemoveAll(volumePath); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}
	return nil
}
