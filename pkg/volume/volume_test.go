package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stackd/stackd/pkg/types"
)

// countingDriver wraps a driver and counts Create calls; it can also fail
// a configured number of times to exercise the retry policy.
type countingDriver struct {
	inner        Driver
	mu           sync.Mutex
	creates      int
	failuresLeft int
}

func (d *countingDriver) Exists(v *types.Volume) (bool, error) { return d.inner.Exists(v) }

func (d *countingDriver) Create(v *types.Volume) (string, error) {
	d.mu.Lock()
	if d.failuresLeft > 0 {
		d.failuresLeft--
		d.mu.Unlock()
		return "", fmt.Errorf("backend unavailable")
	}
	d.creates++
	d.mu.Unlock()
	return d.inner.Create(v)
}

func (d *countingDriver) Identity(v *types.Volume) (string, error) { return d.inner.Identity(v) }
func (d *countingDriver) Path(v *types.Volume) string              { return d.inner.Path(v) }
func (d *countingDriver) Remove(v *types.Volume) error             { return d.inner.Remove(v) }

func (d *countingDriver) createCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.creates
}

func newTestManager(t *testing.T, failures int) (*Manager, *countingDriver) {
	t.Helper()
	local, err := NewLocalDriver(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}
	driver := &countingDriver{inner: local, failuresLeft: failures}
	m := NewManager(driver, 3)
	m.retryInterval = 1 // keep test backoff tight
	return m, driver
}

func TestManager_EnsureIdempotent(t *testing.T) {
	m, driver := newTestManager(t, 0)
	vol := &types.Volume{Name: "db-data", Driver: "local"}

	first, err := m.Ensure(context.Background(), vol)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}
	if !first.Created {
		t.Error("first Ensure() should create the volume")
	}
	if first.ID == "" {
		t.Error("Ensure() returned empty identity")
	}

	second, err := m.Ensure(context.Background(), vol)
	if err != nil {
		t.Fatalf("second Ensure() error = %v", err)
	}
	if second.Created {
		t.Error("second Ensure() must not recreate the volume")
	}
	if second.ID != first.ID {
		t.Errorf("second Ensure() identity = %s, want %s", second.ID, first.ID)
	}
	if driver.createCount() != 1 {
		t.Errorf("Create called %d times, want 1", driver.createCount())
	}
}

func TestManager_EnsureConcurrent(t *testing.T) {
	m, driver := newTestManager(t, 0)
	vol := &types.Volume{Name: "shared", Driver: "local"}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Ensure(context.Background(), vol); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Ensure() error = %v", err)
	}
	if driver.createCount() != 1 {
		t.Errorf("Create called %d times under concurrency, want 1", driver.createCount())
	}
}

func TestManager_EnsureRetriesTransientFailure(t *testing.T) {
	m, driver := newTestManager(t, 2)
	vol := &types.Volume{Name: "flaky", Driver: "local"}

	info, err := m.Ensure(context.Background(), vol)
	if err != nil {
		t.Fatalf("Ensure() should recover from transient failures, got %v", err)
	}
	if !info.Created {
		t.Error("Ensure() should report creation after retries")
	}
	if driver.createCount() != 1 {
		t.Errorf("Create succeeded %d times, want 1", driver.createCount())
	}
}

func TestManager_EnsureExhaustsRetries(t *testing.T) {
	m, _ := newTestManager(t, 100)
	vol := &types.Volume{Name: "dead", Driver: "local"}

	_, err := m.Ensure(context.Background(), vol)
	if err == nil {
		t.Fatal("Ensure() should fail once retries are exhausted")
	}

	var volErr *VolumeError
	if !errors.As(err, &volErr) {
		t.Fatalf("Ensure() error = %T, want *VolumeError", err)
	}
	if volErr.Volume != "dead" {
		t.Errorf("VolumeError.Volume = %s, want dead", volErr.Volume)
	}
}

func TestManager_RemoveThenEnsureCreatesFresh(t *testing.T) {
	m, _ := newTestManager(t, 0)
	vol := &types.Volume{Name: "db-data", Driver: "local"}

	first, err := m.Ensure(context.Background(), vol)
	if err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	if err := m.Remove(context.Background(), vol); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	again, err := m.Ensure(context.Background(), vol)
	if err != nil {
		t.Fatalf("Ensure() after Remove error = %v", err)
	}
	if !again.Created {
		t.Error("Ensure() after explicit Remove should create")
	}
	if again.ID == first.ID {
		t.Error("recreated volume must have a new identity")
	}
}
