package env

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/types"
)

func testTopology() *types.Topology {
	return &types.Topology{
		Name: "test",
		Services: []*types.Service{
			{
				Name:      "web",
				DependsOn: []string{"database"},
				Environment: map[string]string{
					"DB_HOST":   "${database.host}",
					"DB_PORT":   "${database.port}",
					"DB_ADDR":   "${database.addr}",
					"LOG_LEVEL": "info",
				},
				Index: 0,
			},
			{Name: "database", Index: 1},
		},
	}
}

func TestInjector_Render(t *testing.T) {
	topo := testTopology()
	board := signals.NewBoard(topo.ServiceNames())

	cell, err := board.Address("database")
	if err != nil {
		t.Fatalf("Address() error = %v", err)
	}
	cell.Publish(signals.Address{Host: "127.0.0.1", Port: 3306})

	in := NewInjector(topo, board)
	env, err := in.Render(context.Background(), topo.Service("web"))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	want := map[string]string{
		"DB_HOST":   "127.0.0.1",
		"DB_PORT":   "3306",
		"DB_ADDR":   "127.0.0.1:3306",
		"LOG_LEVEL": "info",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("env[%s] = %q, want %q", k, env[k], v)
		}
	}
}

func TestInjector_RenderBlocksUntilPublished(t *testing.T) {
	topo := testTopology()
	board := signals.NewBoard(topo.ServiceNames())
	in := NewInjector(topo, board)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cell, _ := board.Address("database")
		cell.Publish(signals.Address{Host: "10.0.0.5", Port: 3306})
	}()

	start := time.Now()
	env, err := in.Render(context.Background(), topo.Service("web"))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Render() returned before the dependency address was published")
	}
	if env["DB_HOST"] != "10.0.0.5" {
		t.Errorf("env[DB_HOST] = %q, want 10.0.0.5", env["DB_HOST"])
	}
}

func TestInjector_RenderCancelled(t *testing.T) {
	topo := testTopology()
	board := signals.NewBoard(topo.ServiceNames())
	in := NewInjector(topo, board)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := in.Render(ctx, topo.Service("web"))
	if err == nil {
		t.Fatal("Render() with unpublished dependency and expired context should error")
	}
}

func TestInjector_ValidateUnknownService(t *testing.T) {
	topo := &types.Topology{
		Services: []*types.Service{
			{
				Name:        "web",
				Environment: map[string]string{"CACHE": "${redis.addr}"},
			},
		},
	}
	in := NewInjector(topo, signals.NewBoard(topo.ServiceNames()))

	err := in.Validate()
	if err == nil {
		t.Fatal("Validate() should reject reference to unknown service")
	}
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Validate() error = %T, want *types.ConfigError", err)
	}
	if !errors.Is(err, types.ErrUnknownReference) {
		t.Errorf("Validate() error does not wrap ErrUnknownReference: %v", err)
	}
}

func TestInjector_ValidateNonDependencyReference(t *testing.T) {
	topo := &types.Topology{
		Services: []*types.Service{
			{
				Name:        "web",
				Environment: map[string]string{"DB": "${database.host}"},
			},
			{Name: "database", Index: 1},
		},
	}
	in := NewInjector(topo, signals.NewBoard(topo.ServiceNames()))

	err := in.Validate()
	if err == nil {
		t.Fatal("Validate() should reject reference to a non-dependency")
	}
}

func TestInjector_ValidateOK(t *testing.T) {
	topo := testTopology()
	in := NewInjector(topo, signals.NewBoard(topo.ServiceNames()))
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
