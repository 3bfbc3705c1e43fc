package signals

import (
	"context"
	"testing"
	"time"
)

func TestAddressCell_PublishAwait(t *testing.T) {
	cell := newAddressCell()

	go func() {
		time.Sleep(10 * time.Millisecond)
		cell.Publish(Address{Host: "127.0.0.1", Port: 5432})
	}()

	addr, err := cell.Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if addr.String() != "127.0.0.1:5432" {
		t.Errorf("Await() = %v, want 127.0.0.1:5432", addr)
	}
}

func TestAddressCell_SingleAssignment(t *testing.T) {
	cell := newAddressCell()
	cell.Publish(Address{Host: "a", Port: 1})
	cell.Publish(Address{Host: "b", Port: 2})

	addr, ok := cell.Get()
	if !ok {
		t.Fatal("Get() ok = false after Publish")
	}
	if addr.Host != "a" || addr.Port != 1 {
		t.Errorf("Get() = %v, want first published address", addr)
	}
}

func TestAddressCell_AwaitCancelled(t *testing.T) {
	cell := newAddressCell()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := cell.Await(ctx)
	if err == nil {
		t.Fatal("Await() on unpublished cell with expired context should error")
	}
}

func TestFlagCell_SetAwait(t *testing.T) {
	cell := newFlagCell()

	if cell.IsSet() {
		t.Error("IsSet() = true before Set")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cell.Set()
	}()

	if err := cell.Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if !cell.IsSet() {
		t.Error("IsSet() = false after Set")
	}

	// Set is idempotent.
	cell.Set()
}

func TestBoard_Cells(t *testing.T) {
	board := NewBoard([]string{"web", "database"})

	if _, err := board.Address("web"); err != nil {
		t.Errorf("Address(web) error = %v", err)
	}
	if _, err := board.Ready("database"); err != nil {
		t.Errorf("Ready(database) error = %v", err)
	}
	if _, err := board.Running("database"); err != nil {
		t.Errorf("Running(database) error = %v", err)
	}
	if _, err := board.Address("unknown"); err == nil {
		t.Error("Address(unknown) should return error")
	}
}
