package signals

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Address is the runtime network address assigned to a started service by
// the process supervisor.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// AddressCell is a single-assignment cell holding a service's runtime
// address. The first Publish wins; later calls are no-ops. Await suspends
// the caller until the address is published or the context ends.
type AddressCell struct {
	mu   sync.Mutex
	done chan struct{}
	addr Address
	set  bool
}

func newAddressCell() *AddressCell {
	return &AddressCell{done: make(chan struct{})}
}

// Publish assigns the address. Only the first call has an effect.
func (c *AddressCell) Publish(addr Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.set {
		return
	}
	c.addr = addr
	c.set = true
	close(c.done)
}

// Await blocks until the address is published or ctx is done.
func (c *AddressCell) Await(ctx context.Context) (Address, error) {
	select {
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.addr, nil
	case <-ctx.Done():
		return Address{}, ctx.Err()
	}
}

// Get returns the address without blocking.
func (c *AddressCell) Get() (Address, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr, c.set
}

// FlagCell is a one-shot boolean signal (readiness, running). Set is
// idempotent; Await suspends until the flag is raised or ctx ends.
type FlagCell struct {
	once sync.Once
	done chan struct{}
}

func newFlagCell() *FlagCell {
	return &FlagCell{done: make(chan struct{})}
}

// Set raises the flag. Only the first call has an effect.
func (c *FlagCell) Set() {
	c.once.Do(func() { close(c.done) })
}

// Await blocks until the flag is raised or ctx is done.
func (c *FlagCell) Await(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSet reports whether the flag has been raised.
func (c *FlagCell) IsSet() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Board holds the per-service signal cells for one orchestration run:
// the supervisor-reported address, the external readiness signal, and the
// orchestrator-owned running transition. Cells are allocated up front for
// every declared service so lookups never race with creation.
type Board struct {
	addresses map[string]*AddressCell
	ready     map[string]*FlagCell
	running   map[string]*FlagCell
}

// NewBoard creates a board with cells for each named service.
func NewBoard(services []string) *Board {
	b := &Board{
		addresses: make(map[string]*AddressCell, len(services)),
		ready:     make(map[string]*FlagCell, len(services)),
		running:   make(map[string]*FlagCell, len(services)),
	}
	for _, name := range services {
		b.addresses[name] = newAddressCell()
		b.ready[name] = newFlagCell()
		b.running[name] = newFlagCell()
	}
	return b
}

// Address returns the address cell for a service.
func (b *Board) Address(service string) (*AddressCell, error) {
	c, ok := b.addresses[service]
	if !ok {
		return nil, fmt.Errorf("no address cell for service %q", service)
	}
	return c, nil
}

// Ready returns the readiness cell for a service.
func (b *Board) Ready(service string) (*FlagCell, error) {
	c, ok := b.ready[service]
	if !ok {
		return nil, fmt.Errorf("no readiness cell for service %q", service)
	}
	return c, nil
}

// Running returns the running cell for a service.
func (b *Board) Running(service string) (*FlagCell, error) {
	c, ok := b.running[service]
	if !ok {
		return nil, fmt.Errorf("no running cell for service %q", service)
	}
	return c, nil
}
