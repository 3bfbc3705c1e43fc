package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/stackd/stackd/pkg/types"
)

// TCPProber reports a service ready once its TCP port accepts connections
type TCPProber struct {
	// Address is the TCP address to connect to (e.g., "127.0.0.1:3306")
	Address string

	// Timeout is the connection timeout per attempt (default: 5 seconds)
	Timeout time.Duration
}

// NewTCPProber creates a new TCP readiness prober
func NewTCPProber(address string) *TCPProber {
	return &TCPProber{
		Address: address,
		Timeout: 5 * time.Second,
	}
}

// Probe attempts one TCP connection
func (t *TCPProber) Probe(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{
		Timeout: t.Timeout,
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{
			Ready:     false,
			Message:   fmt.Sprintf("connection failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer conn.Close()

	return Result{
		Ready:     true,
		Message:   fmt.Sprintf("TCP connection to %s successful", t.Address),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (t *TCPProber) Type() types.ProbeType {
	return types.ProbeTCP
}

// WithTimeout sets the connection timeout
func (t *TCPProber) WithTimeout(timeout time.Duration) *TCPProber {
	t.Timeout = timeout
	return t
}
