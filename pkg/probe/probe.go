package probe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/types"
)

// Result represents the outcome of a single readiness probe
type Result struct {
	Ready     bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Prober is the interface that all readiness probers implement
type Prober interface {
	// Probe performs one readiness check and returns the result
	Probe(ctx context.Context) Result

	// Type returns the probe type
	Type() types.ProbeType
}

// DefaultInterval is the polling interval used when a readiness spec does
// not set one.
const DefaultInterval = 250 * time.Millisecond

// New builds a prober for the service's readiness spec against the address
// it actually bound. The target field refines the probe: for TCP an
// alternate host:port, for HTTP a path (or full URL) on the service.
func New(spec *types.ReadinessSpec, addr signals.Address) (Prober, error) {
	switch spec.Type {
	case types.ProbeTCP:
		target := addr.String()
		if spec.Target != "" {
			target = spec.Target
		}
		return NewTCPProber(target), nil
	case types.ProbeHTTP:
		url := "http://" + addr.String()
		if strings.HasPrefix(spec.Target, "http://") || strings.HasPrefix(spec.Target, "https://") {
			url = spec.Target
		} else if spec.Target != "" {
			url += "/" + strings.TrimPrefix(spec.Target, "/")
		}
		return NewHTTPProber(url), nil
	default:
		return nil, fmt.Errorf("unsupported probe type: %s", spec.Type)
	}
}

// Wait polls the prober at the given interval until it reports ready or
// the context expires. It probes once immediately before waiting.
func Wait(ctx context.Context, p Prober, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result := p.Probe(ctx)
		if result.Ready {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("readiness not reached: %s: %w", result.Message, ctx.Err())
		case <-ticker.C:
		}
	}
}
