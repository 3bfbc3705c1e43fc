package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stackd/stackd/pkg/types"
)

// HTTPProber reports a service ready once an HTTP endpoint answers with a
// non-error status
type HTTPProber struct {
	// URL is the full HTTP URL to probe (e.g., "http://127.0.0.1:8080/health")
	URL string

	// ExpectedStatusMin is the minimum acceptable HTTP status code (default: 200)
	ExpectedStatusMin int

	// ExpectedStatusMax is the maximum acceptable HTTP status code (default: 399)
	ExpectedStatusMax int

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client
}

// NewHTTPProber creates a new HTTP readiness prober
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{
		URL:               url,
		ExpectedStatusMin: 200,
		ExpectedStatusMax: 399,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Probe performs one HTTP request
func (h *HTTPProber) Probe(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Ready:     false,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Ready:     false,
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	ready := resp.StatusCode >= h.ExpectedStatusMin && resp.StatusCode <= h.ExpectedStatusMax

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if !ready {
		message = fmt.Sprintf("%s (expected %d-%d)", message, h.ExpectedStatusMin, h.ExpectedStatusMax)
	}

	return Result{
		Ready:     ready,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Type returns the probe type
func (h *HTTPProber) Type() types.ProbeType {
	return types.ProbeHTTP
}

// WithStatusRange sets the expected status code range
func (h *HTTPProber) WithStatusRange(min, max int) *HTTPProber {
	h.ExpectedStatusMin = min
	h.ExpectedStatusMax = max
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPProber) WithTimeout(timeout time.Duration) *HTTPProber {
	h.Client.Timeout = timeout
	return h
}
