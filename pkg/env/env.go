package env

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/stackd/stackd/pkg/signals"
	"github.com/stackd/stackd/pkg/types"
)

// refPattern matches ${service.host}, ${service.port} and ${service.addr}
// references inside environment values.
var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9][A-Za-z0-9_-]*)\.(host|port|addr)\}`)

// Injector materializes the final environment for each service: static
// key/value pairs merged with the resolved runtime addresses of the
// services it depends on.
type Injector struct {
	topo  *types.Topology
	board *signals.Board
}

// NewInjector creates an injector for one orchestration run.
func NewInjector(topo *types.Topology, board *signals.Board) *Injector {
	return &Injector{topo: topo, board: board}
}

// Validate checks every address reference in the topology up front: the
// referenced service must be declared, and must be a declared dependency of
// the referencing service. Anything else would bypass the startup ordering
// guarantee, so it fails with ConfigError before any service starts.
func (in *Injector) Validate() error {
	for _, svc := range in.topo.Services {
		deps := make(map[string]bool, len(svc.DependsOn))
		for _, dep := range svc.DependsOn {
			deps[dep] = true
		}
		for key, value := range svc.Environment {
			for _, ref := range references(value) {
				field := fmt.Sprintf("services.%s.environment.%s", svc.Name, key)
				if in.topo.Service(ref) == nil {
					return types.NewConfigError(field,
						fmt.Sprintf("reference to unknown service %q", ref), types.ErrUnknownReference)
				}
				if !deps[ref] {
					return types.NewConfigError(field,
						fmt.Sprintf("reference to %q which is not in depends_on", ref), types.ErrUnknownReference)
				}
			}
		}
	}
	return nil
}

// Render produces the final environment mapping for a service. Address
// references block until the referenced dependency has published its
// runtime address; this is a synchronization point, not a silent default.
// The context bounds the wait.
func (in *Injector) Render(ctx context.Context, svc *types.Service) (map[string]string, error) {
	resolved := make(map[string]signals.Address)

	out := make(map[string]string, len(svc.Environment))
	for key, value := range svc.Environment {
		rendered, err := in.renderValue(ctx, value, resolved)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s for service %s: %w", key, svc.Name, err)
		}
		out[key] = rendered
	}
	return out, nil
}

func (in *Injector) renderValue(ctx context.Context, value string, resolved map[string]signals.Address) (string, error) {
	var renderErr error
	rendered := refPattern.ReplaceAllStringFunc(value, func(match string) string {
		if renderErr != nil {
			return match
		}
		groups := refPattern.FindStringSubmatch(match)
		name, kind := groups[1], groups[2]

		addr, ok := resolved[name]
		if !ok {
			cell, err := in.board.Address(name)
			if err != nil {
				renderErr = err
				return match
			}
			addr, err = cell.Await(ctx)
			if err != nil {
				renderErr = fmt.Errorf("waiting for address of %s: %w", name, err)
				return match
			}
			resolved[name] = addr
		}

		switch kind {
		case "host":
			return addr.Host
		case "port":
			return strconv.Itoa(addr.Port)
		default:
			return addr.String()
		}
	})
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}

func references(value string) []string {
	var refs []string
	for _, m := range refPattern.FindAllStringSubmatch(value, -1) {
		refs = append(refs, m[1])
	}
	return refs
}
