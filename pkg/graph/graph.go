package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackd/stackd/pkg/types"
)

// CycleError reports that the dependency relation is not acyclic. Services
// holds every member of at least one detected cycle, in walk order.
type CycleError struct {
	Services []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Services, " -> "))
}

// Resolve computes a total startup order over the topology's services such
// that every service appears after all of its dependencies.
//
// The order is deterministic: among services whose dependencies are all
// resolved at a given step, declaration order in the source topology wins,
// not map iteration order. Returns a CycleError when no valid order exists.
func Resolve(topo *types.Topology) ([]string, error) {
	index := make(map[string]int, len(topo.Services))
	indegree := make(map[string]int, len(topo.Services))
	dependents := make(map[string][]string, len(topo.Services))

	for _, svc := range topo.Services {
		index[svc.Name] = svc.Index
		indegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Kahn's algorithm with a declaration-order frontier.
	var frontier []string
	for _, svc := range topo.Services {
		if indegree[svc.Name] == 0 {
			frontier = append(frontier, svc.Name)
		}
	}

	order := make([]string, 0, len(topo.Services))
	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool {
			return index[frontier[i]] < index[frontier[j]]
		})
		next := frontier[0]
		frontier = frontier[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}

	if len(order) != len(topo.Services) {
		return nil, &CycleError{Services: findCycle(topo, indegree)}
	}
	return order, nil
}

// findCycle walks the unresolved remainder of the graph and returns the
// members of one cycle. Every node left with a positive indegree sits on or
// downstream of a cycle, so following dependencies from any of them must
// loop.
func findCycle(topo *types.Topology, indegree map[string]int) []string {
	remaining := make(map[string]bool)
	var start string
	for _, svc := range topo.Services {
		if indegree[svc.Name] > 0 {
			remaining[svc.Name] = true
			if start == "" {
				start = svc.Name
			}
		}
	}

	seen := make(map[string]int) // name -> position in walk
	var walk []string
	cur := start
	for {
		if pos, ok := seen[cur]; ok {
			return walk[pos:]
		}
		seen[cur] = len(walk)
		walk = append(walk, cur)

		svc := topo.Service(cur)
		next := ""
		for _, dep := range svc.DependsOn {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Should not happen: a remaining node always has a remaining
			// dependency. Bail out with what we have.
			return walk
		}
		cur = next
	}
}
