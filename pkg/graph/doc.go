/*
Package graph resolves the startup order of a topology's services.

The dependency relation among services forms a directed acyclic graph. This
package computes a total order (topological sort) over it such that every
service appears after all of its dependencies, using Kahn's algorithm over
an explicit adjacency index rather than interlinked object references.

Two guarantees matter to callers:

  - Determinism: ties between services whose dependencies are all resolved
    are broken by declaration order in the source topology, so repeated runs
    on the same input produce the same order.
  - Cycle detection: when no valid order exists, Resolve returns a
    CycleError naming the services participating in one cycle. This happens
    before any service is started.

The result is computed once per orchestration run and cached by the caller.
*/
package graph
