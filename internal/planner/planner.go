// Package planner implements the Execution Planner (C7): Kahn's
// topological sort over a project's confirmed dependency edges,
// producing both a linear order and layered batches for the level-
// parallel Run Executor.
//
// This is hand-rolled rather than delegated to a third-party graph
// library: no topological-sort package appears anywhere in the
// retrieval pack, and the algorithm itself is small enough that pulling
// in a dependency for it would not exercise any concern the pack
// otherwise demonstrates a library for. See DESIGN.md for the full
// justification of this one intentionally stdlib-only component.
package planner

import (
	"context"
	"fmt"
	"sort"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// Plan is the result of a successful topological sort.
type Plan struct {
	SortedOrder []catalog.Api
	Levels      [][]catalog.Api
}

// Plan builds the dependency graph for projectID from confirmed
// ApiDependency edges and every Api in the project (even isolated ones),
// then runs Kahn's algorithm. Returns catalog.ErrCycleDetected if the
// graph is not fully orderable.
func Plan(ctx context.Context, store catalog.Store, projectID string) (Plan, error) {
	apis, err := store.ListApisByProject(ctx, projectID)
	if err != nil {
		return Plan{}, fmt.Errorf("list apis: %w", err)
	}
	deps, err := store.ListDependenciesByProject(ctx, projectID)
	if err != nil {
		return Plan{}, fmt.Errorf("list dependencies: %w", err)
	}

	byID := make(map[string]catalog.Api, len(apis))
	for _, a := range apis {
		byID[a.ID] = a
	}

	adjacency := make(map[string][]string)
	inDegree := make(map[string]int, len(apis))
	for _, a := range apis {
		inDegree[a.ID] = 0
	}
	for _, d := range deps {
		if _, ok := byID[d.SourceApiRef]; !ok {
			continue
		}
		if _, ok := byID[d.TargetApiRef]; !ok {
			continue
		}
		adjacency[d.SourceApiRef] = append(adjacency[d.SourceApiRef], d.TargetApiRef)
		inDegree[d.TargetApiRef]++
	}

	remaining := make(map[string]int, len(inDegree))
	for id, deg := range inDegree {
		remaining[id] = deg
	}

	var sortedOrder []catalog.Api
	var levels [][]catalog.Api

	frontier := zeroDegreeNodes(remaining, byID)
	for len(frontier) > 0 {
		var layer []catalog.Api
		for _, id := range frontier {
			layer = append(layer, byID[id])
		}
		levels = append(levels, layer)
		sortedOrder = append(sortedOrder, layer...)

		var next []string
		for _, id := range frontier {
			for _, target := range adjacency[id] {
				remaining[target]--
				if remaining[target] == 0 {
					next = append(next, target)
				}
			}
			delete(remaining, id)
		}
		sort.Strings(next)
		frontier = next
	}

	if len(sortedOrder) != len(apis) {
		return Plan{}, catalog.ErrCycleDetected
	}

	return Plan{SortedOrder: sortedOrder, Levels: levels}, nil
}

func zeroDegreeNodes(remaining map[string]int, byID map[string]catalog.Api) []string {
	var out []string
	for id, deg := range remaining {
		if deg == 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return byID[out[i]].Path < byID[out[j]].Path })
	return out
}
