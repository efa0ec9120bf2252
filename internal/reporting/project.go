// Package reporting implements the Reporting Projector (C9): a pure
// read-side aggregation of a run's executions and artifacts, closing a
// component SPEC_FULL.md names but spec.md leaves uncontracted.
package reporting

import (
	"context"
	"fmt"
	"sort"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// RunReport is the full read model for one TestRun.
type RunReport struct {
	Run        catalog.TestRun
	Executions []ExecutionReport
}

// ExecutionReport is one endpoint's execution, joined with its Api and
// recorded artifacts.
type ExecutionReport struct {
	Execution catalog.TestExecution
	Api       catalog.Api
	Artifacts []catalog.ExecutionArtifact
}

// ProjectRun loads a TestRun, its TestExecutions, and each execution's
// artifacts, and assembles them into a RunReport ordered by endpoint
// path. It performs no mutation and caches nothing.
func ProjectRun(ctx context.Context, store catalog.Store, runID string) (RunReport, error) {
	run, err := store.GetTestRun(ctx, runID)
	if err != nil {
		return RunReport{}, fmt.Errorf("get test run: %w", err)
	}

	executions, err := store.ListExecutionsByRun(ctx, runID)
	if err != nil {
		return RunReport{}, fmt.Errorf("list executions: %w", err)
	}

	reports := make([]ExecutionReport, 0, len(executions))
	for _, exec := range executions {
		var api catalog.Api
		if exec.ApiRef != nil {
			api, err = store.GetApi(ctx, *exec.ApiRef)
			if err != nil {
				return RunReport{}, fmt.Errorf("get api for execution %s: %w", exec.ID, err)
			}
		}

		artifacts, err := store.ListArtifactsByExecution(ctx, exec.ID)
		if err != nil {
			return RunReport{}, fmt.Errorf("list artifacts for execution %s: %w", exec.ID, err)
		}

		reports = append(reports, ExecutionReport{Execution: exec, Api: api, Artifacts: artifacts})
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].Api.Path < reports[j].Api.Path })

	return RunReport{Run: run, Executions: reports}, nil
}
