// Package executor implements the Run Executor (C8): layer-parallel
// HTTP invocation of a project's planned dependency graph, resolving
// each endpoint's inputs from prior responses, recording artifacts, and
// classifying outcomes.
//
// Grounded on the teacher's generic CRUD runner (crud_runner.go) for the
// overall shape of "resolve inputs, invoke, classify outcome, record
// result" — generalized here from a single synchronous resource
// operation into a level-parallel batch of HTTP calls coordinated with
// golang.org/x/sync/errgroup, the same package
// crossplane-contrib/provider-kubernetes uses for its own concurrent
// reconciliation fan-out.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devops-wiz/apiflow/internal/catalog"
	"github.com/devops-wiz/apiflow/internal/planner"
	"github.com/devops-wiz/apiflow/internal/runctx"
)

// Executor runs a project's confirmed dependency graph against a live
// environment.
type Executor struct {
	Store  catalog.Store
	Client *http.Client
}

// New constructs an Executor bound to store and an HTTP client. The
// client is expected to have RetryMax pinned to 0 (see internal/httpclient)
// since the executor's own status classification is the only place a
// non-2xx response is interpreted.
func New(store catalog.Store, client *http.Client) *Executor {
	return &Executor{Store: store, Client: client}
}

// Run creates a TestRun for projectID against environment, plans the
// dependency graph, and executes it layer by layer. Individual endpoint
// failures are recorded on their TestExecution row and never abort the
// run; only a planner failure (such as a cycle) or a failure to list the
// project's dependencies does.
func (ex *Executor) Run(ctx context.Context, projectID, environment string) (catalog.TestRun, error) {
	run, err := ex.Store.CreateTestRun(ctx, catalog.TestRun{
		ProjectRef:    &projectID,
		Environment:   environment,
		TriggerSource: "system",
		StartedAt:     time.Now().UTC(),
	})
	if err != nil {
		return catalog.TestRun{}, fmt.Errorf("create test run: %w", err)
	}

	plan, err := planner.Plan(ctx, ex.Store, projectID)
	if err != nil {
		_ = ex.Store.CompleteTestRun(ctx, run.ID, catalog.RunError, time.Now().UTC())
		run.Status = catalog.RunError
		return run, err
	}

	deps, err := ex.Store.ListDependenciesByProject(ctx, projectID)
	if err != nil {
		_ = ex.Store.CompleteTestRun(ctx, run.ID, catalog.RunError, time.Now().UTC())
		run.Status = catalog.RunError
		return run, fmt.Errorf("list dependencies: %w", err)
	}
	depsByTarget := map[string][]catalog.ApiDependency{}
	for _, d := range deps {
		depsByTarget[d.TargetApiRef] = append(depsByTarget[d.TargetApiRef], d)
	}

	rc := runctx.New()

	for _, layer := range plan.Levels {
		g, gctx := errgroup.WithContext(ctx)
		for _, api := range layer {
			api := api
			g.Go(func() error {
				ex.executeOne(gctx, run.ID, environment, api, depsByTarget[api.ID], rc)
				return nil // per-endpoint errors never cancel the layer
			})
		}
		_ = g.Wait()
	}

	if err := ex.Store.CompleteTestRun(ctx, run.ID, catalog.RunCompleted, time.Now().UTC()); err != nil {
		return run, fmt.Errorf("complete test run: %w", err)
	}
	run.Status = catalog.RunCompleted
	return run, nil
}

func (ex *Executor) executeOne(ctx context.Context, runID, environment string, api catalog.Api, deps []catalog.ApiDependency, rc *runctx.Context) {
	apiID := api.ID
	exec, err := ex.Store.CreateTestExecution(ctx, catalog.TestExecution{
		RunRef: runID,
		ApiRef: &apiID,
		Status: catalog.StatusRunning,
	})
	if err != nil {
		return
	}

	resolved, unresolvedSource, ok := ex.resolveInputs(ctx, api, deps, rc)
	if !ok {
		exec.Status = catalog.StatusFailed
		exec.ErrorMessage = fmt.Sprintf("Dependency failed: Source %s not ready or failed.", unresolvedSource)
		_ = ex.Store.UpdateTestExecution(ctx, exec)
		rc.Publish(apiID, runctx.Entry{HTTPStatus: 0})
		return
	}

	req, found, err := ex.Store.GetApiRequest(ctx, apiID)
	var pathParams, queryParams, headerParams map[string]struct{}
	if err == nil && found {
		pathParams = paramNames(req.PathParamsMap)
		queryParams = paramNames(req.QueryParamsMap)
		headerParams = paramNames(req.HeadersMap)
	}
	// The Variable table, not the stored ApiRequest param maps, is the
	// authority on which resolved names are header-located (it is what
	// C3/C4 actually tag location=header against, including the
	// synthetic Authorization variable) — merge it in so a resolved
	// header value is never misclassified into the body.
	if vars, err := ex.Store.ListVariablesByApi(ctx, apiID); err == nil {
		for _, v := range vars {
			if v.Location != catalog.LocationHeader {
				continue
			}
			if headerParams == nil {
				headerParams = map[string]struct{}{}
			}
			headerParams[v.Name] = struct{}{}
		}
	}

	path := api.Path
	for name, value := range resolved {
		if _, isPath := pathParams[name]; isPath {
			path = strings.ReplaceAll(path, "{"+name+"}", fmt.Sprint(value))
		}
	}

	targetURL := strings.TrimRight(environment, "/") + path

	query := url.Values{}
	headers := http.Header{}
	bodyFields := map[string]any{}
	for name, value := range resolved {
		switch {
		case inSet(queryParams, name):
			query.Set(name, fmt.Sprint(value))
		case inSet(headerParams, name):
			headers.Set(name, fmt.Sprint(value))
		case !inSet(pathParams, name):
			setDotted(bodyFields, name, value)
		}
	}
	if len(query) > 0 {
		targetURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	var rawBody []byte
	if len(bodyFields) > 0 {
		rawBody, _ = json.Marshal(bodyFields)
		bodyReader = bytes.NewReader(rawBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, api.Method, targetURL, bodyReader)
	if err != nil {
		ex.recordTransportFailure(ctx, exec, rc, apiID, err)
		return
	}
	for k := range headers {
		httpReq.Header.Set(k, headers.Get(k))
	}
	if rawBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := ex.Client.Do(httpReq)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		ex.recordTransportFailure(ctx, exec, rc, apiID, err)
		return
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	status := catalog.StatusFailed
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		status = catalog.StatusPassed
	}
	exec.Status = status
	_ = ex.Store.UpdateTestExecution(ctx, exec)

	_, _ = ex.Store.AddArtifact(ctx, catalog.ExecutionArtifact{
		ExecRef:        exec.ID,
		RequestData:    rawBody,
		ResponseData:   respBody,
		ResponseTimeMs: elapsed,
		CreatedAt:      time.Now().UTC(),
	})

	var parsedBody any
	_ = json.Unmarshal(respBody, &parsedBody)
	rc.Publish(apiID, runctx.Entry{Body: parsedBody, HTTPStatus: resp.StatusCode})
}

func (ex *Executor) recordTransportFailure(ctx context.Context, exec catalog.TestExecution, rc *runctx.Context, apiID string, err error) {
	exec.Status = catalog.StatusFailed
	exec.ErrorMessage = fmt.Sprintf("%v: %v", catalog.ErrTransport, err)
	_ = ex.Store.UpdateTestExecution(ctx, exec)
	rc.Publish(apiID, runctx.Entry{HTTPStatus: 0})
}

// resolveInputs looks up each dependency's source context entry and
// extracts the mapped value via the dotted-path evaluator. Returns
// ok=false (with the failing source's id) as soon as any dependency's
// source is missing or failed — propagating downstream naturally via
// later layers' own resolution misses, per the lazy-propagation design
// decision.
func (ex *Executor) resolveInputs(ctx context.Context, api catalog.Api, deps []catalog.ApiDependency, rc *runctx.Context) (map[string]any, string, bool) {
	resolved := map[string]any{}
	for _, dep := range deps {
		entry, found := rc.Lookup(dep.SourceApiRef)
		if !found || !entry.Ready() {
			return nil, dep.SourceApiRef, false
		}
		for _, targetVar := range dep.Mapping.Keys {
			sourcePath := dep.Mapping.Values[targetVar]
			resolved[targetVar] = runctx.SelectPath(entry.Body, sourcePath)
		}
	}
	return resolved, "", true
}

func paramNames(raw []byte) map[string]struct{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	out := make(map[string]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func inSet(set map[string]struct{}, key string) bool {
	if set == nil {
		return false
	}
	_, ok := set[key]
	return ok
}

// setDotted assembles a resolved body-located variable's qualified name
// (e.g. "address.city") back into a nested JSON object.
func setDotted(root map[string]any, qualifiedName string, value any) {
	segments := strings.Split(qualifiedName, ".")
	cur := root
	for i, seg := range segments {
		if i == len(segments)-1 {
			cur[seg] = value
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
}
