package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// --- Projects ----------------------------------------------------------

func (o *dbOps) CreateProject(ctx context.Context, p catalog.Project) (catalog.Project, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO projects (id, name, owner_ref) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.OwnerRef)
	if err != nil {
		return catalog.Project{}, fmt.Errorf("create project: %w", err)
	}
	return p, nil
}

func (o *dbOps) GetProject(ctx context.Context, id string) (catalog.Project, error) {
	var p catalog.Project
	row := o.q.QueryRowContext(ctx, `SELECT id, name, owner_ref FROM projects WHERE id = ?`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, catalog.ErrNotFound
		}
		return p, err
	}
	return p, nil
}

func (o *dbOps) ListProjects(ctx context.Context) ([]catalog.Project, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT id, name, owner_ref FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Project
	for rows.Next() {
		var p catalog.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerRef); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (o *dbOps) DeleteProject(ctx context.Context, id string) error {
	// Foreign keys cascade for every table except test_runs, which detaches
	// via ON DELETE SET NULL per the data model's retained-history rule.
	_, err := o.q.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	return err
}

// --- ApiSpec -------------------------------------------------------------

func (o *dbOps) UpsertApiSpec(ctx context.Context, s catalog.ApiSpec) (catalog.ApiSpec, error) {
	existing, found, err := o.GetApiSpecByHash(ctx, s.ProjectRef, s.SpecHash)
	if err != nil {
		return catalog.ApiSpec{}, err
	}
	if found {
		return existing, nil
	}
	if s.ID == "" {
		s.ID = newID()
	}
	_, err = o.q.ExecContext(ctx,
		`INSERT INTO api_specs (id, project_ref, version, spec_hash, src_ref) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.ProjectRef, s.Version, s.SpecHash, s.SrcRef)
	if err != nil {
		return catalog.ApiSpec{}, fmt.Errorf("insert api_spec: %w", err)
	}
	return s, nil
}

func (o *dbOps) GetApiSpecByHash(ctx context.Context, projectRef, hash string) (catalog.ApiSpec, bool, error) {
	var s catalog.ApiSpec
	row := o.q.QueryRowContext(ctx,
		`SELECT id, project_ref, version, spec_hash, src_ref FROM api_specs WHERE project_ref = ? AND spec_hash = ?`,
		projectRef, hash)
	if err := row.Scan(&s.ID, &s.ProjectRef, &s.Version, &s.SpecHash, &s.SrcRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ApiSpec{}, false, nil
		}
		return catalog.ApiSpec{}, false, err
	}
	return s, true, nil
}

// --- Api -----------------------------------------------------------------

func (o *dbOps) UpsertApi(ctx context.Context, a catalog.Api) (catalog.Api, error) {
	existing, found, err := o.GetApiByMethodPath(ctx, a.ProjectRef, a.Method, a.Path)
	if err != nil {
		return catalog.Api{}, err
	}
	if found {
		a.ID = existing.ID
		_, err := o.q.ExecContext(ctx,
			`UPDATE apis SET op_id = ?, summary = ?, auth_scheme = ? WHERE id = ?`,
			a.OpID, a.Summary, a.AuthScheme, a.ID)
		return a, err
	}
	if a.ID == "" {
		a.ID = newID()
	}
	_, err = o.q.ExecContext(ctx,
		`INSERT INTO apis (id, project_ref, method, path, op_id, summary, auth_scheme) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectRef, a.Method, a.Path, a.OpID, a.Summary, a.AuthScheme)
	if err != nil {
		return catalog.Api{}, fmt.Errorf("insert api: %w", err)
	}
	return a, nil
}

func (o *dbOps) GetApiByMethodPath(ctx context.Context, projectRef, method, path string) (catalog.Api, bool, error) {
	var a catalog.Api
	row := o.q.QueryRowContext(ctx,
		`SELECT id, project_ref, method, path, op_id, summary, auth_scheme FROM apis WHERE project_ref = ? AND method = ? AND path = ?`,
		projectRef, method, path)
	if err := row.Scan(&a.ID, &a.ProjectRef, &a.Method, &a.Path, &a.OpID, &a.Summary, &a.AuthScheme); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Api{}, false, nil
		}
		return catalog.Api{}, false, err
	}
	return a, true, nil
}

func (o *dbOps) ListApisByProject(ctx context.Context, projectRef string) ([]catalog.Api, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, project_ref, method, path, op_id, summary, auth_scheme FROM apis WHERE project_ref = ? ORDER BY path, method`,
		projectRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Api
	for rows.Next() {
		var a catalog.Api
		if err := rows.Scan(&a.ID, &a.ProjectRef, &a.Method, &a.Path, &a.OpID, &a.Summary, &a.AuthScheme); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (o *dbOps) GetApi(ctx context.Context, id string) (catalog.Api, error) {
	var a catalog.Api
	row := o.q.QueryRowContext(ctx,
		`SELECT id, project_ref, method, path, op_id, summary, auth_scheme FROM apis WHERE id = ?`, id)
	if err := row.Scan(&a.ID, &a.ProjectRef, &a.Method, &a.Path, &a.OpID, &a.Summary, &a.AuthScheme); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, catalog.ErrNotFound
		}
		return a, err
	}
	return a, nil
}

func (o *dbOps) DeleteApiChildren(ctx context.Context, apiRef string) error {
	stmts := []string{
		`DELETE FROM api_requests WHERE api_ref = ?`,
		`DELETE FROM api_responses WHERE api_ref = ?`,
		`DELETE FROM variables WHERE api_ref = ?`,
	}
	for _, stmt := range stmts {
		if _, err := o.q.ExecContext(ctx, stmt, apiRef); err != nil {
			return fmt.Errorf("delete api children: %w", err)
		}
	}
	return nil
}

// --- ApiRequest ------------------------------------------------------------

func (o *dbOps) PutApiRequest(ctx context.Context, r catalog.ApiRequest) error {
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO api_requests (api_ref, body_schema, query_params_map, path_params_map, headers_map)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(api_ref) DO UPDATE SET body_schema=excluded.body_schema,
		   query_params_map=excluded.query_params_map, path_params_map=excluded.path_params_map,
		   headers_map=excluded.headers_map`,
		r.ApiRef, r.BodySchema, r.QueryParamsMap, r.PathParamsMap, r.HeadersMap)
	return err
}

func (o *dbOps) GetApiRequest(ctx context.Context, apiRef string) (catalog.ApiRequest, bool, error) {
	var r catalog.ApiRequest
	row := o.q.QueryRowContext(ctx,
		`SELECT api_ref, body_schema, query_params_map, path_params_map, headers_map FROM api_requests WHERE api_ref = ?`,
		apiRef)
	if err := row.Scan(&r.ApiRef, &r.BodySchema, &r.QueryParamsMap, &r.PathParamsMap, &r.HeadersMap); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.ApiRequest{}, false, nil
		}
		return catalog.ApiRequest{}, false, err
	}
	return r, true, nil
}

// --- ApiResponse -----------------------------------------------------------

func (o *dbOps) AddApiResponse(ctx context.Context, r catalog.ApiResponse) (catalog.ApiResponse, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO api_responses (id, api_ref, status_code, schema) VALUES (?, ?, ?, ?)`,
		r.ID, r.ApiRef, r.StatusCode, r.Schema)
	if err != nil {
		return catalog.ApiResponse{}, fmt.Errorf("insert api_response: %w", err)
	}
	return r, nil
}

func (o *dbOps) ListApiResponses(ctx context.Context, apiRef string) ([]catalog.ApiResponse, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, api_ref, status_code, schema FROM api_responses WHERE api_ref = ? ORDER BY status_code`, apiRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.ApiResponse
	for rows.Next() {
		var r catalog.ApiResponse
		if err := rows.Scan(&r.ID, &r.ApiRef, &r.StatusCode, &r.Schema); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Variable ---------------------------------------------------------------

func (o *dbOps) UpsertVariable(ctx context.Context, v catalog.Variable) (catalog.Variable, error) {
	existing, found, err := o.GetVariable(ctx, v.ApiRef, v.Name, v.Location)
	if err != nil {
		return catalog.Variable{}, err
	}
	if found {
		v.ID = existing.ID
		_, err := o.q.ExecContext(ctx,
			`UPDATE variables SET var_type = ?, data_type = ?, required = ?, ai_confidence = ? WHERE id = ?`,
			string(v.VarType), v.DataType, boolToInt(v.Required), v.AIConfidence, v.ID)
		return v, err
	}
	if v.ID == "" {
		v.ID = newID()
	}
	_, err = o.q.ExecContext(ctx,
		`INSERT INTO variables (id, api_ref, name, location, var_type, data_type, required, ai_confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ApiRef, v.Name, string(v.Location), string(v.VarType), v.DataType, boolToInt(v.Required), v.AIConfidence)
	if err != nil {
		return catalog.Variable{}, fmt.Errorf("insert variable: %w", err)
	}
	return v, nil
}

func (o *dbOps) ListVariablesByApi(ctx context.Context, apiRef string) ([]catalog.Variable, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, api_ref, name, location, var_type, data_type, required, ai_confidence FROM variables WHERE api_ref = ? ORDER BY location, name`,
		apiRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.Variable
	for rows.Next() {
		v, err := scanVariable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (o *dbOps) GetVariable(ctx context.Context, apiRef, name string, loc catalog.VariableLocation) (catalog.Variable, bool, error) {
	row := o.q.QueryRowContext(ctx,
		`SELECT id, api_ref, name, location, var_type, data_type, required, ai_confidence FROM variables WHERE api_ref = ? AND name = ? AND location = ?`,
		apiRef, name, string(loc))
	v, err := scanVariableRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Variable{}, false, nil
		}
		return catalog.Variable{}, false, err
	}
	return v, true, nil
}

func (o *dbOps) SetVariableType(ctx context.Context, apiRef, name string, loc catalog.VariableLocation, t catalog.VariableType) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE variables SET var_type = ? WHERE api_ref = ? AND name = ? AND location = ?`,
		string(t), apiRef, name, string(loc))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVariable(rows *sql.Rows) (catalog.Variable, error) { return scanVariableRow(rows) }

func scanVariableRow(row rowScanner) (catalog.Variable, error) {
	var v catalog.Variable
	var loc, vt string
	if err := row.Scan(&v.ID, &v.ApiRef, &v.Name, &loc, &vt, &v.DataType, &v.Required, &v.AIConfidence); err != nil {
		return catalog.Variable{}, err
	}
	v.Location = catalog.VariableLocation(loc)
	v.VarType = catalog.VariableType(vt)
	return v, nil
}

// --- Candidates & dependencies -----------------------------------------------

func (o *dbOps) ReplaceCandidates(ctx context.Context, projectRef string, cands []catalog.DependencyCandidate) error {
	if _, err := o.q.ExecContext(ctx, `DELETE FROM dependency_candidates WHERE project_ref = ?`, projectRef); err != nil {
		return fmt.Errorf("clear candidates: %w", err)
	}
	for _, c := range cands {
		if c.ID == "" {
			c.ID = newID()
		}
		_, err := o.q.ExecContext(ctx,
			`INSERT INTO dependency_candidates (id, project_ref, source_api_ref, target_api_ref, mapping, confidence, origin, reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, projectRef, c.SourceApiRef, c.TargetApiRef, encodeMapping(c.Mapping), c.Confidence, string(c.Origin), c.Reason)
		if err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
	}
	return nil
}

func (o *dbOps) ListCandidatesByProject(ctx context.Context, projectRef string) ([]catalog.DependencyCandidate, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, source_api_ref, target_api_ref, mapping, confidence, origin, reason FROM dependency_candidates WHERE project_ref = ?`,
		projectRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.DependencyCandidate
	for rows.Next() {
		var c catalog.DependencyCandidate
		var mapping []byte
		var origin string
		if err := rows.Scan(&c.ID, &c.SourceApiRef, &c.TargetApiRef, &mapping, &c.Confidence, &origin, &c.Reason); err != nil {
			return nil, err
		}
		c.Mapping = decodeMapping(mapping)
		c.Origin = catalog.CandidateOrigin(origin)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (o *dbOps) UpsertDependency(ctx context.Context, d catalog.ApiDependency) (catalog.ApiDependency, error) {
	if d.SourceApiRef == d.TargetApiRef {
		return catalog.ApiDependency{}, catalog.ErrSelfDependency
	}
	row := o.q.QueryRowContext(ctx,
		`SELECT id FROM api_dependencies WHERE source_api_ref = ? AND target_api_ref = ?`,
		d.SourceApiRef, d.TargetApiRef)
	var existingID string
	err := row.Scan(&existingID)
	switch {
	case err == nil:
		d.ID = existingID
		_, err = o.q.ExecContext(ctx,
			`UPDATE api_dependencies SET mapping = ?, is_required = ? WHERE id = ?`,
			encodeMapping(d.Mapping), boolToInt(d.IsRequired), d.ID)
		return d, err
	case errors.Is(err, sql.ErrNoRows):
		if d.ID == "" {
			d.ID = newID()
		}
		_, err = o.q.ExecContext(ctx,
			`INSERT INTO api_dependencies (id, source_api_ref, target_api_ref, mapping, is_required) VALUES (?, ?, ?, ?, ?)`,
			d.ID, d.SourceApiRef, d.TargetApiRef, encodeMapping(d.Mapping), boolToInt(d.IsRequired))
		return d, err
	default:
		return catalog.ApiDependency{}, err
	}
}

func (o *dbOps) DeleteDependency(ctx context.Context, id string) error {
	_, err := o.q.ExecContext(ctx, `DELETE FROM api_dependencies WHERE id = ?`, id)
	return err
}

func (o *dbOps) ListDependenciesByProject(ctx context.Context, projectRef string) ([]catalog.ApiDependency, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT d.id, d.source_api_ref, d.target_api_ref, d.mapping, d.is_required
		 FROM api_dependencies d
		 JOIN apis a ON a.id = d.source_api_ref
		 WHERE a.project_ref = ?`, projectRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.ApiDependency
	for rows.Next() {
		var d catalog.ApiDependency
		var mapping []byte
		var required int
		if err := rows.Scan(&d.ID, &d.SourceApiRef, &d.TargetApiRef, &mapping, &required); err != nil {
			return nil, err
		}
		d.Mapping = decodeMapping(mapping)
		d.IsRequired = required != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- Runs -------------------------------------------------------------------

func (o *dbOps) CreateTestRun(ctx context.Context, r catalog.TestRun) (catalog.TestRun, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO test_runs (id, project_ref, environment, trigger_source, started_at, status) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ProjectRef, r.Environment, r.TriggerSource, r.StartedAt, string(r.Status))
	if err != nil {
		return catalog.TestRun{}, fmt.Errorf("insert test_run: %w", err)
	}
	return r, nil
}

func (o *dbOps) CompleteTestRun(ctx context.Context, id string, status catalog.RunStatus, completedAt time.Time) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE test_runs SET status = ?, completed_at = ? WHERE id = ?`, string(status), completedAt, id)
	return err
}

func (o *dbOps) GetTestRun(ctx context.Context, id string) (catalog.TestRun, error) {
	var r catalog.TestRun
	var status string
	var completedAt sql.NullTime
	row := o.q.QueryRowContext(ctx,
		`SELECT id, project_ref, environment, trigger_source, started_at, completed_at, status FROM test_runs WHERE id = ?`, id)
	var projectRef sql.NullString
	if err := row.Scan(&r.ID, &projectRef, &r.Environment, &r.TriggerSource, &r.StartedAt, &completedAt, &status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, catalog.ErrNotFound
		}
		return r, err
	}
	if projectRef.Valid {
		r.ProjectRef = &projectRef.String
	}
	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	r.Status = catalog.RunStatus(status)
	return r, nil
}

func (o *dbOps) CreateTestExecution(ctx context.Context, e catalog.TestExecution) (catalog.TestExecution, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO test_executions (id, run_ref, api_ref, status, retry_count, error_message) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunRef, e.ApiRef, string(e.Status), e.RetryCount, e.ErrorMessage)
	if err != nil {
		return catalog.TestExecution{}, fmt.Errorf("insert test_execution: %w", err)
	}
	return e, nil
}

func (o *dbOps) UpdateTestExecution(ctx context.Context, e catalog.TestExecution) error {
	_, err := o.q.ExecContext(ctx,
		`UPDATE test_executions SET status = ?, retry_count = ?, error_message = ? WHERE id = ?`,
		string(e.Status), e.RetryCount, e.ErrorMessage, e.ID)
	return err
}

func (o *dbOps) ListExecutionsByRun(ctx context.Context, runRef string) ([]catalog.TestExecution, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, run_ref, api_ref, status, retry_count, error_message FROM test_executions WHERE run_ref = ?`, runRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.TestExecution
	for rows.Next() {
		var e catalog.TestExecution
		var apiRef sql.NullString
		var status string
		if err := rows.Scan(&e.ID, &e.RunRef, &apiRef, &status, &e.RetryCount, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if apiRef.Valid {
			e.ApiRef = &apiRef.String
		}
		e.Status = catalog.ExecutionStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (o *dbOps) AddArtifact(ctx context.Context, a catalog.ExecutionArtifact) (catalog.ExecutionArtifact, error) {
	if a.ID == "" {
		a.ID = newID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := o.q.ExecContext(ctx,
		`INSERT INTO execution_artifacts (id, exec_ref, request_data, response_data, response_time_ms, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ExecRef, a.RequestData, a.ResponseData, a.ResponseTimeMs, a.CreatedAt)
	if err != nil {
		return catalog.ExecutionArtifact{}, fmt.Errorf("insert artifact: %w", err)
	}
	return a, nil
}

func (o *dbOps) ListArtifactsByExecution(ctx context.Context, execRef string) ([]catalog.ExecutionArtifact, error) {
	rows, err := o.q.QueryContext(ctx,
		`SELECT id, exec_ref, request_data, response_data, response_time_ms, created_at FROM execution_artifacts WHERE exec_ref = ? ORDER BY created_at`,
		execRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []catalog.ExecutionArtifact
	for rows.Next() {
		var a catalog.ExecutionArtifact
		if err := rows.Scan(&a.ID, &a.ExecRef, &a.RequestData, &a.ResponseData, &a.ResponseTimeMs, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
