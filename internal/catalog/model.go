// Package catalog defines the persisted entity graph produced by spec
// ingestion and consumed by every downstream stage: variable extraction,
// dependency inference, the execution planner, the run executor, and the
// reporting projector.
package catalog

import "time"

// VariableLocation is where an input variable is carried on the wire.
type VariableLocation string

const (
	LocationPath   VariableLocation = "path"
	LocationQuery  VariableLocation = "query"
	LocationHeader VariableLocation = "header"
	LocationBody   VariableLocation = "body"
)

// VariableType classifies how a Variable's value gets resolved.
type VariableType string

const (
	VarUserInput         VariableType = "user_input"
	VarDependent         VariableType = "dependent"
	VarDependentCandidate VariableType = "dependent_candidate"
	VarConstant          VariableType = "constant"
	VarSynthetic         VariableType = "synthetic"
)

// ExecutionStatus is the lifecycle state of a TestExecution row.
type ExecutionStatus string

const (
	StatusRunning ExecutionStatus = "RUNNING"
	StatusPassed  ExecutionStatus = "PASSED"
	StatusFailed  ExecutionStatus = "FAILED"
)

// RunStatus is the terminal state of a TestRun.
type RunStatus string

const (
	RunCompleted RunStatus = "COMPLETED"
	RunError     RunStatus = "ERROR"
)

// CandidateOrigin distinguishes deterministically-derived candidates from
// LLM-inferred ones; both land in the same DependencyCandidate table.
type CandidateOrigin string

const (
	OriginDeterministic CandidateOrigin = "deterministic"
	OriginInferred      CandidateOrigin = "inferred"
)

// Project is the top-level ownership scope for a catalog and its
// dependency graph.
type Project struct {
	ID       string
	Name     string // unique globally
	OwnerRef string
}

// ApiSpec is one ingested OpenAPI document version, keyed by a content hash
// so re-ingesting byte-identical documents is a no-op insert.
type ApiSpec struct {
	ID        string
	ProjectRef string
	Version   string
	SpecHash  string // (ProjectRef, SpecHash) unique
	SrcRef    string
}

// Api is a single (method, path) endpoint within a project's catalog.
type Api struct {
	ID         string
	ProjectRef string
	Method     string // always upper-case
	Path       string
	OpID       string
	Summary    string
	AuthScheme string // name of the security scheme this operation requires, if any
}

// ApiRequest holds the bucketed, schema-shaped input surface of an Api.
// Exactly one exists per Api.
type ApiRequest struct {
	ApiRef         string // unique
	BodySchema     []byte // raw JSON schema, nil if no request body
	QueryParamsMap []byte // JSON object: name -> raw schema
	PathParamsMap  []byte
	HeadersMap     []byte
}

// ApiResponse is one documented status-code response for an Api.
type ApiResponse struct {
	ID         string
	ApiRef     string
	StatusCode int    // (ApiRef, StatusCode) unique
	Schema     []byte // raw JSON schema
}

// Variable is one typed input (or input-like) element of an endpoint.
type Variable struct {
	ID           string
	ApiRef       string
	Name         string // dot-joined qualified name for nested body fields
	Location     VariableLocation
	VarType      VariableType
	DataType     string
	Required     bool
	AIConfidence *float64
}

// DependencyCandidate is an unconfirmed, machine-proposed dependency.
type DependencyCandidate struct {
	ID            string
	SourceApiRef  string
	TargetApiRef  string // SourceApiRef != TargetApiRef
	Mapping       Mapping
	Confidence    float64 // [0,1]
	Origin        CandidateOrigin
	Reason        string
}

// ApiDependency is a human-confirmed edge from a producer endpoint to a
// consumer endpoint.
type ApiDependency struct {
	ID           string
	SourceApiRef string
	TargetApiRef string // unique with SourceApiRef; SourceApiRef != TargetApiRef
	Mapping      Mapping
	IsRequired   bool
}

// Mapping is an ordered map from a consumer variable name to a dot-path
// selector into the producer's JSON response body. Ordering is preserved
// via the Keys slice since map iteration order in Go is undefined and the
// spec treats mapping as an *ordered* map (e.g., for deterministic replay
// of which selector was applied first when multiple keys alias the same
// response field).
type Mapping struct {
	Keys   []string
	Values map[string]string
}

// NewMapping builds a Mapping preserving insertion order of keys.
func NewMapping() Mapping {
	return Mapping{Values: map[string]string{}}
}

// Set inserts or updates a key, preserving first-seen order.
func (m *Mapping) Set(targetVar, sourceSelector string) {
	if m.Values == nil {
		m.Values = map[string]string{}
	}
	if _, ok := m.Values[targetVar]; !ok {
		m.Keys = append(m.Keys, targetVar)
	}
	m.Values[targetVar] = sourceSelector
}

// TestRun is one invocation of the Run Executor (C8) against an
// environment. ProjectRef is nullable so run history survives project
// deletion.
type TestRun struct {
	ID            string
	ProjectRef    *string
	Environment   string
	TriggerSource string
	StartedAt     time.Time
	CompletedAt   *time.Time
	Status        RunStatus
}

// TestExecution is the per-endpoint record of one TestRun.
type TestExecution struct {
	ID           string
	RunRef       string
	ApiRef       *string // (RunRef, ApiRef) unique
	Status       ExecutionStatus
	RetryCount   int
	ErrorMessage string
}

// ExecutionArtifact captures one request/response pair recorded for a
// TestExecution.
type ExecutionArtifact struct {
	ID              string
	ExecRef         string
	RequestData     []byte
	ResponseData    []byte
	ResponseTimeMs  int64
	CreatedAt       time.Time
}
