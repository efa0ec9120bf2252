package catalog

import (
	"context"
	"time"
)

// Store is the transactional persistence authority the rest of the core
// consumes. Out-of-scope surfaces (the HTTP API, the UI, file upload
// handling) talk to the store only through this interface or through the
// higher-level components in this module; nothing in the core reaches past
// it for shared state.
//
// A single logical project scope owns its catalog and dependency graph;
// TestRun history detaches from a deleted project rather than cascading.
type Store interface {
	// WithTx runs fn inside a single transaction. It sets no timeout of
	// its own; ctx's deadline, if any, bounds the transaction. Any error
	// returned from fn rolls the transaction back; nothing fn wrote
	// becomes visible to other callers.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Projects
	Catalog
	Runs
}

// Tx is the subset of Store operations valid inside a WithTx callback. It
// embeds the same catalog read/write surface so ingestion can be written
// against one interface regardless of whether it runs inside or outside an
// explicit transaction.
type Tx interface {
	Catalog
}

// Projects covers project lifecycle outside of the ingest transaction.
type Projects interface {
	CreateProject(ctx context.Context, p Project) (Project, error)
	GetProject(ctx context.Context, id string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	DeleteProject(ctx context.Context, id string) error // cascades per §3
}

// Catalog is the full read/write surface over the entity graph, usable
// both inside a transaction (via Tx) and directly against the Store for
// read-mostly callers (C7 planner, C9 reporting, dependency listing).
type Catalog interface {
	UpsertApiSpec(ctx context.Context, s ApiSpec) (ApiSpec, error)
	GetApiSpecByHash(ctx context.Context, projectRef, hash string) (ApiSpec, bool, error)

	UpsertApi(ctx context.Context, a Api) (Api, error)
	GetApiByMethodPath(ctx context.Context, projectRef, method, path string) (Api, bool, error)
	ListApisByProject(ctx context.Context, projectRef string) ([]Api, error)
	GetApi(ctx context.Context, id string) (Api, error)

	// DeleteApiChildren erases ApiRequest/ApiResponse/Variable rows for an
	// Api so a re-ingest can rewrite them without leaving stale children.
	DeleteApiChildren(ctx context.Context, apiRef string) error

	PutApiRequest(ctx context.Context, r ApiRequest) error
	GetApiRequest(ctx context.Context, apiRef string) (ApiRequest, bool, error)

	AddApiResponse(ctx context.Context, r ApiResponse) (ApiResponse, error)
	ListApiResponses(ctx context.Context, apiRef string) ([]ApiResponse, error)

	UpsertVariable(ctx context.Context, v Variable) (Variable, error)
	ListVariablesByApi(ctx context.Context, apiRef string) ([]Variable, error)
	GetVariable(ctx context.Context, apiRef, name string, loc VariableLocation) (Variable, bool, error)
	SetVariableType(ctx context.Context, apiRef, name string, loc VariableLocation, t VariableType) error

	ReplaceCandidates(ctx context.Context, projectRef string, cands []DependencyCandidate) error
	ListCandidatesByProject(ctx context.Context, projectRef string) ([]DependencyCandidate, error)

	UpsertDependency(ctx context.Context, d ApiDependency) (ApiDependency, error)
	DeleteDependency(ctx context.Context, id string) error
	ListDependenciesByProject(ctx context.Context, projectRef string) ([]ApiDependency, error)
}

// Runs covers TestRun/TestExecution/ExecutionArtifact persistence, kept
// outside Catalog since run history intentionally outlives project
// deletion (ProjectRef detaches to nil rather than cascading).
type Runs interface {
	CreateTestRun(ctx context.Context, r TestRun) (TestRun, error)
	CompleteTestRun(ctx context.Context, id string, status RunStatus, completedAt time.Time) error
	GetTestRun(ctx context.Context, id string) (TestRun, error)

	CreateTestExecution(ctx context.Context, e TestExecution) (TestExecution, error)
	UpdateTestExecution(ctx context.Context, e TestExecution) error
	ListExecutionsByRun(ctx context.Context, runRef string) ([]TestExecution, error)

	AddArtifact(ctx context.Context, a ExecutionArtifact) (ExecutionArtifact, error)
	ListArtifactsByExecution(ctx context.Context, execRef string) ([]ExecutionArtifact, error)
}
