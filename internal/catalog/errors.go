package catalog

import "errors"

// Structured error kinds surfaced by the core, per the error-handling
// design: ingest/registry errors propagate to the caller atomically;
// analyzer/executor errors are absorbed per-item and recorded on the
// owning row instead.
var (
	ErrInvalidSpec         = errors.New("invalid spec")
	ErrUnsupportedVersion  = errors.New("unsupported openapi version")
	ErrUnserializableSchema = errors.New("schema is not json-serializable")
	ErrCycleDetected       = errors.New("dependency graph contains a cycle")
	ErrSelfDependency      = errors.New("source and target api are the same")
	ErrDependencyUnresolved = errors.New("dependency source not ready or failed")
	ErrLLMBatchFailed      = errors.New("llm batch failed")
	ErrTransport           = errors.New("transport error")
	ErrNotFound            = errors.New("entity not found")
)
