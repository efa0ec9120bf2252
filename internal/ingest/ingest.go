// Package ingest implements the Spec Ingestor (C2): OpenAPI validation,
// dereferencing, canonical hashing, and the transactional catalog write
// that produces Apis/Requests/Responses/Variables.
//
// Grounded on the teacher's transactional-write shape (provider CRUD
// hooks run inside one logical unit of work) generalized here to a real
// database transaction via catalog.Store.WithTx, and on
// orsinialberto-api-to-mcp / ubermorgenland-openapi-mcp's use of
// github.com/getkin/kin-openapi for loading and validating OpenAPI 3.x
// documents.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/devops-wiz/apiflow/internal/catalog"
	"github.com/devops-wiz/apiflow/internal/specsource"
	"github.com/devops-wiz/apiflow/internal/variables"
)

// Ingestor validates, dereferences, and persists an OpenAPI document.
type Ingestor struct {
	Store catalog.Store
	Log   zerolog.Logger
}

// New constructs an Ingestor bound to a store.
func New(store catalog.Store, log zerolog.Logger) *Ingestor {
	return &Ingestor{Store: store, Log: log.With().Str("component", "ingest").Logger()}
}

// Result is what Ingest hands back after a successful write.
type Result struct {
	SpecID    string
	Endpoints []EndpointKey
}

// EndpointKey identifies one ingested operation.
type EndpointKey struct {
	Method string
	Path   string
}

const transactionTimeoutHint = 20 // seconds; documented, not enforced by a context here since WithTx owns its own ctx.

// requiresAuthHeader reports whether a SecurityScheme (http bearer or
// oauth2) requires a synthetic Authorization header variable per §4.1/§4.2.
func requiresAuthHeader(scheme *openapi3.SecurityScheme) bool {
	if scheme == nil {
		return false
	}
	if scheme.Type == "oauth2" {
		return true
	}
	return scheme.Type == "http" && strings.EqualFold(scheme.Scheme, "bearer")
}

// Ingest loads src, validates and dereferences it, and writes the catalog
// for projectID inside a single transaction. All-or-nothing: any error
// leaves the prior catalog state untouched.
func (ig *Ingestor) Ingest(ctx context.Context, projectID string, src specsource.Source) (Result, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open spec source: %w", err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return Result{}, fmt.Errorf("read spec: %w", err)
	}

	jsonBytes, err := normalizeToJSON(raw)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", catalog.ErrInvalidSpec, err)
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	doc, err := loader.LoadFromData(jsonBytes)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", catalog.ErrInvalidSpec, err)
	}

	// Version check precedes full validation: an unsupported major version
	// may not satisfy the 3.x validation rules at all, and the caller needs
	// UnsupportedVersion rather than a confusing validation error.
	if !strings.HasPrefix(doc.OpenAPI, "3.") {
		return Result{}, fmt.Errorf("%w: openapi version %q", catalog.ErrUnsupportedVersion, doc.OpenAPI)
	}

	if err := doc.Validate(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %v", catalog.ErrInvalidSpec, err)
	}

	canonicalHash, err := canonicalHash(jsonBytes)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", catalog.ErrInvalidSpec, err)
	}

	var result Result
	err = ig.Store.WithTx(ctx, func(tx catalog.Tx) error {
		specRow, err := tx.UpsertApiSpec(ctx, catalog.ApiSpec{
			ProjectRef: projectID,
			Version:    doc.OpenAPI,
			SpecHash:   canonicalHash,
		})
		if err != nil {
			return fmt.Errorf("upsert api spec: %w", err)
		}
		result.SpecID = specRow.ID

		keys, err := ig.writeOperations(ctx, tx, projectID, doc)
		if err != nil {
			return err
		}
		result.Endpoints = keys
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	ig.Log.Info().Str("project", projectID).Int("endpoints", len(result.Endpoints)).Msg("spec ingested")
	return result, nil
}

func (ig *Ingestor) writeOperations(ctx context.Context, tx catalog.Tx, projectID string, doc *openapi3.T) ([]EndpointKey, error) {
	var keys []EndpointKey

	paths := doc.Paths.Map()
	// Deterministic iteration for reproducible error messages and tests.
	orderedPaths := make([]string, 0, len(paths))
	for p := range paths {
		orderedPaths = append(orderedPaths, p)
	}
	sort.Strings(orderedPaths)

	for _, path := range orderedPaths {
		pathItem := paths[path]
		for method, op := range pathItem.Operations() {
			method = strings.ToUpper(method)
			api, err := tx.UpsertApi(ctx, catalog.Api{
				ProjectRef: projectID,
				Method:     method,
				Path:       path,
				OpID:       op.OperationID,
				Summary:    op.Summary,
			})
			if err != nil {
				return nil, fmt.Errorf("upsert api %s %s: %w", method, path, err)
			}

			if err := tx.DeleteApiChildren(ctx, api.ID); err != nil {
				return nil, fmt.Errorf("clear children for %s %s: %w", method, path, err)
			}

			effectiveSecurity := effectiveSecurity(op, pathItem, doc)
			authScheme, authVariableNeeded := resolveAuthScheme(doc, effectiveSecurity)
			if authScheme != "" {
				api.AuthScheme = authScheme
				if _, err := tx.UpsertApi(ctx, api); err != nil {
					return nil, fmt.Errorf("record auth scheme for %s %s: %w", method, path, err)
				}
			}

			bodySchema, bodyKind := pickRequestBodySchema(op)
			queryParams, pathParams, headerParams := bucketParameters(op.Parameters)

			// Extract before headerParams gains a synthesized
			// Authorization entry: the extractor decides for itself, via
			// NeedsAuth, whether to synthesize that variable (and tag it
			// VarSynthetic) — it must never see it as an ordinary
			// declared header parameter.
			extracted := variables.Extract(variables.Input{
				ApiID:        api.ID,
				BodySchema:   bodyKind,
				QueryParams:  queryParams,
				PathParams:   pathParams,
				HeaderParams: headerParams,
				NeedsAuth:    authVariableNeeded,
			})

			if authVariableNeeded {
				ensureAuthorizationHeader(headerParams)
			}

			req := catalog.ApiRequest{
				ApiRef:         api.ID,
				BodySchema:     marshalSchema(bodySchema),
				QueryParamsMap: marshalParamSchemas(queryParams),
				PathParamsMap:  marshalParamSchemas(pathParams),
				HeadersMap:     marshalParamSchemas(headerParams),
			}
			if err := tx.PutApiRequest(ctx, req); err != nil {
				return nil, fmt.Errorf("put api request for %s %s: %w", method, path, err)
			}

			if err := ig.writeResponses(ctx, tx, api.ID, op); err != nil {
				return nil, err
			}
			for _, v := range extracted {
				if _, err := tx.UpsertVariable(ctx, v); err != nil {
					return nil, fmt.Errorf("upsert variable %s for %s %s: %w", v.Name, method, path, err)
				}
			}

			keys = append(keys, EndpointKey{Method: method, Path: path})
		}
	}
	return keys, nil
}

func (ig *Ingestor) writeResponses(ctx context.Context, tx catalog.Tx, apiID string, op *openapi3.Operation) error {
	if op.Responses == nil {
		return nil
	}
	for code, respRef := range op.Responses.Map() {
		statusCode, err := strconv.Atoi(code)
		if err != nil {
			continue // "default" and similar non-numeric keys are skipped per §4.1.
		}
		var schemaBytes []byte
		if respRef != nil && respRef.Value != nil {
			schema := firstJSONSchema(respRef.Value.Content)
			if schema != nil {
				b, err := json.Marshal(schema)
				if err != nil {
					return fmt.Errorf("%w: response %d on api %s", catalog.ErrUnserializableSchema, statusCode, apiID)
				}
				schemaBytes = b
			}
		}
		if _, err := tx.AddApiResponse(ctx, catalog.ApiResponse{
			ApiRef:     apiID,
			StatusCode: statusCode,
			Schema:     schemaBytes,
		}); err != nil {
			return fmt.Errorf("add response %d for api %s: %w", statusCode, apiID, err)
		}
	}
	return nil
}

// normalizeToJSON accepts either JSON or YAML input and returns JSON
// bytes, since the canonical-hash step below needs one deterministic
// representation regardless of the source format.
func normalizeToJSON(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return raw, nil
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse spec as yaml: %w", err)
	}
	return json.Marshal(doc)
}

// canonicalHash marshals v with recursively sorted map keys so
// byte-identical documents always hash the same way regardless of
// field ordering in the source.
func canonicalHash(jsonBytes []byte) (string, error) {
	var v any
	if err := json.Unmarshal(jsonBytes, &v); err != nil {
		return "", err
	}
	canon := canonicalize(v)
	b, err := json.Marshal(canon)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]keyValue, 0, len(keys))
		for _, k := range keys {
			out = append(out, keyValue{K: k, V: canonicalize(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// keyValue marshals as a two-element array so canonicalize's sorted
// output is stable JSON regardless of Go's own map marshaling order.
type keyValue struct {
	K string
	V any
}

func (kv keyValue) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{kv.K, kv.V})
}

// effectiveSecurity implements the fallthrough: operation.Security, then
// the document's top-level Security, else empty. kin-openapi's PathItem
// does not separately carry a Security field distinct from its
// Operations (OpenAPI 3's path-level `security` key is not modeled as a
// separate PathItem attribute in this library) so the path-item term of
// the fallthrough chain collapses into the operation/document pair.
func effectiveSecurity(op *openapi3.Operation, _ *openapi3.PathItem, doc *openapi3.T) openapi3.SecurityRequirements {
	if op.Security != nil {
		return *op.Security
	}
	return doc.Security
}

func resolveAuthScheme(doc *openapi3.T, sec openapi3.SecurityRequirements) (schemeName string, needsAuthHeader bool) {
	for _, req := range sec {
		for name := range req {
			ref, ok := doc.Components.SecuritySchemes[name]
			if !ok || ref == nil || ref.Value == nil {
				continue
			}
			if requiresAuthHeader(ref.Value) {
				return name, true
			}
		}
	}
	return "", false
}

func pickRequestBodySchema(op *openapi3.Operation) (*openapi3.Schema, variables.BodyDescriptor) {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil, variables.BodyDescriptor{}
	}
	schema := firstJSONSchema(op.RequestBody.Value.Content)
	if schema == nil {
		return nil, variables.BodyDescriptor{}
	}
	return schema, variables.BodyDescriptor{Schema: schema, Present: true}
}

// firstJSONSchema implements the content-type preference rule: first key
// containing "json", else first containing "multipart", else first
// containing "urlencoded", else the first content type present.
func firstJSONSchema(content openapi3.Content) *openapi3.Schema {
	if len(content) == 0 {
		return nil
	}
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pick := func(substr string) (string, bool) {
		for _, k := range keys {
			if strings.Contains(k, substr) {
				return k, true
			}
		}
		return "", false
	}

	var chosen string
	if k, ok := pick("json"); ok {
		chosen = k
	} else if k, ok := pick("multipart"); ok {
		chosen = k
	} else if k, ok := pick("urlencoded"); ok {
		chosen = k
	} else {
		chosen = keys[0]
	}

	media := content[chosen]
	if media == nil || media.Schema == nil {
		return nil
	}
	return media.Schema.Value
}

func bucketParameters(params openapi3.Parameters) (query, path, header map[string]*openapi3.Parameter) {
	query = map[string]*openapi3.Parameter{}
	path = map[string]*openapi3.Parameter{}
	header = map[string]*openapi3.Parameter{}
	for _, pRef := range params {
		if pRef == nil || pRef.Value == nil {
			continue
		}
		p := pRef.Value
		switch p.In {
		case openapi3.ParameterInQuery:
			query[p.Name] = p
		case openapi3.ParameterInPath:
			path[p.Name] = p
		case openapi3.ParameterInHeader:
			header[p.Name] = p
		}
	}
	return query, path, header
}

func ensureAuthorizationHeader(header map[string]*openapi3.Parameter) {
	if _, ok := header["Authorization"]; ok {
		return
	}
	header["Authorization"] = &openapi3.Parameter{
		Name:     "Authorization",
		In:       openapi3.ParameterInHeader,
		Required: true,
		Schema:   openapi3.NewStringSchema().NewRef(),
	}
}

func marshalSchema(s *openapi3.Schema) []byte {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return b
}

func marshalParamSchemas(params map[string]*openapi3.Parameter) []byte {
	if len(params) == 0 {
		return nil
	}
	out := map[string]*openapi3.Schema{}
	for name, p := range params {
		if p.Schema != nil {
			out[name] = p.Schema.Value
		} else {
			out[name] = openapi3.NewStringSchema()
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return b
}
