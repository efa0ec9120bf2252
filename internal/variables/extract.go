// Package variables implements the Variable Extractor (C3): a
// deterministic decomposition of an endpoint's request surface into
// typed Variable rows, walking OpenAPI schemas as a tagged sum over
// object/array/primitive/composite/unknown per the bounded-recursion,
// visited-set guidance the governing design carries forward from the
// source's notes on cyclic $ref graphs.
package variables

import (
	"sort"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// maxDepth is the hard recursion ceiling that backstops the visited-set
// guard: re-marshaled SchemaRef values can defeat pointer-identity
// cycle detection, so depth is a second, independent safety net.
const maxDepth = 32

// BodyDescriptor carries the resolved request body schema, if any.
type BodyDescriptor struct {
	Schema  *openapi3.Schema
	Present bool
}

// Input is everything the extractor needs for one operation.
type Input struct {
	ApiID        string
	BodySchema   BodyDescriptor
	QueryParams  map[string]*openapi3.Parameter
	PathParams   map[string]*openapi3.Parameter
	HeaderParams map[string]*openapi3.Parameter
	NeedsAuth    bool
}

// schemaKind is the tagged-sum classification of a schema node.
type schemaKind int

const (
	kindUnknown schemaKind = iota
	kindObject
	kindArray
	kindPrimitive
	kindComposite
)

func classify(s *openapi3.Schema) schemaKind {
	if s == nil {
		return kindUnknown
	}
	if len(s.AllOf) > 0 || len(s.OneOf) > 0 || len(s.AnyOf) > 0 {
		return kindComposite
	}
	if s.Type != nil {
		switch {
		case s.Type.Is("object") || len(s.Properties) > 0:
			return kindObject
		case s.Type.Is("array"):
			return kindArray
		case s.Type.Is("string"), s.Type.Is("integer"), s.Type.Is("number"), s.Type.Is("boolean"):
			return kindPrimitive
		}
	}
	if len(s.Properties) > 0 {
		return kindObject
	}
	if s.Items != nil {
		return kindArray
	}
	return kindUnknown
}

// Extract produces every Variable row reachable from one operation's
// request surface: the body schema's leaves (and intermediate objects),
// each bucketed parameter, and — when required — a synthetic
// Authorization header variable.
func Extract(in Input) []catalog.Variable {
	var out []catalog.Variable

	if in.BodySchema.Present && in.BodySchema.Schema != nil {
		w := &walker{visited: map[*openapi3.Schema]bool{}}
		out = append(out, w.walk(in.ApiID, in.BodySchema.Schema, "", true, 0)...)
	}

	out = append(out, paramVariables(in.ApiID, in.QueryParams, catalog.LocationQuery, false)...)
	out = append(out, paramVariables(in.ApiID, in.PathParams, catalog.LocationPath, true)...)
	out = append(out, paramVariables(in.ApiID, in.HeaderParams, catalog.LocationHeader, false)...)

	if in.NeedsAuth && !hasAuthorizationHeader(out) {
		out = append(out, catalog.Variable{
			ApiRef:   in.ApiID,
			Name:     "Authorization",
			Location: catalog.LocationHeader,
			VarType:  catalog.VarSynthetic,
			DataType: "string",
			Required: true,
		})
	}

	return out
}

func hasAuthorizationHeader(vars []catalog.Variable) bool {
	for _, v := range vars {
		if v.Location == catalog.LocationHeader && v.Name == "Authorization" {
			return true
		}
	}
	return false
}

type walker struct {
	visited map[*openapi3.Schema]bool
}

// walk recursively emits Variable rows for body schema nodes. It
// descends properties, items, and allOf/oneOf/anyOf members, dot-joining
// field names into a qualified name. Array items are flattened into the
// same qualified name as their parent rather than introducing a "[]"
// segment, so an array of primitives yields one leaf at the array's own
// name and an array of objects yields leaves at "<array>.<field>".
func (w *walker) walk(apiID string, s *openapi3.Schema, qualifiedName string, requiredByParent bool, depth int) []catalog.Variable {
	if s == nil || depth > maxDepth {
		return nil
	}
	if w.visited[s] {
		return nil
	}
	w.visited[s] = true

	kind := classify(s)
	var out []catalog.Variable

	switch kind {
	case kindObject:
		if qualifiedName != "" {
			out = append(out, catalog.Variable{
				ApiRef:   apiID,
				Name:     qualifiedName,
				Location: catalog.LocationBody,
				VarType:  catalog.VarUserInput,
				DataType: dataType(s),
				Required: requiredByParent,
			})
		}
		required := map[string]bool{}
		for _, r := range s.Required {
			required[r] = true
		}
		for name, propRef := range s.Properties {
			if propRef == nil || propRef.Value == nil {
				continue
			}
			prop := propRef.Value
			if prop.ReadOnly {
				continue // readOnly properties are excluded from input variables.
			}
			child := name
			if qualifiedName != "" {
				child = qualifiedName + "." + name
			}
			out = append(out, w.walk(apiID, prop, child, required[name], depth+1)...)
		}
	case kindArray:
		if s.Items != nil && s.Items.Value != nil {
			out = append(out, w.walk(apiID, s.Items.Value, qualifiedName, requiredByParent, depth+1)...)
		} else if qualifiedName != "" {
			out = append(out, catalog.Variable{
				ApiRef:   apiID,
				Name:     qualifiedName,
				Location: catalog.LocationBody,
				VarType:  catalog.VarUserInput,
				DataType: "unknown",
				Required: requiredByParent,
			})
		}
	case kindComposite:
		for _, member := range composedOf(s) {
			if member == nil || member.Value == nil {
				continue
			}
			out = append(out, w.walk(apiID, member.Value, qualifiedName, requiredByParent, depth+1)...)
		}
	case kindPrimitive, kindUnknown:
		if qualifiedName != "" {
			out = append(out, catalog.Variable{
				ApiRef:   apiID,
				Name:     qualifiedName,
				Location: catalog.LocationBody,
				VarType:  catalog.VarUserInput,
				DataType: dataType(s),
				Required: requiredByParent,
			})
		}
	}

	return out
}

func composedOf(s *openapi3.Schema) []*openapi3.SchemaRef {
	var refs []*openapi3.SchemaRef
	refs = append(refs, s.AllOf...)
	refs = append(refs, s.OneOf...)
	refs = append(refs, s.AnyOf...)
	return refs
}

func dataType(s *openapi3.Schema) string {
	if s == nil {
		return "unknown"
	}
	var typeName string
	if s.Type != nil && len(*s.Type) > 0 {
		typeName = (*s.Type)[0]
	}
	if typeName == "" {
		return "unknown"
	}
	if s.Format != "" {
		return typeName + "(" + s.Format + ")"
	}
	return typeName
}

func paramVariables(apiID string, params map[string]*openapi3.Parameter, loc catalog.VariableLocation, forceRequired bool) []catalog.Variable {
	if len(params) == 0 {
		return nil
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	// Deterministic order keeps generated Variable slices stable for tests.
	sort.Strings(names)

	out := make([]catalog.Variable, 0, len(names))
	for _, name := range names {
		p := params[name]
		var schema *openapi3.Schema
		if p.Schema != nil {
			schema = p.Schema.Value
		}
		required := forceRequired || p.Required
		out = append(out, catalog.Variable{
			ApiRef:   apiID,
			Name:     name,
			Location: loc,
			VarType:  catalog.VarUserInput,
			DataType: dataType(schema),
			Required: required,
		})
	}
	return out
}
