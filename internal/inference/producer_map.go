// Package inference implements the Deterministic Linker (C4) and LLM
// Analyzer (C5): deterministic high-confidence candidates from auth
// schemes and a producer map, augmented by LLM-proposed candidates
// subject to strict post-processing.
package inference

import (
	"strings"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// ProducerMap resolves an inferred *Id parameter name to the Api that
// most plausibly produces it, per the root-collection heuristic.
type ProducerMap map[string]catalog.Api

// registerPath is a literal lookup table entry, not a general
// rule: POST /register additionally produces userId even though its own
// resource segment singularizes to nothing resembling "user".
const registerPath = "/register"

// BuildProducerMap scans every Api in apis for root-collection endpoints
// (exactly one path segment, method POST or GET) and records the
// inferred "<singular resource>Id" key each one is taken to produce.
func BuildProducerMap(apis []catalog.Api) ProducerMap {
	pm := ProducerMap{}
	for _, api := range apis {
		if api.Method != "POST" && api.Method != "GET" {
			continue
		}
		segments := pathSegments(api.Path)
		if len(segments) != 1 {
			continue
		}
		inferredID := singularize(segments[0]) + "Id"
		pm[inferredID] = api

		if api.Method == "POST" && api.Path == registerPath {
			pm["userId"] = api
		}
	}
	return pm
}

// ResolveConsumerID applies the context-sensitive rewrite: a consumer
// path containing a literal "{id}" segment preceded by a resource
// segment R is treated as bound to singular(R)+"Id" when looking up the
// producer map, rather than the literal parameter name "id".
func ResolveConsumerID(consumerPath, paramName string) string {
	if paramName != "id" {
		return paramName
	}
	segments := pathSegments(consumerPath)
	for i, seg := range segments {
		if seg == "{id}" && i > 0 {
			return singularize(segments[i-1]) + "Id"
		}
	}
	return paramName
}

func pathSegments(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// singularize is the trivial rule the design mandates: strip a trailing
// "s". No irregular-plural handling is attempted.
func singularize(resource string) string {
	return strings.TrimSuffix(resource, "s")
}

// tokenFieldPreference is the ordered list of response-body field names
// the auth chain rule searches for; the first match across this order
// wins for a given producer.
var tokenFieldPreference = []string{"accessToken", "access_token", "refreshToken", "refresh_token"}

// FindTokenField reports which of tokenFieldPreference, if any, is a
// top-level property name in schema.
func FindTokenField(schemaProperties map[string]bool) (string, bool) {
	for _, name := range tokenFieldPreference {
		if schemaProperties[name] {
			return name, true
		}
	}
	return "", false
}
