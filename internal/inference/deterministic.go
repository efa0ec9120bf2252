package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// BuildDeterministicCandidates runs the Deterministic Linker (C4) over
// every Api in the project: the producer-map rule for path parameters
// named "id" or ending in "Id", and the auth chain rule for Authorization header
// variables. Every candidate it emits carries confidence 1.0 and
// origin=deterministic; the LLM layer (C5) may never override these.
func BuildDeterministicCandidates(ctx context.Context, store catalog.Store, projectID string) ([]catalog.DependencyCandidate, error) {
	apis, err := store.ListApisByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list apis: %w", err)
	}
	producerMap := BuildProducerMap(apis)

	tokenProducers, err := findTokenProducers(ctx, store, apis)
	if err != nil {
		return nil, err
	}

	var out []catalog.DependencyCandidate
	for _, consumer := range apis {
		vars, err := store.ListVariablesByApi(ctx, consumer.ID)
		if err != nil {
			return nil, fmt.Errorf("list variables for %s: %w", consumer.ID, err)
		}
		for _, v := range vars {
			if v.Location == catalog.LocationPath && (v.Name == "id" || strings.HasSuffix(v.Name, "Id")) {
				inferredKey := ResolveConsumerID(consumer.Path, v.Name)
				producer, ok := producerMap[inferredKey]
				if !ok || producer.ID == consumer.ID {
					continue
				}
				mapping := catalog.NewMapping()
				mapping.Set(v.Name, "id")
				out = append(out, catalog.DependencyCandidate{
					SourceApiRef: producer.ID,
					TargetApiRef: consumer.ID,
					Mapping:      mapping,
					Confidence:   1.0,
					Origin:       catalog.OriginDeterministic,
					Reason:       "Deterministic: producer-map id binding",
				})
			}

			if v.Location == catalog.LocationHeader && v.Name == "Authorization" {
				for _, tp := range tokenProducers {
					if tp.apiID == consumer.ID {
						continue
					}
					mapping := catalog.NewMapping()
					mapping.Set("Authorization", tp.field)
					out = append(out, catalog.DependencyCandidate{
						SourceApiRef: tp.apiID,
						TargetApiRef: consumer.ID,
						Mapping:      mapping,
						Confidence:   1.0,
						Origin:       catalog.OriginDeterministic,
						Reason:       "Deterministic Auth: Bearer Token",
					})
				}
			}
		}
	}
	return out, nil
}

type tokenProducer struct {
	apiID string
	field string
}

// findTokenProducers scans every Api's response schemas for one of the
// token field names, in preference order, and records the first match
// per Api.
func findTokenProducers(ctx context.Context, store catalog.Store, apis []catalog.Api) ([]tokenProducer, error) {
	var out []tokenProducer
	for _, api := range apis {
		responses, err := store.ListApiResponses(ctx, api.ID)
		if err != nil {
			return nil, fmt.Errorf("list responses for %s: %w", api.ID, err)
		}
		for _, resp := range responses {
			props := topLevelProperties(resp.Schema)
			if field, ok := FindTokenField(props); ok {
				out = append(out, tokenProducer{apiID: api.ID, field: field})
				break
			}
		}
	}
	return out, nil
}

func topLevelProperties(schemaJSON []byte) map[string]bool {
	if len(schemaJSON) == 0 {
		return nil
	}
	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schemaJSON, &parsed); err != nil {
		return nil
	}
	out := make(map[string]bool, len(parsed.Properties))
	for name := range parsed.Properties {
		out[name] = true
	}
	return out
}
