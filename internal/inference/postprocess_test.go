package inference

import (
	"testing"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// TestPostProcess_ScopeFilterDropsHallucinatedVariable reproduces spec.md
// §8 scenario 5: a proposed target variable absent from the consumer's
// explicit inputs must never be persisted.
func TestPostProcess_ScopeFilterDropsHallucinatedVariable(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "GET", Path: "/widgets/{id}"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "id", Location: catalog.LocationPath}},
	}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "p1", TargetVariable: "randomField", Confidence: 0.9}, consumer: consumer},
	}

	out := postProcess(raw, varsByAPI, nil, nil)
	if len(out) != 0 {
		t.Fatalf("expected the hallucinated variable to be filtered out, got %+v", out)
	}
}

func TestPostProcess_SelfReferenceRefused(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "GET", Path: "/widgets"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "name", Location: catalog.LocationBody}},
	}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "c1", TargetVariable: "name", Confidence: 0.9}, consumer: consumer},
	}
	out := postProcess(raw, varsByAPI, nil, nil)
	if len(out) != 0 {
		t.Fatalf("expected self-referencing candidate to be discarded, got %+v", out)
	}
}

func TestPostProcess_PathIdOverrideCapsConfidence(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "GET", Path: "/orders/{orderId}"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "orderId", Location: catalog.LocationPath}},
	}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "p1", TargetVariable: "orderId", Confidence: 0.95}, consumer: consumer},
	}
	out := postProcess(raw, varsByAPI, nil, nil)
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	if out[0].Confidence > 0.6 {
		t.Fatalf("expected confidence capped at 0.6 for a path *Id override, got %v", out[0].Confidence)
	}
	if out[0].Reason != "[System Logic] Path Parameter ID override" {
		t.Fatalf("expected the override reason string, got %q", out[0].Reason)
	}
}

func TestPostProcess_LifecyclePathCapsConfidence(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "POST", Path: "/refunds"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "reason", Location: catalog.LocationBody}},
	}
	producersByID := map[string]producerView{
		"p1": {api: catalog.Api{ID: "p1", Method: "POST", Path: "/orders/{id}/cancel"}},
	}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "p1", TargetVariable: "reason", Confidence: 0.95}, consumer: consumer},
	}
	out := postProcess(raw, varsByAPI, nil, producersByID)
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	if out[0].Confidence > 0.5 {
		t.Fatalf("expected confidence capped at 0.5 for a lifecycle source path, got %v", out[0].Confidence)
	}
}

func TestPostProcess_NonCollectionProducerCapsConfidence(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "POST", Path: "/widgets"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "name", Location: catalog.LocationBody}},
	}
	producersByID := map[string]producerView{
		"p1": {api: catalog.Api{ID: "p1", Method: "GET", Path: "/widgets/{id}/details"}},
	}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "p1", TargetVariable: "name", Confidence: 0.95}, consumer: consumer},
	}
	out := postProcess(raw, varsByAPI, nil, producersByID)
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	if out[0].Confidence > 0.6 {
		t.Fatalf("expected confidence capped at 0.6 when the source is not a POST-on-collection, got %v", out[0].Confidence)
	}
}

func TestPostProcess_SoftCapNeverExceeded(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "POST", Path: "/widgets"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "name", Location: catalog.LocationBody}},
	}
	producersByID := map[string]producerView{
		"p1": {api: catalog.Api{ID: "p1", Method: "POST", Path: "/sources"}},
	}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "p1", TargetVariable: "name", Confidence: 1.0}, consumer: consumer},
	}
	out := postProcess(raw, varsByAPI, nil, producersByID)
	if len(out) != 1 || out[0].Confidence > 0.8 {
		t.Fatalf("expected the 0.8 final soft cap to apply, got %+v", out)
	}
}

func TestPostProcess_OriginTaggingMatchesDeterministicKeys(t *testing.T) {
	consumer := catalog.Api{ID: "c1", Method: "GET", Path: "/widgets/{id}"}
	varsByAPI := map[string][]catalog.Variable{
		"c1": {{ApiRef: "c1", Name: "id", Location: catalog.LocationPath}},
	}
	deterministicKeys := map[candidateKey]bool{{variable: "id", source: "p1"}: true}
	raw := []rawCandidateWithConsumer{
		{raw: rawCandidate{SourceAPIID: "p1", TargetVariable: "id", Confidence: 0.9}, consumer: consumer},
	}
	out := postProcess(raw, varsByAPI, deterministicKeys, nil)
	if len(out) != 1 {
		t.Fatalf("expected one candidate, got %d", len(out))
	}
	if out[0].Origin != catalog.OriginDeterministic {
		t.Fatalf("expected origin=deterministic for a key matching the producer map, got %s", out[0].Origin)
	}
}
