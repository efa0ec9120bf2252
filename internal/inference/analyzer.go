package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

var errTransport = catalog.ErrTransport

const (
	batchSize          = 3
	defaultConcurrency = 4
)

// Analyzer runs C4 then C5 and replaces a project's DependencyCandidate
// set atomically.
type Analyzer struct {
	Store  catalog.Store
	Chat   ChatClient
	Model  string
	Concurrency int
}

// consumerView is the prompt-facing shape of one consumer endpoint.
type consumerView struct {
	api    catalog.Api
	inputs []catalog.Variable // user_input, Authorization headers stripped
}

// producerView is the prompt-facing shape of one producer endpoint.
type producerView struct {
	api       catalog.Api
	responses []catalog.ApiResponse
}

// Analyze builds prompt context, dispatches batched LLM calls, combines
// their post-processed output with the deterministic candidates, and
// replaces the project's candidate set in one atomic write.
func (a *Analyzer) Analyze(ctx context.Context, projectID string) error {
	apis, err := a.Store.ListApisByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("list apis: %w", err)
	}

	producers := make([]producerView, 0, len(apis))
	consumers := make([]consumerView, 0, len(apis))
	varsByAPI := map[string][]catalog.Variable{}

	for _, api := range apis {
		responses, err := a.Store.ListApiResponses(ctx, api.ID)
		if err != nil {
			return fmt.Errorf("list responses for %s: %w", api.ID, err)
		}
		producers = append(producers, producerView{api: api, responses: responses})

		vars, err := a.Store.ListVariablesByApi(ctx, api.ID)
		if err != nil {
			return fmt.Errorf("list variables for %s: %w", api.ID, err)
		}
		varsByAPI[api.ID] = vars

		var inputs []catalog.Variable
		for _, v := range vars {
			if v.VarType != catalog.VarUserInput {
				continue
			}
			if v.Location == catalog.LocationHeader && v.Name == "Authorization" {
				continue // handled deterministically
			}
			inputs = append(inputs, v)
		}
		if len(inputs) > 0 {
			consumers = append(consumers, consumerView{api: api, inputs: inputs})
		}
	}

	deterministic, err := BuildDeterministicCandidates(ctx, a.Store, projectID)
	if err != nil {
		return fmt.Errorf("deterministic linker: %w", err)
	}
	deterministicKeys := candidateKeySet(deterministic)

	producersByID := make(map[string]producerView, len(producers))
	for _, p := range producers {
		producersByID[p.api.ID] = p
	}

	batches := partition(consumers, batchSize)

	concurrency := a.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var mu sync.Mutex
	var inferred []catalog.DependencyCandidate

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			// A failed batch contributes no candidates; its error is
			// dropped here, not logged, and does not cancel sibling
			// batches: errgroup is used here only for Go/Wait, never
			// for WithContext-style cancellation propagation.
			cands, err := a.runBatch(ctx, batch, producers)
			if err != nil {
				return nil
			}
			filtered := postProcess(cands, varsByAPI, deterministicKeys, producersByID)
			mu.Lock()
			inferred = append(inferred, filtered...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	all := append(deterministic, inferred...)
	if err := a.Store.ReplaceCandidates(ctx, projectID, all); err != nil {
		return fmt.Errorf("replace candidates: %w", err)
	}
	return nil
}

func partition(consumers []consumerView, size int) [][]consumerView {
	var out [][]consumerView
	for i := 0; i < len(consumers); i += size {
		end := i + size
		if end > len(consumers) {
			end = len(consumers)
		}
		out = append(out, consumers[i:end])
	}
	return out
}

func (a *Analyzer) runBatch(ctx context.Context, batch []consumerView, producers []producerView) ([]rawCandidateWithConsumer, error) {
	prompt := buildPrompt(batch, producers)
	resp, err := a.Chat.Chat(ctx, ChatRequest{
		Model: a.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: "You infer producer-to-consumer API dependencies and reply with strict JSON only."},
			{Role: "user", Content: prompt},
		},
		Format:  "json",
		Stream:  false,
		Options: ChatOptions{Temperature: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrLLMBatchFailed, err)
	}

	raw, err := parseCandidates(resp.Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", catalog.ErrLLMBatchFailed, err)
	}

	// Without a per-candidate consumer tag from the model we attribute
	// every candidate in a batch's response to every consumer in that
	// batch; postProcess's scope filter then drops each pairing whose
	// target variable the consumer does not have.
	var out []rawCandidateWithConsumer
	for _, rc := range raw {
		for _, c := range batch {
			out = append(out, rawCandidateWithConsumer{raw: rc, consumer: c.api})
		}
	}
	return out, nil
}

type rawCandidateWithConsumer struct {
	raw      rawCandidate
	consumer catalog.Api
}

func buildPrompt(batch []consumerView, producers []producerView) string {
	var b strings.Builder
	b.WriteString("Producers:\n")
	for _, p := range producers {
		b.WriteString(fmt.Sprintf("- id=%s %s %s", p.api.ID, p.api.Method, p.api.Path))
		for _, r := range p.responses {
			b.WriteString(fmt.Sprintf(" [status=%d]", r.StatusCode))
		}
		b.WriteString("\n")
	}
	b.WriteString("Consumers:\n")
	for _, c := range batch {
		b.WriteString(fmt.Sprintf("- id=%s %s %s inputs=[", c.api.ID, c.api.Method, c.api.Path))
		for i, v := range c.inputs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("%s (%s)", v.Name, v.DataType))
		}
		b.WriteString("]\n")
	}
	b.WriteString("Reply as JSON: {\"candidates\":[{\"sourceApiId\":...,\"targetVariable\":...,\"sourcePath\":...,\"confidence\":0.0}]}\n")
	return b.String()
}

type candidateKey struct {
	variable string
	source   string
}

func candidateKeySet(cands []catalog.DependencyCandidate) map[candidateKey]bool {
	out := map[candidateKey]bool{}
	for _, c := range cands {
		for _, k := range c.Mapping.Keys {
			out[candidateKey{variable: k, source: c.SourceApiRef}] = true
		}
	}
	return out
}

var lifecyclePathTerms = []string{"history", "status", "balance", "cancel", "pay"}

// postProcess applies, in order: the scope filter, the path-*Id
// override, self-reference refusal, the ordered confidence clamps, and
// origin tagging.
func postProcess(raw []rawCandidateWithConsumer, varsByAPI map[string][]catalog.Variable, deterministicKeys map[candidateKey]bool, producersByID map[string]producerView) []catalog.DependencyCandidate {
	var out []catalog.DependencyCandidate

	for _, rc := range raw {
		targetVar, ok := findVariable(varsByAPI[rc.consumer.ID], rc.raw.TargetVariable)
		if !ok {
			continue // scope filter: hallucinated variable name
		}

		if rc.raw.SourceAPIID == rc.consumer.ID {
			continue // self-reference refusal
		}

		confidence := rc.raw.Confidence
		reason := "LLM-inferred dependency"

		if targetVar.Location == catalog.LocationPath && strings.HasSuffix(targetVar.Name, "Id") {
			confidence = math.Min(confidence, 0.6)
			reason = "[System Logic] Path Parameter ID override"
		}

		usesID := strings.Contains(strings.ToLower(targetVar.Name), "id")
		targetHasID := hasIDVariable(varsByAPI[rc.consumer.ID])
		if usesID || targetHasID {
			confidence = math.Min(confidence, 0.6)
		}
		if producer, ok := producersByID[rc.raw.SourceAPIID]; ok {
			if containsAny(strings.ToLower(producer.api.Path), lifecyclePathTerms) {
				confidence = math.Min(confidence, 0.5)
			}
			if !isPostOnCollection(producer.api) {
				confidence = math.Min(confidence, 0.6)
			} else if producer.api.Method == "GET" && responseIsArray(producer.responses) {
				confidence = math.Min(confidence, 0.7)
			}
		}
		confidence = math.Min(confidence, 0.8) // final soft cap

		confidence = roundTo2(confidence)

		mapping := catalog.NewMapping()
		mapping.Set(targetVar.Name, rc.raw.SourcePath)

		key := candidateKey{variable: targetVar.Name, source: rc.raw.SourceAPIID}
		origin := catalog.OriginInferred
		if deterministicKeys[key] {
			origin = catalog.OriginDeterministic
		}

		out = append(out, catalog.DependencyCandidate{
			SourceApiRef: rc.raw.SourceAPIID,
			TargetApiRef: rc.consumer.ID,
			Mapping:      mapping,
			Confidence:   confidence,
			Origin:       origin,
			Reason:       reason,
		})
	}
	return out
}

func findVariable(vars []catalog.Variable, name string) (catalog.Variable, bool) {
	for _, v := range vars {
		if v.Name == name {
			return v, true
		}
	}
	return catalog.Variable{}, false
}

func hasIDVariable(vars []catalog.Variable) bool {
	for _, v := range vars {
		if strings.Contains(strings.ToLower(v.Name), "id") {
			return true
		}
	}
	return false
}

func isPostOnCollection(api catalog.Api) bool {
	if api.Method != "POST" {
		return false
	}
	trimmed := strings.Trim(api.Path, "/")
	return trimmed != "" && !strings.Contains(trimmed, "/")
}

func responseIsArray(responses []catalog.ApiResponse) bool {
	for _, r := range responses {
		if len(r.Schema) == 0 {
			continue
		}
		var parsed struct {
			Type any `json:"type"`
		}
		if err := json.Unmarshal(r.Schema, &parsed); err != nil {
			continue
		}
		if t, ok := parsed.Type.(string); ok && t == "array" {
			return true
		}
		if list, ok := parsed.Type.([]any); ok {
			for _, t := range list {
				if s, ok := t.(string); ok && s == "array" {
					return true
				}
			}
		}
	}
	return false
}

func containsAny(haystack string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			return true
		}
	}
	return false
}

func roundTo2(f float64) float64 {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return f
	}
	return v
}
