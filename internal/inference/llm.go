package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"
)

// ChatRequest is the exact envelope the external LLM chat endpoint
// expects, per §6: model, messages, a response-format directive, no
// streaming, and a fixed sampling temperature so results are
// reproducible across runs.
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []ChatMessage  `json:"messages"`
	Format   string         `json:"format"`
	Stream   bool           `json:"stream"`
	Options  ChatOptions    `json:"options"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatOptions struct {
	Temperature float64 `json:"temperature"`
}

// ChatResponse wraps the single message the endpoint returns.
type ChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// ChatClient is the injected dependency inference talks to. Modeled as
// a single blocking call per the design's "LLM coroutine-style async"
// note: batching is explicit at the caller, cancellation is not
// required beyond what ctx already offers.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// HTTPChatClient is the default ChatClient, posting to a configurable
// chat completion endpoint.
type HTTPChatClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// chatCallTimeout is the per-batch timeout the design mandates (≥ 10
// minutes) for the LLM chat call.
const chatCallTimeout = 10 * time.Minute

func (c HTTPChatClient) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, chatCallTimeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ChatResponse{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	if client.Timeout > 0 && client.Timeout < chatCallTimeout {
		// The client's own deadline would end the call before chatCallTimeout.
		widened := *client
		widened.Timeout = chatCallTimeout
		client = &widened
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("%w: %v", errTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResponse{}, fmt.Errorf("%w: chat endpoint returned %d", errTransport, resp.StatusCode)
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ChatResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	return out, nil
}

var codeFenceRE = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripCodeFences removes a single layer of Markdown code fencing (with
// an optional "json" language tag) that models commonly wrap structured
// output in, tolerating raw unfenced JSON unchanged.
func stripCodeFences(content string) string {
	if m := codeFenceRE.FindStringSubmatch(content); m != nil {
		return m[1]
	}
	return content
}

// rawCandidate is the shape the model is asked to reply with for each
// proposed candidate, before post-processing.
type rawCandidate struct {
	SourceAPIID    string  `json:"sourceApiId"`
	TargetVariable string  `json:"targetVariable"`
	SourcePath     string  `json:"sourcePath"`
	Confidence     float64 `json:"confidence"`
}

type rawCandidateEnvelope struct {
	Candidates []rawCandidate `json:"candidates"`
}

func parseCandidates(content string) ([]rawCandidate, error) {
	stripped := stripCodeFences(content)
	var env rawCandidateEnvelope
	if err := json.Unmarshal([]byte(stripped), &env); err != nil {
		return nil, fmt.Errorf("parse candidate envelope: %w", err)
	}
	return env.Candidates, nil
}
