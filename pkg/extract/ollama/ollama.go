// Package ollama implements pkg/extract's Extractor by prompting a chat
// model through Ollama's chat API for strict JSON output.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/graph"
)

const (
	// DefaultModel is the default chat model used for extraction.
	DefaultModel = "llama3.1"

	// DefaultBaseURL is the default Ollama API URL.
	DefaultBaseURL = "http://localhost:11434"
)

// Extractor prompts an Ollama chat model for entities, relationships, and
// summaries.
type Extractor struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds configuration for the Ollama extractor.
type Config struct {
	// BaseURL is the Ollama API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Model is the chat model to use. Defaults to DefaultModel if empty.
	Model string
}

// NewExtractor creates an extractor backed by Ollama's chat API.
func NewExtractor(cfg Config, logger *zap.Logger) (*Extractor, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Extractor{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logger,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

const entityPrompt = `Extract the named entities and key concepts from the text below.
Respond with ONLY a JSON object of the form:
{"entities":[{"name":"...","type":"..."}]}
where type is one of: person, location, organization, concept, event, object.

Text:
%s`

const relationPrompt = `Given the text and the entities below, extract directed relationships
between the entities. Respond with ONLY a JSON object of the form:
{"relationships":[{"source":"...","target":"...","type":"...","weight":0.0}]}
where source and target are entity names from the list, type is a short
snake_case label, and weight is a confidence between 0 and 1.

Entities: %s

Text:
%s`

const summaryPrompt = `Summarize the following text in at most three sentences. Respond with
only the summary, no preamble.

Text:
%s`

// entityEnvelope is the schema expected back from the entity prompt.
type entityEnvelope struct {
	Entities []extract.Entity `json:"entities"`
}

// relationEnvelope is the schema expected back from the relationship prompt.
type relationEnvelope struct {
	Relationships []extract.Relation `json:"relationships"`
}

// Entities implements extract.Extractor. Malformed or unparsable model
// output degrades to an empty result.
func (e *Extractor) Entities(ctx context.Context, text string) ([]extract.Entity, error) {
	raw, err := e.chat(ctx, fmt.Sprintf(entityPrompt, text))
	if err != nil {
		e.logger.Warn("entity extraction backend failed", zap.Error(err))
		return nil, nil
	}

	var envelope entityEnvelope
	if err := json.Unmarshal(stripFences(raw), &envelope); err != nil {
		e.logger.Warn("entity extraction returned unparsable output", zap.Error(err))
		return nil, nil
	}

	entities := make([]extract.Entity, 0, len(envelope.Entities))
	for _, ent := range envelope.Entities {
		ent.Name = strings.TrimSpace(ent.Name)
		ent.Type = strings.TrimSpace(strings.ToLower(ent.Type))
		if ent.Name == "" {
			continue
		}
		if ent.Type == "" {
			ent.Type = "concept"
		}
		entities = append(entities, ent)
	}
	return entities, nil
}

// Relations implements extract.Extractor. Skipped entirely when fewer than
// two entities were extracted.
func (e *Extractor) Relations(ctx context.Context, text string, entities []extract.Entity) ([]extract.Relation, error) {
	if len(entities) < 2 {
		return nil, nil
	}

	names := make([]string, len(entities))
	known := make(map[string]struct{}, len(entities))
	for i, ent := range entities {
		names[i] = ent.Name
		known[ent.Name] = struct{}{}
	}

	nameJSON, _ := json.Marshal(names)
	raw, err := e.chat(ctx, fmt.Sprintf(relationPrompt, string(nameJSON), text))
	if err != nil {
		e.logger.Warn("relationship extraction backend failed", zap.Error(err))
		return nil, nil
	}

	var envelope relationEnvelope
	if err := json.Unmarshal(stripFences(raw), &envelope); err != nil {
		e.logger.Warn("relationship extraction returned unparsable output", zap.Error(err))
		return nil, nil
	}

	relations := make([]extract.Relation, 0, len(envelope.Relationships))
	for _, rel := range envelope.Relationships {
		rel.Source = strings.TrimSpace(rel.Source)
		rel.Target = strings.TrimSpace(rel.Target)
		if rel.Source == "" || rel.Target == "" || rel.Source == rel.Target {
			continue
		}
		// Hallucinated endpoints are dropped rather than trusted.
		if _, ok := known[rel.Source]; !ok {
			continue
		}
		if _, ok := known[rel.Target]; !ok {
			continue
		}
		if rel.Type == "" {
			rel.Type = "related_to"
		}
		rel.Weight = graph.ClampWeight(rel.Weight)
		relations = append(relations, rel)
	}
	return relations, nil
}

// Summarize implements extract.Extractor.
func (e *Extractor) Summarize(ctx context.Context, texts []string) (string, error) {
	if len(texts) == 0 {
		return "", nil
	}

	raw, err := e.chat(ctx, fmt.Sprintf(summaryPrompt, strings.Join(texts, "\n\n")))
	if err != nil {
		e.logger.Warn("summarization backend failed", zap.Error(err))
		return "", nil
	}
	return strings.TrimSpace(raw), nil
}

// Close releases resources held by the extractor.
func (e *Extractor) Close() error {
	// HTTP client doesn't require explicit cleanup
	return nil
}

// chat sends a single-message chat request and returns the model's reply.
func (e *Extractor) chat(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:    e.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Format:   "json",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return chatResp.Message.Content, nil
}

// stripFences removes a surrounding markdown code fence, which chat models
// add even when told not to.
func stripFences(s string) []byte {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}

var _ extract.Extractor = (*Extractor)(nil)
