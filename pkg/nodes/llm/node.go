// Package llm provides the LLM transform node: row-wise prompt completion
// against an OpenAI-compatible chat endpoint, merging the model's JSON
// object back into each row.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
)

const systemPrompt = "You are a data processing assistant. Respond with exactly one JSON object and nothing else: no markdown, no surrounding text."

var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}\s]+)\s*\}\}`)

// LLMNode renders the prompt template per input row, calls the provider,
// and appends the parsed object merged with the original row. Rows whose
// response is not a JSON object are skipped with a warning; provider
// failures fail the node.
type LLMNode struct {
	id       string
	template string
	client   *openai.Client
	model    string
}

// config shape: {content: {model_id, api_key, prompt_template}}.
type nodeConfig struct {
	ModelID        string `json:"model_id"`
	APIKey         string `json:"api_key"`
	PromptTemplate string `json:"prompt_template"`
}

func NewLLMNode(id string, config map[string]any, deps protocol.Dependencies) (*LLMNode, error) {
	raw, ok := config["content"].(map[string]any)
	if !ok {
		return nil, errors.New("missing required field 'content'")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}

	var cfg nodeConfig
	if err := json.Unmarshal(encoded, &cfg); err != nil {
		return nil, fmt.Errorf("invalid llm config: %w", err)
	}

	if cfg.PromptTemplate == "" {
		return nil, errors.New("missing required field 'prompt_template'")
	}

	desc, err := LookupModel(cfg.ModelID)
	if err != nil {
		return nil, err
	}

	return NewLLMNodeWithDescriptor(id, cfg.APIKey, cfg.PromptTemplate, desc, deps.HTTPClient), nil
}

// NewLLMNodeWithDescriptor builds a node against an explicit descriptor;
// used directly by tests to point at a local endpoint.
func NewLLMNodeWithDescriptor(id, apiKey, template string, desc ModelDescriptor, httpClient *http.Client) *LLMNode {
	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = desc.BaseURL

	if httpClient != nil {
		clientConfig.HTTPClient = httpClient
	}

	return &LLMNode{
		id:       id,
		template: template,
		client:   openai.NewClientWithConfig(clientConfig),
		model:    desc.Model,
	}
}

func (n *LLMNode) ID() string {
	return n.id
}

func (n *LLMNode) Type() string {
	return "llm"
}

func (n *LLMNode) Execute(ctx context.Context, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	result := models.NewFrame()
	skipped := 0

	// deterministic frame order regardless of map iteration
	labels := make([]string, 0, len(inputs))
	for label := range inputs {
		labels = append(labels, label)
	}

	sort.Strings(labels)

	for _, label := range labels {
		frame, err := models.FrameOf(inputs[label])
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", label, err)
		}

		for i := range frame.Rows {
			row := frame.Record(i)

			merged, err := n.completeRow(ctx, row)
			if err != nil {
				var parseErr *responseParseError
				if errors.As(err, &parseErr) {
					skipped++

					progress(fmt.Sprintf("llm %s: skipping row %d of %s: %v", n.id, i, label, err), protocol.SeverityWarning)

					continue
				}

				return nil, err
			}

			result.AppendRecord(merged)
		}
	}

	progress(fmt.Sprintf("llm %s produced %d rows (%d skipped)", n.id, result.Len(), skipped), protocol.SeverityInfo)

	return result, nil
}

// responseParseError marks a malformed model response; the row is skipped.
type responseParseError struct {
	cause error
}

func (e *responseParseError) Error() string {
	return fmt.Sprintf("response is not a JSON object: %v", e.cause)
}

// completeRow renders the template for one row, calls the provider and
// merges the parsed object over the original row.
func (n *LLMNode) completeRow(ctx context.Context, row map[string]any) (map[string]any, error) {
	prompt := RenderTemplate(n.template, row)

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("llm response has no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)

	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, &responseParseError{cause: err}
	}

	merged := make(map[string]any, len(row)+len(parsed))
	for k, v := range row {
		merged[k] = v
	}

	for k, v := range parsed {
		merged[k] = v
	}

	return merged, nil
}

// RenderTemplate substitutes {{var}} placeholders with row values; unknown
// placeholders render empty.
func RenderTemplate(template string, row map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		key := placeholderPattern.FindStringSubmatch(match)[1]

		value, ok := row[key]
		if !ok || value == nil {
			return ""
		}

		return fmt.Sprintf("%v", value)
	})
}
