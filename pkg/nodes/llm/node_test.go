package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/nodes/llm"
	"github.com/quantbench/quantflow/pkg/protocol"
)

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	row := map[string]any{"title": "Fed cuts rates", "source": "reuters"}

	t.Run("substitutes known placeholders", func(t *testing.T) {
		t.Parallel()

		out := llm.RenderTemplate("Classify: {{title}} ({{source}})", row)
		assert.Equal(t, "Classify: Fed cuts rates (reuters)", out)
	})

	t.Run("tolerates whitespace inside braces", func(t *testing.T) {
		t.Parallel()

		out := llm.RenderTemplate("{{ title }}", row)
		assert.Equal(t, "Fed cuts rates", out)
	})

	t.Run("unknown placeholders render empty", func(t *testing.T) {
		t.Parallel()

		out := llm.RenderTemplate("x{{missing}}y", row)
		assert.Equal(t, "xy", out)
	})
}

func TestLookupModel(t *testing.T) {
	t.Parallel()

	desc, err := llm.LookupModel("deepseek-chat")
	require.NoError(t, err)
	assert.NotEmpty(t, desc.BaseURL)
	assert.Equal(t, "deepseek-chat", desc.Model)

	_, err = llm.LookupModel("gpt-99")
	assert.Error(t, err)
}

// chatServer serves canned chat completion contents in request order.
func chatServer(t *testing.T, contents []string) *httptest.Server {
	t.Helper()

	i := 0

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := contents[i%len(contents)]
		i++

		resp := map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]any{
						"role":    "assistant",
						"content": content,
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func testNode(t *testing.T, server *httptest.Server, template string) *llm.LLMNode {
	t.Helper()

	desc := llm.ModelDescriptor{BaseURL: server.URL + "/v1", Model: "test-model"}

	return llm.NewLLMNodeWithDescriptor("l1", "test-key", template, desc, server.Client())
}

func TestLLMNodeMergesResponseIntoRow(t *testing.T) {
	t.Parallel()

	server := chatServer(t, []string{`{"sentiment": "positive", "score": 0.9}`})
	defer server.Close()

	node := testNode(t, server, "Classify: {{title}}")

	frame := models.NewFrame("title")
	require.NoError(t, frame.AppendRow([]any{"Fed cuts rates"}))

	out, err := node.Execute(context.Background(), map[string]any{"news": frame}, protocol.NopProgress)
	require.NoError(t, err)

	result, ok := out.(*models.Frame)
	require.True(t, ok)
	require.Equal(t, 1, result.Len())

	rec := result.Record(0)
	assert.Equal(t, "Fed cuts rates", rec["title"])
	assert.Equal(t, "positive", rec["sentiment"])
	assert.EqualValues(t, 0.9, rec["score"])
}

func TestLLMNodeSkipsMalformedResponses(t *testing.T) {
	t.Parallel()

	server := chatServer(t, []string{
		"I think this is positive!",
		`{"sentiment": "negative"}`,
	})
	defer server.Close()

	node := testNode(t, server, "Classify: {{title}}")

	frame := models.NewFrame("title")
	require.NoError(t, frame.AppendRow([]any{"headline one"}))
	require.NoError(t, frame.AppendRow([]any{"headline two"}))

	var warnings int

	progress := func(message string, severity protocol.Severity) {
		if severity == protocol.SeverityWarning {
			warnings++
		}
	}

	out, err := node.Execute(context.Background(), map[string]any{"news": frame}, progress)
	require.NoError(t, err)

	result := out.(*models.Frame)
	assert.Equal(t, 1, result.Len(), "malformed row is skipped, valid row survives")
	assert.Equal(t, 1, warnings)
}

func TestLLMNodeRequiresPromptTemplate(t *testing.T) {
	t.Parallel()

	_, err := llm.NewLLMNode("l1", map[string]any{
		"content": map[string]any{"model_id": "gpt-4o-mini", "api_key": "k"},
	}, protocol.Dependencies{})
	assert.Error(t, err)
}

func TestLLMNodeRejectsUnknownModel(t *testing.T) {
	t.Parallel()

	_, err := llm.NewLLMNode("l1", map[string]any{
		"content": map[string]any{
			"model_id":        "gpt-99",
			"api_key":         "k",
			"prompt_template": "{{x}}",
		},
	}, protocol.Dependencies{})
	assert.Error(t, err)
}
