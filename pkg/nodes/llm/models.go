package llm

import "fmt"

// ModelDescriptor binds a model id to an OpenAI-compatible provider
// endpoint. Only the chat-completion family is built in.
type ModelDescriptor struct {
	BaseURL string
	Model   string
}

// modelCatalog maps the model ids selectable in node configs to provider
// endpoints.
var modelCatalog = map[string]ModelDescriptor{
	"gpt-4o-mini":   {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	"gpt-4o":        {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o"},
	"deepseek-chat": {BaseURL: "https://api.deepseek.com/v1", Model: "deepseek-chat"},
	"qwen-plus":     {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-plus"},
	"kimi-k2":       {BaseURL: "https://api.moonshot.cn/v1", Model: "kimi-k2-0711-preview"},
}

// LookupModel resolves a model id from the catalog.
func LookupModel(modelID string) (ModelDescriptor, error) {
	desc, ok := modelCatalog[modelID]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("unknown model id: %s", modelID)
	}

	return desc, nil
}

// ModelIDs lists the selectable model ids.
func ModelIDs() []string {
	ids := make([]string, 0, len(modelCatalog))
	for id := range modelCatalog {
		ids = append(ids, id)
	}

	return ids
}
