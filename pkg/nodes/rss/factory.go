package rss

import (
	"context"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// RSSNodeFactory creates RSSNode instances.
type RSSNodeFactory struct{}

func (f *RSSNodeFactory) Create(ctx context.Context, id string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	return NewRSSNode(id, config, deps)
}

func (f *RSSNodeFactory) ID() string {
	return "rss_source"
}

func (f *RSSNodeFactory) Name() string {
	return "RSS Source"
}

func (f *RSSNodeFactory) Description() string {
	return "Fetches RSS/Atom feeds and emits entries deduplicated by guid"
}

func (f *RSSNodeFactory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"selected_rss_ids": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"rss_info": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"id":  map[string]any{"type": "string"},
						"url": map[string]any{"type": "string"},
					},
					"required": []string{"id", "url"},
				},
			},
		},
		"required": []string{"rss_info"},
	}
}

func NewRSSNodeFactory() protocol.NodeFactory {
	return &RSSNodeFactory{}
}
