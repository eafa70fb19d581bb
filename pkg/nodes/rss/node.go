// Package rss provides the RSS source node: fetches configured feeds and
// emits entries deduplicated by guid.
package rss

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmcdole/gofeed"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
)

// FeedInfo is one configured feed.
type FeedInfo struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ErrNoFeeds is returned when the node is configured without any feed.
var ErrNoFeeds = errors.New("rss node has no configured feeds")

// RSSNode fetches every selected feed and concatenates the entries,
// keeping the first entry seen per guid.
type RSSNode struct {
	id     string
	feeds  []FeedInfo
	parser *gofeed.Parser
}

func NewRSSNode(id string, config map[string]any, deps protocol.Dependencies) (*RSSNode, error) {
	feeds, err := parseFeeds(config)
	if err != nil {
		return nil, err
	}

	if len(feeds) == 0 {
		return nil, ErrNoFeeds
	}

	parser := gofeed.NewParser()
	if deps.HTTPClient != nil {
		parser.Client = deps.HTTPClient
	}

	return &RSSNode{id: id, feeds: feeds, parser: parser}, nil
}

// parseFeeds resolves rss_info filtered by selected_rss_ids; an empty
// selection means every configured feed.
func parseFeeds(config map[string]any) ([]FeedInfo, error) {
	rawInfo, ok := config["rss_info"].([]any)
	if !ok || len(rawInfo) == 0 {
		return nil, ErrNoFeeds
	}

	selected := make(map[string]struct{})

	if rawSelected, ok := config["selected_rss_ids"].([]any); ok {
		for _, s := range rawSelected {
			if id, ok := s.(string); ok {
				selected[id] = struct{}{}
			}
		}
	}

	feeds := make([]FeedInfo, 0, len(rawInfo))

	for _, raw := range rawInfo {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.New("rss_info entries must be objects")
		}

		id, _ := entry["id"].(string)
		url, _ := entry["url"].(string)

		if url == "" {
			return nil, fmt.Errorf("rss feed %s has no url", id)
		}

		if len(selected) > 0 {
			if _, ok := selected[id]; !ok {
				continue
			}
		}

		feeds = append(feeds, FeedInfo{ID: id, URL: url})
	}

	return feeds, nil
}

func (n *RSSNode) ID() string {
	return n.id
}

func (n *RSSNode) Type() string {
	return "rss_source"
}

func (n *RSSNode) Execute(ctx context.Context, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	frame := models.NewFrame("title", "desc", "guid", "pub_time")
	seen := make(map[string]struct{})

	for _, feed := range n.feeds {
		parsed, err := n.parser.ParseURLWithContext(feed.URL, ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch feed %s: %w", feed.ID, err)
		}

		for _, item := range parsed.Items {
			guid := item.GUID
			if guid == "" {
				guid = item.Link
			}

			if _, dup := seen[guid]; dup {
				continue
			}

			seen[guid] = struct{}{}

			var pubTime int64
			if item.PublishedParsed != nil {
				pubTime = item.PublishedParsed.Unix()
			} else if item.UpdatedParsed != nil {
				pubTime = item.UpdatedParsed.Unix()
			}

			_ = frame.AppendRow([]any{item.Title, item.Description, guid, pubTime})
		}

		progress(fmt.Sprintf("fetched feed %s (%d entries)", feed.ID, len(parsed.Items)), protocol.SeverityInfo)
	}

	return frame, nil
}
