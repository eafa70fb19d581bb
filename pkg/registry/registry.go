// Package registry maps node-kind tags to node factories.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/quantbench/quantflow/pkg/protocol"
)

// ErrUnknownNodeKind is returned when a tag has no registered factory.
var ErrUnknownNodeKind = errors.New("unknown node kind")

// Registry holds the process-wide node factory set. It is populated at
// startup and treated as immutable afterwards.
type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.NodeFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[string]protocol.NodeFactory),
	}
}

// Register adds a node factory under its tag. Tags are case-insensitive;
// a duplicate registration replaces the previous factory.
func (r *Registry) Register(factory protocol.NodeFactory) {
	tag := strings.ToLower(factory.ID())
	r.factories[tag] = factory
	r.logger.Debug("registered node kind", "tag", tag)
}

// Factory returns the factory for a tag.
func (r *Registry) Factory(nodeType string) (protocol.NodeFactory, bool) {
	factory, ok := r.factories[strings.ToLower(nodeType)]

	return factory, ok
}

// NodeKinds returns the registered factories, for discovery endpoints.
func (r *Registry) NodeKinds() []protocol.NodeFactory {
	kinds := make([]protocol.NodeFactory, 0, len(r.factories))
	for _, factory := range r.factories {
		kinds = append(kinds, factory)
	}

	return kinds
}

// CreateNode validates config against the factory schema and constructs the
// node instance.
func (r *Registry) CreateNode(ctx context.Context, nodeID, nodeLabel, nodeType string, config map[string]any, deps protocol.Dependencies) (protocol.Node, error) {
	factory, ok := r.Factory(nodeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeKind, nodeType)
	}

	if err := r.validateConfig(factory, config); err != nil {
		return nil, fmt.Errorf("invalid config for node %s (%s): %w", nodeID, nodeType, err)
	}

	r.logger.Debug("creating node", "node_id", nodeID, "node_label", nodeLabel, "node_type", nodeType)

	return factory.Create(ctx, nodeID, config, deps)
}

// validateConfig checks a node configuration against the factory's JSON
// schema.
func (r *Registry) validateConfig(factory protocol.NodeFactory, config map[string]any) error {
	schema := factory.Schema()
	if schema == nil {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(config),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return errors.New(strings.Join(details, "; "))
	}

	return nil
}
