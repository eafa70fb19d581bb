// Package protocol defines the contracts between the flow engine and the
// pluggable node kinds.
package protocol

import (
	"context"
)

// Severity classifies progress messages emitted during a flow run.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// ProgressFunc receives observability messages from the executor and from
// nodes. Implementations must not panic; the engine calls it on the
// executing goroutine.
type ProgressFunc func(message string, severity Severity)

// NopProgress discards progress messages.
func NopProgress(string, Severity) {}

// Node is a unit of computation inside a flow. Execute receives nil inputs
// for source nodes; otherwise inputs maps each inbound edge label to the
// upstream node's output. The return value is delivered to every outbound
// edge.
type Node interface {
	ID() string
	Type() string
	Execute(ctx context.Context, inputs map[string]any, progress ProgressFunc) (any, error)
}

// NodeFactory creates node instances and describes the node kind.
type NodeFactory interface {
	// Create builds a node from its parsed configuration.
	Create(ctx context.Context, id string, config map[string]any, deps Dependencies) (Node, error)

	// ID returns the registry tag of this node kind.
	ID() string

	// Name returns the human-readable name of this node kind.
	Name() string

	// Description describes what this node kind does.
	Description() string

	// Schema returns the JSON schema node configurations are validated
	// against before Create is called.
	Schema() map[string]any
}
