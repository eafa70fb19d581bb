// Package flow builds executable graphs from persisted flow definitions and
// runs them as topological dataflow.
package flow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
	"github.com/quantbench/quantflow/pkg/registry"
)

// outEdge is one outbound edge recorded on its source node: the label and
// the downstream node id.
type outEdge struct {
	name   string
	target string
}

// graphNode couples a constructed node with its adjacency.
type graphNode struct {
	node     protocol.Node
	outs     []outEdge
	inDegree int
}

// Graph is an executable flow: nodes instantiated through the registry and
// per-node ordered (edge_name, downstream) lists. There is no separate edge
// table in memory.
type Graph struct {
	flowID string
	nodes  map[string]*graphNode
	order  []string // node ids in node_list order, for deterministic walks
}

// Build instantiates every node of the flow and wires the edges. It rejects
// unknown node ids in edges and duplicate inbound edge labels on one child.
func Build(ctx context.Context, reg *registry.Registry, f *models.Flow, deps protocol.Dependencies) (*Graph, error) {
	g := &Graph{
		flowID: f.FlowID,
		nodes:  make(map[string]*graphNode, len(f.NodeList)),
		order:  make([]string, 0, len(f.NodeList)),
	}

	for _, spec := range f.NodeList {
		if _, dup := g.nodes[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate node id %s in flow %s", spec.ID, f.FlowID)
		}

		config, err := parseNodeConfig(spec.Config)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", spec.ID, err)
		}

		node, err := reg.CreateNode(ctx, spec.ID, spec.NodeLabel, spec.NodeType, config, deps)
		if err != nil {
			return nil, err
		}

		g.nodes[spec.ID] = &graphNode{node: node}
		g.order = append(g.order, spec.ID)
	}

	// inbound labels per target, to reject label collisions
	inbound := make(map[string]map[string]struct{})

	for _, edge := range f.EdgeList {
		source, ok := g.nodes[edge.Source]
		if !ok {
			return nil, fmt.Errorf("edge references unknown source node %s", edge.Source)
		}

		target, ok := g.nodes[edge.Target]
		if !ok {
			return nil, fmt.Errorf("edge references unknown target node %s", edge.Target)
		}

		labels, ok := inbound[edge.Target]
		if !ok {
			labels = make(map[string]struct{})
			inbound[edge.Target] = labels
		}

		if _, dup := labels[edge.EdgeName]; dup {
			return nil, fmt.Errorf("node %s receives edge label %q more than once", edge.Target, edge.EdgeName)
		}

		labels[edge.EdgeName] = struct{}{}

		source.outs = append(source.outs, outEdge{name: edge.EdgeName, target: edge.Target})
		target.inDegree++
	}

	return g, nil
}

// parseNodeConfig decodes the opaque config string; empty means no
// configuration.
func parseNodeConfig(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}

	var config map[string]any
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("invalid node config: %w", err)
	}

	return config, nil
}
