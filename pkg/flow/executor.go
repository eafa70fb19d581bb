package flow

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/quantbench/quantflow/pkg/otelhelper"
	"github.com/quantbench/quantflow/pkg/protocol"
)

// ErrCycle is returned when the graph leaves nodes unexecuted: no
// topological order covers them.
var ErrCycle = errors.New("flow graph contains a cycle")

var tracer = otel.Tracer("quantflow/flow")

// Execute runs the graph as topological dataflow. Every node executes
// exactly once, after all of its inbound edges have delivered. Source nodes
// receive nil inputs. The returned map holds each node's output keyed by
// node id. Any node error aborts the run; partial outputs are discarded.
func (g *Graph) Execute(ctx context.Context, progress protocol.ProgressFunc) (map[string]any, error) {
	if progress == nil {
		progress = protocol.NopProgress
	}

	ctx, span := otelhelper.StartSpan(ctx, tracer, "flow.execute",
		attribute.String(otelhelper.FlowIDKey, g.flowID))
	defer span.End()

	inDegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		inDegree[id] = node.inDegree
	}

	outputs := make(map[string]any, len(g.nodes))
	pending := make(map[string]map[string]any)
	queue := make([]string, 0, len(g.nodes))
	executed := 0

	// sources first, in node_list order
	for _, id := range g.order {
		if inDegree[id] != 0 {
			continue
		}

		out, err := g.runNode(ctx, id, nil, progress)
		if err != nil {
			return nil, err
		}

		outputs[id] = out
		executed++

		queue = append(queue, id)
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, edge := range g.nodes[id].outs {
			inputs, ok := pending[edge.target]
			if !ok {
				inputs = make(map[string]any)
				pending[edge.target] = inputs
			}

			inputs[edge.name] = outputs[id]
			inDegree[edge.target]--

			if inDegree[edge.target] > 0 {
				continue
			}

			out, err := g.runNode(ctx, edge.target, inputs, progress)
			if err != nil {
				return nil, err
			}

			outputs[edge.target] = out
			delete(pending, edge.target)
			executed++

			queue = append(queue, edge.target)
		}
	}

	if executed != len(g.nodes) {
		return nil, fmt.Errorf("%w: %d of %d nodes unexecuted", ErrCycle, len(g.nodes)-executed, len(g.nodes))
	}

	return outputs, nil
}

func (g *Graph) runNode(ctx context.Context, id string, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	node := g.nodes[id].node

	ctx, span := otelhelper.StartSpan(ctx, tracer, "flow.node",
		attribute.String(otelhelper.NodeIDKey, id),
		attribute.String(otelhelper.NodeTypeKey, node.Type()),
	)
	defer span.End()

	progress(fmt.Sprintf("executing node %s (%s)", id, node.Type()), protocol.SeverityInfo)

	out, err := node.Execute(ctx, inputs, progress)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, id))
		progress(fmt.Sprintf("node %s failed: %v", id, err), protocol.SeverityError)

		return nil, fmt.Errorf("node %s: %w", id, err)
	}

	return out, nil
}
