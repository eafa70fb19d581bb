// Package script provides the script transform node: user code executed in
// an embedded JavaScript engine through a `calc` entry point.
package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/quantbench/quantflow/pkg/models"
	"github.com/quantbench/quantflow/pkg/protocol"
)

// ErrNoCalc is returned when the script does not define a callable `calc`.
var ErrNoCalc = errors.New("script does not define a callable 'calc'")

// ScriptNode runs the configured source, then invokes calc with the input
// mapping. Each edge label is also bound as a global, and calc receives the
// whole mapping as its single argument so scripts can destructure labels
// into parameters. Frames arrive as arrays of records.
type ScriptNode struct {
	id     string
	source string
}

func NewScriptNode(id string, config map[string]any) (*ScriptNode, error) {
	source, ok := config["content"].(string)
	if !ok || source == "" {
		return nil, errors.New("missing required field 'content'")
	}

	return &ScriptNode{id: id, source: source}, nil
}

func (n *ScriptNode) ID() string {
	return n.id
}

func (n *ScriptNode) Type() string {
	return "script"
}

func (n *ScriptNode) Execute(ctx context.Context, inputs map[string]any, progress protocol.ProgressFunc) (any, error) {
	vm := goja.New()

	// A fresh VM per execution; user code never shares state across runs.
	bound := make(map[string]any, len(inputs))

	for label, value := range inputs {
		exported := exportValue(value)
		bound[label] = exported

		if err := vm.Set(label, exported); err != nil {
			return nil, fmt.Errorf("failed to bind input %s: %w", label, err)
		}
	}

	if _, err := vm.RunString(n.source); err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}

	calc, ok := goja.AssertFunction(vm.Get("calc"))
	if !ok {
		return nil, ErrNoCalc
	}

	result, err := calc(goja.Undefined(), vm.ToValue(bound))
	if err != nil {
		return nil, fmt.Errorf("calc failed: %w", err)
	}

	progress(fmt.Sprintf("script %s completed", n.id), protocol.SeverityInfo)

	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}

	return result.Export(), nil
}

// exportValue converts engine values into script-friendly shapes; frames
// become arrays of records.
func exportValue(v any) any {
	if frame, err := models.FrameOf(v); err == nil {
		// only convert genuine frames, not arbitrary maps
		if _, isFrame := v.(*models.Frame); isFrame {
			return frame.Records()
		}

		if _, isFrame := v.(models.Frame); isFrame {
			return frame.Records()
		}
	}

	return v
}
