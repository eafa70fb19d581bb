// Package models defines the core domain models for user-composed dataflow graphs.
package models

import "encoding/json"

// FlowType tags the purpose of a flow (1 = factor pipeline).
type FlowType int

const (
	FlowTypeFactor FlowType = 1
)

// NodeSpec is one entry of a flow's persisted node list. Config carries the
// node-kind-specific configuration as an opaque JSON string.
type NodeSpec struct {
	ID        string `json:"id"         validate:"required"`
	NodeType  string `json:"node_type"  validate:"required"`
	NodeLabel string `json:"node_label"`
	Config    string `json:"config"`
}

// Edge is a directed, labeled dependency between two nodes. EdgeName is the
// key under which the source node's output is delivered to the target.
// UI-only hints in the persisted payload round-trip through Extra; the
// engine ignores them.
type Edge struct {
	Source   string         `json:"source"    validate:"required"`
	Target   string         `json:"target"    validate:"required"`
	EdgeName string         `json:"edge_name" validate:"required"`
	Extra    map[string]any `json:"-"`
}

func (e *Edge) UnmarshalJSON(data []byte) error {
	type plain Edge

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	delete(raw, "source")
	delete(raw, "target")
	delete(raw, "edge_name")

	if len(raw) > 0 {
		decoded.Extra = raw
	}

	*e = Edge(decoded)

	return nil
}

func (e Edge) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+3)
	for k, v := range e.Extra {
		out[k] = v
	}

	out["source"] = e.Source
	out["target"] = e.Target
	out["edge_name"] = e.EdgeName

	return json.Marshal(out)
}

// Flow is a user-defined directed acyclic graph of processing nodes.
// (Username, FlowType, FlowName) is unique, as is FlowID.
type Flow struct {
	FlowID     string     `json:"flow_id"     validate:"required"`
	Username   string     `json:"username"    validate:"required"`
	FlowType   FlowType   `json:"flow_type"   validate:"required"`
	FlowName   string     `json:"flow_name"   validate:"required,min=1"`
	NodeList   []NodeSpec `json:"node_list"`
	EdgeList   []Edge     `json:"edge_list"`
	Desc       string     `json:"desc"`
	CreateTime int64      `json:"create_time"` // epoch seconds
	UpdateTime int64      `json:"update_time"` // epoch seconds
}
