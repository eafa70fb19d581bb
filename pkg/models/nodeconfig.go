package models

// NodeConfig is one versioned configuration record of a node inside a flow.
// For each (FlowID, NodeID) at most one row is a draft; published versions
// are immutable and strictly increasing.
type NodeConfig struct {
	NodeID     string `json:"node_id"   validate:"required"`
	FlowID     string `json:"flow_id"   validate:"required"`
	NodeType   string `json:"node_type" validate:"required"`
	NodeCfg    string `json:"node_cfg"` // opaque serialized configuration
	Version    int    `json:"version"`
	IsDraft    bool   `json:"is_draft"`
	CreateTime int64  `json:"create_time"` // epoch seconds
	UpdateTime int64  `json:"update_time"` // epoch seconds
}
