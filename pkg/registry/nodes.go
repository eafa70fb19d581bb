package registry

import (
	"github.com/quantbench/quantflow/pkg/nodes/llm"
	"github.com/quantbench/quantflow/pkg/nodes/rss"
	"github.com/quantbench/quantflow/pkg/nodes/script"
	"github.com/quantbench/quantflow/pkg/nodes/sink"
	"github.com/quantbench/quantflow/pkg/nodes/sqlsource"
	"github.com/quantbench/quantflow/pkg/nodes/sqltransform"
)

// RegisterDefaultNodes registers all built-in node factories with the
// registry. Discovery is explicit: extensions register themselves the same
// way at startup.
func (r *Registry) RegisterDefaultNodes() {
	r.Register(sqlsource.NewSQLSourceNodeFactory())
	r.Register(rss.NewRSSNodeFactory())
	r.Register(script.NewScriptNodeFactory())
	r.Register(sqltransform.NewSQLTransformNodeFactory())
	r.Register(llm.NewLLMNodeFactory())
	r.Register(sink.NewSinkNodeFactory())
}
