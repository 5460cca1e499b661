// Package weft is a workflow execution engine: workflows are directed
// graphs of typed nodes executed breadth-first, with template expressions,
// conditional routing, item processing, and retry handling
package weft

const (
	// Name identifies the service in logs and health responses
	Name = "weft-engine"

	// Version is the reported service version
	Version = "0.1.0"
)
