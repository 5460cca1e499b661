// Package engine implements the workflow execution core: a breadth-first
// scheduler over a node/connection graph, a per-node executor with three
// execution environments, a template expression resolver, a conditional
// router, an item processor, and a bounded retry handler. A run executes
// to completion or halt within a single Execute call and hands its full
// record map to the caller; the engine persists nothing itself.
package engine
