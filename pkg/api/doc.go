// Package api defines the wire-level types shared between the workflow
// engine, its HTTP surfaces, and external collaborators: workflow graphs,
// node definitions, per-run execution records, and the messages exchanged
// with remote execution endpoints.
package api
