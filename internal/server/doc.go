// Package server implements the HTTP API for the workflow engine
//
// This package provides REST endpoints for node definitions, workflow
// runs, health checks, and a WebSocket event stream
package server
