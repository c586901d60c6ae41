// Package server implements the HTTP API server for the workflow engine
//
// This package provides REST endpoints for starting, enqueuing, and
// administering workflows, plus a WebSocket stream of durable log events
package server
