// Package client provides an HTTP client for the orchestration
// engine's REST API
//
// A Client starts and enqueues workflows and lists engine state. A
// WorkflowHandle tracks an individual workflow: status polling,
// blocking result retrieval, cancellation, resumption, forking, and
// event and message exchange
package client
