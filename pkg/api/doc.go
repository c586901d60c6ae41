// Package api defines the shared types of the perdura engine: workflow and
// system aggregate state, step records, queue entries, event payloads,
// retry policies, and the request/response bodies of the HTTP interface.
package api
