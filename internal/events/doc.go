// Package events defines the aggregate keys and event applier functions
// that rebuild workflow and system state from the durable event log
package events
