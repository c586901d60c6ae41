// Package engine implements the durable workflow execution engine
//
// Workflows are registered Go functions whose step outcomes are persisted
// to an event-sourced log. A workflow that is interrupted replays from its
// log: recorded steps are substituted without re-execution and the function
// resumes at its first unrecorded step. The package also provides the
// queue admission layer, the recovery manager, and the archive worker.
package engine
