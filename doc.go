// Package perdura is a durable workflow engine. Workflows are registered Go
// functions composed of durable steps; every step outcome is persisted to an
// event-sourced store before it is returned to the workflow function, so a
// crashed workflow can be replayed to exactly the point where it died and
// resumed without re-executing completed steps.
package perdura

const (
	// Name is the service name reported in logs and health responses
	Name = "perdura"

	// Version is the engine version reported in logs and health responses
	Version = "0.3.0"
)
