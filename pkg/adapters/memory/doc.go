// Package memory provides in-memory implementations of the collaborator ports: a scene
// loader, an actor world with spawning, and presentation services. They back the CLI
// simulator and the tests.
package memory
