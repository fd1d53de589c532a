// Package mcp exposes an Engine as Model Context Protocol tools so QA agents can
// drive a session and inspect its events.
package mcp
