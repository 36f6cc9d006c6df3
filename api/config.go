// Package api provides an HTTP API server for ingesting memories and
// querying the knowledge graph.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8091")
	ListenAddr string
}
