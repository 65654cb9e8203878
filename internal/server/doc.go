// Package server manages the HTTP server lifecycle: non-blocking start,
// graceful shutdown, signal handling, and an optional side-channel
// metrics server for Prometheus scrapes.
package server
