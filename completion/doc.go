// Package completion abstracts the streaming text-generation service that
// pipeline stages call. Providers deliver finite ordered chunk sequences;
// a scripted provider serves tests and local development, and an
// OpenAI-compatible SSE client serves real deployments.
package completion
