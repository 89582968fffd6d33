// Package provider defines the LLM executor contract, its error taxonomy and
// a retrying wrapper.
package provider

import "context"

// Provider is an LLM backend.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// Models returns the list of supported models.
	Models() []string

	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// HealthCheckable is implemented by providers that can probe their backend.
type HealthCheckable interface {
	Ping(ctx context.Context) error
}
