// Package provider implements LLM provider adapters.
//
// This package contains:
//   - Provider interface: the opaque call wrapped by the governor
//   - OpenAIProvider: chat completions through go-openai
//   - Monitor: rolling latency and failure tracking per provider
package provider

import (
	"context"
)

// Request is a single prompt sent to a provider.
type Request struct {
	// ID correlates log lines for one submission across retries.
	ID string

	// System is the optional system instruction.
	System string

	// Prompt is the user-facing content.
	Prompt string

	// History is prior conversation, oldest first, rendered as alternating
	// user/assistant messages before Prompt.
	History []Turn

	// Heavy selects the larger model.
	Heavy bool

	// JSON asks the provider for a JSON object response.
	JSON bool
}

// Turn is one prior message included as context.
type Turn struct {
	Assistant bool
	Text      string
}

// Provider is an LLM backend.
type Provider interface {
	// Name returns the provider identifier used in logs and metrics.
	Name() string

	// Invoke sends req and returns the generated text.
	Invoke(ctx context.Context, req Request) (string, error)
}

// Func adapts a function to the Provider interface.
type Func func(ctx context.Context, req Request) (string, error)

// Name implements Provider.
func (f Func) Name() string { return "func" }

// Invoke implements Provider.
func (f Func) Invoke(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
