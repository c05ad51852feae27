// Package agent drives the notebook's language-model operations: raw
// generation, and a tool-using loop that answers questions against the
// notebook's document store.
package agent

import (
	"context"
	"errors"
)

// Provider is the interface for language-model backends.
type Provider interface {
	// Name returns the provider name (e.g. "ollama", "openai").
	Name() string

	// Available returns true if the provider is configured and ready.
	Available() bool

	// Generate sends a prompt and returns the response.
	Generate(ctx context.Context, req Request) (Response, error)
}

// Request is a prompt request to a provider.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	Stop         []string // stop sequences, used by the tool loop
}

// Response is the provider's response.
type Response struct {
	Content string
	Model   string
}

// Manager selects among configured providers with fallback.
type Manager struct {
	providers []Provider
	preferred string
}

// NewManager creates an empty provider manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add registers a provider.
func (m *Manager) Add(p Provider) {
	m.providers = append(m.providers, p)
}

// SetPreferred sets the preferred provider by name.
func (m *Manager) SetPreferred(name string) {
	m.preferred = name
}

// Name implements Provider so a Manager can stand in wherever a single
// provider is expected, resolving the backend per call.
func (m *Manager) Name() string { return "manager" }

// Available reports whether any registered provider is ready.
func (m *Manager) Available() bool { return m.Pick() != nil }

// Generate delegates to the picked provider.
func (m *Manager) Generate(ctx context.Context, req Request) (Response, error) {
	p := m.Pick()
	if p == nil {
		return Response{}, errNoProvider
	}
	return p.Generate(ctx, req)
}

var errNoProvider = errors.New("no language model provider available")

// Pick returns the preferred provider if available, else the first
// available one, else nil.
func (m *Manager) Pick() Provider {
	if m.preferred != "" {
		for _, p := range m.providers {
			if p.Name() == m.preferred && p.Available() {
				return p
			}
		}
	}
	for _, p := range m.providers {
		if p.Available() {
			return p
		}
	}
	return nil
}
