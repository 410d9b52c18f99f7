package provider

import (
	"context"
	"fmt"
)

// Provider names
const (
	NameGCP   = "gcp"
	NamePolly = "polly"
)

// Settings carries the provider-specific configuration.
type Settings struct {
	// Region is the AWS region for Polly.
	Region string
	// ProjectID is the Google Cloud project for GCP.
	ProjectID string
}

// Factory creates provider instances
type Factory interface {
	CreateProvider(ctx context.Context, providerName string, settings Settings) (Provider, error)
	ListProviders() []string
}

// DefaultFactory is the default provider factory
type DefaultFactory struct{}

// NewFactory creates a new provider factory
func NewFactory() *DefaultFactory {
	return &DefaultFactory{}
}

// CreateProvider creates a provider instance by name
func (f *DefaultFactory) CreateProvider(ctx context.Context, providerName string, settings Settings) (Provider, error) {
	switch providerName {
	case NameGCP:
		var opts []GCPProviderOption
		if settings.ProjectID != "" {
			opts = append(opts, WithGCPProjectID(settings.ProjectID))
		}
		return NewGCPProvider(ctx, opts...)
	case NamePolly:
		return NewPollyProvider(ctx, settings.Region)
	default:
		return nil, fmt.Errorf("unknown provider: %s", providerName)
	}
}

// ListProviders returns available provider names
func (f *DefaultFactory) ListProviders() []string {
	return []string{NameGCP, NamePolly}
}
