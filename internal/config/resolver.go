package config

import "github.com/flemzord/taleturn/internal/provider"

// Routes resolves the provider routing of a turn from the configuration.
func (c *Config) Routes() (provider.Routes, error) {
	return provider.ResolveRoutes(c.Providers.Narrative, c.Providers.Parser)
}
