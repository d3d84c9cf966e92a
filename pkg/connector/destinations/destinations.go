// Package destinations registers every destination connector.
package destinations

import (
	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"

	// Import all destination connectors to trigger init() registration
	_ "github.com/ajitpratap0/quarry/pkg/connector/destinations/arrow"
	_ "github.com/ajitpratap0/quarry/pkg/connector/destinations/frame"
)

// New creates a destination by family name, e.g. "frame" or "arrow".
func New(family string, cfg *config.Config) (core.Destination, error) {
	return registry.CreateDestination(family, cfg)
}
