package frame

import (
	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func init() {
	_ = registry.RegisterDestination(Family, func(*config.Config) (core.Destination, error) {
		return NewFrameDestination(), nil
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        Family,
		Type:        "destination",
		Description: "Native Go columns: typed slices plus per-row validity",
		Types:       types.FrameMapping.Names(),
	})
}
