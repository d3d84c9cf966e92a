package arrow

import (
	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func init() {
	_ = registry.RegisterDestination(Family, func(*config.Config) (core.Destination, error) {
		return NewArrowDestination(nil), nil
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        Family,
		Type:        "destination",
		Description: "Apache Arrow record batches with zero-copy numeric columns",
		Types:       types.ArrowMapping.Names(),
	})
}
