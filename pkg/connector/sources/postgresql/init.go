package postgresql

import (
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func init() {
	// Register the PostgreSQL source connector
	_ = registry.RegisterSource(Family, openURL, Schemes...)

	// Register connector metadata
	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        Family,
		Type:        "source",
		Description: "PostgreSQL source over the binary protocol with connection pooling",
		Schemes:     append([]string{Family}, Schemes...),
		Types:       types.Postgres.Names(),
	})
}
