package bigquery

import (
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func init() {
	_ = registry.RegisterSource(Family, openURL, "bq")

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        Family,
		Type:        "source",
		Description: "Google BigQuery query results (cloud.google.com/go/bigquery)",
		Schemes:     []string{Family, "bq"},
		Types:       types.BigQuery.Names(),
	})
}
