package snowflake

import (
	"context"
	"net/url"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func init() {
	_ = registry.RegisterSource(Family, func(ctx context.Context, u *url.URL, cfg *config.Config) (core.SourceBuilder, error) {
		return Open(ctx, u, cfg, nil)
	})

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        Family,
		Type:        "source",
		Description: "Snowflake source (gosnowflake)",
		Schemes:     []string{Family},
		Types:       types.Snowflake.Names(),
	})
}
