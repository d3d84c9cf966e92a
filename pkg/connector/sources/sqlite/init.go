package sqlite

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
		return openURL(ctx, u, cfg)
	}, Schemes...)

	_ = registry.RegisterConnectorInfo(&registry.ConnectorInfo{
		Name:        Family,
		Type:        "source",
		Description: "SQLite files and in-memory databases (modernc.org/sqlite)",
		Schemes:     append([]string{Family}, Schemes...),
		Types:       types.SQLite.Names(),
	})
}
