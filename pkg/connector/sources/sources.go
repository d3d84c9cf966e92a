// Package sources registers every source connector. Import it for side
// effects to make all URL schemes resolvable through the registry.
package sources

import (
	"github.com/ajitpratap0/quarry/pkg/connector/registry"

	// Import all source connectors to trigger init() registration
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources/bigquery"
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources/mysql"
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources/postgresql"
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources/snowflake"
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources/sqlite"
)

// Families returns the registered source families.
func Families() []string {
	return registry.ListSources()
}
