package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/quarry/pkg/connector/registry"
)

func TestAllFamiliesRegistered(t *testing.T) {
	assert.Subset(t, Families(), []string{"bigquery", "mysql", "postgresql", "snowflake", "sqlite"})

	for raw, family := range map[string]string{
		"postgres://h/db":   "postgresql",
		"mariadb://h/db":    "mysql",
		"sqlite3:///a.db":   "sqlite",
		"bq://project":      "bigquery",
		"snowflake://a/b/c": "snowflake",
	} {
		got, err := registry.SourceFamily(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, family, got, raw)
	}
}
