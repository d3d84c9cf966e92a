package snowflake

import (
	"net/url"
	"testing"
	"time"

	"github.com/snowflakedb/gosnowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/errors"
)

func TestDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Timeouts.Connect = 20 * time.Second

	u, err := url.Parse("snowflake://loader:pw@acme-xy123/ANALYTICS/PUBLIC?warehouse=COMPUTE_WH&role=READER")
	require.NoError(t, err)

	dsn, err := DSN(u, cfg)
	require.NoError(t, err)

	sc, err := gosnowflake.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "acme-xy123", sc.Account)
	assert.Equal(t, "loader", sc.User)
	assert.Equal(t, "pw", sc.Password)
	assert.Equal(t, "ANALYTICS", sc.Database)
	assert.Equal(t, "PUBLIC", sc.Schema)
	assert.Equal(t, "COMPUTE_WH", sc.Warehouse)
	assert.Equal(t, "READER", sc.Role)
	assert.Equal(t, 20*time.Second, sc.LoginTimeout)
}

func TestDSNErrors(t *testing.T) {
	_, err := DSN(&url.URL{Scheme: "snowflake"}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))

	u, err := url.Parse("snowflake://acme/DB")
	require.NoError(t, err)
	_, err = DSN(u, nil)
	assert.Error(t, err, "user and password are required")
}
