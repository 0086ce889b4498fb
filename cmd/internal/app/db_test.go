package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevocationPoolConfig(t *testing.T) {
	cfg := Config{
		DatabaseURL:      "postgres://arc4de@localhost:5432/arc4de",
		DBMaxConns:       4,
		DBMinConns:       1,
		DBConnectTimeout: 3 * time.Second,
	}

	pcfg, err := revocationPoolConfig(cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 4, pcfg.MaxConns)
	assert.EqualValues(t, 1, pcfg.MinConns)
	assert.Equal(t, 3*time.Second, pcfg.ConnConfig.ConnectTimeout)
	assert.Equal(t, dbHealthPeriod, pcfg.HealthCheckPeriod)
	assert.Equal(t, "arc4de", pcfg.ConnConfig.RuntimeParams["application_name"])
}

func TestRevocationPoolConfig_URLWinsWhenEnvUnset(t *testing.T) {
	cfg := Config{DatabaseURL: "postgres://arc4de@localhost/arc4de?pool_max_conns=7&application_name=ops"}

	pcfg, err := revocationPoolConfig(cfg)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pcfg.MaxConns)
	assert.Equal(t, "ops", pcfg.ConnConfig.RuntimeParams["application_name"])
}

func TestRevocationPoolConfig_BadURL(t *testing.T) {
	_, err := revocationPoolConfig(Config{DatabaseURL: "postgres://%zz"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig), "%v", err)
}

func TestCheckRevocationDB_NoPool(t *testing.T) {
	a := &App{}
	state, err := a.checkRevocationDB(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, state)
}
