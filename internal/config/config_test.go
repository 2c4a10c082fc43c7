package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schemaless/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "schemaless.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadParsesDatastoreTable(t *testing.T) {
	path := writeConfig(t, `
[datastore]
host = "127.0.0.1:3306"
user = "root"
password = "secret"
database = "schemaless"
use_zlib = true
create_entities = true
`)

	opts, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:3306"}, opts.Hosts)
	assert.Equal(t, "root", opts.User)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, "schemaless", opts.Database)
	require.NotNil(t, opts.UseZlib)
	assert.True(t, *opts.UseZlib)
	require.NotNil(t, opts.CreateEntities)
	assert.True(t, *opts.CreateEntities)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeConfig(t, `not = valid = toml`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadOmitsUseZlibAndCreateEntitiesWhenKeysAbsent(t *testing.T) {
	path := writeConfig(t, `
[datastore]
host = "127.0.0.1:3306"
user = "root"
database = "schemaless"
`)

	opts, err := config.Load(path)
	require.NoError(t, err)
	assert.Nil(t, opts.UseZlib, "an absent use_zlib key must leave Options.UseZlib nil so the engine's own default (true) applies")
	assert.Nil(t, opts.CreateEntities, "an absent create_entities key must leave Options.CreateEntities nil so the engine's own default (true) applies")
}

func TestLoadOmitsHostsWhenHostEmpty(t *testing.T) {
	path := writeConfig(t, `
[datastore]
user = "root"
database = "schemaless"
`)

	opts, err := config.Load(path)
	require.NoError(t, err)
	assert.Nil(t, opts.Hosts)
}
