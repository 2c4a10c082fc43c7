package datastore

import (
	"context"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"schemaless/internal/entitycodec"
	"schemaless/internal/guid"
	"schemaless/internal/index"
)

type testMySQLContainer struct {
	container *mysql.MySQLContainer
	host      string
}

func setupMySQL(t *testing.T) *testMySQLContainer {
	t.Helper()
	ctx := context.Background()

	c, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("schemaless_test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	return &testMySQLContainer{container: c, host: host + ":" + port.Port()}
}

func newTestEngine(t *testing.T, host string) *Engine {
	t.Helper()
	e, err := New(Options{
		Hosts:    []string{host},
		User:     "root",
		Password: "testpass",
		Database: "schemaless_test",
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, e.Open(ctx))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestPutByIdEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	tc := setupMySQL(t)
	e := newTestEngine(t, tc.host)
	ctx := context.Background()

	idx, err := index.New("index_user_id", []string{"user_id"}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, e.DefineIndex(ctx, idx, nil))

	created, err := e.Put(ctx, entitycodec.Entity{
		"user_id":    "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		"first_name": "evan",
		"last_name":  "klitzke",
	}, nil)
	require.NoError(t, err)
	require.Contains(t, created, "id")
	require.Contains(t, created, "added_id")

	idHex := created["id"].(string)
	rawID, err := guid.ToRaw(idHex)
	require.NoError(t, err)

	fetched, ok, err := e.ByID(ctx, rawID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "evan", fetched["first_name"])
}

func TestPutUpdatePreservesId(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	tc := setupMySQL(t)
	e := newTestEngine(t, tc.host)
	ctx := context.Background()

	created, err := e.Put(ctx, entitycodec.Entity{
		"user_id":    "u1",
		"first_name": "foo",
		"last_name":  "bar",
	}, nil)
	require.NoError(t, err)
	originalID := created["id"]

	created["first_name"] = "baz"
	updated, err := e.Put(ctx, created, nil)
	require.NoError(t, err)
	require.Equal(t, originalID, updated["id"])
}

func TestDeleteTwiceSecondReturnsZero(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	tc := setupMySQL(t)
	e := newTestEngine(t, tc.host)
	ctx := context.Background()

	created, err := e.Put(ctx, entitycodec.Entity{"user_id": "u1"}, nil)
	require.NoError(t, err)

	rawID, err := guid.ToRaw(created["id"].(string))
	require.NoError(t, err)

	n1, err := e.Delete(ctx, nil, rawID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n1, int64(1))

	n2, err := e.Delete(ctx, nil, rawID)
	require.NoError(t, err)
	require.Equal(t, int64(0), n2)
}
