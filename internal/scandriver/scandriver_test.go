package scandriver_test

import (
	"context"
	"errors"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"schemaless/internal/datastore"
	"schemaless/internal/entitycodec"
	"schemaless/internal/scandriver"
)

type recordingProcessor struct {
	seen []scandriver.EntityRow
	fail func(scandriver.EntityRow) bool
}

func (p *recordingProcessor) ProcessRow(ctx context.Context, row scandriver.EntityRow, entity entitycodec.Entity) error {
	if p.fail != nil && p.fail(row) {
		return errors.New("boom")
	}
	p.seen = append(p.seen, row)
	return nil
}

func setupEngine(t *testing.T) *datastore.Engine {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	c, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("schemaless_test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(c); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "3306/tcp")
	require.NoError(t, err)

	e, err := datastore.New(datastore.Options{
		Hosts:    []string{host + ":" + port.Port()},
		User:     "root",
		Password: "testpass",
		Database: "schemaless_test",
	})
	require.NoError(t, err)
	require.NoError(t, e.Open(ctx))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestRunProcessesAllRowsInAddedIdOrder(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := e.Put(ctx, entitycodec.Entity{"name": name}, nil)
		require.NoError(t, err)
	}

	scanner := scandriver.NewScanner(e.SQLDB(), e.Codec(), 1, nil)
	proc := &recordingProcessor{}

	summary, err := scanner.Run(ctx, 0, proc)
	require.NoError(t, err)
	require.Equal(t, int64(3), summary.RowsProcessed)
	require.Len(t, proc.seen, 3)
	for i := 1; i < len(proc.seen); i++ {
		require.Less(t, proc.seen[i-1].AddedID, proc.seen[i].AddedID)
	}
}

func TestRunReportsSummaryEvenOnProcessorError(t *testing.T) {
	e := setupEngine(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, err := e.Put(ctx, entitycodec.Entity{"name": name}, nil)
		require.NoError(t, err)
	}

	scanner := scandriver.NewScanner(e.SQLDB(), e.Codec(), 10, nil)
	failAfterFirst := 0
	proc := &recordingProcessor{
		fail: func(row scandriver.EntityRow) bool {
			failAfterFirst++
			return failAfterFirst == 2
		},
	}

	summary, err := scanner.Run(ctx, 0, proc)
	require.Error(t, err)
	require.Equal(t, int64(1), summary.RowsProcessed)
}
