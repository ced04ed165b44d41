package checkpoint

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/scrapeworks/sift/internal/clock/system"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS checkpoints").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT identifier FROM checkpoints WHERE status").
		WithArgs("done").
		WillReturnRows(pgxmock.NewRows([]string{"identifier"}).
			AddRow("https://example.com/previously-done"))

	store, err := newPostgresWithPool(context.Background(), mock, system.New(), zap.NewNop())
	require.NoError(t, err)
	return store, mock
}

func TestPostgresLoadsDoneCacheOnOpen(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	assert.True(t, store.IsDone("https://example.com/previously-done"))
	assert.False(t, store.IsDone("https://example.com/other"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkInProgress(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO checkpoints").
		WithArgs("https://example.com/a", "in_progress", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.MarkInProgress(context.Background(), "https://example.com/a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMarkDoneUpdatesCache(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE checkpoints SET status").
		WithArgs("done", pgxmock.AnyArg(), "https://example.com/a").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkDone(context.Background(), "https://example.com/a"))
	assert.True(t, store.IsDone("https://example.com/a"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncomplete(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT identifier FROM checkpoints WHERE status").
		WithArgs("in_progress").
		WillReturnRows(pgxmock.NewRows([]string{"identifier"}).
			AddRow("https://example.com/x").
			AddRow("https://example.com/y"))

	ids, err := store.Incomplete(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/x", "https://example.com/y"}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
