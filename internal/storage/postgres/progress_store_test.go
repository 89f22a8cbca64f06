package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-scraper/internal/progress/sinks"
)

func newMockProgressStore(t *testing.T) (*ProgressStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	index, err := NewDocumentIndexWithPool(mock, "")
	require.NoError(t, err)
	store, err := index.ProgressStore("", "")
	require.NoError(t, err)
	return store, mock
}

func TestProgressStoreEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockProgressStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS scrape_site_stats").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreRunLifecycle(t *testing.T) {
	t.Parallel()

	store, mock := newMockProgressStore(t)
	start := time.Unix(1700000000, 0).UTC()
	end := start.Add(time.Minute)

	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs("run-1", start).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs("run-1", end, 3, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.StartRun(context.Background(), "run-1", start))
	require.NoError(t, store.FinishRun(context.Background(), "run-1", end, 3, 1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreAddSiteStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockProgressStore(t)
	at := time.Unix(1700000000, 0).UTC()
	delta := sinks.SiteDelta{RunID: "run-1", Site: "bls.gov", StatusClass: "2xx", Fetches: 2, Bytes: 2048, At: at}

	mock.ExpectExec("INSERT INTO scrape_site_stats").
		WithArgs("run-1", "bls.gov", "2xx", int64(2), int64(2048), at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO scrape_site_stats").WillReturnError(errors.New("deadlock"))

	require.NoError(t, store.AddSiteStats(context.Background(), delta))
	require.ErrorContains(t, store.AddSiteStats(context.Background(), delta), "deadlock")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProgressStoreRejectsBadTableNames(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	index, err := NewDocumentIndexWithPool(mock, "")
	require.NoError(t, err)
	_, err = index.ProgressStore("runs; DROP", "")
	require.Error(t, err)

	var nilIndex *DocumentIndex
	_, err = nilIndex.ProgressStore("", "")
	require.Error(t, err)
}
