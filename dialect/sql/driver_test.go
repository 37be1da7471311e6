package sql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syssam/loom/dialect"
)

func TestDriverExec(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mk.ExpectExec("DELETE FROM `item`").
		WillReturnResult(sqlmock.NewResult(0, 1))

	drv := OpenDB(dialect.MySQL, db)
	require.Equal(t, dialect.MySQL, drv.Dialect())
	var res Result
	require.NoError(t, drv.Exec(context.Background(), "DELETE FROM `item`", []any{}, &res))
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	require.Equal(t, int64(1), affected)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestDriverQuery(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mk.ExpectQuery("SELECT description FROM item").
		WillReturnRows(sqlmock.NewRows([]string{"description"}).AddRow("SA Mug").AddRow("SA Hat"))

	drv := OpenDB(dialect.SQLite, db)
	rows := &Rows{}
	require.NoError(t, drv.Query(context.Background(), "SELECT description FROM item", []any{}, rows))
	defer rows.Close()
	var got []string
	for rows.Next() {
		var s string
		require.NoError(t, rows.Scan(&s))
		got = append(got, s)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{"SA Mug", "SA Hat"}, got)
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestDriverInvalidArgs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := OpenDB(dialect.SQLite, db)
	require.Error(t, drv.Exec(context.Background(), "SELECT 1", "not-a-slice", nil))
	require.Error(t, drv.Query(context.Background(), "SELECT 1", []any{}, "not-rows"))
}

func TestDriverTx(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mk.ExpectBegin()
	mk.ExpectExec("INSERT INTO item").WillReturnResult(sqlmock.NewResult(1, 1))
	mk.ExpectCommit()

	drv := OpenDB(dialect.SQLite, db)
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "INSERT INTO item DEFAULT VALUES", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mk.ExpectationsWereMet())
}

func TestDialectPrefix(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	// Instrumented driver names keep their dialect prefix.
	drv := OpenDB("sqlite-instrumented", db)
	require.Equal(t, dialect.SQLite, drv.Dialect())
}

func TestStatsDriver(t *testing.T) {
	db, mk, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mk.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mk.ExpectExec("UPDATE t").WillReturnResult(sqlmock.NewResult(0, 1))
	mk.ExpectQuery("SELECT boom").WillReturnError(context.DeadlineExceeded)

	var slow []string
	sd := NewStatsDriver(OpenDB(dialect.SQLite, db),
		WithSlowThreshold(-1), // every statement counts as slow.
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	rows := &Rows{}
	require.NoError(t, sd.Query(context.Background(), "SELECT 1", []any{}, rows))
	rows.Close()
	require.NoError(t, sd.Exec(context.Background(), "UPDATE t", []any{}, nil))
	require.Error(t, sd.Query(context.Background(), "SELECT boom", []any{}, rows))

	stats := sd.QueryStats().Stats()
	require.Equal(t, int64(2), stats.TotalQueries)
	require.Equal(t, int64(1), stats.TotalExecs)
	require.Equal(t, int64(1), stats.Errors)
	require.Equal(t, int64(3), stats.SlowQueries)
	require.Len(t, slow, 3)
	require.Positive(t, stats.AvgQueryDuration())

	sd.QueryStats().Reset()
	require.Equal(t, int64(0), sd.QueryStats().Stats().TotalQueries)
}
