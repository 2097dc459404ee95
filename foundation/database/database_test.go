package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSqlite(t *testing.T) {
	db, err := Open(Config{Driver: DriverSqlite, Path: ":memory:"})
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, StatusCheck(ctx, db))

	_, err = db.Exec("create table stop (stop_id text, stop_name text)")
	require.NoError(t, err)
	_, err = db.Exec("insert into stop (stop_id, stop_name) values ('A', 'First'), ('B', 'Second'), ('C', 'Third')")
	require.NoError(t, err)

	var names []string
	require.NoError(t, db.Select(&names, db.Rebind("select stop_name from stop where stop_id <> ? order by stop_id"), "B"))
	assert.Equal(t, []string{"First", "Third"}, names)
}

func TestOpen_sqliteSingleConnection(t *testing.T) {
	db, err := Open(Config{Driver: DriverSqlite, Path: ":memory:"})
	require.NoError(t, err)
	defer func() {
		_ = db.Close()
	}()
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestStatusCheck_noDatabase(t *testing.T) {
	assert.Error(t, StatusCheck(context.Background(), nil))
}
