// Package gtfs provides gtfs schedule rows and the database access used to read them.
// Rows are written by an external gtfs import process, each owned by a DataSet
package gtfs

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNoDataSet is returned when no saved DataSet is available
var ErrNoDataSet = errors.New("no saved gtfs data set")

// DataSetTransaction contains required data for recording new gtfs records owned by a DataSet
type DataSetTransaction struct {
	DS DataSet
	Tx *sqlx.Tx
}

// DataSet encompasses a gtfs schedule available from a source at a point in time.
// The same source will be loaded over time.
// Each record from a gtfs file shares the DataSet.Id value as part of the primary key.
type DataSet struct {
	Id  int64
	URL string
	// ETag is the ETag header if available from the source web site for the gtfs file. Is empty if not available
	ETag string `db:"e_tag"`
	// LastModifiedTimestamp is the unix epoch seconds the source web site provided for the last time the gtfs file was modified
	// is 0 if not available
	LastModifiedTimestamp int64      `db:"last_modified_timestamp"`
	DownloadedAt          time.Time  `db:"downloaded_at"`
	SavedAt               *time.Time `db:"saved_at"`
}

func (d DataSet) String() string {
	lastModified := ""
	if d.LastModifiedTimestamp != 0 {
		lastModTime := time.Unix(d.LastModifiedTimestamp, 0)
		lastModified = formatTime(&lastModTime)
	}
	return fmt.Sprintf("DataSet Id:%d, url:%s, ETag:%s, lastModified:%s downloaded:%s savedAt:%s",
		d.Id, d.URL, d.ETag, lastModified, formatTime(&d.DownloadedAt), formatTime(d.SavedAt))
}

func formatTime(time *time.Time) string {
	if time == nil {
		return ""
	}
	return time.Format("2006-01-02T15:04:05")
}

// SaveDataSet inserts a new DataSet and populates its Id
func SaveDataSet(tx *sqlx.Tx, ds *DataSet) error {
	statementString := "insert into data_set ( " +
		"url, " +
		"e_tag, " +
		"last_modified_timestamp, " +
		"downloaded_at, " +
		"saved_at) " +
		"values (" +
		":url, " +
		":e_tag, " +
		":last_modified_timestamp, " +
		":downloaded_at, " +
		":saved_at)"

	_, err := tx.NamedExec(statementString, ds)
	if err != nil {
		return err
	}
	statementString = tx.Rebind("select id from data_set " +
		"where e_tag = ? " +
		"and last_modified_timestamp = ? " +
		"and downloaded_at = ? order by id desc limit 1")
	return tx.Get(&ds.Id, statementString, ds.ETag, ds.LastModifiedTimestamp, ds.DownloadedAt)
}

// GetDataSetAt retrieves the latest DataSet saved at or before "at"
func GetDataSetAt(db *sqlx.DB, at time.Time) (*DataSet, error) {
	query := db.Rebind("select * from data_set where saved_at is not null and saved_at <= ? " +
		"order by saved_at desc, downloaded_at desc limit 1")
	ds := DataSet{}
	err := db.Get(&ds, query, at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w at %s", ErrNoDataSet, formatTime(&at))
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// SqliteSchema creates the schedule tables read by this package in a sqlite database for single node
// deployments. Postgres tables are owned by the gtfs import process
var SqliteSchema = []string{
	"create table if not exists data_set (" +
		"id integer primary key, " +
		"url text not null default '', " +
		"e_tag text not null default '', " +
		"last_modified_timestamp bigint not null default 0, " +
		"downloaded_at timestamp not null, " +
		"saved_at timestamp)",
	"create table if not exists trip (" +
		"data_set_id bigint not null, " +
		"trip_id text not null, " +
		"route_id text not null, " +
		"service_id text not null, " +
		"trip_headsign text, " +
		"trip_short_name text, " +
		"block_id text not null default '', " +
		"shape_id text not null default '', " +
		"start_time integer not null, " +
		"end_time integer not null, " +
		"trip_distance double precision not null default 0, " +
		"primary key (data_set_id, trip_id))",
	"create table if not exists stop_time (" +
		"data_set_id bigint not null, " +
		"trip_id text not null, " +
		"stop_sequence integer not null, " +
		"stop_id text not null, " +
		"arrival_time integer not null, " +
		"departure_time integer not null, " +
		"shape_dist_traveled double precision, " +
		"timepoint integer not null default 0, " +
		"primary key (data_set_id, trip_id, stop_sequence))",
	"create table if not exists shape (" +
		"data_set_id bigint not null, " +
		"shape_id text not null, " +
		"shape_pt_lat double precision not null, " +
		"shape_pt_lon double precision not null, " +
		"shape_pt_sequence integer not null, " +
		"shape_dist_traveled double precision, " +
		"primary key (data_set_id, shape_id, shape_pt_sequence))",
	"create table if not exists stop (" +
		"data_set_id bigint not null, " +
		"stop_id text not null, " +
		"stop_name text not null default '', " +
		"stop_lat double precision not null, " +
		"stop_lon double precision not null, " +
		"primary key (data_set_id, stop_id))",
	"create table if not exists calendar (" +
		"data_set_id bigint not null, " +
		"service_id text not null, " +
		"monday integer not null, " +
		"tuesday integer not null, " +
		"wednesday integer not null, " +
		"thursday integer not null, " +
		"friday integer not null, " +
		"saturday integer not null, " +
		"sunday integer not null, " +
		"start_date timestamp not null, " +
		"end_date timestamp not null, " +
		"primary key (data_set_id, service_id))",
	"create table if not exists calendar_date (" +
		"data_set_id bigint not null, " +
		"service_id text not null, " +
		"date timestamp not null, " +
		"exception_type integer not null, " +
		"primary key (data_set_id, service_id, date))",
	"create table if not exists observed_stop_time (" +
		"observed_time timestamp not null, " +
		"stop_id text not null, " +
		"next_stop_id text not null, " +
		"vehicle_id text not null, " +
		"route_id text not null, " +
		"observed_at_stop boolean not null, " +
		"observed_at_next_stop boolean not null, " +
		"travel_seconds integer not null, " +
		"scheduled_seconds integer, " +
		"trip_id text not null, " +
		"data_set_id bigint not null default 0, " +
		"created_at timestamp not null, " +
		"primary key (observed_time, stop_id, next_stop_id, vehicle_id))",
}

// CreateSqliteSchema executes SqliteSchema statements against db
func CreateSqliteSchema(db *sqlx.DB) error {
	for _, statement := range SqliteSchema {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("creating gtfs schema: %w", err)
		}
	}
	return nil
}
