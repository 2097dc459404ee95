// Package traveltime persists the travel time statistics between consecutive stops so they survive restarts
package traveltime

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Statistic is the smoothed travel time between two consecutive stops on a route for a type of day
type Statistic struct {
	RouteId    string `db:"route_id" json:"route_id"`
	FromStopId string `db:"from_stop_id" json:"from_stop_id"`
	ToStopId   string `db:"to_stop_id" json:"to_stop_id"`
	DayType    string `db:"day_type" json:"day_type"`
	// MeanSeconds and Variance of the traversal time
	MeanSeconds float64   `db:"mean_seconds" json:"mean_seconds"`
	Variance    float64   `db:"variance" json:"variance"`
	Samples     int       `db:"samples" json:"samples"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Record saves statistics, replacing any existing statistic with the same route, stops and day type
func Record(db *sqlx.DB, statistics []*Statistic) error {
	if len(statistics) == 0 {
		return nil
	}
	statementString := "insert into travel_time_statistic (" +
		"route_id, " +
		"from_stop_id, " +
		"to_stop_id, " +
		"day_type, " +
		"mean_seconds, " +
		"variance, " +
		"samples, " +
		"updated_at) " +
		"values (" +
		":route_id, " +
		":from_stop_id, " +
		":to_stop_id, " +
		":day_type, " +
		":mean_seconds, " +
		":variance, " +
		":samples, " +
		":updated_at) " +
		"on conflict (route_id, from_stop_id, to_stop_id, day_type) do update set " +
		"mean_seconds = excluded.mean_seconds, " +
		"variance = excluded.variance, " +
		"samples = excluded.samples, " +
		"updated_at = excluded.updated_at"

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	statement, err := tx.PrepareNamed(statementString)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() {
		_ = statement.Close()
	}()
	for _, statistic := range statistics {
		if _, err = statement.Exec(statistic); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording statistic %s %s->%s: %w",
				statistic.RouteId, statistic.FromStopId, statistic.ToStopId, err)
		}
	}
	return tx.Commit()
}

// Load retrieves every statistic
func Load(db *sqlx.DB) ([]*Statistic, error) {
	var statistics []*Statistic
	err := db.Select(&statistics, "select * from travel_time_statistic")
	return statistics, err
}

// SqliteSchema creates the travel_time_statistic table in a sqlite database
var SqliteSchema = []string{
	"create table if not exists travel_time_statistic (" +
		"route_id text not null, " +
		"from_stop_id text not null, " +
		"to_stop_id text not null, " +
		"day_type text not null, " +
		"mean_seconds double precision not null, " +
		"variance double precision not null, " +
		"samples integer not null, " +
		"updated_at timestamp not null, " +
		"primary key (route_id, from_stop_id, to_stop_id, day_type))",
}

// CreateSqliteSchema executes SqliteSchema statements against db
func CreateSqliteSchema(db *sqlx.DB) error {
	for _, statement := range SqliteSchema {
		if _, err := db.Exec(statement); err != nil {
			return fmt.Errorf("creating travel time schema: %w", err)
		}
	}
	return nil
}
