package gtfs

import (
	"github.com/jmoiron/sqlx"
)

// Trip contains data from a gtfs trip definition in a trips.txt file
type Trip struct {
	DataSetId     int64   `db:"data_set_id" json:"data_set_id"`
	TripId        string  `db:"trip_id" json:"trip_id"`
	RouteId       string  `db:"route_id" json:"route_id"`
	ServiceId     string  `db:"service_id" json:"service_id"`
	TripHeadsign  *string `db:"trip_headsign" json:"trip_headsign"`
	TripShortName *string `db:"trip_short_name" json:"trip_short_name"`
	BlockId       string  `db:"block_id" json:"block_id"`
	ShapeId       string  `db:"shape_id" json:"shape_id"`
	StartTime     int     `db:"start_time" json:"start_time"`
	EndTime       int     `db:"end_time" json:"end_time"`
	TripDistance  float64 `db:"trip_distance" json:"trip_distance"`
}

// RecordTrips saves trips to database in batch
func RecordTrips(trips []*Trip, dsTx *DataSetTransaction) error {
	if len(trips) == 0 {
		return nil
	}
	for _, trip := range trips {
		trip.DataSetId = dsTx.DS.Id
	}
	statementString := "insert into trip ( " +
		"data_set_id, " +
		"trip_id, " +
		"route_id, " +
		"service_id, " +
		"trip_headsign, " +
		"trip_short_name, " +
		"block_id, " +
		"shape_id," +
		"start_time, " +
		"end_time, " +
		"trip_distance) " +
		"values (" +
		":data_set_id, " +
		":trip_id, " +
		":route_id, " +
		":service_id, " +
		":trip_headsign, " +
		":trip_short_name, " +
		":block_id, " +
		":shape_id," +
		":start_time, " +
		":end_time, " +
		":trip_distance)"
	_, err := dsTx.Tx.NamedExec(statementString, trips)
	return err

}

// GetTrips retrieves every trip in dataSetId
func GetTrips(db *sqlx.DB, dataSetId int64) ([]*Trip, error) {
	var trips []*Trip
	query := db.Rebind("select * from trip where data_set_id = ? order by trip_id")
	err := db.Select(&trips, query, dataSetId)
	return trips, err
}
