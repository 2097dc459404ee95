package gtfs

import (
	"github.com/jmoiron/sqlx"
)

// StopTime contains a record from a gtfs stop_times.txt file
// represents a scheduled arrival and departure at a stop.
type StopTime struct {
	DataSetId    int64  `db:"data_set_id" json:"data_set_id"`
	TripId       string `db:"trip_id" json:"trip_id"`
	StopSequence uint32 `db:"stop_sequence" json:"stop_sequence"`
	StopId       string `db:"stop_id" json:"stop_id"`
	// ArrivalTime and DepartureTime are seconds past 12am on the service date, may exceed 24 hours
	ArrivalTime   int `db:"arrival_time" json:"arrival_time"`
	DepartureTime int `db:"departure_time" json:"departure_time"`
	// ShapeDistTraveled is in the units of the feed's shapes.txt, nil when the feed omits it
	ShapeDistTraveled *float64 `db:"shape_dist_traveled" json:"shape_dist_traveled"`
	Timepoint         int      `db:"timepoint" json:"timepoint"`
}

func (st *StopTime) IsTimepoint() bool {
	return st != nil && st.Timepoint == 1
}

// RecordStopTimes saves stopTimes to database in batch
func RecordStopTimes(stopTimes []*StopTime, dsTx *DataSetTransaction) error {
	if len(stopTimes) == 0 {
		return nil
	}
	for _, stopTime := range stopTimes {
		stopTime.DataSetId = dsTx.DS.Id
	}

	statementString := "insert into stop_time ( " +
		"data_set_id, " +
		"trip_id, " +
		"stop_sequence, " +
		"stop_id, " +
		"arrival_time, " +
		"departure_time, " +
		"shape_dist_traveled," +
		"timepoint) " +
		"values (" +
		":data_set_id, " +
		":trip_id, " +
		":stop_sequence, " +
		":stop_id, " +
		":arrival_time, " +
		":departure_time," +
		":shape_dist_traveled," +
		":timepoint)"
	_, err := dsTx.Tx.NamedExec(statementString, stopTimes)
	return err
}

// GetStopTimes collects all StopTimes in dataSetId ordered by trip and stop_sequence
func GetStopTimes(db *sqlx.DB, dataSetId int64) ([]*StopTime, error) {
	var stopTimes []*StopTime
	query := db.Rebind("select * from stop_time where data_set_id = ? order by trip_id, stop_sequence")
	err := db.Select(&stopTimes, query, dataSetId)
	return stopTimes, err
}
