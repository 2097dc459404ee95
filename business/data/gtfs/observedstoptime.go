package gtfs

import (
	"time"

	"github.com/jmoiron/sqlx"
)

//ObservedStopTime contains details when a vehicle is observed to have transitioned between two stops, or
//assumed to have passed two stops based on the subsequent vehicle positions indicating it passed two or more
//stops on a trip, in which case the travel time is interpolated
// primary key consists of ObservedTime, StopId, NextStopId, VehicleId
type ObservedStopTime struct {
	//ObservedTime is the time the vehicle arrived at NextStopId
	ObservedTime time.Time `db:"observed_time"`
	//StopId is the stopId the vehicle moved from
	StopId string `db:"stop_id"`
	//NextStopId is the stopId the vehicle moved to
	NextStopId string `db:"next_stop_id"`
	VehicleId  string `db:"vehicle_id"`

	RouteId string `db:"route_id"`
	//ObservedAtStop is true when a vehicle report placed the vehicle at the stop the vehicle moved from
	ObservedAtStop bool `db:"observed_at_stop"`

	//ObservedAtNextStop is true when a vehicle report placed the vehicle at the stop the vehicle moved to
	ObservedAtNextStop bool `db:"observed_at_next_stop"`

	//TravelSeconds is the number of seconds the vehicle is assumed to have taken to move between the stops
	TravelSeconds    int  `db:"travel_seconds"`
	ScheduledSeconds *int `db:"scheduled_seconds"`
	//DataSetId identifies the DataSet used during this ObservedStopTime
	DataSetId int64     `db:"data_set_id" json:"data_set_id"`
	TripId    string    `db:"trip_id"`
	CreatedAt time.Time `db:"created_at"`
}

// RecordObservedStopTimes saves a batch of ObservedStopTime in one transaction
func RecordObservedStopTimes(observations []*ObservedStopTime, db *sqlx.DB) error {
	if len(observations) == 0 {
		return nil
	}
	now := time.Now()
	for _, observation := range observations {
		observation.CreatedAt = now
	}

	statementString := "insert into observed_stop_time " +
		"(observed_time, " +
		"stop_id, " +
		"next_stop_id, " +
		"vehicle_id, " +
		"route_id, " +
		"observed_at_stop, " +
		"observed_at_next_stop, " +
		"travel_seconds, " +
		"scheduled_seconds, " +
		"data_set_id, " +
		"trip_id, " +
		"created_at) " +
		"values " +
		"(:observed_time, " +
		":stop_id, " +
		":next_stop_id, " +
		":vehicle_id, " +
		":route_id, " +
		":observed_at_stop, " +
		":observed_at_next_stop, " +
		":travel_seconds, " +
		":scheduled_seconds, " +
		":data_set_id, " +
		":trip_id, " +
		":created_at)"
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	if _, err = tx.NamedExec(statementString, observations); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
