package pipeline

import (
	"github.com/OpenTransitTools/transitclock/app/transitclock/predictor"
	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/data/traveltime"
	"github.com/jmoiron/sqlx"
)

//Recorder saves what is learned from vehicles completing trips
type Recorder interface {
	//RecordObservedStopTimes saves the stop to stop travel of a vehicle
	RecordObservedStopTimes(observations []*gtfs.ObservedStopTime) error

	//RecordStatistics saves changed travel time statistics
	RecordStatistics(statistics []*traveltime.Statistic) error
}

//dbRecorder implements Recorder for saving records to database
type dbRecorder struct {
	db *sqlx.DB
}

//NewDBRecorder creates a Recorder saving to db
func NewDBRecorder(db *sqlx.DB) Recorder {
	return &dbRecorder{db: db}
}

func (d *dbRecorder) RecordObservedStopTimes(observations []*gtfs.ObservedStopTime) error {
	return gtfs.RecordObservedStopTimes(observations, d.db)
}

func (d *dbRecorder) RecordStatistics(statistics []*traveltime.Statistic) error {
	return traveltime.Record(d.db, statistics)
}

//observedStopTimes converts the traversals of transition into gtfs.ObservedStopTimes made with schedule dataSetId
func observedStopTimes(transition *vehiclestate.TripTransition,
	dataSetId int64,
	traversals []predictor.Traversal) []*gtfs.ObservedStopTime {

	observedAt := make(map[int]bool, len(transition.StopPasses))
	for _, pass := range transition.StopPasses {
		observedAt[pass.StopIndex] = pass.Observed
	}
	trip := transition.From.Trip
	results := make([]*gtfs.ObservedStopTime, 0, len(traversals))
	for _, traversal := range traversals {
		scheduledSeconds := int(traversal.ScheduledSeconds)
		results = append(results, &gtfs.ObservedStopTime{
			ObservedTime:       traversal.ArrivedAt,
			StopId:             traversal.Key.FromStopId,
			NextStopId:         traversal.Key.ToStopId,
			VehicleId:          transition.VehicleId,
			RouteId:            trip.RouteId,
			ObservedAtStop:     observedAt[traversal.FromIndex],
			ObservedAtNextStop: observedAt[traversal.FromIndex+1],
			TravelSeconds:      int(traversal.ObservedSeconds + 0.5),
			ScheduledSeconds:   &scheduledSeconds,
			DataSetId:          dataSetId,
			TripId:             trip.TripId,
		})
	}
	return results
}
