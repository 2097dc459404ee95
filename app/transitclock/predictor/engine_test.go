package predictor

import (
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/business/schedule/scheduletest"
	"github.com/matryer/is"
)

//completedTrip returns the transition of a vehicle finishing t1 taking segmentSeconds between each stop
//and dwelling as scheduled
func completedTrip(instance schedule.TripInstance, segmentSeconds int) *vehiclestate.TripTransition {
	at := instance.Start()
	passes := make([]vehiclestate.StopPass, 0, len(instance.Trip.StopPaths))
	for i, stop := range instance.Trip.StopPaths {
		if i > 0 {
			at = at.Add(time.Duration(segmentSeconds+stop.DwellSeconds()) * time.Second)
		}
		passes = append(passes, vehiclestate.StopPass{
			StopId:       stop.StopId,
			StopSequence: stop.StopSequence,
			StopIndex:    i,
			Time:         at,
			Observed:     true,
		})
	}
	return &vehiclestate.TripTransition{
		VehicleId:  "bus1",
		From:       instance,
		StopPasses: passes,
		At:         at,
	}
}

func TestEngine_LearnsFromCompletedTrips(t *testing.T) {
	is := is.New(t)
	reference := scheduletest.Reference(t)
	snapshot, err := reference.Current()
	is.NoErr(err)
	instance, ok := snapshot.TripInstance("t1", scheduletest.ServiceDate)
	is.True(ok)

	travelTimes := NewTravelTimes(DefaultConfig())
	engine := NewEngine(DefaultConfig(), reference, travelTimes, NewPredictions())
	state := onSchedule(instance, instance.Trip.StopPaths[1].DistanceAlongTrip/2)

	traversals, rejected := engine.TripCompleted(completedTrip(instance, 100))
	is.Equal(len(traversals), 4)
	is.Equal(rejected, 0)
	is.Equal(travelTimes.Len(), 4)

	//a single sample does not change predictions
	update, ok := engine.Recompute(state)
	is.True(ok)
	for _, stu := range update.StopTimeUpdates {
		is.Equal(stu.ArrivalDelay, 0)
		is.Equal(stu.PredictionSource, gtfs.SchedulePrediction)
	}

	_, rejected = engine.TripCompleted(completedTrip(instance, 100))
	is.Equal(rejected, 0)
	statistic, ok := travelTimes.Statistic(Key{RouteId: scheduletest.RouteId, FromStopId: "A", ToStopId: "B",
		DayType: Weekday})
	is.True(ok)
	is.Equal(statistic.Samples, 2)
	is.True(statistic.MeanSeconds > 112.79 && statistic.MeanSeconds < 112.81)

	update, ok = engine.Recompute(state)
	is.True(ok)
	delays := make([]int, 0)
	for _, stu := range update.StopTimeUpdates {
		delays = append(delays, stu.ArrivalDelay)
		is.Equal(stu.PredictionSource, gtfs.StopStatisticsPrediction)
	}
	is.Equal(delays, []int{-1, -3, -5, -7})
	stored, ok := engine.Predictions().Get("bus1")
	is.True(ok)
	is.Equal(stored, update)

	//a trip taking far longer than usual is discarded
	_, rejected = engine.TripCompleted(completedTrip(instance, 300))
	is.Equal(rejected, 4)
	statistic, _ = travelTimes.Statistic(Key{RouteId: scheduletest.RouteId, FromStopId: "A", ToStopId: "B",
		DayType: Weekday})
	is.Equal(statistic.Samples, 2)
}

func TestEngine_TripCompletedWithoutTrip(t *testing.T) {
	is := is.New(t)
	engine := NewEngine(DefaultConfig(), scheduletest.Reference(t), NewTravelTimes(DefaultConfig()), NewPredictions())
	traversals, rejected := engine.TripCompleted(nil)
	is.Equal(len(traversals), 0)
	is.Equal(rejected, 0)
	traversals, _ = engine.TripCompleted(&vehiclestate.TripTransition{VehicleId: "bus1"})
	is.Equal(len(traversals), 0)
}

func TestEngine_RecomputeRemovesPredictions(t *testing.T) {
	reference := scheduletest.Reference(t)
	snapshot, err := reference.Current()
	if err != nil {
		t.Fatal(err)
	}
	instance, _ := snapshot.TripInstance("t1", scheduletest.ServiceDate)

	tests := []struct {
		name       string
		schedules  *schedule.Reference
		state      *vehiclestate.State
		wantStored bool
	}{
		{
			name:       "matched",
			schedules:  reference,
			state:      onSchedule(instance, 100),
			wantStored: true,
		},
		{
			name:      "unmatched",
			schedules: reference,
			state:     &vehiclestate.State{VehicleId: "bus1", LastReportTime: instance.Start()},
		},
		{
			name:      "schedule not loaded",
			schedules: &schedule.Reference{},
			state:     onSchedule(instance, 100),
		},
		{
			name:      "trip not running on service date",
			schedules: reference,
			state: &vehiclestate.State{
				VehicleId:      "bus1",
				Trip:           schedule.TripInstance{Trip: instance.Trip, ServiceDate: scheduletest.ServiceDate.AddDate(1, 0, 0)},
				LastReportTime: instance.Start(),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			predictions := NewPredictions()
			predictions.Put(&gtfs.TripUpdate{VehicleId: "bus1", TripId: "t0"})
			engine := NewEngine(DefaultConfig(), tt.schedules, NewTravelTimes(DefaultConfig()), predictions)
			_, stored := engine.Recompute(tt.state)
			is.Equal(stored, tt.wantStored)
			update, present := predictions.Get("bus1")
			is.Equal(present, tt.wantStored)
			if tt.wantStored {
				is.Equal(update.TripId, "t1")
			}
		})
	}
}

func TestEngine_Retract(t *testing.T) {
	is := is.New(t)
	predictions := NewPredictions()
	predictions.Put(&gtfs.TripUpdate{VehicleId: "bus1"})
	predictions.Put(&gtfs.TripUpdate{VehicleId: "bus2"})
	engine := NewEngine(DefaultConfig(), scheduletest.Reference(t), NewTravelTimes(DefaultConfig()), predictions)
	is.Equal(engine.Retract("bus1", "bus3"), 1)
	is.Equal(predictions.Len(), 1)
	_, present := predictions.Get("bus2")
	is.True(present)
}

func TestDayTypes(t *testing.T) {
	dayTypes := NewDayTypes()
	tests := []struct {
		name string
		date time.Time
		want string
	}{
		{name: "monday", date: scheduletest.ServiceDate, want: Weekday},
		{name: "saturday", date: time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), want: Saturday},
		{name: "sunday", date: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), want: Sunday},
		{name: "independence day on a thursday", date: time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC), want: Sunday},
		{name: "christmas", date: time.Date(2024, 12, 25, 0, 0, 0, 0, time.UTC), want: Sunday},
		{name: "independence day observed monday", date: time.Date(2021, 7, 5, 0, 0, 0, 0, time.UTC), want: Sunday},
		{name: "day after thanksgiving", date: time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC), want: Weekday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			is.Equal(dayTypes.At(tt.date), tt.want)
		})
	}
}
