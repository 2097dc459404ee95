// Package scheduletest provides a small schedule for tests of packages matching and predicting against it.
//
// Route r1 runs along latitude 45 between five stops about 787 meters apart:
//
//	A (-122.000) B (-121.990) C (-121.980) D (-121.970) E (-121.960)
//
// Trips t1 and t3 run east A to E, t2 runs west E to A following t1 in block b1.
// Every trip takes 120 seconds between stops and dwells 30 seconds at the second stop.
package scheduletest

import (
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/business/spatial"
)

const (
	RouteId   = "r1"
	ServiceId = "daily"
	EastShape = "east"
	WestShape = "west"
	// SegmentSeconds is the scheduled travel time between consecutive stops
	SegmentSeconds = 120
	// DwellSeconds is the scheduled dwell at the second stop of each trip
	DwellSeconds = 30
	// T1Start and the other start times are gtfs schedule seconds on ServiceDate
	T1Start = 8 * 60 * 60
	T2Start = T1Start + 10*60
	T3Start = T1Start + 60*60
)

// ServiceDate is a Monday service date, in UTC
var ServiceDate = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

var stopLons = []float64{-122.000, -121.990, -121.980, -121.970, -121.960}
var stopIds = []string{"A", "B", "C", "D", "E"}

// At returns the time scheduleSeconds after 12am on ServiceDate
func At(scheduleSeconds int) time.Time {
	return gtfs.MakeScheduleTime(ServiceDate, scheduleSeconds)
}

// Dataset returns the gtfs rows of the test schedule, each call returns new rows
func Dataset() *schedule.Dataset {
	ds := &schedule.Dataset{
		Source:   "scheduletest",
		Version:  1,
		Location: time.UTC,
		Calendars: []*gtfs.Calendar{{
			ServiceId: ServiceId,
			Monday:    1,
			Tuesday:   1,
			Wednesday: 1,
			Thursday:  1,
			Friday:    1,
			Saturday:  1,
			Sunday:    1,
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		}},
	}
	for i, stopId := range stopIds {
		ds.Stops = append(ds.Stops, &gtfs.Stop{StopId: stopId, StopName: "Stop " + stopId, StopLat: 45, StopLon: stopLons[i]})
	}
	sequence := 0
	for lon := -122.000; lon <= -121.96+0.0001; lon += 0.002 {
		ds.Shapes = append(ds.Shapes, &gtfs.Shape{ShapeId: EastShape, ShapePtLat: 45, ShapePtLng: lon,
			ShapePtSequence: sequence})
		ds.Shapes = append(ds.Shapes, &gtfs.Shape{ShapeId: WestShape, ShapePtLat: 45, ShapePtLng: lon,
			ShapePtSequence: 1000 - sequence})
		sequence++
	}
	addTrip(ds, "t1", "b1", EastShape, T1Start, stopIds)
	addTrip(ds, "t2", "b1", WestShape, T2Start, reversedStopIds())
	addTrip(ds, "t3", "b2", EastShape, T3Start, stopIds)
	return ds
}

func reversedStopIds() []string {
	result := make([]string, len(stopIds))
	for i, stopId := range stopIds {
		result[len(stopIds)-1-i] = stopId
	}
	return result
}

func addTrip(ds *schedule.Dataset, tripId, blockId, shapeId string, start int, stops []string) {
	offset := start
	for i, stopId := range stops {
		stopTime := &gtfs.StopTime{
			TripId:        tripId,
			StopSequence:  uint32(i + 1),
			StopId:        stopId,
			ArrivalTime:   offset,
			DepartureTime: offset,
		}
		if i == 1 {
			stopTime.DepartureTime += DwellSeconds
		}
		ds.StopTimes = append(ds.StopTimes, stopTime)
		offset = stopTime.DepartureTime + SegmentSeconds
	}
	ds.Trips = append(ds.Trips, &gtfs.Trip{
		TripId:    tripId,
		RouteId:   RouteId,
		ServiceId: ServiceId,
		BlockId:   blockId,
		ShapeId:   shapeId,
		StartTime: start,
		EndTime:   offset - SegmentSeconds,
	})
}

// Snapshot builds the test schedule, failing t on error
func Snapshot(t testing.TB) *schedule.Snapshot {
	t.Helper()
	snapshot, err := schedule.Build(Dataset(), spatial.Config{}, ServiceDate)
	if err != nil {
		t.Fatalf("unable to build test schedule: %v", err)
	}
	return snapshot
}

// Reference returns a schedule.Reference holding the test schedule
func Reference(t testing.TB) *schedule.Reference {
	t.Helper()
	reference := &schedule.Reference{}
	reference.Swap(Snapshot(t))
	return reference
}
