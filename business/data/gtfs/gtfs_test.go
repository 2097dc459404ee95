package gtfs

import (
	"errors"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitclock/foundation/database"
	"github.com/jmoiron/sqlx"
	"github.com/matryer/is"
)

func openTestDB(t *testing.T) *sqlx.DB {
	db, err := database.Open(database.Config{Driver: database.DriverSqlite, Path: ":memory:"})
	if err != nil {
		t.Fatalf("unable to open sqlite database: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	if err = CreateSqliteSchema(db); err != nil {
		t.Fatalf("unable to create schema: %v", err)
	}
	return db
}

func float64Ptr(f float64) *float64 {
	return &f
}

func TestGetDataSetAt(t *testing.T) {
	is := is.New(t)
	db := openTestDB(t)

	_, err := GetDataSetAt(db, time.Now().UTC())
	is.True(errors.Is(err, ErrNoDataSet))

	saved := time.Date(2022, 5, 1, 8, 0, 0, 0, time.UTC)
	tx, err := db.Beginx()
	is.NoErr(err)
	ds := DataSet{URL: "https://example.com/gtfs.zip", ETag: "v1", DownloadedAt: saved, SavedAt: &saved}
	is.NoErr(SaveDataSet(tx, &ds))
	is.NoErr(tx.Commit())
	is.True(ds.Id != 0)

	_, err = GetDataSetAt(db, saved.Add(-time.Hour))
	is.True(errors.Is(err, ErrNoDataSet))

	found, err := GetDataSetAt(db, saved.Add(time.Hour))
	is.NoErr(err)
	is.Equal(found.Id, ds.Id)
	is.Equal(found.ETag, "v1")
}

func TestRecordAndGetScheduleRows(t *testing.T) {
	is := is.New(t)
	db := openTestDB(t)
	saved := time.Date(2022, 5, 1, 8, 0, 0, 0, time.UTC)

	tx, err := db.Beginx()
	is.NoErr(err)
	ds := DataSet{DownloadedAt: saved, SavedAt: &saved}
	is.NoErr(SaveDataSet(tx, &ds))
	dsTx := &DataSetTransaction{DS: ds, Tx: tx}

	is.NoErr(RecordTrips([]*Trip{
		{TripId: "t2", RouteId: "r1", ServiceId: "wk", ShapeId: "s1", StartTime: 3600, EndTime: 4200},
		{TripId: "t1", RouteId: "r1", ServiceId: "wk", BlockId: "b1", ShapeId: "s1", StartTime: 3000, EndTime: 3600},
	}, dsTx))
	is.NoErr(RecordStopTimes([]*StopTime{
		{TripId: "t1", StopSequence: 2, StopId: "B", ArrivalTime: 3600, DepartureTime: 3600},
		{TripId: "t1", StopSequence: 1, StopId: "A", ArrivalTime: 3000, DepartureTime: 3000,
			ShapeDistTraveled: float64Ptr(0), Timepoint: 1},
	}, dsTx))
	is.NoErr(RecordShapes([]*Shape{
		{ShapeId: "s1", ShapePtLat: 45.1, ShapePtLng: -122.1, ShapePtSequence: 2},
		{ShapeId: "s1", ShapePtLat: 45.0, ShapePtLng: -122.0, ShapePtSequence: 1},
	}, dsTx))
	is.NoErr(RecordStops([]*Stop{{StopId: "A", StopName: "First", StopLat: 45.0, StopLon: -122.0}}, dsTx))
	is.NoErr(RecordCalendar(&Calendar{ServiceId: "wk", Monday: 1, Tuesday: 1, Wednesday: 1, Thursday: 1, Friday: 1,
		StartDate: saved, EndDate: saved.AddDate(0, 6, 0)}, dsTx))
	is.NoErr(RecordCalendarDate(&CalendarDate{ServiceId: "wk", Date: saved.AddDate(0, 0, 30),
		ExceptionType: ServiceRemoved}, dsTx))
	is.NoErr(tx.Commit())

	trips, err := GetTrips(db, ds.Id)
	is.NoErr(err)
	is.Equal(len(trips), 2)
	is.Equal(trips[0].TripId, "t1")
	is.Equal(trips[0].BlockId, "b1")

	stopTimes, err := GetStopTimes(db, ds.Id)
	is.NoErr(err)
	is.Equal(len(stopTimes), 2)
	is.Equal(stopTimes[0].StopId, "A")
	is.True(stopTimes[0].IsTimepoint())
	is.True(stopTimes[1].ShapeDistTraveled == nil)

	shapes, err := GetShapes(db, ds.Id)
	is.NoErr(err)
	is.Equal(len(shapes), 2)
	is.Equal(shapes[0].ShapePtSequence, 1)

	stops, err := GetStops(db, ds.Id)
	is.NoErr(err)
	is.Equal(len(stops), 1)
	is.Equal(stops[0].StopName, "First")

	calendars, err := GetCalendars(db, ds.Id)
	is.NoErr(err)
	is.Equal(len(calendars), 1)
	is.True(calendars[0].RunsOn(time.Monday))
	is.True(!calendars[0].RunsOn(time.Sunday))

	calendarDates, err := GetCalendarDates(db, ds.Id)
	is.NoErr(err)
	is.Equal(len(calendarDates), 1)
	is.Equal(calendarDates[0].ExceptionType, ServiceRemoved)
}

func TestRecordObservedStopTimes(t *testing.T) {
	is := is.New(t)
	db := openTestDB(t)
	scheduled := 120
	observed := time.Date(2022, 5, 2, 9, 0, 0, 0, time.UTC)
	err := RecordObservedStopTimes([]*ObservedStopTime{
		{ObservedTime: observed, StopId: "A", NextStopId: "B", VehicleId: "v1", RouteId: "r1",
			TravelSeconds: 100, ScheduledSeconds: &scheduled, TripId: "t1"},
		{ObservedTime: observed.Add(time.Minute), StopId: "B", NextStopId: "C", VehicleId: "v1", RouteId: "r1",
			TravelSeconds: 60, TripId: "t1"},
	}, db)
	is.NoErr(err)

	var count int
	is.NoErr(db.Get(&count, "select count(*) from observed_stop_time"))
	is.Equal(count, 2)

	is.NoErr(RecordObservedStopTimes(nil, db))
}
