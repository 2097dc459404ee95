package schedule

import (
	"fmt"
	"time"

	"github.com/OneBusAway/go-gtfs"
	gtfsdata "github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/jmoiron/sqlx"
)

// LoadDataset reads the gtfs DataSet in use at "at" from the database tables written by the gtfs import process
func LoadDataset(db *sqlx.DB, at time.Time, location *time.Location) (*Dataset, error) {
	dataSet, err := gtfsdata.GetDataSetAt(db, at)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{
		Source:   dataSet.String(),
		Version:  dataSet.Id,
		Location: location,
	}
	if ds.Trips, err = gtfsdata.GetTrips(db, dataSet.Id); err != nil {
		return nil, fmt.Errorf("unable to load trips for data set %d: %w", dataSet.Id, err)
	}
	if ds.StopTimes, err = gtfsdata.GetStopTimes(db, dataSet.Id); err != nil {
		return nil, fmt.Errorf("unable to load stop times for data set %d: %w", dataSet.Id, err)
	}
	if ds.Shapes, err = gtfsdata.GetShapes(db, dataSet.Id); err != nil {
		return nil, fmt.Errorf("unable to load shapes for data set %d: %w", dataSet.Id, err)
	}
	if ds.Stops, err = gtfsdata.GetStops(db, dataSet.Id); err != nil {
		return nil, fmt.Errorf("unable to load stops for data set %d: %w", dataSet.Id, err)
	}
	if ds.Calendars, err = gtfsdata.GetCalendars(db, dataSet.Id); err != nil {
		return nil, fmt.Errorf("unable to load calendars for data set %d: %w", dataSet.Id, err)
	}
	if ds.CalendarDates, err = gtfsdata.GetCalendarDates(db, dataSet.Id); err != nil {
		return nil, fmt.Errorf("unable to load calendar dates for data set %d: %w", dataSet.Id, err)
	}
	return ds, nil
}

// ParseStaticZip reads a gtfs static zip file into a Dataset. When location is nil the first agency's timezone
// is used
func ParseStaticZip(data []byte, source string, version int64, location *time.Location) (*Dataset, error) {
	static, err := gtfs.ParseStatic(data, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("unable to parse gtfs static from %s: %w", source, err)
	}
	if location == nil && len(static.Agencies) > 0 {
		location, err = time.LoadLocation(static.Agencies[0].Timezone)
		if err != nil {
			return nil, fmt.Errorf("agency timezone %q: %w", static.Agencies[0].Timezone, err)
		}
	}
	ds := FromStatic(static)
	ds.Source = source
	ds.Version = version
	ds.Location = location
	return ds, nil
}

// FromStatic converts parsed gtfs static data to Dataset rows
func FromStatic(static *gtfs.Static) *Dataset {
	ds := &Dataset{}
	for i := range static.Trips {
		t := &static.Trips[i]
		trip := &gtfsdata.Trip{
			TripId:  t.ID,
			BlockId: t.BlockID,
		}
		if t.Route != nil {
			trip.RouteId = t.Route.Id
		}
		if t.Service != nil {
			trip.ServiceId = t.Service.Id
		}
		if t.Shape != nil {
			trip.ShapeId = t.Shape.ID
		}
		for _, st := range t.StopTimes {
			if st.Stop == nil {
				continue
			}
			stopTime := &gtfsdata.StopTime{
				TripId:            t.ID,
				StopSequence:      uint32(st.StopSequence),
				StopId:            st.Stop.Id,
				ArrivalTime:       int(st.ArrivalTime / time.Second),
				DepartureTime:     int(st.DepartureTime / time.Second),
				ShapeDistTraveled: st.ShapeDistanceTraveled,
			}
			if st.ExactTimes {
				stopTime.Timepoint = 1
			}
			ds.StopTimes = append(ds.StopTimes, stopTime)
		}
		if len(t.StopTimes) > 0 {
			trip.StartTime = int(t.StopTimes[0].DepartureTime / time.Second)
			trip.EndTime = int(t.StopTimes[len(t.StopTimes)-1].ArrivalTime / time.Second)
		}
		ds.Trips = append(ds.Trips, trip)
	}
	for i := range static.Shapes {
		s := &static.Shapes[i]
		for sequence, point := range s.Points {
			ds.Shapes = append(ds.Shapes, &gtfsdata.Shape{
				ShapeId:           s.ID,
				ShapePtLat:        point.Latitude,
				ShapePtLng:        point.Longitude,
				ShapePtSequence:   sequence,
				ShapeDistTraveled: point.Distance,
			})
		}
	}
	for i := range static.Stops {
		s := &static.Stops[i]
		// generic nodes and boarding areas may have no coordinates
		if s.Latitude == nil || s.Longitude == nil {
			continue
		}
		ds.Stops = append(ds.Stops, &gtfsdata.Stop{
			StopId:   s.Id,
			StopName: s.Name,
			StopLat:  *s.Latitude,
			StopLon:  *s.Longitude,
		})
	}
	for i := range static.Services {
		s := &static.Services[i]
		ds.Calendars = append(ds.Calendars, &gtfsdata.Calendar{
			ServiceId: s.Id,
			Monday:    boolToInt(s.Monday),
			Tuesday:   boolToInt(s.Tuesday),
			Wednesday: boolToInt(s.Wednesday),
			Thursday:  boolToInt(s.Thursday),
			Friday:    boolToInt(s.Friday),
			Saturday:  boolToInt(s.Saturday),
			Sunday:    boolToInt(s.Sunday),
			StartDate: s.StartDate,
			EndDate:   s.EndDate,
		})
		for _, date := range s.AddedDates {
			ds.CalendarDates = append(ds.CalendarDates, &gtfsdata.CalendarDate{
				ServiceId: s.Id, Date: date, ExceptionType: gtfsdata.ServiceAdded,
			})
		}
		for _, date := range s.RemovedDates {
			ds.CalendarDates = append(ds.CalendarDates, &gtfsdata.CalendarDate{
				ServiceId: s.Id, Date: date, ExceptionType: gtfsdata.ServiceRemoved,
			})
		}
	}
	return ds
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveDataset records the rows of ds under a new gtfs.DataSet described by dataSet in a single transaction.
// ds.Version is set to the new DataSet's id
func SaveDataset(db *sqlx.DB, ds *Dataset, dataSet gtfsdata.DataSet, savedAt time.Time) error {
	return transact(db, func(tx *sqlx.Tx) error {
		dataSet.SavedAt = &savedAt
		if err := gtfsdata.SaveDataSet(tx, &dataSet); err != nil {
			return fmt.Errorf("unable to save data set from %s: %w", ds.Source, err)
		}
		dsTx := &gtfsdata.DataSetTransaction{DS: dataSet, Tx: tx}
		if err := gtfsdata.RecordTrips(ds.Trips, dsTx); err != nil {
			return fmt.Errorf("unable to save trips: %w", err)
		}
		if err := gtfsdata.RecordStopTimes(ds.StopTimes, dsTx); err != nil {
			return fmt.Errorf("unable to save stop times: %w", err)
		}
		if err := gtfsdata.RecordShapes(ds.Shapes, dsTx); err != nil {
			return fmt.Errorf("unable to save shapes: %w", err)
		}
		if err := gtfsdata.RecordStops(ds.Stops, dsTx); err != nil {
			return fmt.Errorf("unable to save stops: %w", err)
		}
		for _, calendar := range ds.Calendars {
			if err := gtfsdata.RecordCalendar(calendar, dsTx); err != nil {
				return fmt.Errorf("unable to save calendar %s: %w", calendar.ServiceId, err)
			}
		}
		for _, calendarDate := range ds.CalendarDates {
			if err := gtfsdata.RecordCalendarDate(calendarDate, dsTx); err != nil {
				return fmt.Errorf("unable to save calendar date for %s: %w", calendarDate.ServiceId, err)
			}
		}
		ds.Version = dataSet.Id
		return nil
	})
}

// transact calls txFunc inside a transaction, committing when it returns nil and rolling back otherwise
func transact(db *sqlx.DB, txFunc func(*sqlx.Tx) error) (err error) {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return txFunc(tx)
}
