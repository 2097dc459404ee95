package schedule

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/spatial"
)

// ErrEmptySchedule is returned by Build when no trip could be used
var ErrEmptySchedule = errors.New("schedule has no usable trips")

// Dataset contains the gtfs rows a Snapshot is built from
type Dataset struct {
	Source string
	// Version identifies the Dataset, such as the gtfs.DataSet id
	Version       int64
	Location      *time.Location
	Trips         []*gtfs.Trip
	StopTimes     []*gtfs.StopTime
	Shapes        []*gtfs.Shape
	Stops         []*gtfs.Stop
	Calendars     []*gtfs.Calendar
	CalendarDates []*gtfs.CalendarDate
}

// MissingDataError lists trips that could not be included in a Snapshot.
// The Snapshot returned with it is usable, the trips listed can't be matched
type MissingDataError struct {
	Source                string
	MissingShapeIds       []string
	TripsWithoutStopTimes []string
	MissingStopIds        []string
}

func (m *MissingDataError) Error() string {
	return fmt.Sprintf("trips skipped building schedule from %s missingShapeIds:[%s], "+
		"tripsWithoutStopTimes:[%s], missingStopIds:[%s]",
		m.Source,
		strings.Join(m.MissingShapeIds, ","),
		strings.Join(m.TripsWithoutStopTimes, ","),
		strings.Join(m.MissingStopIds, ","))
}

func (m *MissingDataError) empty() bool {
	return len(m.MissingShapeIds) == 0 && len(m.TripsWithoutStopTimes) == 0 && len(m.MissingStopIds) == 0
}

// builtShape holds a shape's points with cumulative meters and the feed's own distance units when provided
type builtShape struct {
	points []spatial.Point
	meters []float64
	// feedDistance is nil unless every point has a shape_dist_traveled value
	feedDistance []float64
}

func (b *builtShape) length() float64 {
	return b.meters[len(b.meters)-1]
}

// metersAt converts distance in the feed's shape_dist_traveled units to meters along the shape
func (b *builtShape) metersAt(feedDistance float64) float64 {
	for i, d := range b.feedDistance {
		if d < feedDistance {
			continue
		}
		if i == 0 {
			return 0
		}
		span := d - b.feedDistance[i-1]
		if span <= 0 {
			return b.meters[i]
		}
		fraction := (feedDistance - b.feedDistance[i-1]) / span
		return b.meters[i-1] + fraction*(b.meters[i]-b.meters[i-1])
	}
	return b.length()
}

// Build creates a Snapshot from ds. Trips with missing shapes, stops or stop times are skipped and reported
// in a *MissingDataError returned with the usable Snapshot.
// returns ErrEmptySchedule when no trip can be used
func Build(ds *Dataset, spatialCfg spatial.Config, now time.Time) (*Snapshot, error) {
	location := ds.Location
	if location == nil {
		location = time.Local
	}
	missing := &MissingDataError{Source: ds.Source}

	shapes := buildShapes(ds.Shapes)
	stops := make(map[string]*gtfs.Stop, len(ds.Stops))
	for _, stop := range ds.Stops {
		stops[stop.StopId] = stop
	}
	stopTimesByTrip := make(map[string][]*gtfs.StopTime)
	for _, stopTime := range ds.StopTimes {
		stopTimesByTrip[stopTime.TripId] = append(stopTimesByTrip[stopTime.TripId], stopTime)
	}

	snapshot := &Snapshot{
		Version:      ds.Version,
		Source:       ds.Source,
		LoadedAt:     now,
		Location:     location,
		trips:        make(map[string]*Trip, len(ds.Trips)),
		tripsByShape: make(map[string][]*Trip),
		tripsByBlock: make(map[string][]*Trip),
		services:     buildServices(ds.Calendars, ds.CalendarDates),
	}
	// shapes synthesized from stop locations for trips without a shape, keyed by stop pattern
	stopPatternShapes := make(map[string]string)
	missingShapes := make(map[string]bool)
	missingStops := make(map[string]bool)

	for _, gtfsTrip := range ds.Trips {
		stopTimes := stopTimesByTrip[gtfsTrip.TripId]
		if len(stopTimes) < 2 {
			missing.TripsWithoutStopTimes = append(missing.TripsWithoutStopTimes, gtfsTrip.TripId)
			continue
		}
		sort.Slice(stopTimes, func(i, j int) bool {
			return stopTimes[i].StopSequence < stopTimes[j].StopSequence
		})

		shapeId := gtfsTrip.ShapeId
		if shapeId == "" {
			var missingStopId string
			shapeId, missingStopId = stopPatternShape(stopTimes, stops, shapes, stopPatternShapes)
			if missingStopId != "" {
				missingStops[missingStopId] = true
				continue
			}
		}
		shape, ok := shapes[shapeId]
		if !ok {
			missingShapes[shapeId] = true
			continue
		}

		stopPaths, missingStopId := buildStopPaths(stopTimes, stops, shape)
		if missingStopId != "" {
			missingStops[missingStopId] = true
			continue
		}

		trip := &Trip{
			TripId:    gtfsTrip.TripId,
			RouteId:   gtfsTrip.RouteId,
			ServiceId: gtfsTrip.ServiceId,
			BlockId:   gtfsTrip.BlockId,
			ShapeId:   shapeId,
			StopPaths: stopPaths,
			Length:    shape.length(),
		}
		snapshot.trips[trip.TripId] = trip
		snapshot.tripsByShape[shapeId] = append(snapshot.tripsByShape[shapeId], trip)
		if trip.BlockId != "" {
			snapshot.tripsByBlock[trip.BlockId] = append(snapshot.tripsByBlock[trip.BlockId], trip)
		}
	}
	if len(snapshot.trips) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrEmptySchedule, ds.Source)
	}

	for _, trips := range snapshot.tripsByShape {
		sortTrips(trips)
	}
	for _, trips := range snapshot.tripsByBlock {
		sortTrips(trips)
	}

	usedShapes := make(map[string][]spatial.Point, len(snapshot.tripsByShape))
	for shapeId := range snapshot.tripsByShape {
		usedShapes[shapeId] = shapes[shapeId].points
	}
	snapshot.index = spatial.NewIndex(usedShapes, spatialCfg)

	missing.MissingShapeIds = sortedKeys(missingShapes)
	missing.MissingStopIds = sortedKeys(missingStops)
	if !missing.empty() {
		return snapshot, missing
	}
	return snapshot, nil
}

func sortTrips(trips []*Trip) {
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].StartOffset() != trips[j].StartOffset() {
			return trips[i].StartOffset() < trips[j].StartOffset()
		}
		return trips[i].TripId < trips[j].TripId
	})
}

func sortedKeys(m map[string]bool) []string {
	var keys []string
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// buildShapes groups shape rows by shape id ordered by sequence, shapes with fewer than two points are dropped
func buildShapes(rows []*gtfs.Shape) map[string]*builtShape {
	byId := make(map[string][]*gtfs.Shape)
	for _, row := range rows {
		byId[row.ShapeId] = append(byId[row.ShapeId], row)
	}
	result := make(map[string]*builtShape, len(byId))
	for shapeId, shapeRows := range byId {
		if len(shapeRows) < 2 {
			continue
		}
		sort.Slice(shapeRows, func(i, j int) bool {
			return shapeRows[i].ShapePtSequence < shapeRows[j].ShapePtSequence
		})
		points := make([]spatial.Point, len(shapeRows))
		feedDistance := make([]float64, len(shapeRows))
		hasFeedDistance := true
		for i, row := range shapeRows {
			points[i] = spatial.Point{Lat: row.ShapePtLat, Lon: row.ShapePtLng}
			if row.ShapeDistTraveled == nil {
				hasFeedDistance = false
			} else {
				feedDistance[i] = *row.ShapeDistTraveled
			}
		}
		shape := newBuiltShape(points)
		if hasFeedDistance {
			shape.feedDistance = feedDistance
		}
		result[shapeId] = shape
	}
	return result
}

func newBuiltShape(points []spatial.Point) *builtShape {
	meters := make([]float64, len(points))
	for i := 1; i < len(points); i++ {
		meters[i] = meters[i-1] + spatial.Distance(points[i-1].Lat, points[i-1].Lon, points[i].Lat, points[i].Lon)
	}
	return &builtShape{points: points, meters: meters}
}

// stopPatternShape returns the id of a shape through the stops of stopTimes, creating it if the pattern is new
func stopPatternShape(stopTimes []*gtfs.StopTime,
	stops map[string]*gtfs.Stop,
	shapes map[string]*builtShape,
	stopPatternShapes map[string]string) (string, string) {

	stopIds := make([]string, len(stopTimes))
	for i, stopTime := range stopTimes {
		stopIds[i] = stopTime.StopId
	}
	pattern := strings.Join(stopIds, ",")
	if shapeId, ok := stopPatternShapes[pattern]; ok {
		return shapeId, ""
	}
	points := make([]spatial.Point, 0, len(stopTimes))
	for _, stopTime := range stopTimes {
		stop, ok := stops[stopTime.StopId]
		if !ok {
			return "", stopTime.StopId
		}
		points = append(points, spatial.Point{Lat: stop.StopLat, Lon: stop.StopLon})
	}
	shapeId := fmt.Sprintf("stops:%s", stopTimes[0].TripId)
	shapes[shapeId] = newBuiltShape(points)
	stopPatternShapes[pattern] = shapeId
	return shapeId, ""
}

// buildStopPaths places each stop time on shape.
// Uses shape_dist_traveled when both the shape and stop times provide it, otherwise stops are projected onto the
// shape in order. Distances never decrease along the trip
func buildStopPaths(stopTimes []*gtfs.StopTime, stops map[string]*gtfs.Stop, shape *builtShape) ([]StopPath, string) {
	useFeedDistance := shape.feedDistance != nil
	for _, stopTime := range stopTimes {
		if stopTime.ShapeDistTraveled == nil {
			useFeedDistance = false
			break
		}
	}
	stopPaths := make([]StopPath, len(stopTimes))
	previous := 0.0
	for i, stopTime := range stopTimes {
		stop, hasStop := stops[stopTime.StopId]
		var distance float64
		if useFeedDistance {
			distance = shape.metersAt(*stopTime.ShapeDistTraveled)
		} else {
			if !hasStop {
				return nil, stopTime.StopId
			}
			distance = spatial.ProjectPoint(shape.points, spatial.Point{Lat: stop.StopLat, Lon: stop.StopLon}, previous)
		}
		distance = math.Min(shape.length(), math.Max(previous, distance))
		previous = distance

		stopPath := StopPath{
			StopId:            stopTime.StopId,
			StopSequence:      stopTime.StopSequence,
			DistanceAlongTrip: distance,
			ArrivalOffset:     stopTime.ArrivalTime,
			DepartureOffset:   stopTime.DepartureTime,
			Timepoint:         stopTime.IsTimepoint(),
		}
		if stopPath.DepartureOffset < stopPath.ArrivalOffset {
			stopPath.DepartureOffset = stopPath.ArrivalOffset
		}
		if hasStop {
			stopPath.Lat, stopPath.Lon = stop.StopLat, stop.StopLon
		} else {
			point := shape.pointAt(distance)
			stopPath.Lat, stopPath.Lon = point.Lat, point.Lon
		}
		stopPaths[i] = stopPath
	}
	return stopPaths, ""
}

func (b *builtShape) pointAt(distance float64) spatial.Point {
	for i := 1; i < len(b.points); i++ {
		if distance > b.meters[i] {
			continue
		}
		span := b.meters[i] - b.meters[i-1]
		if span <= 0 {
			return b.points[i]
		}
		t := (distance - b.meters[i-1]) / span
		return spatial.Point{
			Lat: b.points[i-1].Lat + (b.points[i].Lat-b.points[i-1].Lat)*t,
			Lon: b.points[i-1].Lon + (b.points[i].Lon-b.points[i-1].Lon)*t,
		}
	}
	return b.points[len(b.points)-1]
}

// buildServices combines calendar and calendar_date records by service id
func buildServices(calendars []*gtfs.Calendar, calendarDates []*gtfs.CalendarDate) map[string]*Service {
	services := make(map[string]*Service)
	get := func(serviceId string) *Service {
		service, ok := services[serviceId]
		if !ok {
			service = &Service{Id: serviceId, Added: make(map[string]bool), Removed: make(map[string]bool)}
			services[serviceId] = service
		}
		return service
	}
	for _, calendar := range calendars {
		service := get(calendar.ServiceId)
		for day := time.Sunday; day <= time.Saturday; day++ {
			service.Days[day] = calendar.RunsOn(day)
		}
		service.StartDate = calendar.StartDate.Format("20060102")
		service.EndDate = calendar.EndDate.Format("20060102")
	}
	for _, calendarDate := range calendarDates {
		service := get(calendarDate.ServiceId)
		day := calendarDate.Date.Format("20060102")
		switch calendarDate.ExceptionType {
		case gtfs.ServiceAdded:
			service.Added[day] = true
		case gtfs.ServiceRemoved:
			service.Removed[day] = true
		}
	}
	return services
}
