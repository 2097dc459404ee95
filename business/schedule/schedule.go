// Package schedule holds the immutable, versioned schedule used to match vehicles to trips.
// A Snapshot is built from gtfs rows and replaced as a whole when the schedule is reloaded.
package schedule

import (
	"errors"
	"math"
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
)

// ErrNotLoaded is returned when no schedule has been loaded yet. Callers may retry later
var ErrNotLoaded = errors.New("schedule not loaded")

// StopPath is a stop on a Trip along with its scheduled times and location along the trip's shape
type StopPath struct {
	StopId       string  `json:"stop_id"`
	StopSequence uint32  `json:"stop_sequence"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	// DistanceAlongTrip in meters from the start of the trip's shape
	DistanceAlongTrip float64 `json:"distance_along_trip"`
	// ArrivalOffset and DepartureOffset are gtfs schedule seconds from 12am on the service date
	ArrivalOffset   int  `json:"arrival_offset"`
	DepartureOffset int  `json:"departure_offset"`
	Timepoint       bool `json:"timepoint"`
}

// DwellSeconds scheduled at the stop
func (sp *StopPath) DwellSeconds() int {
	return sp.DepartureOffset - sp.ArrivalOffset
}

// Trip is a scheduled trip with its stops ordered by stop sequence
type Trip struct {
	TripId    string     `json:"trip_id"`
	RouteId   string     `json:"route_id"`
	ServiceId string     `json:"service_id"`
	BlockId   string     `json:"block_id"`
	ShapeId   string     `json:"shape_id"`
	StopPaths []StopPath `json:"stop_paths"`
	// Length of the trip's shape in meters
	Length float64 `json:"length"`
}

// StartOffset is the scheduled departure from the first stop
func (t *Trip) StartOffset() int {
	return t.StopPaths[0].DepartureOffset
}

// EndOffset is the scheduled arrival at the last stop
func (t *Trip) EndOffset() int {
	return t.StopPaths[len(t.StopPaths)-1].ArrivalOffset
}

// LastStopDistance is the distance along the trip of the final stop
func (t *Trip) LastStopDistance() float64 {
	return t.StopPaths[len(t.StopPaths)-1].DistanceAlongTrip
}

// NextStopIndex returns the index of the first stop not yet passed by a vehicle distance meters along the trip.
// A stop is passed once the vehicle is beyond it, the last stop once the vehicle reaches it.
// returns len(StopPaths) when every stop has been passed
func (t *Trip) NextStopIndex(distance float64) int {
	last := len(t.StopPaths) - 1
	for i := range t.StopPaths {
		stopDistance := t.StopPaths[i].DistanceAlongTrip
		if i == last {
			if stopDistance > distance {
				return i
			}
			break
		}
		if stopDistance >= distance {
			return i
		}
	}
	return len(t.StopPaths)
}

// Finished returns true when a vehicle distance meters along the trip has passed every stop
func (t *Trip) Finished(distance float64) bool {
	return t.NextStopIndex(distance) >= len(t.StopPaths)
}

// ScheduledOffsetAt interpolates the schedule seconds a vehicle is expected to be distance meters along the trip,
// between the departure from the previous stop and arrival at the next.
func (t *Trip) ScheduledOffsetAt(distance float64) float64 {
	first := &t.StopPaths[0]
	if distance <= first.DistanceAlongTrip {
		return float64(first.DepartureOffset)
	}
	for i := 1; i < len(t.StopPaths); i++ {
		next := &t.StopPaths[i]
		if distance > next.DistanceAlongTrip {
			continue
		}
		previous := &t.StopPaths[i-1]
		span := next.DistanceAlongTrip - previous.DistanceAlongTrip
		if span <= 0 {
			return float64(next.ArrivalOffset)
		}
		fraction := (distance - previous.DistanceAlongTrip) / span
		return float64(previous.DepartureOffset) + fraction*float64(next.ArrivalOffset-previous.DepartureOffset)
	}
	return float64(t.EndOffset())
}

// TripInstance is a Trip operating on a service date
type TripInstance struct {
	Trip *Trip
	// ServiceDate is 12am at the start of the service day in the schedule's location
	ServiceDate time.Time
}

// IsZero returns true for the unmatched TripInstance
func (ti TripInstance) IsZero() bool {
	return ti.Trip == nil
}

// TripId of the instance, empty when unmatched
func (ti TripInstance) TripId() string {
	if ti.Trip == nil {
		return ""
	}
	return ti.Trip.TripId
}

// Key identifies the trip and service date
func (ti TripInstance) Key() string {
	if ti.Trip == nil {
		return ""
	}
	return ti.Trip.TripId + "_" + ti.ServiceDate.Format("20060102")
}

// Same returns true if both instances are the same trip on the same service date
func (ti TripInstance) Same(other TripInstance) bool {
	return ti.Key() == other.Key()
}

// ScheduledArrival returns the scheduled arrival at the stop at stopIndex
func (ti TripInstance) ScheduledArrival(stopIndex int) time.Time {
	return gtfs.MakeScheduleTime(ti.ServiceDate, ti.Trip.StopPaths[stopIndex].ArrivalOffset)
}

// ScheduledDeparture returns the scheduled departure from the stop at stopIndex
func (ti TripInstance) ScheduledDeparture(stopIndex int) time.Time {
	return gtfs.MakeScheduleTime(ti.ServiceDate, ti.Trip.StopPaths[stopIndex].DepartureOffset)
}

// Start is the scheduled departure from the first stop
func (ti TripInstance) Start() time.Time {
	return ti.ScheduledDeparture(0)
}

// End is the scheduled arrival at the last stop
func (ti TripInstance) End() time.Time {
	return ti.ScheduledArrival(len(ti.Trip.StopPaths) - 1)
}

// ScheduledTimeAt returns when the vehicle is scheduled to be distance meters along the trip
func (ti TripInstance) ScheduledTimeAt(distance float64) time.Time {
	offset := ti.Trip.ScheduledOffsetAt(distance)
	whole := math.Floor(offset)
	fraction := time.Duration((offset - whole) * float64(time.Second))
	return gtfs.MakeScheduleTime(ti.ServiceDate, int(whole)).Add(fraction)
}

// Service is the set of dates a trip operates on, from calendar.txt and calendar_dates.txt
type Service struct {
	Id string
	// Days indexed by time.Weekday
	Days [7]bool
	// StartDate and EndDate formatted as 20060102, empty when the service has no calendar record
	StartDate string
	EndDate   string
	Added     map[string]bool
	Removed   map[string]bool
}

// RunsOn returns true if the service operates on serviceDate
func (s *Service) RunsOn(serviceDate time.Time) bool {
	if s == nil {
		return false
	}
	day := serviceDate.Format("20060102")
	if s.Removed[day] {
		return false
	}
	if s.Added[day] {
		return true
	}
	if s.StartDate == "" {
		return false
	}
	return day >= s.StartDate && day <= s.EndDate && s.Days[serviceDate.Weekday()]
}
