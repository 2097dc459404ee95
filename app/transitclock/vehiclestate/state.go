// Package vehiclestate holds the latest matched state of every vehicle reporting positions.
package vehiclestate

import (
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/avl"
	"github.com/OpenTransitTools/transitclock/business/schedule"
)

//HistorySize is the number of recent reports kept on a State
const HistorySize = 10

//StopPass is the time a vehicle is determined to have passed a stop on a trip
type StopPass struct {
	StopId       string    `json:"stop_id"`
	StopSequence uint32    `json:"stop_sequence"`
	StopIndex    int       `json:"stop_index"`
	Time         time.Time `json:"time"`
	//Observed is true when a report placed the vehicle at the stop rather than the time being interpolated
	Observed bool `json:"observed"`
}

//TripTransition is produced when a vehicle leaves a trip instance, either to another trip or to being unmatched
type TripTransition struct {
	VehicleId string
	From      schedule.TripInstance
	To        schedule.TripInstance
	//StopPasses on the From trip instance, in stop order
	StopPasses []StopPass
	At         time.Time
}

//Completed returns true when the vehicle passed the last stop of the trip it left
func (t *TripTransition) Completed() bool {
	if t == nil || t.From.IsZero() || len(t.StopPasses) == 0 {
		return false
	}
	return t.StopPasses[len(t.StopPasses)-1].StopIndex == len(t.From.Trip.StopPaths)-1
}

//State of a vehicle after its latest accepted report.
//A State is never modified after it is stored, updates install a new State
type State struct {
	VehicleId string
	//Trip is the zero TripInstance when the vehicle is unmatched
	Trip schedule.TripInstance
	//DistanceAlongTrip in meters along Trip's shape
	DistanceAlongTrip float64
	NextStopIndex     int
	//History holds the most recent reports, oldest first
	History    []avl.Report
	Confidence float64
	//LowConfidence is set when the last report arrived later than the stale threshold
	LowConfidence     bool
	LastReportTime    time.Time
	LastUpdate        time.Time
	StationarySince   *time.Time
	Delayed           bool
	ScheduleAdherence *time.Duration
	//StopPasses on Trip so far, in stop order
	StopPasses []StopPass
	//SnapshotVersion of the schedule used to match the vehicle
	SnapshotVersion int64
}

//Matched returns true when the vehicle is assigned to a trip
func (s *State) Matched() bool {
	return s != nil && !s.Trip.IsZero()
}

//LastReport returns the most recent accepted report
func (s *State) LastReport() (avl.Report, bool) {
	if s == nil || len(s.History) == 0 {
		return avl.Report{}, false
	}
	return s.History[len(s.History)-1], true
}

//WithReport returns a copy of history with report appended, dropping the oldest reports beyond HistorySize
func WithReport(history []avl.Report, report avl.Report) []avl.Report {
	start := 0
	if len(history)+1 > HistorySize {
		start = len(history) + 1 - HistorySize
	}
	result := make([]avl.Report, 0, len(history)-start+1)
	result = append(result, history[start:]...)
	return append(result, report)
}

//stateView is the JSON form of a State served by the feed web service
type stateView struct {
	VehicleId         string     `json:"vehicle_id"`
	TripId            string     `json:"trip_id,omitempty"`
	RouteId           string     `json:"route_id,omitempty"`
	BlockId           string     `json:"block_id,omitempty"`
	ServiceDate       string     `json:"service_date,omitempty"`
	DistanceAlongTrip float64    `json:"distance_along_trip"`
	NextStopId        string     `json:"next_stop_id,omitempty"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	Confidence        float64    `json:"confidence"`
	LowConfidence     bool       `json:"low_confidence"`
	LastReportTime    time.Time  `json:"last_report_time"`
	StationarySince   *time.Time `json:"stationary_since,omitempty"`
	Delayed           bool       `json:"delayed"`
	ScheduleAdherence *int       `json:"schedule_adherence_seconds,omitempty"`
	StopPasses        []StopPass `json:"stop_passes,omitempty"`
}

//View returns the JSON representation of the State
func (s *State) View() any {
	view := stateView{
		VehicleId:         s.VehicleId,
		DistanceAlongTrip: s.DistanceAlongTrip,
		Confidence:        s.Confidence,
		LowConfidence:     s.LowConfidence,
		LastReportTime:    s.LastReportTime,
		StationarySince:   s.StationarySince,
		Delayed:           s.Delayed,
		StopPasses:        s.StopPasses,
	}
	if report, ok := s.LastReport(); ok {
		view.Latitude = report.Latitude
		view.Longitude = report.Longitude
	}
	if s.Matched() {
		trip := s.Trip.Trip
		view.TripId = trip.TripId
		view.RouteId = trip.RouteId
		view.BlockId = trip.BlockId
		view.ServiceDate = s.Trip.ServiceDate.Format("20060102")
		if s.NextStopIndex < len(trip.StopPaths) {
			view.NextStopId = trip.StopPaths[s.NextStopIndex].StopId
		}
	}
	if s.ScheduleAdherence != nil {
		seconds := int(s.ScheduleAdherence.Round(time.Second) / time.Second)
		view.ScheduleAdherence = &seconds
	}
	return view
}
