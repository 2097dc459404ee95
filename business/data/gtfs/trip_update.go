package gtfs

import "time"

// PredictionSource how a prediction was made for a StopTimeUpdate
type PredictionSource int32

const (
	Undefined PredictionSource = iota
	// SchedulePrediction used only scheduled travel times between stops
	SchedulePrediction
	// StopStatisticsPrediction blended observed travel time statistics into at least one segment
	StopStatisticsPrediction
	// NoFurtherPredictions marks a stop that will not be predicted on the trip
	NoFurtherPredictions
)

func (p PredictionSource) String() string {
	switch p {
	case SchedulePrediction:
		return "schedule"
	case StopStatisticsPrediction:
		return "statistics"
	case NoFurtherPredictions:
		return "no_further_predictions"
	}
	return "undefined"
}

// TripUpdate holds the predictions for a vehicle's current trip and its StopTimeUpdates.
// A TripUpdate is replaced, never modified, when predictions are recomputed
type TripUpdate struct {
	TripId               string    `json:"trip_id"`
	RouteId              string    `json:"route_id"`
	ServiceDate          time.Time `json:"service_date"`
	ScheduleRelationship string    `json:"schedule_relationship"`
	Timestamp            uint64    `json:"timestamp"`
	VehicleId            string    `json:"vehicle_id"`
	// Delay is the vehicle's schedule adherence in seconds when the prediction was made, positive when late
	Delay int `json:"delay"`
	// Confidence of the vehicle's trip match between 0 and 1
	Confidence float64 `json:"confidence"`
	// LowConfidence is set when the report behind this prediction arrived late
	LowConfidence   bool             `json:"low_confidence"`
	StopTimeUpdates []StopTimeUpdate `json:"stop_time_update"`
}

// StopTimeUpdate predicted time for a single stop on a trip
type StopTimeUpdate struct {
	StopSequence           uint32           `json:"stop_sequence"`
	StopId                 string           `json:"stop_id"`
	ArrivalDelay           int              `json:"arrival_delay"`
	ScheduledArrivalTime   time.Time        `json:"scheduled_arrival_time"`
	PredictedArrivalTime   time.Time        `json:"predicted_arrival_time"`
	ScheduledDepartureTime *time.Time       `json:"scheduled_departure_time"`
	PredictedDepartureTime *time.Time       `json:"predicted_departure_time"`
	DepartureDelay         *int             `json:"departure_delay"`
	PredictionSource       PredictionSource `json:"prediction_source"`
}

func (stu *StopTimeUpdate) LatestPredictedTime() time.Time {
	if stu.PredictedDepartureTime != nil {
		return *stu.PredictedDepartureTime
	}
	return stu.PredictedArrivalTime
}
