package predictor

import (
	"math"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
)

//Predict produces the arrival and departure predictions for the stops the vehicle in state has yet to pass on
//instance. The result only depends on its arguments.
//
//Predictions start from the vehicle's last report, or while it has been stationary for longer than
//cfg.DwellThreshold, from DwellThreshold after it stopped. The remaining part of the segment the vehicle is on is
//charged by the distance left, each later segment by its expected traversal, and each stop by its scheduled dwell.
//A vehicle never departs the first stop of a trip before its scheduled departure
func Predict(state *vehiclestate.State,
	instance schedule.TripInstance,
	stats StatisticsReader,
	dayType string,
	cfg Config) *gtfs.TripUpdate {
	trip := instance.Trip
	update := &gtfs.TripUpdate{
		TripId:               trip.TripId,
		RouteId:              trip.RouteId,
		ServiceDate:          instance.ServiceDate,
		ScheduleRelationship: "SCHEDULED",
		Timestamp:            uint64(state.LastReportTime.Unix()),
		VehicleId:            state.VehicleId,
		Confidence:           state.Confidence,
		LowConfidence:        state.LowConfidence,
		StopTimeUpdates:      make([]gtfs.StopTimeUpdate, 0),
	}
	if state.ScheduleAdherence != nil {
		update.Delay = roundSeconds(state.ScheduleAdherence.Seconds())
	}
	next := trip.NextStopIndex(state.DistanceAlongTrip)
	if next >= len(trip.StopPaths) {
		return update
	}
	//an unknown bias kind is rejected when the policy is loaded
	bias, _ := NewBiasAdjuster(cfg.Bias)

	base := predictionBase(state, cfg.DwellThreshold)
	elapsed := 0.0
	usedStatistics := false
	previousDeparture := 0.0
	for i := next; i < len(trip.StopPaths); i++ {
		stop := &trip.StopPaths[i]
		if i > 0 {
			from := &trip.StopPaths[i-1]
			scheduled := float64(stop.ArrivalOffset - from.DepartureOffset)
			key := Key{RouteId: trip.RouteId, FromStopId: from.StopId, ToStopId: stop.StopId, DayType: dayType}
			expected, statisticUsed := expectedSeconds(stats, key, scheduled, cfg.PriorWeight)
			usedStatistics = usedStatistics || statisticUsed
			if i == next {
				expected *= remainingFraction(from.DistanceAlongTrip, stop.DistanceAlongTrip, state.DistanceAlongTrip)
			}
			elapsed += expected
		}
		arrival := elapsed
		departure := arrival + float64(stop.DwellSeconds())
		if i == 0 {
			scheduledDeparture := instance.ScheduledDeparture(0).Sub(base).Seconds()
			departure = math.Max(departure, scheduledDeparture)
		}
		elapsed = departure

		if cfg.MaxHorizon > 0 && arrival > cfg.MaxHorizon.Seconds() {
			update.StopTimeUpdates = append(update.StopTimeUpdates, gtfs.StopTimeUpdate{
				StopSequence:         stop.StopSequence,
				StopId:               stop.StopId,
				ScheduledArrivalTime: instance.ScheduledArrival(i),
				PredictionSource:     gtfs.NoFurtherPredictions,
			})
			break
		}

		if bias != nil {
			arrival = bias.Adjust(arrival)
			departure = bias.Adjust(departure)
		}
		//adjusted times must still be in stop order
		arrival = math.Max(arrival, previousDeparture)
		departure = math.Max(departure, arrival)
		previousDeparture = departure

		source := gtfs.SchedulePrediction
		if usedStatistics {
			source = gtfs.StopStatisticsPrediction
		}
		update.StopTimeUpdates = append(update.StopTimeUpdates,
			makeStopTimeUpdate(instance, i, base, arrival, departure, source))
	}
	return update
}

//predictionBase returns the time predictions are made from
func predictionBase(state *vehiclestate.State, dwellThreshold time.Duration) time.Time {
	if state.StationarySince == nil || dwellThreshold <= 0 {
		return state.LastReportTime
	}
	if state.LastReportTime.Sub(*state.StationarySince) > dwellThreshold {
		return state.StationarySince.Add(dwellThreshold)
	}
	return state.LastReportTime
}

//remainingFraction returns the part of the segment between fromDistance and toDistance still ahead of distance
func remainingFraction(fromDistance, toDistance, distance float64) float64 {
	span := toDistance - fromDistance
	if span <= 0 {
		return 0
	}
	return math.Max(0, math.Min(1, (toDistance-distance)/span))
}

func makeStopTimeUpdate(instance schedule.TripInstance,
	stopIndex int,
	base time.Time,
	arrivalSeconds, departureSeconds float64,
	source gtfs.PredictionSource) gtfs.StopTimeUpdate {
	stop := &instance.Trip.StopPaths[stopIndex]
	scheduledArrival := instance.ScheduledArrival(stopIndex)
	scheduledDeparture := instance.ScheduledDeparture(stopIndex)
	predictedArrival := atSeconds(base, arrivalSeconds)
	predictedDeparture := atSeconds(base, departureSeconds)
	departureDelay := roundSeconds(predictedDeparture.Sub(scheduledDeparture).Seconds())
	return gtfs.StopTimeUpdate{
		StopSequence:           stop.StopSequence,
		StopId:                 stop.StopId,
		ArrivalDelay:           roundSeconds(predictedArrival.Sub(scheduledArrival).Seconds()),
		ScheduledArrivalTime:   scheduledArrival,
		PredictedArrivalTime:   predictedArrival,
		ScheduledDepartureTime: &scheduledDeparture,
		PredictedDepartureTime: &predictedDeparture,
		DepartureDelay:         &departureDelay,
		PredictionSource:       source,
	}
}

//atSeconds returns base plus seconds rounded to the nearest second
func atSeconds(base time.Time, seconds float64) time.Time {
	return base.Add(time.Duration(seconds * float64(time.Second))).Round(time.Second)
}

func roundSeconds(seconds float64) int {
	return int(math.Round(seconds))
}

//Traversal is a vehicle's observed travel between two consecutive stops on a trip
type Traversal struct {
	Key       Key
	FromIndex int
	//ObservedSeconds excludes the scheduled dwell at the to stop
	ObservedSeconds  float64
	ScheduledSeconds float64
	//ArrivedAt is when the vehicle passed the to stop
	ArrivedAt time.Time
	Observed  bool
}

//Traversals converts consecutive stop passes of a trip into segment Traversals
func Traversals(instance schedule.TripInstance, passes []vehiclestate.StopPass, dayType string) []Traversal {
	result := make([]Traversal, 0)
	if instance.IsZero() {
		return result
	}
	trip := instance.Trip
	last := len(trip.StopPaths) - 1
	for i := 1; i < len(passes); i++ {
		from, to := passes[i-1], passes[i]
		if to.StopIndex != from.StopIndex+1 || to.StopIndex > last {
			continue
		}
		fromStop, toStop := &trip.StopPaths[from.StopIndex], &trip.StopPaths[to.StopIndex]
		if fromStop.StopId != from.StopId || toStop.StopId != to.StopId {
			continue
		}
		observed := to.Time.Sub(from.Time).Seconds()
		if to.StopIndex != last {
			observed -= float64(toStop.DwellSeconds())
		}
		result = append(result, Traversal{
			Key: Key{
				RouteId:    trip.RouteId,
				FromStopId: fromStop.StopId,
				ToStopId:   toStop.StopId,
				DayType:    dayType,
			},
			FromIndex:        from.StopIndex,
			ObservedSeconds:  observed,
			ScheduledSeconds: float64(toStop.ArrivalOffset - fromStop.DepartureOffset),
			ArrivedAt:        to.Time,
			Observed:         from.Observed && to.Observed,
		})
	}
	return result
}
