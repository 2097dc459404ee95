package feed

import (
	"math"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
)

//atStopDistance is how close in meters a vehicle must be to its next stop to be STOPPED_AT it
const atStopDistance = 25.0

//newFeedMessage builds an empty FULL_DATASET gtfsrt.FeedMessage with its header timestamp at "now"
func newFeedMessage(now uint64) *gtfsrt.FeedMessage {
	gtfsRealtimeVersion := "2.0"
	incrementality := gtfsrt.FeedHeader_FULL_DATASET
	return &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: &gtfsRealtimeVersion,
			Incrementality:      &incrementality,
			Timestamp:           &now,
		},
		Entity: []*gtfsrt.FeedEntity{},
	}
}

//makeTripUpdateEntity builds the gtfsrt.FeedEntity of a vehicle's gtfs.TripUpdate
func makeTripUpdateEntity(tripUpdate *gtfs.TripUpdate) *gtfsrt.FeedEntity {
	tripScheduleRelationship := gtfsrt.TripDescriptor_SCHEDULED
	stopScheduleRelationship := gtfsrt.TripUpdate_StopTimeUpdate_SCHEDULED
	stopNoDataRelationship := gtfsrt.TripUpdate_StopTimeUpdate_NO_DATA
	entityId := "trip_update_" + tripUpdate.VehicleId
	tripId := tripUpdate.TripId
	routeId := tripUpdate.RouteId
	startDate := tripUpdate.ServiceDate.Format("20060102")
	vehicleId := tripUpdate.VehicleId
	timestamp := tripUpdate.Timestamp
	delay := int32(tripUpdate.Delay)
	protoc := &gtfsrt.TripUpdate{
		Trip: &gtfsrt.TripDescriptor{
			TripId:               &tripId,
			RouteId:              &routeId,
			StartDate:            &startDate,
			ScheduleRelationship: &tripScheduleRelationship,
		},
		Vehicle: &gtfsrt.VehicleDescriptor{
			Id: &vehicleId,
		},
		StopTimeUpdate: []*gtfsrt.TripUpdate_StopTimeUpdate{},
		Timestamp:      &timestamp,
		Delay:          &delay,
	}
	for _, stopTimeUpdate := range tripUpdate.StopTimeUpdates {
		stopSequence := stopTimeUpdate.StopSequence
		stopId := stopTimeUpdate.StopId
		gtfsStopUpdate := &gtfsrt.TripUpdate_StopTimeUpdate{
			StopSequence: &stopSequence,
			StopId:       &stopId,
		}
		if stopTimeUpdate.PredictionSource == gtfs.NoFurtherPredictions {
			gtfsStopUpdate.ScheduleRelationship = &stopNoDataRelationship
		} else {
			gtfsStopUpdate.ScheduleRelationship = &stopScheduleRelationship
			gtfsStopUpdate.Arrival = makeStopTimeEvent(stopTimeUpdate.ArrivalDelay,
				stopTimeUpdate.PredictedArrivalTime.Unix())
			if stopTimeUpdate.DepartureDelay != nil && stopTimeUpdate.PredictedDepartureTime != nil {
				gtfsStopUpdate.Departure = makeStopTimeEvent(*stopTimeUpdate.DepartureDelay,
					stopTimeUpdate.PredictedDepartureTime.Unix())
			}
		}
		protoc.StopTimeUpdate = append(protoc.StopTimeUpdate, gtfsStopUpdate)
	}
	return &gtfsrt.FeedEntity{
		Id:         &entityId,
		TripUpdate: protoc,
	}
}

func makeStopTimeEvent(delay int, at int64) *gtfsrt.TripUpdate_StopTimeEvent {
	delay32 := int32(delay)
	return &gtfsrt.TripUpdate_StopTimeEvent{
		Delay: &delay32,
		Time:  &at,
	}
}

//makeVehiclePositionEntity builds the gtfsrt.FeedEntity of a vehicle's position from its state.
//returns false when the vehicle has no accepted report
func makeVehiclePositionEntity(state *vehiclestate.State) (*gtfsrt.FeedEntity, bool) {
	report, ok := state.LastReport()
	if !ok {
		return nil, false
	}
	entityId := "vehicle_" + state.VehicleId
	vehicleId := state.VehicleId
	timestamp := uint64(report.Timestamp.Unix())
	latitude := float32(report.Latitude)
	longitude := float32(report.Longitude)
	position := &gtfsrt.Position{
		Latitude:  &latitude,
		Longitude: &longitude,
	}
	if report.Heading != nil {
		bearing := float32(*report.Heading)
		position.Bearing = &bearing
	}
	if report.Speed != nil {
		speed := float32(*report.Speed)
		position.Speed = &speed
	}
	if report.Odometer != nil {
		odometer := *report.Odometer
		position.Odometer = &odometer
	}
	vehiclePosition := &gtfsrt.VehiclePosition{
		Vehicle:   &gtfsrt.VehicleDescriptor{Id: &vehicleId},
		Position:  position,
		Timestamp: &timestamp,
	}
	if state.Matched() {
		trip := state.Trip.Trip
		tripId := trip.TripId
		routeId := trip.RouteId
		startDate := state.Trip.ServiceDate.Format("20060102")
		vehiclePosition.Trip = &gtfsrt.TripDescriptor{
			TripId:    &tripId,
			RouteId:   &routeId,
			StartDate: &startDate,
		}
		if state.NextStopIndex < len(trip.StopPaths) {
			stop := trip.StopPaths[state.NextStopIndex]
			stopId := stop.StopId
			stopSequence := stop.StopSequence
			status := gtfsrt.VehiclePosition_IN_TRANSIT_TO
			if math.Abs(stop.DistanceAlongTrip-state.DistanceAlongTrip) <= atStopDistance {
				status = gtfsrt.VehiclePosition_STOPPED_AT
			}
			vehiclePosition.StopId = &stopId
			vehiclePosition.CurrentStopSequence = &stopSequence
			vehiclePosition.CurrentStatus = &status
		}
	}
	return &gtfsrt.FeedEntity{
		Id:      &entityId,
		Vehicle: vehiclePosition,
	}, true
}
