package avl

import (
	"fmt"
	"time"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"google.golang.org/protobuf/proto"
)

// ParseVehiclePositions decodes a gtfs-realtime VehiclePositions feed into Reports.
// Entities without a vehicle identifier or position can not become reports and are skipped, the number skipped is
// returned along with the reports.
// Any changes to the GTFS-realtime protocol or generated code can be handled here and not elsewhere in the program.
func ParseVehiclePositions(data []byte, receivedAt time.Time, source string) ([]Report, int, error) {
	feedMessage := gtfsrt.FeedMessage{}
	if err := proto.Unmarshal(data, &feedMessage); err != nil {
		return nil, 0, fmt.Errorf("unable to unmarshal FeedMessage: %w", err)
	}
	var reports []Report
	skipped := 0
	for _, entity := range feedMessage.Entity {
		if entity.Vehicle == nil {
			continue
		}
		report, ok := FromVehiclePosition(entity.Vehicle, receivedAt, source)
		if !ok {
			skipped++
			continue
		}
		reports = append(reports, report)
	}
	return reports, skipped, nil
}

// FromVehiclePosition converts a gtfs-realtime VehiclePosition to a Report.
// returns false if the vehicle has no identifier or no position.
// When the vehicle omits its timestamp receivedAt is used.
func FromVehiclePosition(vehicle *gtfsrt.VehiclePosition, receivedAt time.Time, source string) (Report, bool) {
	vehicleDescriptor := vehicle.Vehicle
	if vehicleDescriptor == nil || vehicleDescriptor.Id == nil || vehicle.Position == nil {
		return Report{}, false
	}
	position := vehicle.Position
	if position.Latitude == nil || position.Longitude == nil {
		return Report{}, false
	}
	report := Report{
		VehicleId:  vehicleDescriptor.GetId(),
		Latitude:   float64(position.GetLatitude()),
		Longitude:  float64(position.GetLongitude()),
		ReceivedAt: receivedAt,
		Source:     source,
	}
	if vehicle.Timestamp != nil {
		report.Timestamp = time.Unix(int64(vehicle.GetTimestamp()), 0)
	} else {
		report.Timestamp = receivedAt
	}
	if position.Bearing != nil {
		report.Heading = float64Ptr(float64(position.GetBearing()))
	}
	if position.Speed != nil {
		report.Speed = float64Ptr(float64(position.GetSpeed()))
	}
	if position.Odometer != nil {
		report.Odometer = float64Ptr(position.GetOdometer())
	}
	if vehicle.Trip != nil {
		report.TripId = vehicle.Trip.GetTripId()
	}
	return report, true
}

func float64Ptr(f float64) *float64 {
	return &f
}
