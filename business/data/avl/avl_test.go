package avl

import (
	"errors"
	"math"
	"testing"
	"time"

	gtfsrt "github.com/OneBusAway/go-gtfs/proto"
	"github.com/matryer/is"
	"google.golang.org/protobuf/proto"
)

var reportTime = time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)

func validReport() Report {
	return Report{
		VehicleId:  "bus-101",
		Timestamp:  reportTime,
		Latitude:   45.5,
		Longitude:  -122.6,
		Heading:    float64Ptr(90),
		Speed:      float64Ptr(8),
		ReceivedAt: reportTime.Add(2 * time.Second),
	}
}

func TestReport_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(r *Report)
		wantErr bool
	}{
		{name: "valid report", modify: func(r *Report) {}},
		{name: "heading and speed optional", modify: func(r *Report) {
			r.Heading = nil
			r.Speed = nil
		}},
		{name: "empty vehicle id", modify: func(r *Report) { r.VehicleId = "" }, wantErr: true},
		{name: "vehicle id with spaces", modify: func(r *Report) { r.VehicleId = "bus 101" }, wantErr: true},
		{name: "zero timestamp", modify: func(r *Report) { r.Timestamp = time.Time{} }, wantErr: true},
		{name: "NaN latitude", modify: func(r *Report) { r.Latitude = math.NaN() }, wantErr: true},
		{name: "latitude out of range", modify: func(r *Report) { r.Latitude = 91 }, wantErr: true},
		{name: "longitude out of range", modify: func(r *Report) { r.Longitude = -181 }, wantErr: true},
		{name: "negative speed", modify: func(r *Report) { r.Speed = float64Ptr(-1) }, wantErr: true},
		{name: "heading of 360", modify: func(r *Report) { r.Heading = float64Ptr(360) }, wantErr: true},
		{name: "zero heading", modify: func(r *Report) { r.Heading = float64Ptr(0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := validReport()
			tt.modify(&report)
			err := report.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrMalformed) {
					t.Errorf("Validate() error = %v, want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestReport_Latency(t *testing.T) {
	is := is.New(t)
	report := validReport()
	is.Equal(report.Latency(), 2*time.Second)
	report.ReceivedAt = time.Time{}
	is.Equal(report.Latency(), time.Duration(0))
}

func TestDecodeJSON(t *testing.T) {
	is := is.New(t)
	received := reportTime.Add(time.Second)
	report, err := DecodeJSON([]byte(`{"vehicle_id":"v1","timestamp":"2024-03-04T08:00:00Z",
		"latitude":45.1,"longitude":-122.2,"heading":180,"block_id":"b1"}`), received, "nats")
	is.NoErr(err)
	is.Equal(report.VehicleId, "v1")
	is.True(report.Timestamp.Equal(reportTime))
	is.Equal(*report.Heading, 180.0)
	is.True(report.Speed == nil)
	is.Equal(report.BlockId, "b1")
	is.Equal(report.ReceivedAt, received)
	is.Equal(report.Source, "nats")
	is.NoErr(report.Validate())

	_, err = DecodeJSON([]byte(`{"vehicle_id":`), received, "nats")
	is.True(errors.Is(err, ErrMalformed))
}

func TestParseVehiclePositions(t *testing.T) {
	is := is.New(t)
	feed := &gtfsrt.FeedMessage{
		Header: &gtfsrt.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(uint64(reportTime.Unix())),
		},
		Entity: []*gtfsrt.FeedEntity{
			{
				Id: proto.String("1"),
				Vehicle: &gtfsrt.VehiclePosition{
					Trip:      &gtfsrt.TripDescriptor{TripId: proto.String("t1")},
					Vehicle:   &gtfsrt.VehicleDescriptor{Id: proto.String("v1")},
					Position:  &gtfsrt.Position{Latitude: proto.Float32(45), Longitude: proto.Float32(-122), Bearing: proto.Float32(90), Speed: proto.Float32(5)},
					Timestamp: proto.Uint64(uint64(reportTime.Unix())),
				},
			},
			{
				Id: proto.String("2"),
				Vehicle: &gtfsrt.VehiclePosition{
					Vehicle:  &gtfsrt.VehicleDescriptor{Id: proto.String("v2")},
					Position: &gtfsrt.Position{Latitude: proto.Float32(45.1), Longitude: proto.Float32(-122.1)},
				},
			},
			{
				// no vehicle descriptor
				Id: proto.String("3"),
				Vehicle: &gtfsrt.VehiclePosition{
					Position: &gtfsrt.Position{Latitude: proto.Float32(45), Longitude: proto.Float32(-122)},
				},
			},
			{
				// no position
				Id:      proto.String("4"),
				Vehicle: &gtfsrt.VehiclePosition{Vehicle: &gtfsrt.VehicleDescriptor{Id: proto.String("v4")}},
			},
			{
				// not a vehicle position
				Id: proto.String("5"),
			},
		},
	}
	data, err := proto.Marshal(feed)
	is.NoErr(err)

	received := reportTime.Add(5 * time.Second)
	reports, skipped, err := ParseVehiclePositions(data, received, "poller")
	is.NoErr(err)
	is.Equal(skipped, 2)
	is.Equal(len(reports), 2)

	is.Equal(reports[0].VehicleId, "v1")
	is.Equal(reports[0].TripId, "t1")
	is.True(reports[0].Timestamp.Equal(reportTime))
	is.Equal(*reports[0].Heading, 90.0)
	is.Equal(*reports[0].Speed, 5.0)
	is.Equal(reports[0].Source, "poller")

	// timestamp defaults to the time received
	is.Equal(reports[1].VehicleId, "v2")
	is.Equal(reports[1].Timestamp, received)
	is.True(reports[1].Heading == nil)

	_, _, err = ParseVehiclePositions([]byte("not a protobuf"), received, "poller")
	is.True(err != nil)
}
