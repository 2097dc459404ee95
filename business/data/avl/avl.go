// Package avl contains the automatic vehicle location report consumed by the matcher and the decoders
// for the formats reports arrive in.
package avl

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrMalformed is wrapped by every error returned for a report that can not be used
var ErrMalformed = errors.New("malformed avl report")

var vehicleIdPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:\-]{0,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("vehicleid", func(fl validator.FieldLevel) bool {
		return vehicleIdPattern.MatchString(fl.Field().String())
	})
	return v
}

// Report is a single position sample from a vehicle.
// Reports are values and are never modified once received
type Report struct {
	VehicleId string    `json:"vehicle_id" validate:"vehicleid"`
	Timestamp time.Time `json:"timestamp"`
	Latitude  float64   `json:"latitude" validate:"latitude"`
	Longitude float64   `json:"longitude" validate:"longitude"`
	// Heading in degrees clockwise from north, nil when unknown
	Heading *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lt=360"`
	// Speed in meters per second, nil when unknown
	Speed    *float64 `json:"speed,omitempty" validate:"omitempty,gte=0"`
	Odometer *float64 `json:"odometer,omitempty"`
	BlockId  string   `json:"block_id,omitempty"`
	// TripId is the trip the vehicle has been assigned to by the source, if any
	TripId     string    `json:"trip_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	Source     string    `json:"source,omitempty"`
}

// Validate returns an error wrapping ErrMalformed when the report can not be matched
func (r *Report) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: vehicle %q has no timestamp", ErrMalformed, r.VehicleId)
	}
	if math.IsNaN(r.Latitude) || math.IsNaN(r.Longitude) {
		return fmt.Errorf("%w: vehicle %q has NaN coordinates", ErrMalformed, r.VehicleId)
	}
	if err := validate.Struct(r); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]string, 0, len(validationErrors))
			for _, fieldError := range validationErrors {
				fields = append(fields, fieldError.Field())
			}
			return fmt.Errorf("%w: vehicle %q invalid %s", ErrMalformed, r.VehicleId, strings.Join(fields, ","))
		}
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

// Latency is how long after the vehicle reported the position it was received
func (r *Report) Latency() time.Duration {
	if r.ReceivedAt.IsZero() {
		return 0
	}
	return r.ReceivedAt.Sub(r.Timestamp)
}

func (r Report) String() string {
	return fmt.Sprintf("Report{vehicle:%s at:%s lat:%.6f lon:%.6f block:%s trip:%s}",
		r.VehicleId, r.Timestamp.Format(time.RFC3339), r.Latitude, r.Longitude, r.BlockId, r.TripId)
}

// DecodeJSON reads a Report from a json message, receivedAt and source are applied when the message omits them
func DecodeJSON(data []byte, receivedAt time.Time, source string) (Report, error) {
	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return report, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if report.ReceivedAt.IsZero() {
		report.ReceivedAt = receivedAt
	}
	if report.Source == "" {
		report.Source = source
	}
	return report, nil
}
