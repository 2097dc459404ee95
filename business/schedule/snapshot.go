package schedule

import (
	"sync/atomic"
	"time"

	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/spatial"
)

// Snapshot is an immutable version of the schedule along with the spatial index of its shapes.
// Nothing reachable from a Snapshot is modified after it is built
type Snapshot struct {
	Version  int64
	Source   string
	LoadedAt time.Time
	// Location service dates are calculated in
	Location *time.Location

	trips        map[string]*Trip
	tripsByShape map[string][]*Trip
	tripsByBlock map[string][]*Trip
	services     map[string]*Service
	index        *spatial.Index
}

// Trip returns the trip with tripId
func (s *Snapshot) Trip(tripId string) (*Trip, bool) {
	trip, ok := s.trips[tripId]
	return trip, ok
}

// TripCount is the number of trips in the Snapshot
func (s *Snapshot) TripCount() int {
	return len(s.trips)
}

// Index returns the spatial index of the Snapshot's shapes
func (s *Snapshot) Index() *spatial.Index {
	return s.index
}

// ServiceRunsOn returns true if serviceId operates on serviceDate
func (s *Snapshot) ServiceRunsOn(serviceId string, serviceDate time.Time) bool {
	return s.services[serviceId].RunsOn(serviceDate)
}

// ServiceDates returns the service dates which may have trips operating at "at", the previous day
// is included for trips running past midnight
func (s *Snapshot) ServiceDates(at time.Time) []time.Time {
	today := gtfs.Get12AmTime(at.In(s.Location))
	return []time.Time{today.AddDate(0, 0, -1), today, today.AddDate(0, 0, 1)}
}

// ActiveTripInstances returns the instances of trips on shapeId running at "at", where the trip's scheduled
// start less early and end plus late includes "at"
func (s *Snapshot) ActiveTripInstances(shapeId string, at time.Time, early, late time.Duration) []TripInstance {
	var result []TripInstance
	trips := s.tripsByShape[shapeId]
	if len(trips) == 0 {
		return result
	}
	for _, serviceDate := range s.ServiceDates(at) {
		for _, trip := range trips {
			instance := TripInstance{Trip: trip, ServiceDate: serviceDate}
			if !instanceCovers(instance, at, early, late) {
				continue
			}
			if !s.ServiceRunsOn(trip.ServiceId, serviceDate) {
				continue
			}
			result = append(result, instance)
		}
	}
	return result
}

func instanceCovers(instance TripInstance, at time.Time, early, late time.Duration) bool {
	return !at.Before(instance.Start().Add(-early)) && !at.After(instance.End().Add(late))
}

// TripInstance returns the instance of tripId on serviceDate, false if the trip is unknown or does not operate
func (s *Snapshot) TripInstance(tripId string, serviceDate time.Time) (TripInstance, bool) {
	trip, ok := s.trips[tripId]
	if !ok {
		return TripInstance{}, false
	}
	serviceDate = gtfs.Get12AmTime(serviceDate.In(s.Location))
	if !s.ServiceRunsOn(trip.ServiceId, serviceDate) {
		return TripInstance{}, false
	}
	return TripInstance{Trip: trip, ServiceDate: serviceDate}, true
}

// FindTripInstance returns the instance of tripId running at "at" using the same window as ActiveTripInstances
func (s *Snapshot) FindTripInstance(tripId string, at time.Time, early, late time.Duration) (TripInstance, bool) {
	trip, ok := s.trips[tripId]
	if !ok {
		return TripInstance{}, false
	}
	for _, serviceDate := range s.ServiceDates(at) {
		instance := TripInstance{Trip: trip, ServiceDate: serviceDate}
		if instanceCovers(instance, at, early, late) && s.ServiceRunsOn(trip.ServiceId, serviceDate) {
			return instance, true
		}
	}
	return TripInstance{}, false
}

// NextTripInBlock returns the trip scheduled to follow instance in its block on the same service date
func (s *Snapshot) NextTripInBlock(instance TripInstance) (TripInstance, bool) {
	if instance.Trip == nil || instance.Trip.BlockId == "" {
		return TripInstance{}, false
	}
	found := false
	for _, trip := range s.tripsByBlock[instance.Trip.BlockId] {
		if found {
			if s.ServiceRunsOn(trip.ServiceId, instance.ServiceDate) {
				return TripInstance{Trip: trip, ServiceDate: instance.ServiceDate}, true
			}
			continue
		}
		found = trip.TripId == instance.Trip.TripId
	}
	return TripInstance{}, false
}

// Reference holds the current Snapshot. Readers always see a complete Snapshot, a reload replaces it atomically
type Reference struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the loaded Snapshot or ErrNotLoaded
func (r *Reference) Current() (*Snapshot, error) {
	snapshot := r.current.Load()
	if snapshot == nil {
		return nil, ErrNotLoaded
	}
	return snapshot, nil
}

// Swap installs snapshot and returns the previous one, which may be nil
func (r *Reference) Swap(snapshot *Snapshot) *Snapshot {
	return r.current.Swap(snapshot)
}

// Version returns the version of the current Snapshot, 0 if none is loaded
func (r *Reference) Version() int64 {
	snapshot := r.current.Load()
	if snapshot == nil {
		return 0
	}
	return snapshot.Version
}
