package predictor

import (
	"sync"

	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
)

//Predictions contains the current gtfs.TripUpdate of each vehicle and provides thread safe access to them.
//A vehicle's TripUpdate is always replaced as a whole
type Predictions struct {
	mu        sync.RWMutex
	byVehicle map[string]*gtfs.TripUpdate
}

//NewPredictions builds an empty Predictions
func NewPredictions() *Predictions {
	return &Predictions{byVehicle: make(map[string]*gtfs.TripUpdate)}
}

//Put stores update as the vehicle's predictions, discards it if Predictions already contains a newer update for
//the vehicle
func (p *Predictions) Put(update *gtfs.TripUpdate) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if current, present := p.byVehicle[update.VehicleId]; present && current.Timestamp > update.Timestamp {
		return false
	}
	p.byVehicle[update.VehicleId] = update
	return true
}

//Get returns the predictions of vehicleId
func (p *Predictions) Get(vehicleId string) (*gtfs.TripUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	update, present := p.byVehicle[vehicleId]
	return update, present
}

//Remove deletes the predictions of vehicleIds, returns how many were removed
func (p *Predictions) Remove(vehicleIds ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for _, vehicleId := range vehicleIds {
		if _, present := p.byVehicle[vehicleId]; present {
			delete(p.byVehicle, vehicleId)
			removed++
		}
	}
	return removed
}

//Snapshot returns the current TripUpdates keyed by vehicle id
func (p *Predictions) Snapshot() map[string]*gtfs.TripUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make(map[string]*gtfs.TripUpdate, len(p.byVehicle))
	for vehicleId, update := range p.byVehicle {
		result[vehicleId] = update
	}
	return result
}

//Len returns the number of vehicles with predictions
func (p *Predictions) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byVehicle)
}
