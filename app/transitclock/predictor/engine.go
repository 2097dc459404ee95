// Package predictor predicts when vehicles will arrive at and depart from the remaining stops of their trips and
// learns segment travel times from completed trips
package predictor

import (
	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/gtfs"
	"github.com/OpenTransitTools/transitclock/business/schedule"
)

//Engine keeps the Predictions of every matched vehicle current
type Engine struct {
	cfg         Config
	schedules   *schedule.Reference
	travelTimes *TravelTimes
	predictions *Predictions
	dayTypes    *DayTypes
}

//NewEngine builds an Engine
func NewEngine(cfg Config, schedules *schedule.Reference, travelTimes *TravelTimes, predictions *Predictions) *Engine {
	return &Engine{
		cfg:         cfg,
		schedules:   schedules,
		travelTimes: travelTimes,
		predictions: predictions,
		dayTypes:    NewDayTypes(),
	}
}

//Predictions returns the current predictions of every vehicle
func (e *Engine) Predictions() *Predictions {
	return e.predictions
}

//Recompute replaces the predictions of the vehicle in state.
//The vehicle's predictions are removed when it is unmatched or its trip is no longer in the schedule.
//returns the new predictions, false if they were removed
func (e *Engine) Recompute(state *vehiclestate.State) (*gtfs.TripUpdate, bool) {
	if !state.Matched() {
		e.predictions.Remove(state.VehicleId)
		return nil, false
	}
	snapshot, err := e.schedules.Current()
	if err != nil {
		e.predictions.Remove(state.VehicleId)
		return nil, false
	}
	instance, ok := snapshot.TripInstance(state.Trip.TripId(), state.Trip.ServiceDate)
	if !ok {
		e.predictions.Remove(state.VehicleId)
		return nil, false
	}
	update := Predict(state, instance, e.travelTimes, e.dayTypes.At(instance.ServiceDate), e.cfg)
	e.predictions.Put(update)
	return update, true
}

//TripCompleted learns travel times from the stops passed on the trip a vehicle left.
//returns the traversals observed and how many were discarded as outliers
func (e *Engine) TripCompleted(transition *vehiclestate.TripTransition) (traversals []Traversal, rejected int) {
	if transition == nil || transition.From.IsZero() {
		return nil, 0
	}
	traversals = Traversals(transition.From, transition.StopPasses, e.dayTypes.At(transition.From.ServiceDate))
	for _, traversal := range traversals {
		if !e.travelTimes.Observe(traversal.Key, traversal.ScheduledSeconds, traversal.ObservedSeconds,
			traversal.ArrivedAt) {
			rejected++
		}
	}
	return traversals, rejected
}

//Retract removes the predictions of vehicleIds, returns how many vehicles had predictions
func (e *Engine) Retract(vehicleIds ...string) int {
	return e.predictions.Remove(vehicleIds...)
}
