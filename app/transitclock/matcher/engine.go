// Package matcher assigns vehicles to the trips they are operating by comparing their reports to the schedule
package matcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/vehiclestate"
	"github.com/OpenTransitTools/transitclock/business/data/avl"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/OpenTransitTools/transitclock/business/spatial"
	"github.com/OpenTransitTools/transitclock/foundation/clock"
)

var (
	//ErrOutOfOrder is returned for a report that is not newer than the vehicle's last accepted report
	ErrOutOfOrder = errors.New("report out of order")
	//ErrImplausibleJump is returned for a report too far from the previous report to have been driven
	ErrImplausibleJump = errors.New("implausible jump")
)

//Outcome of processing a report
type Outcome int

const (
	OutcomeUnmatched Outcome = iota
	//OutcomeContinued the vehicle remains on the same trip instance
	OutcomeContinued
	//OutcomeMatched the vehicle is on a different trip instance than before
	OutcomeMatched
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinued:
		return "continued"
	case OutcomeMatched:
		return "matched"
	}
	return "unmatched"
}

//Result of processing a report
type Result struct {
	Outcome Outcome
	State   *vehiclestate.State
	//Transition is set when the vehicle left a trip instance
	Transition *vehiclestate.TripTransition
	//StopPasses are the stops passed since the previous report
	StopPasses []vehiclestate.StopPass
	//Candidates considered, best first
	Candidates []Candidate
}

//Engine matches reports to trips and updates the vehicle states in a vehiclestate.Store
type Engine struct {
	cfg       Config
	weights   Weights
	schedules *schedule.Reference
	store     *vehiclestate.Store
	clock     clock.Clock
}

//NewEngine builds an Engine
func NewEngine(cfg Config, schedules *schedule.Reference, store *vehiclestate.Store, clk clock.Clock) *Engine {
	return &Engine{
		cfg:       cfg,
		weights:   cfg.scoringWeights(),
		schedules: schedules,
		store:     store,
		clock:     clk,
	}
}

//Process matches report to a trip and stores the vehicle's new state.
//returns avl.ErrMalformed, schedule.ErrNotLoaded, ErrOutOfOrder or ErrImplausibleJump when the report is rejected,
//in which case the vehicle's state is unchanged
func (e *Engine) Process(ctx context.Context, report avl.Report) (Result, error) {
	if err := report.Validate(); err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	snapshot, err := e.schedules.Current()
	if err != nil {
		return Result{}, err
	}

	var result Result
	_, err = e.store.Update(report.VehicleId, func(current *vehiclestate.State) (*vehiclestate.State, error) {
		var matchErr error
		result, matchErr = e.match(snapshot, current, report)
		if matchErr != nil {
			return nil, matchErr
		}
		return result.State, nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

func (e *Engine) match(snapshot *schedule.Snapshot, current *vehiclestate.State, report avl.Report) (Result, error) {
	if err := e.checkProgression(current, report); err != nil {
		return Result{}, err
	}
	candidates := make([]Candidate, 0)
	if sticky, ok := e.stickyCandidate(snapshot, current, report); ok {
		sticky.Score = Score(sticky, e.weights)
		candidates = append(candidates, sticky)
		//a confident continuation of the current trip skips the search for other trips
		if sticky.Score >= e.cfg.MinConfidence {
			result := e.nextState(snapshot, current, report, &candidates[0])
			result.Candidates = candidates
			return result, nil
		}
	}
	candidates = append(candidates, e.rederiveCandidates(snapshot, current, report)...)
	for i := range candidates {
		candidates[i].Score = Score(candidates[i], e.weights)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return better(&candidates[i], &candidates[j])
	})

	var best *Candidate
	if len(candidates) > 0 && candidates[0].Score >= e.cfg.MinConfidence {
		best = &candidates[0]
	}
	result := e.nextState(snapshot, current, report, best)
	result.Candidates = candidates
	return result, nil
}

//checkProgression rejects reports older than the last accepted report and reports which jump too far too fast
func (e *Engine) checkProgression(current *vehiclestate.State, report avl.Report) error {
	last, ok := current.LastReport()
	if !ok {
		return nil
	}
	if !report.Timestamp.After(last.Timestamp) {
		return fmt.Errorf("%w: vehicle %s report at %s is not after %s", ErrOutOfOrder, report.VehicleId,
			report.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
	}
	elapsed := report.Timestamp.Sub(last.Timestamp)
	if e.cfg.JumpCheckWindow <= 0 || elapsed > e.cfg.JumpCheckWindow {
		return nil
	}
	meters := spatial.Distance(last.Latitude, last.Longitude, report.Latitude, report.Longitude)
	if meters/elapsed.Seconds() > e.cfg.MaxJumpSpeed {
		return fmt.Errorf("%w: vehicle %s moved %.0f meters in %s", ErrImplausibleJump, report.VehicleId,
			meters, elapsed)
	}
	return nil
}

//stickyCandidate projects report onto the vehicle's current trip, no further along than the vehicle could have driven.
//When it scores at least MinConfidence no other trips are considered
func (e *Engine) stickyCandidate(snapshot *schedule.Snapshot,
	current *vehiclestate.State,
	report avl.Report) (Candidate, bool) {
	if !current.Matched() || current.Confidence < e.cfg.StickyMinConfidence {
		return Candidate{}, false
	}
	//a report assigned to another trip or block is matched from scratch
	if (report.TripId != "" && report.TripId != current.Trip.TripId()) ||
		(report.BlockId != "" && report.BlockId != current.Trip.Trip.BlockId) {
		return Candidate{}, false
	}
	//the trip is retrieved from snapshot since the schedule may have been reloaded since the last report
	trip, ok := snapshot.Trip(current.Trip.TripId())
	if !ok || trip.Finished(current.DistanceAlongTrip) {
		return Candidate{}, false
	}
	instance := schedule.TripInstance{Trip: trip, ServiceDate: current.Trip.ServiceDate}
	last, _ := current.LastReport()
	elapsed := report.Timestamp.Sub(last.Timestamp).Seconds()
	minDistance := current.DistanceAlongTrip - e.cfg.BackwardTolerance
	maxDistance := current.DistanceAlongTrip + e.cfg.MaxSpeed*elapsed + e.cfg.SearchRadius
	projected, ok := snapshot.Index().ProjectOnShape(trip.ShapeId, report.Latitude, report.Longitude,
		minDistance, maxDistance)
	if !ok || projected.Distance > e.cfg.SearchRadius {
		return Candidate{}, false
	}
	return e.newCandidate(Sticky, instance, projected, current, report), true
}

//rederiveCandidates finds trips operating on shapes near report
func (e *Engine) rederiveCandidates(snapshot *schedule.Snapshot,
	current *vehiclestate.State,
	report avl.Report) []Candidate {
	result := make([]Candidate, 0)
	var nextInBlock schedule.TripInstance
	currentFinished := false
	if current.Matched() {
		nextInBlock, _ = snapshot.NextTripInBlock(current.Trip)
		currentFinished = current.Trip.Trip.Finished(current.DistanceAlongTrip)
	}

	for _, nearby := range snapshot.Index().NearestSegments(report.Latitude, report.Longitude, report.Heading) {
		instances := snapshot.ActiveTripInstances(nearby.Segment.ShapeId, report.Timestamp, e.cfg.EarlySlack,
			e.cfg.LateSlack)
		for _, instance := range instances {
			if report.BlockId != "" && instance.Trip.BlockId != report.BlockId {
				continue
			}
			if report.TripId != "" && instance.Trip.TripId != report.TripId {
				continue
			}
			sameTrip := current.Matched() && instance.Same(current.Trip)
			if sameTrip && currentFinished {
				continue
			}
			candidate := e.newCandidate(Rederive, instance, nearby, current, report)
			if !sameTrip && instance.Trip.Finished(candidate.DistanceAlongTrip) {
				continue
			}
			candidate.BlockContinuation = !nextInBlock.IsZero() && instance.Same(nextInBlock)
			result = append(result, candidate)
		}
	}
	return result
}

//newCandidate builds a Candidate from a projection onto instance's shape.
//A candidate on the vehicle's current trip never moves the vehicle backwards
func (e *Engine) newCandidate(kind CandidateKind,
	instance schedule.TripInstance,
	projected spatial.Candidate,
	current *vehiclestate.State,
	report avl.Report) Candidate {
	distance := projected.DistanceAlongShape
	//a vehicle within StationaryDistance of the last stop has arrived there
	if lastStop := instance.Trip.LastStopDistance(); distance < lastStop && distance >= lastStop-e.cfg.StationaryDistance {
		distance = lastStop
	}
	if current.Matched() && instance.Same(current.Trip) && distance < current.DistanceAlongTrip {
		distance = current.DistanceAlongTrip
	}
	candidate := Candidate{
		Kind:              kind,
		Trip:              instance,
		DistanceAlongTrip: distance,
		Distance:          projected.Distance,
		ScheduleDeviation: report.Timestamp.Sub(instance.ScheduledTimeAt(distance)),
	}
	if report.Heading != nil && projected.Segment != nil && projected.Segment.Length > 0 {
		delta := spatial.HeadingDelta(*report.Heading, projected.Segment.Bearing)
		candidate.HeadingDelta = &delta
	}
	return candidate
}

//nextState builds the vehicle's State after report, matched to best or unmatched when best is nil
func (e *Engine) nextState(snapshot *schedule.Snapshot,
	current *vehiclestate.State,
	report avl.Report,
	best *Candidate) Result {
	var history []avl.Report
	var previous schedule.TripInstance
	if current != nil {
		history = current.History
		previous = current.Trip
	}
	next := &vehiclestate.State{
		VehicleId:       report.VehicleId,
		History:         vehiclestate.WithReport(history, report),
		LowConfidence:   report.Latency() > e.cfg.StaleAfter,
		LastReportTime:  report.Timestamp,
		LastUpdate:      e.clock.Now(),
		StationarySince: e.stationarySince(current, report),
		SnapshotVersion: snapshot.Version,
	}
	result := Result{Outcome: OutcomeUnmatched, State: next}

	if best != nil {
		trip := best.Trip.Trip
		next.Trip = best.Trip
		next.DistanceAlongTrip = best.DistanceAlongTrip
		next.NextStopIndex = trip.NextStopIndex(best.DistanceAlongTrip)
		next.Confidence = best.Score
		adherence := best.ScheduleDeviation
		next.ScheduleAdherence = &adherence
		if !previous.IsZero() && previous.Same(best.Trip) {
			result.Outcome = OutcomeContinued
			last, _ := current.LastReport()
			result.StopPasses = e.stopPasses(trip, current.DistanceAlongTrip, best.DistanceAlongTrip,
				last.Timestamp, report.Timestamp)
			passes := make([]vehiclestate.StopPass, 0, len(current.StopPasses)+len(result.StopPasses))
			passes = append(passes, current.StopPasses...)
			next.StopPasses = append(passes, result.StopPasses...)
		} else {
			result.Outcome = OutcomeMatched
		}
		next.Delayed = e.delayed(next, report)
	}

	if !previous.IsZero() && !previous.Same(next.Trip) {
		result.Transition = &vehiclestate.TripTransition{
			VehicleId:  report.VehicleId,
			From:       previous,
			To:         next.Trip,
			StopPasses: current.StopPasses,
			At:         report.Timestamp,
		}
	}
	return result
}

//stopPasses returns the stops on trip passed moving from fromDistance to toDistance, with pass times interpolated
//between fromTime and toTime by distance
func (e *Engine) stopPasses(trip *schedule.Trip,
	fromDistance, toDistance float64,
	fromTime, toTime time.Time) []vehiclestate.StopPass {
	passes := make([]vehiclestate.StopPass, 0)
	first := trip.NextStopIndex(fromDistance)
	last := trip.NextStopIndex(toDistance)
	span := toDistance - fromDistance
	elapsed := float64(toTime.Sub(fromTime))
	for i := first; i < last; i++ {
		stop := &trip.StopPaths[i]
		fraction := 1.0
		if span > 0 {
			fraction = unit((stop.DistanceAlongTrip - fromDistance) / span)
		}
		passes = append(passes, vehiclestate.StopPass{
			StopId:       stop.StopId,
			StopSequence: stop.StopSequence,
			StopIndex:    i,
			Time:         fromTime.Add(time.Duration(fraction * elapsed)).Round(time.Millisecond),
			Observed: math.Abs(stop.DistanceAlongTrip-fromDistance) <= e.cfg.StationaryDistance ||
				math.Abs(toDistance-stop.DistanceAlongTrip) <= e.cfg.StationaryDistance,
		})
	}
	return passes
}

//stationarySince returns when the vehicle stopped moving, nil if it moved more than StationaryDistance since
//the last report
func (e *Engine) stationarySince(current *vehiclestate.State, report avl.Report) *time.Time {
	last, ok := current.LastReport()
	if !ok {
		return nil
	}
	if spatial.Distance(last.Latitude, last.Longitude, report.Latitude, report.Longitude) > e.cfg.StationaryDistance {
		return nil
	}
	if current.StationarySince != nil {
		return current.StationarySince
	}
	since := last.Timestamp
	return &since
}

//delayed returns true when a matched vehicle has been stationary for DelayedAfter somewhere other than the
//start or end of its trip
func (e *Engine) delayed(state *vehiclestate.State, report avl.Report) bool {
	if state.StationarySince == nil || !state.Matched() {
		return false
	}
	if state.NextStopIndex == 0 || state.NextStopIndex >= len(state.Trip.Trip.StopPaths) {
		return false
	}
	return report.Timestamp.Sub(*state.StationarySince) >= e.cfg.DelayedAfter
}
